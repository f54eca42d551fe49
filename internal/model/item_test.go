package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(id string, size uint64) Item {
	return Item{
		ID:   id,
		Name: id,
		Size: size,
		ItemType: ItemType{
			Kind:   KindFile,
			Hashes: &Hashes{SHA1: "H"},
		},
	}
}

func folder(id string) Item {
	return Item{
		ID:       id,
		Name:     id,
		ItemType: ItemType{Kind: KindFolder},
	}
}

func TestDriveState_UpsertAccumulatesSize(t *testing.T) {
	s := NewDriveState()

	size := s.Upsert(file("a", 10))
	assert.Equal(t, uint64(10), size)

	size = s.Upsert(file("b", 5))
	assert.Equal(t, uint64(15), size)
	assert.Len(t, s.Items, 2)
}

func TestDriveState_UpsertReplacesFileWithFile(t *testing.T) {
	s := NewDriveState()
	s.Upsert(file("a", 10))

	size := s.Upsert(file("a", 3))
	assert.Equal(t, uint64(3), size)
	assert.Len(t, s.Items, 1)
}

func TestDriveState_UpsertFileOverNonFile(t *testing.T) {
	s := NewDriveState()
	s.Upsert(folder("a"))

	size := s.Upsert(file("a", 7))
	assert.Equal(t, uint64(7), size)
}

func TestDriveState_UpsertNonFileOverFile(t *testing.T) {
	s := NewDriveState()
	s.Upsert(file("a", 7))

	size := s.Upsert(folder("a"))
	assert.Equal(t, uint64(0), size)
}

func TestDriveState_Delete(t *testing.T) {
	s := NewDriveState()
	s.Upsert(file("a", 10))
	s.Upsert(file("b", 5))

	size := s.Delete(file("a", 10))
	assert.Equal(t, uint64(5), size)
	assert.Len(t, s.Items, 1)

	// Deleting an unknown id is a no-op.
	size = s.Delete(file("nope", 99))
	assert.Equal(t, uint64(5), size)
}

func TestDriveState_Reset(t *testing.T) {
	s := NewDriveState()
	s.Upsert(file("a", 10))

	size := s.Reset()
	assert.Equal(t, uint64(0), size)
	assert.Empty(t, s.Items)
}

// TestDriveState_InvariantS1 mirrors spec property P1: after any sequence of
// upsert/delete/reset operations, Size equals the sum of file sizes present.
func TestDriveState_InvariantS1(t *testing.T) {
	s := NewDriveState()

	ops := []Item{
		file("a", 10),
		file("b", 20),
		folder("c"),
		file("a", 3),
		file("d", 1),
	}
	for _, op := range ops {
		s.Upsert(op)
	}

	s.Delete(file("b", 20))

	var want uint64
	for _, it := range s.Items {
		if it.IsFile() {
			want += it.Size
		}
	}

	assert.Equal(t, want, s.Size)
}

func TestDefaultDriveSnapshot(t *testing.T) {
	snap := DefaultDriveSnapshot("abc123")
	require.Contains(t, snap.DeltaLink, "abc123")
	assert.Contains(t, snap.DeltaLink, "/root/delta?select=")
	assert.Empty(t, snap.State.Items)
	assert.Equal(t, uint64(0), snap.State.Size)
}
