// Package model defines the synchronized item types and the in-memory
// drive mirror (DriveState) plus its durable form (DriveSnapshot).
package model

import "fmt"

// DriveType identifies the OneDrive account tier an item's parent lives on.
// The duplicate bucketer selects a hash algorithm based on this value.
type DriveType string

const (
	DriveTypePersonal        DriveType = "personal"
	DriveTypeBusiness        DriveType = "business"
	DriveTypeDocumentLibrary DriveType = "documentLibrary"
)

// Parent describes an item's containing folder. Path is absent for items
// whose parent was itself deleted before this item was observed.
type Parent struct {
	Path      string
	DriveType DriveType
}

// ItemKind discriminates the tagged ItemType union. A decoded Item carries
// File, Folder or Package according to its facet; the zero value marks an
// item whose JSON had none of the three facets.
type ItemKind int

const (
	KindFile ItemKind = iota + 1
	KindFolder
	KindPackage
)

func (k ItemKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindPackage:
		return "package"
	default:
		return "unknown"
	}
}

// Hashes holds the content fingerprints the Graph API reports for a file.
// OneNote packages and some business-tier files report neither.
type Hashes struct {
	SHA1     string
	QuickXor string
}

// ItemType is the tagged union over File/Folder/Package. Only the fields
// relevant to the active Kind are meaningful — mirrors the Graph API's
// "exactly one of file/folder/package" facet contract.
type ItemType struct {
	Kind     ItemKind
	MimeType string  // File only
	Hashes   *Hashes // File only; nil when the API omitted hashes
}

// Item is the unit of synchronization — one row of a drive's delta feed.
type Item struct {
	ID       string
	Name     string
	Size     uint64 // 0 for deleted or non-file items
	Parent   *Parent
	ItemType ItemType
	Deleted  bool
}

// IsFile reports whether this item occupies space counted in DriveState.size.
func (i Item) IsFile() bool {
	return i.ItemType.Kind == KindFile
}

// DriveState is the in-memory mirror of one drive's item set. size is a
// running cached aggregate, not recomputed on each mutation — invariant S1
// requires it always equal the sum of sizes of file-typed items in Items.
type DriveState struct {
	Items map[string]Item
	Size  uint64
}

// NewDriveState returns an empty DriveState ready for Reset/Upsert/Delete.
func NewDriveState() DriveState {
	return DriveState{Items: make(map[string]Item)}
}

// Reset empties the state, as required when the Fetcher signals a cursor
// restart: batches already applied before the reset must be forgotten.
func (s *DriveState) Reset() uint64 {
	s.Items = make(map[string]Item)
	s.Size = 0

	return s.Size
}

// Upsert inserts or replaces item under its id. If item is a file, its size
// is added to Size before insertion; if a previous value existed and was a
// file, its size is subtracted afterward. The add-then-subtract order (never
// the reverse) keeps Size within the legal range of the sequence even when a
// file is replaced by another file of a different size.
func (s *DriveState) Upsert(item Item) uint64 {
	if s.Items == nil {
		s.Items = make(map[string]Item)
	}

	if item.IsFile() {
		s.Size += item.Size
	}

	prev, existed := s.Items[item.ID]
	s.Items[item.ID] = item

	if existed && prev.IsFile() {
		if prev.Size > s.Size {
			panic(fmt.Sprintf("model: DriveState invariant violated: removing previous size %d exceeds total %d", prev.Size, s.Size))
		}

		s.Size -= prev.Size
	}

	return s.Size
}

// Delete removes item by id. If the removed value was a file, its size is
// subtracted from Size under the same invariant-protecting assertion as
// Upsert.
func (s *DriveState) Delete(item Item) uint64 {
	prev, existed := s.Items[item.ID]
	if !existed {
		return s.Size
	}

	delete(s.Items, item.ID)

	if prev.IsFile() {
		if prev.Size > s.Size {
			panic(fmt.Sprintf("model: DriveState invariant violated: removing previous size %d exceeds total %d", prev.Size, s.Size))
		}

		s.Size -= prev.Size
	}

	return s.Size
}

// DriveSnapshot is the durable unit: the server-side cursor plus the mirror
// it produced. Persisted atomically at the end of each successful sync.
type DriveSnapshot struct {
	DeltaLink string
	State     DriveState
}

// bootstrapPrefix and bootstrapSuffix compose the initial delta URL used
// when no persisted cursor exists — the "$select" clause pins the fields
// the Fetcher actually decodes, keeping pages small.
const (
	bootstrapPrefix = "https://graph.microsoft.com/v1.0/me/drives/"
	bootstrapSuffix = "/root/delta?select=id,name,size,parentReference,file,folder,package,deleted"
)

// DefaultDriveSnapshot constructs the bootstrap snapshot for a drive that
// has never been synced — an empty state whose delta_link names the full
// (unfiltered) enumeration URL.
func DefaultDriveSnapshot(driveID string) DriveSnapshot {
	return DriveSnapshot{
		DeltaLink: bootstrapPrefix + driveID + bootstrapSuffix,
		State:     NewDriveState(),
	}
}
