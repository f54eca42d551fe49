// Package snapshot provides durable, atomic, type-safe persistence for a
// single value at an optional filesystem path — the local cache behind
// each drive's DriveSnapshot.
package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// dirPerms restricts the cache directory to owner-only access, matching
// tokenfile's permission model for sensitive per-user state.
const dirPerms = 0o700

// version is encoded in the cache filename. Bumping it silently orphans
// files written by a previous schema generation instead of attempting a
// migration — spec.md §3's "destroyed when the format version is bumped".
const version = 1

// CachePath returns the versioned cache file path for a drive inside
// cacheDir, e.g. ".../drive1_abcd1234....cbor".
func CachePath(cacheDir, driveID string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("drive%d_%s.cbor", version, driveID))
}

// Storage persists a single value of type T at an optional path. The type
// parameter is the phantom type of spec.md §4.4: the same logical path is
// always loaded and saved at the same Go type, so swapping types at a call
// site is a compile-time error rather than a runtime schema mismatch.
// An empty path disables persistence: Load always reports absent, Save is
// a no-op.
type Storage[T any] struct {
	path   string
	logger *slog.Logger
}

// New creates a Storage bound to path. Pass "" to disable persistence.
func New[T any](path string, logger *slog.Logger) Storage[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return Storage[T]{path: path, logger: logger}
}

// Load reads the persisted value. Returns (zero, false) when persistence is
// disabled, the file is absent, or the file fails to decode (treated as
// corrupted — logged, not surfaced as an error, so the caller bootstraps a
// fresh value instead of failing the sync).
func (s Storage[T]) Load() (T, bool) {
	var zero T

	if s.path == "" {
		return zero, false
	}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return zero, false
	}

	if err != nil {
		s.logger.Warn("snapshot: opening cache file", slog.String("path", s.path), slog.String("error", err.Error()))

		return zero, false
	}
	defer f.Close()

	var v T
	if err := cbor.NewDecoder(bufio.NewReader(f)).Decode(&v); err != nil {
		s.logger.Warn("snapshot: cache file corrupted, discarding",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return zero, false
	}

	return v, true
}

// Save persists v atomically: encode into a uniquely-named temp file in the
// same directory as the target, flush, fsync, then rename onto the target
// path. The rename is the durability primitive — a crash before it leaves
// the prior file (or none) intact; a crash after leaves the new file
// intact. Any failure before the rename removes the temp file. A no-op
// when persistence is disabled.
func (s Storage[T]) Save(v T) error {
	if s.path == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("snapshot: creating cache directory %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".snapshot-%s.tmp", uuid.NewString()))

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(f)
	if err := cbor.NewEncoder(w).Encode(v); err != nil {
		f.Close()

		return fmt.Errorf("snapshot: encoding: %w", err)
	}

	if err := w.Flush(); err != nil {
		f.Close()

		return fmt.Errorf("snapshot: flushing: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("snapshot: syncing: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("snapshot: renaming: %w", err)
	}

	success = true

	return nil
}
