// Package bucket groups a drive's file items by byte size and content hash
// — the pure function behind duplicate reporting.
package bucket

import (
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/msod-stat/internal/model"
)

// ItemHash is the tagged content fingerprint used to key duplicates within
// a size bucket. Two files collide only if Algorithm and Value both match.
type ItemHash struct {
	Algorithm string // "sha1" or "quickxor"
	Value     string
}

// Result is the output of BucketBySize: counts plus the size→hash→paths map.
type Result struct {
	FileCount   int
	FolderCount int
	BySize      map[uint64]map[ItemHash][]string
}

// SortedSizesDescending returns the sizes present in BySize, largest first —
// iterating in this order satisfies spec.md §4.5's "duplicates largest
// first" report ergonomics.
func (r Result) SortedSizesDescending() []uint64 {
	sizes := make([]uint64, 0, len(r.BySize))
	for size := range r.BySize {
		sizes = append(sizes, size)
	}

	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })

	return sizes
}

// pathPrefix is stripped from parent.path to produce the display dirname.
const pathPrefix = "/drive/root:/"

// svnSuffix and svnMarker implement the SVN-pristine ignore policy: a file
// is ignored when its basename ends with svnSuffix and its directory
// contains svnMarker. SVN pristine copies are inherent duplicates of the
// corresponding working file and are not user-visible duplicates.
const (
	svnSuffix = ".svn-base"
	svnMarker = "/.svn/pristine/"
)

func ignorePath(dirname, basename string) bool {
	return strings.HasSuffix(basename, svnSuffix) && strings.Contains(dirname, svnMarker)
}

// BucketBySize groups every file in items by byte size then content hash.
// Folders and packages are counted but never bucketed. Files with a deleted
// parent, no hashes at all, or an SVN-pristine path are skipped silently;
// files missing the hash for their drive type, or on an unrecognized drive
// type, are skipped with a debug log — never treated as an error, per
// spec.md §4.5 and §7.
func BucketBySize(items map[string]model.Item, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	result := Result{BySize: make(map[uint64]map[ItemHash][]string)}

	for _, item := range items {
		switch item.ItemType.Kind {
		case model.KindFile:
			result.FileCount++
			bucketFile(&result, item, logger)
		case model.KindFolder, model.KindPackage:
			result.FolderCount++
		}
	}

	return result
}

// bucketFile buckets a single file, skipping it when it fails one of the
// non-bucketable conditions.
func bucketFile(result *Result, item model.Item, logger *slog.Logger) {
	if item.Parent == nil || item.Parent.Path == "" {
		return
	}

	// The ignore check uses the full parent path: after stripping pathPrefix a
	// top-level ".svn/pristine/..." dirname no longer contains svnMarker.
	if ignorePath(item.Parent.Path, item.Name) {
		return
	}

	dirname := strings.TrimPrefix(item.Parent.Path, pathPrefix)

	hash, ok := selectHash(item, logger)
	if !ok {
		return
	}

	// NFC-normalize so visually-identical Unicode names (e.g. composed vs.
	// decomposed accents from different upload clients) bucket together
	// under one display path rather than being treated as distinct strings.
	name := norm.NFC.String(dirname + "/" + item.Name)

	byHash := result.BySize[item.Size]
	if byHash == nil {
		byHash = make(map[ItemHash][]string)
		result.BySize[item.Size] = byHash
	}

	byHash[hash] = append(byHash[hash], name)
}

// selectHash picks the content fingerprint for item based on its parent's
// drive type: SHA1 on personal drives, QuickXor on business/document
// library. Returns ok=false for unrecognized drive types or when the
// selected hash field is empty (e.g. OneNote notebooks carry no hash at
// all despite being tagged as files).
func selectHash(item model.Item, logger *slog.Logger) (ItemHash, bool) {
	if item.ItemType.Hashes == nil {
		return ItemHash{}, false
	}

	switch item.Parent.DriveType {
	case model.DriveTypePersonal:
		if item.ItemType.Hashes.SHA1 == "" {
			logger.Debug("bucket: missing sha1 hash", slog.String("id", item.ID), slog.String("name", item.Name))

			return ItemHash{}, false
		}

		return ItemHash{Algorithm: "sha1", Value: item.ItemType.Hashes.SHA1}, true

	case model.DriveTypeBusiness, model.DriveTypeDocumentLibrary:
		if item.ItemType.Hashes.QuickXor == "" {
			logger.Debug("bucket: missing quickxor hash", slog.String("id", item.ID), slog.String("name", item.Name))

			return ItemHash{}, false
		}

		return ItemHash{Algorithm: "quickxor", Value: item.ItemType.Hashes.QuickXor}, true

	default:
		logger.Debug("bucket: unknown drive type",
			slog.String("id", item.ID),
			slog.String("drive_type", string(item.Parent.DriveType)),
		)

		return ItemHash{}, false
	}
}
