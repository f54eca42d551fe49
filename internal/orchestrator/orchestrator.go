// Package orchestrator ties the delta pipeline, snapshot cache, and
// duplicate bucketer together into one drive's sync-and-report cycle, and
// fans that cycle out across every drive in the account.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/msod-stat/internal/bucket"
	"github.com/tonimelisma/msod-stat/internal/delta"
	"github.com/tonimelisma/msod-stat/internal/graph"
	"github.com/tonimelisma/msod-stat/internal/model"
	"github.com/tonimelisma/msod-stat/internal/reporter"
	"github.com/tonimelisma/msod-stat/internal/snapshot"
)

// messageBufferSize bounds the channel between Fetcher and Applier.
// spec.md §5 specifies an unbounded channel; Go has no unbounded channel
// primitive, so a small fixed buffer stands in for it — the Fetcher still
// blocks on send once full, which is exactly the backpressure spec.md
// describes (pages are fetched no faster than the previous one is
// delivered).
const messageBufferSize = 4

// Sync runs one drive's full pipeline: load snapshot (or bootstrap), run
// Fetcher+Applier to completion, persist the updated snapshot, and bucket
// duplicates from the resulting item map. A panic anywhere in the pipeline
// is recovered and surfaced as DriveReport.Err instead of aborting the
// whole multi-drive run — the join-point panic-to-error conversion of
// spec.md §4.6 step 4 and §9's Design Notes.
func Sync(
	ctx context.Context, client delta.DeltaClient, driveID, displayName, cacheDir string,
	progress reporter.ProgressReporter, logger *slog.Logger,
) (report reporter.DriveReport) {
	if logger == nil {
		logger = slog.Default()
	}

	if progress == nil {
		progress = reporter.NoopReporter{}
	}

	report.DriveID = driveID
	report.DisplayName = displayName

	defer func() {
		if r := recover(); r != nil {
			report.Err = fmt.Errorf("orchestrator: panic syncing drive %s: %v", driveID, r)
		}
	}()

	store := snapshot.New[model.DriveSnapshot](snapshot.CachePath(cacheDir, driveID), logger)

	snap, found := store.Load()
	if !found {
		snap = model.DefaultDriveSnapshot(driveID)

		logger.Info("no cached snapshot, bootstrapping full enumeration", slog.String("drive_id", driveID))
	}

	resetLink := model.DefaultDriveSnapshot(driveID).DeltaLink

	fetcher := delta.NewFetcher(client, resetLink, logger)
	messages := make(chan delta.Message, messageBufferSize)

	var (
		newDeltaLink string
		fetchErr     error
	)

	go func() {
		defer close(messages)
		defer func() {
			if r := recover(); r != nil {
				fetchErr = fmt.Errorf("orchestrator: fetcher panic: %v", r)
			}
		}()

		newDeltaLink, fetchErr = fetcher.Run(ctx, snap.DeltaLink, messages)
	}()

	// Applier runs on this goroutine — the calling goroutine exclusively
	// owns DriveState for the duration of the sync (spec.md §5).
	delta.Apply(&snap.State, messages, progress)

	if fetchErr != nil {
		report.Err = fmt.Errorf("syncing drive %s: %w", driveID, fetchErr)

		return report
	}

	snap.DeltaLink = newDeltaLink

	if err := store.Save(snap); err != nil {
		logger.Error("snapshot: save failed",
			slog.String("drive_id", driveID),
			slog.String("error", err.Error()),
		)
	}

	report.ItemCount = len(snap.State.Items)
	report.TotalSize = snap.State.Size
	report.Bucket = bucket.BucketBySize(snap.State.Items, logger)

	return report
}

// SyncAll fans Sync out across every drive concurrently. This is additive
// to spec.md, which specifies only the single-drive pipeline — a failure
// or panic in one drive's Sync never affects another's, matching the
// independent-runner shape of the teacher's drive orchestration.
// newProgress, when non-nil, is called once per drive to build that drive's
// own ProgressReporter — concurrent drives never share one, since
// interleaved writes to a single progress bar would garble it.
func SyncAll(
	ctx context.Context, client delta.DeltaClient, drives []graph.Drive, cacheDir string,
	newProgress func(driveID string) reporter.ProgressReporter, logger *slog.Logger,
) []reporter.DriveReport {
	reports := make([]reporter.DriveReport, len(drives))

	var g errgroup.Group

	for i, d := range drives {
		g.Go(func() error {
			var progress reporter.ProgressReporter
			if newProgress != nil {
				progress = newProgress(d.ID.String())
			}

			reports[i] = Sync(ctx, client, d.ID.String(), d.Name, cacheDir, progress, logger)

			return nil
		})
	}

	_ = g.Wait()

	return reports
}
