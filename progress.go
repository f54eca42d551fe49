package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/msod-stat/internal/reporter"
)

// newDriveProgress builds the ProgressReporter for one drive's sync. A
// non-tty stdout (piped to a file, redirected in CI) gets the no-op
// reporter — a redrawing status line only makes sense on a real terminal.
func newDriveProgress(driveID string) reporter.ProgressReporter {
	if flagQuiet || !isatty.IsTerminal(os.Stdout.Fd()) {
		return reporter.NoopReporter{}
	}

	return &tickerProgress{driveID: driveID}
}

// tickerProgress redraws a single stderr line with the running item count
// and byte total as Apply processes batches. SyncAll hands each drive its
// own instance, so counts never mix between drives; drives syncing
// concurrently still redraw the same stderr line in turn.
type tickerProgress struct {
	driveID string
	items   int
}

func (p *tickerProgress) Tick() {
	p.items++
}

func (p *tickerProgress) SetPosition(bytes uint64) {
	fmt.Fprintf(os.Stderr, "\r%s: %d items, %s", p.driveID, p.items, humanize.Bytes(bytes))
}

func (p *tickerProgress) Finish() {
	fmt.Fprintf(os.Stderr, "\r%s: %d items, done.\n", p.driveID, p.items)
}
