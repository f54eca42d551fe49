// Package reporter defines the external-collaborator interfaces the core
// exposes progress and results through, without depending on any concrete
// terminal or JSON implementation (those live in the root main package).
package reporter

import "github.com/tonimelisma/msod-stat/internal/bucket"

// ProgressReporter receives progress updates during a drive sync. Rendering
// (bar style, redraw rate, tty detection) is entirely the caller's concern —
// the core only reports position, ticks, and completion.
type ProgressReporter interface {
	SetPosition(bytes uint64)
	Tick()
	Finish()
}

// NoopReporter discards all progress updates. The zero value is ready to
// use — the default for callers with no terminal to render to.
type NoopReporter struct{}

func (NoopReporter) SetPosition(uint64) {}
func (NoopReporter) Tick()              {}
func (NoopReporter) Finish()            {}

// DriveReport summarizes one drive's sync-and-bucket cycle, handed to the
// caller-supplied sink at the end of a drive's run. Err and Bucket are
// mutually exclusive in practice: when Err is set, Bucket is the zero
// value and should not be inspected.
type DriveReport struct {
	DriveID     string
	DisplayName string
	TotalSize   uint64
	ItemCount   int
	Bucket      bucket.Result
	Err         error
}
