// Package delta implements the producer/consumer delta-sync pipeline: a
// Fetcher goroutine that walks the Graph delta cursor to completion, and an
// Applier that drains its output onto a DriveState.
package delta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/tonimelisma/msod-stat/internal/graph"
	"github.com/tonimelisma/msod-stat/internal/model"
	"github.com/tonimelisma/msod-stat/internal/reporter"
)

// ErrRetriesExhausted is returned by Fetcher.Run when malformed-payload or
// unclassified page errors exceed maxFetchRetries. This is the Go
// realization of the original worker's panic-on-cap behavior (see
// Design Notes in SPEC_FULL.md): the orchestrator converts it into a
// recoverable per-drive error instead of a fatal process exit.
var ErrRetriesExhausted = errors.New("delta: retries exhausted fetching page")

// maxFetchRetries and fetchRetryDelay implement retry_or_panic: a bounded
// counter with a fixed sleep between attempts, applied to malformed pages
// and any error that isn't a recognized cursor-expiry signal (the
// transport-level exponential retry lives one layer down, in graph.Client).
const (
	maxFetchRetries = 3
	fetchRetryDelay = 30 * time.Second
)

// Message is sent from Fetcher to Applier over the sync channel. Reset asks
// the Applier to discard all accumulated state before applying Items — the
// Fetcher is restarting a full enumeration after a cursor expiry. This
// realizes the original's Option<Vec<Item>>: None becomes Message{Reset:
// true}, Some(batch) becomes Message{Items: batch}.
type Message struct {
	Items []model.Item
	Reset bool
}

// DeltaClient is the subset of *graph.Client the Fetcher depends on,
// narrowed at the consumer so tests can supply a fake without an
// httptest server.
type DeltaClient interface {
	Delta(ctx context.Context, link string) (*graph.DeltaPage, error)
}

// Fetcher drives the delta pagination protocol to completion, emitting
// batches of items on a channel until the server signals a terminal cursor.
// It never touches DriveState directly — ownership of the item model
// belongs exclusively to the Applier (spec.md §5).
type Fetcher struct {
	client    DeltaClient
	resetLink string
	logger    *slog.Logger

	// sleepFunc waits between retry_or_panic attempts. Tests override this
	// to avoid real 30-second delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a Fetcher. resetLink is the bootstrap URL used when the
// server invalidates the delta cursor (410 Gone or 401 Unauthorized).
func NewFetcher(client DeltaClient, resetLink string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{
		client:    client,
		resetLink: resetLink,
		logger:    logger,
		sleepFunc: sleepCtx,
	}
}

// Run walks link to completion, sending Messages until the server returns a
// terminal delta link, which Run then returns. The caller owns the
// messages channel's lifecycle (it is never closed here) so that the
// channel can be closed exactly once, after Run returns, regardless of
// whether it returned an error.
func (f *Fetcher) Run(ctx context.Context, link string, messages chan<- Message) (string, error) {
	failCount := 0

	for {
		page, err := f.client.Delta(ctx, link)
		if err == nil {
			if sendErr := f.send(ctx, messages, Message{Items: page.Items}); sendErr != nil {
				return "", sendErr
			}

			failCount = 0

			if page.DeltaLink != "" {
				return page.DeltaLink, nil
			}

			link = page.NextLink

			continue
		}

		if errors.Is(err, graph.ErrGone) || errors.Is(err, graph.ErrUnauthorized) {
			f.logger.Warn("delta cursor expired, restarting full enumeration",
				slog.String("error", err.Error()),
			)

			if sendErr := f.send(ctx, messages, Message{Reset: true}); sendErr != nil {
				return "", sendErr
			}

			link = f.resetLinkFor(err)
			// fail_count is intentionally not reset here — preserved per
			// spec.md's open question: sustained 410s could prematurely
			// exhaust the cap, but this matches the original's behavior.

			continue
		}

		failCount++
		if failCount > maxFetchRetries {
			return "", fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}

		f.logger.Warn("retrying delta page",
			slog.Int("attempt", failCount),
			slog.Int("max_attempts", maxFetchRetries),
			slog.String("error", err.Error()),
		)

		if sleepErr := f.sleepFunc(ctx, fetchRetryDelay); sleepErr != nil {
			return "", fmt.Errorf("delta: fetch canceled: %w", sleepErr)
		}
	}
}

// resetLinkFor picks where enumeration restarts after a cursor-expiry error:
// the Location header on the 410/401 response, if present and valid UTF-8,
// else the bootstrap resetLink.
func (f *Fetcher) resetLinkFor(err error) string {
	var graphErr *graph.GraphError
	if errors.As(err, &graphErr) && graphErr.Location != "" && utf8.ValidString(graphErr.Location) {
		return graphErr.Location
	}

	return f.resetLink
}

// send delivers msg on messages, respecting context cancellation — the
// only suspension point besides the HTTP call itself and retry sleeps.
func (f *Fetcher) send(ctx context.Context, messages chan<- Message, msg Message) error {
	select {
	case messages <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delta: send canceled: %w", ctx.Err())
	}
}

// sleepCtx waits for d or until ctx is canceled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Apply drains messages, mutating state per message, until the channel is
// closed. It is the sole mutator of state for the duration of a sync — the
// Applier side of the two-goroutine pipeline, run on the calling goroutine.
// progress is ticked once per batch and given the running size after it's
// applied; pass reporter.NoopReporter{} when no rendering is wanted.
func Apply(state *model.DriveState, messages <-chan Message, progress reporter.ProgressReporter) {
	for msg := range messages {
		if msg.Reset {
			state.Reset()
			progress.SetPosition(state.Size)

			continue
		}

		for _, item := range msg.Items {
			if item.Deleted {
				state.Delete(item)
			} else {
				state.Upsert(item)
			}
		}

		progress.Tick()
		progress.SetPosition(state.Size)
	}

	progress.Finish()
}
