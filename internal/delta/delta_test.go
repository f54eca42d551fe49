package delta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/msod-stat/internal/graph"
	"github.com/tonimelisma/msod-stat/internal/model"
	"github.com/tonimelisma/msod-stat/internal/reporter"
)

// fakeClient replays a scripted sequence of (page, error) pairs keyed by the
// requested link, so Fetcher tests never touch the network.
type fakeClient struct {
	responses map[string][]response
	calls     map[string]int
}

type response struct {
	page *graph.DeltaPage
	err  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: make(map[string][]response), calls: make(map[string]int)}
}

func (f *fakeClient) script(link string, r response) {
	f.responses[link] = append(f.responses[link], r)
}

func (f *fakeClient) Delta(_ context.Context, link string) (*graph.DeltaPage, error) {
	rs := f.responses[link]
	idx := f.calls[link]
	f.calls[link]++

	if idx >= len(rs) {
		return nil, errors.New("fakeClient: no more scripted responses for " + link)
	}

	r := rs[idx]

	return r.page, r.err
}

func noopSleep(_ context.Context, _ time.Duration) error { return nil }

func drain(t *testing.T, messages <-chan Message) []Message {
	t.Helper()

	var out []Message
	for msg := range messages {
		out = append(out, msg)
	}

	return out
}

func TestFetcher_TwoPageTerminalSync(t *testing.T) {
	client := newFakeClient()
	client.script("bootstrap", response{page: &graph.DeltaPage{
		Items:    []model.Item{{ID: "a", Name: "f", Size: 10}},
		NextLink: "page2",
	}})
	client.script("page2", response{page: &graph.DeltaPage{DeltaLink: "final-token"}})

	f := NewFetcher(client, "bootstrap", nil)
	messages := make(chan Message, 4)

	deltaLink, err := f.Run(context.Background(), "bootstrap", messages)
	close(messages)

	require.NoError(t, err)
	assert.Equal(t, "final-token", deltaLink)

	msgs := drain(t, messages)
	require.Len(t, msgs, 2)
	assert.Len(t, msgs[0].Items, 1)
	assert.Empty(t, msgs[1].Items)
}

func TestFetcher_CursorExpiryMidSync_UsesLocationHeader(t *testing.T) {
	// Scenario C: the 410 response carries a Location header naming where to
	// resume enumeration. That URL must be used in preference to resetLink —
	// scripting the post-reset page under "bootstrap" instead would let this
	// pass even if the Location header were silently discarded, so the page
	// is scripted only under the Location URL.
	client := newFakeClient()
	client.script("p1", response{page: &graph.DeltaPage{
		Items:    []model.Item{{ID: "a", Size: 5}},
		NextLink: "p2",
	}})
	client.script("p2", response{err: &graph.GraphError{
		StatusCode: 410, Err: graph.ErrGone, Location: "fresh",
	}})
	client.script("fresh", response{page: &graph.DeltaPage{
		Items:     []model.Item{{ID: "b", Size: 7}},
		DeltaLink: "T",
	}})

	f := NewFetcher(client, "bootstrap", nil)
	messages := make(chan Message, 8)

	deltaLink, err := f.Run(context.Background(), "p1", messages)
	close(messages)

	require.NoError(t, err)
	assert.Equal(t, "T", deltaLink)

	msgs := drain(t, messages)
	require.Len(t, msgs, 3)
	assert.False(t, msgs[0].Reset)
	assert.True(t, msgs[1].Reset)
	assert.False(t, msgs[2].Reset)
	assert.Equal(t, "b", msgs[2].Items[0].ID)

	assert.Equal(t, 0, client.calls["bootstrap"], "resetLink must not be used when Location is present")
}

func TestFetcher_CursorExpiryWithoutLocation_FallsBackToResetLink(t *testing.T) {
	client := newFakeClient()
	client.script("p1", response{page: &graph.DeltaPage{
		Items:    []model.Item{{ID: "a", Size: 5}},
		NextLink: "p2",
	}})
	client.script("p2", response{err: &graph.GraphError{StatusCode: 410, Err: graph.ErrGone}})
	client.script("bootstrap", response{page: &graph.DeltaPage{
		Items:     []model.Item{{ID: "b", Size: 7}},
		DeltaLink: "T",
	}})

	f := NewFetcher(client, "bootstrap", nil)
	messages := make(chan Message, 8)

	deltaLink, err := f.Run(context.Background(), "p1", messages)
	close(messages)

	require.NoError(t, err)
	assert.Equal(t, "T", deltaLink)
}

func TestFetcher_CursorExpiryWithInvalidUTF8Location_FallsBackToResetLink(t *testing.T) {
	client := newFakeClient()
	client.script("p1", response{err: &graph.GraphError{
		StatusCode: 401, Err: graph.ErrUnauthorized, Location: string([]byte{0xff, 0xfe}),
	}})
	client.script("bootstrap", response{page: &graph.DeltaPage{DeltaLink: "T"}})

	f := NewFetcher(client, "bootstrap", nil)
	messages := make(chan Message, 8)

	deltaLink, err := f.Run(context.Background(), "p1", messages)
	close(messages)

	require.NoError(t, err)
	assert.Equal(t, "T", deltaLink)
}

func TestFetcher_RetriesExhausted(t *testing.T) {
	client := newFakeClient()
	for range 5 {
		client.script("bootstrap", response{err: errors.New("malformed payload")})
	}

	f := NewFetcher(client, "bootstrap", nil)
	f.sleepFunc = noopSleep

	messages := make(chan Message, 4)
	_, err := f.Run(context.Background(), "bootstrap", messages)
	close(messages)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestFetcher_TransientErrorRecovers(t *testing.T) {
	client := newFakeClient()
	client.script("bootstrap", response{err: errors.New("temporary glitch")})
	client.script("bootstrap", response{page: &graph.DeltaPage{DeltaLink: "T"}})

	f := NewFetcher(client, "bootstrap", nil)
	f.sleepFunc = noopSleep

	messages := make(chan Message, 4)
	deltaLink, err := f.Run(context.Background(), "bootstrap", messages)
	close(messages)

	require.NoError(t, err)
	assert.Equal(t, "T", deltaLink)
}

func TestFetcher_ContextCanceledDuringSend(t *testing.T) {
	client := newFakeClient()
	client.script("bootstrap", response{page: &graph.DeltaPage{
		Items: []model.Item{{ID: "a"}},
	}})

	f := NewFetcher(client, "bootstrap", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered so send blocks until ctx.Done() fires.
	messages := make(chan Message)

	_, err := f.Run(ctx, "bootstrap", messages)
	require.Error(t, err)
}

func TestApply_AppliesBatchesAndResets(t *testing.T) {
	state := model.NewDriveState()
	messages := make(chan Message, 4)

	messages <- Message{Items: []model.Item{{ID: "a", Size: 10, ItemType: model.ItemType{Kind: model.KindFile}}}}
	messages <- Message{Reset: true}
	messages <- Message{Items: []model.Item{{ID: "b", Size: 20, ItemType: model.ItemType{Kind: model.KindFile}}}}
	close(messages)

	Apply(&state, messages, reporter.NoopReporter{})

	assert.Len(t, state.Items, 1)
	assert.Equal(t, uint64(20), state.Size)
	_, hasA := state.Items["a"]
	assert.False(t, hasA)
}

type recordingProgress struct {
	ticks     int
	positions []uint64
	finished  bool
}

func (r *recordingProgress) SetPosition(bytes uint64) { r.positions = append(r.positions, bytes) }
func (r *recordingProgress) Tick()                    { r.ticks++ }
func (r *recordingProgress) Finish()                  { r.finished = true }

func TestApply_ReportsProgressPerBatchAndFinishes(t *testing.T) {
	state := model.NewDriveState()
	messages := make(chan Message, 2)

	messages <- Message{Items: []model.Item{{ID: "a", Size: 10, ItemType: model.ItemType{Kind: model.KindFile}}}}
	messages <- Message{Items: []model.Item{{ID: "b", Size: 20, ItemType: model.ItemType{Kind: model.KindFile}}}}
	close(messages)

	progress := &recordingProgress{}
	Apply(&state, messages, progress)

	assert.Equal(t, 2, progress.ticks)
	assert.Equal(t, []uint64{10, 30}, progress.positions)
	assert.True(t, progress.finished)
}

func TestApply_DeleteOverPriorFile(t *testing.T) {
	state := model.NewDriveState()
	state.Upsert(model.Item{ID: "a", Size: 10, ItemType: model.ItemType{Kind: model.KindFile}})

	messages := make(chan Message, 1)
	messages <- Message{Items: []model.Item{{ID: "a", Deleted: true, ItemType: model.ItemType{Kind: model.KindFile}}}}
	close(messages)

	Apply(&state, messages, reporter.NoopReporter{})

	assert.Empty(t, state.Items)
	assert.Equal(t, uint64(0), state.Size)
}
