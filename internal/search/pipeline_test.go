package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docworkspace/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	matches []models.Match
	err     error
}

type call struct {
	query string
	k     int
	reply chan reply
}

// gatedSearcher hands every query to the test and answers when told to.
type gatedSearcher struct {
	calls chan call
}

func newGated() *gatedSearcher {
	return &gatedSearcher{calls: make(chan call, 16)}
}

func (g *gatedSearcher) SemanticQuery(ctx context.Context, text string, k int) ([]models.Match, error) {
	c := call{query: text, k: k, reply: make(chan reply, 1)}
	g.calls <- c
	select {
	case r := <-c.reply:
		return r.matches, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedSearcher) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("no query issued")
		return call{}
	}
}

func (g *gatedSearcher) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-g.calls:
		t.Fatalf("unexpected query %q", c.query)
	case <-time.After(20 * time.Millisecond):
	}
}

type instantSearcher struct {
	mu      sync.Mutex
	queries []string
	matches []models.Match
	err     error
}

func (s *instantSearcher) SemanticQuery(ctx context.Context, text string, k int) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, text)
	return s.matches, s.err
}

func (s *instantSearcher) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func match(id string) models.Match {
	return models.Match{DocID: id, Filename: id + ".pdf", Page: 1, Score: 0.9}
}

func waitStatus(t *testing.T, p *Pipeline, want Status) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = p.Snapshot()
		return snap.Status == want
	}, time.Second, 2*time.Millisecond)
	return snap
}

func TestDebounceCoalescesToLastSelection(t *testing.T) {
	clk := clock.NewMock()
	s := &instantSearcher{matches: []models.Match{match("doc_a")}}
	p := New(s, Options{Clock: clk})
	defer p.Close()

	p.OnSelectionChanged("edge computing one")
	clk.Add(100 * time.Millisecond)
	p.OnSelectionChanged("edge computing two")
	clk.Add(100 * time.Millisecond)
	p.OnSelectionChanged("  edge   computing three ")
	require.Equal(t, StatusSearching, p.Snapshot().Status)
	clk.Add(149 * time.Millisecond)
	require.Empty(t, s.seen())

	clk.Add(time.Millisecond)
	snap := waitStatus(t, p, StatusFound)
	require.Equal(t, []string{"edge computing three"}, s.seen())
	require.Equal(t, "edge computing three", snap.Selection.Normalized)
	require.Equal(t, uint64(1), p.Stats().Requests)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	clk := clock.NewMock()
	g := newGated()
	p := New(g, Options{Clock: clk})
	defer p.Close()

	p.OnSelectionChanged("first selection")
	clk.Add(DefaultDebounce)
	first := g.next(t)
	require.Equal(t, DefaultK, first.k)

	p.OnSelectionChanged("second selection")
	clk.Add(DefaultDebounce)
	second := g.next(t)

	second.reply <- reply{matches: []models.Match{match("doc_two")}}
	snap := waitStatus(t, p, StatusFound)
	require.Equal(t, "doc_two", snap.Matches[0].DocID)

	first.reply <- reply{matches: []models.Match{match("doc_one")}}
	require.Eventually(t, func() bool { return p.Stats().Stale == 1 }, time.Second, 2*time.Millisecond)
	snap = p.Snapshot()
	require.Equal(t, StatusFound, snap.Status)
	require.Len(t, snap.Matches, 1)
	require.Equal(t, "doc_two", snap.Matches[0].DocID)
	require.Equal(t, "second selection", snap.Selection.Normalized)
}

func TestShortSelectionClearsWithoutRequest(t *testing.T) {
	clk := clock.NewMock()
	g := newGated()
	p := New(g, Options{Clock: clk})
	defer p.Close()

	p.OnSelectionChanged("pending selection")
	p.OnSelectionChanged(" ab ")
	snap := p.Snapshot()
	require.Equal(t, StatusIdle, snap.Status)
	require.Empty(t, snap.Selection.Normalized)

	clk.Add(time.Second)
	g.none(t)
	require.Zero(t, p.Stats().Requests)
}

func TestShortSelectionInvalidatesInFlight(t *testing.T) {
	clk := clock.NewMock()
	g := newGated()
	p := New(g, Options{Clock: clk})
	defer p.Close()

	p.OnSelectionChanged("long enough")
	clk.Add(DefaultDebounce)
	inflight := g.next(t)

	p.OnSelectionChanged("")
	inflight.reply <- reply{matches: []models.Match{match("doc_a")}}
	require.Eventually(t, func() bool { return p.Stats().Stale == 1 }, time.Second, 2*time.Millisecond)
	snap := p.Snapshot()
	require.Equal(t, StatusIdle, snap.Status)
	require.Empty(t, snap.Matches)
}

func TestFailureDegradesToNoResults(t *testing.T) {
	clk := clock.NewMock()
	s := &instantSearcher{err: errors.New("connection refused")}
	p := New(s, Options{Clock: clk})
	defer p.Close()

	p.OnSelectionChanged("broken query")
	clk.Add(DefaultDebounce)
	snap := waitStatus(t, p, StatusNoResults)
	require.Equal(t, "connection refused", snap.LastError)
	require.Equal(t, uint64(1), p.Stats().Failures)

	s.mu.Lock()
	s.err = nil
	s.matches = []models.Match{match("doc_b")}
	s.mu.Unlock()

	p.OnSelectionChanged("working query")
	clk.Add(DefaultDebounce)
	snap = waitStatus(t, p, StatusFound)
	require.Empty(t, snap.LastError)
}

func TestDisplayWindowReturnsToIdle(t *testing.T) {
	clk := clock.NewMock()
	s := &instantSearcher{}
	p := New(s, Options{Clock: clk, Display: time.Second})
	defer p.Close()

	p.OnSelectionChanged("nothing matches this")
	clk.Add(DefaultDebounce)
	waitStatus(t, p, StatusNoResults)

	clk.Add(999 * time.Millisecond)
	require.Equal(t, StatusNoResults, p.Snapshot().Status)
	clk.Add(time.Millisecond)
	require.Equal(t, StatusIdle, p.Snapshot().Status)
}

func TestSubscribersSeeTransitions(t *testing.T) {
	clk := clock.NewMock()
	s := &instantSearcher{matches: []models.Match{match("doc_a")}}
	p := New(s, Options{Clock: clk})
	defer p.Close()

	var mu sync.Mutex
	var seen []Status
	unsubscribe := p.Subscribe(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, snap.Status)
	})

	p.OnSelectionChanged("selected words")
	clk.Add(DefaultDebounce)
	waitStatus(t, p, StatusFound)
	clk.Add(DefaultDisplay)
	unsubscribe()
	p.OnSelectionChanged("after unsubscribe")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Status{StatusSearching, StatusFound, StatusIdle}, seen)
}

func TestCloseWaitsForInFlight(t *testing.T) {
	clk := clock.NewMock()
	g := newGated()
	p := New(g, Options{Clock: clk})

	p.OnSelectionChanged("in flight at close")
	clk.Add(DefaultDebounce)
	g.next(t)
	p.Close()
	p.Close()

	p.OnSelectionChanged("ignored after close")
	clk.Add(time.Second)
	g.none(t)
	require.Equal(t, StatusSearching, p.Snapshot().Status)
}
