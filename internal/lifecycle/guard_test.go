package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docworkspace/internal/models"
	"docworkspace/internal/outlines"
	"docworkspace/internal/remote"
	"docworkspace/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seeded(t *testing.T, ids ...string) (*session.Registry, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	reg := session.New(session.Options{Store: store, Key: "workspace:t:documents"})
	for _, id := range ids {
		require.NoError(t, reg.Upsert(context.Background(), models.SessionDocument{DocID: id, DisplayName: id + ".pdf"}))
	}
	return reg, store
}

func TestHandleIsIdempotent(t *testing.T) {
	reg, store := seeded(t, "doc_a", "doc_b")
	svc := remote.NewMock()
	cache := outlines.New(time.Minute, 0)
	cache.Put(models.Outline{DocID: "doc_a", Title: "A"})

	g := NewGuard(reg, svc, nil, cache.Flush)
	first := g.Handle(SignalPageHide)
	second := g.Handle(SignalHidden)

	require.Equal(t, []string{"doc_a", "doc_b"}, first.Dispatched)
	require.Empty(t, second.Dispatched)
	require.Equal(t, [][]string{{"doc_a", "doc_b"}}, svc.Dispatched())
	require.Zero(t, reg.Len())
	require.Zero(t, cache.Len())

	persisted, err := store.Load(context.Background(), "workspace:t:documents")
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestHandleConcurrentSignalsDispatchOnce(t *testing.T) {
	reg, _ := seeded(t, "doc_a", "doc_b", "doc_c")
	svc := remote.NewMock()
	g := NewGuard(reg, svc, nil)

	var wg sync.WaitGroup
	for _, sig := range []Signal{SignalPageHide, SignalBeforeUnload, SignalHidden, SignalHidden} {
		wg.Add(1)
		go func(sig Signal) {
			defer wg.Done()
			g.Handle(sig)
		}(sig)
	}
	wg.Wait()

	require.Len(t, svc.Dispatched(), 1)
	require.ElementsMatch(t, []string{"doc_a", "doc_b", "doc_c"}, svc.Dispatched()[0])
}

type brokenDrainer struct{}

func (brokenDrainer) Clear(context.Context) ([]models.SessionDocument, error) {
	return []models.SessionDocument{{DocID: "doc_x"}}, errors.New("store offline")
}

func TestHandleSwallowsFailures(t *testing.T) {
	svc := remote.NewMock()
	var flushed atomic.Int32
	g := NewGuard(brokenDrainer{}, svc, nil,
		func() { panic("boom") },
		func() { flushed.Add(1) },
	)
	out := g.Handle(SignalBeforeUnload)
	require.Equal(t, []string{"doc_x"}, out.Dispatched)
	require.Equal(t, int32(1), flushed.Load())
}

func TestWatchForwardsUntilSourcesClose(t *testing.T) {
	reg, _ := seeded(t, "doc_a")
	svc := remote.NewMock()
	g := NewGuard(reg, svc, nil)

	src := make(chan Signal, 2)
	src <- SignalPageHide
	src <- SignalHidden
	close(src)

	var outcomes []Outcome
	Watch(context.Background(), g, func(o Outcome) { outcomes = append(outcomes, o) }, src)

	require.Len(t, outcomes, 2)
	require.Equal(t, []string{"doc_a"}, outcomes[0].Dispatched)
	require.Empty(t, outcomes[1].Dispatched)
}

func TestWatchStopsOnCancel(t *testing.T) {
	g := NewGuard(brokenDrainer{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, g, nil, make(chan Signal), FromOS(ctx))
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
