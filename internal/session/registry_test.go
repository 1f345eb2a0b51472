package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docworkspace/internal/models"
	"docworkspace/internal/remote"
)

func newTestRegistry(t *testing.T, store Store) *Registry {
	t.Helper()
	return New(Options{
		Store: store,
		Key:   "workspace:test:documents",
		URL:   func(id string) string { return "http://svc/v1/files/" + id },
	})
}

func doc(id, name string) models.SessionDocument {
	return models.SessionDocument{DocID: id, DisplayName: name}
}

func TestResolveAfterUpsertAndRemove(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Upsert(ctx, doc("doc_a", "Alpha.pdf")))

	got, ok := r.Resolve("Alpha.pdf")
	require.True(t, ok)
	require.Equal(t, "doc_a", got.DocID)
	require.Equal(t, "http://svc/v1/files/doc_a", got.ViewURL)
	require.False(t, got.AddedAt.IsZero())

	got, ok = r.Resolve("doc_a.pdf")
	require.True(t, ok)
	require.Equal(t, "doc_a", got.DocID)

	_, removed, err := r.Remove(ctx, "doc_a")
	require.NoError(t, err)
	require.True(t, removed)

	for _, ref := range []string{"Alpha.pdf", "doc_a.pdf", "doc_a"} {
		_, ok := r.Resolve(ref)
		require.False(t, ok, ref)
	}
}

func TestResolveFuzzy(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Upsert(ctx, doc("doc_q", "Quarterly_Report.pdf")))

	for _, ref := range []string{"quarterly_report", "Quarterly_Report.pdf (copy)", "QUARTERLY_REPORT.PDF"} {
		got, ok := r.Resolve(ref)
		require.True(t, ok, ref)
		require.Equal(t, "doc_q", got.DocID)
	}
	_, ok := r.Resolve("Unrelated.pdf")
	require.False(t, ok)
	_, ok = r.Resolve("   ")
	require.False(t, ok)
}

func TestResolveOrder(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	src := &models.LocalFile{Name: "upload.pdf", Size: 10}
	require.NoError(t, r.UpsertMany(ctx, []models.SessionDocument{
		doc("doc_1", "Annual Review 2023"),
		doc("doc_2", "Annual Review"),
		{DocID: "doc_3", DisplayName: "Server Title", Source: src},
	}))

	got, _ := r.Resolve("annual   review")
	assert.Equal(t, "doc_2", got.DocID, "exact name beats substring")

	got, _ = r.Resolve("review")
	assert.Equal(t, "doc_1", got.DocID, "substring ties go to insertion order")

	got, _ = r.Resolve("upload.pdf")
	assert.Equal(t, "doc_3", got.DocID, "source file name wins")

	got, ok := r.FindBySource(models.LocalFile{Name: "upload.pdf", Size: 10})
	require.True(t, ok)
	assert.Equal(t, "doc_3", got.DocID)
}

func TestUpsertReplacesAndKeepsPosition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)
	src := &models.LocalFile{Name: "a.pdf", Fingerprint: "fp"}
	require.NoError(t, r.UpsertMany(ctx, []models.SessionDocument{
		{DocID: "a", DisplayName: "A", Source: src},
		doc("b", "B"),
	}))
	require.NoError(t, r.Upsert(ctx, doc("a", "A renamed")))

	require.Equal(t, []string{"a", "b"}, r.IDs())
	got, _ := r.Get("a")
	require.Equal(t, "A renamed", got.DisplayName)
	require.Same(t, src, got.Source)
	_, ok := r.Resolve("A")
	require.True(t, ok, "substring of the new name still resolves")

	persisted, err := store.Load(ctx, "workspace:test:documents")
	require.NoError(t, err)
	require.Equal(t, []models.PersistedEntry{{DocID: "a", Name: "A renamed"}, {DocID: "b", Name: "B"}}, persisted)
}

func TestApplyPolicies(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Upsert(ctx, doc("old", "Old")))

	require.NoError(t, r.Apply(ctx, PolicyMerge, []models.SessionDocument{doc("n1", "N1")}))
	require.Equal(t, []string{"old", "n1"}, r.IDs())

	require.NoError(t, r.Apply(ctx, PolicyReplace, []models.SessionDocument{doc("n2", "N2")}))
	require.Equal(t, []string{"n2"}, r.IDs())
}

func TestApplyAtRejectsSupersededBatch(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	gen := r.Generation()
	require.NoError(t, r.Upsert(ctx, doc("a", "A")))

	removed, err := r.Clear(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, gen+1, r.Generation())

	ok, err := r.ApplyAt(ctx, gen, PolicyMerge, []models.SessionDocument{doc("late", "Late")})
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, r.Len())
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)
	require.NoError(t, r.Upsert(ctx, doc("a", "A")))

	first, err := r.Clear(ctx)
	require.NoError(t, err)
	second, err := r.Clear(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Empty(t, second)

	persisted, err := store.Load(ctx, "workspace:test:documents")
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestRevalidateDropsMissingAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, "workspace:test:documents", []models.PersistedEntry{
		{DocID: "doc_live", Name: "Live.pdf"},
		{DocID: "doc_gone", Name: "Gone.pdf"},
	}))
	svc := remote.NewMock()
	svc.Seed("doc_live", "Live.pdf", "Live content")

	r := newTestRegistry(t, store)
	require.False(t, r.Validated())
	report, err := r.Revalidate(ctx, svc)
	require.NoError(t, err)
	require.True(t, r.Validated())
	require.Equal(t, []string{"doc_live"}, report.Kept)
	require.Equal(t, []string{"doc_gone"}, report.Dropped)
	require.Len(t, report.Outlines, 1)

	first := r.List()
	require.Len(t, first, 1)
	require.Equal(t, "Live.pdf", first[0].DisplayName)
	require.Equal(t, "http://svc/v1/files/doc_live", first[0].ViewURL)

	_, err = r.Revalidate(ctx, svc)
	require.NoError(t, err)
	require.Equal(t, first, r.List())

	persisted, err := store.Load(ctx, "workspace:test:documents")
	require.NoError(t, err)
	require.Equal(t, []models.PersistedEntry{{DocID: "doc_live", Name: "Live.pdf"}}, persisted)
}

func TestRevalidateAllDropped(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, "workspace:test:documents", []models.PersistedEntry{{DocID: "x", Name: "X"}}))

	r := newTestRegistry(t, store)
	report, err := r.Revalidate(ctx, remote.NewMock())
	require.ErrorIs(t, err, ErrAllDropped)
	require.Equal(t, []string{"x"}, report.Dropped)
	require.Zero(t, r.Len())

	_, err = newTestRegistry(t, NewMemoryStore()).Revalidate(ctx, remote.NewMock())
	require.NoError(t, err, "an empty session is not a failure")
}

type flakyProber struct{ err error }

func (f flakyProber) ProbeDocument(ctx context.Context, docID string) (models.Outline, error) {
	return models.Outline{}, f.err
}

func TestRevalidateDropsOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Upsert(ctx, doc("a", "A")))
	_, err := r.Revalidate(ctx, flakyProber{err: &remote.StatusError{Op: "outline", Code: 503}})
	require.ErrorIs(t, err, ErrAllDropped)
	require.Zero(t, r.Len())
}

// gatedProber blocks every probe until release is closed and reports each
// probe that started on entered.
type gatedProber struct {
	entered chan string
	release chan struct{}
}

func newGatedProber() *gatedProber {
	return &gatedProber{entered: make(chan string, 16), release: make(chan struct{})}
}

func (g *gatedProber) ProbeDocument(ctx context.Context, docID string) (models.Outline, error) {
	g.entered <- docID
	<-g.release
	return models.Outline{DocID: docID}, nil
}

func revalidateAsync(r *Registry, p Prober) <-chan RevalidateReport {
	done := make(chan RevalidateReport, 1)
	go func() {
		report, err := r.Revalidate(context.Background(), p)
		if err != nil {
			report.Dropped = append(report.Dropped, "error: "+err.Error())
		}
		done <- report
	}()
	return done
}

func TestClearDuringRevalidateIsNotUndone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)
	require.NoError(t, r.UpsertMany(ctx, []models.SessionDocument{doc("d1", "a.pdf"), doc("d2", "b.pdf")}))

	p := newGatedProber()
	done := revalidateAsync(r, p)
	<-p.entered

	cleared, err := r.Clear(ctx)
	require.NoError(t, err)
	require.Len(t, cleared, 2)
	close(p.release)

	report := <-done
	require.True(t, report.Superseded)
	require.Empty(t, report.Kept)
	require.Empty(t, report.Outlines)
	require.Empty(t, report.Dropped)
	require.Zero(t, r.Len())
	_, ok := r.Resolve("d1")
	require.False(t, ok)

	persisted, err := store.Load(ctx, "workspace:test:documents")
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestRemoveDuringRevalidateStaysRemoved(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)
	require.NoError(t, r.UpsertMany(ctx, []models.SessionDocument{doc("d1", "a.pdf"), doc("d2", "b.pdf")}))

	p := newGatedProber()
	done := revalidateAsync(r, p)
	<-p.entered

	_, removed, err := r.Remove(ctx, "d1")
	require.NoError(t, err)
	require.True(t, removed)
	close(p.release)

	report := <-done
	require.False(t, report.Superseded)
	require.Equal(t, []string{"d2"}, report.Kept)
	require.Empty(t, report.Dropped)
	_, ok := r.Resolve("d1")
	require.False(t, ok)
	require.Equal(t, []string{"d2"}, r.IDs())

	persisted, err := store.Load(ctx, "workspace:test:documents")
	require.NoError(t, err)
	require.Equal(t, []models.PersistedEntry{{DocID: "d2", Name: "b.pdf"}}, persisted)

	// a later revalidation does not remember the removal
	require.NoError(t, r.Upsert(ctx, doc("d1", "a.pdf")))
	report, err = r.Revalidate(ctx, stubProber{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"d1", "d2"}, report.Kept)
}

type stubProber struct{}

func (stubProber) ProbeDocument(ctx context.Context, docID string) (models.Outline, error) {
	return models.Outline{DocID: docID}, nil
}

type failingStore struct{ *MemoryStore }

func (failingStore) Save(context.Context, string, []models.PersistedEntry) error {
	return errors.New("disk full")
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, failingStore{NewMemoryStore()})
	err := r.Upsert(ctx, doc("a", "A"))
	require.Error(t, err)
	_, ok := r.Get("a")
	require.True(t, ok)
}

func TestConcurrentResolveSeesWholeSnapshots(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("doc_%d", i)
			_ = r.Upsert(ctx, doc(id, "Name "+id))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, d := range r.List() {
				got, ok := r.Resolve(d.DocID)
				if ok {
					assert.Equal(t, d.DocID, got.DocID)
				}
			}
		}
	}()
	wg.Wait()
	require.Equal(t, 200, r.Len())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyMerge, p)
	p, err = ParsePolicy("Replace")
	require.NoError(t, err)
	require.Equal(t, PolicyReplace, p)
	_, err = ParsePolicy("union")
	require.Error(t, err)
}
