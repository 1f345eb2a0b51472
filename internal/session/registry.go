package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docworkspace/internal/logging"
	"docworkspace/internal/models"
	"docworkspace/internal/util"
)

// ErrAllDropped is returned by Revalidate when persisted documents were expected
// and none of them exist remotely any more.
var ErrAllDropped = errors.New("no persisted documents survived revalidation")

type Policy string

const (
	// PolicyMerge adds a batch to the documents already in the session.
	PolicyMerge Policy = "merge"
	// PolicyReplace makes a batch the whole session.
	PolicyReplace Policy = "replace"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyMerge, "":
		return PolicyMerge, nil
	case PolicyReplace:
		return PolicyReplace, nil
	default:
		return "", fmt.Errorf("unknown session policy %q", s)
	}
}

// Store persists the ordered {docId, name} list of a workspace under one key.
// Load on a missing key returns an empty list.
type Store interface {
	Load(ctx context.Context, key string) ([]models.PersistedEntry, error)
	Save(ctx context.Context, key string, entries []models.PersistedEntry) error
	Delete(ctx context.Context, key string) error
}

// Prober checks remote existence of a document during revalidation.
type Prober interface {
	ProbeDocument(ctx context.Context, docID string) (models.Outline, error)
}

type Options struct {
	Store  Store
	Key    string
	URL    func(docID string) string
	Logger *zap.Logger
	Clock  clock.Clock
	// ProbeParallel bounds concurrent probes in Revalidate; 0 means 4.
	ProbeParallel int
}

type RevalidateReport struct {
	Kept     []string
	Dropped  []string
	Outlines []models.Outline
	// Superseded is set when a Clear ran while probes were in flight. Nothing
	// was committed and Kept and Outlines are empty.
	Superseded bool
}

// Registry owns the documents of one workspace session. Mutations are
// serialized and publish a new immutable snapshot, so readers never observe a
// partially applied change.
type Registry struct {
	mu    sync.Mutex
	snap  atomic.Pointer[snapshot]
	gen   atomic.Uint64
	valid atomic.Bool

	// ids removed while a Revalidate is probing; guarded by mu
	revalidating int
	removed      map[string]struct{}

	store    Store
	key      string
	url      func(string) string
	log      *zap.Logger
	clock    clock.Clock
	parallel int
}

func New(opts Options) *Registry {
	r := &Registry{
		store:    opts.Store,
		key:      opts.Key,
		url:      opts.URL,
		log:      logging.OrNop(opts.Logger),
		clock:    opts.Clock,
		parallel: opts.ProbeParallel,
	}
	if r.store == nil {
		r.store = NewMemoryStore()
	}
	if r.key == "" {
		r.key = "workspace:default:documents"
	}
	if r.url == nil {
		r.url = func(id string) string { return id }
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.parallel <= 0 {
		r.parallel = 4
	}
	r.snap.Store(emptySnapshot())
	return r
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Upsert inserts doc or replaces the document with the same DocID. The
// in-memory change is applied even when persisting it fails.
func (r *Registry) Upsert(ctx context.Context, doc models.SessionDocument) error {
	return r.UpsertMany(ctx, []models.SessionDocument{doc})
}

func (r *Registry) UpsertMany(ctx context.Context, docs []models.SessionDocument) error {
	if len(docs) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.current().clone()
	for _, doc := range docs {
		if doc.DocID == "" {
			continue
		}
		next.put(r.fill(doc, next))
	}
	return r.publish(ctx, next)
}

// Apply commits a batch under the given policy.
func (r *Registry) Apply(ctx context.Context, policy Policy, docs []models.SessionDocument) error {
	_, err := r.ApplyAt(ctx, r.Generation(), policy, docs)
	return err
}

// ApplyAt commits docs only if the registry generation still equals gen, that
// is, no Clear happened since the caller sampled it. It reports whether the
// batch was committed.
func (r *Registry) ApplyAt(ctx context.Context, gen uint64, policy Policy, docs []models.SessionDocument) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen.Load() != gen {
		return false, nil
	}
	var next *snapshot
	if policy == PolicyReplace {
		next = emptySnapshot()
	} else {
		next = r.current().clone()
	}
	for _, doc := range docs {
		if doc.DocID == "" {
			continue
		}
		next.put(r.fill(doc, next))
	}
	return true, r.publish(ctx, next)
}

// fill keeps runtime-only fields of an existing entry when doc omits them.
func (r *Registry) fill(doc models.SessionDocument, s *snapshot) models.SessionDocument {
	if prev, ok := s.byID[doc.DocID]; ok {
		if doc.Source == nil {
			doc.Source = prev.Source
		}
		if doc.AddedAt.IsZero() {
			doc.AddedAt = prev.AddedAt
		}
		if doc.Class == "" {
			doc.Class = prev.Class
		}
	}
	if doc.DisplayName == "" {
		doc.DisplayName = doc.DocID
	}
	if doc.ViewURL == "" {
		doc.ViewURL = r.url(doc.DocID)
	}
	if doc.AddedAt.IsZero() {
		doc.AddedAt = r.clock.Now()
	}
	return doc
}

func (r *Registry) Remove(ctx context.Context, docID string) (models.SessionDocument, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current()
	doc, ok := cur.byID[docID]
	if !ok {
		return models.SessionDocument{}, false, nil
	}
	next := cur.clone()
	next.remove(docID)
	if r.revalidating > 0 {
		r.removed[docID] = struct{}{}
	}
	return doc, true, r.publish(ctx, next)
}

// Clear empties the registry and its persisted list and returns what was
// removed. It advances the generation so batches started before it are not
// committed afterwards.
func (r *Registry) Clear(ctx context.Context) ([]models.SessionDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.current().list()
	r.snap.Store(emptySnapshot())
	r.gen.Add(1)
	if err := r.store.Delete(ctx, r.key); err != nil {
		r.log.Warn("clear persisted session failed", zap.Error(err))
		return removed, fmt.Errorf("delete persisted session: %w", err)
	}
	return removed, nil
}

// Resolve finds a document by a user- or server-supplied reference. Lookup
// order: source file name, display name ignoring case, case-insensitive
// substring in either direction (first in insertion order), then the input as
// a document id with any .pdf suffix stripped.
func (r *Registry) Resolve(nameOrID string) (models.SessionDocument, bool) {
	s := r.current()
	in := strings.TrimSpace(nameOrID)
	if in == "" {
		return models.SessionDocument{}, false
	}
	if ids := s.bySource[in]; len(ids) > 0 {
		return s.byID[ids[0]], true
	}
	folded := util.FoldName(in)
	if ids := s.byName[folded]; len(ids) > 0 {
		return s.byID[ids[0]], true
	}
	for _, id := range s.order {
		name := util.FoldName(s.byID[id].DisplayName)
		if strings.Contains(name, folded) || strings.Contains(folded, name) {
			return s.byID[id], true
		}
	}
	if doc, ok := s.byID[util.TrimPDFSuffix(in)]; ok {
		return doc, true
	}
	return models.SessionDocument{}, false
}

// FindBySource returns the document uploaded from f, matching on content
// fingerprint when both sides carry one.
func (r *Registry) FindBySource(f models.LocalFile) (models.SessionDocument, bool) {
	s := r.current()
	if f.Fingerprint != "" {
		if id, ok := s.byFingerprint[f.Fingerprint]; ok {
			return s.byID[id], true
		}
	}
	for _, id := range s.bySource[f.Name] {
		doc := s.byID[id]
		if doc.Source != nil && doc.Source.Size == f.Size {
			return doc, true
		}
	}
	return models.SessionDocument{}, false
}

func (r *Registry) Get(docID string) (models.SessionDocument, bool) {
	doc, ok := r.current().byID[docID]
	return doc, ok
}

func (r *Registry) List() []models.SessionDocument {
	return r.current().list()
}

func (r *Registry) IDs() []string {
	s := r.current()
	return append([]string(nil), s.order...)
}

func (r *Registry) Len() int {
	return len(r.current().order)
}

func (r *Registry) Generation() uint64 {
	return r.gen.Load()
}

// Validated reports whether Revalidate has completed at least once.
func (r *Registry) Validated() bool {
	return r.valid.Load()
}

// Revalidate reconciles the registry with the remote service: every persisted
// or in-memory document is probed, failures are dropped from memory and
// storage, survivors get a fresh view URL. Any probe error drops the entry.
//
// Probes run without the lock. A Clear during probing discards the whole
// result; a document removed during probing stays removed.
func (r *Registry) Revalidate(ctx context.Context, prober Prober) (RevalidateReport, error) {
	r.mu.Lock()
	gen := r.gen.Load()
	if r.revalidating == 0 {
		r.removed = map[string]struct{}{}
	}
	r.revalidating++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.revalidating--
		r.mu.Unlock()
	}()

	persisted, err := r.store.Load(ctx, r.key)
	if err != nil {
		return RevalidateReport{}, fmt.Errorf("load persisted session: %w", err)
	}
	candidates := mergeEntries(persisted, r.current())

	type result struct {
		outline models.Outline
		err     error
	}
	results := make([]result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, entry := range candidates {
		i, entry := i, entry
		g.Go(func() error {
			o, err := prober.ProbeDocument(gctx, entry.DocID)
			results[i] = result{outline: o, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return RevalidateReport{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen.Load() != gen {
		r.log.Info("revalidation superseded by a session clear", zap.Int("candidates", len(candidates)))
		r.valid.Store(true)
		return RevalidateReport{Superseded: true}, nil
	}

	report := RevalidateReport{}
	dropped := map[string]struct{}{}
	for i, entry := range candidates {
		if _, gone := r.removed[entry.DocID]; gone {
			continue
		}
		if results[i].err != nil {
			r.log.Info("dropping stale document", zap.String("doc_id", entry.DocID), zap.Error(results[i].err))
			dropped[entry.DocID] = struct{}{}
			report.Dropped = append(report.Dropped, entry.DocID)
			continue
		}
		report.Kept = append(report.Kept, entry.DocID)
		o := results[i].outline
		if o.DocID == "" {
			o.DocID = entry.DocID
		}
		report.Outlines = append(report.Outlines, o)
	}

	next := r.current().clone()
	for _, entry := range candidates {
		if _, gone := r.removed[entry.DocID]; gone {
			continue
		}
		if _, gone := dropped[entry.DocID]; gone {
			next.remove(entry.DocID)
			continue
		}
		doc := models.SessionDocument{DocID: entry.DocID, DisplayName: entry.Name}
		if prev, ok := next.byID[entry.DocID]; ok {
			doc = prev
		}
		doc.ViewURL = r.url(entry.DocID)
		next.put(r.fill(doc, next))
	}
	err = r.publish(ctx, next)
	r.valid.Store(true)

	if err != nil {
		return report, err
	}
	if len(report.Kept)+len(report.Dropped) > 0 && len(report.Kept) == 0 {
		return report, ErrAllDropped
	}
	return report, nil
}

// publish swaps in next and persists it. Caller holds mu.
func (r *Registry) publish(ctx context.Context, next *snapshot) error {
	r.snap.Store(next)
	entries := next.entries()
	var err error
	if len(entries) == 0 {
		err = r.store.Delete(ctx, r.key)
	} else {
		err = r.store.Save(ctx, r.key, entries)
	}
	if err != nil {
		r.log.Warn("persist session failed", zap.Int("documents", len(entries)), zap.Error(err))
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// mergeEntries returns persisted entries followed by in-memory documents that
// were never persisted, without duplicates.
func mergeEntries(persisted []models.PersistedEntry, s *snapshot) []models.PersistedEntry {
	seen := make(map[string]struct{}, len(persisted))
	out := make([]models.PersistedEntry, 0, len(persisted)+len(s.order))
	for _, e := range persisted {
		if e.DocID == "" {
			continue
		}
		if _, ok := seen[e.DocID]; ok {
			continue
		}
		seen[e.DocID] = struct{}{}
		out = append(out, e)
	}
	for _, id := range s.order {
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, s.byID[id].Persisted())
	}
	return out
}
