package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"docworkspace/internal/ingest"
	"docworkspace/internal/lifecycle"
	"docworkspace/internal/logging"
	"docworkspace/internal/models"
	"docworkspace/internal/outlines"
	"docworkspace/internal/remote"
	"docworkspace/internal/search"
	"docworkspace/internal/selection"
	"docworkspace/internal/session"
)

var (
	ErrUnknownDocument = errors.New("document is not part of the session")
	ErrNoDocuments     = errors.New("session has no documents")
	ErrNoSelection     = errors.New("no text is selected")
)

// TopSections is how many persona sections Analyze keeps.
const TopSections = 3

// Navigator moves the embedded viewer. The browser driver implements it.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
	GotoPage(ctx context.Context, page int) (bool, error)
}

// View is the document currently shown. Resolved is false when the last open
// request named a document outside the session and only the page moved.
type View struct {
	DocID    string         `json:"doc_id,omitempty"`
	Name     string         `json:"name,omitempty"`
	URL      string         `json:"url,omitempty"`
	Page     int            `json:"page,omitempty"`
	Outline  models.Outline `json:"outline"`
	Resolved bool           `json:"resolved"`
}

type Analysis struct {
	Persona string                    `json:"persona"`
	Job     string                    `json:"job"`
	Result  models.PersonaResult      `json:"result"`
	Top     []models.ExtractedSection `json:"top"`
	View    *View                     `json:"view,omitempty"`
}

type Options struct {
	Remote       remote.Client
	Registry     *session.Registry
	Outlines     *outlines.Cache
	Orchestrator *ingest.Orchestrator
	Pipeline     *search.Pipeline
	Navigator    Navigator

	// UploadDir holds files received for upload (see StageDir). Empty disables
	// staging.
	UploadDir string

	SelectionMinLength int
	SelectionSettle    time.Duration
	SelectionPoll      time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// Workspace is one user's document session. Every surface (API, CLI, browser
// hooks) goes through it instead of holding session state of its own.
type Workspace struct {
	remote   remote.Client
	registry *session.Registry
	outlines *outlines.Cache
	orch     *ingest.Orchestrator
	pipeline *search.Pipeline
	guard    *lifecycle.Guard
	clock    clock.Clock
	log      *zap.Logger

	uploadDir string

	minLen int
	settle time.Duration
	poll   time.Duration

	mu      sync.Mutex
	nav     Navigator
	view    View
	persona *models.PersonaResult
	adapter *selection.Adapter
	// viewer and the context capture was attached under, kept to rebuild the
	// adapter when the hosted document changes
	viewer    selection.Viewer
	viewerCtx context.Context
}

func New(opts Options) *Workspace {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	w := &Workspace{
		remote:   opts.Remote,
		registry: opts.Registry,
		outlines: opts.Outlines,
		orch:     opts.Orchestrator,
		pipeline: opts.Pipeline,
		nav:      opts.Navigator,
		clock:    opts.Clock,
		log:      logging.OrNop(opts.Logger),
		minLen:   opts.SelectionMinLength,
		settle:   opts.SelectionSettle,
		poll:     opts.SelectionPoll,
	}
	w.uploadDir = opts.UploadDir
	w.guard = lifecycle.NewGuard(w.registry, w.remote, w.log,
		w.outlines.Flush,
		w.pipeline.Reset,
		w.forget,
	)
	return w
}

// Open reconciles the persisted session with the remote service and warms the
// outline cache with what the probes returned. session.ErrAllDropped is passed
// through so the caller can tell the user their documents are gone.
func (w *Workspace) Open(ctx context.Context) (session.RevalidateReport, error) {
	report, err := w.registry.Revalidate(ctx, w.remote)
	for _, o := range report.Outlines {
		if len(o.Items) > 0 {
			w.outlines.Put(o)
		}
	}
	w.log.Info("workspace opened",
		zap.Int("kept", len(report.Kept)),
		zap.Int("dropped", len(report.Dropped)),
	)
	return report, err
}

// Upload runs one batch. A fresh upload is a single document the user wants to
// read right away, so it is opened when it succeeds.
func (w *Workspace) Upload(ctx context.Context, class models.StorageClass, files []models.LocalFile) (ingest.BatchStatus, error) {
	st, err := w.orch.Upload(ctx, class, files)
	if err != nil {
		return st, err
	}
	if class != models.StorageFresh || st.Superseded {
		return st, nil
	}
	for _, o := range st.Outcomes {
		if !o.Succeeded() {
			continue
		}
		if _, err := w.OpenDocument(ctx, o.DocID, 1); err != nil {
			w.log.Warn("open fresh document failed", zap.String("doc_id", o.DocID), zap.Error(err))
		}
		break
	}
	return st, nil
}

func (w *Workspace) UploadStatus() ingest.BatchStatus {
	return w.orch.Status()
}

func (w *Workspace) Documents() []models.SessionDocument {
	return w.registry.List()
}

func (w *Workspace) Resolve(ref string) (models.SessionDocument, bool) {
	return w.registry.Resolve(ref)
}

func (w *Workspace) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

// OpenDocument shows the document named by ref at page (pages start at 1, 0
// keeps the first page). A ref that does not resolve keeps the current document
// and only moves the page.
func (w *Workspace) OpenDocument(ctx context.Context, ref string, page int) (View, error) {
	doc, ok := w.registry.Resolve(ref)
	if !ok {
		return w.movePage(ctx, ref, page)
	}
	outline := w.outline(ctx, doc)
	if page <= 0 {
		page = 1
	}
	v := View{
		DocID:    doc.DocID,
		Name:     doc.DisplayName,
		URL:      doc.ViewURL,
		Page:     page,
		Outline:  outline,
		Resolved: true,
	}

	w.mu.Lock()
	nav := w.nav
	w.view = v
	w.mu.Unlock()

	if nav != nil {
		if err := nav.Navigate(ctx, doc.ViewURL); err != nil {
			return v, fmt.Errorf("navigate to %s: %w", doc.DocID, err)
		}
		w.recapture()
		if page > 1 {
			if _, err := nav.GotoPage(ctx, page); err != nil {
				return v, fmt.Errorf("go to page %d: %w", page, err)
			}
		}
	}
	return v, nil
}

func (w *Workspace) movePage(ctx context.Context, ref string, page int) (View, error) {
	w.mu.Lock()
	if w.view.DocID == "" {
		w.mu.Unlock()
		return View{}, fmt.Errorf("%w: %q", ErrUnknownDocument, ref)
	}
	if page > 0 {
		w.view.Page = page
	}
	w.view.Resolved = false
	v := w.view
	nav := w.nav
	w.mu.Unlock()

	w.log.Info("document not in session, staying on current", zap.String("ref", ref), zap.String("current", v.DocID))
	if nav != nil && page > 0 {
		if _, err := nav.GotoPage(ctx, page); err != nil {
			return v, fmt.Errorf("go to page %d: %w", page, err)
		}
	}
	return v, nil
}

// outline returns the cached outline of doc, fetching it by id on a miss. An
// empty extraction falls back to the sections of the last persona analysis.
func (w *Workspace) outline(ctx context.Context, doc models.SessionDocument) models.Outline {
	if o, ok := w.outlines.Get(doc.DocID); ok {
		return o
	}
	o, err := w.remote.ExtractOutline(ctx, remote.OutlineRequest{DocID: doc.DocID, Class: models.StorageViewer})
	if err != nil {
		w.log.Warn("outline extraction failed", zap.String("doc_id", doc.DocID), zap.Error(err))
		o = models.Outline{}
	}
	o.DocID = doc.DocID
	if len(o.Items) > 0 {
		w.outlines.Put(o)
		return o
	}

	w.mu.Lock()
	persona := w.persona
	w.mu.Unlock()
	if persona != nil {
		o.Items = w.personaOutline(doc.DocID, persona.ExtractedSections)
	}
	if o.Title == "" {
		o.Title = doc.DisplayName
	}
	return o
}

func (w *Workspace) personaOutline(docID string, sections []models.ExtractedSection) []models.OutlineItem {
	var items []models.OutlineItem
	for _, s := range rankSections(sections) {
		d, ok := w.registry.Resolve(s.Document)
		if !ok || d.DocID != docID {
			continue
		}
		items = append(items, models.OutlineItem{Level: "H1", Text: s.SectionTitle, Page: s.PageNumber})
	}
	return items
}

// Remove drops the document from the session and then asks the remote service
// to delete it. The remote deletion is best effort.
func (w *Workspace) Remove(ctx context.Context, ref string) (models.SessionDocument, error) {
	doc, ok := w.registry.Resolve(ref)
	if !ok {
		return models.SessionDocument{}, fmt.Errorf("%w: %q", ErrUnknownDocument, ref)
	}
	if _, _, err := w.registry.Remove(ctx, doc.DocID); err != nil {
		w.log.Warn("persist removal failed", zap.String("doc_id", doc.DocID), zap.Error(err))
	}
	w.outlines.Delete(doc.DocID)
	w.dropSource(doc)

	w.mu.Lock()
	if w.view.DocID == doc.DocID {
		w.view = View{}
	}
	w.mu.Unlock()

	if _, err := w.remote.DeleteDocuments(ctx, []string{doc.DocID}); err != nil {
		w.log.Warn("remote delete failed", zap.String("doc_id", doc.DocID), zap.Error(err))
	}
	return doc, nil
}

// Analyze runs persona analysis over every document of the session and opens
// the best ranked section. The result is kept to derive outlines for
// documents whose extraction comes back empty.
func (w *Workspace) Analyze(ctx context.Context, persona, job string) (Analysis, error) {
	ids := w.registry.IDs()
	if len(ids) == 0 {
		return Analysis{}, ErrNoDocuments
	}
	res, err := w.remote.PersonaAnalyze(ctx, remote.PersonaRequest{Persona: persona, Job: job, DocIDs: ids})
	if err != nil {
		return Analysis{}, fmt.Errorf("persona analysis: %w", err)
	}

	w.mu.Lock()
	w.persona = &res
	w.mu.Unlock()

	out := Analysis{Persona: persona, Job: job, Result: res, Top: rankSections(res.ExtractedSections)}
	if len(out.Top) > TopSections {
		out.Top = out.Top[:TopSections]
	}
	if len(out.Top) == 0 {
		return out, nil
	}
	best := out.Top[0]
	v, err := w.OpenDocument(ctx, best.Document, best.PageNumber)
	if err != nil {
		w.log.Warn("open analysed document failed", zap.String("document", best.Document), zap.Error(err))
		return out, nil
	}
	out.View = &v
	return out, nil
}

func rankSections(in []models.ExtractedSection) []models.ExtractedSection {
	out := append([]models.ExtractedSection(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ImportanceRank < out[j].ImportanceRank })
	return out
}

// Select feeds text into the search pipeline as if the viewer reported it.
func (w *Workspace) Select(text string) {
	w.pipeline.OnSelectionChanged(text)
}

func (w *Workspace) Search() search.Snapshot {
	return w.pipeline.Snapshot()
}

func (w *Workspace) SubscribeSearch(fn func(search.Snapshot)) func() {
	return w.pipeline.Subscribe(fn)
}

func (w *Workspace) selection() (search.Snapshot, error) {
	snap := w.pipeline.Snapshot()
	if snap.Selection.Normalized == "" {
		return snap, ErrNoSelection
	}
	return snap, nil
}

func (w *Workspace) Insights(ctx context.Context) ([]string, error) {
	snap, err := w.selection()
	if err != nil {
		return nil, err
	}
	return w.remote.GenerateInsights(ctx, snap.Selection.Normalized, snap.Matches)
}

func (w *Workspace) Audio(ctx context.Context, insights []string, voice string) (models.AudioResult, error) {
	snap, err := w.selection()
	if err != nil {
		return models.AudioResult{}, err
	}
	return w.remote.GenerateAudio(ctx, remote.AudioRequest{
		Selection: snap.Selection.Normalized,
		Matches:   snap.Matches,
		Insights:  insights,
		Voice:     voice,
	})
}

func (w *Workspace) Recommendations(ctx context.Context, limit int) (remote.RecommendationResult, error) {
	snap, err := w.selection()
	if err != nil {
		return remote.RecommendationResult{}, err
	}
	return w.remote.TextSelectionRecommendations(ctx, remote.RecommendationRequest{
		SelectedText: snap.Selection.Normalized,
		CurrentDocID: w.View().DocID,
		MaxResults:   limit,
	})
}

// AttachViewer starts selection capture on v, replacing the adapter of any
// previously attached viewer. The poll strategy is added when v exposes a
// native or a viewer-level selected-text accessor.
func (w *Workspace) AttachViewer(ctx context.Context, v selection.Viewer) {
	w.mu.Lock()
	w.viewer, w.viewerCtx = v, ctx
	w.mu.Unlock()
	w.capture(ctx, v)
}

// recapture replaces the adapter of the attached viewer after the hosted
// document changed, so no hook or timer of the previous view survives.
func (w *Workspace) recapture() {
	w.mu.Lock()
	v, ctx := w.viewer, w.viewerCtx
	w.mu.Unlock()
	if v == nil || ctx.Err() != nil {
		return
	}
	w.capture(ctx, v)
}

func (w *Workspace) capture(ctx context.Context, v selection.Viewer) {
	sources := []selection.Source{selection.NewEventSource(v, w.settle, w.clock, w.log)}
	native, _ := v.(selection.NativeSelection)
	reader, _ := v.(selection.SelectedTextReader)
	if native != nil || reader != nil {
		sources = append(sources, selection.NewPollSource(native, reader, w.poll, w.clock, w.log))
	}
	a := selection.NewAdapter(selection.AdapterOptions{MinLength: w.minLen, Logger: w.log}, w.pipeline.OnSelectionChanged, sources...)

	w.mu.Lock()
	prev := w.adapter
	w.adapter = a
	w.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	a.Start(ctx)
}

func (w *Workspace) DetachViewer() {
	w.mu.Lock()
	a := w.adapter
	w.adapter = nil
	w.viewer, w.viewerCtx = nil, nil
	w.mu.Unlock()
	if a != nil {
		a.Close()
	}
}

func (w *Workspace) SetNavigator(n Navigator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nav = n
}

// Reset clears remote storage and then the whole local session. The local
// side is cleared even when the remote reset fails.
func (w *Workspace) Reset(ctx context.Context) (models.ResetResult, error) {
	res, rerr := w.remote.ResetStorage(ctx)
	if rerr != nil {
		w.log.Warn("remote storage reset failed", zap.Error(rerr))
	}
	removed, err := w.registry.Clear(ctx)
	w.outlines.Flush()
	w.pipeline.Reset()
	w.forget()
	w.log.Info("workspace reset", zap.Int("removed", len(removed)))
	if rerr != nil {
		return res, fmt.Errorf("reset remote storage: %w", rerr)
	}
	return res, err
}

// Leave releases the session for a page-hide, unload or process signal.
func (w *Workspace) Leave(sig lifecycle.Signal) lifecycle.Outcome {
	return w.guard.Handle(sig)
}

func (w *Workspace) Guard() *lifecycle.Guard {
	return w.guard
}

func (w *Workspace) forget() {
	w.mu.Lock()
	w.view = View{}
	w.persona = nil
	w.mu.Unlock()
	w.purgeUploads()
}

// Close stops selection capture, the pipeline and the upload status timer. It
// does not release the session; call Leave for that.
func (w *Workspace) Close() {
	w.DetachViewer()
	w.pipeline.Close()
	w.orch.Close()
}
