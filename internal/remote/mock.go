package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"docworkspace/internal/models"
	"docworkspace/internal/pdfmeta"
	"docworkspace/internal/util"
)

// MockHooks inject failures into a Mock. Each hook receives the file name (or
// doc id / query text) and fails the call when it returns an error.
type MockHooks struct {
	Ingest  func(name string) error
	Outline func(nameOrID string) error
	Query   func(text string) error
}

// Mock is an in-memory analysis service. It indexes PDF pages locally and
// answers queries by term overlap, so the workspace can run offline and tests
// stay deterministic.
type Mock struct {
	Hooks MockHooks

	mu         sync.Mutex
	docs       map[string]*mockDoc
	order      []string
	dispatched [][]string
	calls      map[string]int
}

type mockDoc struct {
	id       string
	name     string
	pages    []string
	ingested bool
}

func NewMock() *Mock {
	return &Mock{
		docs:  map[string]*mockDoc{},
		calls: map[string]int{},
	}
}

// Seed registers a document directly, as if it had been uploaded and ingested.
func (m *Mock) Seed(id, name string, pages ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(&mockDoc{id: id, name: name, pages: pages, ingested: true})
}

func (m *Mock) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[id]
	return ok
}

func (m *Mock) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Dispatched returns every id batch passed to DispatchDelete, in call order.
func (m *Mock) Dispatched() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.dispatched))
	copy(out, m.dispatched)
	return out
}

func (m *Mock) DocumentURL(docID string) string {
	return "mock://docworkspace/v1/files/" + docID
}

func (m *Mock) ExtractOutline(ctx context.Context, req OutlineRequest) (models.Outline, error) {
	if err := ctx.Err(); err != nil {
		return models.Outline{}, err
	}
	m.count("outline")
	key := req.DocID
	if req.File != nil {
		key = req.File.Name
	}
	if m.Hooks.Outline != nil {
		if err := m.Hooks.Outline(key); err != nil {
			return models.Outline{}, err
		}
	}

	if req.File != nil {
		doc, err := m.load(*req.File)
		if err != nil {
			return models.Outline{}, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.docs[doc.id]; ok {
			return outlineOf(existing), nil
		}
		m.put(doc)
		return outlineOf(doc), nil
	}
	if req.DocID == "" {
		return models.Outline{}, fmt.Errorf("extract outline: %w: file or docId required", ErrPermanent)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[req.DocID]
	if !ok {
		return models.Outline{}, &StatusError{Op: "outline", Code: 404, Body: "docId not found: " + req.DocID}
	}
	return outlineOf(doc), nil
}

func (m *Mock) ProbeDocument(ctx context.Context, docID string) (models.Outline, error) {
	return m.ExtractOutline(ctx, OutlineRequest{DocID: docID})
}

func (m *Mock) SemanticIngest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return IngestResult{}, err
	}
	m.count("ingest")
	n := 0
	for _, f := range req.Files {
		if m.Hooks.Ingest != nil {
			if err := m.Hooks.Ingest(f.Name); err != nil {
				return IngestResult{}, err
			}
		}
		doc, err := m.load(f)
		if err != nil {
			return IngestResult{}, err
		}
		m.mu.Lock()
		if existing, ok := m.docs[doc.id]; ok {
			existing.ingested = true
		} else {
			doc.ingested = true
			m.put(doc)
		}
		m.mu.Unlock()
		n++
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range req.DocIDs {
		if doc, ok := m.docs[id]; ok {
			doc.ingested = true
			n++
		}
	}
	return IngestResult{Ingested: n}, nil
}

func (m *Mock) SemanticQuery(ctx context.Context, text string, k int) ([]models.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.count("query")
	if m.Hooks.Query != nil {
		if err := m.Hooks.Query(text); err != nil {
			return nil, err
		}
	}
	if k <= 0 {
		k = 5
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rank(text, k, func(d *mockDoc) bool { return d.ingested }), nil
}

func (m *Mock) TextSelectionRecommendations(ctx context.Context, req RecommendationRequest) (RecommendationResult, error) {
	if err := ctx.Err(); err != nil {
		return RecommendationResult{}, err
	}
	m.count("recommendations")
	limit := req.MaxResults
	if limit <= 0 {
		limit = 5
	}
	m.mu.Lock()
	matches := m.rank(req.SelectedText, limit, func(d *mockDoc) bool { return d.ingested && d.id != req.CurrentDocID })
	m.mu.Unlock()

	out := RecommendationResult{SelectedText: req.SelectedText, Recommendations: []models.Recommendation{}}
	for _, match := range matches {
		out.Recommendations = append(out.Recommendations, models.Recommendation{
			DocID:          match.DocID,
			Filename:       match.Filename,
			Page:           match.Page,
			Title:          match.Title,
			Snippet:        match.Snippet,
			RelevanceScore: match.Score,
			Reasoning:      match.RelevanceReason,
		})
	}
	out.TotalFound = len(out.Recommendations)
	return out, nil
}

func (m *Mock) PersonaAnalyze(ctx context.Context, req PersonaRequest) (models.PersonaResult, error) {
	if err := ctx.Err(); err != nil {
		return models.PersonaResult{}, err
	}
	m.count("persona")
	ids := append([]string(nil), req.DocIDs...)
	for _, f := range req.Files {
		doc, err := m.load(f)
		if err != nil {
			return models.PersonaResult{}, err
		}
		m.mu.Lock()
		if _, ok := m.docs[doc.id]; !ok {
			m.put(doc)
		}
		m.mu.Unlock()
		ids = append(ids, doc.id)
	}
	if len(ids) == 0 {
		return models.PersonaResult{}, &StatusError{Op: "persona analyze", Code: 400, Body: "No inputs (files or docIds)"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]*mockDoc, 0, len(ids))
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, ok := m.docs[id]
		if !ok {
			return models.PersonaResult{}, &StatusError{Op: "persona analyze", Code: 404, Body: "docId not found: " + id}
		}
		docs = append(docs, doc)
		names = append(names, doc.name)
	}

	query := req.Persona + " " + req.Job
	type scored struct {
		doc   *mockDoc
		page  int
		score float64
	}
	ranked := make([]scored, 0)
	for _, doc := range docs {
		for i, page := range doc.pages {
			if s := overlap(query, page); s > 0 {
				ranked = append(ranked, scored{doc: doc, page: i + 1, score: s})
			}
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	out := models.PersonaResult{
		Metadata: map[string]any{
			"input_documents":      names,
			"persona":              req.Persona,
			"job_to_be_done":       req.Job,
			"processing_timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		ExtractedSections:  []models.ExtractedSection{},
		SubsectionAnalysis: []models.SubsectionAnalysis{},
	}
	for i, r := range ranked {
		text := r.doc.pages[r.page-1]
		out.ExtractedSections = append(out.ExtractedSections, models.ExtractedSection{
			Document:       r.doc.name,
			SectionTitle:   firstLineOf(text),
			ImportanceRank: i + 1,
			PageNumber:     r.page,
		})
		out.SubsectionAnalysis = append(out.SubsectionAnalysis, models.SubsectionAnalysis{
			Document:    r.doc.name,
			RefinedText: util.PassageSnippet(text, query, 400),
			PageNumber:  r.page,
		})
	}
	return out, nil
}

func (m *Mock) GenerateInsights(ctx context.Context, selection string, matches []models.Match) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.count("insights")
	if len(matches) == 0 {
		return []string{"No related passages were found for this selection."}, nil
	}
	docs := map[string]struct{}{}
	for _, match := range matches {
		docs[match.DocID] = struct{}{}
	}
	top := matches[0]
	return []string{
		fmt.Sprintf("The selection relates to %d passage(s) across %d document(s).", len(matches), len(docs)),
		fmt.Sprintf("Strongest connection: %q on page %d of %s.", top.Title, top.Page, top.Filename),
		fmt.Sprintf("Key terms: %s.", strings.Join(util.Terms(selection), ", ")),
	}, nil
}

func (m *Mock) GenerateAudio(ctx context.Context, req AudioRequest) (models.AudioResult, error) {
	if err := ctx.Err(); err != nil {
		return models.AudioResult{}, err
	}
	m.count("audio")
	var b strings.Builder
	fmt.Fprintf(&b, "Host: Let's talk about %q.\n", util.Snippet(req.Selection, 160))
	for _, insight := range req.Insights {
		fmt.Fprintf(&b, "Guest: %s\n", insight)
	}
	for _, match := range req.Matches {
		fmt.Fprintf(&b, "Host: %s, page %d, says: %s\n", match.Filename, match.Page, match.Snippet)
	}
	script := b.String()
	return models.AudioResult{
		Script:           script,
		DurationEstimate: float64(len(strings.Fields(script))) / 2.5,
		Speakers:         2,
	}, nil
}

func (m *Mock) DeleteDocuments(ctx context.Context, ids []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.count("delete")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remove(ids), nil
}

func (m *Mock) DispatchDelete(ids []string) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["dispatch"]++
	m.dispatched = append(m.dispatched, append([]string(nil), ids...))
	m.remove(ids)
}

func (m *Mock) ResetStorage(ctx context.Context) (models.ResetResult, error) {
	if err := ctx.Err(); err != nil {
		return models.ResetResult{}, err
	}
	m.count("reset")
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.docs)
	m.docs = map[string]*mockDoc{}
	m.order = nil
	return models.ResetResult{Message: "storage cleared", FilesRemoved: n, IndexReset: true}, nil
}

func (m *Mock) count(op string) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
}

// caller holds mu
func (m *Mock) put(doc *mockDoc) {
	if _, ok := m.docs[doc.id]; !ok {
		m.order = append(m.order, doc.id)
	}
	m.docs[doc.id] = doc
}

// caller holds mu
func (m *Mock) remove(ids []string) []string {
	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := m.docs[id]; !ok {
			continue
		}
		delete(m.docs, id)
		deleted = append(deleted, id)
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.docs[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return deleted
}

// caller holds mu
func (m *Mock) rank(text string, k int, include func(*mockDoc) bool) []models.Match {
	out := make([]models.Match, 0)
	for _, id := range m.order {
		doc := m.docs[id]
		if !include(doc) {
			continue
		}
		for i, page := range doc.pages {
			for _, chunk := range util.Passages(page, 800, 100) {
				score := overlap(text, chunk)
				if score <= 0 {
					continue
				}
				title := firstLineOf(page)
				snippet := util.PassageSnippet(chunk, text, 240)
				out = append(out, models.Match{
					DocID:           doc.id,
					Filename:        doc.name,
					Page:            i + 1,
					Title:           title,
					Snippet:         snippet,
					Score:           score,
					PDFName:         doc.name,
					SectionHeading:  title,
					SectionContent:  snippet,
					SectionID:       fmt.Sprintf("%s:%d", doc.id, i+1),
					RelevanceReason: "shares terms: " + strings.Join(util.SharedTerms(text, chunk), ", "),
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (m *Mock) load(f models.LocalFile) (*mockDoc, error) {
	sum, err := util.SHA256File(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	pages, err := pdfmeta.PageTexts(f.Path)
	if err != nil {
		return nil, &StatusError{Op: "upload", Code: 400, Body: err.Error()}
	}
	return &mockDoc{id: "doc_" + sum[:12], name: f.Name, pages: pages}, nil
}

func outlineOf(doc *mockDoc) models.Outline {
	out := models.Outline{DocID: doc.id, Title: util.TrimPDFSuffix(doc.name), Items: []models.OutlineItem{}}
	for i, page := range doc.pages {
		line := firstLineOf(page)
		if line == "" {
			continue
		}
		if i == 0 {
			out.Title = line
		}
		out.Items = append(out.Items, models.OutlineItem{Level: "H1", Text: line, Page: i + 1})
	}
	return out
}

func firstLineOf(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return util.Snippet(line, 120)
		}
	}
	return ""
}

func overlap(query, text string) float64 {
	q := util.Terms(query)
	if len(q) == 0 {
		return 0
	}
	return float64(len(util.SharedTerms(query, text))) / float64(len(q))
}
