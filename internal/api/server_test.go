package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docworkspace/internal/activities"
	"docworkspace/internal/config"
	"docworkspace/internal/ingest"
	"docworkspace/internal/models"
	"docworkspace/internal/outlines"
	"docworkspace/internal/pdfmeta/pdftest"
	"docworkspace/internal/remote"
	"docworkspace/internal/search"
	"docworkspace/internal/session"
	"docworkspace/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testKey = "workspace:api:documents"

type harness struct {
	svc   *remote.Mock
	store *session.MemoryStore
	reg   *session.Registry
	clk     *clock.Mock
	uploads string
	h       http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hs := &harness{
		svc:     remote.NewMock(),
		store:   session.NewMemoryStore(),
		clk:     clock.NewMock(),
		uploads: filepath.Join(t.TempDir(), "uploads"),
	}
	hs.reg = session.New(session.Options{Store: hs.store, Key: testKey, URL: hs.svc.DocumentURL, Clock: hs.clk})
	cache := outlines.New(time.Minute, 0)
	ws := workspace.New(workspace.Options{
		Remote:   hs.svc,
		Registry: hs.reg,
		Outlines: cache,
		Orchestrator: ingest.New(ingest.Options{
			Runner:   ingest.NewLocalRunner(activities.New(hs.svc, "", nil), 0),
			Registry: hs.reg,
			Outlines: cache,
			Clock:    hs.clk,
		}),
		Pipeline:  search.New(hs.svc, search.Options{Clock: hs.clk}),
		UploadDir: hs.uploads,
		Clock:     hs.clk,
	})
	t.Cleanup(ws.Close)
	hs.h = NewServer(config.Config{DataDir: t.TempDir()}, ws, nil).Routes()
	return hs
}

func (hs *harness) seed(t *testing.T, id, name string, pages ...string) {
	t.Helper()
	hs.svc.Seed(id, name, pages...)
	require.NoError(t, hs.reg.Upsert(context.Background(), models.SessionDocument{DocID: id, DisplayName: name}))
}

func (hs *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if _, ok := body.(string); !ok && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func uploadRequest(t *testing.T, class string, files map[string][]byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if class != "" {
		require.NoError(t, mw.WriteField("class", class))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthzAndCORS(t *testing.T) {
	hs := newHarness(t)
	rec := hs.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = hs.do(t, http.MethodOptions, "/documents", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUploadListAndResolve(t *testing.T) {
	hs := newHarness(t)
	req := uploadRequest(t, "bulk", map[string][]byte{
		"alpha.pdf": pdftest.Build("Alpha heading\nalpha body"),
		"notes.txt": []byte("plain text"),
	})
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := decode[ingest.BatchStatus](t, rec)
	require.Equal(t, ingest.StatusSuccess, st.Status)
	require.Equal(t, 1, st.Succeeded)
	require.Equal(t, 1, st.Failed)

	list := decode[struct {
		Documents []models.SessionDocument `json:"documents"`
	}](t, hs.do(t, http.MethodGet, "/documents", nil))
	require.Len(t, list.Documents, 1)
	require.Equal(t, "alpha.pdf", list.Documents[0].DisplayName)

	rec = hs.do(t, http.MethodGet, "/documents/resolve?name=Alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, list.Documents[0].DocID, decode[models.SessionDocument](t, rec).DocID)

	rec = hs.do(t, http.MethodGet, "/documents/resolve?name=missing.pdf", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "DW-API-4004", decode[errBody](t, rec).Error.Code)

	rec = hs.do(t, http.MethodGet, "/uploads/status", nil)
	require.Equal(t, ingest.StatusSuccess, decode[ingest.BatchStatus](t, rec).Status)
}

func TestUploadedCopiesLeaveWithTheSession(t *testing.T) {
	hs := newHarness(t)
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, uploadRequest(t, "bulk", map[string][]byte{
		"alpha.pdf": pdftest.Build("Alpha heading\nalpha body"),
		"beta.pdf":  pdftest.Build("Beta heading\nbeta body"),
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[ingest.BatchStatus](t, rec)
	require.Equal(t, 2, st.Succeeded)

	staged, err := filepath.Glob(filepath.Join(hs.uploads, "*", "*.pdf"))
	require.NoError(t, err)
	require.Len(t, staged, 2)

	doc, ok := hs.reg.Resolve("alpha.pdf")
	require.True(t, ok)
	rec = hs.do(t, http.MethodDelete, "/documents/"+doc.DocID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoFileExists(t, doc.Source.Path)

	rec = hs.do(t, http.MethodPost, "/session/leave", map[string]any{"signal": "pagehide"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoDirExists(t, hs.uploads)
}

func TestUploadValidation(t *testing.T) {
	hs := newHarness(t)

	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, uploadRequest(t, "", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "No PDF files were provided.", decode[errBody](t, rec).Error.Message)

	rec = httptest.NewRecorder()
	hs.h.ServeHTTP(rec, uploadRequest(t, "archive", map[string][]byte{"a.pdf": pdftest.Build("A")}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Storage class must be bulk, fresh or viewer.", decode[errBody](t, rec).Error.Message)
}

func TestOpenAndRemove(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodPost, "/documents/open", map[string]any{"ref": "Alpha.pdf"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	hs.seed(t, "doc_a", "Alpha.pdf", "Alpha intro\ntext", "Alpha results\ntext")
	rec = hs.do(t, http.MethodPost, "/documents/open", map[string]any{"ref": "alpha", "page": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[workspace.View](t, rec)
	require.Equal(t, "doc_a", v.DocID)
	require.Equal(t, 2, v.Page)
	require.Len(t, v.Outline.Items, 2)

	rec = hs.do(t, http.MethodPost, "/documents/open", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Ref is required.", decode[errBody](t, rec).Error.Message)

	rec = hs.do(t, http.MethodDelete, "/documents/doc_a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, hs.svc.Has("doc_a"))
	require.Zero(t, hs.reg.Len())

	rec = hs.do(t, http.MethodDelete, "/documents/doc_a", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectionSearchAndFollowUps(t *testing.T) {
	hs := newHarness(t)
	hs.seed(t, "doc_a", "Alpha.pdf", "Latency results\nlatency measured at the edge")

	rec := hs.do(t, http.MethodPost, "/search/insights", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "Select some text in the document first.", decode[errBody](t, rec).Error.Message)

	rec = hs.do(t, http.MethodPost, "/selection", map[string]any{"text": "latency   results"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, search.StatusSearching, decode[search.Snapshot](t, rec).Status)

	hs.clk.Add(search.DefaultDebounce)
	require.Eventually(t, func() bool {
		snap := decode[search.Snapshot](t, hs.do(t, http.MethodGet, "/search", nil))
		return snap.Status == search.StatusFound && len(snap.Matches) > 0
	}, time.Second, 5*time.Millisecond)

	rec = hs.do(t, http.MethodPost, "/search/insights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	insights := decode[struct {
		Insights []string `json:"insights"`
	}](t, rec).Insights
	require.NotEmpty(t, insights)

	rec = hs.do(t, http.MethodPost, "/search/audio", map[string]any{"insights": insights})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decode[models.AudioResult](t, rec).Script)

	rec = hs.do(t, http.MethodPost, "/search/recommendations", map[string]any{"max_results": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "latency results", decode[remote.RecommendationResult](t, rec).SelectedText)
}

func TestPersona(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodPost, "/persona", map[string]any{"persona": "analyst"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hs.do(t, http.MethodPost, "/persona", map[string]any{"persona": "analyst", "job": "latency"})
	require.Equal(t, http.StatusConflict, rec.Code)

	hs.seed(t, "doc_a", "Alpha.pdf", "Latency results\nlatency measured at the edge")
	rec = hs.do(t, http.MethodPost, "/persona", map[string]any{"persona": "network analyst", "job": "review latency results"})
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[workspace.Analysis](t, rec)
	require.NotEmpty(t, a.Top)
	require.NotNil(t, a.View)
	require.Equal(t, "doc_a", a.View.DocID)

	rec = hs.do(t, http.MethodPost, "/persona", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Malformed JSON request body.", decode[errBody](t, rec).Error.Message)
}

func TestLeaveBeaconIsIdempotent(t *testing.T) {
	hs := newHarness(t)
	hs.seed(t, "doc_a", "Alpha.pdf", "Alpha intro")
	hs.seed(t, "doc_b", "Beta.pdf", "Beta intro")

	rec := hs.do(t, http.MethodPost, "/session/leave", "beforeunload")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Signal     string   `json:"signal"`
		Dispatched []string `json:"dispatched"`
	}](t, rec)
	require.Equal(t, "beforeunload", out.Signal)
	require.ElementsMatch(t, []string{"doc_a", "doc_b"}, out.Dispatched)

	rec = hs.do(t, http.MethodPost, "/session/leave?signal=pagehide", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "doc_a")
	require.Len(t, hs.svc.Dispatched(), 1)

	persisted, err := hs.store.Load(context.Background(), testKey)
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestSessionOpenReportsDroppedDocuments(t *testing.T) {
	hs := newHarness(t)
	require.NoError(t, hs.store.Save(context.Background(), testKey, []models.PersistedEntry{{DocID: "doc_gone", Name: "Gone.pdf"}}))

	rec := hs.do(t, http.MethodPost, "/session/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	require.Equal(t, []any{"doc_gone"}, body["dropped"])
	require.Contains(t, body["notice"], "no longer available")
}

func TestReset(t *testing.T) {
	hs := newHarness(t)
	hs.seed(t, "doc_a", "Alpha.pdf", "Alpha intro")

	rec := hs.do(t, http.MethodPost, "/session/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[models.ResetResult](t, rec).IndexReset)
	require.Zero(t, hs.reg.Len())
}

func TestUnknownRouteAndMethod(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.True(t, strings.HasPrefix(decode[errBody](t, rec).Error.Code, "DW-API-"))

	rec = hs.do(t, http.MethodGet, "/persona", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "DW-API-4005", decode[errBody](t, rec).Error.Code)
}
