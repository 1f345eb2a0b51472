package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"docworkspace/internal/models"
)

// HTTPClient talks to the analysis service under {base}/v1.
type HTTPClient struct {
	base          string
	client        *http.Client
	beaconTimeout time.Duration
	log           *zap.Logger
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

func WithBeaconTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) { h.beaconTimeout = d }
}

func WithLogger(l *zap.Logger) HTTPOption {
	return func(h *HTTPClient) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHTTPClient(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	h := &HTTPClient{
		base:          strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: timeout},
		beaconTimeout: 2 * time.Second,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPClient) url(path string) string {
	return h.base + path
}

func (h *HTTPClient) DocumentURL(docID string) string {
	return h.url("/v1/files/" + url.PathEscape(docID))
}

func (h *HTTPClient) ExtractOutline(ctx context.Context, req OutlineRequest) (models.Outline, error) {
	if req.File == nil && req.DocID == "" {
		return models.Outline{}, fmt.Errorf("extract outline: %w: file or docId required", ErrPermanent)
	}
	form := newForm()
	if req.File != nil {
		if err := form.file("file", *req.File); err != nil {
			return models.Outline{}, err
		}
	}
	if req.DocID != "" {
		form.field("docId", req.DocID)
	}
	if req.Class != "" {
		form.field("storage_type", string(req.Class))
	}
	var out models.Outline
	if err := h.doForm(ctx, "outline", "/v1/outline", form, &out); err != nil {
		return models.Outline{}, err
	}
	if out.DocID == "" {
		out.DocID = req.DocID
	}
	return out, nil
}

func (h *HTTPClient) ProbeDocument(ctx context.Context, docID string) (models.Outline, error) {
	return h.ExtractOutline(ctx, OutlineRequest{DocID: docID})
}

func (h *HTTPClient) PersonaAnalyze(ctx context.Context, req PersonaRequest) (models.PersonaResult, error) {
	form := newForm()
	form.field("persona", req.Persona)
	form.field("jobToBeDone", req.Job)
	for _, f := range req.Files {
		if err := form.file("files", f); err != nil {
			return models.PersonaResult{}, err
		}
	}
	for _, id := range req.DocIDs {
		form.field("docIds", id)
	}
	var out models.PersonaResult
	if err := h.doForm(ctx, "persona analyze", "/v1/persona/analyze", form, &out); err != nil {
		return models.PersonaResult{}, err
	}
	return out, nil
}

func (h *HTTPClient) SemanticIngest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	form := newForm()
	for _, f := range req.Files {
		if err := form.file("files", f); err != nil {
			return IngestResult{}, err
		}
	}
	for _, id := range req.DocIDs {
		form.field("docIds", id)
	}
	if req.Class != "" {
		form.field("storage_type", string(req.Class))
	}
	var out IngestResult
	if err := h.doForm(ctx, "search ingest", "/v1/search/ingest", form, &out); err != nil {
		return IngestResult{}, err
	}
	return out, nil
}

func (h *HTTPClient) SemanticQuery(ctx context.Context, text string, k int) ([]models.Match, error) {
	form := newForm()
	form.field("text", text)
	if k > 0 {
		form.field("k", strconv.Itoa(k))
	}
	var out struct {
		Matches []models.Match `json:"matches"`
	}
	if err := h.doForm(ctx, "search query", "/v1/search/query", form, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

func (h *HTTPClient) TextSelectionRecommendations(ctx context.Context, req RecommendationRequest) (RecommendationResult, error) {
	var out RecommendationResult
	if err := h.doJSON(ctx, "recommendations", http.MethodPost, "/v1/recommendations/text-selection", req, &out); err != nil {
		return RecommendationResult{}, err
	}
	return out, nil
}

func (h *HTTPClient) GenerateInsights(ctx context.Context, selection string, matches []models.Match) ([]string, error) {
	payload := map[string]any{"selection": selection, "matches": nonNilMatches(matches)}
	var out struct {
		Insights []string `json:"insights"`
	}
	if err := h.doJSON(ctx, "insights", http.MethodPost, "/v1/insights", payload, &out); err != nil {
		return nil, err
	}
	return out.Insights, nil
}

func (h *HTTPClient) GenerateAudio(ctx context.Context, req AudioRequest) (models.AudioResult, error) {
	req.Matches = nonNilMatches(req.Matches)
	if req.Insights == nil {
		req.Insights = []string{}
	}
	var out models.AudioResult
	if err := h.doJSON(ctx, "audio", http.MethodPost, "/v1/audio/generate", req, &out); err != nil {
		return models.AudioResult{}, err
	}
	return out, nil
}

func (h *HTTPClient) DeleteDocuments(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out struct {
		Deleted []string `json:"deleted"`
	}
	if err := h.doJSON(ctx, "delete files", http.MethodDelete, "/v1/files", map[string]any{"docIds": ids}, &out); err != nil {
		return nil, err
	}
	return out.Deleted, nil
}

func (h *HTTPClient) DispatchDelete(ids []string) {
	if len(ids) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"docIds": ids})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.beaconTimeout)
		defer cancel()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url("/v1/files/delete"), bytes.NewReader(payload))
		if err != nil {
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := h.client.Do(httpReq)
		if err != nil {
			h.log.Debug("delete dispatch failed", zap.Int("docs", len(ids)), zap.Error(err))
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 400 {
			h.log.Debug("delete dispatch rejected", zap.Int("docs", len(ids)), zap.Int("status", resp.StatusCode))
		}
	}()
}

func (h *HTTPClient) ResetStorage(ctx context.Context) (models.ResetResult, error) {
	var out models.ResetResult
	if err := h.doJSON(ctx, "storage clear", http.MethodPost, "/v1/storage/clear", nil, &out); err != nil {
		return models.ResetResult{}, err
	}
	return out, nil
}

func (h *HTTPClient) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, h.url(path), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return h.do(op, httpReq, out)
}

func (h *HTTPClient) doForm(ctx context.Context, op, path string, form *multipartForm, out any) error {
	contentType, body, err := form.finish()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url(path), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	return h.do(op, httpReq, out)
}

func (h *HTTPClient) do(op string, httpReq *http.Request, out any) error {
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

type multipartForm struct {
	buf bytes.Buffer
	w   *multipart.Writer
}

func newForm() *multipartForm {
	f := &multipartForm{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *multipartForm) field(name, value string) {
	_ = f.w.WriteField(name, value)
}

func (f *multipartForm) file(field string, lf models.LocalFile) error {
	src, err := lf.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", lf.Name, err)
	}
	defer src.Close()
	part, err := f.w.CreateFormFile(field, lf.Name)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", lf.Name, err)
	}
	return nil
}

func (f *multipartForm) finish() (string, io.Reader, error) {
	if err := f.w.Close(); err != nil {
		return "", nil, fmt.Errorf("close multipart: %w", err)
	}
	return f.w.FormDataContentType(), &f.buf, nil
}

func nonNilMatches(m []models.Match) []models.Match {
	if m == nil {
		return []models.Match{}
	}
	return m
}
