package api

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"docworkspace/internal/config"
	"docworkspace/internal/ingest"
	"docworkspace/internal/lifecycle"
	"docworkspace/internal/logging"
	"docworkspace/internal/models"
	"docworkspace/internal/remote"
	"docworkspace/internal/session"
	"docworkspace/internal/util"
	"docworkspace/internal/workspace"
)

const maxUploadBytes = 128 << 20

type Server struct {
	cfg config.Config
	ws  *workspace.Workspace
	log *zap.Logger
}

func NewServer(cfg config.Config, ws *workspace.Workspace, log *zap.Logger) *Server {
	return &Server{cfg: cfg, ws: ws, log: logging.OrNop(log)}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(withCORS)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/", s.handleUpload)
		r.Get("/resolve", s.handleResolve)
		r.Post("/open", s.handleOpen)
		r.Delete("/{docID}", s.handleRemove)
	})
	r.Post("/selection", s.handleSelection)
	r.Route("/search", func(r chi.Router) {
		r.Get("/", s.handleSearch)
		r.Post("/insights", s.handleInsights)
		r.Post("/audio", s.handleAudio)
		r.Post("/recommendations", s.handleRecommendations)
	})
	r.Post("/persona", s.handlePersona)
	r.Get("/uploads/status", s.handleUploadStatus)
	r.Route("/session", func(r chi.Router) {
		r.Post("/open", s.handleSessionOpen)
		r.Post("/reset", s.handleReset)
		r.Post("/leave", s.handleLeave)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": s.ws.Documents(),
		"view":      s.ws.View(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	class, err := models.ParseStorageClass(strings.TrimSpace(r.FormValue("class")))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		if single, ok := firstSingleFile(r.MultipartForm.File); ok {
			headers = append(headers, single)
		}
	}
	if len(headers) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	inDir, err := s.ws.StageDir()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	files := make([]models.LocalFile, 0, len(headers))
	for _, fh := range headers {
		fingerprint, savedPath, err := saveUploadedFile(inDir, fh)
		if err != nil {
			_ = os.RemoveAll(inDir)
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		lf, err := models.LocalFileFromPath(savedPath)
		if err != nil {
			_ = os.RemoveAll(inDir)
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		lf.Fingerprint = fingerprint
		files = append(files, lf)
	}

	st, err := s.ws.Upload(r.Context(), class, files)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("name is required"))
		return
	}
	doc, ok := s.ws.Resolve(name)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("%w: %q", workspace.ErrUnknownDocument, name))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type openRequest struct {
	Ref  string `json:"ref"`
	Page int    `json:"page"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Ref) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("ref is required"))
		return
	}
	v, err := s.ws.OpenDocument(r.Context(), req.Ref, req.Page)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "docID"))
	doc, err := s.ws.Remove(r.Context(), ref)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": doc})
}

type selectionRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.ws.Select(req.Text)
	writeJSON(w, http.StatusAccepted, s.ws.Search())
}

func (s *Server) handleSearch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ws.Search())
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.ws.Insights(r.Context())
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

type audioRequest struct {
	Insights []string `json:"insights"`
	Voice    string   `json:"voice"`
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.ws.Audio(r.Context(), req.Insights, req.Voice)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type recommendationsRequest struct {
	MaxResults int `json:"max_results"`
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.ws.Recommendations(r.Context(), req.MaxResults)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type personaRequest struct {
	Persona string `json:"persona"`
	Job     string `json:"job"`
}

func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	var req personaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Persona) == "" || strings.TrimSpace(req.Job) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("persona and job are required"))
		return
	}
	res, err := s.ws.Analyze(r.Context(), req.Persona, req.Job)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ws.UploadStatus())
}

func (s *Server) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	report, err := s.ws.Open(r.Context())
	out := map[string]any{
		"kept":    nonNil(report.Kept),
		"dropped": nonNil(report.Dropped),
	}
	switch {
	case errors.Is(err, session.ErrAllDropped):
		out["notice"] = "Previously uploaded documents are no longer available. Please upload them again."
	case err != nil:
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	res, err := s.ws.Reset(r.Context())
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleLeave is the beacon target of page-hide and unload. Beacons carry no
// JSON content type, so the signal is read from the query or a plain body.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("signal")
	if raw == "" {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<10))
		var payload struct {
			Signal string `json:"signal"`
		}
		if json.Unmarshal(body, &payload) == nil {
			raw = payload.Signal
		} else {
			raw = strings.TrimSpace(string(body))
		}
	}
	sig := lifecycle.SignalPageHide
	switch lifecycle.Signal(raw) {
	case lifecycle.SignalBeforeUnload, lifecycle.SignalHidden:
		sig = lifecycle.Signal(raw)
	}
	writeJSON(w, http.StatusOK, s.ws.Leave(sig))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return false
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// statusFor maps workspace and remote errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrNoFiles):
		return http.StatusBadRequest
	case errors.Is(err, workspace.ErrUnknownDocument), errors.Is(err, remote.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workspace.ErrNoSelection), errors.Is(err, workspace.ErrNoDocuments):
		return http.StatusConflict
	case errors.Is(err, remote.ErrTransient), errors.Is(err, remote.ErrPermanent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// saveUploadedFile stores fh under dstDir with its base name and returns the
// sha256 of its content.
func saveUploadedFile(dstDir string, fh *multipart.FileHeader) (fingerprint, path string, err error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), src); err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}

	fingerprint = fmt.Sprintf("%x", h.Sum(nil))
	name := fh.Filename
	if b := filepath.Base(name); b == "." || b == string(filepath.Separator) {
		name = fingerprint[:12] + ".pdf"
	}
	finalPath := util.SafeJoin(dstDir, name)
	if err := tmp.Close(); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", "", fmt.Errorf("atomic move upload: %w", err)
	}
	return fingerprint, finalPath, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "DW-API-4000"

	switch {
	case status == http.StatusBadGateway:
		return apiError{
			Code:    "DW-API-5020",
			Message: "Document service unavailable. Retry shortly.",
		}
	case status >= 500:
		raw := ""
		if err != nil {
			raw = strings.ToLower(err.Error())
		}
		switch {
		case strings.Contains(raw, "persist session"), strings.Contains(raw, "session store"):
			return apiError{
				Code:    "DW-STORE-5001",
				Message: "Session storage is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "DW-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "DW-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "DW-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "DW-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "DW-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case errors.Is(err, workspace.ErrUnknownDocument):
			msg = "Document is not part of this session."
		case errors.Is(err, workspace.ErrNoSelection):
			msg = "Select some text in the document first."
		case errors.Is(err, workspace.ErrNoDocuments):
			msg = "Upload documents before running an analysis."
		case errors.Is(err, ingest.ErrNoFiles):
			msg = "No PDF files were provided."
		}
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "no files provided"):
			msg = "No PDF files were provided."
		case strings.Contains(low, "unknown storage class"):
			msg = "Storage class must be bulk, fresh or viewer."
		case strings.Contains(low, "persona and job are required"):
			msg = "Both persona and job are required."
		case strings.Contains(low, "is required"):
			msg = capitalize(err.Error()) + "."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
