package remote

import (
	"context"

	"docworkspace/internal/models"
)

type OutlineRequest struct {
	File  *models.LocalFile
	DocID string
	Class models.StorageClass
}

type PersonaRequest struct {
	Persona string
	Job     string
	Files   []models.LocalFile
	DocIDs  []string
}

type IngestRequest struct {
	Files  []models.LocalFile
	DocIDs []string
	Class  models.StorageClass
}

type IngestResult struct {
	Ingested int `json:"ingested"`
}

type RecommendationRequest struct {
	SelectedText string `json:"selected_text"`
	CurrentDocID string `json:"current_doc_id"`
	MaxResults   int    `json:"max_recommendations,omitempty"`
}

type RecommendationResult struct {
	Recommendations []models.Recommendation `json:"recommendations"`
	SelectedText    string                  `json:"selected_text"`
	TotalFound      int                     `json:"total_found"`
}

type AudioRequest struct {
	Selection string         `json:"selection"`
	Matches   []models.Match `json:"matches"`
	Insights  []string       `json:"insights"`
	Voice     string         `json:"voice,omitempty"`
}

// Client is the typed surface of the document analysis service. Every call is
// idempotent by contract; deleting an unknown id succeeds.
type Client interface {
	ExtractOutline(ctx context.Context, req OutlineRequest) (models.Outline, error)
	PersonaAnalyze(ctx context.Context, req PersonaRequest) (models.PersonaResult, error)
	SemanticIngest(ctx context.Context, req IngestRequest) (IngestResult, error)
	SemanticQuery(ctx context.Context, text string, k int) ([]models.Match, error)
	TextSelectionRecommendations(ctx context.Context, req RecommendationRequest) (RecommendationResult, error)
	GenerateInsights(ctx context.Context, selection string, matches []models.Match) ([]string, error)
	GenerateAudio(ctx context.Context, req AudioRequest) (models.AudioResult, error)
	DeleteDocuments(ctx context.Context, ids []string) ([]string, error)
	// DispatchDelete sends a deletion without waiting for it. It never blocks and
	// is not bound to any caller context; failures are only logged.
	DispatchDelete(ids []string)
	ResetStorage(ctx context.Context) (models.ResetResult, error)
	DocumentURL(docID string) string
	// ProbeDocument checks that docID still exists remotely and returns its outline.
	ProbeDocument(ctx context.Context, docID string) (models.Outline, error)
}
