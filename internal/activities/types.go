package activities

import "docworkspace/internal/models"

type IngestFileInput struct {
	BatchID string            `json:"batch_id"`
	Task    models.UploadTask `json:"task"`
}

type IngestFileOutput struct {
	Ingested int    `json:"ingested"`
	Pages    int    `json:"pages"`
	Title    string `json:"title,omitempty"`
}

type ExtractOutlineInput struct {
	BatchID string            `json:"batch_id"`
	Task    models.UploadTask `json:"task"`
}

type ExtractOutlineOutput struct {
	Outline models.Outline `json:"outline"`
}

type WriteBatchSummaryInput struct {
	BatchID string         `json:"batch_id"`
	Summary map[string]any `json:"summary"`
}
