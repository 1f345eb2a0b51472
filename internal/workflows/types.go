package workflows

import "docworkspace/internal/models"

type IngestBatchInput struct {
	BatchID               string              `json:"batch_id"`
	Tasks                 []models.UploadTask `json:"tasks"`
	MaxConcurrentChildren int                 `json:"max_concurrent_children"`
}

type IngestBatchResult struct {
	BatchID  string                 `json:"batch_id"`
	Outcomes []models.UploadOutcome `json:"outcomes"`
}

type IngestFileInput struct {
	BatchID string            `json:"batch_id"`
	Task    models.UploadTask `json:"task"`
}

type BatchProgress struct {
	BatchID       string            `json:"batch_id"`
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Failed        int               `json:"failed"`
	PerFile       map[string]string `json:"per_file"`
	ChildWorkflow map[string]string `json:"child_workflow"`
}
