package workflows

import (
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"docworkspace/internal/activities"
	"docworkspace/internal/models"
)

const QueryGetBatchProgress = "GetBatchProgress"

// IngestBatchWorkflow runs one IngestFileWorkflow child per task, a window of
// children at a time. A failed child only fails its own task.
func IngestBatchWorkflow(ctx workflow.Context, input IngestBatchInput) (IngestBatchResult, error) {
	progress := BatchProgress{
		BatchID:       input.BatchID,
		Total:         len(input.Tasks),
		PerFile:       map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetBatchProgress, func() (BatchProgress, error) {
		return progress, nil
	}); err != nil {
		return IngestBatchResult{}, err
	}

	result := IngestBatchResult{BatchID: input.BatchID, Outcomes: make([]models.UploadOutcome, len(input.Tasks))}
	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}
	for i := 0; i < len(input.Tasks); i += maxChildren {
		end := i + maxChildren
		if end > len(input.Tasks) {
			end = len(input.Tasks)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		for _, task := range input.Tasks[i:end] {
			progress.PerFile[task.File.Name] = "processing"
			workflowID := "ingest-file-" + sanitizeID(input.BatchID) + "-" + sanitizeID(task.TaskID)
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: workflowID})
			futures = append(futures, workflow.ExecuteChildWorkflow(childCtx, IngestFileWorkflow, IngestFileInput{
				BatchID: input.BatchID,
				Task:    task,
			}))
			progress.ChildWorkflow[task.File.Name] = workflowID
		}

		for idx, f := range futures {
			task := input.Tasks[i+idx]
			var out models.UploadOutcome
			if err := f.Get(ctx, &out); err != nil {
				out = failed(task, err)
			}
			if !out.Succeeded() {
				progress.Failed++
			}
			progress.Done++
			progress.PerFile[task.File.Name] = string(out.Status)
			result.Outcomes[i+idx] = out
		}
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, ao), "WriteBatchSummaryActivity", activities.WriteBatchSummaryInput{
		BatchID: input.BatchID,
		Summary: map[string]any{
			"batch_id":     input.BatchID,
			"total":        progress.Total,
			"done":         progress.Done,
			"failed":       progress.Failed,
			"per_file":     progress.PerFile,
			"generated_at": workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return result, nil
}

// IngestFileWorkflow ingests one file and then extracts its outline. Activity
// failures become a failed outcome, not a workflow error.
func IngestFileWorkflow(ctx workflow.Context, input IngestFileInput) (models.UploadOutcome, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	task := input.Task

	var ing activities.IngestFileOutput
	if err := workflow.ExecuteActivity(ctx, "IngestFileActivity", activities.IngestFileInput{
		BatchID: input.BatchID,
		Task:    task,
	}).Get(ctx, &ing); err != nil {
		workflow.GetLogger(ctx).Warn("ingest failed", "file", task.File.Name, "error", err)
		return failed(task, err), nil
	}

	var ol activities.ExtractOutlineOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractOutlineActivity", activities.ExtractOutlineInput{
		BatchID: input.BatchID,
		Task:    task,
	}).Get(ctx, &ol); err != nil {
		workflow.GetLogger(ctx).Warn("outline extraction failed", "file", task.File.Name, "error", err)
		return failed(task, err), nil
	}

	return Succeeded(task, ing, ol), nil
}

// Succeeded builds the outcome of a task whose both steps passed.
func Succeeded(task models.UploadTask, ing activities.IngestFileOutput, ol activities.ExtractOutlineOutput) models.UploadOutcome {
	title := ol.Outline.Title
	if title == "" {
		title = ing.Title
	}
	return models.UploadOutcome{
		TaskID:  task.TaskID,
		File:    task.File.Name,
		Status:  models.TaskSuccess,
		DocID:   ol.Outline.DocID,
		Title:   title,
		Pages:   ing.Pages,
		Outline: ol.Outline,
	}
}

func failed(task models.UploadTask, err error) models.UploadOutcome {
	return Failed(task, err.Error(), activities.ErrorType(err))
}

// Failed builds the outcome of a task that did not produce a document.
func Failed(task models.UploadTask, reason, errType string) models.UploadOutcome {
	return models.UploadOutcome{
		TaskID:    task.TaskID,
		File:      task.File.Name,
		Status:    models.TaskFailed,
		Reason:    reason,
		ErrorType: errType,
	}
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
