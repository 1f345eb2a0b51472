package ingest

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"

	"docworkspace/internal/activities"
	"docworkspace/internal/models"
	"docworkspace/internal/workflows"
)

// Runner resolves every task of a batch. Outcomes are index-aligned with tasks.
// An error means the runner itself failed and no outcome is trustworthy.
type Runner interface {
	Run(ctx context.Context, batchID string, tasks []models.UploadTask) ([]models.UploadOutcome, error)
}

// LocalRunner fans the tasks out on goroutines of this process.
type LocalRunner struct {
	acts     *activities.Activities
	parallel int
}

// NewLocalRunner bounds concurrent files to parallel; 0 means unbounded.
func NewLocalRunner(acts *activities.Activities, parallel int) *LocalRunner {
	return &LocalRunner{acts: acts, parallel: parallel}
}

func (r *LocalRunner) Run(ctx context.Context, batchID string, tasks []models.UploadTask) ([]models.UploadOutcome, error) {
	outcomes := make([]models.UploadOutcome, len(tasks))
	// a plain group: one failed file must not cancel its siblings
	var g errgroup.Group
	if r.parallel > 0 {
		g.SetLimit(r.parallel)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			outcomes[i] = r.runOne(ctx, batchID, task)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (r *LocalRunner) runOne(ctx context.Context, batchID string, task models.UploadTask) models.UploadOutcome {
	ing, err := r.acts.IngestFileActivity(ctx, activities.IngestFileInput{BatchID: batchID, Task: task})
	if err != nil {
		return workflows.Failed(task, err.Error(), activities.ErrorType(err))
	}
	ol, err := r.acts.ExtractOutlineActivity(ctx, activities.ExtractOutlineInput{BatchID: batchID, Task: task})
	if err != nil {
		return workflows.Failed(task, err.Error(), activities.ErrorType(err))
	}
	return workflows.Succeeded(task, ing, ol)
}

// WorkflowStarter is the part of the Temporal client the runner needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
}

// TemporalRunner runs the batch as an IngestBatchWorkflow and waits for it.
type TemporalRunner struct {
	client      WorkflowStarter
	taskQueue   string
	maxChildren int
}

func NewTemporalRunner(c WorkflowStarter, taskQueue string, maxChildren int) *TemporalRunner {
	return &TemporalRunner{client: c, taskQueue: taskQueue, maxChildren: maxChildren}
}

func (r *TemporalRunner) Run(ctx context.Context, batchID string, tasks []models.UploadTask) ([]models.UploadOutcome, error) {
	we, err := r.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                    "ingest-batch-" + batchID,
		TaskQueue:             r.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, workflows.IngestBatchWorkflow, workflows.IngestBatchInput{
		BatchID:               batchID,
		Tasks:                 tasks,
		MaxConcurrentChildren: r.maxChildren,
	})
	if err != nil {
		return nil, fmt.Errorf("start ingest workflow: %w", err)
	}
	var res workflows.IngestBatchResult
	if err := we.Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("ingest workflow %s: %w", we.GetID(), err)
	}
	if len(res.Outcomes) != len(tasks) {
		return nil, fmt.Errorf("ingest workflow %s returned %d outcomes for %d tasks", we.GetID(), len(res.Outcomes), len(tasks))
	}
	return res.Outcomes, nil
}
