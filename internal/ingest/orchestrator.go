package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"docworkspace/internal/logging"
	"docworkspace/internal/models"
	"docworkspace/internal/outlines"
	"docworkspace/internal/session"
	"docworkspace/internal/util"
	"docworkspace/internal/workflows"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

const (
	DefaultSuccessReset = 2 * time.Second
	DefaultErrorReset   = 3 * time.Second
)

var ErrNoFiles = errors.New("upload batch has no files")

// BatchStatus describes the latest batch. Outcomes are in file order.
type BatchStatus struct {
	BatchID    string                 `json:"batch_id,omitempty"`
	Status     Status                 `json:"status"`
	Class      models.StorageClass    `json:"class,omitempty"`
	Total      int                    `json:"total"`
	Succeeded  int                    `json:"succeeded"`
	Failed     int                    `json:"failed"`
	Outcomes   []models.UploadOutcome `json:"outcomes,omitempty"`
	Superseded bool                   `json:"superseded,omitempty"`
	Error      string                 `json:"error,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

type Options struct {
	Runner       Runner
	Registry     *session.Registry
	Policy       session.Policy
	Outlines     *outlines.Cache
	SuccessReset time.Duration
	ErrorReset   time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Orchestrator drives upload batches and commits their documents to the
// registry in one call per batch.
type Orchestrator struct {
	runner       Runner
	registry     *session.Registry
	policy       session.Policy
	outlines     *outlines.Cache
	successReset time.Duration
	errorReset   time.Duration
	clock        clock.Clock
	log          *zap.Logger

	mu     sync.Mutex
	status BatchStatus
	reset  *clock.Timer
}

func New(opts Options) *Orchestrator {
	if opts.SuccessReset <= 0 {
		opts.SuccessReset = DefaultSuccessReset
	}
	if opts.ErrorReset <= 0 {
		opts.ErrorReset = DefaultErrorReset
	}
	if opts.Policy == "" {
		opts.Policy = session.PolicyMerge
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Orchestrator{
		runner:       opts.Runner,
		registry:     opts.Registry,
		policy:       opts.Policy,
		outlines:     opts.Outlines,
		successReset: opts.SuccessReset,
		errorReset:   opts.ErrorReset,
		clock:        opts.Clock,
		log:          logging.OrNop(opts.Logger),
		status:       BatchStatus{Status: StatusIdle},
	}
}

// Upload runs one batch to completion. Per-file failures are reported in the
// outcomes; the returned error is only for an empty batch. A batch overtaken by
// a full session reset is reported as superseded and not committed.
func (o *Orchestrator) Upload(ctx context.Context, class models.StorageClass, files []models.LocalFile) (BatchStatus, error) {
	if len(files) == 0 {
		return o.Status(), ErrNoFiles
	}
	if class == "" {
		class = models.StorageBulk
	}
	gen := o.registry.Generation()
	batchID := uuid.NewString()
	log := o.log.With(zap.String("batch_id", batchID), zap.String("class", string(class)))

	o.begin(BatchStatus{BatchID: batchID, Status: StatusUploading, Class: class, Total: len(files)})

	tasks := make([]models.UploadTask, 0, len(files))
	outcomes := make([]models.UploadOutcome, len(files))
	runIdx := make([]int, 0, len(files))
	for i, f := range files {
		task := models.UploadTask{TaskID: uuid.NewString(), File: f, Class: class}
		if class == models.StorageFresh && i > 0 {
			outcomes[i] = workflows.Failed(task, "fresh batches read a single document", "skipped")
			continue
		}
		if task.File.Fingerprint == "" {
			if sum, err := util.SHA256File(f.Path); err == nil {
				task.File.Fingerprint = sum
			}
		}
		tasks = append(tasks, task)
		runIdx = append(runIdx, i)
	}

	o.update(batchID, func(s *BatchStatus) { s.Status = StatusProcessing })
	results, runErr := o.runner.Run(ctx, batchID, tasks)
	if runErr != nil {
		log.Error("ingest runner failed", zap.Error(runErr))
		for j, task := range tasks {
			outcomes[runIdx[j]] = workflows.Failed(task, runErr.Error(), "runner")
		}
	} else {
		for j := range tasks {
			outcomes[runIdx[j]] = results[j]
		}
	}

	docs := make([]models.SessionDocument, 0, len(tasks))
	var found []models.Outline
	for j, task := range tasks {
		out := outcomes[runIdx[j]]
		if !out.Succeeded() {
			continue
		}
		src := task.File
		docs = append(docs, models.SessionDocument{
			DocID:       out.DocID,
			DisplayName: task.File.Name,
			Source:      &src,
			Class:       class,
		})
		found = append(found, out.Outline)
	}

	final := BatchStatus{BatchID: batchID, Class: class, Total: len(files), Outcomes: outcomes}
	for _, out := range outcomes {
		if out.Succeeded() {
			final.Succeeded++
		} else {
			final.Failed++
		}
	}

	if len(docs) > 0 {
		committed, err := o.registry.ApplyAt(ctx, gen, o.policy, docs)
		switch {
		case !committed:
			final.Superseded = true
			log.Info("batch superseded by session reset", zap.Int("documents", len(docs)))
		case err != nil:
			// the registry keeps the documents in memory even when persisting fails
			final.Error = err.Error()
			log.Warn("batch committed without persistence", zap.Error(err))
		}
		if committed && o.outlines != nil {
			for _, ol := range found {
				o.outlines.Put(ol)
			}
		}
	}

	switch {
	case runErr != nil:
		final.Status = StatusError
		final.Error = runErr.Error()
	case final.Succeeded == 0:
		final.Status = StatusError
		final.Error = fmt.Sprintf("all %d files failed", final.Failed)
	default:
		final.Status = StatusSuccess
	}
	log.Info("upload batch finished",
		zap.String("status", string(final.Status)),
		zap.Int("succeeded", final.Succeeded),
		zap.Int("failed", final.Failed),
	)
	o.finish(final)
	return final, nil
}

func (o *Orchestrator) Status() BatchStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	s.Outcomes = append([]models.UploadOutcome(nil), o.status.Outcomes...)
	return s
}

func (o *Orchestrator) begin(s BatchStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopResetLocked()
	s.UpdatedAt = o.clock.Now()
	o.status = s
}

// update changes the status only while batchID is still the latest batch.
func (o *Orchestrator) update(batchID string, fn func(*BatchStatus)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.BatchID != batchID {
		return
	}
	fn(&o.status)
	o.status.UpdatedAt = o.clock.Now()
}

func (o *Orchestrator) finish(s BatchStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.BatchID != s.BatchID {
		return
	}
	o.stopResetLocked()
	s.UpdatedAt = o.clock.Now()
	o.status = s
	after := o.successReset
	if s.Status == StatusError {
		after = o.errorReset
	}
	id := s.BatchID
	o.reset = o.clock.AfterFunc(after, func() {
		o.update(id, func(st *BatchStatus) { st.Status = StatusIdle })
	})
}

func (o *Orchestrator) stopResetLocked() {
	if o.reset != nil {
		o.reset.Stop()
		o.reset = nil
	}
}

// Close stops the pending status reset.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopResetLocked()
}
