package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"docworkspace/internal/logging"
	"docworkspace/internal/models"
	"docworkspace/internal/pdfmeta"
	"docworkspace/internal/remote"
	"docworkspace/internal/util"
)

// ErrTypePreflight marks files rejected before any remote call.
const ErrTypePreflight = "preflight"

type Activities struct {
	remote  remote.Client
	dataDir string
	log     *zap.Logger
}

func New(rc remote.Client, dataDir string, log *zap.Logger) *Activities {
	return &Activities{remote: rc, dataDir: dataDir, log: logging.OrNop(log)}
}

// IngestFileActivity checks that the file is a readable PDF and hands it to the
// semantic index.
func (a *Activities) IngestFileActivity(ctx context.Context, in IngestFileInput) (IngestFileOutput, error) {
	f := in.Task.File
	if !util.HasPDFSuffix(f.Name) {
		return IngestFileOutput{}, temporal.NewNonRetryableApplicationError(
			"preflight "+f.Name, ErrTypePreflight, util.ErrUnsupportedSuffix)
	}
	info, err := pdfmeta.Inspect(f.Path)
	if err != nil {
		return IngestFileOutput{}, temporal.NewNonRetryableApplicationError(
			"preflight "+f.Name, ErrTypePreflight, err)
	}
	res, err := a.remote.SemanticIngest(ctx, remote.IngestRequest{Files: []models.LocalFile{f}, Class: in.Task.Class})
	if err != nil {
		return IngestFileOutput{}, remoteFailure("ingest "+f.Name, err)
	}
	a.log.Debug("file ingested",
		zap.String("batch_id", in.BatchID),
		zap.String("file", f.Name),
		zap.Int("pages", info.Pages),
	)
	return IngestFileOutput{Ingested: res.Ingested, Pages: info.Pages, Title: info.Title}, nil
}

// ExtractOutlineActivity uploads the file for outline extraction; the returned
// outline carries the document id the service assigned.
func (a *Activities) ExtractOutlineActivity(ctx context.Context, in ExtractOutlineInput) (ExtractOutlineOutput, error) {
	f := in.Task.File
	o, err := a.remote.ExtractOutline(ctx, remote.OutlineRequest{File: &f, Class: in.Task.Class})
	if err != nil {
		return ExtractOutlineOutput{}, remoteFailure("outline "+f.Name, err)
	}
	if o.DocID == "" {
		return ExtractOutlineOutput{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("outline %s: service returned no document id", f.Name), string(remote.ErrorPermanent), nil)
	}
	return ExtractOutlineOutput{Outline: o}, nil
}

func (a *Activities) WriteBatchSummaryActivity(ctx context.Context, in WriteBatchSummaryInput) error {
	_ = ctx
	if a.dataDir == "" {
		return nil
	}
	outPath := filepath.Join(a.dataDir, "batches", in.BatchID+".json")
	return util.WriteJSONAtomic(outPath, in.Summary)
}

// remoteFailure wraps err so that only transient failures are retried.
func remoteFailure(op string, err error) error {
	kind := remote.ClassifyError(err)
	if kind == remote.ErrorTransient {
		return temporal.NewApplicationErrorWithCause(op, string(kind), err)
	}
	return temporal.NewNonRetryableApplicationError(op, string(kind), err)
}

// ErrorType returns the failure class recorded on an activity error, or the
// remote classification when err did not come from an activity.
func ErrorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}
	return string(remote.ClassifyError(err))
}
