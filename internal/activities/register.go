package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.IngestFileActivity)
	w.RegisterActivity(a.ExtractOutlineActivity)
	w.RegisterActivity(a.WriteBatchSummaryActivity)
}
