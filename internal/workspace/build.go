package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"docworkspace/internal/activities"
	"docworkspace/internal/config"
	"docworkspace/internal/ingest"
	"docworkspace/internal/outlines"
	"docworkspace/internal/remote"
	"docworkspace/internal/search"
	"docworkspace/internal/session"
	"docworkspace/internal/storage"
)

const outlineCleanup = 10 * time.Minute

// NewRemote returns the remote client selected by cfg.RemoteMode.
func NewRemote(cfg config.Config, log *zap.Logger) (remote.Client, error) {
	switch strings.ToLower(cfg.RemoteMode) {
	case "", "http":
		return remote.NewHTTPClient(cfg.RemoteBaseURL, cfg.RemoteTimeout(),
			remote.WithBeaconTimeout(cfg.BeaconTimeout()),
			remote.WithLogger(log),
		), nil
	case "mock":
		return remote.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown remote mode %q", cfg.RemoteMode)
	}
}

// Build wires a Workspace from configuration. The returned closer stops the
// workspace and releases the store and Temporal connections; it is never nil.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*Workspace, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	rc, err := NewRemote(cfg, log)
	if err != nil {
		return nil, closeAll, err
	}
	policy, err := session.ParsePolicy(cfg.SessionPolicy)
	if err != nil {
		return nil, closeAll, err
	}
	store, closeStore, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, closeAll, fmt.Errorf("open session store: %w", err)
	}
	closers = append(closers, closeStore)

	registry := session.New(session.Options{
		Store:  store,
		Key:    cfg.PersistKey(),
		URL:    rc.DocumentURL,
		Logger: log,
	})
	cache := outlines.New(cfg.OutlineCacheTTL(), outlineCleanup)

	var runner ingest.Runner
	switch strings.ToLower(cfg.IngestRunner) {
	case "", "local":
		runner = ingest.NewLocalRunner(activities.New(rc, cfg.DataDir, log), cfg.IngestMaxParallel)
	case "temporal":
		c, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("dial temporal %s: %w", cfg.TemporalAddress, err)
		}
		closers = append(closers, c.Close)
		runner = ingest.NewTemporalRunner(c, cfg.TemporalTaskQueue, cfg.IngestMaxChildren)
	default:
		closeAll()
		return nil, func() {}, fmt.Errorf("unknown ingest runner %q", cfg.IngestRunner)
	}

	orch := ingest.New(ingest.Options{
		Runner:       runner,
		Registry:     registry,
		Policy:       policy,
		Outlines:     cache,
		SuccessReset: cfg.UploadSuccessReset(),
		ErrorReset:   cfg.UploadErrorReset(),
		Logger:       log,
	})
	pipeline := search.New(rc, search.Options{
		Debounce:  cfg.SearchDebounce(),
		Display:   cfg.SearchDisplay(),
		K:         cfg.SearchTopK,
		MinLength: cfg.SelectionMinLength,
		Logger:    log,
	})

	w := New(Options{
		Remote:             rc,
		Registry:           registry,
		Outlines:           cache,
		Orchestrator:       orch,
		Pipeline:           pipeline,
		UploadDir:          filepath.Join(cfg.DataDir, "uploads", cfg.WorkspaceID),
		SelectionMinLength: cfg.SelectionMinLength,
		SelectionSettle:    cfg.SelectionSettle(),
		SelectionPoll:      cfg.SelectionPoll(),
		Logger:             log,
	})
	closers = append(closers, w.Close)
	return w, closeAll, nil
}
