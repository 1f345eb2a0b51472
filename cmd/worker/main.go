package main

import (
	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"docworkspace/internal/activities"
	"docworkspace/internal/config"
	"docworkspace/internal/logging"
	"docworkspace/internal/workflows"
	"docworkspace/internal/workspace"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log := logging.New(cfg)
	defer func() { _ = log.Sync() }()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal("dial temporal", zap.String("address", cfg.TemporalAddress), zap.Error(err))
	}
	defer c.Close()

	rc, err := workspace.NewRemote(cfg, log)
	if err != nil {
		log.Fatal("remote client", zap.Error(err))
	}

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.IngestMaxParallel,
	})
	workflows.Register(w)
	activities.Register(w, activities.New(rc, cfg.DataDir, log))

	log.Info("docworkspace worker listening",
		zap.String("address", cfg.TemporalAddress),
		zap.String("queue", cfg.TemporalTaskQueue),
		zap.String("remote", cfg.RemoteMode),
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal("worker stopped", zap.Error(err))
	}
}
