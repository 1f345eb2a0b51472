package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"docworkspace/internal/api"
	"docworkspace/internal/config"
	"docworkspace/internal/logging"
	"docworkspace/internal/session"
	"docworkspace/internal/workspace"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log := logging.New(cfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ws, closeWS, err := workspace.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("build workspace", zap.Error(err))
	}
	defer closeWS()

	if _, err := ws.Open(ctx); err != nil && !errors.Is(err, session.ErrAllDropped) {
		log.Warn("revalidate session", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewServer(cfg, ws, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("docworkspace api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("remote", cfg.RemoteMode),
		zap.String("store", cfg.StoreBackend),
		zap.String("runner", cfg.IngestRunner),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve", zap.Error(err))
	}
}
