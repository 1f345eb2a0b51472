package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"docworkspace/internal/config"
	"docworkspace/internal/session"
)

// Open builds the session store selected by cfg.StoreBackend. The returned
// closer releases connections and is never nil.
func Open(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.StoreBackend) {
	case "", "file":
		s, err := NewFileStore(cfg.StorePath)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "sqlite":
		s, err := NewSQLiteStore(ctx, filepath.Join(cfg.StorePath, "session.db"))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		db, err := NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, noop, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		return NewPGStore(db), db.Close, nil
	case "redis":
		rdb := NewRedisClient(cfg.RedisURL)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, noop, fmt.Errorf("connect redis: %w", err)
		}
		return NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	case "memory":
		return session.NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
