package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hiroki-koketsu/kaiju-planner/internal/config"
	"github.com/hiroki-koketsu/kaiju-planner/internal/contentstore"
)

// openStore returns the content store selected by cfg and a func that
// releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (contentstore.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := contentstore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.InfoContext(ctx, "using sqlite content store", slog.String("path", cfg.SQLitePath))
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close sqlite store", slog.Any("error", err))
			}
		}, nil

	case config.DriverPostgres:
		pool, err := contentstore.ConnectPg(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := contentstore.NewPgStore(pool)
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure documents table: %w", err)
		}
		logger.InfoContext(ctx, "using postgres content store")
		return store, pool.Close, nil

	default:
		logger.InfoContext(ctx, "using in-memory content store")
		return contentstore.NewMemoryStore(), func() {}, nil
	}
}
