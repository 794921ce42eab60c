package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rollcall/rollcall/internal/config"
	"github.com/rollcall/rollcall/internal/database/postgres"
)

// connectPool loads configuration and opens the PostgreSQL pool. The caller
// owns the pool and must Close it.
func connectPool() (*postgres.Pool, *config.Config, error) {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return pool, cfg, nil
}

// attendanceLocation resolves the configured timezone or fails loudly; a
// wrong zone silently shifts every day boundary.
func attendanceLocation(cfg *config.Config) (*time.Location, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// migratePool applies pending schema migrations.
func migratePool(ctx context.Context, pool *postgres.Pool) error {
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
