package utils

import (
	"context"
	"fmt"

	"car-marketplace/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPostgres connects the pool used for LISTEN/NOTIFY and pings it.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
