package status

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/config"
	"courier/internal/db"
	"courier/internal/types"
)

// Open builds the Store selected by cfg.Backend and returns a function that
// releases the underlying connection. The PostgreSQL schema is created if
// missing.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Store, func(), error) {
	switch cfg.Backend {
	case types.StoreRedis:
		rdb, err := NewRedisClient(ctx, cfg.RedisURL.Unmask())
		if err != nil {
			return nil, nil, fmt.Errorf("open redis status store: %w", err)
		}
		return NewStore(NewRedisBackend(rdb)), func() { _ = rdb.Close() }, nil

	case types.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL.Unmask(), db.PoolOptions{
			MaxConns:       cfg.MaxConns,
			MinConns:       cfg.MinConns,
			AcquireTimeout: cfg.AcquireTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres status store: %w", err)
		}
		repo := db.NewStatusRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure status schema: %w", err)
		}
		return NewStore(repo), pool.Close, nil

	case types.StoreMemory:
		logger.Warn("using in-memory status store, statuses are lost on restart")
		return NewStore(NewMemoryBackend()), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown status store backend %q", cfg.Backend)
	}
}
