package database

import (
	"context"
	"fmt"

	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/platform/config"
)

// Store is a durable poll repository that can report its health.
type Store interface {
	domain.PollRepository
	Ping(ctx context.Context) error
}

var (
	_ Store = (*PollRepo)(nil)
	_ Store = (*SQLitePollRepo)(nil)
)

// OpenStore opens the durable store selected by cfg.StoreBackend. Postgres
// stores are migrated before they are returned. The returned func releases
// the underlying pool or file handle.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		pool, err := Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return NewPollRepo(pool), pool.Close, nil

	case config.StoreBackendSQLite:
		db, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLitePollRepo(db), func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
