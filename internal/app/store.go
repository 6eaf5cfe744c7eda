package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/taskdesk/internal/auth"
	"github.com/odyssey-erp/taskdesk/internal/platform/db"
	"github.com/odyssey-erp/taskdesk/internal/platform/filedb"
	"github.com/odyssey-erp/taskdesk/internal/tasks"
)

// Stores bundles the repositories selected by STORE_DRIVER.
type Stores struct {
	Auth  auth.Repository
	Tasks tasks.Repository
	pool  *pgxpool.Pool
}

// OpenStores connects the configured backend. PostgreSQL tables are created
// on first use.
func OpenStores(ctx context.Context, cfg *Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case StoreFile:
		fdb, err := filedb.Open(cfg.DataFile)
		if err != nil {
			return nil, fmt.Errorf("open data file: %w", err)
		}
		return &Stores{Auth: auth.NewFileRepository(fdb), Tasks: tasks.NewFileRepository(fdb)}, nil
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Stores{Auth: auth.NewRepository(pool), Tasks: tasks.NewPGRepository(pool), pool: pool}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
