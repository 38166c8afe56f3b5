package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/model"
	"github.com/smukkama/signaltrail/pkg/config"
)

// Store is the full sample and aggregate store used by the services.
// Both *DB and *MemoryStore implement it.
type Store interface {
	InsertSamples(ctx context.Context, samples []*model.RawSample) error
	QueryNear(ctx context.Context, lat, lon, radiusMeters float64, since time.Time) ([]model.NetworkGroup, error)
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertAggregate(ctx context.Context, agg *model.CellAggregate) error
	GetAggregate(ctx context.Context, id grid.CellID) (*model.CellAggregate, error)
	GetAggregatesByIDs(ctx context.Context, ids []grid.CellID, minConfidence float64) ([]*model.CellAggregate, error)
	ListStaleCells(ctx context.Context, cutoff time.Time, limit int) ([]grid.CellID, error)
	MarkRefreshed(ctx context.Context, ids []grid.CellID) error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open returns the configured store and a function that releases it.
// The postgres backend is connected and migrated before it is returned.
func Open(cfg *config.DatabaseConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Println("[Database] Using in-memory store; data is lost on exit")
		return NewMemoryStore(), func() error { return nil }, nil

	case config.BackendPostgres, "":
		db, err := Connect(cfg.ConnectionString(), PoolConfig{
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
