package store

import (
	"context"
	"fmt"

	"reasonmesh/internal/config"
	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/reasoning"
	"reasonmesh/internal/store/memstore"
	"reasonmesh/internal/store/postgres"
	"reasonmesh/internal/store/sqlite"
)

// Backend persists everything the mesh keeps across restarts: goals and
// their planning results, execution attempts, consensus rounds and memory
// entries.
type Backend interface {
	planner.GoalStore
	reasoning.RoundStore
	memory.Store
	Close() error
}

var (
	_ Backend = (*memstore.Store)(nil)
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	logging.StoreDebug("opening %s store", cfg.Driver)
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "data/mesh.db"
		}
		return sqlite.Open(ctx, path)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
