package core

import (
	"context"
	"fmt"

	"bizdir/internal/config"
	"bizdir/internal/infra/persistence/memory"
	"bizdir/internal/infra/persistence/mongodb"
	"bizdir/internal/infra/persistence/postgres"
	"bizdir/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageMongo    StorageDriver = "mongo"    // MongoDB, one document per entity
)

// OpenPersistentStore selects a backend from the storage configuration.
// Defaults to sqlite when the driver is unset.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, engine *RulesEngine) (PersistentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageMongo:
		store, err := mongodb.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// CloseStore releases the connections held by durable backends.
func CloseStore(ctx context.Context, store PersistentStore) error {
	switch s := store.(type) {
	case *sqlite.Store:
		return s.Close()
	case *postgres.Store:
		return s.Close()
	case *mongodb.Store:
		return s.Close(ctx)
	}
	return nil
}
