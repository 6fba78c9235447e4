package core

import (
	"fmt"
	"os"

	"groupcore/internal/infra/persistence/memory"
	"groupcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	GROUPCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	GROUPCORE_SQLITE_PATH: path to sqlite file (default ./groupcore.db)
//	GROUPCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(registry *KindRegistry, engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("GROUPCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(registry, engine), nil
	case StorageSQLite:
		path := os.Getenv("GROUPCORE_SQLITE_PATH")
		return NewSQLiteStore(path, registry, engine)
	case StoragePostgres:
		dsn := os.Getenv("GROUPCORE_POSTGRES_DSN")
		return NewPostgresStore(dsn, registry, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// NewMemoryStore constructs the in-memory transactional store.
func NewMemoryStore(registry *KindRegistry, engine *RulesEngine) *memory.Store {
	return memory.NewStore(registry, engine)
}
