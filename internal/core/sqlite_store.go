package core

import "groupcore/internal/infra/persistence/sqlite"

// NewSQLiteStore constructs a SQLite-backed persistent store using the
// provided file path (may be empty for default), kind registry, and rules
// engine.
func NewSQLiteStore(path string, registry *KindRegistry, engine *RulesEngine) (*sqlite.Store, error) {
	return sqlite.NewStore(path, registry, engine)
}
