package core

import "groupcore/internal/infra/persistence/postgres"

// NewPostgresStore constructs a Postgres-backed store from the provided DSN.
func NewPostgresStore(dsn string, registry *KindRegistry, engine *RulesEngine) (*postgres.Store, error) {
	return postgres.NewStore(dsn, registry, engine)
}
