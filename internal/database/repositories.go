package database

import (
	"github.com/frostdev-ops/pma-rules/internal/database/repositories"
	"github.com/frostdev-ops/pma-rules/internal/database/sqlite"
	"github.com/jmoiron/sqlx"
)

// Repositories holds all repository instances
type Repositories struct {
	KV           repositories.KVRepository
	EntityStates repositories.EntityStateRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		KV:           sqlite.NewKVRepository(db),
		EntityStates: sqlite.NewEntityStateRepository(db),
	}
}
