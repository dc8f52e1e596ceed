package database

import (
	"fmt"
	"strings"

	"github.com/frostdev-ops/pma-rules/internal/config"
	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/frostdev-ops/pma-rules/internal/database/bolt"
)

// OpenRulesBackend returns the rule set persistence selected by cfg and a
// function releasing it
func OpenRulesBackend(cfg config.PersistenceConfig, repos *Repositories) (rules.Persistence, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Backend) {
	case "", "sqlite":
		if repos == nil {
			return nil, nil, fmt.Errorf("sqlite persistence requires a database")
		}
		return repos.KV, noop, nil
	case "bolt":
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		return rules.NewMemoryPersistence(), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
}
