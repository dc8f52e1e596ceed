package repositories

import (
	"context"

	"github.com/frostdev-ops/pma-rules/internal/database/models"
)

// KVRepository stores opaque blobs under string keys. Get returns
// (nil, nil) for a missing key.
type KVRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// EntityStateRepository mirrors device states so they survive restarts
type EntityStateRepository interface {
	Upsert(ctx context.Context, state *models.EntityState) error
	GetAll(ctx context.Context) ([]*models.EntityState, error)
}
