package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/database/models"
	"github.com/frostdev-ops/pma-rules/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

// EntityStateRepository implements repositories.EntityStateRepository
type EntityStateRepository struct {
	db *sqlx.DB
}

// NewEntityStateRepository creates a new EntityStateRepository
func NewEntityStateRepository(db *sqlx.DB) repositories.EntityStateRepository {
	return &EntityStateRepository{db: db}
}

// Upsert stores the latest state of an entity
func (r *EntityStateRepository) Upsert(ctx context.Context, state *models.EntityState) error {
	if state.LastUpdated.IsZero() {
		state.LastUpdated = time.Now().UTC()
	}

	query := `
		INSERT INTO entity_states (entity_id, state, source, last_updated)
		VALUES (:entity_id, :state, :source, :last_updated)
		ON CONFLICT(entity_id) DO UPDATE SET
			state = excluded.state,
			source = excluded.source,
			last_updated = excluded.last_updated
	`

	if _, err := r.db.NamedExecContext(ctx, query, state); err != nil {
		return fmt.Errorf("failed to upsert entity state: %w", err)
	}
	return nil
}

// GetAll retrieves all stored entity states
func (r *EntityStateRepository) GetAll(ctx context.Context) ([]*models.EntityState, error) {
	var states []*models.EntityState
	err := r.db.SelectContext(ctx, &states, `
		SELECT entity_id, state, source, last_updated
		FROM entity_states
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity states: %w", err)
	}
	return states, nil
}
