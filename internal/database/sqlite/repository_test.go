package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/config"
	"github.com/frostdev-ops/pma-rules/internal/database"
	"github.com/frostdev-ops/pma-rules/internal/database/models"
	"github.com/frostdev-ops/pma-rules/internal/database/sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Initialize(config.DatabaseConfig{Path: ":memory:", MaxConnections: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(db, ""))
	return db
}

func TestKVRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewKVRepository(db)
	ctx := context.Background()

	value, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, repo.Put(ctx, "pma.rules.v1", []byte(`{"scenes":[]}`)))
	require.NoError(t, repo.Put(ctx, "pma.rules.v1", []byte(`{"scenes":[],"automations":[]}`)))

	value, err = repo.Get(ctx, "pma.rules.v1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"scenes":[],"automations":[]}`, string(value))

	var rows int
	require.NoError(t, db.Get(&rows, `SELECT COUNT(*) FROM kv_store`))
	assert.Equal(t, 1, rows)
}

func TestEntityStateRepository(t *testing.T) {
	repo := sqlite.NewEntityStateRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		state models.EntityState
	}{
		{"light", models.EntityState{EntityID: "light.kitchen", State: "on", Source: "mqtt"}},
		{"sensor", models.EntityState{EntityID: "binary_sensor.door", State: "off", Source: "api"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.state
			require.NoError(t, repo.Upsert(ctx, &s))
			assert.False(t, s.LastUpdated.IsZero())
		})
	}

	update := &models.EntityState{EntityID: "light.kitchen", State: "off", Source: "mqtt", LastUpdated: time.Now().UTC()}
	require.NoError(t, repo.Upsert(ctx, update))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "binary_sensor.door", all[0].EntityID)
	assert.Equal(t, "off", all[0].State)
	assert.Equal(t, "api", all[0].Source)
	assert.Equal(t, "off", all[1].State)
	assert.Equal(t, "mqtt", all[1].Source)
}
