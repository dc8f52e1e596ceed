package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetPut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	v, err := s.Get(ctx, "pma.rules.v1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Put(ctx, "pma.rules.v1", []byte(`{"scenes":[],"automations":[]}`)))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err = reopened.Get(ctx, "pma.rules.v1")
	require.NoError(t, err)
	assert.Equal(t, `{"scenes":[],"automations":[]}`, string(v))
}
