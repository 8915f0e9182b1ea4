//go:build integration

package geocode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgd-cnpj/internal/testutil"
)

func TestPostgresCacheIntegration(t *testing.T) {
	pg := testutil.NewPostgres(t)
	cache := NewPostgresCache(pg.DB)
	ctx := context.Background()
	key := KeyFor(-22.90351, -47.06571)

	miss, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, cache.Upsert(ctx, Entry{
		Key: key, LatOriginal: -22.90351, LonOriginal: -47.06571,
		Status: StatusError, ErrorMsg: "timeout",
	}))
	require.NoError(t, cache.Upsert(ctx, Entry{
		Key: key, LatOriginal: -22.90351, LonOriginal: -47.06571,
		Address: Address{Street: "RUA A", CEP: "13010000", UF: "SP"},
		Status:  StatusSuccess,
	}))

	got, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.OK())
	assert.Equal(t, "RUA A", got.Street)
	assert.Empty(t, got.ErrorMsg)
	assert.Equal(t, SourceNominatim, got.Source)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Success: 1}, stats)
}
