package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchGetRejectsOversizedBatch(t *testing.T) {
	store := NewStore(nil)
	ids := make([]string, MaxBatch+1)
	for i := range ids {
		ids[i] = "11222333000181"
	}

	_, err := store.BatchGet(context.Background(), ids)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestBatchGetAllInvalidSkipsQuery(t *testing.T) {
	store := NewStore(nil)

	res, err := store.BatchGet(context.Background(), []string{"123", "abc"})
	require.NoError(t, err)
	assert.Empty(t, res.Found)
	assert.Equal(t, []string{"123", "abc"}, res.NotFound)
}

func TestGetRejectsMalformedCNPJ(t *testing.T) {
	store := NewStore(nil)

	_, err := store.Get(context.Background(), "12.345")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeJSON(t *testing.T) {
	var partners []Partner
	require.NoError(t, decodeJSON(nil, &partners))
	require.NoError(t, decodeJSON([]byte("null"), &partners))
	assert.Nil(t, partners)

	require.NoError(t, decodeJSON([]byte(`[{"nome":"ANA","qualificacao":"Diretor"}]`), &partners))
	assert.Equal(t, []Partner{{Nome: "ANA", Qualificacao: "Diretor"}}, partners)
}
