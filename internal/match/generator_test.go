package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgd-cnpj/internal/registry"
)

func companies(cnpjs ...string) []registry.Company {
	out := make([]registry.Company, len(cnpjs))
	for i, c := range cnpjs {
		out[i] = registry.Company{CNPJ: c}
	}
	return out
}

func cnpjsOf(pool []registry.Company) []string {
	out := make([]string, len(pool))
	for i, c := range pool {
		out[i] = c.CNPJ
	}
	return out
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("dedupes across postal codes in first seen order", func(t *testing.T) {
		src := &fakeCandidates{byCEP: map[string][]registry.Company{
			"13670000": companies("A", "B"),
			"13670001": companies("B", "C"),
		}}

		pool, err := NewGenerator(src).Generate(ctx, false, []string{"13670000", "13670001"}, "", "")

		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C"}, cnpjsOf(pool))
		assert.Empty(t, src.fallbacks)
	})

	t.Run("skips empty and repeated postal codes", func(t *testing.T) {
		src := &fakeCandidates{byCEP: map[string][]registry.Company{}}

		_, err := NewGenerator(src).Generate(ctx, false, []string{"", "13670000", "13670000"}, "", "")

		require.NoError(t, err)
		assert.Equal(t, []string{"13670000"}, src.cepCalls)
	})

	t.Run("fallback when pool is small", func(t *testing.T) {
		src := &fakeCandidates{
			byCEP:    map[string][]registry.Company{"13670000": companies("A", "B")},
			fallback: companies("B", "X", "Y"),
		}

		pool, err := NewGenerator(src).Generate(ctx, false, []string{"13670000"}, "Santa Rita", "4711301")

		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "X", "Y"}, cnpjsOf(pool))
		require.Len(t, src.fallbacks, 1)
		assert.Equal(t, fallbackCall{
			municipio: "SANTA RITA",
			cnae:      "4711301",
			exclude:   []string{"13670000"},
			limit:     FallbackLimit,
		}, src.fallbacks[0])
	})

	t.Run("no fallback once the pool is large enough", func(t *testing.T) {
		src := &fakeCandidates{byCEP: map[string][]registry.Company{
			"13670000": companies("A", "B", "C", "D", "E"),
		}}

		pool, err := NewGenerator(src).Generate(ctx, false, []string{"13670000"}, "SANTA RITA", "4711301")

		require.NoError(t, err)
		assert.Len(t, pool, 5)
		assert.Empty(t, src.fallbacks)
	})

	t.Run("fallback needs municipality and cnae", func(t *testing.T) {
		src := &fakeCandidates{fallback: companies("X")}

		pool, err := NewGenerator(src).Generate(ctx, false, nil, "SANTA RITA", "")

		require.NoError(t, err)
		assert.Empty(t, pool)
		assert.Empty(t, src.fallbacks)
	})

	t.Run("fallback only without postal codes", func(t *testing.T) {
		src := &fakeCandidates{fallback: companies("X")}

		pool, err := NewGenerator(src).Generate(ctx, false, nil, "SANTA RITA", "4711301")

		require.NoError(t, err)
		assert.Equal(t, []string{"X"}, cnpjsOf(pool))
		require.Len(t, src.fallbacks, 1)
		assert.Empty(t, src.fallbacks[0].exclude)
	})

	t.Run("postal code lookup is capped", func(t *testing.T) {
		many := make([]registry.Company, CEPCandidateLimit+20)
		for i := range many {
			many[i] = registry.Company{CNPJ: string(rune('a'+i%26)) + string(rune('0'+i/26))}
		}
		src := &fakeCandidates{byCEP: map[string][]registry.Company{"13670000": many}}

		pool, err := NewGenerator(src).Generate(ctx, false, []string{"13670000"}, "", "")

		require.NoError(t, err)
		assert.Len(t, pool, CEPCandidateLimit)
	})

	t.Run("source errors are wrapped", func(t *testing.T) {
		boom := errors.New("connection refused")
		src := &fakeCandidates{err: boom}

		_, err := NewGenerator(src).Generate(ctx, false, []string{"13670000"}, "", "")

		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "13670000")
	})
}
