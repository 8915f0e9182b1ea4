//go:build integration

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgd-cnpj/internal/testutil"
)

func seedRegistry(t *testing.T, pg *testutil.PostgresContainer) {
	pg.Exec(t, `
		INSERT INTO cnpj_cache (cnpj, razao_social, nome_fantasia, situacao_cadastral, cnae_fiscal,
			logradouro, numero, bairro, municipio, uf, cep, opcao_pelo_simples, opcao_pelo_mei,
			data_inicio_atividade, cnaes_secundarios, socios, raw_json)
		VALUES
			('11222333000181', 'PADARIA BOM PAO LTDA', 'BOM PAO', 'ATIVA', '1091102',
			 'RUA DAS FLORES', '100', 'CENTRO', 'CAMPINAS', 'SP', '13010000', 'S', 'N',
			 '2001-05-20', '[{"codigo":"4721102","descricao":"Padaria"}]',
			 '[{"nome":"JOAO","qualificacao":"Socio-Administrador"}]', '{"_source":"receita_federal_bulk"}'),
			('11444777000161', 'MERCADO CENTRAL SA', NULL, 'ATIVA', '4711301',
			 'AV BRASIL', '1500', 'CENTRO', 'CAMPINAS', 'SP', '13020000', 'N', 'N',
			 NULL, NULL, NULL, NULL),
			('11444777000242', 'MERCADO FECHADO SA', NULL, 'BAIXADA', '4711301',
			 'AV BRASIL', '1600', 'CENTRO', 'CAMPINAS', 'SP', '13010000', 'N', 'N',
			 NULL, NULL, NULL, NULL),
			('22333444000155', 'OFICINA SEM CEP', NULL, 'ATIVA', '4711301',
			 'RUA X', '1', NULL, 'CAMPINAS', 'SP', NULL, 'N', 'N',
			 NULL, NULL, NULL, NULL)
	`)
}

func TestStoreIntegration(t *testing.T) {
	pg := testutil.NewPostgres(t)
	seedRegistry(t, pg)
	store := NewStore(pg.DB)
	ctx := context.Background()

	t.Run("get with json aggregates", func(t *testing.T) {
		c, err := store.Get(ctx, "11.222.333/0001-81")
		require.NoError(t, err)
		assert.Equal(t, "PADARIA BOM PAO LTDA", c.RazaoSocial)
		assert.Equal(t, "2001-05-20", c.DataInicioAtividade)
		require.Len(t, c.CNAEsSecundarios, 1)
		assert.Equal(t, "4721102", c.CNAEsSecundarios[0].Codigo)
		require.Len(t, c.Socios, 1)
		assert.Equal(t, "receita_federal_bulk", c.Raw["_source"])
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "99999999000199")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("batch get", func(t *testing.T) {
		res, err := store.BatchGet(ctx, []string{"11444777000161", "bad", "99999999000199", "11222333000181"})
		require.NoError(t, err)
		require.Len(t, res.Found, 2)
		assert.Equal(t, "11444777000161", res.Found[0].CNPJ)
		assert.ElementsMatch(t, []string{"bad", "99999999000199"}, res.NotFound)
	})

	t.Run("active by cep skips inactive", func(t *testing.T) {
		got, err := store.ActiveByCEP(ctx, "13010000", 200)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "11222333000181", got[0].CNPJ)
	})

	t.Run("fallback excludes searched ceps and keeps null cep", func(t *testing.T) {
		got, err := store.ActiveByMunicipioCNAE(ctx, "Campinas", "4711301", []string{"13020000"}, 50)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "22333444000155", got[0].CNPJ)
	})

	t.Run("search", func(t *testing.T) {
		res, err := store.Search(ctx, Filter{Term: "mercado", Situacao: "ativa"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.Total)
		require.Len(t, res.Companies, 1)
		assert.Equal(t, "MERCADO CENTRAL SA", res.Companies[0].RazaoSocial)
	})

	t.Run("stats", func(t *testing.T) {
		st, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 4, st.Total)
		assert.EqualValues(t, 3, st.Ativas)
		assert.EqualValues(t, 1, st.Baixadas)
		assert.EqualValues(t, 1, st.Simples)
		assert.EqualValues(t, 1, st.UFs)
	})

	t.Run("build indexes", func(t *testing.T) {
		require.NoError(t, store.BuildIndexes(ctx, false))
	})
}
