package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/bdgd-cnpj/internal/debug"
	"github.com/bdgd-cnpj/internal/normalize"
)

// Store reads the cnpj_cache table
type Store struct {
	db *sql.DB
}

// NewStore creates a registry store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// candidateColumns is the light column set used by search and matching
const candidateColumns = `
	cnpj, razao_social, nome_fantasia, situacao_cadastral, natureza_juridica, porte,
	capital_social, cnae_fiscal, cnae_fiscal_descricao, logradouro, numero, complemento,
	bairro, municipio, uf, cep, telefone_1, telefone_2, email,
	opcao_pelo_simples, opcao_pelo_mei`

// detailColumns adds the JSON aggregates and dates
const detailColumns = candidateColumns + `,
	data_situacao_cadastral, data_inicio_atividade, cnaes_secundarios, socios, raw_json, data_consulta`

type rowScanner interface {
	Scan(dest ...any) error
}

type nullableCompany struct {
	razao, fantasia, situacao, natureza, porte         sql.NullString
	cnae, cnaeDesc, logradouro, numero, complemento    sql.NullString
	bairro, municipio, uf, cep, tel1, tel2, email      sql.NullString
	simples, mei                                       sql.NullString
	capital                                            sql.NullFloat64
}

func (n *nullableCompany) targets(cnpj *string) []any {
	return []any{
		cnpj, &n.razao, &n.fantasia, &n.situacao, &n.natureza, &n.porte,
		&n.capital, &n.cnae, &n.cnaeDesc, &n.logradouro, &n.numero, &n.complemento,
		&n.bairro, &n.municipio, &n.uf, &n.cep, &n.tel1, &n.tel2, &n.email,
		&n.simples, &n.mei,
	}
}

func (n *nullableCompany) fill(c *Company) {
	c.RazaoSocial = n.razao.String
	c.NomeFantasia = n.fantasia.String
	c.Situacao = n.situacao.String
	c.NaturezaJuridica = n.natureza.String
	c.Porte = n.porte.String
	if n.capital.Valid {
		v := n.capital.Float64
		c.CapitalSocial = &v
	}
	c.CNAEFiscal = n.cnae.String
	c.CNAEFiscalDescricao = n.cnaeDesc.String
	c.Logradouro = n.logradouro.String
	c.Numero = n.numero.String
	c.Complemento = n.complemento.String
	c.Bairro = n.bairro.String
	c.Municipio = n.municipio.String
	c.UF = n.uf.String
	c.CEP = n.cep.String
	c.Telefone1 = n.tel1.String
	c.Telefone2 = n.tel2.String
	c.Email = n.email.String
	c.OpcaoSimples = n.simples.String
	c.OpcaoMEI = n.mei.String
}

func scanCandidate(row rowScanner) (Company, error) {
	var c Company
	var n nullableCompany
	if err := row.Scan(n.targets(&c.CNPJ)...); err != nil {
		return Company{}, err
	}
	n.fill(&c)
	return c, nil
}

func scanDetail(row rowScanner) (Company, error) {
	var c Company
	var n nullableCompany
	var dataSituacao, dataInicio, consulta sql.NullTime
	var secundarios, socios, raw []byte

	dest := append(n.targets(&c.CNPJ), &dataSituacao, &dataInicio, &secundarios, &socios, &raw, &consulta)
	if err := row.Scan(dest...); err != nil {
		return Company{}, err
	}
	n.fill(&c)

	if dataSituacao.Valid {
		c.DataSituacao = dataSituacao.Time.Format("2006-01-02")
	}
	if dataInicio.Valid {
		c.DataInicioAtividade = dataInicio.Time.Format("2006-01-02")
	}
	if consulta.Valid {
		t := consulta.Time
		c.DataConsulta = &t
	}
	if err := decodeJSON(secundarios, &c.CNAEsSecundarios); err != nil {
		return Company{}, fmt.Errorf("cnaes_secundarios of %s: %w", c.CNPJ, err)
	}
	if err := decodeJSON(socios, &c.Socios); err != nil {
		return Company{}, fmt.Errorf("socios of %s: %w", c.CNPJ, err)
	}
	if err := decodeJSON(raw, &c.Raw); err != nil {
		return Company{}, fmt.Errorf("raw_json of %s: %w", c.CNPJ, err)
	}
	return c, nil
}

func decodeJSON(b []byte, dst any) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// Get returns the full record of one CNPJ, formatted or not
func (s *Store) Get(ctx context.Context, cnpj string) (*Company, error) {
	clean := normalize.CleanCNPJ(cnpj)
	if len(clean) != normalize.CNPJLength {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+detailColumns+` FROM cnpj_cache WHERE cnpj = $1`, clean)
	c, err := scanDetail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cnpj %s: %w", clean, err)
	}
	return &c, nil
}

// BatchGet loads up to MaxBatch CNPJs in one query. Input order is kept for found
// rows; unparseable entries are reported as not found.
func (s *Store) BatchGet(ctx context.Context, cnpjs []string) (BatchResult, error) {
	if len(cnpjs) > MaxBatch {
		return BatchResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(cnpjs), MaxBatch)
	}

	result := BatchResult{Found: []Company{}, NotFound: []string{}}
	clean := make([]string, 0, len(cnpjs))
	for _, c := range cnpjs {
		if v := normalize.CleanCNPJ(c); len(v) == normalize.CNPJLength {
			clean = append(clean, v)
		} else {
			result.NotFound = append(result.NotFound, c)
		}
	}
	if len(clean) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+detailColumns+` FROM cnpj_cache WHERE cnpj = ANY($1)`, pq.Array(clean))
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to batch load cnpjs: %w", err)
	}
	defer rows.Close()

	byCNPJ := make(map[string]Company, len(clean))
	for rows.Next() {
		c, err := scanDetail(rows)
		if err != nil {
			return BatchResult{}, err
		}
		byCNPJ[c.CNPJ] = c
	}
	if err := rows.Err(); err != nil {
		return BatchResult{}, fmt.Errorf("failed to batch load cnpjs: %w", err)
	}

	seen := make(map[string]bool, len(clean))
	for _, c := range clean {
		if seen[c] {
			continue
		}
		seen[c] = true
		if company, ok := byCNPJ[c]; ok {
			result.Found = append(result.Found, company)
		} else {
			result.NotFound = append(result.NotFound, c)
		}
	}
	return result, nil
}

// Search lists registry rows matching a free-text term and optional filters
func (s *Store) Search(ctx context.Context, f Filter) (SearchResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 50
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if term := strings.TrimSpace(f.Term); term != "" {
		p := arg("%" + term + "%")
		where = append(where, fmt.Sprintf(`(razao_social ILIKE %[1]s OR nome_fantasia ILIKE %[1]s OR cnpj ILIKE %[1]s
			OR municipio ILIKE %[1]s OR cnae_fiscal_descricao ILIKE %[1]s)`, p))
	}
	if f.UF != "" {
		where = append(where, "uf = "+arg(strings.ToUpper(f.UF)))
	}
	if f.Municipio != "" {
		where = append(where, "UPPER(municipio) = "+arg(normalize.Text(f.Municipio)))
	}
	if f.Situacao != "" {
		where = append(where, "situacao_cadastral ILIKE "+arg("%"+f.Situacao+"%"))
	}

	result := SearchResult{Companies: []Company{}, Page: f.Page, PerPage: f.PerPage}
	filterSQL := ""
	order := "cnpj"
	if len(where) > 0 {
		filterSQL = " WHERE " + strings.Join(where, " AND ")
		order = "razao_social"

		countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM (SELECT 1 FROM cnpj_cache%s LIMIT %d) t`, filterSQL, countCap+1)
		if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&result.Total); err != nil {
			return SearchResult{}, fmt.Errorf("failed to count search results: %w", err)
		}
	} else {
		// planner estimate, exact counts scan the whole table
		err := s.db.QueryRowContext(ctx, `SELECT GREATEST(reltuples::bigint, 0) FROM pg_class WHERE relname = 'cnpj_cache'`).Scan(&result.Total)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return SearchResult{}, fmt.Errorf("failed to estimate registry size: %w", err)
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM cnpj_cache%s ORDER BY %s LIMIT %s OFFSET %s`,
		candidateColumns, filterSQL, order, arg(f.PerPage), arg((f.Page-1)*f.PerPage))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to search registry: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return SearchResult{}, fmt.Errorf("failed to scan search row: %w", err)
		}
		result.Companies = append(result.Companies, c)
	}
	return result, rows.Err()
}

// Stats counts the registry by situation and tax regime
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE situacao_cadastral = 'ATIVA'),
			COUNT(*) FILTER (WHERE situacao_cadastral = 'SUSPENSA'),
			COUNT(*) FILTER (WHERE situacao_cadastral = 'INAPTA'),
			COUNT(*) FILTER (WHERE situacao_cadastral = 'BAIXADA'),
			COUNT(*) FILTER (WHERE opcao_pelo_simples = 'S'),
			COUNT(*) FILTER (WHERE opcao_pelo_mei = 'S'),
			COUNT(DISTINCT uf)
		FROM cnpj_cache
	`).Scan(&st.Total, &st.Ativas, &st.Suspensas, &st.Inaptas, &st.Baixadas, &st.Simples, &st.MEI, &st.UFs)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute registry stats: %w", err)
	}
	return st, nil
}

var indexStatements = []struct {
	name string
	sql  string
}{
	{"pg_trgm", `CREATE EXTENSION IF NOT EXISTS pg_trgm`},
	{"razao_social trigram", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_razao_trgm ON cnpj_cache USING gin (razao_social gin_trgm_ops)`},
	{"nome_fantasia trigram", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_fantasia_trgm ON cnpj_cache USING gin (nome_fantasia gin_trgm_ops)`},
	{"uf", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_uf ON cnpj_cache (uf)`},
	{"municipio", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_municipio ON cnpj_cache (municipio)`},
	{"situacao", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_situacao ON cnpj_cache (situacao_cadastral)`},
	{"uf + situacao", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_uf_situacao ON cnpj_cache (uf, situacao_cadastral)`},
	{"razao_social", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_razao ON cnpj_cache (razao_social)`},
	{"data_consulta", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_data_consulta ON cnpj_cache (data_consulta)`},
	{"cep", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_cep ON cnpj_cache (cep)`},
	{"cnae_fiscal", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_cnae ON cnpj_cache (cnae_fiscal)`},
	{"upper(municipio)", `CREATE INDEX IF NOT EXISTS idx_cnpj_cache_municipio_upper ON cnpj_cache (UPPER(municipio))`},
	{"analyze", `ANALYZE cnpj_cache`},
}

// BuildIndexes creates the search and matching indexes after a bulk load
func (s *Store) BuildIndexes(ctx context.Context, localDebug bool) error {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	for _, stmt := range indexStatements {
		start := time.Now()
		if _, err := s.db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create index %s: %w", stmt.name, err)
		}
		log.Printf("  index %s ready (%v)", stmt.name, time.Since(start).Round(time.Millisecond))
		debug.DebugOutput(localDebug, "%s", stmt.sql)
	}
	return nil
}

// ActiveByCEP returns up to limit active establishments located at cep
func (s *Store) ActiveByCEP(ctx context.Context, cep string, limit int) ([]Company, error) {
	return s.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM cnpj_cache
		WHERE cep = $1 AND situacao_cadastral = 'ATIVA'
		LIMIT $2
	`, cep, limit)
}

// ActiveByMunicipioCNAE returns up to limit active establishments of a municipality
// with the given main CNAE, excluding the postal codes already searched
func (s *Store) ActiveByMunicipioCNAE(ctx context.Context, municipio, cnae string, excludeCEPs []string, limit int) ([]Company, error) {
	if excludeCEPs == nil {
		excludeCEPs = []string{}
	}
	return s.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM cnpj_cache
		WHERE UPPER(municipio) = $1
		  AND cnae_fiscal = $2
		  AND situacao_cadastral = 'ATIVA'
		  AND (cep IS NULL OR cep <> ALL($3))
		LIMIT $4
	`, strings.ToUpper(municipio), cnae, pq.Array(excludeCEPs), limit)
}

func (s *Store) queryCandidates(ctx context.Context, query string, args ...any) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
