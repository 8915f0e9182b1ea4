package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lib/pq"
)

// MatchStore persists ranked matches
type MatchStore interface {
	Replace(ctx context.Context, codID string, results []Result) error
	BestMatch(ctx context.Context, codID string) (*Result, error)
	AllMatches(ctx context.Context, codID string) ([]Result, error)
	BatchBest(ctx context.Context, codIDs []string) (map[string]Result, error)
	Stats(ctx context.Context) (Stats, error)
	Truncate(ctx context.Context) error
}

// PostgresStore implements MatchStore on bdgd_cnpj_matches
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a match store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const resultColumns = `
	bdgd_cod_id, cnpj, rank, score_total, score_cep, score_cnae,
	score_endereco, score_numero, score_bairro, COALESCE(address_source, 'original'),
	razao_social, nome_fantasia, cnpj_logradouro, cnpj_numero,
	cnpj_bairro, cnpj_cep, cnpj_municipio, cnpj_uf, cnpj_cnae,
	cnpj_cnae_descricao, cnpj_situacao, cnpj_telefone, cnpj_email`

func scanResult(row interface{ Scan(...any) error }) (Result, error) {
	var r Result
	var razao, fantasia, logr, num, bairro, cep, mun, uf, cnae, cnaeDesc, situacao, tel, email sql.NullString
	err := row.Scan(
		&r.CodID, &r.CNPJ, &r.Rank, &r.Total, &r.Score.CEP, &r.Score.CNAE,
		&r.Street, &r.Number, &r.Neighborhood, &r.AddressSource,
		&razao, &fantasia, &logr, &num,
		&bairro, &cep, &mun, &uf, &cnae,
		&cnaeDesc, &situacao, &tel, &email,
	)
	if err != nil {
		return Result{}, err
	}
	r.RazaoSocial, r.NomeFantasia = razao.String, fantasia.String
	r.Logradouro, r.Numero, r.Bairro, r.CNPJCEP = logr.String, num.String, bairro.String, cep.String
	r.Municipio, r.UF, r.CNPJCNAE, r.CNAEDescricao = mun.String, uf.String, cnae.String, cnaeDesc.String
	r.Situacao, r.Telefone, r.Email = situacao.String, tel.String, email.String
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Replace swaps every stored match of a client for results in one transaction.
// Empty results clear the client.
func (s *PostgresStore) Replace(ctx context.Context, codID string, results []Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bdgd_cnpj_matches WHERE bdgd_cod_id = $1`, codID); err != nil {
		return fmt.Errorf("failed to delete matches of %s: %w", codID, err)
	}

	if len(results) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bdgd_cnpj_matches (
				bdgd_cod_id, cnpj, score_total,
				score_cep, score_cnae, score_endereco, score_numero, score_bairro, rank,
				razao_social, nome_fantasia, cnpj_logradouro, cnpj_numero,
				cnpj_bairro, cnpj_cep, cnpj_municipio, cnpj_uf, cnpj_cnae,
				cnpj_cnae_descricao, cnpj_situacao, cnpj_telefone, cnpj_email,
				address_source
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare match insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range results {
			_, err := stmt.ExecContext(ctx,
				codID, r.CNPJ, r.Total,
				r.Score.CEP, r.Score.CNAE, r.Street, r.Number, r.Neighborhood, r.Rank,
				nullString(r.RazaoSocial), nullString(r.NomeFantasia), nullString(r.Logradouro), nullString(r.Numero),
				nullString(r.Bairro), nullString(r.CNPJCEP), nullString(r.Municipio), nullString(r.UF), nullString(r.CNPJCNAE),
				nullString(r.CNAEDescricao), nullString(r.Situacao), nullString(r.Telefone), nullString(r.Email),
				r.AddressSource,
			)
			if err != nil {
				return fmt.Errorf("failed to insert match %s/%s: %w", codID, r.CNPJ, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit matches of %s: %w", codID, err)
	}
	return nil
}

// BestMatch returns the rank-1 match of a client, nil when it has none
func (s *PostgresStore) BestMatch(ctx context.Context, codID string) (*Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM bdgd_cnpj_matches WHERE bdgd_cod_id = $1 AND rank = 1`, codID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load best match of %s: %w", codID, err)
	}
	return &r, nil
}

// AllMatches returns every stored match of a client ordered by rank
func (s *PostgresStore) AllMatches(ctx context.Context, codID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM bdgd_cnpj_matches WHERE bdgd_cod_id = $1 ORDER BY rank`, codID)
	if err != nil {
		return nil, fmt.Errorf("failed to load matches of %s: %w", codID, err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// BatchBest returns the rank-1 match of each client that has one, in a single query
func (s *PostgresStore) BatchBest(ctx context.Context, codIDs []string) (map[string]Result, error) {
	out := make(map[string]Result, len(codIDs))
	if len(codIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM bdgd_cnpj_matches WHERE bdgd_cod_id = ANY($1) AND rank = 1`, pq.Array(codIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to batch load best matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out[r.CodID] = r
	}
	return out, rows.Err()
}

// Stats summarizes match coverage and rank-1 confidence
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		WITH approx AS (
			SELECT COALESCE((SELECT reltuples::bigint FROM pg_class WHERE relname = 'bdgd_clientes'), 0) AS cnt
		)
		SELECT
			GREATEST(a.cnt, 0),
			COUNT(DISTINCT m.bdgd_cod_id),
			COUNT(m.id),
			AVG(CASE WHEN m.rank = 1 THEN m.score_total END),
			COUNT(CASE WHEN m.rank = 1 AND m.score_total >= 75 THEN 1 END),
			COUNT(CASE WHEN m.rank = 1 AND m.score_total >= 50 AND m.score_total < 75 THEN 1 END),
			COUNT(CASE WHEN m.rank = 1 AND m.score_total >= 15 AND m.score_total < 50 THEN 1 END),
			COUNT(CASE WHEN m.rank = 1 AND m.address_source = 'geocoded' THEN 1 END)
		FROM approx a
		LEFT JOIN bdgd_cnpj_matches m ON TRUE
		GROUP BY a.cnt
	`).Scan(&st.TotalClients, &st.ClientsMatched, &st.TotalMatches, &avg,
		&st.HighConfidence, &st.MediumConfidence, &st.LowConfidence, &st.ViaGeocode)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute match stats: %w", err)
	}

	if avg.Valid {
		v := round1(avg.Float64)
		st.AvgTop1 = &v
	}
	if st.TotalClients < st.ClientsMatched {
		st.TotalClients = st.ClientsMatched
	}
	st.ClientsNoMatch = st.TotalClients - st.ClientsMatched
	return st, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Truncate removes every match
func (s *PostgresStore) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE bdgd_cnpj_matches RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to truncate matches: %w", err)
	}
	return nil
}

// List pages clients that have a rank-1 match, with all their matches
func (s *PostgresStore) List(ctx context.Context, f ListFilter) (ListResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 500 {
		f.PerPage = 50
	}

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if term := strings.TrimSpace(f.Search); term != "" {
		p := arg("%" + term + "%")
		where = append(where, fmt.Sprintf(`(c.cod_id ILIKE %[1]s OR c.lgrd_original ILIKE %[1]s OR c.cnae_original ILIKE %[1]s
			OR c.municipio_nome ILIKE %[1]s OR m.razao_social ILIKE %[1]s OR m.nome_fantasia ILIKE %[1]s OR m.cnpj ILIKE %[1]s)`, p))
	}
	if f.UF != "" {
		where = append(where, "c.uf = "+arg(strings.ToUpper(f.UF)))
	}
	if f.MinScore != nil {
		where = append(where, "m.score_total >= "+arg(*f.MinScore))
	}
	switch f.Confidence {
	case ConfidenceHigh:
		where = append(where, "m.score_total >= 75")
	case ConfidenceMedium:
		where = append(where, "m.score_total >= 50 AND m.score_total < 75")
	case ConfidenceLow:
		where = append(where, "m.score_total >= 15 AND m.score_total < 50")
	}

	whereSQL := "TRUE"
	if len(where) > 0 {
		whereSQL = strings.Join(where, " AND ")
	}
	from := `FROM bdgd_clientes c JOIN bdgd_cnpj_matches m ON m.bdgd_cod_id = c.cod_id AND m.rank = 1 WHERE ` + whereSQL

	result := ListResult{Data: []ClientMatches{}, Page: f.Page, PerPage: f.PerPage}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+from, args...).Scan(&result.Total); err != nil {
		return ListResult{}, fmt.Errorf("failed to count matched clients: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT c.cod_id, c.lgrd_original, c.brr_original, c.cep_original, c.cnae_original,
			c.municipio_nome, c.uf, c.clas_sub, c.gru_tar,
			c.dem_cont, c.ene_max, c.liv, COALESCE(c.possui_solar, FALSE),
			c.point_x, c.point_y, m.score_total
		%s
		ORDER BY c.cod_id
		LIMIT %s OFFSET %s`, from, arg(f.PerPage), arg((f.Page-1)*f.PerPage))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ListResult{}, fmt.Errorf("failed to list matched clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cm ClientMatches
		var lgrd, brr, cep, cnae, mun, uf, clas, gru sql.NullString
		var dem, ene, px, py sql.NullFloat64
		var liv sql.NullInt64
		if err := rows.Scan(&cm.CodID, &lgrd, &brr, &cep, &cnae, &mun, &uf, &clas, &gru,
			&dem, &ene, &liv, &cm.PossuiSolar, &px, &py, &cm.BestScore); err != nil {
			return ListResult{}, fmt.Errorf("failed to scan matched client: %w", err)
		}
		cm.LgrdOriginal, cm.BrrOriginal, cm.CEPOriginal, cm.CNAEOriginal = lgrd.String, brr.String, cep.String, cnae.String
		cm.Municipio, cm.UF, cm.ClasSub, cm.GruTar = mun.String, uf.String, clas.String, gru.String
		cm.DemCont, cm.EneMax, cm.PointX, cm.PointY = floatPtr(dem), floatPtr(ene), floatPtr(px), floatPtr(py)
		if liv.Valid {
			v := liv.Int64
			cm.Liv = &v
		}
		result.Data = append(result.Data, cm)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, err
	}
	rows.Close()

	for i := range result.Data {
		matches, err := s.AllMatches(ctx, result.Data[i].CodID)
		if err != nil {
			return ListResult{}, err
		}
		result.Data[i].Matches = matches
	}
	return result, nil
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
