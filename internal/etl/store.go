package etl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/lib/pq"

	"github.com/bdgd-cnpj/internal/registry"
)

// Store is the database side of the bulk loader
type Store interface {
	// ResetStaging drops and recreates the staging table
	ResetStaging(ctx context.Context) error
	// NewStagingWriter opens a COPY stream into staging, committing every batchSize rows
	NewStagingWriter(ctx context.Context, batchSize int) (StagingWriter, error)
	// Merge upserts the last staged row of every CNPJ and, with prune, deletes
	// registry rows absent from staging, in one transaction
	Merge(ctx context.Context, prune bool) (merged, pruned int64, err error)
	DropStaging(ctx context.Context) error
	// UpdatePartners replaces the socios aggregate of every company whose root is a key
	UpdatePartners(ctx context.Context, partners map[string][]registry.Partner) (int64, error)
}

// StagingWriter streams rows into staging
type StagingWriter interface {
	Write(seq int64, c registry.Company) error
	// Close flushes and commits the pending batch
	Close() error
}

// stagingColumns are the columns of cnpj_staging after seq, matching cnpj_cache
var stagingColumns = []string{
	"cnpj", "razao_social", "nome_fantasia", "situacao_cadastral",
	"data_situacao_cadastral", "data_inicio_atividade", "natureza_juridica", "porte",
	"capital_social", "cnae_fiscal", "cnae_fiscal_descricao", "cnaes_secundarios",
	"logradouro", "numero", "complemento", "bairro", "municipio", "uf", "cep",
	"telefone_1", "telefone_2", "email", "opcao_pelo_simples", "opcao_pelo_mei",
	"raw_json", "data_consulta",
}

const createStaging = `
	CREATE UNLOGGED TABLE cnpj_staging (
		seq                      BIGINT NOT NULL,
		cnpj                     VARCHAR(14) NOT NULL,
		razao_social             TEXT,
		nome_fantasia            TEXT,
		situacao_cadastral       VARCHAR(50),
		data_situacao_cadastral  DATE,
		data_inicio_atividade    DATE,
		natureza_juridica        TEXT,
		porte                    VARCHAR(50),
		capital_social           NUMERIC(20,2),
		cnae_fiscal              VARCHAR(7),
		cnae_fiscal_descricao    TEXT,
		cnaes_secundarios        JSONB,
		logradouro               TEXT,
		numero                   VARCHAR(60),
		complemento              TEXT,
		bairro                   TEXT,
		municipio                VARCHAR(100),
		uf                       VARCHAR(2),
		cep                      VARCHAR(8),
		telefone_1               VARCHAR(30),
		telefone_2               VARCHAR(30),
		email                    TEXT,
		opcao_pelo_simples       VARCHAR(1),
		opcao_pelo_mei           VARCHAR(1),
		raw_json                 JSONB,
		data_consulta            TIMESTAMPTZ
	)`

// PostgresStore implements Store with lib/pq COPY
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a loader store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ResetStaging implements Store
func (s *PostgresStore) ResetStaging(ctx context.Context) error {
	if err := s.DropStaging(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, createStaging); err != nil {
		return fmt.Errorf("failed to create cnpj_staging: %w", err)
	}
	return nil
}

// DropStaging implements Store
func (s *PostgresStore) DropStaging(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS cnpj_staging"); err != nil {
		return fmt.Errorf("failed to drop cnpj_staging: %w", err)
	}
	return nil
}

// NewStagingWriter implements Store
func (s *PostgresStore) NewStagingWriter(ctx context.Context, batchSize int) (StagingWriter, error) {
	if batchSize <= 0 {
		batchSize = 10000
	}
	w := &copyWriter{ctx: ctx, db: s.db, batchSize: batchSize}
	if err := w.begin(); err != nil {
		return nil, err
	}
	return w, nil
}

type copyWriter struct {
	ctx       context.Context
	db        *sql.DB
	batchSize int
	tx        *sql.Tx
	stmt      *sql.Stmt
	pending   int
}

func (w *copyWriter) begin() error {
	tx, err := w.db.BeginTx(w.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin staging batch: %w", err)
	}
	stmt, err := tx.PrepareContext(w.ctx, pq.CopyIn("cnpj_staging", append([]string{"seq"}, stagingColumns...)...))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare staging copy: %w", err)
	}
	w.tx, w.stmt, w.pending = tx, stmt, 0
	return nil
}

func (w *copyWriter) Write(seq int64, c registry.Company) error {
	args, err := stagingValues(c)
	if err != nil {
		return err
	}
	if _, err := w.stmt.ExecContext(w.ctx, append([]any{seq}, args...)...); err != nil {
		w.abort()
		return fmt.Errorf("failed to stage %s: %w", c.CNPJ, err)
	}
	w.pending++
	if w.pending >= w.batchSize {
		if err := w.commit(); err != nil {
			return err
		}
		return w.begin()
	}
	return nil
}

func (w *copyWriter) commit() error {
	if _, err := w.stmt.ExecContext(w.ctx); err != nil {
		w.abort()
		return fmt.Errorf("failed to flush staging copy: %w", err)
	}
	if err := w.stmt.Close(); err != nil {
		w.abort()
		return fmt.Errorf("failed to close staging copy: %w", err)
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit staging batch: %w", err)
	}
	w.tx, w.stmt = nil, nil
	return nil
}

func (w *copyWriter) abort() {
	if w.stmt != nil {
		_ = w.stmt.Close()
	}
	if w.tx != nil {
		_ = w.tx.Rollback()
	}
	w.tx, w.stmt = nil, nil
}

func (w *copyWriter) Close() error {
	if w.tx == nil {
		return nil
	}
	return w.commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonValue(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func stagingValues(c registry.Company) ([]any, error) {
	secondary, err := jsonValue(c.CNAEsSecundarios, len(c.CNAEsSecundarios) == 0)
	if err != nil {
		return nil, fmt.Errorf("cnaes_secundarios of %s: %w", c.CNPJ, err)
	}
	raw, err := jsonValue(c.Raw, len(c.Raw) == 0)
	if err != nil {
		return nil, fmt.Errorf("raw_json of %s: %w", c.CNPJ, err)
	}
	var capital, consulta any
	if c.CapitalSocial != nil {
		capital = *c.CapitalSocial
	}
	if c.DataConsulta != nil {
		consulta = *c.DataConsulta
	}

	return []any{
		c.CNPJ, nullable(c.RazaoSocial), nullable(c.NomeFantasia), nullable(c.Situacao),
		nullable(c.DataSituacao), nullable(c.DataInicioAtividade), nullable(c.NaturezaJuridica), nullable(c.Porte),
		capital, nullable(c.CNAEFiscal), nullable(c.CNAEFiscalDescricao), secondary,
		nullable(c.Logradouro), nullable(c.Numero), nullable(c.Complemento), nullable(c.Bairro),
		nullable(c.Municipio), nullable(c.UF), nullable(c.CEP),
		nullable(c.Telefone1), nullable(c.Telefone2), nullable(c.Email),
		nullable(c.OpcaoSimples), nullable(c.OpcaoMEI),
		raw, consulta,
	}, nil
}

// Merge implements Store
func (s *PostgresStore) Merge(ctx context.Context, prune bool) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin merge: %w", err)
	}
	defer tx.Rollback()

	columns := joinColumns(stagingColumns)
	var updates string
	for i, col := range stagingColumns[1:] {
		if i > 0 {
			updates += ", "
		}
		updates += col + " = EXCLUDED." + col
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO cnpj_cache (`+columns+`)
		SELECT DISTINCT ON (cnpj) `+columns+`
		FROM cnpj_staging
		ORDER BY cnpj, seq DESC
		ON CONFLICT (cnpj) DO UPDATE SET `+updates+`, socios = NULL, updated_at = NOW()`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to merge staging: %w", err)
	}
	merged, _ := res.RowsAffected()

	var pruned int64
	if prune {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM cnpj_cache c
			WHERE NOT EXISTS (SELECT 1 FROM cnpj_staging s WHERE s.cnpj = c.cnpj)`)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to prune registry: %w", err)
		}
		pruned, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit merge: %w", err)
	}
	return merged, pruned, nil
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// UpdatePartners implements Store. The temp table lives on one pinned
// connection for the whole operation.
func (s *PostgresStore) UpdatePartners(ctx context.Context, partners map[string][]registry.Partner) (int64, error) {
	if len(partners) == 0 {
		return 0, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to pin connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `
		CREATE TEMP TABLE _tmp_socios (
			cnpj_basico TEXT NOT NULL,
			socios JSONB NOT NULL
		) ON COMMIT PRESERVE ROWS`); err != nil {
		return 0, fmt.Errorf("failed to create _tmp_socios: %w", err)
	}
	defer conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS _tmp_socios")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin partner copy: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("_tmp_socios", "cnpj_basico", "socios"))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to prepare partner copy: %w", err)
	}
	for basico, list := range partners {
		b, err := json.Marshal(list)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, fmt.Errorf("socios of %s: %w", basico, err)
		}
		if _, err := stmt.ExecContext(ctx, basico, string(b)); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to copy socios of %s: %w", basico, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to flush partner copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to close partner copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit partner copy: %w", err)
	}
	log.Printf("  %d partner aggregates in temp table", len(partners))

	if _, err := conn.ExecContext(ctx, "CREATE INDEX ON _tmp_socios (cnpj_basico)"); err != nil {
		return 0, fmt.Errorf("failed to index _tmp_socios: %w", err)
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE cnpj_cache c
		SET socios = t.socios
		FROM _tmp_socios t
		WHERE LEFT(c.cnpj, 8) = t.cnpj_basico`)
	if err != nil {
		return 0, fmt.Errorf("failed to update socios: %w", err)
	}
	updated, _ := res.RowsAffected()
	return updated, nil
}
