package geocode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresCache implements CacheStore on geocode_cache
type PostgresCache struct {
	db *sql.DB
}

// NewPostgresCache creates a cache store
func NewPostgresCache(db *sql.DB) *PostgresCache {
	return &PostgresCache{db: db}
}

// Get looks a bucket up
func (c *PostgresCache) Get(ctx context.Context, key Key) (*Entry, error) {
	var e Entry
	var latOrig, lonOrig sql.NullFloat64
	var street, number, bairro, cep, mun, uf, display, errMsg sql.NullString

	err := c.db.QueryRowContext(ctx, `
		SELECT lat_round, lon_round, lat_original, lon_original,
		       logradouro, numero, bairro, cep, municipio, uf, endereco_completo,
		       status, error_msg, source, created_at, updated_at
		FROM geocode_cache
		WHERE lat_round = $1 AND lon_round = $2
	`, key.Lat, key.Lon).Scan(
		&e.Lat, &e.Lon, &latOrig, &lonOrig,
		&street, &number, &bairro, &cep, &mun, &uf, &display,
		&e.Status, &errMsg, &e.Source, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read geocode cache %s,%s: %w", key.Lat, key.Lon, err)
	}

	e.LatOriginal = latOrig.Float64
	e.LonOriginal = lonOrig.Float64
	e.Address = Address{
		Street:       street.String,
		Number:       number.String,
		Neighborhood: bairro.String,
		CEP:          cep.String,
		Municipio:    mun.String,
		UF:           uf.String,
		Display:      display.String,
	}
	e.ErrorMsg = errMsg.String
	return &e, nil
}

// Upsert writes the entry, replacing any previous row of the same bucket
func (c *PostgresCache) Upsert(ctx context.Context, e Entry) error {
	source := e.Source
	if source == "" {
		source = SourceNominatim
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (
			lat_round, lon_round, lat_original, lon_original,
			logradouro, numero, bairro, cep, municipio, uf, endereco_completo,
			status, error_msg, source, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (lat_round, lon_round) DO UPDATE SET
			lat_original = EXCLUDED.lat_original,
			lon_original = EXCLUDED.lon_original,
			logradouro = EXCLUDED.logradouro,
			numero = EXCLUDED.numero,
			bairro = EXCLUDED.bairro,
			cep = EXCLUDED.cep,
			municipio = EXCLUDED.municipio,
			uf = EXCLUDED.uf,
			endereco_completo = EXCLUDED.endereco_completo,
			status = EXCLUDED.status,
			error_msg = EXCLUDED.error_msg,
			source = EXCLUDED.source,
			updated_at = NOW()
	`,
		e.Lat, e.Lon, e.LatOriginal, e.LonOriginal,
		nullString(e.Street), nullString(e.Number), nullString(e.Neighborhood),
		nullString(e.CEP), nullString(e.Municipio), nullString(e.UF), nullString(e.Display),
		e.Status, nullString(e.ErrorMsg), source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert geocode cache %s,%s: %w", e.Lat, e.Lon, err)
	}
	return nil
}

// Stats counts cache rows by status
func (c *PostgresCache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'error'),
		       COUNT(*) FILTER (WHERE status = 'pending')
		FROM geocode_cache
	`).Scan(&s.Total, &s.Success, &s.Errors, &s.Pending)
	if err != nil {
		return s, fmt.Errorf("failed to read geocode cache stats: %w", err)
	}
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
