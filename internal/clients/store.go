package clients

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Store persists clients in bdgd_clientes
type Store struct {
	db *sql.DB
}

// NewStore creates a client store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const clientColumns = `
	id, cod_id, lgrd_original, brr_original, cep_original, cnae_original,
	logradouro_norm, numero_norm, bairro_norm, cep_norm, cnae_norm, cnae_5dig,
	mun_code, municipio_nome, uf, point_x, point_y,
	clas_sub, gru_tar, dem_cont, ene_max, liv, possui_solar,
	geo_logradouro, geo_numero, geo_bairro, geo_cep, geo_municipio, geo_uf,
	geo_source, geo_status`

func scanClient(row interface{ Scan(...any) error }) (Client, error) {
	var c Client
	var lgrd, brr, cep, cnae sql.NullString
	var street, number, bairro, cepNorm, cnaeNorm, cnae5 sql.NullString
	var munCode, municipio, uf, clasSub, gruTar sql.NullString
	var geoStreet, geoNumber, geoBairro, geoCEP, geoMun, geoUF, geoSource, geoStatus sql.NullString
	var lon, lat, demCont, eneMax sql.NullFloat64
	var liv sql.NullInt64
	var solar sql.NullBool

	err := row.Scan(
		&c.ID, &c.CodID, &lgrd, &brr, &cep, &cnae,
		&street, &number, &bairro, &cepNorm, &cnaeNorm, &cnae5,
		&munCode, &municipio, &uf, &lon, &lat,
		&clasSub, &gruTar, &demCont, &eneMax, &liv, &solar,
		&geoStreet, &geoNumber, &geoBairro, &geoCEP, &geoMun, &geoUF,
		&geoSource, &geoStatus,
	)
	if err != nil {
		return Client{}, err
	}

	c.LgrdOriginal, c.BrrOriginal, c.CEPOriginal, c.CNAEOriginal = lgrd.String, brr.String, cep.String, cnae.String
	c.Street, c.Number, c.Neighborhood = street.String, number.String, bairro.String
	c.CEP, c.CNAE, c.CNAE5 = cepNorm.String, cnaeNorm.String, cnae5.String
	c.MunCode, c.Municipio, c.UF = munCode.String, municipio.String, uf.String
	if lon.Valid {
		v := lon.Float64
		c.Lon = &v
	}
	if lat.Valid {
		v := lat.Float64
		c.Lat = &v
	}
	c.ClasSub, c.GruTar = clasSub.String, gruTar.String
	c.DemCont, c.EneMax = demCont.Float64, eneMax.Float64
	c.Liv = int(liv.Int64)
	c.PossuiSolar = solar.Bool
	c.Geo = GeoAddress{
		Street:       geoStreet.String,
		Number:       geoNumber.String,
		Neighborhood: geoBairro.String,
		CEP:          geoCEP.String,
		Municipio:    geoMun.String,
		UF:           geoUF.String,
	}
	c.GeoSource, c.GeoStatus = geoSource.String, geoStatus.String
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// UpsertBatch writes a batch in one transaction. Re-imported rows refresh their
// declared fields and keep their geocoding.
func (s *Store) UpsertBatch(ctx context.Context, batch []Client) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bdgd_clientes (
			cod_id, lgrd_original, brr_original, cep_original, cnae_original,
			logradouro_norm, numero_norm, bairro_norm, cep_norm, cnae_norm, cnae_5dig,
			mun_code, municipio_nome, uf, point_x, point_y,
			clas_sub, gru_tar, dem_cont, ene_max, liv, possui_solar
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (cod_id) DO UPDATE SET
			lgrd_original = EXCLUDED.lgrd_original,
			brr_original = EXCLUDED.brr_original,
			cep_original = EXCLUDED.cep_original,
			cnae_original = EXCLUDED.cnae_original,
			logradouro_norm = EXCLUDED.logradouro_norm,
			numero_norm = EXCLUDED.numero_norm,
			bairro_norm = EXCLUDED.bairro_norm,
			cep_norm = EXCLUDED.cep_norm,
			cnae_norm = EXCLUDED.cnae_norm,
			cnae_5dig = EXCLUDED.cnae_5dig,
			mun_code = EXCLUDED.mun_code,
			municipio_nome = EXCLUDED.municipio_nome,
			uf = EXCLUDED.uf,
			point_x = EXCLUDED.point_x,
			point_y = EXCLUDED.point_y,
			clas_sub = EXCLUDED.clas_sub,
			gru_tar = EXCLUDED.gru_tar,
			dem_cont = EXCLUDED.dem_cont,
			ene_max = EXCLUDED.ene_max,
			liv = EXCLUDED.liv,
			possui_solar = EXCLUDED.possui_solar
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare client upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, c := range batch {
		_, err := stmt.ExecContext(ctx,
			c.CodID, nullString(c.LgrdOriginal), nullString(c.BrrOriginal), nullString(c.CEPOriginal), nullString(c.CNAEOriginal),
			nullString(c.Street), nullString(c.Number), nullString(c.Neighborhood), nullString(c.CEP), nullString(c.CNAE), nullString(c.CNAE5),
			nullString(c.MunCode), nullString(c.Municipio), nullString(c.UF), c.Lon, c.Lat,
			nullString(c.ClasSub), nullString(c.GruTar), c.DemCont, c.EneMax, c.Liv, c.PossuiSolar,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert client %s: %w", c.CodID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit client batch: %w", err)
	}
	return written, nil
}

// Get loads clients by cod_id. Unknown ids are silently absent.
func (s *Store) Get(ctx context.Context, codIDs []string) ([]Client, error) {
	if len(codIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM bdgd_clientes WHERE cod_id = ANY($1) ORDER BY id`, pq.Array(codIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// Page returns up to limit matchable clients with id > afterID, ordered by id.
// A client is matchable when it has a declared or a geocoded postal code.
func (s *Store) Page(ctx context.Context, afterID int64, limit int) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM bdgd_clientes
		WHERE id > $1 AND (cep_norm IS NOT NULL OR geo_cep IS NOT NULL)
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page clients: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// CountMatchable counts the clients Page would visit
func (s *Store) CountMatchable(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bdgd_clientes WHERE cep_norm IS NOT NULL OR geo_cep IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count clients: %w", err)
	}
	return n, nil
}

func collect(rows *sql.Rows) ([]Client, error) {
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateGeocode stores a geocoding outcome. An error status leaves the previous
// geo address untouched.
func (s *Store) UpdateGeocode(ctx context.Context, id int64, geo GeoAddress, status string) error {
	var err error
	if status == GeoStatusSuccess {
		_, err = s.db.ExecContext(ctx, `
			UPDATE bdgd_clientes SET
				geo_logradouro = $2, geo_numero = $3, geo_bairro = $4,
				geo_cep = $5, geo_municipio = $6, geo_uf = $7,
				geo_source = $8, geo_status = $9, geo_updated_at = NOW()
			WHERE id = $1
		`, id, nullString(geo.Street), nullString(geo.Number), nullString(geo.Neighborhood),
			nullString(geo.CEP), nullString(geo.Municipio), nullString(geo.UF),
			GeoSourceNominatim, status)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE bdgd_clientes SET geo_status = $2, geo_updated_at = NOW() WHERE id = $1`, id, status)
	}
	if err != nil {
		return fmt.Errorf("failed to update geocode of client %d: %w", id, err)
	}
	return nil
}

// GeoStats reports geocoding coverage of clients and the cache
func (s *Store) GeoStats(ctx context.Context) (GeoStats, error) {
	var st GeoStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE point_x IS NOT NULL AND point_y IS NOT NULL AND point_x <> 0 AND point_y <> 0),
			COUNT(*) FILTER (WHERE geo_status = 'success'),
			COUNT(*) FILTER (WHERE geo_status = 'error'),
			COUNT(*) FILTER (WHERE geo_cep IS NOT NULL),
			(SELECT COUNT(*) FROM geocode_cache),
			(SELECT COUNT(*) FROM geocode_cache WHERE status = 'success')
		FROM bdgd_clientes
	`).Scan(&st.Total, &st.WithCoords, &st.Geocoded, &st.GeocodeErrors, &st.WithGeoCEP, &st.CacheEntries, &st.CacheSuccesses)
	if err != nil {
		return GeoStats{}, fmt.Errorf("failed to compute geocode stats: %w", err)
	}
	return st, nil
}

// Truncate removes every client
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE bdgd_clientes RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to truncate clients: %w", err)
	}
	return nil
}
