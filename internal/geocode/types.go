package geocode

import (
	"context"
	"strconv"
	"time"
)

// Cache entry status
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"

	SourceNominatim = "nominatim"
)

// Column widths of the address fields in geocode_cache and bdgd_clientes
const (
	maxStreet       = 300
	maxNumber       = 20
	maxNeighborhood = 200
	maxMunicipio    = 100
)

// CoordPrecision is the number of decimals of a cache key, roughly an 11 m grid
const CoordPrecision = 4

// RoundCoordinate formats v with CoordPrecision decimals: -22.9035123 -> "-22.9035"
func RoundCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', CoordPrecision, 64)
}

// Key identifies a geocode cache bucket
type Key struct {
	Lat string `json:"lat_round"`
	Lon string `json:"lon_round"`
}

// KeyFor rounds a coordinate pair into its bucket
func KeyFor(lat, lon float64) Key {
	return Key{Lat: RoundCoordinate(lat), Lon: RoundCoordinate(lon)}
}

// Address is the normalized result of a reverse lookup
type Address struct {
	Street       string `json:"logradouro,omitempty"`
	Number       string `json:"numero,omitempty"`
	Neighborhood string `json:"bairro,omitempty"`
	CEP          string `json:"cep,omitempty"`
	Municipio    string `json:"municipio,omitempty"`
	UF           string `json:"uf,omitempty"`
	Display      string `json:"endereco_completo,omitempty"`
}

// Entry is one geocode_cache row
type Entry struct {
	Key
	LatOriginal float64 `json:"lat_original"`
	LonOriginal float64 `json:"lon_original"`
	Address
	Status    string    `json:"status"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OK reports whether the entry holds a usable address
func (e Entry) OK() bool {
	return e.Status == StatusSuccess
}

// Stats summarizes the cache
type Stats struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Errors  int64 `json:"errors"`
	Pending int64 `json:"pending"`
}

// CacheStore persists reverse lookups by rounded coordinate
type CacheStore interface {
	// Get returns nil, nil on a miss
	Get(ctx context.Context, key Key) (*Entry, error)
	Upsert(ctx context.Context, e Entry) error
	Stats(ctx context.Context) (Stats, error)
}

// Reverser resolves a coordinate into an address
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (Address, error)
}
