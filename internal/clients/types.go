package clients

// Geocoding status of a client row
const (
	GeoStatusSuccess = "success"
	GeoStatusError   = "error"

	GeoSourceNominatim = "nominatim"
)

// Address is the comparable shape of one address source
type Address struct {
	Street       string
	Number       string
	Neighborhood string
	CEP          string
}

// Empty reports whether the address carries nothing to score
func (a Address) Empty() bool {
	return a.CEP == "" && a.Street == ""
}

// GeoAddress is the normalized reverse-geocoded address of a client
type GeoAddress struct {
	Street       string `json:"logradouro,omitempty"`
	Number       string `json:"numero,omitempty"`
	Neighborhood string `json:"bairro,omitempty"`
	CEP          string `json:"cep,omitempty"`
	Municipio    string `json:"municipio,omitempty"`
	UF           string `json:"uf,omitempty"`
}

// Client is one BDGD energy consumer, normalized at import time
type Client struct {
	ID    int64  `json:"id"`
	CodID string `json:"cod_id"`

	LgrdOriginal string `json:"lgrd_original,omitempty"`
	BrrOriginal  string `json:"brr_original,omitempty"`
	CEPOriginal  string `json:"cep_original,omitempty"`
	CNAEOriginal string `json:"cnae_original,omitempty"`

	Street       string `json:"logradouro_norm,omitempty"`
	Number       string `json:"numero_norm,omitempty"`
	Neighborhood string `json:"bairro_norm,omitempty"`
	CEP          string `json:"cep_norm,omitempty"`
	CNAE         string `json:"cnae_norm,omitempty"`
	CNAE5        string `json:"cnae_5dig,omitempty"`

	MunCode   string `json:"mun_code,omitempty"`
	Municipio string `json:"municipio_nome,omitempty"`
	UF        string `json:"uf,omitempty"`

	// Lon and Lat come from POINT_X and POINT_Y
	Lon *float64 `json:"point_x,omitempty"`
	Lat *float64 `json:"point_y,omitempty"`

	ClasSub     string  `json:"clas_sub,omitempty"`
	GruTar      string  `json:"gru_tar,omitempty"`
	DemCont     float64 `json:"dem_cont"`
	EneMax      float64 `json:"ene_max"`
	Liv         int     `json:"liv"`
	PossuiSolar bool    `json:"possui_solar"`

	Geo       GeoAddress `json:"geo"`
	GeoSource string     `json:"geo_source,omitempty"`
	GeoStatus string     `json:"geo_status,omitempty"`
}

// Original returns the address declared in the BDGD record
func (c Client) Original() Address {
	return Address{Street: c.Street, Number: c.Number, Neighborhood: c.Neighborhood, CEP: c.CEP}
}

// Geocoded returns the reverse-geocoded address, empty when never geocoded
func (c Client) Geocoded() Address {
	return Address{Street: c.Geo.Street, Number: c.Geo.Number, Neighborhood: c.Geo.Neighborhood, CEP: c.Geo.CEP}
}

// HasCoordinates reports whether the record has a usable, non-zero point
func (c Client) HasCoordinates() bool {
	return c.Lat != nil && c.Lon != nil && *c.Lat != 0 && *c.Lon != 0
}

// SearchCEPs returns the distinct postal codes to look candidates up by,
// the declared one first
func (c Client) SearchCEPs() []string {
	var ceps []string
	if c.CEP != "" {
		ceps = append(ceps, c.CEP)
	}
	if c.Geo.CEP != "" && c.Geo.CEP != c.CEP {
		ceps = append(ceps, c.Geo.CEP)
	}
	return ceps
}

// GeoStats summarizes geocoding coverage of the client table
type GeoStats struct {
	Total          int64 `json:"total_clientes"`
	WithCoords     int64 `json:"com_coordenadas"`
	Geocoded       int64 `json:"geocodificados"`
	GeocodeErrors  int64 `json:"erros"`
	WithGeoCEP     int64 `json:"com_cep_geocodificado"`
	CacheEntries   int64 `json:"cache_entradas"`
	CacheSuccesses int64 `json:"cache_sucesso"`
}
