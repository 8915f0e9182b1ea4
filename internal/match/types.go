package match

import (
	"context"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/registry"
)

// Address sources recorded on a match
const (
	SourceOriginal = "original"
	SourceGeocoded = "geocoded"
)

const (
	// MinScore is the lowest total kept as a match
	MinScore = 15.0
	// DefaultTopN is the number of ranked matches stored per client
	DefaultTopN = 3

	// CEPCandidateLimit caps candidates fetched per postal code
	CEPCandidateLimit = 200
	// FallbackLimit caps the municipality + CNAE fallback
	FallbackLimit = 50
	// FallbackThreshold is the pool size under which the fallback runs
	FallbackThreshold = 5
)

// Confidence tiers of a rank-1 score
const (
	ConfidenceHigh   = "alta"
	ConfidenceMedium = "media"
	ConfidenceLow    = "baixa"
)

// Weights holds the maximum points of each score component
type Weights struct {
	CEP          float64 // 40
	CNAEExact    float64 // 25
	CNAEPrefix   float64 // 15
	Street       float64 // 20, scaled by Jaccard
	Number       float64 // 10
	Neighborhood float64 // 5
}

// DefaultWeights returns the production weights. They sum to 100.
func DefaultWeights() Weights {
	return Weights{
		CEP:          40,
		CNAEExact:    25,
		CNAEPrefix:   15,
		Street:       20,
		Number:       10,
		Neighborhood: 5,
	}
}

// Tiers are the lower bounds of each confidence tier
type Tiers struct {
	High   float64 // >= 75
	Medium float64 // >= 50
	Low    float64 // >= 15
}

// DefaultTiers returns the reporting tiers
func DefaultTiers() Tiers {
	return Tiers{High: 75, Medium: 50, Low: MinScore}
}

// AddressScore is the address part of a score
type AddressScore struct {
	CEP          float64
	Street       float64
	Number       float64
	Neighborhood float64
}

// Sum adds the four components
func (a AddressScore) Sum() float64 {
	return a.CEP + a.Street + a.Number + a.Neighborhood
}

// Score is the breakdown of one client/candidate pair for the winning address source
type Score struct {
	Total         float64 `json:"score_total"`
	CEP           float64 `json:"score_cep"`
	CNAE          float64 `json:"score_cnae"`
	Street        float64 `json:"score_endereco"`
	Number        float64 `json:"score_numero"`
	Neighborhood  float64 `json:"score_bairro"`
	AddressSource string  `json:"address_source"`
}

// Result is one ranked match with a snapshot of the candidate
type Result struct {
	CodID string `json:"-"`
	CNPJ  string `json:"cnpj"`
	Rank  int    `json:"rank"`
	Score

	RazaoSocial   string `json:"razao_social"`
	NomeFantasia  string `json:"nome_fantasia"`
	Logradouro    string `json:"cnpj_logradouro"`
	Numero        string `json:"cnpj_numero"`
	Bairro        string `json:"cnpj_bairro"`
	CNPJCEP       string `json:"cnpj_cep"`
	Municipio     string `json:"cnpj_municipio"`
	UF            string `json:"cnpj_uf"`
	CNPJCNAE      string `json:"cnpj_cnae"`
	CNAEDescricao string `json:"cnpj_cnae_descricao"`
	Situacao      string `json:"cnpj_situacao"`
	Telefone      string `json:"cnpj_telefone"`
	Email         string `json:"cnpj_email"`
}

// CandidateSource looks up active registry rows for candidate generation
type CandidateSource interface {
	ActiveByCEP(ctx context.Context, cep string, limit int) ([]registry.Company, error)
	ActiveByMunicipioCNAE(ctx context.Context, municipio, cnae string, excludeCEPs []string, limit int) ([]registry.Company, error)
}

// ClientSource pages matchable clients by ascending id
type ClientSource interface {
	Page(ctx context.Context, afterID int64, limit int) ([]clients.Client, error)
}

// Stats summarizes the match table
type Stats struct {
	TotalClients     int64    `json:"total_clientes"`
	ClientsMatched   int64    `json:"clientes_com_match"`
	ClientsNoMatch   int64    `json:"clientes_sem_match"`
	TotalMatches     int64    `json:"total_matches"`
	AvgTop1          *float64 `json:"avg_score_top1"`
	HighConfidence   int64    `json:"alta_confianca"`
	MediumConfidence int64    `json:"media_confianca"`
	LowConfidence    int64    `json:"baixa_confianca"`
	ViaGeocode       int64    `json:"matches_via_geocode"`
}

// ListFilter narrows MatchStore.List
type ListFilter struct {
	Search     string
	UF         string
	MinScore   *float64
	Confidence string
	Page       int
	PerPage    int
}

// ClientMatches is one client with its ranked matches
type ClientMatches struct {
	CodID        string   `json:"cod_id"`
	LgrdOriginal string   `json:"lgrd_original"`
	BrrOriginal  string   `json:"brr_original"`
	CEPOriginal  string   `json:"cep_original"`
	CNAEOriginal string   `json:"cnae_original"`
	Municipio    string   `json:"municipio_nome"`
	UF           string   `json:"uf"`
	ClasSub      string   `json:"clas_sub"`
	GruTar       string   `json:"gru_tar"`
	DemCont      *float64 `json:"dem_cont"`
	EneMax       *float64 `json:"ene_max"`
	Liv          *int64   `json:"liv"`
	PossuiSolar  bool     `json:"possui_solar"`
	PointX       *float64 `json:"point_x"`
	PointY       *float64 `json:"point_y"`
	BestScore    float64  `json:"best_score"`
	Matches      []Result `json:"matches"`
}

// ListResult is one page of List
type ListResult struct {
	Data    []ClientMatches `json:"data"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}
