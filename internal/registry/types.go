package registry

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a CNPJ is not in the registry
var ErrNotFound = errors.New("cnpj not found")

// ErrBatchTooLarge is returned when a batch lookup exceeds MaxBatch
var ErrBatchTooLarge = errors.New("too many cnpjs in batch")

const (
	// MaxBatch caps BatchGet
	MaxBatch = 100
	// MaxPerPage caps Search page sizes
	MaxPerPage = 500
	// countCap bounds filtered COUNT queries
	countCap = 10000
)

// Situacao values stored by the bulk loader
const (
	SituacaoNula     = "NULA"
	SituacaoAtiva    = "ATIVA"
	SituacaoSuspensa = "SUSPENSA"
	SituacaoInapta   = "INAPTA"
	SituacaoBaixada  = "BAIXADA"
)

// SecondaryCNAE is one entry of cnaes_secundarios
type SecondaryCNAE struct {
	Codigo    string `json:"codigo"`
	Descricao string `json:"descricao"`
}

// Partner is one entry of the socios aggregate
type Partner struct {
	Nome         string `json:"nome"`
	Qualificacao string `json:"qualificacao"`
}

// Company is one establishment of the national company registry
type Company struct {
	CNPJ                 string          `json:"cnpj"`
	RazaoSocial          string          `json:"razao_social"`
	NomeFantasia         string          `json:"nome_fantasia"`
	Situacao             string          `json:"situacao_cadastral"`
	DataSituacao         string          `json:"data_situacao_cadastral,omitempty"`
	DataInicioAtividade  string          `json:"data_inicio_atividade,omitempty"`
	NaturezaJuridica     string          `json:"natureza_juridica"`
	Porte                string          `json:"porte"`
	CapitalSocial        *float64        `json:"capital_social"`
	CNAEFiscal           string          `json:"cnae_fiscal"`
	CNAEFiscalDescricao  string          `json:"cnae_fiscal_descricao"`
	CNAEsSecundarios     []SecondaryCNAE `json:"cnaes_secundarios,omitempty"`
	Logradouro           string          `json:"logradouro"`
	Numero               string          `json:"numero"`
	Complemento          string          `json:"complemento"`
	Bairro               string          `json:"bairro"`
	Municipio            string          `json:"municipio"`
	UF                   string          `json:"uf"`
	CEP                  string          `json:"cep"`
	Telefone1            string          `json:"telefone_1"`
	Telefone2            string          `json:"telefone_2"`
	Email                string          `json:"email"`
	Socios               []Partner       `json:"socios,omitempty"`
	OpcaoSimples         string          `json:"opcao_pelo_simples"`
	OpcaoMEI             string          `json:"opcao_pelo_mei"`
	Raw                  map[string]any  `json:"raw_json,omitempty"`
	DataConsulta         *time.Time      `json:"data_consulta,omitempty"`
}

// Filter narrows Search
type Filter struct {
	Term      string
	UF        string
	Municipio string
	Situacao  string
	Page      int
	PerPage   int
}

// SearchResult is one page of a Search. Total is approximate without filters
// and capped at 10001 with them.
type SearchResult struct {
	Companies []Company `json:"data"`
	Total     int64     `json:"total"`
	Page      int       `json:"page"`
	PerPage   int       `json:"per_page"`
}

// BatchResult lists the CNPJs found and the ones that were not
type BatchResult struct {
	Found    []Company `json:"found"`
	NotFound []string  `json:"not_found"`
}

// Stats summarizes the registry
type Stats struct {
	Total     int64 `json:"total"`
	Ativas    int64 `json:"ativas"`
	Suspensas int64 `json:"suspensas"`
	Inaptas   int64 `json:"inaptas"`
	Baixadas  int64 `json:"baixadas"`
	Simples   int64 `json:"simples"`
	MEI       int64 `json:"mei"`
	UFs       int64 `json:"ufs"`
}
