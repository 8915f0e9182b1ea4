package etl

import (
	"strconv"
	"strings"
	"time"
)

// Registry situacao codes
const situacaoAtiva = "02"

var situacaoNames = map[string]string{
	"01": "NULA",
	"02": "ATIVA",
	"03": "SUSPENSA",
	"04": "INAPTA",
	"08": "BAIXADA",
}

var porteNames = map[string]string{
	"00": "NAO INFORMADO",
	"01": "MICRO EMPRESA",
	"03": "EMPRESA DE PEQUENO PORTE",
	"05": "DEMAIS",
}

// Minimum columns of each file type
const (
	establishmentColumns = 28
	companyColumns       = 6
	simplesColumns       = 5
	partnerColumns       = 7
	lookupColumns        = 2
)

// EstablishmentRow is one line of an Estabelecimentos file
type EstablishmentRow struct {
	Basico               string
	Ordem                string
	DV                   string
	MatrizFilial         string
	NomeFantasia         string
	Situacao             string
	DataSituacao         string
	Motivo               string
	CidadeExterior       string
	Pais                 string
	InicioAtividade      string
	CNAEPrincipal        string
	CNAEsSecundarios     string
	TipoLogradouro       string
	Logradouro           string
	Numero               string
	Complemento          string
	Bairro               string
	CEP                  string
	UF                   string
	Municipio            string
	DDD1, Telefone1      string
	DDD2, Telefone2      string
	DDDFax, Fax          string
	Email                string
	SituacaoEspecial     string
	DataSituacaoEspecial string
}

// CNPJ rebuilds the 14 digit CNPJ
func (r EstablishmentRow) CNPJ() string {
	return r.Basico + r.Ordem + r.DV
}

// CompanyRow is one line of an Empresas file
type CompanyRow struct {
	Basico   string
	Razao    string
	Natureza string
	QualResp string
	Capital  string
	Porte    string
}

// SimplesRow is one line of the Simples file
type SimplesRow struct {
	Basico     string
	OptSimples string
	OptMEI     string
}

// PartnerRow is one line of a Socios file
type PartnerRow struct {
	Basico       string
	Nome         string
	Qualificacao string
}

// LookupRow is one line of a code table
type LookupRow struct {
	Code        string
	Description string
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseEstablishment(record []string) (EstablishmentRow, bool) {
	if len(record) < establishmentColumns {
		return EstablishmentRow{}, false
	}
	return EstablishmentRow{
		Basico:               field(record, 0),
		Ordem:                field(record, 1),
		DV:                   field(record, 2),
		MatrizFilial:         field(record, 3),
		NomeFantasia:         field(record, 4),
		Situacao:             field(record, 5),
		DataSituacao:         field(record, 6),
		Motivo:               field(record, 7),
		CidadeExterior:       field(record, 8),
		Pais:                 field(record, 9),
		InicioAtividade:      field(record, 10),
		CNAEPrincipal:        field(record, 11),
		CNAEsSecundarios:     field(record, 12),
		TipoLogradouro:       field(record, 13),
		Logradouro:           field(record, 14),
		Numero:               field(record, 15),
		Complemento:          field(record, 16),
		Bairro:               field(record, 17),
		CEP:                  field(record, 18),
		UF:                   field(record, 19),
		Municipio:            field(record, 20),
		DDD1:                 field(record, 21),
		Telefone1:            field(record, 22),
		DDD2:                 field(record, 23),
		Telefone2:            field(record, 24),
		DDDFax:               field(record, 25),
		Fax:                  field(record, 26),
		Email:                field(record, 27),
		SituacaoEspecial:     field(record, 28),
		DataSituacaoEspecial: field(record, 29),
	}, true
}

func parseCompany(record []string) (CompanyRow, bool) {
	if len(record) < companyColumns {
		return CompanyRow{}, false
	}
	return CompanyRow{
		Basico:   field(record, 0),
		Razao:    field(record, 1),
		Natureza: field(record, 2),
		QualResp: field(record, 3),
		Capital:  field(record, 4),
		Porte:    field(record, 5),
	}, true
}

func parseSimples(record []string) (SimplesRow, bool) {
	if len(record) < simplesColumns {
		return SimplesRow{}, false
	}
	return SimplesRow{
		Basico:     field(record, 0),
		OptSimples: field(record, 1),
		OptMEI:     field(record, 4),
	}, true
}

func parsePartner(record []string) (PartnerRow, bool) {
	if len(record) < partnerColumns {
		return PartnerRow{}, false
	}
	return PartnerRow{
		Basico:       field(record, 0),
		Nome:         field(record, 2),
		Qualificacao: field(record, 4),
	}, true
}

func parseLookup(record []string) (LookupRow, bool) {
	if len(record) < lookupColumns {
		return LookupRow{}, false
	}
	return LookupRow{Code: field(record, 0), Description: field(record, 1)}, true
}

// basicoKey packs an 8 digit CNPJ root into a uint32
func basicoKey(basico string) (uint32, bool) {
	if len(basico) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(basico, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// formatDate turns YYYYMMDD into YYYY-MM-DD, or "" when not a calendar date
func formatDate(s string) string {
	if len(s) != 8 {
		return ""
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// formatPhone renders "(DDD) NUMBER", or "" when either part is missing
func formatPhone(ddd, number string) string {
	if ddd == "" || number == "" {
		return ""
	}
	return "(" + ddd + ") " + number
}

// parseCapital reads "1000,00" style decimals
func parseCapital(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &v
}
