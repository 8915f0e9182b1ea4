package etl

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdgd-cnpj/internal/registry"
)

const rawSource = "receita_federal_bulk"

// joiner builds registry rows from establishments. It only reads its maps, so
// one joiner is shared by every shard.
type joiner struct {
	lookups   *Lookups
	simples   map[uint32]SimplesInfo
	mei       basicoSet
	companies map[uint32]CompanyInfo
	runID     string
	loadedAt  time.Time
}

// skip reasons of the main pass
const (
	keepRow = iota
	skipInactive
	skipMEI
	skipMalformed
)

// classify decides whether an establishment belongs in the registry
func (j *joiner) classify(row EstablishmentRow) (uint32, int) {
	if row.Situacao != situacaoAtiva {
		return 0, skipInactive
	}
	k, ok := basicoKey(row.Basico)
	if !ok || len(row.CNPJ()) != 14 {
		return 0, skipMalformed
	}
	if j.mei.has(k) {
		return 0, skipMEI
	}
	return k, keepRow
}

// stagingWidths are the VARCHAR limits of cnpj_staging
var stagingWidths = []struct {
	value func(registry.Company) string
	width int
}{
	{func(c registry.Company) string { return c.Situacao }, 50},
	{func(c registry.Company) string { return c.Porte }, 50},
	{func(c registry.Company) string { return c.CNAEFiscal }, 7},
	{func(c registry.Company) string { return c.Numero }, 60},
	{func(c registry.Company) string { return c.Municipio }, 100},
	{func(c registry.Company) string { return c.UF }, 2},
	{func(c registry.Company) string { return c.CEP }, 8},
	{func(c registry.Company) string { return c.Telefone1 }, 30},
	{func(c registry.Company) string { return c.Telefone2 }, 30},
	{func(c registry.Company) string { return c.OpcaoSimples }, 1},
	{func(c registry.Company) string { return c.OpcaoMEI }, 1},
}

// fitsStaging reports whether every bounded column of c fits cnpj_staging
func fitsStaging(c registry.Company) bool {
	for _, w := range stagingWidths {
		if utf8.RuneCountInString(w.value(c)) > w.width {
			return false
		}
	}
	return true
}

func describe(table map[string]string, code string) string {
	if code == "" {
		return ""
	}
	return table[code]
}

func (j *joiner) company(k uint32, row EstablishmentRow) registry.Company {
	emp := j.companies[k]
	si := j.simples[k]
	situacao := situacaoNames[row.Situacao]
	if situacao == "" {
		situacao = row.Situacao
	}

	natureza := describe(j.lookups.Naturezas, emp.Natureza)
	if emp.Natureza != "" && natureza != "" {
		natureza = emp.Natureza + " - " + natureza
	}

	c := registry.Company{
		CNPJ:                row.CNPJ(),
		RazaoSocial:         emp.Razao,
		NomeFantasia:        row.NomeFantasia,
		Situacao:            situacao,
		DataSituacao:        formatDate(row.DataSituacao),
		DataInicioAtividade: formatDate(row.InicioAtividade),
		NaturezaJuridica:    natureza,
		Porte:               porteNames[emp.Porte],
		CapitalSocial:       emp.Capital,
		CNAEFiscal:          row.CNAEPrincipal,
		CNAEFiscalDescricao: describe(j.lookups.CNAEs, row.CNAEPrincipal),
		CNAEsSecundarios:    j.secondary(row.CNAEsSecundarios),
		Logradouro:          strings.TrimSpace(row.TipoLogradouro + " " + row.Logradouro),
		Numero:              row.Numero,
		Complemento:         row.Complemento,
		Bairro:              row.Bairro,
		Municipio:           describe(j.lookups.Municipios, row.Municipio),
		UF:                  row.UF,
		CEP:                 row.CEP,
		Telefone1:           formatPhone(row.DDD1, row.Telefone1),
		Telefone2:           formatPhone(row.DDD2, row.Telefone2),
		Email:               strings.ToLower(row.Email),
		OpcaoSimples:        si.OptSimples,
		OpcaoMEI:            si.OptMEI,
	}
	loaded := j.loadedAt
	c.DataConsulta = &loaded
	c.Raw = j.raw(row, emp, situacao)
	return c
}

func (j *joiner) secondary(raw string) []registry.SecondaryCNAE {
	if raw == "" {
		return nil
	}
	var out []registry.SecondaryCNAE
	for _, code := range strings.Split(raw, ",") {
		code = strings.TrimSpace(code)
		if code == "" || code == "0000000" {
			continue
		}
		out = append(out, registry.SecondaryCNAE{Codigo: code, Descricao: j.lookups.CNAEs[code]})
	}
	return out
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalInt(s string) any {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return nil
}

func (j *joiner) raw(row EstablishmentRow, emp CompanyInfo, situacao string) map[string]any {
	var matrizFilial any
	switch row.MatrizFilial {
	case "1":
		matrizFilial = "MATRIZ"
	case "2":
		matrizFilial = "FILIAL"
	}

	var pais, motivo any
	if row.Pais != "" {
		pais = j.lookups.Paises[row.Pais]
	}
	if row.Motivo != "" {
		motivo = j.lookups.Motivos[row.Motivo]
	}

	return map[string]any{
		"cnpj_basico":                           row.Basico,
		"identificador_matriz_filial":           optionalInt(row.MatrizFilial),
		"motivo_situacao_cadastral":             optional(row.Motivo),
		"nome_cidade_exterior":                  optional(row.CidadeExterior),
		"pais":                                  pais,
		"situacao_especial":                     optional(row.SituacaoEspecial),
		"data_situacao_especial":                optional(formatDate(row.DataSituacaoEspecial)),
		"descricao_tipo_logradouro":             optional(row.TipoLogradouro),
		"qualificacao_do_responsavel":           optionalInt(emp.QualResp),
		"ddd_fax":                               optional(formatPhone(row.DDDFax, row.Fax)),
		"descricao_situacao_cadastral":          situacao,
		"descricao_identificador_matriz_filial": matrizFilial,
		"descricao_motivo_situacao_cadastral":   motivo,
		"_source":                               rawSource,
		"_loaded_at":                            j.loadedAt.Format(time.RFC3339),
		"_run_id":                               j.runID,
	}
}
