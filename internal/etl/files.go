package etl

import (
	"fmt"
	"os"
	"path/filepath"
)

// File groups published by Receita Federal
const (
	GroupEmpresas         = "empresas"
	GroupEstabelecimentos = "estabelecimentos"
	GroupSocios           = "socios"
	GroupSimples          = "simples"
	GroupLookups          = "lookups"
)

// Lookup file names
const (
	LookupCNAEs         = "Cnaes"
	LookupMunicipios    = "Municipios"
	LookupNaturezas     = "Naturezas"
	LookupQualificacoes = "Qualificacoes"
	LookupMotivos       = "Motivos"
	LookupPaises        = "Paises"
)

// shardCount is the number of numbered parts of the split file types
const shardCount = 10

func numbered(prefix string) []string {
	names := make([]string, shardCount)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return names
}

// FileGroups lists the base names (without .zip) of every group, in download order
var FileGroups = map[string][]string{
	GroupEmpresas:         numbered("Empresas"),
	GroupEstabelecimentos: numbered("Estabelecimentos"),
	GroupSocios:           numbered("Socios"),
	GroupSimples:          {"Simples"},
	GroupLookups:          {LookupCNAEs, LookupMunicipios, LookupNaturezas, LookupQualificacoes, LookupMotivos, LookupPaises},
}

// GroupOrder is the default order of a full download
var GroupOrder = []string{GroupEmpresas, GroupEstabelecimentos, GroupSocios, GroupSimples, GroupLookups}

// AllFiles returns every known base name
func AllFiles() []string {
	var all []string
	for _, g := range GroupOrder {
		all = append(all, FileGroups[g]...)
	}
	return all
}

// zipPath returns the path of name in dir, "" when the file is missing
func zipPath(dir, name string) string {
	p := filepath.Join(dir, name+".zip")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
