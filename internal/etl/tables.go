package etl

import (
	"context"
	"log"

	"github.com/bdgd-cnpj/internal/debug"
)

// Lookups holds the code tables, code to description
type Lookups struct {
	CNAEs         map[string]string
	Municipios    map[string]string
	Naturezas     map[string]string
	Qualificacoes map[string]string
	Motivos       map[string]string
	Paises        map[string]string
}

// Len returns the total number of entries
func (l *Lookups) Len() int {
	return len(l.CNAEs) + len(l.Municipios) + len(l.Naturezas) + len(l.Qualificacoes) + len(l.Motivos) + len(l.Paises)
}

// SimplesInfo is the tax regime of a company root
type SimplesInfo struct {
	OptSimples string
	OptMEI     string
}

// CompanyInfo is the company-level data joined into every establishment
type CompanyInfo struct {
	Razao    string
	Natureza string
	QualResp string
	Capital  *float64
	Porte    string
}

// basicoSet is a set of packed CNPJ roots
type basicoSet map[uint32]struct{}

func (s basicoSet) has(k uint32) bool {
	_, ok := s[k]
	return ok
}

// tableScanner reads the join tables from the data directory
type tableScanner struct {
	dir        string
	localDebug bool
}

func (t tableScanner) loadLookups(ctx context.Context) (*Lookups, int64, error) {
	l := &Lookups{}
	targets := []struct {
		name string
		dst  *map[string]string
	}{
		{LookupCNAEs, &l.CNAEs},
		{LookupMunicipios, &l.Municipios},
		{LookupNaturezas, &l.Naturezas},
		{LookupQualificacoes, &l.Qualificacoes},
		{LookupMotivos, &l.Motivos},
		{LookupPaises, &l.Paises},
	}

	var malformed int64
	for _, target := range targets {
		m := make(map[string]string)
		*target.dst = m

		path := zipPath(t.dir, target.name)
		if path == "" {
			log.Printf("Lookup file not found: %s.zip", target.name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, malformed, err
		}

		bad, err := scanZip(path, func(record []string) error {
			row, ok := parseLookup(record)
			if !ok {
				malformed++
				return nil
			}
			m[row.Code] = row.Description
			return nil
		})
		malformed += bad
		if err != nil {
			return nil, malformed, err
		}
		debug.DebugOutput(t.localDebug, "Loaded %d %s entries", len(m), target.name)
	}
	return l, malformed, nil
}

// prescan collects the roots having at least one active establishment
func (t tableScanner) prescan(ctx context.Context) (basicoSet, int64, error) {
	active := make(basicoSet)
	var malformed, rows int64

	for _, name := range FileGroups[GroupEstabelecimentos] {
		path := zipPath(t.dir, name)
		if path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, malformed, err
		}

		before := len(active)
		bad, err := scanZip(path, func(record []string) error {
			rows++
			if len(record) < 6 {
				malformed++
				return nil
			}
			if field(record, 5) != situacaoAtiva {
				return nil
			}
			if k, ok := basicoKey(field(record, 0)); ok {
				active[k] = struct{}{}
			}
			return nil
		})
		malformed += bad
		if err != nil {
			return nil, malformed, err
		}
		log.Printf("  %s: %s new active roots", name, debug.FormatCount(int64(len(active)-before)))
	}

	log.Printf("Pre-scan complete: %s active roots in %s rows", debug.FormatCount(int64(len(active))), debug.FormatCount(rows))
	return active, malformed, nil
}

// loadSimples reads the tax regime of active roots and returns the MEI subset
func (t tableScanner) loadSimples(ctx context.Context, active basicoSet) (map[uint32]SimplesInfo, basicoSet, int64, error) {
	simples := make(map[uint32]SimplesInfo)
	mei := make(basicoSet)

	path := zipPath(t.dir, "Simples")
	if path == "" {
		log.Printf("Simples.zip not found, MEI companies will not be filtered")
		return simples, mei, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, 0, err
	}

	var malformed int64
	bad, err := scanZip(path, func(record []string) error {
		row, ok := parseSimples(record)
		if !ok {
			malformed++
			return nil
		}
		k, ok := basicoKey(row.Basico)
		if !ok || !active.has(k) {
			return nil
		}
		simples[k] = SimplesInfo{OptSimples: row.OptSimples, OptMEI: row.OptMEI}
		if row.OptMEI == "S" {
			mei[k] = struct{}{}
		}
		return nil
	})
	malformed += bad
	if err != nil {
		return nil, nil, malformed, err
	}

	log.Printf("Simples: %s entries, %s MEI", debug.FormatCount(int64(len(simples))), debug.FormatCount(int64(len(mei))))
	return simples, mei, malformed, nil
}

// loadCompanies reads the company data of active, non-MEI roots
func (t tableScanner) loadCompanies(ctx context.Context, active, mei basicoSet) (map[uint32]CompanyInfo, int64, error) {
	companies := make(map[uint32]CompanyInfo)
	var malformed int64

	for _, name := range FileGroups[GroupEmpresas] {
		path := zipPath(t.dir, name)
		if path == "" {
			log.Printf("File not found: %s.zip", name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, malformed, err
		}

		bad, err := scanZip(path, func(record []string) error {
			row, ok := parseCompany(record)
			if !ok {
				malformed++
				return nil
			}
			k, ok := basicoKey(row.Basico)
			if !ok || !active.has(k) || mei.has(k) {
				return nil
			}
			companies[k] = CompanyInfo{
				Razao:    row.Razao,
				Natureza: row.Natureza,
				QualResp: row.QualResp,
				Capital:  parseCapital(row.Capital),
				Porte:    row.Porte,
			}
			return nil
		})
		malformed += bad
		if err != nil {
			return nil, malformed, err
		}
		debug.DebugOutput(t.localDebug, "%s: %d companies in memory", name, len(companies))
	}

	log.Printf("Empresas: %s companies for %s needed roots", debug.FormatCount(int64(len(companies))), debug.FormatCount(int64(len(active)-len(mei))))
	return companies, malformed, nil
}
