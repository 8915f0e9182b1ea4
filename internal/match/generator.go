package match

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bdgd-cnpj/internal/debug"
	"github.com/bdgd-cnpj/internal/registry"
)

// Generator produces the candidate pool of a client
type Generator struct {
	source CandidateSource
}

// NewGenerator creates a candidate generator over a registry source
func NewGenerator(source CandidateSource) *Generator {
	return &Generator{source: source}
}

// Generate returns the deduplicated active candidates, in first-seen order:
// every establishment at one of the postal codes, then, when fewer than
// FallbackThreshold were found, the municipality + CNAE fallback outside them.
func (g *Generator) Generate(ctx context.Context, localDebug bool, ceps []string, municipio, cnae string) ([]registry.Company, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	seen := make(map[string]struct{})
	var pool []registry.Company
	add := func(found []registry.Company) int {
		added := 0
		for _, c := range found {
			if _, dup := seen[c.CNPJ]; dup {
				continue
			}
			seen[c.CNPJ] = struct{}{}
			pool = append(pool, c)
			added++
		}
		return added
	}

	searched := make([]string, 0, len(ceps))
	for _, cep := range ceps {
		if cep == "" || slices.Contains(searched, cep) {
			continue
		}
		searched = append(searched, cep)

		found, err := g.source.ActiveByCEP(ctx, cep, CEPCandidateLimit)
		if err != nil {
			return nil, fmt.Errorf("candidates by cep %s: %w", cep, err)
		}
		added := add(found)
		debug.DebugOutput(localDebug, "CEP %s: %d candidates, %d new", cep, len(found), added)
	}

	if len(pool) < FallbackThreshold && municipio != "" && cnae != "" {
		found, err := g.source.ActiveByMunicipioCNAE(ctx, strings.ToUpper(municipio), cnae, searched, FallbackLimit)
		if err != nil {
			return nil, fmt.Errorf("candidates by municipio %s and cnae %s: %w", municipio, cnae, err)
		}
		added := add(found)
		debug.DebugOutput(localDebug, "Fallback %s/%s: %d candidates, %d new", municipio, cnae, len(found), added)
	}

	return pool, nil
}
