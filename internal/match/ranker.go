package match

import (
	"sort"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/debug"
	"github.com/bdgd-cnpj/internal/registry"
)

// Rank scores every candidate, drops those under MinScore and returns the best
// topN with ranks 1..k. Equal totals keep candidate order.
func (s *Scorer) Rank(localDebug bool, client clients.Client, candidates []registry.Company, topN int) []Result {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	if topN <= 0 {
		topN = DefaultTopN
	}

	scored := make([]Result, 0, len(candidates))
	for _, cand := range candidates {
		sc := s.Score(localDebug, client, cand)
		if sc.Total < MinScore {
			continue
		}
		scored = append(scored, newResult(client.CodID, cand, sc))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Total > scored[j].Total
	})

	if len(scored) > topN {
		scored = scored[:topN]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}

	debug.DebugOutput(localDebug, "%s: %d candidates, %d kept", client.CodID, len(candidates), len(scored))
	return scored
}

func newResult(codID string, cand registry.Company, sc Score) Result {
	return Result{
		CodID:         codID,
		CNPJ:          cand.CNPJ,
		Score:         sc,
		RazaoSocial:   cand.RazaoSocial,
		NomeFantasia:  cand.NomeFantasia,
		Logradouro:    cand.Logradouro,
		Numero:        cand.Numero,
		Bairro:        cand.Bairro,
		CNPJCEP:       cand.CEP,
		Municipio:     cand.Municipio,
		UF:            cand.UF,
		CNPJCNAE:      cand.CNAEFiscal,
		CNAEDescricao: cand.CNAEFiscalDescricao,
		Situacao:      cand.Situacao,
		Telefone:      cand.Telefone1,
		Email:         cand.Email,
	}
}
