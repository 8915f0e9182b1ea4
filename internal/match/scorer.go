package match

import (
	"math"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/debug"
	"github.com/bdgd-cnpj/internal/normalize"
	"github.com/bdgd-cnpj/internal/registry"
)

// tokenMinLen drops short words (R, AV, DA, DE) from set comparisons
const tokenMinLen = 2

// Scorer rates a registry candidate against a client
type Scorer struct {
	weights Weights
	tiers   Tiers
}

// NewScorer creates a scorer with default weights and tiers
func NewScorer() *Scorer {
	return &Scorer{weights: DefaultWeights(), tiers: DefaultTiers()}
}

// NewScorerWithConfig creates a scorer with custom weights and tiers
func NewScorerWithConfig(weights Weights, tiers Tiers) *Scorer {
	return &Scorer{weights: weights, tiers: tiers}
}

// round2 rounds half away from zero to 2 decimals
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ScoreAddress compares one address of the client with the candidate's address
func (s *Scorer) ScoreAddress(ref clients.Address, cand registry.Company) AddressScore {
	var out AddressScore

	if ref.CEP != "" && ref.CEP == normalize.PostalCode(cand.CEP) {
		out.CEP = s.weights.CEP
	}

	if ref.Street != "" {
		if candStreet := normalize.Text(cand.Logradouro); candStreet != "" {
			out.Street = round2(jaccard(normalize.Tokens(ref.Street, tokenMinLen), normalize.Tokens(candStreet, tokenMinLen)) * s.weights.Street)
		}
	}

	if ref.Number != "" && cand.Numero != "" && ref.Number == normalize.Digits(cand.Numero) {
		out.Number = s.weights.Number
	}

	if ref.Neighborhood != "" {
		if candBairro := normalize.Text(cand.Bairro); candBairro != "" {
			if ref.Neighborhood == candBairro {
				out.Neighborhood = s.weights.Neighborhood
			} else {
				a := normalize.Tokens(ref.Neighborhood, tokenMinLen)
				b := normalize.Tokens(candBairro, tokenMinLen)
				if shared := intersection(a, b); shared > 0 {
					out.Neighborhood = round2(float64(shared) / float64(max(len(a), len(b))) * s.weights.Neighborhood)
				}
			}
		}
	}

	return out
}

// ScoreCNAE rates the economic activity: exact subclass, same class prefix, or nothing
func (s *Scorer) ScoreCNAE(clientCNAE, clientPrefix, candCNAE string) float64 {
	if clientCNAE == "" {
		return 0
	}
	cand := normalize.TaxCode(candCNAE)
	if cand == "" {
		return 0
	}
	if cand == clientCNAE {
		return s.weights.CNAEExact
	}
	if clientPrefix != "" && normalize.TaxCodePrefix(cand) == clientPrefix {
		return s.weights.CNAEPrefix
	}
	return 0
}

// Score rates a candidate with both address sources and keeps the best.
// The geocoded address only wins when strictly better.
func (s *Scorer) Score(localDebug bool, client clients.Client, cand registry.Company) Score {
	cnae := s.ScoreCNAE(client.CNAE, client.CNAE5, cand.CNAEFiscal)

	best := s.ScoreAddress(client.Original(), cand)
	bestTotal := round2(best.Sum() + cnae)
	source := SourceOriginal

	if geo := client.Geocoded(); !geo.Empty() {
		geoScore := s.ScoreAddress(geo, cand)
		if geoTotal := round2(geoScore.Sum() + cnae); geoTotal > bestTotal {
			debug.DebugOutput(localDebug, "%s: geocoded address wins %.2f > %.2f", cand.CNPJ, geoTotal, bestTotal)
			best, bestTotal, source = geoScore, geoTotal, SourceGeocoded
		}
	}

	return Score{
		Total:         bestTotal,
		CEP:           best.CEP,
		CNAE:          cnae,
		Street:        best.Street,
		Number:        best.Number,
		Neighborhood:  best.Neighborhood,
		AddressSource: source,
	}
}

// Confidence returns the tier of a total, or "" below the lowest tier
func (s *Scorer) Confidence(total float64) string {
	return confidence(s.tiers, total)
}

// Confidence returns the default tier of a total
func Confidence(total float64) string {
	return confidence(DefaultTiers(), total)
}

func confidence(t Tiers, total float64) string {
	switch {
	case total >= t.High:
		return ConfidenceHigh
	case total >= t.Medium:
		return ConfidenceMedium
	case total >= t.Low:
		return ConfidenceLow
	default:
		return ""
	}
}

// Explain returns a readable breakdown of a score
func (s *Scorer) Explain(sc Score) map[string]any {
	return map[string]any{
		"cep":            sc.CEP,
		"cnae":           sc.CNAE,
		"street":         sc.Street,
		"number":         sc.Number,
		"neighborhood":   sc.Neighborhood,
		"total":          sc.Total,
		"address_source": sc.AddressSource,
		"confidence":     s.Confidence(sc.Total),
	}
}

func intersection(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

// jaccard is |A∩B| / |A∪B|, 0 when either set is empty
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := intersection(a, b)
	return float64(shared) / float64(len(a)+len(b)-shared)
}
