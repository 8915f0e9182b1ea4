package normalize

import "strings"

// stateCodes maps unaccented, upper-cased state names to their UF code
var stateCodes = map[string]string{
	"ACRE":                "AC",
	"ALAGOAS":             "AL",
	"AMAPA":               "AP",
	"AMAZONAS":            "AM",
	"BAHIA":               "BA",
	"CEARA":               "CE",
	"DISTRITO FEDERAL":    "DF",
	"ESPIRITO SANTO":      "ES",
	"GOIAS":               "GO",
	"MARANHAO":            "MA",
	"MATO GROSSO":         "MT",
	"MATO GROSSO DO SUL":  "MS",
	"MINAS GERAIS":        "MG",
	"PARA":                "PA",
	"PARAIBA":             "PB",
	"PARANA":              "PR",
	"PERNAMBUCO":          "PE",
	"PIAUI":               "PI",
	"RIO DE JANEIRO":      "RJ",
	"RIO GRANDE DO NORTE": "RN",
	"RIO GRANDE DO SUL":   "RS",
	"RONDONIA":            "RO",
	"RORAIMA":             "RR",
	"SANTA CATARINA":      "SC",
	"SAO PAULO":           "SP",
	"SERGIPE":             "SE",
	"TOCANTINS":           "TO",
}

var validUF = func() map[string]bool {
	m := make(map[string]bool, len(stateCodes))
	for _, uf := range stateCodes {
		m[uf] = true
	}
	return m
}()

// StateCode resolves "São Paulo", "sao paulo" or "SP" to "SP". Unknown names yield "".
func StateCode(name string) string {
	s := strings.TrimSpace(name)
	if s == "" {
		return ""
	}
	if up := strings.ToUpper(s); validUF[up] {
		return up
	}
	return stateCodes[Text(s)]
}

// ISOStateCode extracts the UF from an ISO 3166-2 subdivision such as "BR-SP"
func ISOStateCode(iso string) string {
	iso = strings.ToUpper(strings.TrimSpace(iso))
	if !strings.HasPrefix(iso, "BR-") || len(iso) < 5 {
		return ""
	}
	if uf := iso[3:5]; validUF[uf] {
		return uf
	}
	return ""
}
