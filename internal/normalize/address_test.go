package normalize

import (
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"only spaces", "   ", ""},
		{"only punctuation", "--/.", ""},
		{"accents and case", "Avenida São João", "AVENIDA SAO JOAO"},
		{"cedilla", "Praça da Conceição", "PRACA DA CONCEICAO"},
		{"punctuation becomes space", "R. IRINEU-BIANCHINI,257", "R IRINEU BIANCHINI 257"},
		{"collapse whitespace", "  RUA   DAS\tFLORES ", "RUA DAS FLORES"},
		{"keeps digits", "Rod. SP-340 km 12", "ROD SP 340 KM 12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Text(tt.input)
			if got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextIdempotent(t *testing.T) {
	inputs := []string{
		"Avenida São João, 1500 - Centro",
		"r. dr. José   Bonifácio",
		"ÁÉÍÓÚ àèìòù ãõ ç ñ",
		"Straße 5",
		"ǰamal",
		"",
	}

	for _, in := range inputs {
		once := Text(in)
		twice := Text(once)
		if once != twice {
			t.Errorf("Text not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestPostalCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"13670-000", "13670000"},
		{"13670000", "13670000"},
		{"136700001", "13670000"},
		{"1310100", "01310100"},
		{"13670", "13670000"},
		{"136700", ""},
		{"123", ""},
		{"1", ""},
		{"", ""},
		{"sem cep", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := PostalCode(tt.input); got != tt.want {
				t.Errorf("PostalCode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTaxCode(t *testing.T) {
	tests := []struct {
		input      string
		wantCode   string
		wantPrefix string
	}{
		{"2229-3/03", "2229303", "22293"},
		{"4711301", "4711301", "47113"},
		{"47113019", "4711301", "47113"},
		{"471", "471", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			code := TaxCode(tt.input)
			if code != tt.wantCode {
				t.Errorf("TaxCode(%q) = %q, want %q", tt.input, code, tt.wantCode)
			}
			if prefix := TaxCodePrefix(code); prefix != tt.wantPrefix {
				t.Errorf("TaxCodePrefix(%q) = %q, want %q", code, prefix, tt.wantPrefix)
			}
		})
	}
}

func TestSplitStreet(t *testing.T) {
	tests := []struct {
		input      string
		wantStreet string
		wantNumber string
	}{
		{"R IRINEU BIANCHINI, 257", "R IRINEU BIANCHINI", "257"},
		{"RDV WASHINGTON LUIZ, 667 B.RECALQUE", "RDV WASHINGTON LUIZ", "667"},
		{"RUA SEM NUMERO, SN", "RUA SEM NUMERO", ""},
		{"AV BRASIL 1500", "AV BRASIL", "1500"},
		{"AV BRASIL 1500  ", "AV BRASIL", "1500"},
		{"AVENIDA 9 DE JULHO", "AVENIDA 9 DE JULHO", ""},
		{"Avenida 9 de Julho, 100", "Avenida 9 de Julho", "100"},
		{"ESTRADA VELHA", "ESTRADA VELHA", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			street, number := SplitStreet(tt.input)
			if street != tt.wantStreet || number != tt.wantNumber {
				t.Errorf("SplitStreet(%q) = (%q, %q), want (%q, %q)",
					tt.input, street, number, tt.wantStreet, tt.wantNumber)
			}
		})
	}
}

func TestSplitterByName(t *testing.T) {
	s, err := SplitterByName("")
	if err != nil {
		t.Fatalf("default splitter: %v", err)
	}
	if street, number := s.Split("AV BRASIL 10"); street != "AV BRASIL" || number != "10" {
		t.Errorf("heuristic split = (%q, %q)", street, number)
	}

	if _, err := SplitterByName("nope"); err == nil {
		t.Error("expected error for unknown splitter")
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("RUA DAS FLORES R DE", 2)
	if len(got) != 3 {
		t.Fatalf("Tokens() = %v, want RUA, DAS and FLORES", got)
	}
	for _, w := range []string{"RUA", "DAS", "FLORES"} {
		if _, ok := got[w]; !ok {
			t.Errorf("Tokens() missing %q", w)
		}
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"RUA A", 10, "RUA A"},
		{"AVENIDA", 3, "AVE"},
		{"SÃO PAULO", 2, "SÃ"},
		{"", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Clip(tt.input, tt.n); got != tt.want {
				t.Errorf("Clip(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
			}
		})
	}
}

func TestFirstOfList(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"120", "120"},
		{"1234;1236;1238", "1234"},
		{" 10 , 12", "10"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := FirstOfList(tt.input); got != tt.want {
				t.Errorf("FirstOfList(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
