package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// CEPLength is the length of a Brazilian postal code
	CEPLength = 8
	// CNAELength is the length of a full CNAE subclass code
	CNAELength = 7
	// CNAEPrefixLength is the length of the CNAE class prefix
	CNAEPrefixLength = 5
)

var (
	reTrailingNumber = regexp.MustCompile(`^(.+?)\s+(\d+)\s*$`)
	reLeadingDigits  = regexp.MustCompile(`^(\d+)`)
)

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Text returns the canonical comparison form of s: upper case, no diacritics,
// punctuation replaced by spaces, whitespace collapsed. Empty input yields "".
func Text(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if isASCII(s) {
		s = strings.ToUpper(s)
	} else {
		// lower-case letters without a simple upper mapping (U+01F0) only lose their mark on the first strip
		s = stripMarks(strings.ToUpper(stripMarks(s)))
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Digits keeps only ASCII digits
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// PostalCode normalizes a CEP: "13670-000" -> "13670000".
// The result is always eight digits or "". Seven digits have lost their
// leading zero and are left-padded; five digits are the legacy prefix-only
// format and get the "000" suffix. Six digits or fewer than five cannot be
// recovered.
func PostalCode(s string) string {
	d := Digits(s)
	switch {
	case len(d) >= CEPLength:
		return d[:CEPLength]
	case len(d) == CEPLength-1:
		return "0" + d
	case len(d) == 5:
		return d + "000"
	default:
		return ""
	}
}

// TaxCode normalizes a CNAE: "2229-3/03" -> "2229303"
func TaxCode(s string) string {
	d := Digits(s)
	if len(d) > CNAELength {
		return d[:CNAELength]
	}
	return d
}

// TaxCodePrefix returns the 5 digit CNAE class of a normalized code, or "" when too short
func TaxCodePrefix(code string) string {
	if len(code) < CNAEPrefixLength {
		return ""
	}
	return code[:CNAEPrefixLength]
}

// Splitter separates a house number from a street line
type Splitter interface {
	Split(raw string) (street, number string)
}

// HeuristicSplitter implements the comma / trailing-digits rule
type HeuristicSplitter struct{}

// Split implements Splitter
func (HeuristicSplitter) Split(raw string) (string, string) {
	return SplitStreet(raw)
}

// SplitStreet separates street and number from a BDGD LGRD field.
//
//	"R IRINEU BIANCHINI, 257"             -> ("R IRINEU BIANCHINI", "257")
//	"RDV WASHINGTON LUIZ, 667 B.RECALQUE" -> ("RDV WASHINGTON LUIZ", "667")
//	"AV BRASIL 1500"                      -> ("AV BRASIL", "1500")
//	"AVENIDA 9 DE JULHO"                  -> ("AVENIDA 9 DE JULHO", "")
//
// Streets with a number in the middle and no comma are left whole.
func SplitStreet(raw string) (string, string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ""
	}

	if idx := strings.Index(s, ","); idx >= 0 {
		street := strings.TrimSpace(s[:idx])
		rest := strings.TrimSpace(s[idx+1:])
		return street, reLeadingDigits.FindString(rest)
	}

	if m := reTrailingNumber.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), m[2]
	}

	return s, ""
}

// Tokens returns the distinct words of an already normalized string that are
// longer than minLen characters
func Tokens(s string, minLen int) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) > minLen {
			set[f] = struct{}{}
		}
	}
	return set
}

var splitters = map[string]Splitter{
	"heuristic": HeuristicSplitter{},
}

// SplitterByName returns a registered splitter. "heuristic" is always available,
// "libpostal" only in binaries built with the libpostal tag.
func SplitterByName(name string) (Splitter, error) {
	if name == "" {
		name = "heuristic"
	}
	s, ok := splitters[name]
	if !ok {
		return nil, fmt.Errorf("unknown street splitter %q", name)
	}
	return s, nil
}

// Clip cuts s to at most n runes
func Clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// FirstOfList returns the first entry of a "1234;1236" or "10, 12" list, trimmed
func FirstOfList(s string) string {
	if i := strings.IndexAny(s, ";,"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
