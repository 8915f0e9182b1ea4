//go:build libpostal

package normalize

import (
	"strings"

	postal "github.com/openvenues/gopostal/parser"
)

func init() {
	splitters["libpostal"] = PostalSplitter{}
}

// PostalSplitter uses libpostal to pick road and house_number out of a street line.
// It falls back to SplitStreet when libpostal finds no road.
type PostalSplitter struct{}

// Split implements Splitter
func (PostalSplitter) Split(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	var road, number string
	for _, c := range postal.ParseAddress(raw) {
		switch c.Label {
		case "road":
			road = c.Value
		case "house_number":
			number = Digits(c.Value)
		}
	}
	if road == "" {
		return SplitStreet(raw)
	}
	return strings.ToUpper(road), number
}
