package etl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanZipDecodesLatin1(t *testing.T) {
	dir := t.TempDir()
	writeZip(t, dir, "Municipios",
		quoted("7107", "SÃO PAULO"),
		quoted("6291", "CAMPINAS"),
		`"0001";"QUOTE "INSIDE" FIELD"`,
	)

	var got [][]string
	malformed, err := scanZip(zipPath(dir, "Municipios"), func(record []string) error {
		got = append(got, append([]string(nil), record...))
		return nil
	})
	require.NoError(t, err)

	assert.Zero(t, malformed)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"7107", "SÃO PAULO"}, got[0])
	assert.Equal(t, "6291", got[1][0])
	assert.Equal(t, "0001", got[2][0])
}

func TestZipPathMissing(t *testing.T) {
	assert.Empty(t, zipPath(t.TempDir(), "Empresas0"))
}

func TestBasicoKey(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"11111111", 11111111, true},
		{"00000001", 1, true},
		{"1234567", 0, false},
		{"123456789", 0, false},
		{"1234567A", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := basicoKey(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatters(t *testing.T) {
	t.Run("dates", func(t *testing.T) {
		assert.Equal(t, "2005-03-15", formatDate("20050315"))
		assert.Empty(t, formatDate("00000000"))
		assert.Empty(t, formatDate("20051332"))
		assert.Empty(t, formatDate("2005031"))
		assert.Empty(t, formatDate(""))
	})

	t.Run("phones", func(t *testing.T) {
		assert.Equal(t, "(19) 32345678", formatPhone("19", "32345678"))
		assert.Empty(t, formatPhone("", "32345678"))
		assert.Empty(t, formatPhone("19", ""))
	})

	t.Run("capital", func(t *testing.T) {
		v := parseCapital("10000,50")
		require.NotNil(t, v)
		assert.InDelta(t, 10000.5, *v, 0.0001)
		assert.Nil(t, parseCapital(""))
		assert.Nil(t, parseCapital("abc"))
	})
}

func TestParsersRejectShortRows(t *testing.T) {
	short := []string{"11111111", "x"}

	_, ok := parseEstablishment(short)
	assert.False(t, ok)
	_, ok = parseCompany(short)
	assert.False(t, ok)
	_, ok = parseSimples(short)
	assert.False(t, ok)
	_, ok = parsePartner(short)
	assert.False(t, ok)
	_, ok = parseLookup([]string{"only"})
	assert.False(t, ok)

	line := estab{basico: "11111111", ordem: "0001", dv: "81", situacao: "02", numero: " 120 "}.line()
	_, err := scanCSV(strings.NewReader(line), func(record []string) error {
		row, ok := parseEstablishment(record)
		require.True(t, ok)
		assert.Equal(t, "11111111000181", row.CNPJ())
		assert.Equal(t, "120", row.Numero)
		return nil
	})
	require.NoError(t, err)
}

func TestClassify(t *testing.T) {
	j := &joiner{mei: basicoSet{22222222: {}}}

	tests := []struct {
		name string
		row  EstablishmentRow
		want int
	}{
		{"active", EstablishmentRow{Basico: "11111111", Ordem: "0001", DV: "81", Situacao: "02"}, keepRow},
		{"inactive", EstablishmentRow{Basico: "11111111", Ordem: "0001", DV: "81", Situacao: "08"}, skipInactive},
		{"mei", EstablishmentRow{Basico: "22222222", Ordem: "0001", DV: "00", Situacao: "02"}, skipMEI},
		{"short cnpj", EstablishmentRow{Basico: "11111111", Ordem: "001", DV: "81", Situacao: "02"}, skipMalformed},
		{"bad root", EstablishmentRow{Basico: "1111111", Ordem: "0001", DV: "81", Situacao: "02"}, skipMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := j.classify(tt.row)
			assert.Equal(t, tt.want, got)
		})
	}
}
