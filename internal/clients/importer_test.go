package clients

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	batches [][]Client
	err     error
}

func (f *fakeWriter) UpsertBatch(ctx context.Context, batch []Client) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	cp := append([]Client(nil), batch...)
	f.batches = append(f.batches, cp)
	return len(batch), nil
}

func (f *fakeWriter) all() []Client {
	var out []Client
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

const municipalitiesCSV = `Código Município Completo;Nome_Município;Nome_UF
3509502;Campinas;São Paulo
3509502;Campinas (distrito);São Paulo
3304557;Rio de Janeiro;Rio de Janeiro
`

const bdgdCSV = `COD_ID_ENCR,LGRD,BRR,CEP,CNAE,MUN,POINT_X,POINT_Y,CLAS_SUB,GRU_TAR,DEM_CONT,ENE_01,ENE_02,ENE_03,LIV,CEG_GD
abc123,"R IRINEU BIANCHINI, 257",Jardim São José,13670-000,2229-3/03,3509502,-47.06,-22.90,CO1,B3,"12,5",100,350.5,200,1,GD.SP.001
def456,AV BRASIL 1500,CENTRO,1310100,4711301,9999999,,,RE1,B1,0,,,,0,
`

func TestImport(t *testing.T) {
	writer := &fakeWriter{}
	imp := NewImporter(writer, nil)

	n, err := imp.readMunicipalities(strings.NewReader(municipalitiesCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := imp.Import(context.Background(), false, strings.NewReader(bdgdCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Read)
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 1, stats.Unmapped)

	got := writer.all()
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "abc123", first.CodID)
	assert.Equal(t, "R IRINEU BIANCHINI", first.Street)
	assert.Equal(t, "257", first.Number)
	assert.Equal(t, "JARDIM SAO JOSE", first.Neighborhood)
	assert.Equal(t, "13670000", first.CEP)
	assert.Equal(t, "2229303", first.CNAE)
	assert.Equal(t, "22293", first.CNAE5)
	assert.Equal(t, "CAMPINAS", first.Municipio)
	assert.Equal(t, "SP", first.UF)
	require.NotNil(t, first.Lon)
	assert.InDelta(t, -47.06, *first.Lon, 1e-9)
	assert.InDelta(t, 12.5, first.DemCont, 1e-9)
	assert.InDelta(t, 350.5, first.EneMax, 1e-9)
	assert.True(t, first.PossuiSolar)
	assert.True(t, first.HasCoordinates())

	second := got[1]
	assert.Equal(t, "AV BRASIL", second.Street)
	assert.Equal(t, "1500", second.Number)
	assert.Equal(t, "01310100", second.CEP)
	assert.Empty(t, second.Municipio)
	assert.Nil(t, second.Lat)
	assert.False(t, second.PossuiSolar)
	assert.False(t, second.HasCoordinates())
}

func TestImportSemicolonAndBatching(t *testing.T) {
	csvData := "COD_ID;LGRD;CEP\n1;RUA A, 1;13010000\n2;RUA B;13010001\n3;RUA C 3;\n"

	writer := &fakeWriter{}
	imp := NewImporter(writer, nil)
	imp.BatchSize = 2

	stats, err := imp.Import(context.Background(), false, strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Written)
	assert.Len(t, writer.batches, 2)
	assert.Equal(t, "3", writer.all()[2].CodID)
	assert.Equal(t, "RUA C", writer.all()[2].Street)
}

func TestImportRequiresIDColumn(t *testing.T) {
	imp := NewImporter(&fakeWriter{}, nil)
	_, err := imp.Import(context.Background(), false, strings.NewReader("LGRD,CEP\nX,1\n"))
	assert.Error(t, err)
}

func TestImportPropagatesWriterError(t *testing.T) {
	boom := errors.New("db gone")
	imp := NewImporter(&fakeWriter{err: boom}, nil)

	_, err := imp.Import(context.Background(), false, strings.NewReader("COD_ID\n1\n"))
	assert.ErrorIs(t, err, boom)
}

func TestClientAddresses(t *testing.T) {
	c := Client{
		Street: "RUA A", Number: "1", Neighborhood: "CENTRO", CEP: "13010000",
		Geo: GeoAddress{Street: "RUA B", CEP: "13010000"},
	}

	assert.Equal(t, Address{Street: "RUA A", Number: "1", Neighborhood: "CENTRO", CEP: "13010000"}, c.Original())
	assert.Equal(t, Address{Street: "RUA B", CEP: "13010000"}, c.Geocoded())
	assert.Equal(t, []string{"13010000"}, c.SearchCEPs())

	c.Geo.CEP = "13020000"
	assert.Equal(t, []string{"13010000", "13020000"}, c.SearchCEPs())

	assert.True(t, Client{}.Geocoded().Empty())
}
