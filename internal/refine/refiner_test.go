package refine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/geocode"
	"github.com/bdgd-cnpj/internal/match"
	"github.com/bdgd-cnpj/internal/metrics"
	"github.com/bdgd-cnpj/internal/registry"
)

func coord(v float64) *float64 { return &v }

type geoUpdate struct {
	id     int64
	geo    clients.GeoAddress
	status string
}

type fakeClients struct {
	rows    []clients.Client
	updates []geoUpdate
	asked   []string
}

func (f *fakeClients) Get(ctx context.Context, codIDs []string) ([]clients.Client, error) {
	f.asked = codIDs
	want := make(map[string]bool)
	for _, id := range codIDs {
		want[id] = true
	}
	var out []clients.Client
	for _, c := range f.rows {
		if want[c.CodID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClients) UpdateGeocode(ctx context.Context, id int64, geo clients.GeoAddress, status string) error {
	f.updates = append(f.updates, geoUpdate{id: id, geo: geo, status: status})
	return nil
}

type fakeGeocoder struct {
	byKey map[geocode.Key]geocode.Entry
	calls []geocode.Key
	err   error
	// cancel is called after the first lookup
	cancel func()
}

func (f *fakeGeocoder) LookupOrGeocode(ctx context.Context, lat, lon float64) (geocode.Entry, bool, error) {
	key := geocode.KeyFor(lat, lon)
	f.calls = append(f.calls, key)
	if f.cancel != nil {
		f.cancel()
	}
	if f.err != nil {
		return geocode.Entry{}, false, f.err
	}
	e, ok := f.byKey[key]
	if !ok {
		return geocode.Entry{Key: key, Status: geocode.StatusError, ErrorMsg: "no address"}, true, nil
	}
	return e, true, nil
}

type candidates map[string][]registry.Company

func (c candidates) ActiveByCEP(ctx context.Context, cep string, limit int) ([]registry.Company, error) {
	return c[cep], nil
}

func (c candidates) ActiveByMunicipioCNAE(ctx context.Context, municipio, cnae string, exclude []string, limit int) ([]registry.Company, error) {
	return nil, nil
}

type memoryMatches struct {
	rows map[string][]match.Result
}

func (m *memoryMatches) Replace(ctx context.Context, codID string, results []match.Result) error {
	m.rows[codID] = results
	return nil
}

func (m *memoryMatches) BestMatch(ctx context.Context, codID string) (*match.Result, error) {
	if r := m.rows[codID]; len(r) > 0 {
		return &r[0], nil
	}
	return nil, nil
}

func (m *memoryMatches) AllMatches(ctx context.Context, codID string) ([]match.Result, error) {
	return m.rows[codID], nil
}

func (m *memoryMatches) BatchBest(ctx context.Context, codIDs []string) (map[string]match.Result, error) {
	return nil, nil
}

func (m *memoryMatches) Stats(ctx context.Context) (match.Stats, error) {
	return match.Stats{}, nil
}

func (m *memoryMatches) Truncate(ctx context.Context) error {
	m.rows = make(map[string][]match.Result)
	return nil
}

type fixture struct {
	clients  *fakeClients
	geocoder *fakeGeocoder
	matches  *memoryMatches
	refiner  *Refiner
	metrics  *metrics.Metrics
}

func newFixture() *fixture {
	cs := &fakeClients{rows: []clients.Client{
		// declared CEP has no registry rows, geocoded one does
		{ID: 1, CodID: "UC-1", CEP: "13600000", Lat: coord(-21.70001), Lon: coord(-47.47001)},
		// same bucket as UC-1
		{ID: 2, CodID: "UC-2", CEP: "13670000", Lat: coord(-21.70002), Lon: coord(-47.47002)},
		// already geocoded
		{ID: 3, CodID: "UC-3", CEP: "13670000", Lat: coord(-22.1), Lon: coord(-47.1),
			GeoStatus: clients.GeoStatusSuccess, Geo: clients.GeoAddress{CEP: "13670000"}},
		// no coordinates
		{ID: 4, CodID: "UC-4", CEP: "13670000"},
		// geocoding fails
		{ID: 5, CodID: "UC-5", CEP: "99999999", Lat: coord(-23.5), Lon: coord(-46.6)},
	}}

	geo := &fakeGeocoder{byKey: map[geocode.Key]geocode.Entry{
		geocode.KeyFor(-21.7, -47.47): {
			Key:     geocode.KeyFor(-21.7, -47.47),
			Status:  geocode.StatusSuccess,
			Address: geocode.Address{Street: "RUA DAS FLORES", Number: "120A", CEP: "13670000", Municipio: "SANTA RITA", UF: "SP"},
		},
	}}

	cands := candidates{"13670000": {
		{CNPJ: "11222333000181", CEP: "13670000", Logradouro: "RUA DAS FLORES", Numero: "120"},
	}}

	matches := &memoryMatches{rows: map[string][]match.Result{
		"UC-2": {{CNPJ: "11222333000181", Rank: 1, Score: match.Score{Total: 90}}},
	}}
	m := metrics.New(prometheus.NewRegistry())
	engine := match.NewEngine(match.EngineConfig{Candidates: cands, Store: matches})

	return &fixture{
		clients:  cs,
		geocoder: geo,
		matches:  matches,
		metrics:  m,
		refiner:  NewRefiner(cs, geo, engine, matches, m),
	}
}

func TestRefine(t *testing.T) {
	f := newFixture()

	report, err := f.refiner.Refine(context.Background(), false, []string{"UC-1", "UC-2", "UC-3", "UC-4", "UC-5"})

	require.NoError(t, err)
	assert.Equal(t, Report{Refined: 3, Geocoded: 1, Improved: 2}, report)

	// one call per distinct bucket, already geocoded clients skipped
	assert.Equal(t, []geocode.Key{geocode.KeyFor(-21.7, -47.47), geocode.KeyFor(-23.5, -46.6)}, f.geocoder.calls)

	require.Len(t, f.clients.updates, 3)
	assert.Equal(t, geoUpdate{id: 1, status: clients.GeoStatusSuccess, geo: clients.GeoAddress{
		Street: "RUA DAS FLORES", Number: "120", CEP: "13670000", Municipio: "SANTA RITA", UF: "SP",
	}}, f.clients.updates[0])
	assert.Equal(t, int64(2), f.clients.updates[1].id)
	assert.Equal(t, geoUpdate{id: 5, status: clients.GeoStatusError}, f.clients.updates[2])

	best := f.matches.rows["UC-1"]
	require.Len(t, best, 1)
	assert.Equal(t, match.SourceGeocoded, best[0].AddressSource)
	assert.Equal(t, 70.0, best[0].Total)

	// UC-2 had 90 before, the new best is lower
	assert.Equal(t, 40.0+20+10, f.matches.rows["UC-2"][0].Total)
	assert.NotContains(t, f.matches.rows, "UC-4")
	assert.NotContains(t, f.matches.rows, "UC-5")

	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.RefineDuration))
}

func TestRefineCapsBatch(t *testing.T) {
	f := newFixture()
	ids := make([]string, MaxRefine+50)
	for i := range ids {
		ids[i] = "X"
	}

	_, err := f.refiner.Refine(context.Background(), false, ids)

	require.NoError(t, err)
	assert.Len(t, f.clients.asked, MaxRefine)
}

func TestRefineEmpty(t *testing.T) {
	f := newFixture()

	report, err := f.refiner.Refine(context.Background(), false, nil)

	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.Empty(t, f.geocoder.calls)
}

func TestRefineStopsWhenCancelled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.geocoder.cancel = cancel

	_, err := f.refiner.Refine(ctx, false, []string{"UC-1", "UC-5"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.geocoder.calls, 1)
	assert.Empty(t, f.matches.rows["UC-1"])
}

func TestRefineGeocodeError(t *testing.T) {
	f := newFixture()
	f.geocoder.err = errors.New("cache unavailable")

	_, err := f.refiner.Refine(context.Background(), false, []string{"UC-1"})

	assert.ErrorIs(t, err, f.geocoder.err)
	assert.Empty(t, f.clients.updates)
}
