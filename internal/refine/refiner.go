package refine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/debug"
	"github.com/bdgd-cnpj/internal/geocode"
	"github.com/bdgd-cnpj/internal/match"
	"github.com/bdgd-cnpj/internal/metrics"
	"github.com/bdgd-cnpj/internal/normalize"
)

// MaxRefine is the largest batch accepted by Refine
const MaxRefine = 100

// ClientStore loads clients and records their geocoded address
type ClientStore interface {
	Get(ctx context.Context, codIDs []string) ([]clients.Client, error)
	UpdateGeocode(ctx context.Context, id int64, geo clients.GeoAddress, status string) error
}

// Geocoder resolves a coordinate through the geocode cache
type Geocoder interface {
	LookupOrGeocode(ctx context.Context, lat, lon float64) (geocode.Entry, bool, error)
}

// Matcher ranks candidates of one client
type Matcher interface {
	MatchClient(ctx context.Context, localDebug bool, client clients.Client) ([]match.Result, error)
}

// Report summarizes one Refine call
type Report struct {
	// Refined counts clients re-scored with at least one match
	Refined int `json:"refined"`
	// Geocoded counts coordinates newly geocoded with success
	Geocoded int `json:"geocoded"`
	// Improved counts clients whose rank-1 score went up
	Improved int `json:"improved"`
}

// Refiner geocodes clients on demand and re-ranks them with both addresses
type Refiner struct {
	clients ClientStore
	geocode Geocoder
	matcher Matcher
	matches match.MatchStore
	metrics *metrics.Metrics
}

// NewRefiner creates a refiner. m may be nil.
func NewRefiner(cs ClientStore, g Geocoder, matcher Matcher, matches match.MatchStore, m *metrics.Metrics) *Refiner {
	return &Refiner{clients: cs, geocode: g, matcher: matcher, matches: matches, metrics: m}
}

type bucket struct {
	key      geocode.Key
	lat, lon float64
}

// Refine processes at most MaxRefine client ids. Coordinates are resolved one
// at a time; a cancelled context stops between them and keeps what was saved.
func (r *Refiner) Refine(ctx context.Context, localDebug bool, codIDs []string) (Report, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	start := time.Now()
	defer func() { r.metrics.ObserveRefine(time.Since(start)) }()

	var report Report
	if len(codIDs) > MaxRefine {
		codIDs = codIDs[:MaxRefine]
	}
	if len(codIDs) == 0 {
		return report, nil
	}

	loaded, err := r.clients.Get(ctx, codIDs)
	if err != nil {
		return report, fmt.Errorf("failed to load clients: %w", err)
	}

	var targets []clients.Client
	var buckets []bucket
	seen := make(map[geocode.Key]bool)
	for _, c := range loaded {
		if !c.HasCoordinates() {
			continue
		}
		targets = append(targets, c)
		if c.GeoStatus == clients.GeoStatusSuccess {
			continue
		}
		key := geocode.KeyFor(*c.Lat, *c.Lon)
		if !seen[key] {
			seen[key] = true
			buckets = append(buckets, bucket{key: key, lat: *c.Lat, lon: *c.Lon})
		}
	}
	debug.DebugOutput(localDebug, "%d clients, %d with coordinates, %d coordinates to resolve", len(loaded), len(targets), len(buckets))
	if len(targets) == 0 {
		return report, nil
	}

	resolved := make(map[geocode.Key]geocode.Entry, len(buckets))
	for _, b := range buckets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entry, now, err := r.geocode.LookupOrGeocode(ctx, b.lat, b.lon)
		if err != nil {
			return report, fmt.Errorf("failed to geocode %s,%s: %w", b.key.Lat, b.key.Lon, err)
		}
		resolved[b.key] = entry
		if now && entry.OK() {
			report.Geocoded++
		}
	}

	for i, c := range targets {
		if c.GeoStatus == clients.GeoStatusSuccess {
			continue
		}
		entry, ok := resolved[geocode.KeyFor(*c.Lat, *c.Lon)]
		if !ok {
			continue
		}
		if !entry.OK() {
			if err := r.clients.UpdateGeocode(ctx, c.ID, clients.GeoAddress{}, clients.GeoStatusError); err != nil {
				return report, err
			}
			targets[i].GeoStatus = clients.GeoStatusError
			continue
		}
		geo := toClientAddress(entry.Address)
		if err := r.clients.UpdateGeocode(ctx, c.ID, geo, clients.GeoStatusSuccess); err != nil {
			return report, err
		}
		targets[i].Geo = geo
		targets[i].GeoSource = clients.GeoSourceNominatim
		targets[i].GeoStatus = clients.GeoStatusSuccess
	}

	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		results, err := r.matcher.MatchClient(ctx, localDebug, c)
		if err != nil {
			return report, err
		}
		if len(results) == 0 {
			continue
		}

		previous, err := r.matches.BestMatch(ctx, c.CodID)
		if err != nil {
			return report, err
		}
		var oldScore float64
		if previous != nil {
			oldScore = previous.Total
		}

		if err := r.matches.Replace(ctx, c.CodID, results); err != nil {
			return report, err
		}
		report.Refined++
		if results[0].Total > oldScore {
			report.Improved++
			debug.DebugOutput(localDebug, "%s improved %.2f -> %.2f (%s)", c.CodID, oldScore, results[0].Total, results[0].AddressSource)
		}
	}

	log.Printf("Refine: %d clients refined, %d coordinates geocoded, %d improved (%v)",
		report.Refined, report.Geocoded, report.Improved, time.Since(start).Round(time.Millisecond))
	return report, nil
}

func toClientAddress(a geocode.Address) clients.GeoAddress {
	return clients.GeoAddress{
		Street:       a.Street,
		Number:       normalize.Digits(a.Number),
		Neighborhood: a.Neighborhood,
		CEP:          a.CEP,
		Municipio:    a.Municipio,
		UF:           a.UF,
	}
}
