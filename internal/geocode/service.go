package geocode

import (
	"context"
	"fmt"
	"log"

	"github.com/bdgd-cnpj/internal/metrics"
)

// maxErrorLen caps the error message stored in the cache
const maxErrorLen = 300

// Service resolves coordinates through the cache, calling the reverser on a miss
type Service struct {
	cache    CacheStore
	reverser Reverser
	metrics  *metrics.Metrics
}

// NewService creates a geocode service. m may be nil.
func NewService(cache CacheStore, reverser Reverser, m *metrics.Metrics) *Service {
	return &Service{cache: cache, reverser: reverser, metrics: m}
}

// LookupOrGeocode returns the cached entry of the bucket of lat, lon, or reverse
// geocodes it once and caches the outcome. A bucket cached as an error is
// returned as is; use Retry to force a new lookup. geocodedNow reports whether
// the external service was called.
func (s *Service) LookupOrGeocode(ctx context.Context, lat, lon float64) (Entry, bool, error) {
	key := KeyFor(lat, lon)

	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	if cached != nil && cached.Status != StatusPending {
		s.metrics.IncrementGeocode("cache_hit")
		return *cached, false, nil
	}

	entry, err := s.geocode(ctx, key, lat, lon)
	return entry, err == nil, err
}

// Retry reverse geocodes the bucket of lat, lon unless it already holds a success
func (s *Service) Retry(ctx context.Context, lat, lon float64) (Entry, bool, error) {
	key := KeyFor(lat, lon)

	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	if cached != nil && cached.OK() {
		return *cached, false, nil
	}

	entry, err := s.geocode(ctx, key, lat, lon)
	return entry, err == nil, err
}

// Stats returns cache statistics
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.cache.Stats(ctx)
}

func (s *Service) geocode(ctx context.Context, key Key, lat, lon float64) (Entry, error) {
	entry := Entry{
		Key:         key,
		LatOriginal: lat,
		LonOriginal: lon,
		Source:      SourceNominatim,
	}

	addr, err := s.reverser.Reverse(ctx, lat, lon)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Entry{}, ctxErr
	}
	if err != nil {
		msg := err.Error()
		if len(msg) > maxErrorLen {
			msg = msg[:maxErrorLen]
		}
		entry.Status = StatusError
		entry.ErrorMsg = msg
		s.metrics.IncrementGeocode("error")
		log.Printf("Reverse geocode %s,%s failed: %v", key.Lat, key.Lon, err)
	} else {
		entry.Status = StatusSuccess
		entry.Address = addr
		s.metrics.IncrementGeocode("success")
	}

	if err := s.cache.Upsert(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("failed to cache %s,%s: %w", key.Lat, key.Lon, err)
	}
	return entry, nil
}
