package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the loader, the match engine
// and the refiner. All methods are safe on a nil receiver.
type Metrics struct {
	// Loader rows by stage, staged or skipped with a reason
	LoaderRows *prometheus.CounterVec

	// Match engine outcomes per client: matched or no_match
	ClientOutcomes *prometheus.CounterVec

	MatchesWritten prometheus.Counter

	// Reverse geocoding requests by outcome: success, error, cache_hit
	GeocodeRequests *prometheus.CounterVec

	RefineDuration prometheus.Histogram
}

// New registers all collectors on reg. Passing nil uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LoaderRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bdgd_loader_rows_total",
			Help: "Registry rows processed by the bulk loader by stage and outcome",
		}, []string{"stage", "outcome"}), // outcome: "staged", "inactive", "mei", "malformed"

		ClientOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bdgd_match_clients_total",
			Help: "Clients processed by the match engine by outcome",
		}, []string{"outcome"}),

		MatchesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "bdgd_matches_written_total",
			Help: "Ranked match rows written to the match store",
		}),

		GeocodeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bdgd_geocode_requests_total",
			Help: "Reverse geocoding lookups by outcome",
		}, []string{"outcome"}),

		RefineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bdgd_refine_duration_seconds",
			Help:    "Duration of a geocode-assisted refine call",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// AddLoaderRows records n rows for a loader stage
func (m *Metrics) AddLoaderRows(stage, outcome string, n int) {
	if m != nil && n > 0 {
		m.LoaderRows.WithLabelValues(stage, outcome).Add(float64(n))
	}
}

// IncrementClient records a match engine outcome for one client
func (m *Metrics) IncrementClient(outcome string) {
	if m != nil {
		m.ClientOutcomes.WithLabelValues(outcome).Inc()
	}
}

// AddMatchesWritten records persisted match rows
func (m *Metrics) AddMatchesWritten(n int) {
	if m != nil && n > 0 {
		m.MatchesWritten.Add(float64(n))
	}
}

// IncrementGeocode records one reverse geocoding lookup
func (m *Metrics) IncrementGeocode(outcome string) {
	if m != nil {
		m.GeocodeRequests.WithLabelValues(outcome).Inc()
	}
}

// ObserveRefine records the duration of a refine call
func (m *Metrics) ObserveRefine(d time.Duration) {
	if m != nil {
		m.RefineDuration.Observe(d.Seconds())
	}
}
