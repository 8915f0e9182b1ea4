// Package service wires the stores and engines shared by the commands and the API.
package service

import (
	"database/sql"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/config"
	"github.com/bdgd-cnpj/internal/geocode"
	"github.com/bdgd-cnpj/internal/match"
	"github.com/bdgd-cnpj/internal/metrics"
	"github.com/bdgd-cnpj/internal/refine"
	"github.com/bdgd-cnpj/internal/registry"
)

// Services holds one instance of every component over a database
type Services struct {
	Registry *registry.Store
	Clients  *clients.Store
	Matches  *match.PostgresStore
	Geocoder *geocode.Service
	Engine   *match.Engine
	Refiner  *refine.Refiner
	Metrics  *metrics.Metrics
}

// New builds the services. m may be nil.
func New(db *sql.DB, settings *config.Settings, m *metrics.Metrics) *Services {
	registryStore := registry.NewStore(db)
	clientStore := clients.NewStore(db)
	matchStore := match.NewPostgresStore(db)

	nominatim := geocode.NewNominatimClient(geocode.NominatimConfig{
		URL:         settings.Geocoder.URL,
		UserAgent:   settings.Geocoder.UserAgent,
		Delay:       settings.Geocoder.Delay,
		Timeout:     settings.Geocoder.Timeout,
		MaxAttempts: settings.Geocoder.MaxAttempts,
	})
	geocoder := geocode.NewService(geocode.NewPostgresCache(db), nominatim, m)

	engine := match.NewEngine(match.EngineConfig{
		Candidates: registryStore,
		Store:      matchStore,
		Metrics:    m,
		TopN:       settings.Matcher.TopN,
	})

	return &Services{
		Registry: registryStore,
		Clients:  clientStore,
		Matches:  matchStore,
		Geocoder: geocoder,
		Engine:   engine,
		Refiner:  refine.NewRefiner(clientStore, geocoder, engine, matchStore, m),
		Metrics:  m,
	}
}
