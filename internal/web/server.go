package web

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdgd-cnpj/internal/cache"
	"github.com/bdgd-cnpj/internal/match"
	"github.com/bdgd-cnpj/internal/registry"
	"github.com/bdgd-cnpj/internal/web/handlers"
	"github.com/bdgd-cnpj/internal/web/middleware"
)

// Services are the dependencies behind the routes
type Services struct {
	Matches  handlers.MatchQuerier
	Refiner  handlers.Refiner
	Registry handlers.RegistryQuerier
	Clients  handlers.GeoStatsSource
	Geocode  handlers.GeocodeStatsSource
	// Gatherer feeds /metrics, the default registry when nil
	Gatherer prometheus.Gatherer
	Ping     func(ctx context.Context) error
}

// Server represents the web server
type Server struct {
	config     *Config
	db         *sql.DB
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a new web server instance
func NewServer(config *Config, db *sql.DB, svc Services) *Server {
	if svc.Ping == nil && db != nil {
		svc.Ping = db.PingContext
	}
	server := &Server{
		config: config,
		db:     db,
		router: NewRouter(config, svc),
	}
	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return server
}

// NewRouter configures all HTTP routes
func NewRouter(config *Config, svc Services) *mux.Router {
	validate := validator.New()
	handlerConfig := &handlers.Config{MaxLookup: config.MaxLookup, MaxRefine: config.MaxRefine}

	apiHandler := &handlers.APIHandler{Clients: svc.Clients, Geocode: svc.Geocode, Ping: svc.Ping}
	matchesHandler := &handlers.MatchesHandler{
		Matches:  svc.Matches,
		Refiner:  svc.Refiner,
		Stats:    cache.NewMemo[string, match.Stats](config.StatsTTL),
		Validate: validate,
		Config:   handlerConfig,
	}
	searchHandler := &handlers.SearchHandler{
		Registry: svc.Registry,
		Stats:    cache.NewMemo[string, registry.Stats](config.StatsTTL),
		Validate: validate,
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	// Match endpoints, literal paths before {cod_id}
	api.HandleFunc("/matches", matchesHandler.ListMatches).Methods("GET")
	api.HandleFunc("/matches/stats", matchesHandler.GetStats).Methods("GET")
	api.HandleFunc("/matches/batch-lookup", matchesHandler.BatchLookup).Methods("POST")
	api.HandleFunc("/matches/refine", matchesHandler.Refine).Methods("POST")
	api.HandleFunc("/matches/{cod_id}", matchesHandler.GetMatches).Methods("GET")

	api.HandleFunc("/geocode/stats", apiHandler.GetGeocodeStats).Methods("GET")

	// Registry endpoints
	api.HandleFunc("/cnpj", searchHandler.SearchCompanies).Methods("GET")
	api.HandleFunc("/cnpj/stats", searchHandler.GetStats).Methods("GET")
	api.HandleFunc("/cnpj/batch", searchHandler.BatchGet).Methods("POST")
	api.HandleFunc("/cnpj/{cnpj}", searchHandler.GetCompany).Methods("GET")

	gatherer := svc.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", apiHandler.Health).Methods("GET")

	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogging())
	return router
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done or SIGINT/SIGTERM arrives, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on http://%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}

	log.Println("Server stopped")
	return nil
}
