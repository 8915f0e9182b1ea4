package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bdgd-cnpj/internal/config"
	"github.com/bdgd-cnpj/internal/db"
	"github.com/bdgd-cnpj/internal/metrics"
	"github.com/bdgd-cnpj/internal/service"
	"github.com/bdgd-cnpj/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML settings file")
	flag.Parse()

	// Load environment configuration
	if err := config.LoadEnv(); err != nil {
		log.Printf("No .env loaded: %v", err)
	}
	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	fmt.Println("=== BDGD CNPJ Match API ===")

	dbConn, err := db.NewConnection(settings.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbConn.Close()

	if err := db.EnsureSchema(context.Background(), dbConn.DB); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}
	fmt.Printf("Database connected successfully\n")

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := service.New(dbConn.DB, settings, m)

	server := web.NewServer(web.FromSettings(settings.Web), dbConn.DB, web.Services{
		Matches:  svc.Matches,
		Refiner:  svc.Refiner,
		Registry: svc.Registry,
		Clients:  svc.Clients,
		Geocode:  svc.Geocoder,
		Gatherer: prometheus.DefaultGatherer,
	})
	if err := server.Start(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
}
