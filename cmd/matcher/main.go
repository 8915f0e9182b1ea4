package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/config"
	"github.com/bdgd-cnpj/internal/db"
	"github.com/bdgd-cnpj/internal/match"
	"github.com/bdgd-cnpj/internal/normalize"
	"github.com/bdgd-cnpj/internal/service"
)

var (
	configPath string
	localDebug bool
	settings   *config.Settings

	// Global database connection
	dbConn *db.Connection
	svc    *service.Services
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "matcher",
		Short: "BDGD to CNPJ matching",
		Long:  `Links energy distribution clients (BDGD) to the establishments of the Receita Federal registry`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.LoadEnv(); err != nil {
				log.Printf("No .env loaded: %v", err)
			}
			var err error
			if settings, err = config.LoadSettings(configPath); err != nil {
				log.Fatalf("Failed to load settings: %v", err)
			}
			if dbConn, err = db.NewConnection(settings.Database); err != nil {
				log.Fatalf("Failed to connect to database: %v", err)
			}
			if err := db.EnsureSchema(context.Background(), dbConn.DB); err != nil {
				log.Fatalf("Failed to prepare schema: %v", err)
			}
			svc = service.New(dbConn.DB, settings, nil)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if dbConn != nil {
				dbConn.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML settings file")
	rootCmd.PersistentFlags().BoolVar(&localDebug, "debug", false, "Enable debug output")

	rootCmd.AddCommand(createImportCmd())
	rootCmd.AddCommand(createMatchCmd())
	rootCmd.AddCommand(createRefineCmd())
	rootCmd.AddCommand(createLookupCmd())
	rootCmd.AddCommand(createStatsCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

// createPingCmd creates a command to test database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Database connection successful!")

			ctx := context.Background()
			if n, err := svc.Clients.CountMatchable(ctx); err != nil {
				log.Printf("Error counting clients: %v", err)
			} else {
				fmt.Printf("Matchable clients: %d\n", n)
			}
			if stats, err := svc.Registry.Stats(ctx); err != nil {
				log.Printf("Error reading registry stats: %v", err)
			} else {
				fmt.Printf("Registry establishments: %d\n", stats.Total)
			}
		},
	}
}

// createImportCmd creates the client import subcommand
func createImportCmd() *cobra.Command {
	var municipios, splitterName string
	var batchSize int
	var truncate bool

	cmd := &cobra.Command{
		Use:   "import-clients [filename]",
		Short: "Import a BDGD client CSV export",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			splitter, err := normalize.SplitterByName(splitterName)
			if err != nil {
				log.Fatalf("%v", err)
			}
			importer := clients.NewImporter(svc.Clients, splitter)
			if batchSize > 0 {
				importer.BatchSize = batchSize
			}
			if municipios != "" {
				n, err := importer.LoadMunicipalities(municipios)
				if err != nil {
					log.Fatalf("Failed to load municipalities: %v", err)
				}
				fmt.Printf("Loaded %d municipalities\n", n)
			}
			if truncate {
				if err := svc.Clients.Truncate(ctx); err != nil {
					log.Fatalf("Failed to clear clients: %v", err)
				}
			}

			start := time.Now()
			stats, err := importer.ImportFile(ctx, localDebug, args[0])
			if err != nil {
				log.Fatalf("Failed to import clients: %v", err)
			}
			fmt.Printf("Imported %d of %d clients (%d errors, %d unmapped municipalities) in %v\n",
				stats.Written, stats.Read, stats.Errors, stats.Unmapped, time.Since(start).Round(time.Second))
		},
	}
	cmd.Flags().StringVar(&municipios, "municipios", "", "Municipality CSV (code;name;state)")
	cmd.Flags().StringVar(&splitterName, "splitter", "heuristic", "Street splitter: heuristic or libpostal")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Clients per transaction")
	cmd.Flags().BoolVar(&truncate, "truncate", false, "Delete existing clients first")
	return cmd
}

// createMatchCmd creates the batch matching subcommand
func createMatchCmd() *cobra.Command {
	var fresh bool
	var workers, pageSize int

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match every client against the registry",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			opts := match.RunOptions{
				Workers:  settings.Matcher.Workers,
				PageSize: settings.Matcher.PageSize,
				Fresh:    fresh,
				Debug:    localDebug,
			}
			if workers > 0 {
				opts.Workers = workers
			}
			if pageSize > 0 {
				opts.PageSize = pageSize
			}

			stats, err := svc.Engine.Run(ctx, svc.Clients, opts)
			if err != nil {
				log.Fatalf("Matching failed after %d clients: %v", stats.Processed, err)
			}
			printJSON(stats)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Clear previous matches first")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent clients")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Clients per page")
	return cmd
}

// createRefineCmd creates the geocode and re-match subcommand
func createRefineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refine [cod_id...]",
		Short: "Reverse geocode clients and re-match them",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			report, err := svc.Refiner.Refine(ctx, localDebug, args)
			if err != nil {
				log.Fatalf("Refine failed: %v", err)
			}
			printJSON(report)
		},
	}
}

// createLookupCmd creates the match lookup subcommand
func createLookupCmd() *cobra.Command {
	var explain bool

	cmd := &cobra.Command{
		Use:   "lookup [cod_id...]",
		Short: "Show the ranked matches of clients",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			scorer := svc.Engine.Scorer()

			for _, codID := range args {
				results, err := svc.Matches.AllMatches(ctx, codID)
				if err != nil {
					log.Fatalf("Failed to load matches of %s: %v", codID, err)
				}
				if len(results) == 0 {
					fmt.Printf("%s: no match\n", codID)
					continue
				}
				fmt.Printf("%s:\n", codID)
				for _, r := range results {
					fmt.Printf("  #%d %s %-40s %6.2f %-5s via %s\n", r.Rank, r.CNPJ, r.RazaoSocial, r.Total,
						scorer.Confidence(r.Total), r.AddressSource)
					if explain {
						printJSON(scorer.Explain(r.Score))
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "Print the score breakdown")
	return cmd
}

// createStatsCmd creates the statistics subcommand
func createStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show match and geocoding statistics",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			matchStats, err := svc.Matches.Stats(ctx)
			if err != nil {
				log.Fatalf("Failed to read match stats: %v", err)
			}
			geoStats, err := svc.Clients.GeoStats(ctx)
			if err != nil {
				log.Fatalf("Failed to read geocoding stats: %v", err)
			}
			printJSON(map[string]any{"matches": matchStats, "geocoding": geoStats})
		},
	}
}
