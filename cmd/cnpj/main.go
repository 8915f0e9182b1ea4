package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdgd-cnpj/internal/cache"
	"github.com/bdgd-cnpj/internal/config"
	"github.com/bdgd-cnpj/internal/db"
	"github.com/bdgd-cnpj/internal/etl"
	"github.com/bdgd-cnpj/internal/normalize"
	"github.com/bdgd-cnpj/internal/registry"
)

var (
	configPath string
	localDebug bool
	settings   *config.Settings
	dbConn     *db.Connection
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cnpj",
		Short: "Receita Federal company registry tools",
		Long:  `Downloads the Receita Federal open data files, bulk loads the active company registry and queries it`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.LoadEnv(); err != nil {
				log.Printf("No .env loaded: %v", err)
			}
			var err error
			if settings, err = config.LoadSettings(configPath); err != nil {
				log.Fatalf("Failed to load settings: %v", err)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if dbConn != nil {
				dbConn.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML settings file")
	rootCmd.PersistentFlags().BoolVar(&localDebug, "debug", false, "Enable debug output")

	rootCmd.AddCommand(createDownloadCmd())
	rootCmd.AddCommand(createDiscoverCmd())
	rootCmd.AddCommand(createLoadCmd())
	rootCmd.AddCommand(createIndexesCmd())
	rootCmd.AddCommand(createStatsCmd())
	rootCmd.AddCommand(createQueryCmd())
	rootCmd.AddCommand(createSearchCmd())
	rootCmd.AddCommand(createScheduleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// connect opens the database once and makes sure the schema exists
func connect(ctx context.Context) *db.Connection {
	if dbConn != nil {
		return dbConn
	}
	var err error
	dbConn, err = db.NewConnection(settings.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.EnsureSchema(ctx, dbConn.DB); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}
	return dbConn
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

func newDownloader() *etl.Downloader {
	d := etl.NewDownloader(settings.Loader.BaseURL, settings.Loader.DataDir)
	if settings.Loader.MaxAttempts > 0 {
		d.Policy.MaxAttempts = settings.Loader.MaxAttempts
	}
	return d
}

func loaderOptions() etl.Options {
	opts := etl.DefaultOptions(settings.Loader.DataDir)
	opts.BatchSize = settings.Loader.BatchSize
	opts.ShardWorkers = settings.Loader.ShardWorkers
	opts.KeepFiles = settings.Loader.KeepFiles
	opts.Prune = settings.Loader.Prune
	opts.Debug = localDebug
	return opts
}

func logProgress(stage string, step, total int, detail string) {
	fmt.Printf("==> [%d/%d] %s\n", step, total, strings.ToUpper(stage))
}

// runLoad loads the data directory into the registry and rebuilds the indexes
func runLoad(ctx context.Context, opts etl.Options) (etl.Result, error) {
	conn := connect(ctx)
	loader := etl.NewLoader(etl.NewPostgresStore(conn.DB), opts, nil, logProgress)
	res, err := loader.Run(ctx)
	if err != nil {
		return res, err
	}
	if err := registry.NewStore(conn.DB).BuildIndexes(ctx, opts.Debug); err != nil {
		return res, fmt.Errorf("failed to build indexes: %w", err)
	}
	return res, nil
}

func createDownloadCmd() *cobra.Command {
	var groups []string
	var dir string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the Receita Federal files",
		Long:  `Download every file of the selected groups (empresas, estabelecimentos, socios, simples, lookups), resuming partial files`,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()

			if dir != "" {
				settings.Loader.DataDir = dir
			}
			res, err := newDownloader().Download(ctx, groups)
			if err != nil {
				log.Fatalf("Download aborted: %v", err)
			}
			printJSON(res)
			if len(res.Failed) > 0 {
				os.Exit(2)
			}
		},
	}
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "File groups to download (default all)")
	cmd.Flags().StringVar(&dir, "dir", "", "Data directory (default from settings)")
	return cmd
}

func createDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List the known files published at the mirror",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			found, err := newDownloader().Discover(ctx)
			if err != nil {
				log.Fatalf("Discovery failed: %v", err)
			}
			for _, name := range found {
				fmt.Println(name + ".zip")
			}
		},
	}
}

func createLoadCmd() *cobra.Command {
	var dir string
	var batchSize, workers int
	var keepFiles, noPrune bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Bulk load the downloaded files into the registry",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()

			opts := loaderOptions()
			if dir != "" {
				opts.Dir = dir
			}
			if batchSize > 0 {
				opts.BatchSize = batchSize
			}
			if workers > 0 {
				opts.ShardWorkers = workers
			}
			if cmd.Flags().Changed("keep-files") {
				opts.KeepFiles = keepFiles
			}
			if noPrune {
				opts.Prune = false
			}

			res, err := runLoad(ctx, opts)
			if err != nil {
				log.Fatalf("Bulk load failed: %v", err)
			}
			printJSON(res)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Data directory (default from settings)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per COPY batch")
	cmd.Flags().IntVar(&workers, "workers", 0, "Establishment files loaded in parallel")
	cmd.Flags().BoolVar(&keepFiles, "keep-files", false, "Keep the ZIP files after loading")
	cmd.Flags().BoolVar(&noPrune, "no-prune", false, "Keep registry rows missing from this load")
	return cmd
}

func createIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create the search and matching indexes",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			start := time.Now()
			if err := registry.NewStore(connect(ctx).DB).BuildIndexes(ctx, localDebug); err != nil {
				log.Fatalf("Failed to build indexes: %v", err)
			}
			fmt.Printf("Indexes ready in %v\n", time.Since(start).Round(time.Second))
		},
	}
}

func createStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry statistics",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			stats, err := registry.NewStore(connect(ctx).DB).Stats(ctx)
			if err != nil {
				log.Fatalf("Failed to read stats: %v", err)
			}
			printJSON(stats)
		},
	}
}

func createQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [cnpj...]",
		Short: "Show registry rows by CNPJ",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			store := registry.NewStore(connect(ctx).DB)
			lookups := cache.NewMemo[string, *registry.Company](0)

			for _, arg := range args {
				cnpj := normalize.CleanCNPJ(arg)
				if !normalize.ValidCNPJ(cnpj) {
					log.Printf("%s: invalid CNPJ", arg)
					continue
				}
				company, err := lookups.GetOrLoad(ctx, cnpj, func(ctx context.Context) (*registry.Company, error) {
					return store.Get(ctx, cnpj)
				})
				if err != nil {
					log.Printf("%s: %v", cnpj, err)
					continue
				}
				printJSON(company)
			}
		},
	}
}

func createSearchCmd() *cobra.Command {
	var uf, municipio, situacao string
	var limit int

	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Search the registry by name or CNPJ prefix",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			filter := registry.Filter{
				UF:        strings.ToUpper(uf),
				Municipio: municipio,
				Situacao:  strings.ToUpper(situacao),
				Page:      1,
				PerPage:   limit,
			}
			if len(args) == 1 {
				filter.Term = args[0]
			}
			res, err := registry.NewStore(connect(ctx).DB).Search(ctx, filter)
			if err != nil {
				log.Fatalf("Search failed: %v", err)
			}
			fmt.Printf("%d results (showing %d)\n", res.Total, len(res.Companies))
			for _, c := range res.Companies {
				fmt.Printf("%s  %-50s  %s/%s  %s\n", c.CNPJ, c.RazaoSocial, c.Municipio, c.UF, c.Situacao)
			}
		},
	}
	cmd.Flags().StringVar(&uf, "uf", "", "State")
	cmd.Flags().StringVar(&municipio, "municipio", "", "Municipality name")
	cmd.Flags().StringVar(&situacao, "situacao", "", "Registration status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	return cmd
}

func createScheduleCmd() *cobra.Command {
	var spec string
	var groups []string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Download and reload the registry on a cron schedule",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()

			scheduler, err := etl.NewScheduler(spec, func(ctx context.Context) error {
				res, err := newDownloader().Download(ctx, groups)
				if err != nil {
					return err
				}
				if len(res.Failed) > 0 {
					return fmt.Errorf("%d files failed to download: %s", len(res.Failed), strings.Join(res.Failed, ", "))
				}
				_, err = runLoad(ctx, loaderOptions())
				return err
			})
			if err != nil {
				log.Fatalf("%v", err)
			}
			if err := scheduler.Run(ctx); err != nil {
				log.Fatalf("Scheduler stopped: %v", err)
			}
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "0 3 15 * *", "Cron expression of the refresh")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "File groups to download (default all)")
	return cmd
}
