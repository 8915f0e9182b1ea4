package match

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/debug"
	"github.com/bdgd-cnpj/internal/metrics"
)

// Engine links clients to registry candidates and persists the ranking
type Engine struct {
	generator *Generator
	scorer    *Scorer
	store     MatchStore
	metrics   *metrics.Metrics
	topN      int
}

// EngineConfig holds configuration for the match engine
type EngineConfig struct {
	Candidates CandidateSource
	Store      MatchStore
	Scorer     *Scorer
	Metrics    *metrics.Metrics
	TopN       int
}

// RunOptions controls a batch run
type RunOptions struct {
	Workers  int
	PageSize int
	// Fresh truncates the match table before the run
	Fresh bool
	Debug bool
}

// RunStats reports a batch run
type RunStats struct {
	Processed      int64
	Matched        int64
	NoMatch        int64
	MatchesWritten int64
	GeocodedTop1   int64
	Duration       time.Duration
}

// NewEngine creates a match engine
func NewEngine(config EngineConfig) *Engine {
	scorer := config.Scorer
	if scorer == nil {
		scorer = NewScorer()
	}
	topN := config.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Engine{
		generator: NewGenerator(config.Candidates),
		scorer:    scorer,
		store:     config.Store,
		metrics:   config.Metrics,
		topN:      topN,
	}
}

// Scorer returns the engine's scorer
func (e *Engine) Scorer() *Scorer {
	return e.scorer
}

// MatchClient generates and ranks the candidates of one client without persisting
func (e *Engine) MatchClient(ctx context.Context, localDebug bool, client clients.Client) ([]Result, error) {
	candidates, err := e.generator.Generate(ctx, localDebug, client.SearchCEPs(), client.Municipio, client.CNAE)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", client.CodID, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return e.scorer.Rank(localDebug, client, candidates, e.topN), nil
}

// Run matches every client of src page by page. Clients within a page are
// processed by opts.Workers goroutines; the first error cancels the run.
func (e *Engine) Run(ctx context.Context, src ClientSource, opts RunOptions) (RunStats, error) {
	debug.DebugHeader(opts.Debug)
	defer debug.DebugFooter(opts.Debug)

	start := time.Now()
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	if opts.Fresh {
		log.Printf("Clearing previous matches...")
		if err := e.store.Truncate(ctx); err != nil {
			return RunStats{}, err
		}
	}

	var mu sync.Mutex
	var stats RunStats
	progress := debug.NewProgress("clients matched", int64(pageSize))

	var afterID int64
	for {
		page, err := src.Page(ctx, afterID, pageSize)
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, client := range page {
			g.Go(func() error {
				results, err := e.MatchClient(gctx, opts.Debug, client)
				if err != nil {
					return err
				}
				if opts.Fresh && len(results) == 0 {
					e.record(&mu, &stats, results)
					return nil
				}
				if err := e.store.Replace(gctx, client.CodID, results); err != nil {
					return err
				}
				e.record(&mu, &stats, results)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		progress.Add(int64(len(page)))
		debug.DebugOutput(opts.Debug, "page done, last id %d", afterID)
	}

	stats.Duration = time.Since(start)
	progress.Done()
	log.Printf("Matching complete: %s matched, %s without match, %s matches written, %s top-1 via geocode (%v)",
		debug.FormatCount(stats.Matched), debug.FormatCount(stats.NoMatch),
		debug.FormatCount(stats.MatchesWritten), debug.FormatCount(stats.GeocodedTop1),
		stats.Duration.Round(time.Second))
	return stats, nil
}

func (e *Engine) record(mu *sync.Mutex, stats *RunStats, results []Result) {
	mu.Lock()
	defer mu.Unlock()

	stats.Processed++
	if len(results) == 0 {
		stats.NoMatch++
		e.metrics.IncrementClient("no_match")
		return
	}
	stats.Matched++
	stats.MatchesWritten += int64(len(results))
	if results[0].AddressSource == SourceGeocoded {
		stats.GeocodedTop1++
	}
	e.metrics.IncrementClient("matched")
	e.metrics.AddMatchesWritten(len(results))
}
