package etl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bdgd-cnpj/internal/debug"
	"github.com/bdgd-cnpj/internal/metrics"
	"github.com/bdgd-cnpj/internal/registry"
)

// Stage names, in run order
const (
	StageLookups  = "lookups"
	StagePrescan  = "prescan"
	StageSimples  = "simples"
	StageEmpresas = "empresas"
	StageMain     = "main"
	StageMerge    = "merge"
	StagePartners = "partners"
	StageCleanup  = "cleanup"
)

// Stages lists every stage in run order
var Stages = []string{StageLookups, StagePrescan, StageSimples, StageEmpresas, StageMain, StageMerge, StagePartners, StageCleanup}

// ErrStage matches every *StageError
var ErrStage = errors.New("bulk load stage failed")

// ErrNoEstablishments means the main pass found no Estabelecimentos file
var ErrNoEstablishments = errors.New("no establishment files")

// StageError reports the stage that aborted a run
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStage) true for any stage
func (e *StageError) Is(target error) bool { return target == ErrStage }

// ProgressFunc receives the start of every stage
type ProgressFunc func(stage string, step, total int, detail string)

// Options controls a bulk load
type Options struct {
	Dir          string
	BatchSize    int
	ShardWorkers int
	KeepFiles    bool
	Prune        bool
	Debug        bool
}

// DefaultOptions returns the options of a full reload of dir
func DefaultOptions(dir string) Options {
	return Options{Dir: dir, BatchSize: 10000, ShardWorkers: 1, Prune: true}
}

// Result summarizes a bulk load
type Result struct {
	RunID           string        `json:"run_id"`
	Lookups         int           `json:"lookups"`
	ActiveRoots     int           `json:"active_roots"`
	MEIRoots        int           `json:"mei_roots"`
	Companies       int           `json:"companies"`
	Staged          int64         `json:"staged"`
	SkippedInactive int64         `json:"skipped_inactive"`
	SkippedMEI      int64         `json:"skipped_mei"`
	Malformed       int64         `json:"malformed"`
	Merged          int64         `json:"merged"`
	Pruned          int64         `json:"pruned"`
	PartnerRoots    int           `json:"partner_roots"`
	PartnersUpdated int64         `json:"partners_updated"`
	FilesRemoved    int           `json:"files_removed"`
	FreedBytes      int64         `json:"freed_bytes"`
	Duration        time.Duration `json:"duration"`
}

// Loader runs the staged bulk load of the Receita Federal files
type Loader struct {
	store    Store
	opts     Options
	metrics  *metrics.Metrics
	progress ProgressFunc
	now      func() time.Time
}

// NewLoader creates a loader writing to store
func NewLoader(store Store, opts Options, m *metrics.Metrics, progress ProgressFunc) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10000
	}
	if opts.ShardWorkers <= 0 {
		opts.ShardWorkers = 1
	}
	return &Loader{store: store, opts: opts, metrics: m, progress: progress, now: time.Now}
}

func (l *Loader) stage(name, detail string) {
	step := 0
	for i, s := range Stages {
		if s == name {
			step = i + 1
		}
	}
	log.Printf("[%d/%d] %s: %s", step, len(Stages), name, detail)
	if l.progress != nil {
		l.progress(name, step, len(Stages), detail)
	}
}

// Run executes every stage in order. The first failing stage aborts the run
// with a *StageError.
func (l *Loader) Run(ctx context.Context) (Result, error) {
	debug.DebugHeader(l.opts.Debug)
	defer debug.DebugFooter(l.opts.Debug)

	start := l.now()
	res := Result{RunID: uuid.New().String()}
	fail := func(stage string, err error) (Result, error) {
		res.Duration = time.Since(start)
		return res, &StageError{Stage: stage, Err: err}
	}

	if info, err := os.Stat(l.opts.Dir); err != nil || !info.IsDir() {
		return fail(StageLookups, fmt.Errorf("data directory %s not found", l.opts.Dir))
	}
	log.Printf("Bulk load %s from %s", res.RunID, l.opts.Dir)
	scanner := tableScanner{dir: l.opts.Dir, localDebug: l.opts.Debug}

	l.stage(StageLookups, "loading code tables")
	lookups, bad, err := scanner.loadLookups(ctx)
	res.Malformed += bad
	if err != nil {
		return fail(StageLookups, err)
	}
	res.Lookups = lookups.Len()

	l.stage(StagePrescan, "collecting active roots")
	active, bad, err := scanner.prescan(ctx)
	res.Malformed += bad
	if err != nil {
		return fail(StagePrescan, err)
	}
	res.ActiveRoots = len(active)

	l.stage(StageSimples, "loading tax regimes")
	simples, mei, bad, err := scanner.loadSimples(ctx, active)
	res.Malformed += bad
	if err != nil {
		return fail(StageSimples, err)
	}
	res.MEIRoots = len(mei)

	l.stage(StageEmpresas, "loading companies")
	companies, bad, err := scanner.loadCompanies(ctx, active, mei)
	res.Malformed += bad
	if err != nil {
		return fail(StageEmpresas, err)
	}
	res.Companies = len(companies)

	j := &joiner{
		lookups:   lookups,
		simples:   simples,
		mei:       mei,
		companies: companies,
		runID:     res.RunID,
		loadedAt:  l.now().UTC(),
	}

	l.stage(StageMain, "staging establishments")
	if err := l.mainPass(ctx, j, &res); err != nil {
		return fail(StageMain, err)
	}

	l.stage(StageMerge, "merging staging into registry")
	prune := l.opts.Prune && res.Staged > 0
	if l.opts.Prune && !prune {
		log.Printf("Nothing staged, keeping the existing registry")
	}
	merged, pruned, err := l.store.Merge(ctx, prune)
	if err != nil {
		return fail(StageMerge, err)
	}
	res.Merged, res.Pruned = merged, pruned
	if err := l.store.DropStaging(ctx); err != nil {
		return fail(StageMerge, err)
	}
	log.Printf("Merged %s rows, pruned %s", debug.FormatCount(merged), debug.FormatCount(pruned))

	l.stage(StagePartners, "aggregating partners")
	partners, bad, err := l.collectPartners(ctx, lookups, active, mei)
	res.Malformed += bad
	if err != nil {
		return fail(StagePartners, err)
	}
	res.PartnerRoots = len(partners)
	updated, err := l.store.UpdatePartners(ctx, partners)
	if err != nil {
		return fail(StagePartners, err)
	}
	res.PartnersUpdated = updated
	log.Printf("Partners set on %s establishments", debug.FormatCount(updated))

	if l.opts.KeepFiles {
		l.stage(StageCleanup, "keeping downloaded files")
	} else {
		l.stage(StageCleanup, "removing downloaded files")
		removed, freed, err := removeZips(l.opts.Dir)
		if err != nil {
			return fail(StageCleanup, err)
		}
		res.FilesRemoved, res.FreedBytes = removed, freed
	}

	res.Duration = time.Since(start)
	log.Printf("Bulk load complete: %s staged, %s merged, %s inactive, %s MEI, %s malformed (%v)",
		debug.FormatCount(res.Staged), debug.FormatCount(res.Merged),
		debug.FormatCount(res.SkippedInactive), debug.FormatCount(res.SkippedMEI),
		debug.FormatCount(res.Malformed), res.Duration.Round(time.Second))
	return res, nil
}

// shardCounts are the row outcomes of one establishment file
type shardCounts struct {
	staged, inactive, mei, malformed int64
}

// mainPass stages every establishment file. Each file is one shard with its
// own COPY stream; rows are sequenced shard<<40 | row so that later files win
// the merge.
func (l *Loader) mainPass(ctx context.Context, j *joiner, res *Result) error {
	if err := l.store.ResetStaging(ctx); err != nil {
		return err
	}

	var mu sync.Mutex
	var total shardCounts
	shards := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.ShardWorkers)
	for shard, name := range FileGroups[GroupEstabelecimentos] {
		path := zipPath(l.opts.Dir, name)
		if path == "" {
			log.Printf("File not found: %s.zip", name)
			continue
		}
		shards++
		g.Go(func() error {
			counts, err := l.stageShard(gctx, j, int64(shard), path)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			mu.Lock()
			total.staged += counts.staged
			total.inactive += counts.inactive
			total.mei += counts.mei
			total.malformed += counts.malformed
			mu.Unlock()
			log.Printf("  %s: %s staged", name, debug.FormatCount(counts.staged))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if shards == 0 {
		return fmt.Errorf("%w in %s", ErrNoEstablishments, l.opts.Dir)
	}

	res.Staged = total.staged
	res.SkippedInactive = total.inactive
	res.SkippedMEI = total.mei
	res.Malformed += total.malformed

	l.metrics.AddLoaderRows(StageMain, "staged", int(total.staged))
	l.metrics.AddLoaderRows(StageMain, "inactive", int(total.inactive))
	l.metrics.AddLoaderRows(StageMain, "mei", int(total.mei))
	l.metrics.AddLoaderRows(StageMain, "malformed", int(total.malformed))
	return nil
}

func (l *Loader) stageShard(ctx context.Context, j *joiner, shard int64, path string) (shardCounts, error) {
	var counts shardCounts

	w, err := l.store.NewStagingWriter(ctx, l.opts.BatchSize)
	if err != nil {
		return counts, err
	}

	var row int64
	bad, err := scanZip(path, func(record []string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		est, ok := parseEstablishment(record)
		if !ok {
			counts.malformed++
			return nil
		}
		k, outcome := j.classify(est)
		switch outcome {
		case skipInactive:
			counts.inactive++
			return nil
		case skipMEI:
			counts.mei++
			return nil
		case skipMalformed:
			counts.malformed++
			return nil
		}
		company := j.company(k, est)
		if !fitsStaging(company) {
			counts.malformed++
			return nil
		}
		row++
		if err := w.Write(shard<<40|row, company); err != nil {
			return err
		}
		counts.staged++
		return nil
	})
	counts.malformed += bad
	if err != nil {
		_ = w.Close()
		return counts, err
	}
	if err := w.Close(); err != nil {
		return counts, err
	}
	debug.DebugOutput(l.opts.Debug, "shard %d: %+v", shard, counts)
	return counts, nil
}

// collectPartners aggregates the partners of every registry root. Unknown
// qualification codes are kept as the code.
func (l *Loader) collectPartners(ctx context.Context, lookups *Lookups, active, mei basicoSet) (map[string][]registry.Partner, int64, error) {
	partners := make(map[string][]registry.Partner)
	var malformed, rows int64

	for _, name := range FileGroups[GroupSocios] {
		path := zipPath(l.opts.Dir, name)
		if path == "" {
			log.Printf("File not found: %s.zip", name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, malformed, err
		}

		bad, err := scanZip(path, func(record []string) error {
			p, ok := parsePartner(record)
			if !ok {
				malformed++
				return nil
			}
			k, ok := basicoKey(p.Basico)
			if !ok {
				malformed++
				return nil
			}
			if !active.has(k) || mei.has(k) {
				return nil
			}
			qual := lookups.Qualificacoes[p.Qualificacao]
			if qual == "" {
				qual = p.Qualificacao
			}
			partners[p.Basico] = append(partners[p.Basico], registry.Partner{Nome: p.Nome, Qualificacao: qual})
			rows++
			return nil
		})
		malformed += bad
		if err != nil {
			return nil, malformed, err
		}
	}

	l.metrics.AddLoaderRows(StagePartners, "aggregated", int(rows))
	log.Printf("Socios: %s partners for %s roots", debug.FormatCount(rows), debug.FormatCount(int64(len(partners))))
	return partners, malformed, nil
}

// removeZips deletes the *.zip files of dir and returns the count and bytes freed
func removeZips(dir string) (int, int64, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	if err != nil {
		return 0, 0, err
	}
	var removed int
	var freed int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			return removed, freed, fmt.Errorf("failed to remove %s: %w", p, err)
		}
		removed++
		freed += info.Size()
	}
	log.Printf("Removed %d files, %.1f MB freed", removed, float64(freed)/(1<<20))
	return removed, freed, nil
}
