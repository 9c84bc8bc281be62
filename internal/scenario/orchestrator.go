// Package scenario runs single, portfolio, optimization and comparison
// scenarios on top of the simulation engine and the performance analyzer.
package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/gather"
	"strategylab/internal/jobs"
	"strategylab/internal/stats"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/util"
)

// Loader supplies normalized bar series for a run.
type Loader interface {
	Load(ctx context.Context, symbols []string, interval string, rng gather.DateRange) (map[string][]domain.Bar, []string, error)
}

// ProgressFunc receives overall progress in [0, 1] and a short phase label.
type ProgressFunc func(progress float64, phase string)

// simulateFunc runs one configuration over preloaded series.
type simulateFunc func(ctx context.Context, cfg domain.RunConfig, series map[string][]domain.Bar, progress engine.ProgressFunc) (*engine.Result, error)

// Options configures an Orchestrator. Jobs and Runs are optional.
type Options struct {
	MaxParallel  int
	CacheResults bool
	Jobs         *jobs.Store
	Runs         store.RunStore
	Logger       *slog.Logger

	// Defaults fills request fields left at zero before validation, typically
	// config.BacktestConfig.Apply.
	Defaults func(domain.RunConfig) domain.RunConfig
}

// Orchestrator drives scenarios. Every configuration it runs gets its own
// engine and ledger; nothing is shared between runs but the read-only bars.
type Orchestrator struct {
	loader      Loader
	registry    *strategy.Registry
	jobs        *jobs.Store
	runs        store.RunStore
	maxParallel int
	defaults    func(domain.RunConfig) domain.RunConfig
	log         *slog.Logger
	simulate    simulateFunc

	cacheMu sync.Mutex
	cache   map[string]*RunResult

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an Orchestrator.
func New(loader Loader, registry *strategy.Registry, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}
	base, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		loader:      loader,
		registry:    registry,
		jobs:        opts.Jobs,
		runs:        opts.Runs,
		maxParallel: max(opts.MaxParallel, 1),
		defaults:    opts.Defaults,
		log:         log.With("component", "orchestrator"),
		base:        base,
		shutdown:    cancel,
	}
	if opts.CacheResults {
		o.cache = make(map[string]*RunResult)
	}
	o.simulate = o.simulateEngine
	return o
}

// Registry returns the provider registry runs are built from.
func (o *Orchestrator) Registry() *strategy.Registry { return o.registry }

// Close cancels submitted jobs and waits for them to stop.
func (o *Orchestrator) Close() {
	o.shutdown()
	o.wg.Wait()
}

// ---------------------------------------------------------------------------
// Scenario kinds
// ---------------------------------------------------------------------------

// Single runs one symbol.
func (o *Orchestrator) Single(ctx context.Context, cfg domain.RunConfig, progress ProgressFunc) (*RunResult, error) {
	cfg, err := o.prepare(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Symbols) != 1 {
		return nil, fmt.Errorf("%w: single scenario takes one symbol, got %d", domain.ErrInvalidConfiguration, len(cfg.Symbols))
	}
	return o.runCached(ctx, cfg, progress)
}

// Portfolio runs every symbol through one engine and one shared balance.
func (o *Orchestrator) Portfolio(ctx context.Context, cfg domain.RunConfig, progress ProgressFunc) (*RunResult, error) {
	cfg, err := o.prepare(cfg)
	if err != nil {
		return nil, err
	}
	return o.runCached(ctx, cfg, progress)
}

// OptimizationSpec describes a parameter search.
type OptimizationSpec struct {
	Ranges        []ParamRange `json:"ranges" yaml:"ranges"`
	Metric        string       `json:"metric" yaml:"metric"`
	Method        string       `json:"method,omitempty" yaml:"method"` // "grid" (default) or "random"
	MaxIterations int          `json:"max_iterations,omitempty" yaml:"max_iterations"`
	Seed          int64        `json:"seed,omitempty" yaml:"seed"`
}

// Optimize evaluates every cell of the search as an independent single run
// and returns the best cell by spec.Metric with the full score table.
func (o *Orchestrator) Optimize(ctx context.Context, cfg domain.RunConfig, spec OptimizationSpec, progress ProgressFunc) (*OptimizationResult, error) {
	cfg, err := o.prepare(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Symbols) != 1 {
		return nil, fmt.Errorf("%w: optimization takes one symbol, got %d", domain.ErrInvalidConfiguration, len(cfg.Symbols))
	}
	if spec.Metric == "" {
		spec.Metric = "sharpe_ratio"
	}
	if _, err := Score(stats.Metrics{}, spec.Metric); err != nil {
		return nil, err
	}

	var cells []map[string]float64
	switch spec.Method {
	case "", "grid":
		spec.Method = "grid"
		cells, err = ExpandGrid(spec.Ranges)
	case "random":
		cells, err = SampleGrid(spec.Ranges, spec.MaxIterations, spec.Seed)
	default:
		err = fmt.Errorf("%w: unknown search method %q", domain.ErrInvalidConfiguration, spec.Method)
	}
	if err != nil {
		return nil, err
	}

	configs := make([]domain.RunConfig, len(cells))
	for i, params := range cells {
		c := cfg
		c.Strategy = cfg.Strategy.Clone()
		for k, v := range params {
			c.Strategy.Params[k] = v
		}
		configs[i] = c
	}

	o.log.Info("optimization starting", "symbol", cfg.Symbols[0], "method", spec.Method, "cells", len(cells), "metric", spec.Metric)
	results, errs, warnings, err := o.runMany(ctx, cfg, configs, progress)
	if err != nil {
		return nil, err
	}

	out := &OptimizationResult{Metric: spec.Metric, Method: spec.Method, Table: make([]Cell, len(cells))}
	best := -1
	for i := range cells {
		cell := Cell{Params: cells[i]}
		if errs[i] != nil {
			cell.Error = errs[i].Error()
		} else {
			m := results[i].Metrics
			cell.Metrics = &m
			cell.Score, _ = Score(m, spec.Metric)
			if best < 0 || cell.Score > out.Table[best].Score {
				best = i
			}
		}
		out.Table[i] = cell
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: every optimization cell failed: %v", domain.ErrBacktest, errs[0])
	}
	rankCells(out.Table)

	out.RunResult = *results[best]
	out.Warnings = append(append([]string(nil), warnings...), results[best].Warnings...)
	out.BestParams = cells[best]
	o.log.Info("optimization finished", "best", out.BestParams, "score", out.Table[best].Score)
	return out, nil
}

// rankCells assigns 1-based ranks by descending score; failed cells stay
// unranked.
func rankCells(table []Cell) {
	for i := range table {
		if table[i].Error != "" {
			continue
		}
		rank := 1
		for j := range table {
			if table[j].Error == "" && (table[j].Score > table[i].Score || (table[j].Score == table[i].Score && j < i)) {
				rank++
			}
		}
		table[i].Rank = rank
	}
}

// Variant is one named strategy configuration in a comparison.
type Variant struct {
	Name     string                `json:"name" yaml:"name"`
	Strategy domain.StrategyParams `json:"strategy" yaml:"strategy"`
}

// Compare runs every variant as an independent single run on the same data
// and ranks them per metric and blended.
func (o *Orchestrator) Compare(ctx context.Context, cfg domain.RunConfig, variants []Variant, progress ProgressFunc) (*ComparisonResult, error) {
	cfg, err := o.prepare(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Symbols) != 1 {
		return nil, fmt.Errorf("%w: comparison takes one symbol, got %d", domain.ErrInvalidConfiguration, len(cfg.Symbols))
	}
	if len(variants) < 2 {
		return nil, fmt.Errorf("%w: comparison needs at least two variants", domain.ErrInvalidConfiguration)
	}

	seen := map[string]bool{}
	configs := make([]domain.RunConfig, len(variants))
	for i, v := range variants {
		if v.Name == "" || seen[v.Name] {
			return nil, fmt.Errorf("%w: variant names must be unique and non-empty (%q)", domain.ErrInvalidConfiguration, v.Name)
		}
		seen[v.Name] = true
		c := cfg
		c.Strategy = v.Strategy.Clone()
		c = c.WithDefaults()
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
		if _, err := o.registry.Build(c.Strategy); err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
		configs[i] = c
	}

	results, errs, warnings, err := o.runMany(ctx, cfg, configs, progress)
	if err != nil {
		return nil, err
	}

	out := &ComparisonResult{Variants: make([]NamedResult, len(variants))}
	var ranked []Named
	byName := map[string]*RunResult{}
	for i, v := range variants {
		nr := NamedResult{Name: v.Name}
		if errs[i] != nil {
			nr.Error = errs[i].Error()
			warnings = append(warnings, fmt.Sprintf("variant %s: %v", v.Name, errs[i]))
		} else {
			nr.Result = results[i]
			ranked = append(ranked, Named{Name: v.Name, Metrics: results[i].Metrics})
			byName[v.Name] = results[i]
		}
		out.Variants[i] = nr
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: every variant failed: %v", domain.ErrBacktest, errs[0])
	}

	out.Rankings, out.Blended = RankResults(ranked)
	out.Best = out.Blended[0].Name
	out.RunResult = *byName[out.Best]
	out.Warnings = warnings
	return out, nil
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// prepare applies defaults and validates cfg, including its interval and
// strategy, before any data is fetched.
func (o *Orchestrator) prepare(cfg domain.RunConfig) (domain.RunConfig, error) {
	if o.defaults != nil {
		cfg = o.defaults(cfg)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if _, err := util.ParseInterval(cfg.Interval); err != nil {
		return cfg, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if _, err := o.registry.Build(cfg.Strategy); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (o *Orchestrator) load(ctx context.Context, cfg domain.RunConfig) (map[string][]domain.Bar, []string, error) {
	series, warnings, err := o.loader.Load(ctx, cfg.Symbols, cfg.Interval, gather.DateRange{Start: cfg.Start, End: cfg.End})
	if err != nil {
		return nil, warnings, err
	}
	return series, warnings, nil
}

func (o *Orchestrator) runCached(ctx context.Context, cfg domain.RunConfig, progress ProgressFunc) (*RunResult, error) {
	key := cacheKey(cfg)
	if r := o.cached(key); r != nil {
		o.log.Debug("result cache hit", "symbols", cfg.Symbols)
		report(progress, 1, "cached")
		return r, nil
	}

	report(progress, 0, "loading")
	series, warnings, err := o.load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	report(progress, 0.1, "simulating")

	res, err := o.runOne(ctx, cfg, series, func(done, total int) {
		if total > 0 {
			report(progress, 0.1+0.85*float64(done)/float64(total), "simulating")
		}
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = append(warnings, res.Warnings...)
	report(progress, 1, "done")

	o.store(key, res)
	return res, nil
}

// runOne simulates cfg over series and analyzes the outcome.
func (o *Orchestrator) runOne(ctx context.Context, cfg domain.RunConfig, series map[string][]domain.Bar, progress engine.ProgressFunc) (*RunResult, error) {
	res, err := o.simulate(ctx, cfg, series, progress)
	if err != nil {
		return nil, err
	}
	return analyze(cfg, res)
}

// runMany loads base's data once and runs every configuration concurrently,
// at most maxParallel at a time. Per-configuration failures are returned in
// errs; invariant violations and cancellation abort everything.
func (o *Orchestrator) runMany(ctx context.Context, base domain.RunConfig, configs []domain.RunConfig, progress ProgressFunc) ([]*RunResult, []error, []string, error) {
	report(progress, 0, "loading")
	series, warnings, err := o.load(ctx, base)
	if err != nil {
		return nil, nil, warnings, err
	}

	results := make([]*RunResult, len(configs))
	errs := make([]error, len(configs))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i := range configs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := o.runOne(gctx, configs[i], series, nil)
			switch {
			case err == nil:
				results[i] = r
			case errors.Is(err, domain.ErrSimulationInvariant) || ctx.Err() != nil:
				return err
			default:
				o.log.Warn("configuration failed", "index", i, "params", configs[i].Strategy.Params, "error", err)
				errs[i] = err
			}

			mu.Lock()
			done++
			report(progress, 0.1+0.9*float64(done)/float64(len(configs)), fmt.Sprintf("%d/%d", done, len(configs)))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, warnings, err
	}
	report(progress, 1, "done")
	return results, errs, warnings, nil
}

func (o *Orchestrator) simulateEngine(ctx context.Context, cfg domain.RunConfig, series map[string][]domain.Bar, progress engine.ProgressFunc) (*engine.Result, error) {
	provider, err := o.registry.Build(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{engine.WithLogger(o.log.With("symbols", cfg.Symbols, "strategy", provider.Name()))}
	if progress != nil {
		opts = append(opts, engine.WithProgress(100, progress))
	}
	e, err := engine.New(cfg, provider, opts...)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, series)
}

func analyze(cfg domain.RunConfig, res *engine.Result) (*RunResult, error) {
	in := stats.Input{
		Trades:         res.Trades,
		EquityCurve:    res.EquityCurve,
		InitialBalance: cfg.InitialBalance,
		Interval:       cfg.Interval,
	}
	m, err := stats.Compute(in)
	if err != nil {
		return nil, err
	}
	rep, err := stats.BuildReport(in)
	if err != nil {
		return nil, err
	}
	trades := res.Trades
	if trades == nil {
		trades = []domain.Trade{}
	}
	return &RunResult{
		Status:      StatusSuccess,
		Metrics:     m,
		Trades:      trades,
		EquityCurve: res.EquityCurve,
		Report:      rep,
		Config:      cfg,
		RunStats:    res.Stats,
	}, nil
}

func report(fn ProgressFunc, p float64, phase string) {
	if fn != nil {
		fn(p, phase)
	}
}

// ---------------------------------------------------------------------------
// Result cache
// ---------------------------------------------------------------------------

// cacheKey identifies a run by its full normalized configuration.
func cacheKey(cfg domain.RunConfig) string {
	b, _ := json.Marshal(cfg)
	return string(b)
}

func (o *Orchestrator) cached(key string) *RunResult {
	if o.cache == nil {
		return nil
	}
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	r, ok := o.cache[key]
	if !ok {
		return nil
	}
	return r.Clone()
}

func (o *Orchestrator) store(key string, r *RunResult) {
	if o.cache == nil {
		return
	}
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	o.cache[key] = r.Clone()
}

// ---------------------------------------------------------------------------
// Async submission
// ---------------------------------------------------------------------------

// Request is a scenario submission as accepted by the API, CLI and gRPC
// service.
type Request struct {
	Kind         Kind              `json:"kind" yaml:"kind"`
	Config       domain.RunConfig  `json:"config" yaml:"config"`
	Optimization *OptimizationSpec `json:"optimization,omitempty" yaml:"optimization"`
	Variants     []Variant         `json:"variants,omitempty" yaml:"variants"`
}

// Execute runs req synchronously and returns a *RunResult,
// *OptimizationResult or *ComparisonResult.
func (o *Orchestrator) Execute(ctx context.Context, req Request, progress ProgressFunc) (any, error) {
	switch req.Kind {
	case KindSingle:
		return o.Single(ctx, req.Config, progress)
	case KindPortfolio, "":
		return o.Portfolio(ctx, req.Config, progress)
	case KindOptimization:
		if req.Optimization == nil {
			return nil, fmt.Errorf("%w: optimization settings missing", domain.ErrInvalidConfiguration)
		}
		return o.Optimize(ctx, req.Config, *req.Optimization, progress)
	case KindComparison:
		return o.Compare(ctx, req.Config, req.Variants, progress)
	}
	return nil, fmt.Errorf("%w: unknown scenario kind %q", domain.ErrInvalidConfiguration, req.Kind)
}

// Submit validates req, registers a job and runs it in the background. The
// job is finished with the result, failed with the error, or cancelled when
// deleted.
func (o *Orchestrator) Submit(req Request) (string, error) {
	if o.jobs == nil {
		return "", errors.New("orchestrator has no job store")
	}
	if req.Kind == "" {
		req.Kind = KindPortfolio
	}
	cfg, err := o.prepare(req.Config)
	if err != nil {
		return "", err
	}
	req.Config = cfg

	ctx, cancel := context.WithCancel(o.base)
	id := o.jobs.Create(string(req.Kind), cancel)
	created := time.Now().UTC()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		result, err := o.Execute(ctx, req, func(p float64, phase string) {
			_ = o.jobs.Update(id, p, phase)
		})
		if err != nil {
			o.log.Warn("job failed", "id", id, "kind", req.Kind, "error", err)
			_ = o.jobs.Fail(id, err)
			return
		}
		o.persist(id, req, created, result)
		_ = o.jobs.Finish(id, result)
	}()
	return id, nil
}

// persist saves a finished job's result when a run store is configured.
// Persistence failures are logged, not fatal.
func (o *Orchestrator) persist(id string, req Request, created time.Time, result any) {
	if o.runs == nil {
		return
	}
	rec, err := NewRunRecord(id, req.Kind, created, result)
	if err != nil {
		o.log.Error("encoding result", "id", id, "error", err)
		return
	}
	if err := o.runs.SaveRun(context.Background(), rec); err != nil {
		o.log.Error("persisting run", "id", id, "error", err)
	}
}

// NewRunRecord builds the archive record of a finished scenario result. The
// full result is kept as the JSON payload.
func NewRunRecord(id string, kind Kind, created time.Time, result any) (*store.RunRecord, error) {
	env, ok := Envelope(result)
	if !ok {
		return nil, fmt.Errorf("unsupported result type %T", result)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	m := env.Metrics
	return &store.RunRecord{
		ID:          id,
		Kind:        string(kind),
		Status:      env.Status,
		Symbols:     env.Config.Symbols,
		CreatedAt:   created,
		FinishedAt:  time.Now().UTC(),
		Config:      env.Config,
		Metrics:     &m,
		Trades:      env.Trades,
		EquityCurve: env.EquityCurve,
		Payload:     payload,
	}, nil
}
