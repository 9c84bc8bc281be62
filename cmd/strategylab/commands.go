package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"strategylab/internal/config"
	"strategylab/internal/domain"
	"strategylab/internal/export"
	"strategylab/internal/scenario"
	"strategylab/internal/store"
	client "strategylab/pkg/strategylab"
)

// runFlags are shared by every command that builds a run configuration.
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "scenario YAML file; flags override its config"},
		&cli.StringSliceFlag{Name: "symbols", Aliases: []string{"s"}, Usage: "symbols to simulate (comma separated or repeated)"},
		&cli.StringFlag{Name: "start", Usage: "range start, YYYY-MM-DD or RFC 3339"},
		&cli.StringFlag{Name: "end", Usage: "range end, YYYY-MM-DD or RFC 3339 (default now)"},
		&cli.StringFlag{Name: "interval", Aliases: []string{"i"}, Usage: "bar interval (1m, 5m, 15m, 30m, 1h, 4h, 1d)"},
		&cli.StringFlag{Name: "strategy", Usage: "signal provider name"},
		&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "strategy parameter key=value"},
		&cli.Float64Flag{Name: "balance", Usage: "initial balance"},
		&cli.Float64Flag{Name: "commission", Usage: "commission rate per fill"},
		&cli.Float64Flag{Name: "slippage", Usage: "slippage rate per fill"},
		&cli.Float64Flag{Name: "risk-reward", Usage: "take-profit risk/reward ratio"},
		&cli.BoolFlag{Name: "use-ml", Usage: "blend the strategy with a secondary model"},
		&cli.StringFlag{Name: "ml-model", Usage: "secondary model name"},
		&cli.Float64Flag{Name: "ml-weight", Usage: "secondary model weight in [0, 1]"},
		&cli.StringFlag{Name: "out", Usage: "export directory"},
		&cli.StringSliceFlag{Name: "format", Value: cli.NewStringSlice("json"), Usage: "export formats: json, csv, parquet"},
		&cli.BoolFlag{Name: "json", Usage: "print the raw JSON result instead of the report"},
		&cli.StringFlag{Name: "save", Usage: "archive the result in this SQLite database"},
	}
}

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "run one backtest (portfolio when several symbols are given)",
	Flags:  runFlags(),
	Action: runAction,
}

var optimizeCommand = &cli.Command{
	Name:  "optimize",
	Usage: "search strategy parameters and rank every cell",
	Flags: append(runFlags(),
		&cli.StringSliceFlag{Name: "range", Aliases: []string{"r"}, Usage: "parameter range name=min:max:step"},
		&cli.StringFlag{Name: "metric", Value: "sharpe_ratio", Usage: "metric to maximize: " + strings.Join(scenario.MetricNames(), ", ")},
		&cli.StringFlag{Name: "method", Value: "grid", Usage: "grid or random"},
		&cli.IntFlag{Name: "max-iterations", Usage: "cells to sample with --method random"},
		&cli.Int64Flag{Name: "seed", Value: 1, Usage: "random search seed"},
		&cli.IntFlag{Name: "top", Value: 10, Usage: "table rows to print"},
	),
	Action: optimizeAction,
}

var compareCommand = &cli.Command{
	Name:  "compare",
	Usage: "run named strategy variants on the same data and rank them",
	Flags: append(runFlags(),
		&cli.StringSliceFlag{Name: "variant", Aliases: []string{"v"}, Usage: "variant name=strategy[:k=v,...]"},
	),
	Action: compareAction,
}

var submitCommand = &cli.Command{
	Name:      "submit",
	Usage:     "submit a scenario file to a strategylab-server",
	ArgsUsage: "<scenario.yaml>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"STRATEGYLAB_SERVER"}, Usage: "server base URL"},
		&cli.BoolFlag{Name: "wait", Value: true, Usage: "wait for the job and print its result"},
		&cli.DurationFlag{Name: "poll", Value: time.Second, Usage: "poll interval while waiting"},
	},
	Action: submitAction,
}

var strategiesCommand = &cli.Command{
	Name:  "strategies",
	Usage: "list the built-in signal providers and selectable metrics",
	Action: func(c *cli.Context) error {
		fmt.Println(headerStyle.Render("strategies ") + strings.Join(newRegistry().List(), ", "))
		fmt.Println(headerStyle.Render("metrics    ") + strings.Join(scenario.MetricNames(), ", "))
		return nil
	},
}

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "list archived runs",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "db", Usage: "SQLite database (default storage.sqlite_path)"},
		&cli.IntFlag{Name: "limit", Value: 20},
	},
	Action: runsAction,
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

func runAction(c *cli.Context) error {
	cfg, req, err := prepare(c)
	if err != nil {
		return err
	}
	if req.Kind == "" {
		req.Kind = scenario.KindPortfolio
		if len(req.Config.Symbols) == 1 {
			req.Kind = scenario.KindSingle
		}
	}
	return execute(c, cfg, req)
}

func optimizeAction(c *cli.Context) error {
	cfg, req, err := prepare(c)
	if err != nil {
		return err
	}
	req.Kind = scenario.KindOptimization
	if req.Optimization == nil {
		req.Optimization = &scenario.OptimizationSpec{}
	}
	spec := req.Optimization
	for _, s := range c.StringSlice("range") {
		r, err := parseRange(s)
		if err != nil {
			return err
		}
		spec.Ranges = append(spec.Ranges, r)
	}
	if c.IsSet("metric") || spec.Metric == "" {
		spec.Metric = c.String("metric")
	}
	if c.IsSet("method") || spec.Method == "" {
		spec.Method = c.String("method")
	}
	if c.IsSet("max-iterations") {
		spec.MaxIterations = c.Int("max-iterations")
	}
	if c.IsSet("seed") || spec.Seed == 0 {
		spec.Seed = c.Int64("seed")
	}
	return execute(c, cfg, req)
}

func compareAction(c *cli.Context) error {
	cfg, req, err := prepare(c)
	if err != nil {
		return err
	}
	req.Kind = scenario.KindComparison
	for _, s := range c.StringSlice("variant") {
		v, err := parseVariant(s)
		if err != nil {
			return err
		}
		req.Variants = append(req.Variants, v)
	}
	return execute(c, cfg, req)
}

func submitAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	req, err := loadRequest(c.Args().First())
	if err != nil {
		return err
	}

	api := client.NewClient(c.String("server"))
	id, err := api.Submit(c.Context, req)
	if err != nil {
		return err
	}
	fmt.Println(headerStyle.Render("submitted ") + id)
	if !c.Bool("wait") {
		return nil
	}

	job, err := api.Wait(c.Context, id, c.Duration("poll"))
	if err != nil {
		return err
	}
	result, err := decodeJobResult(job)
	if err != nil {
		return err
	}
	return render(os.Stdout, result, c.Bool("json"), c.Int("top"))
}

func runsAction(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := c.String("db")
	if path == "" {
		path = cfg.Storage.SQLitePath
	}
	db, err := store.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-12s %-20s %s", r.CreatedAt.Format("2006-01-02 15:04"), r.Kind, strings.Join(r.Symbols, ","), r.ID)
		if r.Metrics != nil {
			line += "  " + signed(r.Metrics.TotalPnLPercent, "%+.2f%%")
		}
		fmt.Println(line)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// prepare loads the configuration and merges the scenario file and command
// flags into a request. Configured defaults are applied by the orchestrator.
func prepare(c *cli.Context) (*config.Config, scenario.Request, error) {
	var req scenario.Request
	cfg, err := loadConfig()
	if err != nil {
		return nil, req, err
	}
	if path := c.String("file"); path != "" {
		if req, err = loadRequest(path); err != nil {
			return nil, req, err
		}
	}
	if err := applyFlags(c, &req.Config); err != nil {
		return nil, req, err
	}
	return cfg, req, nil
}

func applyFlags(c *cli.Context, rc *domain.RunConfig) error {
	if syms := c.StringSlice("symbols"); len(syms) > 0 {
		rc.Symbols = nil
		for _, s := range syms {
			rc.Symbols = append(rc.Symbols, strings.Split(s, ",")...)
		}
	}
	if v := c.String("start"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return err
		}
		rc.Start = t
	}
	if v := c.String("end"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return err
		}
		rc.End = t
	} else if rc.End.IsZero() {
		rc.End = time.Now().UTC().Truncate(time.Minute)
	}
	if v := c.String("interval"); v != "" {
		rc.Interval = v
	}
	if v := c.String("strategy"); v != "" {
		rc.Strategy.Type = v
	}
	if kvs := c.StringSlice("param"); len(kvs) > 0 {
		params, err := parseParams(kvs)
		if err != nil {
			return err
		}
		if rc.Strategy.Params == nil {
			rc.Strategy.Params = map[string]float64{}
		}
		for k, v := range params {
			rc.Strategy.Params[k] = v
		}
	}
	if c.IsSet("balance") {
		rc.InitialBalance = c.Float64("balance")
	}
	if c.IsSet("commission") {
		rc.CommissionRate = c.Float64("commission")
	}
	if c.IsSet("slippage") {
		rc.SlippageRate = c.Float64("slippage")
	}
	if c.IsSet("risk-reward") {
		rc.Risk.RiskRewardRatio = c.Float64("risk-reward")
	}
	if c.IsSet("use-ml") {
		rc.Strategy.UseML = c.Bool("use-ml")
	}
	if v := c.String("ml-model"); v != "" {
		rc.Strategy.MLModel = v
	}
	if c.IsSet("ml-weight") {
		rc.Strategy.MLWeight = c.Float64("ml-weight")
	}
	return nil
}

// execute runs req locally, then renders, exports and archives the result.
func execute(c *cli.Context, cfg *config.Config, req scenario.Request) error {
	log := newLogger(cfg)
	orch, err := newOrchestrator(cfg, log)
	if err != nil {
		return err
	}
	defer orch.Close()

	started := time.Now().UTC()
	result, err := orch.Execute(c.Context, req, progressPrinter())
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	if err := render(os.Stdout, result, c.Bool("json"), c.Int("top")); err != nil {
		return err
	}

	env, _ := scenario.Envelope(result)
	name := fmt.Sprintf("%s_%s_%s", req.Kind, strings.ReplaceAll(strings.Join(env.Config.Symbols, "-"), "/", ""), started.Format("20060102T150405"))
	if dir := c.String("out"); dir != "" {
		var formats []export.Format
		for _, f := range c.StringSlice("format") {
			formats = append(formats, export.Format(strings.ToLower(f)))
		}
		paths, err := export.WriteAll(dir, name, result, env.Trades, env.EquityCurve, formats...)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(os.Stderr, dimStyle.Render("wrote "+p))
		}
	}
	if path := c.String("save"); path != "" {
		if err := save(c.Context, path, req.Kind, started, result); err != nil {
			return err
		}
	}
	return nil
}

func save(ctx context.Context, path string, kind scenario.Kind, started time.Time, result any) error {
	db, err := store.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer db.Close()
	rec, err := scenario.NewRunRecord(uuid.NewString(), kind, started, result)
	if err != nil {
		return err
	}
	if err := db.SaveRun(ctx, rec); err != nil {
		return fmt.Errorf("archiving run: %w", err)
	}
	fmt.Fprintln(os.Stderr, dimStyle.Render("archived as "+rec.ID))
	return nil
}

// render writes result as indented JSON or as the styled report.
func render(w io.Writer, result any, asJSON bool, top int) error {
	if asJSON {
		if err := export.WriteJSON(w, result); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		return nil
	}
	var buf bytes.Buffer
	switch r := result.(type) {
	case *scenario.RunResult:
		renderRun(&buf, "Backtest", r)
	case *scenario.OptimizationResult:
		renderOptimization(&buf, r, top)
	case *scenario.ComparisonResult:
		renderComparison(&buf, r)
	default:
		return fmt.Errorf("cannot render %T", result)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// decodeJobResult decodes a server job result into the type its kind
// produces.
func decodeJobResult(job *client.Job) (any, error) {
	var out any
	switch scenario.Kind(job.Kind) {
	case scenario.KindOptimization:
		out = &scenario.OptimizationResult{}
	case scenario.KindComparison:
		out = &scenario.ComparisonResult{}
	default:
		out = &scenario.RunResult{}
	}
	if err := job.DecodeResult(out); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return out, nil
}

// progressPrinter redraws a one-line progress indicator on stderr.
func progressPrinter() scenario.ProgressFunc {
	return func(p float64, phase string) {
		fmt.Fprintf(os.Stderr, "\r%s %5.1f%% %-16s", dimStyle.Render("running"), p*100, phase)
	}
}
