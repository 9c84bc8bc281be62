package scenario

import (
	"maps"
	"slices"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/stats"
)

// Kind names a scenario type.
type Kind string

const (
	KindSingle       Kind = "single"
	KindPortfolio    Kind = "portfolio"
	KindOptimization Kind = "optimization"
	KindComparison   Kind = "comparison"
)

// StatusSuccess is the only status a returned result carries; failures are
// returned as errors.
const StatusSuccess = "success"

// RunResult is the envelope every scenario kind produces.
type RunResult struct {
	Status      string               `json:"status"`
	Metrics     stats.Metrics        `json:"metrics"`
	Trades      []domain.Trade       `json:"trades"`
	EquityCurve []domain.EquityPoint `json:"equity_curve"`
	Report      stats.Report         `json:"report"`
	Config      domain.RunConfig     `json:"config"`
	Warnings    []string             `json:"warnings,omitempty"`
	RunStats    engine.RunStats      `json:"run_stats"`
}

// Clone returns a copy of r that shares no slices or maps with it.
func (r *RunResult) Clone() *RunResult {
	cp := *r
	cp.Trades = slices.Clone(r.Trades)
	cp.EquityCurve = slices.Clone(r.EquityCurve)
	cp.Warnings = slices.Clone(r.Warnings)
	cp.Report.PerSymbol = slices.Clone(r.Report.PerSymbol)
	cp.Report.PerMonth = slices.Clone(r.Report.PerMonth)
	cp.Report.DrawdownPeriods = slices.Clone(r.Report.DrawdownPeriods)
	cp.Config.Symbols = slices.Clone(r.Config.Symbols)
	cp.Config.Strategy.Params = maps.Clone(r.Config.Strategy.Params)
	return &cp
}

// Cell is one row of an optimization score table.
type Cell struct {
	Params  map[string]float64 `json:"params"`
	Score   float64            `json:"score"`
	Rank    int                `json:"rank,omitempty"`
	Metrics *stats.Metrics     `json:"metrics,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// OptimizationResult is the best cell's envelope plus the full score table in
// evaluation order.
type OptimizationResult struct {
	RunResult
	Metric     string             `json:"metric"`
	Method     string             `json:"method"`
	BestParams map[string]float64 `json:"best_params"`
	Table      []Cell             `json:"table"`
}

// NamedResult is one comparison variant's outcome.
type NamedResult struct {
	Name   string     `json:"name"`
	Result *RunResult `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// BlendedRank is a variant's mean rank across all ranked metrics.
type BlendedRank struct {
	Name     string  `json:"name"`
	MeanRank float64 `json:"mean_rank"`
}

// ComparisonResult is the blended winner's envelope plus every variant's
// result and the per-metric rankings.
type ComparisonResult struct {
	RunResult
	Best     string              `json:"best"`
	Variants []NamedResult       `json:"variants"`
	Rankings map[string][]string `json:"rankings"`
	Blended  []BlendedRank       `json:"blended"`
}

// Envelope returns the common run envelope of any scenario result.
func Envelope(v any) (*RunResult, bool) {
	switch r := v.(type) {
	case *RunResult:
		return r, true
	case *OptimizationResult:
		return &r.RunResult, true
	case *ComparisonResult:
		return &r.RunResult, true
	}
	return nil, false
}
