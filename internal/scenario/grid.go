package scenario

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"strategylab/internal/domain"
	"strategylab/internal/stats"
)

// maxCells bounds the size of an expanded grid.
const maxCells = 10000

// ParamRange is an inclusive sweep of one strategy parameter.
type ParamRange struct {
	Name    string  `json:"name" yaml:"name"`
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Step    float64 `json:"step" yaml:"step"`
	Integer bool    `json:"integer,omitempty" yaml:"integer"`
}

// values enumerates the range. Integer ranges are rounded and deduplicated.
func (r ParamRange) values() ([]float64, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("%w: unnamed parameter range", domain.ErrInvalidConfiguration)
	}
	if r.Step <= 0 || r.Max < r.Min || math.IsNaN(r.Min) || math.IsNaN(r.Max) {
		return nil, fmt.Errorf("%w: bad range for %s: [%v, %v] step %v", domain.ErrInvalidConfiguration,
			r.Name, r.Min, r.Max, r.Step)
	}

	n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	if n > maxCells {
		return nil, fmt.Errorf("%w: range %s has %d values", domain.ErrInvalidConfiguration, r.Name, n)
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := r.Min + float64(i)*r.Step
		if r.Integer {
			v = math.Round(v)
			if len(out) > 0 && out[len(out)-1] == v {
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// ExpandGrid returns the cartesian product of ranges. The first range varies
// slowest.
func ExpandGrid(ranges []ParamRange) ([]map[string]float64, error) {
	axes, total, err := gridAxes(ranges)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]float64, total)
	for i := range out {
		out[i] = cellAt(ranges, axes, i)
	}
	return out, nil
}

// SampleGrid draws n distinct cells of the grid in random order from a
// generator seeded with seed. When n covers the grid the whole grid is
// returned in grid order.
func SampleGrid(ranges []ParamRange, n int, seed int64) ([]map[string]float64, error) {
	axes, total, err := gridAxes(ranges)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= total {
		return ExpandGrid(ranges)
	}
	rng := rand.New(rand.NewSource(seed))
	out := make([]map[string]float64, n)
	for i, idx := range rng.Perm(total)[:n] {
		out[i] = cellAt(ranges, axes, idx)
	}
	return out, nil
}

func gridAxes(ranges []ParamRange) ([][]float64, int, error) {
	if len(ranges) == 0 {
		return nil, 0, fmt.Errorf("%w: no parameter ranges", domain.ErrInvalidConfiguration)
	}
	seen := map[string]bool{}
	axes := make([][]float64, len(ranges))
	total := 1
	for i, r := range ranges {
		if seen[r.Name] {
			return nil, 0, fmt.Errorf("%w: duplicate parameter %s", domain.ErrInvalidConfiguration, r.Name)
		}
		seen[r.Name] = true
		vals, err := r.values()
		if err != nil {
			return nil, 0, err
		}
		axes[i] = vals
		total *= len(vals)
		if total > maxCells {
			return nil, 0, fmt.Errorf("%w: grid exceeds %d cells", domain.ErrInvalidConfiguration, maxCells)
		}
	}
	return axes, total, nil
}

// cellAt decodes idx as a mixed-radix number over axes, last axis fastest.
func cellAt(ranges []ParamRange, axes [][]float64, idx int) map[string]float64 {
	cell := make(map[string]float64, len(axes))
	for i := len(axes) - 1; i >= 0; i-- {
		n := len(axes[i])
		cell[ranges[i].Name] = axes[i][idx%n]
		idx /= n
	}
	return cell
}

// ---------------------------------------------------------------------------
// Metrics selection
// ---------------------------------------------------------------------------

// metricFuncs maps selectable metric names to accessors.
var metricFuncs = map[string]func(stats.Metrics) float64{
	"sharpe_ratio":         func(m stats.Metrics) float64 { return m.SharpeRatio },
	"sortino_ratio":        func(m stats.Metrics) float64 { return m.SortinoRatio },
	"total_pnl_percent":    func(m stats.Metrics) float64 { return m.TotalPnLPercent },
	"win_rate":             func(m stats.Metrics) float64 { return m.WinRate },
	"profit_factor":        func(m stats.Metrics) float64 { return m.ProfitFactor },
	"calmar_ratio":         func(m stats.Metrics) float64 { return m.CalmarRatio },
	"max_drawdown_percent": func(m stats.Metrics) float64 { return m.MaxDrawdownPercent },
}

// lowerIsBetter lists metrics ranked ascending.
var lowerIsBetter = map[string]bool{"max_drawdown_percent": true}

// MetricNames returns the selectable metric names, sorted.
func MetricNames() []string {
	names := make([]string, 0, len(metricFuncs))
	for k := range metricFuncs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Score returns the value of metric in m, oriented so that higher is better.
func Score(m stats.Metrics, metric string) (float64, error) {
	f, ok := metricFuncs[metric]
	if !ok {
		return 0, fmt.Errorf("%w: unknown metric %q (want one of %s)", domain.ErrInvalidConfiguration,
			metric, strings.Join(MetricNames(), ", "))
	}
	v := f(m)
	if lowerIsBetter[metric] {
		v = -v
	}
	return v, nil
}
