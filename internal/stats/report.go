package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/util"
)

// drawdownThreshold is the decline from peak, as a fraction, that opens a
// drawdown period.
const drawdownThreshold = 0.01

// Report is the breakdown attached to every run result.
type Report struct {
	PerSymbol       []SymbolBreakdown `json:"per_symbol_breakdown"`
	PerMonth        []MonthBreakdown  `json:"per_month_breakdown"`
	Risk            RiskStats         `json:"risk_stats"`
	DrawdownPeriods []DrawdownPeriod  `json:"drawdown_periods"`
}

// SymbolBreakdown aggregates the trades of one symbol.
type SymbolBreakdown struct {
	Symbol              string  `json:"symbol"`
	Trades              int     `json:"trades"`
	Wins                int     `json:"wins"`
	Losses              int     `json:"losses"`
	WinRate             float64 `json:"win_rate"`
	PnL                 float64 `json:"pnl"`
	Commission          float64 `json:"commission"`
	ContributionPercent float64 `json:"contribution_percent"`
}

// MonthBreakdown covers one calendar month (UTC). Trades are attributed to
// the month they closed in; the return runs from the previous month's last
// equity sample, or the initial balance, to this month's last sample.
type MonthBreakdown struct {
	Month         string  `json:"month"`
	Trades        int     `json:"trades"`
	PnL           float64 `json:"pnl"`
	ReturnPercent float64 `json:"return_percent"`
}

// RiskStats describes the distribution of per-step returns.
type RiskStats struct {
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	VaR95                float64 `json:"var_95"`
	CVaR95               float64 `json:"cvar_95"`
	Skewness             float64 `json:"skewness"`
	ExcessKurtosis       float64 `json:"excess_kurtosis"`
	BestReturn           float64 `json:"best_return"`
	WorstReturn          float64 `json:"worst_return"`
	PositivePeriods      float64 `json:"positive_periods"`
	AnnualReturnPercent  float64 `json:"annual_return_percent"`
}

// DrawdownPeriod is one decline of at least drawdownThreshold below a peak.
// End is nil when equity never regained the peak.
type DrawdownPeriod struct {
	Peak          time.Time  `json:"peak"`
	Start         time.Time  `json:"start"`
	Trough        time.Time  `json:"trough"`
	End           *time.Time `json:"end,omitempty"`
	DepthPercent  float64    `json:"depth_percent"`
	DurationHours float64    `json:"duration_hours"`
	Recovered     bool       `json:"recovered"`
}

// BuildReport assembles the report for in.
func BuildReport(in Input) (Report, error) {
	bpy, err := util.BarsPerYear(in.Interval)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	return Report{
		PerSymbol:       perSymbol(in.Trades),
		PerMonth:        perMonth(in.Trades, in.EquityCurve, in.InitialBalance),
		Risk:            riskStats(Returns(in.EquityCurve), bpy, in.EquityCurve, in.InitialBalance),
		DrawdownPeriods: DrawdownPeriods(in.EquityCurve),
	}, nil
}

func perSymbol(trades []domain.Trade) []SymbolBreakdown {
	idx := map[string]*SymbolBreakdown{}
	var total float64
	for _, t := range trades {
		b, ok := idx[t.Symbol]
		if !ok {
			b = &SymbolBreakdown{Symbol: t.Symbol}
			idx[t.Symbol] = b
		}
		b.Trades++
		if t.PnL > 0 {
			b.Wins++
		} else if t.PnL < 0 {
			b.Losses++
		}
		b.PnL += t.PnL
		b.Commission += t.Commission
		total += t.PnL
	}

	out := make([]SymbolBreakdown, 0, len(idx))
	for _, b := range idx {
		b.WinRate = float64(b.Wins) / float64(b.Trades)
		if total != 0 {
			b.ContributionPercent = b.PnL / math.Abs(total) * 100
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }

func perMonth(trades []domain.Trade, curve []domain.EquityPoint, initial float64) []MonthBreakdown {
	idx := map[string]*MonthBreakdown{}
	get := func(k string) *MonthBreakdown {
		m, ok := idx[k]
		if !ok {
			m = &MonthBreakdown{Month: k}
			idx[k] = m
		}
		return m
	}

	for _, t := range trades {
		m := get(monthKey(t.ExitTime))
		m.Trades++
		m.PnL += t.PnL
	}

	// last equity sample per month, in curve order
	var months []string
	last := map[string]float64{}
	for _, p := range curve {
		k := monthKey(p.Timestamp)
		if _, ok := last[k]; !ok {
			months = append(months, k)
		}
		last[k] = p.Equity
	}
	prev := initial
	for _, k := range months {
		m := get(k)
		if prev > 0 {
			m.ReturnPercent = (last[k] - prev) / prev * 100
		}
		prev = last[k]
	}

	out := make([]MonthBreakdown, 0, len(idx))
	for _, m := range idx {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func riskStats(returns []float64, barsPerYear float64, curve []domain.EquityPoint, initial float64) RiskStats {
	rs := RiskStats{AnnualReturnPercent: annualReturn(curve, initial) * 100}
	if len(returns) == 0 {
		return rs
	}

	rs.AnnualizedVolatility = stddev(returns) * math.Sqrt(barsPerYear)

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	rs.WorstReturn = sorted[0]
	rs.BestReturn = sorted[len(sorted)-1]
	rs.VaR95 = percentile(sorted, 5)

	var tail []float64
	var positive int
	for _, r := range returns {
		if r <= rs.VaR95 {
			tail = append(tail, r)
		}
		if r > 0 {
			positive++
		}
	}
	rs.CVaR95 = mean(tail)
	rs.PositivePeriods = float64(positive) / float64(len(returns))

	if m2 := centralMoment(returns, 2); m2 > 0 {
		rs.Skewness = centralMoment(returns, 3) / math.Pow(m2, 1.5)
		rs.ExcessKurtosis = centralMoment(returns, 4)/(m2*m2) - 3
	}
	return rs
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// DrawdownPeriods lists every decline of at least 1% below a running peak. A
// period ends when equity makes a new high.
func DrawdownPeriods(curve []domain.EquityPoint) []DrawdownPeriod {
	if len(curve) == 0 {
		return nil
	}

	var (
		out      []DrawdownPeriod
		cur      *DrawdownPeriod
		peak     = curve[0].Equity
		peakTime = curve[0].Timestamp
		trough   float64
	)

	for _, p := range curve {
		if p.Equity > peak {
			if cur != nil {
				end := p.Timestamp
				cur.End = &end
				cur.Recovered = true
				cur.DurationHours = end.Sub(cur.Start).Hours()
				out = append(out, *cur)
				cur = nil
			}
			peak, peakTime = p.Equity, p.Timestamp
			continue
		}
		if peak <= 0 {
			continue
		}
		if cur == nil && p.Equity < peak*(1-drawdownThreshold) {
			cur = &DrawdownPeriod{Peak: peakTime, Start: p.Timestamp, Trough: p.Timestamp}
			trough = p.Equity
		}
		if cur != nil && p.Equity <= trough {
			trough = p.Equity
			cur.Trough = p.Timestamp
			cur.DepthPercent = (peak - trough) / peak * 100
		}
	}

	if cur != nil {
		cur.DurationHours = curve[len(curve)-1].Timestamp.Sub(cur.Start).Hours()
		out = append(out, *cur)
	}
	return out
}
