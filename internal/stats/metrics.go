// Package stats computes performance metrics and the analysis report from a
// finished run's trades and equity curve. Everything here is a pure function
// of its inputs.
package stats

import (
	"fmt"
	"math"

	"strategylab/internal/domain"
	"strategylab/internal/util"
)

// MaxProfitFactor stands in for an infinite profit factor (wins, no losses).
const MaxProfitFactor = 999.0

// daysPerYear is used for compounding the annual return.
const daysPerYear = 365.25

// Metrics is the aggregate statistics set of one run.
type Metrics struct {
	TotalTrades           int     `json:"total_trades"`
	WinningTrades         int     `json:"winning_trades"`
	LosingTrades          int     `json:"losing_trades"`
	WinRate               float64 `json:"win_rate"`
	TotalPnL              float64 `json:"total_pnl"`
	TotalPnLPercent       float64 `json:"total_pnl_percent"`
	MaxDrawdown           float64 `json:"max_drawdown"`
	MaxDrawdownPercent    float64 `json:"max_drawdown_percent"`
	SharpeRatio           float64 `json:"sharpe_ratio"`
	SortinoRatio          float64 `json:"sortino_ratio"`
	ProfitFactor          float64 `json:"profit_factor"`
	AvgWin                float64 `json:"avg_win"`
	AvgLoss               float64 `json:"avg_loss"`
	AvgTradeDurationHours float64 `json:"avg_trade_duration_hours"`
	MaxConsecutiveWins    int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses  int     `json:"max_consecutive_losses"`
	TotalCommission       float64 `json:"total_commission"`
	StartBalance          float64 `json:"start_balance"`
	EndBalance            float64 `json:"end_balance"`
	PeakBalance           float64 `json:"peak_balance"`
	AnnualReturnPercent   float64 `json:"annual_return_percent"`
	CalmarRatio           float64 `json:"calmar_ratio"`
}

// Input is what the analyzer consumes.
type Input struct {
	Trades         []domain.Trade
	EquityCurve    []domain.EquityPoint
	InitialBalance float64
	Interval       string
}

// Compute derives Metrics from in. The only failure is an unparseable
// interval, which is needed for annualization.
func Compute(in Input) (Metrics, error) {
	bpy, err := util.BarsPerYear(in.Interval)
	if err != nil {
		return Metrics{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}

	var m Metrics
	m.TotalTrades = len(in.Trades)

	var grossWin, grossLoss, hours float64
	for _, t := range in.Trades {
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossWin += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss += t.PnL
		}
		m.TotalPnL += t.PnL
		m.TotalCommission += t.Commission
		hours += t.DurationHours
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AvgTradeDurationHours = hours / float64(m.TotalTrades)
	}
	if in.InitialBalance > 0 {
		m.TotalPnLPercent = m.TotalPnL / in.InitialBalance * 100
	}

	m.MaxDrawdown, m.MaxDrawdownPercent = MaxDrawdown(in.EquityCurve)

	returns := Returns(in.EquityCurve)
	m.SharpeRatio = sharpe(returns, bpy)
	m.SortinoRatio = sortino(returns, bpy)
	m.ProfitFactor = profitFactor(grossWin, grossLoss)

	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	m.MaxConsecutiveWins, m.MaxConsecutiveLosses = streaks(in.Trades)

	m.StartBalance = in.InitialBalance
	m.EndBalance = in.InitialBalance
	m.PeakBalance = in.InitialBalance
	if n := len(in.EquityCurve); n > 0 {
		m.EndBalance = in.EquityCurve[n-1].Equity
		for _, p := range in.EquityCurve {
			m.PeakBalance = math.Max(m.PeakBalance, p.Equity)
		}
	}

	m.AnnualReturnPercent = annualReturn(in.EquityCurve, in.InitialBalance) * 100
	if m.MaxDrawdownPercent > 0 {
		m.CalmarRatio = m.AnnualReturnPercent / m.MaxDrawdownPercent
	}
	return m, nil
}

// Returns is the per-step simple return series of curve. Steps from a zero
// equity are skipped.
func Returns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

// MaxDrawdown returns the largest peak-to-trough decline of curve, in
// currency and in percent of the running peak. The two maxima are tracked
// separately and need not come from the same decline.
func MaxDrawdown(curve []domain.EquityPoint) (abs, pct float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := peak - p.Equity
		abs = math.Max(abs, dd)
		if peak > 0 {
			pct = math.Max(pct, dd/peak*100)
		}
	}
	return abs, math.Min(pct, 100)
}

func sharpe(returns []float64, barsPerYear float64) float64 {
	sd := stddev(returns)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(barsPerYear)
}

// sortino divides by the standard deviation of the negative returns only.
func sortino(returns []float64, barsPerYear float64) float64 {
	var neg []float64
	for _, r := range returns {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	sd := stddev(neg)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(barsPerYear)
}

func profitFactor(grossWin, grossLoss float64) float64 {
	loss := math.Abs(grossLoss)
	switch {
	case loss == 0 && grossWin == 0:
		return 0
	case loss == 0:
		return MaxProfitFactor
	}
	return math.Min(grossWin/loss, MaxProfitFactor)
}

// streaks scans trades once; a flat trade ends both streaks.
func streaks(trades []domain.Trade) (wins, losses int) {
	var w, l int
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			w++
			l = 0
		case t.PnL < 0:
			l++
			w = 0
		default:
			w, l = 0, 0
		}
		wins = max(wins, w)
		losses = max(losses, l)
	}
	return wins, losses
}

// annualReturn compounds the total return over the curve's calendar span.
func annualReturn(curve []domain.EquityPoint, initial float64) float64 {
	if len(curve) < 2 || initial <= 0 {
		return 0
	}
	days := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / 24
	if days <= 0 {
		return 0
	}
	growth := curve[len(curve)-1].Equity / initial
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, daysPerYear/days) - 1
}

// ---------------------------------------------------------------------------
// Moments
// ---------------------------------------------------------------------------

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	return math.Sqrt(centralMoment(xs, 2))
}

func centralMoment(xs []float64, k int) float64 {
	if len(xs) == 0 {
		return 0
	}
	mu := mean(xs)
	var s float64
	for _, x := range xs {
		s += math.Pow(x-mu, float64(k))
	}
	return s / float64(len(xs))
}
