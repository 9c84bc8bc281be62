// Package engine is the bar-by-bar simulation driver together with the risk
// manager and position sizer it invokes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"strategylab/internal/broker"
	"strategylab/internal/domain"
	"strategylab/internal/ledger"
	"strategylab/internal/strategy"
	"strategylab/internal/util"
)

// StepHook observes the open positions after each timestamp has been
// processed and its equity snapshot recorded.
type StepHook func(ts time.Time, equity float64, positions []domain.Position)

// ProgressFunc receives the number of processed timestamps and the total.
type ProgressFunc func(done, total int)

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithProgress reports progress every n timestamps and once at the end.
func WithProgress(n int, fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progressEvery = n
		e.progress = fn
	}
}

// WithStepHook installs a per-timestamp observer.
func WithStepHook(fn StepHook) Option {
	return func(e *Engine) { e.hook = fn }
}

// RunStats counts how the driver spent its steps.
type RunStats struct {
	Steps         int `json:"steps"`
	Evaluated     int `json:"evaluated"`
	WarmupSkipped int `json:"warmup_skipped"`
	SignalErrors  int `json:"signal_errors"`
	StopUpdates   int `json:"stop_updates"`
}

// Result is the raw output of one run, before analysis.
type Result struct {
	Trades       []domain.Trade
	Orders       []domain.Order
	EquityCurve  []domain.EquityPoint
	FinalBalance float64
	Stats        RunStats
}

// Engine drives one configuration over a fixed set of bar series. Each call
// to Run starts from a fresh ledger.
type Engine struct {
	cfg      domain.RunConfig
	provider strategy.Provider
	risk     *RiskManager
	sizer    PositionSizer
	log      *slog.Logger

	progressEvery int
	progress      ProgressFunc
	hook          StepHook
}

// New creates an Engine. cfg is validated here so a bad configuration fails
// before any bar is processed.
func New(cfg domain.RunConfig, provider strategy.Provider, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: nil signal provider", domain.ErrInvalidConfiguration)
	}
	e := &Engine{
		cfg:      cfg,
		provider: provider,
		risk:     NewRiskManager(cfg.Risk),
		sizer:    PositionSizer{MaxPositionPct: cfg.Risk.MaxPositionPct},
		log:      util.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// run is the mutable state of one Run call.
type run struct {
	*Engine
	ledger *ledger.Ledger
	broker *broker.SimulatorBroker
	series map[string][]domain.Bar
	stats  RunStats
}

// Run replays series in timestamp order. Symbols of the configuration that
// are missing from series are ignored; at least one must be present.
func (e *Engine) Run(ctx context.Context, series map[string][]domain.Bar) (*Result, error) {
	usable := make(map[string][]domain.Bar, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		bars := series[sym]
		if len(bars) == 0 {
			continue
		}
		for i := 1; i < len(bars); i++ {
			if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
				return nil, fmt.Errorf("%w: %s bars not strictly ordered at %s", domain.ErrDataUnavailable,
					sym, bars[i].Timestamp.Format(time.RFC3339))
			}
		}
		usable[sym] = bars
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: no symbol has data", domain.ErrBacktest)
	}

	l := ledger.New(e.cfg.InitialBalance)
	r := &run{
		Engine: e,
		ledger: l,
		broker: broker.NewSimulatorBroker(l, e.cfg.CommissionRate, e.cfg.SlippageRate),
		series: usable,
	}

	tl := NewTimeline(usable)
	total := len(tl.Times)
	e.log.Info("simulation starting", "symbols", tl.Symbols, "steps", total, "provider", e.provider.Name())

	for i, ts := range tl.Times {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation cancelled at step %d/%d: %w", i, total, err)
		}
		for _, sym := range tl.Symbols {
			idx, ok := tl.At(sym, ts)
			if !ok {
				continue
			}
			if err := r.step(ctx, sym, idx); err != nil {
				return nil, err
			}
		}
		pt := l.Snapshot(ts)
		r.stats.Steps++

		if e.hook != nil {
			e.hook(ts, pt.Equity, l.Positions())
		}
		if e.progress != nil && e.progressEvery > 0 && (i+1)%e.progressEvery == 0 {
			e.progress(i+1, total)
		}
	}

	if total > 0 {
		l.Resnapshot(tl.Times[total-1])
	}
	if err := l.CheckConservation(); err != nil {
		return nil, err
	}
	if e.progress != nil {
		e.progress(total, total)
	}

	e.log.Info("simulation finished",
		"trades", len(l.Trades()),
		"final_balance", l.Balance(),
		"warmup_skipped", r.stats.WarmupSkipped,
		"signal_errors", r.stats.SignalErrors,
	)

	return &Result{
		Trades:       l.Trades(),
		Orders:       l.Orders(),
		EquityCurve:  l.EquityCurve(),
		FinalBalance: l.Balance(),
		Stats:        r.stats,
	}, nil
}

// step processes one symbol's bar: protective exits first, then the signal
// (entry or reversal), then trailing the stop of a position carried over.
func (r *run) step(ctx context.Context, sym string, idx int) error {
	bars := r.series[sym]
	bar := bars[idx]
	r.ledger.Mark(sym, bar.Close)

	if idx < r.cfg.Risk.WarmupBars {
		r.stats.WarmupSkipped++
		return nil
	}
	r.stats.Evaluated++

	window := bars[: idx+1 : idx+1]
	lastBar := idx == len(bars)-1

	pos, open := r.ledger.Position(sym)
	if open {
		if reason, hit := exitHit(pos, bar.Close); hit {
			if err := r.close(ctx, sym, bar, reason); err != nil {
				return err
			}
			// No re-entry on the bar of a protective exit.
			return nil
		}
	}

	sig, err := r.provider.Signal(ctx, sym, window)
	if err != nil {
		r.stats.SignalErrors++
		r.log.Warn("signal provider failed", "symbol", sym, "time", bar.Timestamp, "error", err)
		sig = domain.Hold
	}
	actionable := sig.Confidence > r.cfg.Risk.EntryThreshold && (sig.Action.IsBuy() || sig.Action.IsSell())

	if open && actionable && isReversal(pos.Side, sig.Action) {
		if err := r.close(ctx, sym, bar, domain.ExitSignalChange); err != nil {
			return err
		}
		open = false
	}

	if !open {
		if actionable && !lastBar {
			return r.enter(ctx, sym, bar, window, sig)
		}
		return nil
	}

	// A symbol's data can end before the run does; its position closes on its
	// own final bar so trades stay in exit order.
	if lastBar {
		return r.close(ctx, sym, bar, domain.ExitBacktestEnd)
	}

	if stop, tighter := r.risk.Trail(window, bar.Close, pos.Side, pos.StopLoss); tighter {
		if r.ledger.TightenStop(sym, stop) {
			r.stats.StopUpdates++
			r.log.Debug("stop tightened", "symbol", sym, "stop", stop, "time", bar.Timestamp)
		}
	}
	return nil
}

func (r *run) enter(ctx context.Context, sym string, bar domain.Bar, window []domain.Bar, sig domain.Signal) error {
	side := domain.PositionSideLong
	if sig.Action.IsSell() {
		side = domain.PositionSideShort
	}

	qty := r.sizer.Size(r.ledger.Balance(), bar.Close, sig)
	if qty <= 0 {
		return nil
	}

	entry := r.broker.FillPrice(side.OpenSide(), bar.Close)
	levels := r.risk.Levels(window, entry, side)

	fill, err := r.broker.Submit(ctx, broker.Intent{
		Symbol: sym,
		Side:   side.OpenSide(),
		Qty:    qty,
		Price:  bar.Close,
		Time:   bar.Timestamp,
		Levels: levels,
	})
	if err != nil {
		return fmt.Errorf("entering %s %s: %w", side, sym, err)
	}
	r.log.Debug("position opened",
		"symbol", sym, "side", side, "qty", qty, "price", fill.Orders[len(fill.Orders)-1].FilledAvgPrice,
		"stop", levels.StopLoss, "target", levels.TakeProfit, "time", bar.Timestamp)
	return nil
}

func (r *run) close(ctx context.Context, sym string, bar domain.Bar, reason domain.ExitReason) error {
	trade, err := r.broker.Close(ctx, broker.Intent{
		Symbol: sym,
		Price:  bar.Close,
		Time:   bar.Timestamp,
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("closing %s (%s): %w", sym, reason, err)
	}
	if trade != nil {
		r.log.Debug("position closed", "symbol", sym, "reason", reason, "pnl", trade.PnL, "time", bar.Timestamp)
	}
	return nil
}

// exitHit evaluates stop-loss then take-profit against the close.
func exitHit(pos domain.Position, price float64) (domain.ExitReason, bool) {
	if pos.Side == domain.PositionSideLong {
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return domain.ExitStopLoss, true
		}
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return domain.ExitTakeProfit, true
		}
		return "", false
	}
	if pos.StopLoss > 0 && price >= pos.StopLoss {
		return domain.ExitStopLoss, true
	}
	if pos.TakeProfit > 0 && price <= pos.TakeProfit {
		return domain.ExitTakeProfit, true
	}
	return "", false
}

func isReversal(side domain.PositionSide, a domain.Action) bool {
	return (side == domain.PositionSideLong && a.IsSell()) || (side == domain.PositionSideShort && a.IsBuy())
}
