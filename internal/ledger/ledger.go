// Package ledger holds the authoritative account state of one simulation run:
// cash balance, open positions, filled orders, closed trades and the equity
// curve. It is not safe for concurrent use; a run has exactly one mutator.
package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"strategylab/internal/domain"
)

// qtyEpsilon is the residual quantity below which a position counts as flat.
const qtyEpsilon = 1e-12

// Levels are the risk levels attached to a position when it is opened.
type Levels struct {
	StopLoss    float64
	TakeProfit  float64
	Supports    []float64
	Resistances []float64
}

// Ledger tracks balance, positions, orders, trades and equity for one run.
//
// Balance is realized cash: every fill debits its commission, and closing
// fills credit the gross P&L of the closed quantity. Equity is balance plus
// the mark-to-market P&L of open positions.
type Ledger struct {
	initial   float64
	balance   float64
	positions map[string]*domain.Position
	orders    []domain.Order
	trades    []domain.Trade
	equity    []domain.EquityPoint
}

// New creates an empty ledger funded with initialBalance.
func New(initialBalance float64) *Ledger {
	return &Ledger{
		initial:   initialBalance,
		balance:   initialBalance,
		positions: make(map[string]*domain.Position),
	}
}

// InitialBalance returns the starting cash.
func (l *Ledger) InitialBalance() float64 { return l.initial }

// Balance returns the realized cash balance.
func (l *Ledger) Balance() float64 { return l.balance }

// Position returns a copy of the open position in symbol, if any.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return copyPosition(p), true
}

// Positions returns copies of all open positions sorted by symbol.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, copyPosition(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Orders returns the filled orders in submission order.
func (l *Ledger) Orders() []domain.Order {
	return append([]domain.Order(nil), l.orders...)
}

// Trades returns the closed trades in chronological order.
func (l *Ledger) Trades() []domain.Trade {
	return append([]domain.Trade(nil), l.trades...)
}

// EquityCurve returns the recorded equity snapshots.
func (l *Ledger) EquityCurve() []domain.EquityPoint {
	return append([]domain.EquityPoint(nil), l.equity...)
}

// Unrealized returns the summed mark-to-market P&L of open positions.
func (l *Ledger) Unrealized() float64 {
	var sum float64
	for _, p := range l.positions {
		sum += p.UnrealizedPnL
	}
	return sum
}

// Equity returns balance plus unrealized P&L.
func (l *Ledger) Equity() float64 {
	return l.balance + l.Unrealized()
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// Open applies a filled order that opens or adds to exposure on side. A
// position on the opposite side must have been offset first.
func (l *Ledger) Open(order domain.Order, side domain.PositionSide, levels Levels) error {
	if order.Status != domain.OrderStatusFilled || order.FilledQty <= 0 {
		return fmt.Errorf("%w: opening with unfilled order %s", domain.ErrSimulationInvariant, order.ID)
	}
	if order.Side != side.OpenSide() {
		return fmt.Errorf("%w: %s order cannot open %s exposure", domain.ErrSimulationInvariant, order.Side, side)
	}

	p, ok := l.positions[order.Symbol]
	switch {
	case !ok:
		p = &domain.Position{
			Symbol:           order.Symbol,
			Side:             side,
			Qty:              order.FilledQty,
			EntryPrice:       order.FilledAvgPrice,
			CurrentPrice:     order.FilledAvgPrice,
			EntryTime:        order.FilledAt,
			StopLoss:         levels.StopLoss,
			TakeProfit:       levels.TakeProfit,
			SupportLevels:    append([]float64(nil), levels.Supports...),
			ResistanceLevels: append([]float64(nil), levels.Resistances...),
		}
		l.positions[order.Symbol] = p
	case p.Side != side:
		return fmt.Errorf("%w: second concurrent position in %s (%s open, %s requested)",
			domain.ErrSimulationInvariant, order.Symbol, p.Side, side)
	default:
		qty := p.Qty + order.FilledQty
		p.EntryPrice = (p.EntryPrice*p.Qty + order.FilledAvgPrice*order.FilledQty) / qty
		p.Qty = qty
	}

	p.Commission += order.Commission
	l.balance -= order.Commission
	l.orders = append(l.orders, order)
	l.markPosition(p, order.FilledAvgPrice)
	return nil
}

// Reduce applies a filled order that offsets exposure in its symbol. When the
// position reaches zero it is removed and the resulting Trade is returned.
func (l *Ledger) Reduce(order domain.Order, reason domain.ExitReason) (*domain.Trade, error) {
	p, ok := l.positions[order.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: reducing %s with no open position", domain.ErrSimulationInvariant, order.Symbol)
	}
	if order.Side != p.Side.CloseSide() {
		return nil, fmt.Errorf("%w: %s order cannot reduce %s position", domain.ErrSimulationInvariant, order.Side, p.Side)
	}
	if order.FilledQty <= 0 || order.FilledQty > p.Qty*(1+1e-9) {
		return nil, fmt.Errorf("%w: reduce qty %v exceeds open qty %v in %s",
			domain.ErrSimulationInvariant, order.FilledQty, p.Qty, order.Symbol)
	}
	if order.FilledAt.Before(p.EntryTime) {
		return nil, fmt.Errorf("%w: exit at %s precedes entry at %s in %s", domain.ErrSimulationInvariant,
			order.FilledAt.Format(time.RFC3339), p.EntryTime.Format(time.RFC3339), order.Symbol)
	}

	qty := math.Min(order.FilledQty, p.Qty)
	var gross float64
	if p.Side == domain.PositionSideLong {
		gross = (order.FilledAvgPrice - p.EntryPrice) * qty
	} else {
		gross = (p.EntryPrice - order.FilledAvgPrice) * qty
	}

	l.balance += gross - order.Commission
	l.orders = append(l.orders, order)

	p.RealizedPnL += gross
	p.Commission += order.Commission
	p.ClosedQty += qty
	p.ExitNotional += order.FilledAvgPrice * qty
	p.Qty -= qty

	if p.Qty > qtyEpsilon {
		l.markPosition(p, order.FilledAvgPrice)
		return nil, nil
	}

	trade := l.closeOut(p, order.FilledAt, reason)
	return &trade, nil
}

func (l *Ledger) closeOut(p *domain.Position, at time.Time, reason domain.ExitReason) domain.Trade {
	exitPrice := p.ExitNotional / p.ClosedQty
	pnl := p.RealizedPnL - p.Commission

	var pct float64
	if cost := p.EntryPrice * p.ClosedQty; cost > 0 {
		pct = pnl / cost * 100
	}

	trade := domain.Trade{
		ID:            uuid.NewString(),
		Symbol:        p.Symbol,
		Side:          p.Side,
		EntryPrice:    p.EntryPrice,
		ExitPrice:     exitPrice,
		Qty:           p.ClosedQty,
		PnL:           pnl,
		PnLPercent:    pct,
		EntryTime:     p.EntryTime,
		ExitTime:      at,
		DurationHours: at.Sub(p.EntryTime).Hours(),
		Commission:    p.Commission,
		Reason:        reason,
	}
	delete(l.positions, p.Symbol)
	l.trades = append(l.trades, trade)
	return trade
}

// Mark updates the current price and unrealized P&L of the position in symbol.
func (l *Ledger) Mark(symbol string, price float64) {
	if p, ok := l.positions[symbol]; ok {
		l.markPosition(p, price)
	}
}

func (l *Ledger) markPosition(p *domain.Position, price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.GrossPnL(price)
}

// TightenStop replaces the stop of the position in symbol when stop is
// tighter: higher for longs, lower for shorts. It reports whether the stop
// changed.
func (l *Ledger) TightenStop(symbol string, stop float64) bool {
	p, ok := l.positions[symbol]
	if !ok || stop <= 0 {
		return false
	}
	if p.Side == domain.PositionSideLong && stop > p.StopLoss {
		p.StopLoss = stop
		return true
	}
	if p.Side == domain.PositionSideShort && stop < p.StopLoss {
		p.StopLoss = stop
		return true
	}
	return false
}

// Snapshot appends one equity sample at ts and returns it.
func (l *Ledger) Snapshot(ts time.Time) domain.EquityPoint {
	pt := domain.EquityPoint{Timestamp: ts, Equity: l.Equity()}
	l.equity = append(l.equity, pt)
	return pt
}

// Resnapshot overwrites the latest equity sample with the current equity, or
// appends one at ts when the curve is empty.
func (l *Ledger) Resnapshot(ts time.Time) {
	if n := len(l.equity); n > 0 {
		l.equity[n-1].Equity = l.Equity()
		return
	}
	l.Snapshot(ts)
}

// CheckConservation verifies that with no open positions the balance equals
// the initial balance plus the summed P&L of all trades, within tolerance.
func (l *Ledger) CheckConservation() error {
	if len(l.positions) != 0 {
		return fmt.Errorf("%w: %d positions still open", domain.ErrSimulationInvariant, len(l.positions))
	}
	var sum float64
	for _, t := range l.trades {
		sum += t.PnL
	}
	want := l.initial + sum
	if diff := math.Abs(l.balance - want); diff > 1e-6*math.Max(1, math.Abs(want)) {
		return fmt.Errorf("%w: balance %.8f != initial + trade pnl %.8f", domain.ErrSimulationInvariant, l.balance, want)
	}
	return nil
}

func copyPosition(p *domain.Position) domain.Position {
	out := *p
	out.SupportLevels = append([]float64(nil), p.SupportLevels...)
	out.ResistanceLevels = append([]float64(nil), p.ResistanceLevels...)
	return out
}
