package broker

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"strategylab/internal/domain"
	"strategylab/internal/ledger"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker fills market orders immediately at the reference price
// adjusted by slippage and charges a proportional commission. Fills are
// applied to the ledger it wraps.
type SimulatorBroker struct {
	ledger         *ledger.Ledger
	commissionRate float64
	slippageRate   float64
}

// NewSimulatorBroker creates a SimulatorBroker over l.
func NewSimulatorBroker(l *ledger.Ledger, commissionRate, slippageRate float64) *SimulatorBroker {
	return &SimulatorBroker{
		ledger:         l,
		commissionRate: commissionRate,
		slippageRate:   slippageRate,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// FillPrice returns price moved against the trader by the slippage rate.
func (b *SimulatorBroker) FillPrice(side domain.OrderSide, price float64) float64 {
	if side == domain.OrderSideBuy {
		return price * (1 + b.slippageRate)
	}
	return price * (1 - b.slippageRate)
}

// Submit offsets any opposite exposure first, then opens or adds with the
// remainder. Offset and open are separate orders and separate ledger
// mutations.
func (b *SimulatorBroker) Submit(_ context.Context, in Intent) (*Fill, error) {
	if in.Qty <= 0 || math.IsNaN(in.Qty) || math.IsInf(in.Qty, 0) {
		return nil, fmt.Errorf("submitting %s %s: invalid qty %v", in.Side, in.Symbol, in.Qty)
	}
	if in.Price <= 0 {
		return nil, fmt.Errorf("submitting %s %s: invalid price %v", in.Side, in.Symbol, in.Price)
	}

	fill := &Fill{}
	remaining := in.Qty

	if pos, ok := b.ledger.Position(in.Symbol); ok && pos.Side.CloseSide() == in.Side {
		qty := math.Min(remaining, pos.Qty)
		order := b.fill(in, qty)
		trade, err := b.ledger.Reduce(order, in.Reason)
		if err != nil {
			return nil, fmt.Errorf("offsetting %s: %w", in.Symbol, err)
		}
		fill.Orders = append(fill.Orders, order)
		fill.Closed = trade
		remaining -= qty
	}

	if remaining <= 1e-12 {
		return fill, nil
	}

	side := domain.PositionSideLong
	if in.Side == domain.OrderSideSell {
		side = domain.PositionSideShort
	}
	order := b.fill(in, remaining)
	if err := b.ledger.Open(order, side, in.Levels); err != nil {
		return nil, fmt.Errorf("opening %s: %w", in.Symbol, err)
	}
	fill.Orders = append(fill.Orders, order)
	return fill, nil
}

// Close flattens the position in symbol at price and returns the resulting
// trade. It is a no-op returning nil when no position is open.
func (b *SimulatorBroker) Close(ctx context.Context, in Intent) (*domain.Trade, error) {
	pos, ok := b.ledger.Position(in.Symbol)
	if !ok {
		return nil, nil
	}
	in.Side = pos.Side.CloseSide()
	in.Qty = pos.Qty
	f, err := b.Submit(ctx, in)
	if err != nil {
		return nil, err
	}
	return f.Closed, nil
}

func (b *SimulatorBroker) fill(in Intent, qty float64) domain.Order {
	price := b.FillPrice(in.Side, in.Price)
	return domain.Order{
		ID:             uuid.NewString(),
		Symbol:         in.Symbol,
		Side:           in.Side,
		Type:           domain.OrderTypeMarket,
		Qty:            qty,
		Status:         domain.OrderStatusFilled,
		CreatedAt:      in.Time,
		FilledAt:       in.Time,
		FilledQty:      qty,
		FilledAvgPrice: price,
		Commission:     qty * price * b.commissionRate,
	}
}

// GetPositions returns all simulated positions.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	return b.ledger.Positions(), nil
}

// GetAccount returns simulated account information.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*AccountInfo, error) {
	return &AccountInfo{
		Balance:    b.ledger.Balance(),
		Equity:     b.ledger.Equity(),
		Unrealized: b.ledger.Unrealized(),
		Positions:  len(b.ledger.Positions()),
	}, nil
}
