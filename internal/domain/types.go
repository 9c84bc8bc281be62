// Package domain defines the core value types shared by the simulation
// engine, the ledger, the analyzers and the API layer.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one OHLCV candle for a symbol.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusPartial   OrderStatus = "partial"
)

// Order is an intent to transact together with its simulated fill.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Qty            float64     `json:"qty"`
	Price          float64     `json:"price,omitempty"` // requested price, 0 for market orders
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	FilledAt       time.Time   `json:"filled_at"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	Commission     float64     `json:"commission"`
}

// ---------------------------------------------------------------------------
// Positions and trades
// ---------------------------------------------------------------------------

// PositionSide is the direction of open exposure.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// OpenSide returns the order side that opens or adds to exposure on ps.
func (ps PositionSide) OpenSide() OrderSide {
	if ps == PositionSideLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// CloseSide returns the order side that reduces exposure on ps.
func (ps PositionSide) CloseSide() OrderSide {
	return ps.OpenSide().Opposite()
}

// Position is the current exposure in one symbol.
type Position struct {
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	Qty              float64      `json:"qty"`
	EntryPrice       float64      `json:"entry_price"`
	CurrentPrice     float64      `json:"current_price"`
	UnrealizedPnL    float64      `json:"unrealized_pnl"`
	EntryTime        time.Time    `json:"entry_time"`
	StopLoss         float64      `json:"stop_loss"`
	TakeProfit       float64      `json:"take_profit"`
	SupportLevels    []float64    `json:"support_levels,omitempty"`
	ResistanceLevels []float64    `json:"resistance_levels,omitempty"`

	// Accumulated over partial closes and adds; folded into the Trade.
	RealizedPnL  float64 `json:"realized_pnl"`
	Commission   float64 `json:"commission"`
	ClosedQty    float64 `json:"closed_qty"`
	ExitNotional float64 `json:"exit_notional"`
}

// GrossPnL returns the mark-to-market P&L of the open quantity at price.
func (p *Position) GrossPnL(price float64) float64 {
	if p.Side == PositionSideLong {
		return (price - p.EntryPrice) * p.Qty
	}
	return (p.EntryPrice - price) * p.Qty
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitSignalChange ExitReason = "signal_change"
	ExitBacktestEnd  ExitReason = "backtest_end"
)

// Trade is the immutable record of a closed position.
type Trade struct {
	ID            string       `json:"id"`
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	EntryPrice    float64      `json:"entry_price"`
	ExitPrice     float64      `json:"exit_price"`
	Qty           float64      `json:"qty"`
	PnL           float64      `json:"pnl"`
	PnLPercent    float64      `json:"pnl_percent"`
	EntryTime     time.Time    `json:"entry_time"`
	ExitTime      time.Time    `json:"exit_time"`
	DurationHours float64      `json:"duration_hours"`
	Commission    float64      `json:"commission"`
	Reason        ExitReason   `json:"reason"`
}

// EquityPoint is one sample of total account equity.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Action is the recommendation carried by a Signal.
type Action string

const (
	ActionStrongBuy  Action = "strong_buy"
	ActionBuy        Action = "buy"
	ActionHold       Action = "hold"
	ActionWait       Action = "wait"
	ActionSell       Action = "sell"
	ActionStrongSell Action = "strong_sell"
)

// IsBuy reports whether a is buy or strong_buy.
func (a Action) IsBuy() bool { return a == ActionBuy || a == ActionStrongBuy }

// IsSell reports whether a is sell or strong_sell.
func (a Action) IsSell() bool { return a == ActionSell || a == ActionStrongSell }

// RiskLevel grades how aggressive a signal's sizing may be.
type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "very_low"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

// Signal is the typed output of a signal provider for one symbol and bar.
type Signal struct {
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	RiskLevel  RiskLevel `json:"risk_level"`
}

// Hold is the neutral signal.
var Hold = Signal{Action: ActionHold, RiskLevel: RiskMedium}
