// Package broker defines the Broker interface and the simulated execution
// venue used by backtests.
package broker

import (
	"context"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/ledger"
)

// Intent is a request to trade qty of Symbol on Side at the reference price
// of the current bar.
type Intent struct {
	Symbol string
	Side   domain.OrderSide
	Qty    float64
	Price  float64 // reference price, normally the bar close
	Time   time.Time

	// Reason is recorded on any trade closed by this intent.
	Reason domain.ExitReason
	// Levels are attached to any exposure opened by this intent.
	Levels ledger.Levels
}

// AccountInfo summarises the account behind a broker.
type AccountInfo struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Unrealized float64 `json:"unrealized_pnl"`
	Positions  int     `json:"positions"`
}

// Fill is the outcome of one submitted intent: the orders it produced and the
// trade closed along the way, if any.
type Fill struct {
	Orders []domain.Order
	Closed *domain.Trade
}

// Broker abstracts order execution and account state.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Submit executes an intent. A single intent may produce an offsetting
	// order followed by an opening order.
	Submit(ctx context.Context, in Intent) (*Fill, error)

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*AccountInfo, error)
}
