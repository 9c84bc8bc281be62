// Package store defines storage for historical bars and persisted run
// results.
package store

import (
	"context"
	"errors"
	"time"

	"strategylab/internal/domain"
)

// ErrNotFound is returned when a run ID has no stored record.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars fetched from source at interval.
	WriteBars(ctx context.Context, source, interval string, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end], oldest first.
	ReadBars(ctx context.Context, source, symbol, interval string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored for source and interval.
	ListSymbols(ctx context.Context, source, interval string) ([]string, error)
}

// RunStore persists finished runs.
type RunStore interface {
	// SaveRun inserts or replaces a run together with its trades and equity
	// curve.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun retrieves a run by ID, including trades and equity curve.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs without trades or equity, up to
	// limit.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// DeleteRun removes a run and everything attached to it.
	DeleteRun(ctx context.Context, id string) error
}
