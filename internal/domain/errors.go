package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", err) and test
// with errors.Is.
var (
	// ErrBacktest is returned when a run cannot produce a result at all, for
	// example when no requested symbol yields data.
	ErrBacktest = errors.New("backtest failed")

	// ErrDataUnavailable marks a symbol with no usable history in the
	// requested range. It is recovered per symbol.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInvalidConfiguration is returned before the simulation starts.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrSimulationInvariant indicates a logic defect; the run is aborted.
	ErrSimulationInvariant = errors.New("simulation invariant violated")
)
