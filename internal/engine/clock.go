package engine

import (
	"sort"
	"time"

	"strategylab/internal/domain"
)

// Timeline is the ordered union of bar timestamps across symbols, with a
// per-symbol index from timestamp to bar position.
type Timeline struct {
	Times   []time.Time
	Symbols []string
	index   map[string]map[int64]int
}

// NewTimeline builds a Timeline over series. Each series must already be in
// ascending timestamp order.
func NewTimeline(series map[string][]domain.Bar) *Timeline {
	tl := &Timeline{index: make(map[string]map[int64]int, len(series))}
	seen := make(map[int64]time.Time)

	for sym, bars := range series {
		if len(bars) == 0 {
			continue
		}
		tl.Symbols = append(tl.Symbols, sym)
		idx := make(map[int64]int, len(bars))
		for i, b := range bars {
			k := b.Timestamp.UnixNano()
			idx[k] = i
			seen[k] = b.Timestamp
		}
		tl.index[sym] = idx
	}
	sort.Strings(tl.Symbols)

	tl.Times = make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		tl.Times = append(tl.Times, ts)
	}
	sort.Slice(tl.Times, func(i, j int) bool { return tl.Times[i].Before(tl.Times[j]) })
	return tl
}

// At returns the position of symbol's bar at ts, if it has one.
func (tl *Timeline) At(symbol string, ts time.Time) (int, bool) {
	i, ok := tl.index[symbol][ts.UnixNano()]
	return i, ok
}
