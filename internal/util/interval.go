package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// year is the 24/7 calendar year used for annualization.
const year = 365 * 24 * time.Hour

// ParseInterval converts a bar interval such as "15m", "4h", "1d" or "1w" to a
// duration.
func ParseInterval(interval string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(interval))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval unit in %q", interval)
	}
	return time.Duration(n) * unit, nil
}

// BarsPerYear returns how many bars of the given interval fit in one year.
// It is the annualization base for Sharpe, Sortino and volatility.
func BarsPerYear(interval string) (float64, error) {
	d, err := ParseInterval(interval)
	if err != nil {
		return 0, err
	}
	return float64(year) / float64(d), nil
}
