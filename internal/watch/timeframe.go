package watch

import (
	"strconv"
	"strings"
	"time"
)

// ParseTimeframe parses "15m", "1h", "4h", "1d" into time.Duration.
// Returns (0, false) on invalid input.
func ParseTimeframe(timeframe string) (time.Duration, bool) {
	timeframe = strings.ToLower(strings.TrimSpace(timeframe))
	if timeframe == "" {
		return 0, false
	}
	unit := timeframe[len(timeframe)-1]
	numStr := strings.TrimSpace(timeframe[:len(timeframe)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// NextBoundary returns the first instant of the timeframe grid strictly after
// t. The grid is anchored at UTC midnight, so a 4h timeframe yields
// 00/04/08/12/16/20. Expiry deadlines are always derived through here, never
// set ad hoc.
func (w *Watcher) NextBoundary(t time.Time, timeframe string) (time.Time, bool) {
	return NextBoundary(t, timeframe)
}

func NextBoundary(t time.Time, timeframe string) (time.Time, bool) {
	dur, ok := ParseTimeframe(timeframe)
	if !ok {
		return time.Time{}, false
	}
	t = t.UTC()
	// time.Truncate on a UTC instant aligns with the epoch, which is itself
	// midnight-aligned, so this lands on the grid for any divisor of 24h.
	boundary := t.Truncate(dur)
	for !boundary.After(t) {
		boundary = boundary.Add(dur)
	}
	return boundary, true
}
