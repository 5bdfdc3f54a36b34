// Package schedule implements the trading-hours gate for the scheduled
// account.
//
// The gate is a pure, total function over timestamps: it never blocks, never
// errors, and holds no mutable state. The 24/7 account bypasses it entirely.
package schedule

import (
	"fmt"
	"time"
)

// Window is a half-open [Start, End) time-of-day range in minutes from
// midnight UTC.
type Window struct {
	Start int // Minutes from midnight, inclusive
	End   int // Minutes from midnight, exclusive
}

// ParseWindow parses a "HH:MM-HH:MM" window specification.
func ParseWindow(spec string) (Window, error) {
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(spec, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return Window{}, fmt.Errorf("invalid window %q: expected HH:MM-HH:MM", spec)
	}
	if sh < 0 || sh > 23 || eh < 0 || eh > 23 || sm < 0 || sm > 59 || em < 0 || em > 59 {
		return Window{}, fmt.Errorf("invalid window %q: time out of range", spec)
	}
	w := Window{Start: sh*60 + sm, End: eh*60 + em}
	if w.End <= w.Start {
		return Window{}, fmt.Errorf("invalid window %q: end must be after start", spec)
	}
	return w, nil
}

// Contains reports whether the minute-of-day falls inside the window.
func (w Window) Contains(minuteOfDay int) bool {
	return minuteOfDay >= w.Start && minuteOfDay < w.End
}

// Gate evaluates eligibility of the scheduled account for new orders.
type Gate struct {
	windows []Window
}

// NewGate builds a gate over the given windows. A gate with no windows is
// never eligible.
func NewGate(windows []Window) *Gate {
	return &Gate{windows: windows}
}

// Eligible reports whether new orders may be created at the given time: the
// UTC weekday must be Monday through Friday and the UTC time-of-day must fall
// inside one of the configured windows.
//
// Existing positions are never gated; only new order intake is.
func (g *Gate) Eligible(t time.Time) bool {
	utc := t.UTC()
	switch utc.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minute := utc.Hour()*60 + utc.Minute()
	for _, w := range g.windows {
		if w.Contains(minute) {
			return true
		}
	}
	return false
}
