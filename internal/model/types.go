// Package model defines core data types for the paper trading engine.
//
// This package contains the fundamental data structures used throughout the
// system for representing market data, trade signals, and simulated orders.
// All monetary values use decimal.Decimal for precise financial calculations
// to avoid floating-point precision issues common in financial applications.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the side of a simulated position.
type Direction int

const (
	// Long profits when price rises.
	Long Direction = iota

	// Short profits when price falls.
	Short
)

// String returns the lower-case name of the direction.
func (d Direction) String() string {
	if d == Long {
		return "long"
	}
	return "short"
}

// Sign returns +1 for Long and -1 for Short, the multiplier applied to
// relative price movement when computing realized P&L.
func (d Direction) Sign() decimal.Decimal {
	if d == Long {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// MarshalJSON encodes the direction as its lower-case name.
func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts "long" or "short", case-insensitively.
func (d *Direction) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(strings.Trim(string(data), `"`)) {
	case "long":
		*d = Long
	case "short":
		*d = Short
	default:
		return fmt.Errorf("invalid direction: %s", data)
	}
	return nil
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// MarketEvent is implemented by every record that flows through the engine's
// single inbound stream. The engine processes exactly one event at a time in
// arrival order.
type MarketEvent interface {
	// EventTime returns the exchange timestamp of the event.
	EventTime() time.Time
}

// Trade represents a single raw trade execution from the market data feed.
//
// Raw trades are not consumed by the engine directly; the feed sampler
// aggregates them into regular-cadence PriceTicks.
type Trade struct {
	Symbol    string          // Instrument symbol (e.g., "BTCUSDT")
	Price     decimal.Decimal // Trade execution price
	Quantity  decimal.Decimal // Volume of base asset traded
	Timestamp time.Time       // Exchange timestamp of the trade
}

// EventTime implements MarketEvent.
func (t Trade) EventTime() time.Time { return t.Timestamp }

// PriceTick is a regular-cadence price observation for the traded instrument.
//
// Ticks drive the order lifecycle: pending orders fill, open positions are
// checked against stop-loss/take-profit, and stale pending orders expire.
type PriceTick struct {
	Timestamp time.Time       `json:"timestamp"` // Observation time, monotonically non-decreasing
	Price     decimal.Decimal `json:"price"`     // Last traded price, always positive
}

// EventTime implements MarketEvent.
func (t PriceTick) EventTime() time.Time { return t.Timestamp }

// LiquidationEvent records a forced closure of a leveraged position on the
// source exchange. Side denotes which side was liquidated; a large notional
// implies a stronger directional signal.
type LiquidationEvent struct {
	Timestamp    time.Time       `json:"timestamp"` // Exchange timestamp of the liquidation
	Side         Direction       `json:"side"`      // Side that was liquidated
	NotionalSize decimal.Decimal `json:"notional"`  // Liquidated notional in quote currency
}

// EventTime implements MarketEvent.
func (e LiquidationEvent) EventTime() time.Time { return e.Timestamp }

// SignalCause is the closed set of provenances a trade signal can carry.
//
// Keeping provenance as a tagged variant rather than free text preserves the
// audit trail while enabling exhaustive handling in the engine.
type SignalCause interface {
	// Reason renders the cause as a human-readable audit string.
	Reason() string

	signalCause()
}

// LiquidationCause attributes a signal to a liquidation cascade.
type LiquidationCause struct {
	Side     Direction       // Side that was liquidated
	Notional decimal.Decimal // Liquidated notional in quote currency
}

// Reason implements SignalCause.
func (c LiquidationCause) Reason() string {
	return fmt.Sprintf("%s liq $%s", strings.ToUpper(c.Side.String()), c.Notional.Round(0).String())
}

func (LiquidationCause) signalCause() {}

// AutoReentryCause attributes a signal to the automatic re-entry policy that
// follows a stop-loss close.
type AutoReentryCause struct {
	ParentID uint64 // ID of the order whose stop-loss triggered the re-entry
}

// Reason implements SignalCause.
func (c AutoReentryCause) Reason() string {
	return fmt.Sprintf("Auto after #%d SL", c.ParentID)
}

func (AutoReentryCause) signalCause() {}

// UnattributedCause marks a signal whose origin could not be determined.
// It replaces the loosely-typed "Unknown" strings seen in captured runs.
type UnattributedCause struct{}

// Reason implements SignalCause.
func (UnattributedCause) Reason() string { return "Unattributed" }

func (UnattributedCause) signalCause() {}

// Signal is a directional trade intent derived from market events.
type Signal struct {
	Timestamp time.Time   // Time the triggering event was observed
	Direction Direction   // Side the new position should take
	Cause     SignalCause // Provenance of the signal
}

// Reason renders the signal's provenance, falling back to Unattributed when
// no cause was recorded.
func (s Signal) Reason() string {
	if s.Cause == nil {
		return UnattributedCause{}.Reason()
	}
	return s.Cause.Reason()
}
