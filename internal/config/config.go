// Package config holds the strategy configuration for the paper trading
// engine and validates it at startup.
//
// All tunables are named here so the engine itself carries no magic numbers.
// Validation combines struct tags (for simple presence/range checks) with a
// defaults-merging step, following the connector configuration style used by
// the feed package.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"papertrader/internal/schedule"
)

// ErrInvalidConfig indicates that the provided Strategy contains invalid values.
var ErrInvalidConfig = errors.New("invalid configuration")

// Strategy collects every tunable of the simulation.
type Strategy struct {
	// Symbol is the single traded instrument (e.g., "BTCUSDT").
	Symbol string `validate:"required,alphanum"`

	// StartingCapital is the initial balance of each simulated account.
	StartingCapital decimal.Decimal

	// Leverage is the fixed multiplier applied to each position's notional.
	Leverage int `validate:"gt=0,lte=125"`

	// PositionFraction is the fraction of the account balance committed as
	// margin per trade, fixed at order creation time.
	PositionFraction decimal.Decimal

	// MinNotionalSize filters out liquidation events too small to act on.
	MinNotionalSize decimal.Decimal

	// EntryOffsetPct shifts the limit entry away from the observed price, in
	// percent: long entries sit below the price, short entries above it.
	EntryOffsetPct decimal.Decimal

	// StopLossPct and TakeProfitPct place the exit brackets relative to the
	// entry price, in percent.
	StopLossPct   decimal.Decimal
	TakeProfitPct decimal.Decimal

	// MakerFeePct and TakerFeePct model exchange fees on the position
	// notional, in percent. Take-profit closes pay the maker fee, stop-loss
	// and manual closes the taker fee.
	MakerFeePct decimal.Decimal
	TakerFeePct decimal.Decimal

	// ExpiryWindow cancels any pending order that has not filled in time.
	ExpiryWindow time.Duration `validate:"gt=0"`

	// DebounceWindow is the minimum time between accepted signals of the
	// same direction, preventing duplicate order creation.
	DebounceWindow time.Duration `validate:"gte=0"`

	// PricePrecision is the number of decimal places entry and bracket
	// prices are rounded to.
	PricePrecision int32 `validate:"gte=0,lte=8"`

	// ScheduleWindows are the UTC weekday trading windows of the scheduled
	// account, e.g. "02:00-05:00,14:00-17:00".
	ScheduleWindows string `validate:"required"`
}

// Default returns the strategy configuration matching the documented
// simulation parameters: $1000 per account at 25x leverage.
func Default() Strategy {
	return Strategy{
		Symbol:           "BTCUSDT",
		StartingCapital:  decimal.NewFromInt(1000),
		Leverage:         25,
		PositionFraction: decimal.NewFromInt(1),
		MinNotionalSize:  decimal.NewFromInt(2000),
		EntryOffsetPct:   decimal.NewFromFloat(0.01),
		StopLossPct:      decimal.NewFromInt(1),
		TakeProfitPct:    decimal.NewFromInt(4),
		MakerFeePct:      decimal.NewFromFloat(0.02),
		TakerFeePct:      decimal.NewFromFloat(0.05),
		ExpiryWindow:     30 * time.Minute,
		DebounceWindow:   5 * time.Minute,
		PricePrecision:   1,
		ScheduleWindows:  "02:00-05:00,14:00-17:00",
	}
}

// Validate checks the configuration, applying defaults for unset optional
// fields first. It returns ErrInvalidConfig wrapped with detail on failure.
func (s *Strategy) Validate() error {
	def := Default()

	// Apply defaults for unset decimal fields
	if s.StartingCapital.IsZero() {
		s.StartingCapital = def.StartingCapital
	}
	if s.PositionFraction.IsZero() {
		s.PositionFraction = def.PositionFraction
	}
	if s.StopLossPct.IsZero() {
		s.StopLossPct = def.StopLossPct
	}
	if s.TakeProfitPct.IsZero() {
		s.TakeProfitPct = def.TakeProfitPct
	}

	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Range checks the validator cannot express for decimal fields
	if s.StartingCapital.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: starting capital must be positive", ErrInvalidConfig)
	}
	if s.PositionFraction.LessThanOrEqual(decimal.Zero) || s.PositionFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: position fraction must be in (0, 1]", ErrInvalidConfig)
	}
	if s.MinNotionalSize.IsNegative() {
		return fmt.Errorf("%w: min notional size cannot be negative", ErrInvalidConfig)
	}
	if s.EntryOffsetPct.IsNegative() {
		return fmt.Errorf("%w: entry offset cannot be negative", ErrInvalidConfig)
	}
	if s.StopLossPct.LessThanOrEqual(decimal.Zero) || s.TakeProfitPct.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: stop-loss and take-profit percentages must be positive", ErrInvalidConfig)
	}
	if s.MakerFeePct.IsNegative() || s.TakerFeePct.IsNegative() {
		return fmt.Errorf("%w: fee percentages cannot be negative", ErrInvalidConfig)
	}

	if _, err := s.Windows(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Windows parses ScheduleWindows into schedule gate windows.
func (s *Strategy) Windows() ([]schedule.Window, error) {
	parts := strings.Split(s.ScheduleWindows, ",")
	windows := make([]schedule.Window, 0, len(parts))
	for _, p := range parts {
		w, err := schedule.ParseWindow(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}
