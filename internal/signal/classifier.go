// Package signal converts raw liquidation events into directional trade
// signals.
//
// The classifier is a pure function: no side effects, no mutable state, and
// the same event always yields the same signal.
package signal

import (
	"github.com/shopspring/decimal"

	"papertrader/internal/model"
)

// Classifier derives trade signals from liquidation events.
//
// A liquidation cascade on one side implies continuation pressure against
// that side, so the signal direction is the opposite of the liquidated side:
// liquidated longs produce a short signal and vice versa.
type Classifier struct {
	minNotional decimal.Decimal
}

// NewClassifier creates a classifier that suppresses liquidations below the
// given notional size as noise.
func NewClassifier(minNotional decimal.Decimal) *Classifier {
	return &Classifier{minNotional: minNotional}
}

// Classify maps a liquidation event to a trade signal. The boolean result is
// false when the event is filtered out by the size threshold.
func (c *Classifier) Classify(ev model.LiquidationEvent) (model.Signal, bool) {
	if ev.NotionalSize.LessThan(c.minNotional) {
		return model.Signal{}, false
	}

	return model.Signal{
		Timestamp: ev.Timestamp,
		Direction: ev.Side.Opposite(),
		Cause: model.LiquidationCause{
			Side:     ev.Side,
			Notional: ev.NotionalSize,
		},
	}, true
}
