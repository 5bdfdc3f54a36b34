// Package engine implements the order/position lifecycle and dual-account
// ledger core of the paper trading simulator.
//
// The engine is tick-driven and strictly serialized: a single orchestrator
// goroutine owns all account state, processes one market event at a time,
// and completes every order-state transition for a tick before the next tick
// is admitted. Stop-loss auto re-entries created while processing a tick are
// therefore visible to the next tick's evaluation, never the same one.
package engine

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"papertrader/internal/config"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
)

var hundred = decimal.NewFromInt(100)

// OrderManager owns the pending and filled orders of one simulated account.
//
// It evaluates every tick against open order state, converts pending orders
// to positions, triggers stop-loss/take-profit exits, expires stale orders,
// and issues deterministic re-entry orders after stop-loss closes. Closed
// orders are handed to the owning ledger exactly once.
type OrderManager struct {
	accountID string
	cfg       config.Strategy
	nextID    func() uint64
	ledger    *Ledger

	pending []*model.Order
	open    []*model.Order

	// lastSignal tracks the most recent accepted signal per direction for
	// the debounce guard.
	lastSignal map[model.Direction]time.Time

	logger zerolog.Logger
}

// NewOrderManager creates an order manager bound to its account ledger.
// The nextID function must yield process-wide unique, monotonically
// increasing order IDs.
func NewOrderManager(accountID string, cfg config.Strategy, ledger *Ledger, nextID func() uint64) *OrderManager {
	return &OrderManager{
		accountID:  accountID,
		cfg:        cfg,
		nextID:     nextID,
		ledger:     ledger,
		lastSignal: make(map[model.Direction]time.Time),
		logger:     log.With().Str("account", accountID).Logger(),
	}
}

// OnSignal creates a new pending order from a trade signal, or returns nil
// when the signal is suppressed.
//
// A signal is suppressed when another signal of the same direction was
// accepted within the debounce window, or when a pending order of the same
// direction already exists. Eligibility gating for the scheduled account
// happens upstream in the orchestrator.
func (m *OrderManager) OnSignal(sig model.Signal, currentPrice decimal.Decimal) *model.Order {
	if last, ok := m.lastSignal[sig.Direction]; ok && sig.Timestamp.Sub(last) < m.cfg.DebounceWindow {
		m.logger.Debug().
			Str("direction", sig.Direction.String()).
			Time("last", last).
			Msg("signal debounced")
		return nil
	}
	for _, o := range m.pending {
		if o.Direction == sig.Direction {
			m.logger.Debug().
				Uint64("order_id", o.ID).
				Str("direction", sig.Direction.String()).
				Msg("pending order already exists, signal dropped")
			return nil
		}
	}

	order := m.createOrder(sig, currentPrice)
	if order == nil {
		return nil
	}
	m.lastSignal[sig.Direction] = sig.Timestamp

	m.logger.Info().
		Uint64("order_id", order.ID).
		Str("direction", order.Direction.String()).
		Str("entry", order.EntryPrice.String()).
		Str("reason", order.Reason).
		Msg("order created")
	return order
}

// createOrder builds a pending order priced off the current market price.
// The position notional is a fixed fraction of the account balance, locked
// in at creation time and never re-evaluated.
func (m *OrderManager) createOrder(sig model.Signal, currentPrice decimal.Decimal) *model.Order {
	offset := m.cfg.EntryOffsetPct.Div(hundred)
	var entry decimal.Decimal
	if sig.Direction == model.Long {
		entry = currentPrice.Mul(decimal.NewFromInt(1).Sub(offset))
	} else {
		entry = currentPrice.Mul(decimal.NewFromInt(1).Add(offset))
	}
	entry = entry.Round(m.cfg.PricePrecision)

	notional := m.ledger.Balance().Mul(m.cfg.PositionFraction)
	order := model.NewOrder(m.nextID(), sig, entry, m.cfg.Leverage, notional, sig.Timestamp)

	sl, tp := bracketPrices(sig.Direction, entry, m.cfg.StopLossPct, m.cfg.TakeProfitPct, m.cfg.PricePrecision)
	if err := order.SetBrackets(sl, tp); err != nil {
		m.logger.Warn().Err(err).Uint64("order_id", order.ID).Msg("discarding order with invalid brackets")
		return nil
	}

	m.pending = append(m.pending, order)
	metrics.OrdersCreated.WithLabelValues(m.accountID, sig.Direction.String()).Inc()
	return order
}

// bracketPrices computes stop-loss and take-profit prices relative to entry.
func bracketPrices(dir model.Direction, entry, slPct, tpPct decimal.Decimal, precision int32) (decimal.Decimal, decimal.Decimal) {
	one := decimal.NewFromInt(1)
	sl := slPct.Div(hundred)
	tp := tpPct.Div(hundred)
	if dir == model.Long {
		return entry.Mul(one.Sub(sl)).Round(precision), entry.Mul(one.Add(tp)).Round(precision)
	}
	return entry.Mul(one.Add(sl)).Round(precision), entry.Mul(one.Sub(tp)).Round(precision)
}

// OnTick advances the order lifecycle for one price observation and returns
// the orders closed by this tick.
//
// Evaluation order per tick: pending orders are expired or filled first,
// then positions are checked for exits. Orders created while processing this
// tick (stop-loss re-entries) are not evaluated until the next tick.
func (m *OrderManager) OnTick(tick model.PriceTick) []*model.Order {
	m.evaluatePending(tick)
	closed := m.evaluatePositions(tick)

	// Stop-loss closes spawn re-entry orders after the ledger has been
	// updated, so the re-entry notional reflects the post-close balance.
	for _, o := range closed {
		if o.CloseCause == model.CloseReasonStopLoss {
			m.reenter(o, tick)
		}
	}
	return closed
}

// evaluatePending fills orders whose entry trigger has been crossed and
// cancels orders that outlived the expiry window without filling.
func (m *OrderManager) evaluatePending(tick model.PriceTick) {
	remaining := m.pending[:0]
	for _, o := range m.pending {
		if tick.Timestamp.Sub(o.CreatedAt) > m.cfg.ExpiryWindow {
			if err := o.Cancel(); err != nil {
				m.logger.Warn().Err(err).Uint64("order_id", o.ID).Msg("cancel rejected")
				remaining = append(remaining, o)
				continue
			}
			m.logger.Info().Uint64("order_id", o.ID).Msg("pending order expired")
			continue
		}

		crossed := (o.Direction == model.Long && tick.Price.LessThanOrEqual(o.EntryPrice)) ||
			(o.Direction == model.Short && tick.Price.GreaterThanOrEqual(o.EntryPrice))
		if !crossed {
			remaining = append(remaining, o)
			continue
		}

		if err := o.Fill(tick.Timestamp); err != nil {
			m.logger.Warn().Err(err).Uint64("order_id", o.ID).Msg("fill rejected")
			continue
		}
		m.open = append(m.open, o)
		m.logger.Info().
			Uint64("order_id", o.ID).
			Str("direction", o.Direction.String()).
			Str("fill", o.EntryPrice.String()).
			Msg("order filled")
	}
	m.pending = remaining
}

// evaluatePositions closes positions whose stop-loss or take-profit was
// crossed by this tick. When both would be crossed in the same tick the
// stop-loss wins as the conservative assumption.
func (m *OrderManager) evaluatePositions(tick model.PriceTick) []*model.Order {
	var closed []*model.Order
	remaining := m.open[:0]
	for _, o := range m.open {
		exit, reason, hit := exitTrigger(o, tick.Price)
		if !hit {
			remaining = append(remaining, o)
			continue
		}
		if !m.closePosition(o, exit, reason, tick.Timestamp) {
			remaining = append(remaining, o)
			continue
		}
		closed = append(closed, o)
	}
	m.open = remaining
	return closed
}

// exitTrigger reports whether the tick price crossed one of the position's
// brackets, returning the exit price and close reason. Stop-loss takes
// priority over take-profit.
func exitTrigger(o *model.Order, price decimal.Decimal) (decimal.Decimal, model.CloseReason, bool) {
	if o.Direction == model.Long {
		if o.StopLoss != nil && price.LessThanOrEqual(*o.StopLoss) {
			return *o.StopLoss, model.CloseReasonStopLoss, true
		}
		if o.TakeProfit != nil && price.GreaterThanOrEqual(*o.TakeProfit) {
			return *o.TakeProfit, model.CloseReasonTakeProfit, true
		}
		return decimal.Decimal{}, "", false
	}
	if o.StopLoss != nil && price.GreaterThanOrEqual(*o.StopLoss) {
		return *o.StopLoss, model.CloseReasonStopLoss, true
	}
	if o.TakeProfit != nil && price.LessThanOrEqual(*o.TakeProfit) {
		return *o.TakeProfit, model.CloseReasonTakeProfit, true
	}
	return decimal.Decimal{}, "", false
}

// closePosition closes a filled order and applies the result to the ledger.
// Returns false when the close violated an order invariant; the position is
// then kept as-is rather than corrupting the ledger.
func (m *OrderManager) closePosition(o *model.Order, exit decimal.Decimal, reason model.CloseReason, at time.Time) bool {
	if err := o.Close(exit, reason, m.fees(o, exit, reason), at); err != nil {
		m.logger.Warn().Err(err).Uint64("order_id", o.ID).Msg("close rejected")
		return false
	}
	if err := m.ledger.ApplyClose(o); err != nil {
		m.logger.Warn().Err(err).Uint64("order_id", o.ID).Msg("ledger rejected close")
		return false
	}
	metrics.TradesClosed.WithLabelValues(m.accountID, string(reason)).Inc()
	m.logger.Info().
		Uint64("order_id", o.ID).
		Str("direction", o.Direction.String()).
		Str("exit", exit.String()).
		Str("pnl", o.RealizedPnl.StringFixed(2)).
		Str("close_reason", string(reason)).
		Str("balance", m.ledger.Balance().StringFixed(2)).
		Msg("position closed")
	return true
}

// fees computes the total exchange fees folded into realized P&L at close:
// a maker fee on the entry notional plus an exit fee on the notional scaled
// by the price move. Take-profit closes pay the maker rate, everything else
// the taker rate.
func (m *OrderManager) fees(o *model.Order, exit decimal.Decimal, reason model.CloseReason) decimal.Decimal {
	entryFee := o.Notional.Mul(m.cfg.MakerFeePct).Div(hundred)
	exitRate := m.cfg.TakerFeePct
	if reason == model.CloseReasonTakeProfit {
		exitRate = m.cfg.MakerFeePct
	}
	exitFee := o.Notional.Mul(exit.Div(o.EntryPrice)).Mul(exitRate).Div(hundred)
	return entryFee.Add(exitFee)
}

// reenter creates the deterministic follow-up order after a stop-loss close:
// same direction, same leverage and risk parameters, parent back-reference
// set for auditability. Take-profit and manual closes never re-enter.
func (m *OrderManager) reenter(parent *model.Order, tick model.PriceTick) {
	sig := model.Signal{
		Timestamp: tick.Timestamp,
		Direction: parent.Direction,
		Cause:     model.AutoReentryCause{ParentID: parent.ID},
	}
	order := m.createOrder(sig, tick.Price)
	if order == nil {
		return
	}
	m.logger.Info().
		Uint64("order_id", order.ID).
		Uint64("parent_id", parent.ID).
		Str("direction", order.Direction.String()).
		Msg("auto re-entry after stop-loss")
}

// CloseAll closes every open position at the given price with a manual close
// reason and cancels all pending orders. Used for shutdown flattening; it
// never triggers re-entries.
func (m *OrderManager) CloseAll(price decimal.Decimal, at time.Time) []*model.Order {
	for _, o := range m.pending {
		if err := o.Cancel(); err != nil {
			m.logger.Warn().Err(err).Uint64("order_id", o.ID).Msg("cancel rejected")
		}
	}
	m.pending = nil

	var closed []*model.Order
	remaining := m.open[:0]
	for _, o := range m.open {
		if !m.closePosition(o, price, model.CloseReasonManual, at) {
			remaining = append(remaining, o)
			continue
		}
		closed = append(closed, o)
	}
	m.open = remaining
	return closed
}

// PendingCount returns the number of unfilled orders.
func (m *OrderManager) PendingCount() int { return len(m.pending) }

// OpenCount returns the number of filled, not yet closed positions.
func (m *OrderManager) OpenCount() int { return len(m.open) }
