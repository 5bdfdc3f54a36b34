package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus tracks an order through its lifecycle.
//
// Valid transitions: Pending -> Filled -> Closed, or Pending -> Cancelled.
// Cancelled and Closed are terminal; no transition leaves either state.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusClosed    OrderStatus = "closed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusClosed || s == OrderStatusCancelled
}

// CloseReason identifies what ended a filled position.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "sl"
	CloseReasonTakeProfit CloseReason = "tp"
	CloseReasonManual     CloseReason = "manual"
)

// ErrOrderInvariant indicates an attempted illegal order transition, such as
// a double fill or a close on an order that never filled. The engine logs and
// discards these rather than corrupting the ledger.
var ErrOrderInvariant = errors.New("order invariant violation")

// Order is a simulated trade intent and its full lifecycle record.
//
// Orders are created by an order manager, mutated only by it, and retained
// indefinitely after closing as the audit trail for reporting.
type Order struct {
	ID        uint64      `json:"id"`
	Direction Direction   `json:"direction"`
	Status    OrderStatus `json:"status"`

	EntryPrice decimal.Decimal  `json:"entry_price"`           // Target fill price
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`   // Loss-side exit trigger
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"` // Profit-side exit trigger

	Leverage int             `json:"leverage"`
	Notional decimal.Decimal `json:"notional"` // Margin slice, fixed at creation time

	Cause         SignalCause `json:"-"`
	Reason        string      `json:"reason"`
	ParentOrderID *uint64     `json:"parent_order_id,omitempty"` // Back-reference, never ownership

	CreatedAt time.Time  `json:"created_at"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	ExitPrice   *decimal.Decimal `json:"exit_price,omitempty"`
	CloseCause  CloseReason      `json:"close_cause,omitempty"`
	RealizedPnl decimal.Decimal  `json:"realized_pnl"`
}

// NewOrder creates a pending order from a signal.
func NewOrder(id uint64, sig Signal, entryPrice decimal.Decimal, leverage int, notional decimal.Decimal, createdAt time.Time) *Order {
	o := &Order{
		ID:         id,
		Direction:  sig.Direction,
		Status:     OrderStatusPending,
		EntryPrice: entryPrice,
		Leverage:   leverage,
		Notional:   notional,
		Cause:      sig.Cause,
		Reason:     sig.Reason(),
		CreatedAt:  createdAt,
	}
	if c, ok := sig.Cause.(AutoReentryCause); ok {
		parent := c.ParentID
		o.ParentOrderID = &parent
	}
	return o
}

// SetBrackets attaches stop-loss and take-profit triggers, enforcing that
// each sits on the correct side of the entry price for the order direction.
func (o *Order) SetBrackets(stopLoss, takeProfit decimal.Decimal) error {
	if o.Direction == Long {
		if stopLoss.GreaterThanOrEqual(o.EntryPrice) || takeProfit.LessThanOrEqual(o.EntryPrice) {
			return fmt.Errorf("%w: long brackets must satisfy sl < entry < tp", ErrOrderInvariant)
		}
	} else {
		if stopLoss.LessThanOrEqual(o.EntryPrice) || takeProfit.GreaterThanOrEqual(o.EntryPrice) {
			return fmt.Errorf("%w: short brackets must satisfy tp < entry < sl", ErrOrderInvariant)
		}
	}
	o.StopLoss = &stopLoss
	o.TakeProfit = &takeProfit
	return nil
}

// Fill transitions a pending order to filled at the given time.
func (o *Order) Fill(at time.Time) error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("%w: fill on %s order #%d", ErrOrderInvariant, o.Status, o.ID)
	}
	o.Status = OrderStatusFilled
	filledAt := at
	o.FilledAt = &filledAt
	return nil
}

// Cancel terminates a pending order that never filled.
func (o *Order) Cancel() error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("%w: cancel on %s order #%d", ErrOrderInvariant, o.Status, o.ID)
	}
	o.Status = OrderStatusCancelled
	return nil
}

// Close transitions a filled order to closed, recording the exit price, the
// close reason and the realized P&L:
//
//	realizedPnl = sign(direction) * (exit - entry) / entry * leverage * notional - fees
func (o *Order) Close(exitPrice decimal.Decimal, reason CloseReason, fees decimal.Decimal, at time.Time) error {
	if o.Status != OrderStatusFilled {
		return fmt.Errorf("%w: close on %s order #%d", ErrOrderInvariant, o.Status, o.ID)
	}
	o.Status = OrderStatusClosed
	closedAt := at
	o.ClosedAt = &closedAt
	exit := exitPrice
	o.ExitPrice = &exit
	o.CloseCause = reason

	move := exit.Sub(o.EntryPrice).Div(o.EntryPrice)
	gross := o.Direction.Sign().Mul(move).Mul(decimal.NewFromInt(int64(o.Leverage))).Mul(o.Notional)
	o.RealizedPnl = gross.Sub(fees)
	return nil
}

// TradeClosed is the notification emitted exactly once per closed order.
type TradeClosed struct {
	AccountID string `json:"account_id"`
	Order     *Order `json:"order"`
}
