package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrader/internal/metrics"
	"papertrader/internal/model"
)

// Ledger owns the balance, audit trail and derived statistics of one
// simulated account.
//
// The ledger is append-only: closed orders are retained for the lifetime of
// the process and no operation ever removes them. Balance changes only by
// applying a closed order's realized P&L.
type Ledger struct {
	id              string
	startingCapital decimal.Decimal
	balance         decimal.Decimal

	closedOrders  []*model.Order
	equityHistory []model.EquityPoint

	peakEquity  decimal.Decimal
	maxDrawdown decimal.Decimal

	wins   int
	losses int
}

// NewLedger creates a ledger with the starting capital as both balance and
// initial equity peak.
func NewLedger(id string, startingCapital decimal.Decimal) *Ledger {
	return &Ledger{
		id:              id,
		startingCapital: startingCapital,
		balance:         startingCapital,
		peakEquity:      startingCapital,
	}
}

// ID returns the account identifier.
func (l *Ledger) ID() string { return l.id }

// Balance returns the current account balance.
func (l *Ledger) Balance() decimal.Decimal { return l.balance }

// ApplyClose applies a closed order's realized P&L to the account: balance,
// audit trail, equity history, peak equity and max drawdown all update in
// one step so a snapshot taken between ticks is always consistent.
func (l *Ledger) ApplyClose(o *model.Order) error {
	if o.Status != model.OrderStatusClosed {
		return fmt.Errorf("%w: apply close on %s order #%d", model.ErrOrderInvariant, o.Status, o.ID)
	}
	for _, existing := range l.closedOrders {
		if existing.ID == o.ID {
			return fmt.Errorf("%w: order #%d already applied", model.ErrOrderInvariant, o.ID)
		}
	}

	l.balance = l.balance.Add(o.RealizedPnl)
	l.closedOrders = append(l.closedOrders, o)
	if o.ClosedAt != nil {
		l.equityHistory = append(l.equityHistory, model.EquityPoint{Timestamp: *o.ClosedAt, Equity: l.balance})
	}

	if o.RealizedPnl.GreaterThan(decimal.Zero) {
		l.wins++
	} else {
		l.losses++
	}

	if l.balance.GreaterThan(l.peakEquity) {
		l.peakEquity = l.balance
	}
	if dd := l.peakEquity.Sub(l.balance); dd.GreaterThan(l.maxDrawdown) {
		l.maxDrawdown = dd
	}

	metrics.AccountBalance.WithLabelValues(l.id).Set(l.balance.InexactFloat64())
	metrics.AccountDrawdown.WithLabelValues(l.id).Set(l.maxDrawdown.InexactFloat64())
	return nil
}

// WinRate returns wins over total closed trades as a fraction in [0, 1].
// It reports zero, not an error, when no trades have closed.
func (l *Ledger) WinRate() decimal.Decimal {
	total := l.wins + l.losses
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(l.wins)).Div(decimal.NewFromInt(int64(total)))
}

// PnlPercent returns the relative gain over starting capital as a fraction.
func (l *Ledger) PnlPercent() decimal.Decimal {
	return l.balance.Sub(l.startingCapital).Div(l.startingCapital)
}

// ClosedOrders returns the append-only audit trail in close order.
func (l *Ledger) ClosedOrders() []*model.Order { return l.closedOrders }

// EquityHistory returns the per-close equity observations.
func (l *Ledger) EquityHistory() []model.EquityPoint { return l.equityHistory }

// MaxDrawdown returns the largest peak-to-trough equity decline so far.
// It is non-decreasing over the run and never negative.
func (l *Ledger) MaxDrawdown() decimal.Decimal { return l.maxDrawdown }

// Snapshot assembles the account view for reporting. Pending and open counts
// come from the order manager, which owns live order state.
func (l *Ledger) Snapshot(pendingOrders, openPositions int) model.AccountSnapshot {
	return model.AccountSnapshot{
		ID:              l.id,
		StartingCapital: l.startingCapital,
		Balance:         l.balance,
		Pnl:             l.balance.Sub(l.startingCapital),
		PnlPercent:      l.PnlPercent(),
		TradeCount:      len(l.closedOrders),
		Wins:            l.wins,
		Losses:          l.losses,
		WinRate:         l.WinRate(),
		PeakEquity:      l.peakEquity,
		MaxDrawdown:     l.maxDrawdown,
		PendingOrders:   pendingOrders,
		OpenPositions:   openPositions,
	}
}
