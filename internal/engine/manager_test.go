package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/config"
	"papertrader/internal/model"
)

// testStrategy returns a deterministic strategy for manager tests: no entry
// offset and no fees, so price arithmetic stays exact.
func testStrategy() config.Strategy {
	cfg := config.Default()
	cfg.EntryOffsetPct = decimal.Zero
	cfg.MakerFeePct = decimal.Zero
	cfg.TakerFeePct = decimal.Zero
	cfg.PricePrecision = 2
	return cfg
}

// newTestManager creates a manager with its own ledger and a sequential ID
// generator.
func newTestManager(cfg config.Strategy) (*OrderManager, *Ledger) {
	ledger := NewLedger("test", cfg.StartingCapital)
	var seq uint64
	nextID := func() uint64 {
		seq++
		return seq
	}
	return NewOrderManager("test", cfg, ledger, nextID), ledger
}

// longSignal builds a long signal at the given time
func longSignal(at time.Time) model.Signal {
	return model.Signal{
		Timestamp: at,
		Direction: model.Long,
		Cause:     model.LiquidationCause{Side: model.Short, Notional: decimal.NewFromInt(5000)},
	}
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// Test_OnSignal_CreatesPendingOrder tests order creation from a signal
func Test_OnSignal_CreatesPendingOrder(t *testing.T) {
	m, _ := newTestManager(testStrategy())

	order := m.OnSignal(longSignal(t0), decimal.NewFromInt(100))
	require.NotNil(t, order)

	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, "100", order.EntryPrice.String(), "Entry sits at the observed price with zero offset")
	assert.Equal(t, "1000", order.Notional.String(), "Notional is the full balance at fraction 1")
	assert.Equal(t, 25, order.Leverage)
	require.NotNil(t, order.StopLoss)
	require.NotNil(t, order.TakeProfit)
	assert.Equal(t, "99", order.StopLoss.String(), "Stop-loss sits 1% below entry")
	assert.Equal(t, "104", order.TakeProfit.String(), "Take-profit sits 4% above entry")
	assert.Equal(t, 1, m.PendingCount())
}

// Test_OnSignal_EntryOffset tests limit entry placement away from the price
func Test_OnSignal_EntryOffset(t *testing.T) {
	cfg := testStrategy()
	cfg.EntryOffsetPct = decimal.NewFromInt(1) // 1% for visible arithmetic

	t.Run("Long entry below price", func(t *testing.T) {
		m, _ := newTestManager(cfg)
		order := m.OnSignal(longSignal(t0), decimal.NewFromInt(100))
		require.NotNil(t, order)
		assert.Equal(t, "99", order.EntryPrice.String())
	})

	t.Run("Short entry above price", func(t *testing.T) {
		m, _ := newTestManager(cfg)
		sig := longSignal(t0)
		sig.Direction = model.Short
		order := m.OnSignal(sig, decimal.NewFromInt(100))
		require.NotNil(t, order)
		assert.Equal(t, "101", order.EntryPrice.String())
	})
}

// Test_OnSignal_Debounce tests duplicate-signal suppression
func Test_OnSignal_Debounce(t *testing.T) {
	m, _ := newTestManager(testStrategy())
	price := decimal.NewFromInt(100)

	require.NotNil(t, m.OnSignal(longSignal(t0), price))

	t.Run("Same direction within window is suppressed", func(t *testing.T) {
		assert.Nil(t, m.OnSignal(longSignal(t0.Add(time.Second)), price))
		assert.Equal(t, 1, m.PendingCount())
	})

	t.Run("Opposite direction is independent", func(t *testing.T) {
		sig := longSignal(t0.Add(2 * time.Second))
		sig.Direction = model.Short
		assert.NotNil(t, m.OnSignal(sig, price))
		assert.Equal(t, 2, m.PendingCount())
	})

	t.Run("Suppressed signal does not extend the window", func(t *testing.T) {
		// First accepted long was at t0; 5m window reopens at t0+5m even
		// though a long was suppressed at t0+1s.
		m2, _ := newTestManager(testStrategy())
		require.NotNil(t, m2.OnSignal(longSignal(t0), price))
		assert.Nil(t, m2.OnSignal(longSignal(t0.Add(time.Second)), price))

		// Fill the first order so the pending-duplicate guard does not apply.
		m2.OnTick(model.PriceTick{Timestamp: t0.Add(time.Minute), Price: price})
		require.Equal(t, 0, m2.PendingCount())

		assert.NotNil(t, m2.OnSignal(longSignal(t0.Add(5*time.Minute)), price))
	})
}

// Test_OnSignal_PendingDuplicateGuard tests the one-pending-per-direction rule
func Test_OnSignal_PendingDuplicateGuard(t *testing.T) {
	cfg := testStrategy()
	cfg.DebounceWindow = 0 // isolate the duplicate guard from debouncing
	m, _ := newTestManager(cfg)
	price := decimal.NewFromInt(100)

	require.NotNil(t, m.OnSignal(longSignal(t0), price))
	assert.Nil(t, m.OnSignal(longSignal(t0.Add(10*time.Minute)), price),
		"A second long must not stack while the first is still pending")
	assert.Equal(t, 1, m.PendingCount())
}

// Test_OnTick_FillsOnCross tests entry trigger evaluation
func Test_OnTick_FillsOnCross(t *testing.T) {
	tests := []struct {
		name        string
		dir         model.Direction
		tickPrice   string
		expectFill  bool
		description string
	}{
		{
			name:        "Long fills when price drops to entry",
			dir:         model.Long,
			tickPrice:   "100",
			expectFill:  true,
			description: "Long entry triggers at price <= entry",
		},
		{
			name:        "Long fills below entry",
			dir:         model.Long,
			tickPrice:   "99.5",
			expectFill:  true,
			description: "Gap through the entry still fills at entry price",
		},
		{
			name:        "Long stays pending above entry",
			dir:         model.Long,
			tickPrice:   "100.5",
			expectFill:  false,
			description: "Price above a long entry does not fill",
		},
		{
			name:        "Short fills when price rises to entry",
			dir:         model.Short,
			tickPrice:   "100",
			expectFill:  true,
			description: "Short entry triggers at price >= entry",
		},
		{
			name:        "Short stays pending below entry",
			dir:         model.Short,
			tickPrice:   "99.5",
			expectFill:  false,
			description: "Price below a short entry does not fill",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(testStrategy())
			sig := longSignal(t0)
			sig.Direction = tt.dir
			order := m.OnSignal(sig, decimal.NewFromInt(100))
			require.NotNil(t, order)

			closed := m.OnTick(model.PriceTick{Timestamp: t0.Add(time.Second), Price: decimal.RequireFromString(tt.tickPrice)})
			assert.Empty(t, closed, "Filling never closes anything on the same tick")

			if tt.expectFill {
				assert.Equal(t, model.OrderStatusFilled, order.Status, tt.description)
				assert.Equal(t, "100", order.EntryPrice.String(), "Fill price is the entry price, not the tick price")
				assert.Equal(t, 1, m.OpenCount())
				assert.Equal(t, 0, m.PendingCount())
			} else {
				assert.Equal(t, model.OrderStatusPending, order.Status, tt.description)
				assert.Equal(t, 1, m.PendingCount())
			}
		})
	}
}

// Test_OnTick_ExpiresStalePending tests the pending order expiry window
func Test_OnTick_ExpiresStalePending(t *testing.T) {
	m, _ := newTestManager(testStrategy())
	order := m.OnSignal(longSignal(t0), decimal.NewFromInt(100))
	require.NotNil(t, order)

	// Price stays above the long entry, so the order never fills.
	m.OnTick(model.PriceTick{Timestamp: t0.Add(29 * time.Minute), Price: decimal.NewFromInt(150)})
	assert.Equal(t, model.OrderStatusPending, order.Status, "Still inside the expiry window")

	m.OnTick(model.PriceTick{Timestamp: t0.Add(31 * time.Minute), Price: decimal.NewFromInt(150)})
	assert.Equal(t, model.OrderStatusCancelled, order.Status, "Expired orders are cancelled, not filled")
	assert.Equal(t, 0, m.PendingCount())
	assert.Equal(t, 0, m.OpenCount())
}

// Test_OnTick_StopLossClose tests the stop-loss exit path and its re-entry
func Test_OnTick_StopLossClose(t *testing.T) {
	m, ledger := newTestManager(testStrategy())
	order := m.OnSignal(longSignal(t0), decimal.NewFromInt(100))
	require.NotNil(t, order)

	m.OnTick(model.PriceTick{Timestamp: t0.Add(time.Second), Price: decimal.NewFromInt(100)})
	require.Equal(t, 1, m.OpenCount())

	closed := m.OnTick(model.PriceTick{Timestamp: t0.Add(2 * time.Second), Price: decimal.NewFromInt(99)})
	require.Len(t, closed, 1)

	assert.Equal(t, model.OrderStatusClosed, order.Status)
	assert.Equal(t, model.CloseReasonStopLoss, order.CloseCause)
	assert.Equal(t, "99", order.ExitPrice.String(), "Exit at the stop price, not the tick price")
	assert.Equal(t, "-250.00", order.RealizedPnl.StringFixed(2), "1% adverse at 25x on $1000")
	assert.Equal(t, "750", ledger.Balance().String(), "Loss applied to the ledger")

	t.Run("Re-entry follows the stop-loss", func(t *testing.T) {
		assert.Equal(t, 1, m.PendingCount(), "Stop-loss spawns exactly one re-entry")
	})
}

// Test_Reentry tests the shape and sizing of the stop-loss re-entry order
func Test_Reentry(t *testing.T) {
	m, ledger := newTestManager(testStrategy())
	parent := m.OnSignal(longSignal(t0), decimal.NewFromInt(100))
	require.NotNil(t, parent)

	m.OnTick(model.PriceTick{Timestamp: t0.Add(time.Second), Price: decimal.NewFromInt(100)})
	closed := m.OnTick(model.PriceTick{Timestamp: t0.Add(2 * time.Second), Price: decimal.NewFromInt(98)})
	require.Len(t, closed, 1)
	require.Equal(t, "750", ledger.Balance().String())

	require.Equal(t, 1, m.PendingCount())

	// Recover the re-entry by filling it on the next tick.
	reentryClosed := m.OnTick(model.PriceTick{Timestamp: t0.Add(3 * time.Second), Price: decimal.NewFromInt(98)})
	assert.Empty(t, reentryClosed)
	require.Equal(t, 1, m.OpenCount())

	// The re-entry inherits direction, references its parent and is sized
	// off the post-close balance.
	closed = m.OnTick(model.PriceTick{Timestamp: t0.Add(time.Hour), Price: decimal.NewFromInt(90)})
	require.Len(t, closed, 1)
	reentry := closed[0]

	assert.Equal(t, parent.Direction, reentry.Direction)
	require.NotNil(t, reentry.ParentOrderID)
	assert.Equal(t, parent.ID, *reentry.ParentOrderID)
	assert.Equal(t, "750", reentry.Notional.String(), "Re-entry notional reflects the post-loss balance")
	assert.Equal(t, "98", reentry.EntryPrice.String(), "Re-entry priced off the stop-loss tick")
	assert.Equal(t, "Auto after #1 SL", reentry.Reason)
}

// Test_OnTick_TakeProfitClose tests the take-profit exit path
func Test_OnTick_TakeProfitClose(t *testing.T) {
	m, ledger := newTestManager(testStrategy())
	order := m.OnSignal(longSignal(t0), decimal.NewFromInt(100))
	require.NotNil(t, order)

	m.OnTick(model.PriceTick{Timestamp: t0.Add(time.Second), Price: decimal.NewFromInt(100)})
	closed := m.OnTick(model.PriceTick{Timestamp: t0.Add(2 * time.Second), Price: decimal.NewFromInt(105)})
	require.Len(t, closed, 1)

	assert.Equal(t, model.CloseReasonTakeProfit, order.CloseCause)
	assert.Equal(t, "104", order.ExitPrice.String(), "Exit at the take-profit price, not the tick price")
	assert.Equal(t, "1000.00", order.RealizedPnl.StringFixed(2), "4% favorable at 25x on $1000")
	assert.Equal(t, "2000", ledger.Balance().String())
	assert.Equal(t, 0, m.PendingCount(), "Take-profit closes never re-enter")
}

// Test_StopLossPriority tests that the stop-loss is evaluated before the
// take-profit for every open position
func Test_StopLossPriority(t *testing.T) {
	m, _ := newTestManager(testStrategy())
	order := m.OnSignal(longSignal(t0), decimal.NewFromInt(100))
	require.NotNil(t, order)
	m.OnTick(model.PriceTick{Timestamp: t0.Add(time.Second), Price: decimal.NewFromInt(100)})

	// Collapse the brackets so a single price crosses both. The stop-loss
	// must win as the conservative assumption.
	tp := decimal.NewFromInt(101)
	order.TakeProfit = &tp
	sl := decimal.NewFromInt(102)
	order.StopLoss = &sl

	closed := m.OnTick(model.PriceTick{Timestamp: t0.Add(2 * time.Second), Price: decimal.NewFromInt(95)})
	require.Len(t, closed, 1)
	assert.Equal(t, model.CloseReasonStopLoss, closed[0].CloseCause)
}

// Test_Fees tests the fee model folded into realized P&L
func Test_Fees(t *testing.T) {
	cfg := testStrategy()
	cfg.MakerFeePct = decimal.NewFromFloat(0.02)
	cfg.TakerFeePct = decimal.NewFromFloat(0.05)
	m, _ := newTestManager(cfg)

	order := m.OnSignal(longSignal(t0), decimal.NewFromInt(100))
	require.NotNil(t, order)
	m.OnTick(model.PriceTick{Timestamp: t0.Add(time.Second), Price: decimal.NewFromInt(100)})

	closed := m.OnTick(model.PriceTick{Timestamp: t0.Add(2 * time.Second), Price: decimal.NewFromInt(104)})
	require.Len(t, closed, 1)

	// Entry fee: 1000 * 0.02% = 0.20. Exit at the maker rate on the exit
	// notional: 1000 * 1.04 * 0.02% = 0.208. Gross +1000.
	assert.Equal(t, "999.59", order.RealizedPnl.StringFixed(2))
}

// Test_CloseAll tests shutdown flattening
func Test_CloseAll(t *testing.T) {
	m, ledger := newTestManager(testStrategy())
	price := decimal.NewFromInt(100)

	filled := m.OnSignal(longSignal(t0), price)
	require.NotNil(t, filled)
	m.OnTick(model.PriceTick{Timestamp: t0.Add(time.Second), Price: price})
	require.Equal(t, 1, m.OpenCount())

	sig := longSignal(t0.Add(2 * time.Second))
	sig.Direction = model.Short
	pending := m.OnSignal(sig, decimal.NewFromInt(110))
	require.NotNil(t, pending)
	require.Equal(t, 1, m.PendingCount())

	closed := m.CloseAll(decimal.NewFromInt(102), t0.Add(time.Minute))
	require.Len(t, closed, 1)

	assert.Equal(t, model.OrderStatusCancelled, pending.Status, "Pending orders are cancelled, not filled")
	assert.Equal(t, model.OrderStatusClosed, filled.Status)
	assert.Equal(t, model.CloseReasonManual, filled.CloseCause)
	assert.Equal(t, "500.00", filled.RealizedPnl.StringFixed(2), "2% favorable at 25x on $1000")
	assert.Equal(t, "1500", ledger.Balance().String())
	assert.Equal(t, 0, m.PendingCount(), "Manual closes never re-enter")
	assert.Equal(t, 0, m.OpenCount())
}
