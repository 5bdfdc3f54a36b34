package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/config"
	"papertrader/internal/model"
)

// orchestratorStrategy returns a fee-free, offset-free strategy so balances
// in orchestrator tests stay exact.
func orchestratorStrategy() config.Strategy {
	cfg := config.Default()
	cfg.EntryOffsetPct = decimal.Zero
	cfg.MakerFeePct = decimal.Zero
	cfg.TakerFeePct = decimal.Zero
	return cfg
}

// startOrchestrator builds and runs an orchestrator for the test's lifetime
func startOrchestrator(t *testing.T, cfg config.Strategy) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, o.Run(ctx))
	return o
}

// feed pushes events through the engine and waits for them to be applied
func feedEvents(t *testing.T, o *Orchestrator, events ...model.MarketEvent) {
	t.Helper()
	for _, ev := range events {
		o.Events() <- ev
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Drain(ctx))
}

// snapshot fetches a consistent engine snapshot with a test timeout
func snapshot(t *testing.T, o *Orchestrator) model.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := o.Snapshot(ctx)
	require.NoError(t, err)
	return snap
}

// Weekday timestamps inside and outside the default 02:00-05:00 window.
var (
	inWindow  = time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)  // Wednesday 03:00 UTC
	offWindow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) // Wednesday 10:00 UTC
)

// Test_Orchestrator_Run tests startup guards
func Test_Orchestrator_Run(t *testing.T) {
	o, err := NewOrchestrator(orchestratorStrategy())
	require.NoError(t, err)

	t.Run("Snapshot before start fails", func(t *testing.T) {
		_, err := o.Snapshot(context.Background())
		assert.Error(t, err)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Run(ctx))

	t.Run("Second start fails", func(t *testing.T) {
		assert.Error(t, o.Run(ctx))
	})
}

// Test_Orchestrator_ScheduleGating tests that only the 24/7 account takes
// signals outside trading windows
func Test_Orchestrator_ScheduleGating(t *testing.T) {
	liquidation := func(at time.Time) model.LiquidationEvent {
		return model.LiquidationEvent{Timestamp: at, Side: model.Short, NotionalSize: decimal.NewFromInt(5000)}
	}

	t.Run("Outside window only 24/7 account orders", func(t *testing.T) {
		o := startOrchestrator(t, orchestratorStrategy())
		feedEvents(t, o,
			model.PriceTick{Timestamp: offWindow, Price: decimal.NewFromInt(100)},
			liquidation(offWindow.Add(time.Second)),
		)

		snap := snapshot(t, o)
		assert.Equal(t, 1, snap.AccountFullTime.PendingOrders)
		assert.Equal(t, 0, snap.AccountScheduled.PendingOrders, "Scheduled account must ignore off-window signals")
	})

	t.Run("Inside window both accounts order", func(t *testing.T) {
		o := startOrchestrator(t, orchestratorStrategy())
		feedEvents(t, o,
			model.PriceTick{Timestamp: inWindow, Price: decimal.NewFromInt(100)},
			liquidation(inWindow.Add(time.Second)),
		)

		snap := snapshot(t, o)
		assert.Equal(t, 1, snap.AccountFullTime.PendingOrders)
		assert.Equal(t, 1, snap.AccountScheduled.PendingOrders)
	})

	t.Run("Ticks always reach the scheduled account", func(t *testing.T) {
		o := startOrchestrator(t, orchestratorStrategy())

		// Order created and filled inside the window.
		feedEvents(t, o,
			model.PriceTick{Timestamp: inWindow, Price: decimal.NewFromInt(100)},
			liquidation(inWindow.Add(time.Second)),
			model.PriceTick{Timestamp: inWindow.Add(2 * time.Second), Price: decimal.NewFromInt(100)},
		)
		snap := snapshot(t, o)
		require.Equal(t, 1, snap.AccountScheduled.OpenPositions)

		// Take-profit crossed hours later, far outside the window.
		feedEvents(t, o, model.PriceTick{Timestamp: inWindow.Add(8 * time.Hour), Price: decimal.NewFromInt(105)})

		snap = snapshot(t, o)
		assert.Equal(t, 0, snap.AccountScheduled.OpenPositions, "Scheduled positions must exit outside windows")
		assert.Equal(t, 1, snap.AccountScheduled.TradeCount)
		assert.Equal(t, "2000", snap.AccountScheduled.Balance.String())
	})
}

// Test_Orchestrator_SignalBeforeTick tests that signals cannot price entries
// before the first tick
func Test_Orchestrator_SignalBeforeTick(t *testing.T) {
	o := startOrchestrator(t, orchestratorStrategy())
	feedEvents(t, o, model.LiquidationEvent{
		Timestamp:    offWindow,
		Side:         model.Short,
		NotionalSize: decimal.NewFromInt(5000),
	})

	snap := snapshot(t, o)
	assert.Equal(t, 0, snap.AccountFullTime.PendingOrders, "No entry price exists before the first tick")
}

// Test_Orchestrator_EventValidation tests malformed event handling
func Test_Orchestrator_EventValidation(t *testing.T) {
	o := startOrchestrator(t, orchestratorStrategy())
	feedEvents(t, o, model.PriceTick{Timestamp: offWindow, Price: decimal.NewFromInt(100)})

	t.Run("Non-monotonic timestamp discarded", func(t *testing.T) {
		feedEvents(t, o, model.PriceTick{Timestamp: offWindow.Add(-time.Minute), Price: decimal.NewFromInt(50)})

		snap := snapshot(t, o)
		assert.Equal(t, "100", snap.Price.String(), "Stale tick must not regress the price")
		assert.Equal(t, offWindow, snap.Timestamp)
	})

	t.Run("Non-positive price discarded", func(t *testing.T) {
		feedEvents(t, o, model.PriceTick{Timestamp: offWindow.Add(time.Minute), Price: decimal.Zero})

		snap := snapshot(t, o)
		assert.Equal(t, "100", snap.Price.String())
	})
}

// Test_Orchestrator_AccountIsolation tests that the two accounts share no
// balance state
func Test_Orchestrator_AccountIsolation(t *testing.T) {
	o := startOrchestrator(t, orchestratorStrategy())

	// Off-window signal: only the 24/7 account opens, fills and stops out.
	feedEvents(t, o,
		model.PriceTick{Timestamp: offWindow, Price: decimal.NewFromInt(100)},
		model.LiquidationEvent{Timestamp: offWindow.Add(time.Second), Side: model.Short, NotionalSize: decimal.NewFromInt(5000)},
		model.PriceTick{Timestamp: offWindow.Add(2 * time.Second), Price: decimal.NewFromInt(100)},
		model.PriceTick{Timestamp: offWindow.Add(3 * time.Second), Price: decimal.NewFromInt(99)},
	)

	snap := snapshot(t, o)
	assert.Equal(t, "750", snap.AccountFullTime.Balance.String(), "24/7 account took the stop-loss")
	assert.Equal(t, "1000", snap.AccountScheduled.Balance.String(), "Scheduled account is untouched")
	assert.Equal(t, 0, snap.AccountScheduled.TradeCount)
}

// Test_Orchestrator_Leader tests leader selection in the snapshot
func Test_Orchestrator_Leader(t *testing.T) {
	o := startOrchestrator(t, orchestratorStrategy())

	t.Run("Exact tie leaves leader empty", func(t *testing.T) {
		snap := snapshot(t, o)
		assert.Empty(t, snap.Leader)
	})

	t.Run("Higher balance leads", func(t *testing.T) {
		// Same off-window stop-loss as the isolation test: only the 24/7
		// account loses money, so the scheduled account leads.
		feedEvents(t, o,
			model.PriceTick{Timestamp: offWindow, Price: decimal.NewFromInt(100)},
			model.LiquidationEvent{Timestamp: offWindow.Add(time.Second), Side: model.Short, NotionalSize: decimal.NewFromInt(5000)},
			model.PriceTick{Timestamp: offWindow.Add(2 * time.Second), Price: decimal.NewFromInt(100)},
			model.PriceTick{Timestamp: offWindow.Add(3 * time.Second), Price: decimal.NewFromInt(99)},
		)

		snap := snapshot(t, o)
		assert.Equal(t, AccountScheduled, snap.Leader)
	})
}

// Test_Orchestrator_Flatten tests shutdown flattening through the actor
func Test_Orchestrator_Flatten(t *testing.T) {
	o := startOrchestrator(t, orchestratorStrategy())

	feedEvents(t, o,
		model.PriceTick{Timestamp: offWindow, Price: decimal.NewFromInt(100)},
		model.LiquidationEvent{Timestamp: offWindow.Add(time.Second), Side: model.Short, NotionalSize: decimal.NewFromInt(5000)},
		model.PriceTick{Timestamp: offWindow.Add(2 * time.Second), Price: decimal.NewFromInt(100)},
	)
	require.Equal(t, 1, snapshot(t, o).AccountFullTime.OpenPositions)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Flatten(ctx))

	snap := snapshot(t, o)
	assert.Equal(t, 0, snap.AccountFullTime.OpenPositions)
	assert.Equal(t, 0, snap.AccountFullTime.PendingOrders)
	assert.Equal(t, 1, snap.AccountFullTime.TradeCount)
	assert.Equal(t, "1000", snap.AccountFullTime.Balance.String(), "Flat close at the entry price is P&L neutral without fees")
}

// Test_Orchestrator_ClosedTrades tests the notification stream
func Test_Orchestrator_ClosedTrades(t *testing.T) {
	o := startOrchestrator(t, orchestratorStrategy())

	feedEvents(t, o,
		model.PriceTick{Timestamp: offWindow, Price: decimal.NewFromInt(100)},
		model.LiquidationEvent{Timestamp: offWindow.Add(time.Second), Side: model.Short, NotionalSize: decimal.NewFromInt(5000)},
		model.PriceTick{Timestamp: offWindow.Add(2 * time.Second), Price: decimal.NewFromInt(100)},
		model.PriceTick{Timestamp: offWindow.Add(3 * time.Second), Price: decimal.NewFromInt(105)},
	)

	select {
	case ev := <-o.ClosedTrades():
		assert.Equal(t, AccountFullTime, ev.AccountID)
		assert.Equal(t, model.CloseReasonTakeProfit, ev.Order.CloseCause)
		assert.Equal(t, "1000.00", ev.Order.RealizedPnl.StringFixed(2))
	case <-time.After(5 * time.Second):
		t.Fatal("expected a trade-closed notification")
	}
}
