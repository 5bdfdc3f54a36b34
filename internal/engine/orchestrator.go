package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"papertrader/internal/config"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/schedule"
	"papertrader/internal/signal"
)

// Account identifiers used across snapshots, metrics and reports.
const (
	AccountFullTime  = "24_7"
	AccountScheduled = "scheduled"
)

// pipeline pairs one order manager with its owning ledger. The two pipelines
// share no mutable state; one account's failure never touches the other.
type pipeline struct {
	manager *OrderManager
	ledger  *Ledger
}

// snapshotRequest is the read path into the actor goroutine: snapshots are
// assembled between events, so every reader observes a fully-applied tick.
type snapshotRequest struct {
	resp chan model.Snapshot
}

// flattenRequest asks the actor to close all open positions at the last
// observed price (shutdown flattening).
type flattenRequest struct {
	resp chan struct{}
}

// barrierEvent rides the events channel so its acknowledgement proves every
// event queued before it has been fully applied.
type barrierEvent struct {
	resp chan struct{}
}

func (barrierEvent) EventTime() time.Time { return time.Time{} }

// Orchestrator fans one market event stream into two independent account
// pipelines: the 24/7 account receives every signal, the scheduled account
// only those inside its trading windows. Price ticks always reach both so
// positions opened inside a window can still exit outside it.
//
// The orchestrator follows the actor model: a single goroutine started by
// Run owns all engine state, and external interactions (events, snapshots,
// flattening) go through channels.
type Orchestrator struct {
	cfg        config.Strategy
	gate       *schedule.Gate
	classifier *signal.Classifier

	fullTime  pipeline
	scheduled pipeline

	events    chan model.MarketEvent
	snapshots chan snapshotRequest
	flattens  chan flattenRequest
	closed    chan model.TradeClosed

	// orderSeq issues process-wide unique, monotonically increasing order
	// IDs. Only the actor goroutine advances it.
	orderSeq uint64

	lastEventTime time.Time
	lastPrice     decimal.Decimal

	started atomic.Bool
}

// NewOrchestrator wires both account pipelines from the strategy
// configuration. The configuration must already be validated.
func NewOrchestrator(cfg config.Strategy) (*Orchestrator, error) {
	windows, err := cfg.Windows()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		gate:       schedule.NewGate(windows),
		classifier: signal.NewClassifier(cfg.MinNotionalSize),
		events:     make(chan model.MarketEvent, 1000),
		snapshots:  make(chan snapshotRequest),
		flattens:   make(chan flattenRequest),
		closed:     make(chan model.TradeClosed, 100),
	}

	nextID := func() uint64 {
		o.orderSeq++
		return o.orderSeq
	}

	fullLedger := NewLedger(AccountFullTime, cfg.StartingCapital)
	schedLedger := NewLedger(AccountScheduled, cfg.StartingCapital)
	o.fullTime = pipeline{manager: NewOrderManager(AccountFullTime, cfg, fullLedger, nextID), ledger: fullLedger}
	o.scheduled = pipeline{manager: NewOrderManager(AccountScheduled, cfg, schedLedger, nextID), ledger: schedLedger}
	return o, nil
}

// Events returns the inbound stream. Producers send PriceTicks and
// LiquidationEvents; the actor goroutine consumes them one at a time.
func (o *Orchestrator) Events() chan<- model.MarketEvent { return o.events }

// ClosedTrades returns the stream of trade-closed notifications, emitted
// exactly once per closed order. Consumed by the notification dispatcher.
func (o *Orchestrator) ClosedTrades() <-chan model.TradeClosed { return o.closed }

// Run starts the actor goroutine. It returns an error if already started.
//
// The goroutine exits and closes the outbound streams when ctx is
// cancelled. Because every event is fully applied before the next one is
// admitted, cancellation between events always leaves a consistent final
// snapshot.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("orchestrator already started")
	}

	go func() {
		defer close(o.closed)
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("engine stopped")
				return
			case ev := <-o.events:
				o.handleEvent(ev)
			case req := <-o.snapshots:
				req.resp <- o.buildSnapshot()
			case req := <-o.flattens:
				o.flattenAll()
				close(req.resp)
			}
		}
	}()
	return nil
}

// Snapshot returns a consistent combined view of both accounts, assembled by
// the actor goroutine between events.
func (o *Orchestrator) Snapshot(ctx context.Context) (model.Snapshot, error) {
	if !o.started.Load() {
		return model.Snapshot{}, errors.New("orchestrator not started")
	}
	req := snapshotRequest{resp: make(chan model.Snapshot, 1)}
	select {
	case o.snapshots <- req:
	case <-ctx.Done():
		return model.Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.resp:
		return snap, nil
	case <-ctx.Done():
		return model.Snapshot{}, ctx.Err()
	}
}

// Flatten closes all open positions of both accounts at the last observed
// price. Intended for shutdown; no re-entries are spawned.
func (o *Orchestrator) Flatten(ctx context.Context) error {
	if !o.started.Load() {
		return errors.New("orchestrator not started")
	}
	req := flattenRequest{resp: make(chan struct{})}
	select {
	case o.flattens <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain blocks until every event sent to Events before the call has been
// fully applied. Used by replays and shutdown to sequence a final snapshot
// after the last event.
func (o *Orchestrator) Drain(ctx context.Context) error {
	if !o.started.Load() {
		return errors.New("orchestrator not started")
	}
	b := barrierEvent{resp: make(chan struct{})}
	select {
	case o.events <- b:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-b.resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleEvent validates and routes one market event. Per-event errors are
// isolated to the event and account that produced them; the stream keeps
// flowing.
func (o *Orchestrator) handleEvent(ev model.MarketEvent) {
	if b, ok := ev.(barrierEvent); ok {
		close(b.resp)
		return
	}
	if !o.validateEvent(ev) {
		return
	}
	o.lastEventTime = ev.EventTime()

	switch ev := ev.(type) {
	case model.PriceTick:
		o.handleTick(ev)
	case model.LiquidationEvent:
		o.handleLiquidation(ev)
	default:
		metrics.EventsDiscarded.WithLabelValues("unknown_type").Inc()
		log.Warn().Type("event", ev).Msg("discarding market event of unknown type")
	}
}

// validateEvent discards malformed events: non-positive prices, negative
// liquidation sizes, and timestamps running backwards.
func (o *Orchestrator) validateEvent(ev model.MarketEvent) bool {
	if ev.EventTime().Before(o.lastEventTime) {
		metrics.EventsDiscarded.WithLabelValues("non_monotonic").Inc()
		log.Warn().
			Time("event_time", ev.EventTime()).
			Time("last_event_time", o.lastEventTime).
			Msg("discarding event with non-monotonic timestamp")
		return false
	}
	switch ev := ev.(type) {
	case model.PriceTick:
		if !ev.Price.GreaterThan(decimal.Zero) {
			metrics.EventsDiscarded.WithLabelValues("invalid_price").Inc()
			log.Warn().Str("price", ev.Price.String()).Msg("discarding tick with non-positive price")
			return false
		}
	case model.LiquidationEvent:
		if ev.NotionalSize.IsNegative() {
			metrics.EventsDiscarded.WithLabelValues("negative_notional").Inc()
			log.Warn().Str("notional", ev.NotionalSize.String()).Msg("discarding liquidation with negative size")
			return false
		}
	}
	return true
}

// handleTick advances both account pipelines. Ticks are never gated: the
// scheduled account's open positions keep evaluating stop-loss, take-profit
// and expiry outside trading windows.
func (o *Orchestrator) handleTick(tick model.PriceTick) {
	o.lastPrice = tick.Price
	for _, p := range []pipeline{o.fullTime, o.scheduled} {
		o.emitClosed(p.ledger.ID(), p.manager.OnTick(tick))
		metrics.OpenPositions.WithLabelValues(p.ledger.ID()).Set(float64(p.manager.OpenCount()))
	}
}

// handleLiquidation classifies the event and routes the resulting signal:
// unconditionally to the 24/7 account, and to the scheduled account only
// when the schedule gate allows new orders at the event's timestamp.
func (o *Orchestrator) handleLiquidation(ev model.LiquidationEvent) {
	sig, ok := o.classifier.Classify(ev)
	if !ok {
		log.Debug().
			Str("notional", ev.NotionalSize.String()).
			Str("min", o.cfg.MinNotionalSize.String()).
			Msg("liquidation below size threshold, skipped")
		return
	}
	if o.lastPrice.IsZero() {
		log.Warn().Msg("signal before first price tick, skipped")
		return
	}

	o.fullTime.manager.OnSignal(sig, o.lastPrice)
	if o.gate.Eligible(ev.Timestamp) {
		o.scheduled.manager.OnSignal(sig, o.lastPrice)
	}
}

// flattenAll manually closes both accounts' open positions at the last
// observed price. A no-op before the first tick.
func (o *Orchestrator) flattenAll() {
	if o.lastPrice.IsZero() {
		return
	}
	at := o.lastEventTime
	o.emitClosed(AccountFullTime, o.fullTime.manager.CloseAll(o.lastPrice, at))
	o.emitClosed(AccountScheduled, o.scheduled.manager.CloseAll(o.lastPrice, at))
}

// emitClosed publishes trade-closed notifications without ever blocking the
// actor goroutine: when the consumer lags, the oldest notification is
// dropped in favor of the newest.
func (o *Orchestrator) emitClosed(accountID string, orders []*model.Order) {
	for _, ord := range orders {
		ev := model.TradeClosed{AccountID: accountID, Order: ord}
		select {
		case o.closed <- ev:
		default:
			<-o.closed
			o.closed <- ev
			log.Warn().Uint64("order_id", ord.ID).Msg("trade-closed consumer too slow, dropped oldest notification")
		}
	}
}

// buildSnapshot assembles the combined account view. The leader is the
// account with the strictly higher balance; on an exact tie the leader is
// left empty so the comparison stays deterministic.
func (o *Orchestrator) buildSnapshot() model.Snapshot {
	snap := model.Snapshot{
		Timestamp:        o.lastEventTime,
		Price:            o.lastPrice,
		AccountFullTime:  o.fullTime.ledger.Snapshot(o.fullTime.manager.PendingCount(), o.fullTime.manager.OpenCount()),
		AccountScheduled: o.scheduled.ledger.Snapshot(o.scheduled.manager.PendingCount(), o.scheduled.manager.OpenCount()),
	}
	switch {
	case o.fullTime.ledger.Balance().GreaterThan(o.scheduled.ledger.Balance()):
		snap.Leader = AccountFullTime
	case o.scheduled.ledger.Balance().GreaterThan(o.fullTime.ledger.Balance()):
		snap.Leader = AccountScheduled
	}
	return snap
}
