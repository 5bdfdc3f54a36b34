package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"papertrader/internal/model"
)

// Subscriber represents one consumer of trade-closed notifications, such as
// the dashboard reporter or an alerting hook.
//
// Each subscriber has its own buffered channel so one slow consumer cannot
// delay the others.
type Subscriber struct {
	id       int64                  // Unique identifier for the subscriber
	ch       chan model.TradeClosed // Buffered channel for notification delivery
	accounts map[string]struct{}    // Account filter; empty means all accounts
}

// C returns the subscriber's receive channel. It is closed when the
// subscriber is removed or the dispatcher shuts down.
func (s *Subscriber) C() <-chan model.TradeClosed { return s.ch }

// Dispatcher fans trade-closed notifications out to multiple subscribers.
//
// It uses the actor model pattern: a single goroutine owns the subscribers
// map, eliminating the need for mutexes, and all external interactions go
// through channels.
type Dispatcher struct {
	subscribers      map[int64]*Subscriber // Active subscribers (owned by dispatch goroutine)
	subscriptionCh   chan *Subscriber      // Channel for new subscription requests
	unsubscriptionCh chan *Subscriber      // Channel for unsubscription requests
	started          atomic.Bool           // Atomic flag tracking dispatcher state
	randIDGen        *rand.Rand            // Generator for unique subscriber IDs
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers:      make(map[int64]*Subscriber),
		subscriptionCh:   make(chan *Subscriber, 10), // Buffered to prevent blocking
		unsubscriptionCh: make(chan *Subscriber, 10), // Buffered to prevent blocking
		randIDGen:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Subscribe registers a consumer for trade-closed notifications. With no
// account IDs the subscriber receives notifications for every account;
// otherwise only for the named ones.
func (d *Dispatcher) Subscribe(accountIDs ...string) (*Subscriber, error) {
	if !d.started.Load() {
		return nil, errors.New("dispatcher not started")
	}

	accounts := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		accounts[id] = struct{}{}
	}

	sub := &Subscriber{
		id:       d.randIDGen.Int63(),
		ch:       make(chan model.TradeClosed, 100), // buffer size per consumer
		accounts: accounts,
	}

	select {
	case d.subscriptionCh <- sub:
	default:
		return nil, fmt.Errorf("subscription channel is full")
	}
	return sub, nil
}

// Unsubscribe removes a subscriber from the dispatcher.
func (d *Dispatcher) Unsubscribe(sub *Subscriber) error {
	select {
	case d.unsubscriptionCh <- sub:
		return nil
	default:
		return fmt.Errorf("unsubscription channel is full")
	}
}

// StartDispatching starts the dispatch goroutine consuming the given
// notification stream. It returns an error if already started.
func (d *Dispatcher) StartDispatching(ctx context.Context, closedCh <-chan model.TradeClosed) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer func() {
			for _, sub := range d.subscribers {
				close(sub.ch)
			}
			d.subscribers = make(map[int64]*Subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("trade notification dispatcher stopped")
				return
			case sub := <-d.subscriptionCh:
				d.subscribers[sub.id] = sub
			case sub := <-d.unsubscriptionCh:
				d.remove(sub)
			case ev, ok := <-closedCh:
				if !ok {
					return
				}
				d.dispatch(ev)
			}
		}
	}()
	return nil
}

// remove deletes a subscriber and closes its channel.
func (d *Dispatcher) remove(sub *Subscriber) {
	if _, ok := d.subscribers[sub.id]; ok {
		delete(d.subscribers, sub.id)
		close(sub.ch)
	}
}

// dispatch delivers one notification to every interested subscriber. Only
// called from the dispatch goroutine, so the subscribers map needs no lock.
//
// When a subscriber's buffer is full, the oldest buffered notification is
// dropped so the newest is always delivered.
func (d *Dispatcher) dispatch(ev model.TradeClosed) {
	for _, sub := range d.subscribers {
		if len(sub.accounts) > 0 {
			if _, ok := sub.accounts[ev.AccountID]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			log.Warn().Int64("subscriber", sub.id).Msg("subscriber too slow, dropping oldest notification")
			<-sub.ch
			sub.ch <- ev
		}
	}
}
