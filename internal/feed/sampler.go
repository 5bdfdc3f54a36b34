package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"papertrader/internal/model"
)

// Connector is implemented by exchange feeds that stream normalized market
// events: raw trades and liquidation events.
type Connector interface {
	// Subscribe opens the feed and returns the event stream.
	Subscribe(ctx context.Context) (<-chan model.MarketEvent, error)
}

// Sampler condenses raw trade streams into regular-cadence price ticks.
//
// The engine consumes ticks, not individual trades: the sampler publishes
// one PriceTick per interval carrying the most recent traded price, and
// passes liquidation events through unchanged. Multiple connectors for the
// same instrument are merged with a fan-in.
type Sampler struct {
	connectors []Connector
	interval   time.Duration

	// lastPrice and lastTradeTime track the most recent trade within the
	// current interval. Owned by the processing goroutine.
	lastPrice     decimal.Decimal
	lastTradeTime time.Time
	fresh         bool // whether a trade arrived since the last published tick
}

// NewSampler creates a sampler publishing one price tick per interval.
func NewSampler(connectors []Connector, interval time.Duration) *Sampler {
	return &Sampler{
		connectors: connectors,
		interval:   interval,
	}
}

// Start subscribes to all connectors and returns the condensed event stream
// of price ticks and liquidation events.
//
// Any connector subscription failure fails the whole startup and cancels the
// other subscriptions.
func (s *Sampler) Start(ctx context.Context) (<-chan model.MarketEvent, error) {
	ctx, cancel := context.WithCancel(ctx)

	channels := make([]<-chan model.MarketEvent, 0, len(s.connectors))
	for _, c := range s.connectors {
		ch, err := c.Subscribe(ctx)
		if err != nil {
			cancel() // cancel any other subscriptions
			return nil, fmt.Errorf("failed to subscribe to feed: %w", err)
		}
		channels = append(channels, ch)
	}

	return s.process(ctx, s.fanIn(ctx, channels)), nil
}

// process runs the sampling loop: trades update the latest price, the
// interval timer publishes a tick, and liquidations pass through.
func (s *Sampler) process(ctx context.Context, input <-chan model.MarketEvent) <-chan model.MarketEvent {
	output := make(chan model.MarketEvent, 1000)
	ticker := time.NewTicker(s.interval)

	go func() {
		defer close(output)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("feed sampler stopped")
				return
			case <-ticker.C:
				s.publishTick(output)
			case ev, ok := <-input:
				if !ok {
					return
				}
				s.handleEvent(ev, output)
			}
		}
	}()

	return output
}

// handleEvent updates sampling state for trades and forwards liquidations.
func (s *Sampler) handleEvent(ev model.MarketEvent, output chan<- model.MarketEvent) {
	switch ev := ev.(type) {
	case model.Trade:
		if !ev.Timestamp.Before(s.lastTradeTime) {
			s.lastPrice = ev.Price
			s.lastTradeTime = ev.Timestamp
			s.fresh = true
		}
	case model.LiquidationEvent:
		output <- ev
	default:
		log.Debug().Msg("sampler ignoring unexpected event type")
	}
}

// publishTick emits the latest price as a tick. Intervals without any trade
// publish nothing, so consumers never observe a stale or zero price.
func (s *Sampler) publishTick(output chan<- model.MarketEvent) {
	if !s.fresh {
		return
	}
	s.fresh = false
	output <- model.PriceTick{
		Timestamp: s.lastTradeTime,
		Price:     s.lastPrice,
	}
}

// fanIn merges multiple event channels into a single output channel, one
// goroutine per input, closing the output once all inputs are done.
func (s *Sampler) fanIn(ctx context.Context, inputs []<-chan model.MarketEvent) <-chan model.MarketEvent {
	dest := make(chan model.MarketEvent, 1000)
	var wg sync.WaitGroup
	wg.Add(len(inputs))

	for _, ch := range inputs {
		go func(c <-chan model.MarketEvent) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-c:
					if !ok {
						return
					}
					dest <- ev
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(dest)
	}()

	return dest
}
