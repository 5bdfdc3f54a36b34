/*
Package main replays a recorded market event stream through the paper
trading engine and prints the final dual-account comparison.

The input is a JSON Lines file with one event per line:

	{"type":"tick","timestamp":"2024-05-01T00:00:00Z","price":"71465.0"}
	{"type":"liquidation","timestamp":"2024-05-01T00:00:03Z","side":"long","notional":"5200"}

Usage:

	go run main.go -file=events.jsonl -capital=1000 -leverage=25
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"papertrader/internal/config"
	"papertrader/internal/engine"
	"papertrader/internal/model"
	"papertrader/internal/report"
)

var (
	file        = flag.String("file", "", "JSONL file of recorded market events")
	capital     = flag.Float64("capital", 1000, "Starting capital per account in USD")
	leverage    = flag.Int("leverage", 25, "Position leverage")
	minNotional = flag.Float64("min-notional", 2000, "Minimum liquidation size in USD that produces a signal")
	windows     = flag.String("schedule", "02:00-05:00,14:00-17:00", "Weekday trading windows for the scheduled account (UTC)")
	flatten     = flag.Bool("flatten", false, "Close all open positions at the last price after the replay")
)

// recordedEvent is the on-disk shape of one replayed market event.
type recordedEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Side      model.Direction `json:"side,omitempty"`
	Notional  decimal.Decimal `json:"notional,omitempty"`
}

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *file == "" {
		log.Fatal().Msg("missing -file")
	}

	cfg := config.Default()
	cfg.StartingCapital = decimal.NewFromFloat(*capital)
	cfg.Leverage = *leverage
	cfg.MinNotionalSize = decimal.NewFromFloat(*minNotional)
	cfg.ScheduleWindows = *windows
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.NewOrchestrator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engine")
	}
	if err := eng.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	// The reporter only renders the final table here, so it consumes the
	// trade stream directly instead of going through the dispatcher.
	dispatcher := engine.NewDispatcher()
	if err := dispatcher.StartDispatching(ctx, eng.ClosedTrades()); err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatcher")
	}
	sub, err := dispatcher.Subscribe(engine.AccountFullTime, engine.AccountScheduled)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe")
	}
	reporter := report.NewReporter(os.Stdout, time.Hour)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(ctx, eng, sub)
	}()

	started := time.Now()
	count, err := replay(*file, eng)
	if err != nil {
		log.Fatal().Err(err).Msg("replay failed")
	}

	if *flatten {
		if err := eng.Flatten(ctx); err != nil {
			log.Fatal().Err(err).Msg("flattening open positions failed")
		}
	}
	if err := eng.Drain(ctx); err != nil {
		log.Fatal().Err(err).Msg("draining event queue failed")
	}
	snap, err := eng.Snapshot(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("final snapshot failed")
	}

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-reporterDone

	log.Warn().Int("events", count).Msg("replay complete")
	reporter.FinalResults(snap, time.Since(started))
}

// replay streams every event in the file into the engine, returning the
// number of events fed.
func replay(name string, eng *engine.Orchestrator) (int, error) {
	f, err := os.Open(name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec recordedEvent
		if err := json.Unmarshal(line, &rec); err != nil {
			return count, err
		}
		ev, err := toMarketEvent(rec)
		if err != nil {
			return count, err
		}
		eng.Events() <- ev
		count++
	}
	return count, scanner.Err()
}

// toMarketEvent converts one recorded line into its engine event.
func toMarketEvent(rec recordedEvent) (model.MarketEvent, error) {
	switch rec.Type {
	case "tick":
		return model.PriceTick{Timestamp: rec.Timestamp, Price: rec.Price}, nil
	case "liquidation":
		return model.LiquidationEvent{Timestamp: rec.Timestamp, Side: rec.Side, NotionalSize: rec.Notional}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", rec.Type)
	}
}
