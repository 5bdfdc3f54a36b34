/*
Package main runs the leveraged paper-trading simulator.

The simulator connects to the Binance USD-M futures WebSocket stream,
turns forced-liquidation events into contrarian entry signals, and runs
two identical simulated accounts side by side: one trading around the
clock and one restricted to configured weekday trading windows. Both
accounts share one price stream, so positions opened inside a window
keep managing their exits outside it.

Usage:

	go run main.go -symbol=BTCUSDT -capital=1000 -leverage=25 -http=:8080

The process exposes a JSON snapshot at /snapshot and Prometheus metrics
at /metrics, renders a periodic comparison dashboard to stdout, and
writes per-account result files on shutdown.
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"papertrader/internal/config"
	"papertrader/internal/engine"
	"papertrader/internal/feed"
	"papertrader/internal/model"
	"papertrader/internal/report"
	"papertrader/internal/server"
)

// Command-line flags for configuring the simulator behavior
var (
	symbol      = flag.String("symbol", "BTCUSDT", "Futures symbol to trade")
	capital     = flag.Float64("capital", 1000, "Starting capital per account in USD")
	leverage    = flag.Int("leverage", 25, "Position leverage")
	minNotional = flag.Float64("min-notional", 2000, "Minimum liquidation size in USD that produces a signal")
	windows     = flag.String("schedule", "02:00-05:00,14:00-17:00", "Weekday trading windows for the scheduled account (UTC)")
	tick        = flag.Int("tick", 1, "Price tick sampling interval in seconds")
	dashboard   = flag.Int("dashboard", 300, "Dashboard refresh interval in seconds")
	httpAddr    = flag.String("http", ":8080", "HTTP listen address for snapshot and metrics")
	resultsDir  = flag.String("results-dir", ".", "Directory for per-account result files")
	flatten     = flag.Bool("flatten", false, "Close all open positions at the last price on shutdown")
)

// main wires the market data feed, the dual-account engine, the trade
// notification dispatcher, the reporter and the HTTP surface, then blocks
// until an interrupt triggers graceful shutdown.
func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := buildConfig()
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

	// Fan trade-closed notifications out to interested consumers. The
	// reporter subscribes to both accounts.
	dispatcher := engine.NewDispatcher()
	if err := dispatcher.StartDispatching(ctx, eng.ClosedTrades()); err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatcher")
	}
	sub, err := dispatcher.Subscribe(engine.AccountFullTime, engine.AccountScheduled)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe reporter")
	}

	events, err := startFeed(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start market data feed")
	}
	go pump(events, eng)

	reporter := report.NewReporter(os.Stdout, time.Duration(*dashboard)*time.Second)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(ctx, eng, sub)
	}()

	srv := server.New(*httpAddr, eng)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	log.Info().
		Str("symbol", cfg.Symbol).
		Str("capital", cfg.StartingCapital.String()).
		Int("leverage", cfg.Leverage).
		Str("schedule", cfg.ScheduleWindows).
		Str("http", *httpAddr).
		Msg("paper trading started")
	started := time.Now()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if *flatten {
		if err := eng.Flatten(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("flattening open positions failed")
		}
	}
	if err := eng.Drain(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("draining event queue failed")
	}
	snap, err := eng.Snapshot(shutdownCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("final snapshot failed")
	}

	// Let in-flight trade notifications reach the reporter before the
	// dispatcher shuts down.
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-reporterDone:
	case <-shutdownCtx.Done():
	}

	reporter.FinalResults(snap, time.Since(started))
	if err := reporter.WriteResultsFiles(*resultsDir, snap, time.Since(started)); err != nil {
		log.Error().Err(err).Msg("writing result files failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}

// buildConfig merges command-line flags over the default strategy.
func buildConfig() config.Strategy {
	cfg := config.Default()
	cfg.Symbol = *symbol
	cfg.StartingCapital = decimal.NewFromFloat(*capital)
	cfg.Leverage = *leverage
	cfg.MinNotionalSize = decimal.NewFromFloat(*minNotional)
	cfg.ScheduleWindows = *windows
	return cfg
}

// startFeed connects the Binance futures connector and wraps it in the
// interval sampler that down-samples raw trades into price ticks.
func startFeed(ctx context.Context, cfg config.Strategy) (<-chan model.MarketEvent, error) {
	connector, err := feed.NewBinanceConnector(&feed.ConnectorConfig{Symbol: cfg.Symbol})
	if err != nil {
		return nil, err
	}
	sampler := feed.NewSampler([]feed.Connector{connector}, time.Duration(*tick)*time.Second)
	return sampler.Start(ctx)
}

// pump forwards sampled market events into the engine until the feed
// channel closes.
func pump(events <-chan model.MarketEvent, eng *engine.Orchestrator) {
	for ev := range events {
		eng.Events() <- ev
	}
	log.Info().Msg("market data feed closed")
}
