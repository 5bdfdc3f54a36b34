package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"papertrader/internal/model"
)

// ErrInvalidConnectorConfig indicates an invalid connector configuration.
var ErrInvalidConnectorConfig = errors.New("invalid connector configuration")

// ConnectorConfig provides common configuration for feed connectors.
type ConnectorConfig struct {
	// BaseURL is the websocket endpoint URL for the exchange API.
	BaseURL string

	// Symbol is the single instrument to stream (e.g., "BTCUSDT").
	Symbol string
}

// defaultBinanceConfig provides sensible defaults for the Binance futures
// stream, which carries both aggregated trades and forced liquidations.
var defaultBinanceConfig = ConnectorConfig{
	BaseURL: "wss://fstream.binance.com",
	Symbol:  "BTCUSDT",
}

// applyConnectorDefaults fills unset optional fields from the defaults.
func applyConnectorDefaults(cfg, def *ConnectorConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Symbol == "" {
		cfg.Symbol = def.Symbol
	}
}

// BinanceConnector streams normalized market events from Binance futures.
//
// It subscribes to two streams over one combined websocket connection:
// the aggTrade stream, sampled downstream into price ticks, and the
// forceOrder stream carrying liquidation events.
type BinanceConnector struct {
	config   ConnectorConfig
	validate *validator.Validate
}

// streamMsg is the outer wrapper for Binance combined-stream messages.
//
// Example:
//
//	{
//		"stream": "btcusdt@aggTrade",
//		"data": { "s": "BTCUSDT", "p": "50000.12", "q": "0.001", "T": 1634567890123 }
//	}
type streamMsg struct {
	Stream string          `json:"stream" validate:"required"` // Stream identifier
	Data   json.RawMessage `json:"data" validate:"required"`   // Raw JSON payload
}

// aggTrade is the aggregated trade payload. Numeric values arrive as strings
// to preserve precision during JSON parsing.
type aggTrade struct {
	Symbol   string `json:"s" validate:"required"`         // Instrument symbol
	Price    string `json:"p" validate:"required,numeric"` // Trade price as string
	Quantity string `json:"q" validate:"required,numeric"` // Trade quantity as string
	Time     int64  `json:"T" validate:"required,gt=0"`    // Trade time in Unix milliseconds
}

// forceOrder is the liquidation payload. The order side describes the
// liquidating order, so a SELL force order means longs were liquidated.
type forceOrder struct {
	Order struct {
		Symbol   string `json:"s" validate:"required"`          // Instrument symbol
		Side     string `json:"S" validate:"required"`          // BUY or SELL
		Quantity string `json:"q" validate:"required,numeric"`  // Liquidated quantity
		AvgPrice string `json:"ap" validate:"required,numeric"` // Average fill price
		Time     int64  `json:"T" validate:"required,gt=0"`     // Trade time in Unix milliseconds
	} `json:"o" validate:"required"`
}

// NewBinanceConnector creates a Binance connector. A nil configuration uses
// the defaults.
func NewBinanceConnector(cfg *ConnectorConfig) (*BinanceConnector, error) {
	if cfg == nil {
		cfg = &defaultBinanceConfig
	}
	applyConnectorDefaults(cfg, &defaultBinanceConfig)
	if strings.TrimSpace(cfg.Symbol) == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidConnectorConfig)
	}

	return &BinanceConnector{
		config:   *cfg,
		validate: validator.New(),
	}, nil
}

// Subscribe opens the combined websocket stream and returns a channel of
// normalized market events: raw trades and liquidation events.
func (bc *BinanceConnector) Subscribe(ctx context.Context) (<-chan model.MarketEvent, error) {
	client, err := NewClient(ctx, ClientConfig{
		Endpoint: bc.streamURL(),
		Handler:  bc.handleMessage,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create Binance websocket client")
		return nil, err
	}
	return client.Events, nil
}

// streamURL builds the combined-stream URL carrying both subscriptions.
func (bc *BinanceConnector) streamURL() string {
	sym := strings.ToLower(bc.config.Symbol)
	return fmt.Sprintf("%s/stream?streams=%s@aggTrade/%s@forceOrder", bc.config.BaseURL, sym, sym)
}

// handleMessage decodes one combined-stream frame and pushes the normalized
// event. Frames for unrecognized streams are ignored.
func (bc *BinanceConnector) handleMessage(raw []byte, events chan<- model.MarketEvent) error {
	var m streamMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Error().Err(err).Msg("invalid outer JSON")
		return err
	}

	switch {
	case strings.HasSuffix(m.Stream, "@aggTrade"):
		return bc.handleAggTrade(m.Data, events)
	case strings.HasSuffix(m.Stream, "@forceOrder"):
		return bc.handleForceOrder(m.Data, events)
	default:
		log.Debug().Str("stream", m.Stream).Msg("ignoring frame from unexpected stream")
		return nil
	}
}

// handleAggTrade converts an aggregated trade payload into a model.Trade.
func (bc *BinanceConnector) handleAggTrade(data json.RawMessage, events chan<- model.MarketEvent) error {
	var t aggTrade
	if err := json.Unmarshal(data, &t); err != nil {
		log.Error().Err(err).Msg("invalid trade payload JSON")
		return err
	}
	if err := bc.validate.Struct(&t); err != nil {
		log.Warn().Err(err).Interface("trade", t).Msg("trade validation failed")
		return err
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		log.Error().Err(err).Msg("invalid trade price")
		return err
	}
	quantity, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		log.Error().Err(err).Msg("invalid trade quantity")
		return err
	}

	events <- model.Trade{
		Symbol:    strings.ToUpper(t.Symbol),
		Price:     price,
		Quantity:  quantity,
		Timestamp: time.UnixMilli(t.Time),
	}
	return nil
}

// handleForceOrder converts a liquidation payload into a
// model.LiquidationEvent. The liquidating order's side is inverted to name
// the liquidated side: a SELL force order closes long positions.
func (bc *BinanceConnector) handleForceOrder(data json.RawMessage, events chan<- model.MarketEvent) error {
	var f forceOrder
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Msg("invalid liquidation payload JSON")
		return err
	}
	if err := bc.validate.Struct(&f); err != nil {
		log.Warn().Err(err).Interface("liquidation", f).Msg("liquidation validation failed")
		return err
	}

	price, err := decimal.NewFromString(f.Order.AvgPrice)
	if err != nil {
		log.Error().Err(err).Msg("invalid liquidation price")
		return err
	}
	quantity, err := decimal.NewFromString(f.Order.Quantity)
	if err != nil {
		log.Error().Err(err).Msg("invalid liquidation quantity")
		return err
	}

	var side model.Direction
	switch strings.ToUpper(f.Order.Side) {
	case "SELL":
		side = model.Long // longs were forced out by a sell
	case "BUY":
		side = model.Short
	default:
		log.Warn().Str("side", f.Order.Side).Msg("unknown force order side")
		return fmt.Errorf("unknown force order side: %s", f.Order.Side)
	}

	events <- model.LiquidationEvent{
		Timestamp:    time.UnixMilli(f.Order.Time),
		Side:         side,
		NotionalSize: price.Mul(quantity),
	}
	return nil
}
