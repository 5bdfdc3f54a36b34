// Package feed implements the market data collaborators of the simulator:
// a websocket client for exchange streams, the Binance connector that
// normalizes trades and liquidations, and the sampler that turns raw trades
// into regular-cadence price ticks.
//
// The engine itself never talks to an exchange; it consumes the normalized
// model.MarketEvent stream this package produces.
package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"papertrader/internal/model"
)

const (
	// defaultPingPeriod defines the default interval for websocket pings.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout defines the default timeout for write operations.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit caps the size of incoming websocket messages.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultHandshakeTimeout bounds the websocket handshake.
	defaultHandshakeTimeout = 10 * time.Second
)

// ErrClientShuttingDown indicates the client is in the process of shutting down.
var ErrClientShuttingDown = errors.New("client is shutting down")

// ClientConfig defines settings for the websocket client.
type ClientConfig struct {
	// Endpoint is the websocket URL to connect to. Required.
	Endpoint string

	// Handler is called for each incoming websocket message and pushes any
	// decoded market events onto the channel. Required.
	Handler func([]byte, chan<- model.MarketEvent) error

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between websocket ping messages.
	PingPeriod time.Duration

	// SendTimeout bounds websocket write operations.
	SendTimeout time.Duration

	// SubscriptionMessages are sent immediately after connecting.
	SubscriptionMessages [][]byte
}

// Client wraps a websocket.Conn with lifecycle and message handling logic.
//
// It owns three goroutines: a read loop that delegates each frame to the
// configured handler, a ping loop for keepalive, and a shutdown listener
// bound to the context.
type Client struct {
	// conn stores the active connection using atomic operations.
	conn atomic.Value // stores *websocket.Conn

	// Events delivers decoded market events to consumers.
	Events chan model.MarketEvent

	// disconnect signals when the websocket connection is lost.
	disconnect chan struct{}

	// errChan reports fatal errors that cause connection termination.
	errChan chan error

	cfg    *ClientConfig
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// NewClient returns a connected websocket client with its goroutines running.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("message handler is required")
	}

	if cfg.SubscriptionMessages == nil {
		cfg.SubscriptionMessages = [][]byte{}
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	client := &Client{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
		Events:     make(chan model.MarketEvent, 1000),
	}

	if err := client.run(cfg.SubscriptionMessages); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start client: %w", err)
	}
	return client, nil
}

// run establishes the websocket connection, sends subscription messages and
// starts the background goroutines.
func (c *Client) run(subMsgs [][]byte) error {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "run").Logger()
	logger.Info().Msg("starting websocket client")

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}

	// Clean up the connection if initialization fails below
	defer func() {
		if err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("error closing connection during cleanup")
			}
		}
	}()

	c.conn.Store(conn)

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(appData string) error {
		deadline := time.Now().Add(c.cfg.PingPeriod * 2)
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	for _, msg := range subMsgs {
		if err = conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Error().Err(err).Msg("subscription error")
			return err
		}
	}

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.shutdownListener()
	}()

	return nil
}

// readLoop continuously reads messages from the websocket connection and
// delegates processing to the configured handler.
func (c *Client) readLoop() {
	conn := c.conn.Load().(*websocket.Conn)
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "readLoop").Logger()

	logger.Info().Msg("starting read loop")
	defer func() {
		logger.Info().Msg("read loop exiting")
		close(c.disconnect) // Signal disconnect to consumers
		close(c.Events)

		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			logger.Info().Msg("context cancelled, exiting read loop")
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info().Err(err).Msg("websocket closed normally")
				} else if websocket.IsUnexpectedCloseError(err) {
					logger.Warn().Err(err).Msg("unexpected websocket closure")
				} else {
					logger.Error().Err(err).Msg("read error")
				}

				select {
				case c.errChan <- err:
				default:
					logger.Warn().Err(err).Msg("error channel full, dropping error")
				}
				return
			}

			func() {
				// Recover from handler panics to keep the stream alive
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Any("recover", r).Msg("panic in message handler")
					}
				}()

				if err := c.cfg.Handler(data, c.Events); err != nil {
					logger.Error().Err(err).Msg("error handling feed message")
				}
			}()
		}
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "pingLoop").Logger()
	logger.Info().Dur("period", c.cfg.PingPeriod).Msg("starting ping loop")
	defer logger.Info().Msg("ping loop exiting")

	for {
		select {
		case <-ticker.C:
			connVal := c.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)

			deadline := time.Now().Add(c.cfg.SendTimeout)
			if err := conn.SetWriteDeadline(deadline); err != nil {
				logger.Warn().Err(err).Msg("failed to set write deadline")
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("ping error")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// shutdownListener closes the client when the context is cancelled.
func (c *Client) shutdownListener() {
	<-c.ctx.Done()
	c.Close()
}

// Close gracefully shuts down the client. Safe to call multiple times.
func (c *Client) Close() {
	c.once.Do(func() {
		logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "close").Logger()
		logger.Info().Msg("initiating graceful shutdown")

		c.cancel()

		if conn := c.conn.Load(); conn != nil {
			if ws, ok := conn.(*websocket.Conn); ok {
				if err := ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				); err != nil {
					logger.Warn().Err(err).Msg("failed to send close frame")
				}
				if err := ws.Close(); err != nil {
					logger.Warn().Err(err).Msg("error closing websocket connection")
				}
			}
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			logger.Info().Msg("all goroutines completed")
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("timeout waiting for goroutines to complete")
		}
	})
}

// dial establishes a websocket connection to the configured endpoint.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()
	logger.Info().Msg("attempting websocket connection")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			logger.Error().Err(err).Int("statusCode", resp.StatusCode).Msg("connection failed")
		} else {
			logger.Error().Err(err).Msg("connection failed")
		}
		return nil, err
	}

	logger.Info().Msg("websocket connection established")
	return conn, nil
}

// DisconnectChan returns a channel that is closed when the client disconnects.
func (c *Client) DisconnectChan() <-chan struct{} {
	return c.disconnect
}

// ErrChan returns a channel that emits any terminal read errors.
func (c *Client) ErrChan() <-chan error {
	return c.errChan
}
