// Package metrics defines the Prometheus instrumentation for the paper
// trading engine. All collectors register on the default registry and are
// served by the snapshot HTTP server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersCreated counts pending orders created, by account and direction.
	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_orders_created_total",
			Help: "Total number of pending orders created",
		},
		[]string{"account", "direction"},
	)

	// TradesClosed counts closed positions, by account and close reason.
	TradesClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_trades_closed_total",
			Help: "Total number of closed positions by close reason",
		},
		[]string{"account", "reason"},
	)

	// EventsDiscarded counts inbound market events dropped by validation.
	EventsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_events_discarded_total",
			Help: "Total number of malformed market events discarded",
		},
		[]string{"cause"},
	)

	// AccountBalance tracks the current balance per account.
	AccountBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papertrader_account_balance",
			Help: "Current account balance in quote currency",
		},
		[]string{"account"},
	)

	// AccountDrawdown tracks the maximum drawdown per account.
	AccountDrawdown = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papertrader_account_max_drawdown",
			Help: "Maximum peak-to-trough equity decline in quote currency",
		},
		[]string{"account"},
	)

	// OpenPositions tracks filled, not yet closed positions per account.
	OpenPositions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papertrader_open_positions",
			Help: "Current number of open positions",
		},
		[]string{"account"},
	)
)
