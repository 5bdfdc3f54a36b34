package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is one observation in an account's equity history.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// AccountSnapshot is a point-in-time view of a single simulated account,
// consumed by the dashboard reporter and the snapshot API.
type AccountSnapshot struct {
	ID              string          `json:"id"`
	StartingCapital decimal.Decimal `json:"starting_capital"`
	Balance         decimal.Decimal `json:"balance"`
	Pnl             decimal.Decimal `json:"pnl"`
	PnlPercent      decimal.Decimal `json:"pnl_percent"`
	TradeCount      int             `json:"trade_count"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRate         decimal.Decimal `json:"win_rate"`
	PeakEquity      decimal.Decimal `json:"peak_equity"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
	PendingOrders   int             `json:"pending_orders"`
	OpenPositions   int             `json:"open_positions"`
}

// Snapshot is the combined view over both accounts.
//
// Leader names the account with the strictly higher balance; it is empty on
// an exact tie so the comparison stays deterministic.
type Snapshot struct {
	Timestamp        time.Time       `json:"timestamp"`
	Price            decimal.Decimal `json:"price"`
	AccountFullTime  AccountSnapshot `json:"account_24_7"`
	AccountScheduled AccountSnapshot `json:"account_scheduled"`
	Leader           string          `json:"leader,omitempty"`
}
