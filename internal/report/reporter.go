// Package report renders the live dashboard, real-time trade notifications
// and the final comparison report for both simulated accounts.
//
// The reporter is a pure consumer: it reads engine snapshots and the
// trade-closed notification stream and never mutates engine state.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"papertrader/internal/engine"
	"papertrader/internal/model"
)

var percentScale = decimal.NewFromInt(100)

// Snapshotter is the engine read surface the reporter depends on.
type Snapshotter interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// Reporter periodically renders the dual-account dashboard and logs every
// closed trade as it happens.
type Reporter struct {
	out      io.Writer
	interval time.Duration

	// history accumulates closed trades per account for the results files.
	history map[string][]*model.Order
}

// NewReporter creates a reporter rendering to out on the given interval.
func NewReporter(out io.Writer, interval time.Duration) *Reporter {
	return &Reporter{
		out:      out,
		interval: interval,
		history:  make(map[string][]*model.Order),
	}
}

// Run consumes trade-closed notifications and renders the dashboard until
// the context is cancelled. It blocks; run it in its own goroutine.
func (r *Reporter) Run(ctx context.Context, eng Snapshotter, sub *engine.Subscriber) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			r.recordClose(ev)
		case <-ticker.C:
			snap, err := eng.Snapshot(ctx)
			if err != nil {
				log.Error().Err(err).Msg("dashboard snapshot failed")
				continue
			}
			r.renderDashboard(snap)
		}
	}
}

// recordClose logs one closed trade and appends it to the account history.
func (r *Reporter) recordClose(ev model.TradeClosed) {
	o := ev.Order
	exit := "-"
	if o.ExitPrice != nil {
		exit = o.ExitPrice.StringFixed(2)
	}
	log.Info().
		Str("account", ev.AccountID).
		Uint64("order_id", o.ID).
		Str("direction", o.Direction.String()).
		Str("entry", o.EntryPrice.StringFixed(2)).
		Str("exit", exit).
		Str("pnl", o.RealizedPnl.StringFixed(2)).
		Str("reason", string(o.CloseCause)).
		Msg("trade closed")
	r.history[ev.AccountID] = append(r.history[ev.AccountID], o)
}

// renderDashboard writes the periodic comparison table.
func (r *Reporter) renderDashboard(snap model.Snapshot) {
	fmt.Fprintf(r.out, "\nPAPER TRADING DASHBOARD - %s\n", snap.Timestamp.UTC().Format(time.RFC3339))
	if !snap.Price.IsZero() {
		fmt.Fprintf(r.out, "Current price: $%s\n", snap.Price.StringFixed(2))
	}
	r.writeAccountsTable(snap)
	if snap.Leader != "" {
		fmt.Fprintf(r.out, "Leader: %s\n", accountLabel(snap.Leader))
	} else {
		fmt.Fprintln(r.out, "Leader: tied")
	}
}

// FinalResults writes the end-of-run comparison report.
func (r *Reporter) FinalResults(snap model.Snapshot, runtime time.Duration) {
	fmt.Fprintf(r.out, "\nPAPER TRADING FINAL RESULTS (runtime %.1f hours)\n", runtime.Hours())
	r.writeAccountsTable(snap)

	diff := snap.AccountFullTime.Pnl.Sub(snap.AccountScheduled.Pnl)
	switch snap.Leader {
	case engine.AccountFullTime:
		fmt.Fprintf(r.out, "Winner: %s (+$%s)\n", accountLabel(snap.Leader), diff.Abs().StringFixed(2))
	case engine.AccountScheduled:
		fmt.Fprintf(r.out, "Winner: %s (+$%s)\n", accountLabel(snap.Leader), diff.Abs().StringFixed(2))
	default:
		fmt.Fprintln(r.out, "Winner: tied")
	}
}

// writeAccountsTable renders both account rows with tablewriter.
func (r *Reporter) writeAccountsTable(snap model.Snapshot) {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Account", "Balance", "P&L", "P&L %", "Trades", "W/L", "Win Rate", "Max DD"})
	for _, acc := range []model.AccountSnapshot{snap.AccountFullTime, snap.AccountScheduled} {
		table.Append(accountRow(acc))
	}
	table.Render()
}

// accountRow formats one account snapshot as a table row.
func accountRow(acc model.AccountSnapshot) []string {
	return []string{
		accountLabel(acc.ID),
		"$" + acc.Balance.StringFixed(2),
		"$" + acc.Pnl.StringFixed(2),
		acc.PnlPercent.Mul(percentScale).StringFixed(2) + "%",
		fmt.Sprintf("%d", acc.TradeCount),
		fmt.Sprintf("%d/%d", acc.Wins, acc.Losses),
		acc.WinRate.Mul(percentScale).StringFixed(2) + "%",
		"$" + acc.MaxDrawdown.StringFixed(2),
	}
}

// WriteResultsFiles persists one results file per account into dir,
// containing the account summary and the full trade history.
func (r *Reporter) WriteResultsFiles(dir string, snap model.Snapshot, runtime time.Duration) error {
	for _, acc := range []model.AccountSnapshot{snap.AccountFullTime, snap.AccountScheduled} {
		name := filepath.Join(dir, fmt.Sprintf("paper_results_%s.txt", acc.ID))
		if err := r.writeResultsFile(name, acc, runtime); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		log.Info().Str("file", name).Msg("results saved")
	}
	return nil
}

// writeResultsFile writes the summary and trade history of one account.
func (r *Reporter) writeResultsFile(name string, acc model.AccountSnapshot, runtime time.Duration) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "PAPER TRADING RESULTS - %s\n", accountLabel(acc.ID))
	fmt.Fprintf(f, "Runtime: %.2f hours\n", runtime.Hours())
	fmt.Fprintf(f, "Generated: %s\n\n", time.Now().UTC().Format(time.DateTime))

	fmt.Fprintf(f, "Starting Balance:  $%s\n", acc.StartingCapital.StringFixed(2))
	fmt.Fprintf(f, "Ending Balance:    $%s\n", acc.Balance.StringFixed(2))
	fmt.Fprintf(f, "Total P&L:         $%s (%s%%)\n", acc.Pnl.StringFixed(2), acc.PnlPercent.Mul(percentScale).StringFixed(2))
	fmt.Fprintf(f, "Total Trades:      %d\n", acc.TradeCount)
	fmt.Fprintf(f, "Winning Trades:    %d\n", acc.Wins)
	fmt.Fprintf(f, "Losing Trades:     %d\n", acc.Losses)
	fmt.Fprintf(f, "Win Rate:          %s%%\n", acc.WinRate.Mul(percentScale).StringFixed(2))
	fmt.Fprintf(f, "Max Drawdown:      $%s\n\n", acc.MaxDrawdown.StringFixed(2))

	fmt.Fprintln(f, "TRADE HISTORY")
	trades := r.history[acc.ID]
	if len(trades) == 0 {
		fmt.Fprintln(f, "No trades executed.")
		return nil
	}

	table := tablewriter.NewWriter(f)
	table.SetHeader([]string{"#", "Closed", "Dir", "Entry", "Exit", "P&L", "Reason"})
	for i, o := range trades {
		closedAt, exit := "-", "-"
		if o.ClosedAt != nil {
			closedAt = o.ClosedAt.UTC().Format("2006-01-02 15:04")
		}
		if o.ExitPrice != nil {
			exit = "$" + o.ExitPrice.StringFixed(2)
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			closedAt,
			o.Direction.String(),
			"$" + o.EntryPrice.StringFixed(2),
			exit,
			"$" + o.RealizedPnl.StringFixed(2),
			string(o.CloseCause),
		})
	}
	table.Render()
	return nil
}

// accountLabel maps account IDs to their display names.
func accountLabel(id string) string {
	switch id {
	case engine.AccountFullTime:
		return "24/7 Trading"
	case engine.AccountScheduled:
		return "Scheduled Trading"
	default:
		return id
	}
}
