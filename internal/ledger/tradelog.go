package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oiunwind/engine/internal/models"
)

// tradeLogHeader matches the cumulative/per-session CSV schema.
var tradeLogHeader = []string{
	"entry_time", "exit_time", "strike", "option_type", "expiry",
	"entry_price", "exit_price", "size", "pnl", "pnl_pct",
	"vwap_at_entry", "vwap_at_exit", "oi_at_entry", "oi_change_at_entry", "oi_at_exit", "exit_reason",
}

// TradeLogWriter appends closed-trade records to a per-session CSV and to
// one cumulative CSV that persists across sessions.
type TradeLogWriter struct {
	sessionPath    string
	cumulativePath string
}

// NewTradeLogWriter returns a writer rooted at dir, with session-specific
// and cumulative log files.
func NewTradeLogWriter(dir, sessionID string) *TradeLogWriter {
	return &TradeLogWriter{
		sessionPath:    filepath.Join(dir, fmt.Sprintf("trades_%s.csv", sessionID)),
		cumulativePath: filepath.Join(dir, "trades_cumulative.csv"),
	}
}

// Append writes one trade record to both logs, creating each with a header
// row on first use. oiAtExit and vwapAtExit are the OI and VWAP observed at
// the bar the position closed on; oi_change_at_entry records how much OI
// moved between entry and exit.
func (w *TradeLogWriter) Append(p *models.Position, oiAtExit int64, vwapAtExit float64) error {
	record := []string{
		p.EntryTime.Format("2006-01-02T15:04:05Z07:00"),
		p.ExitTime.Format("2006-01-02T15:04:05Z07:00"),
		fmt.Sprintf("%.2f", p.Strike),
		string(p.OptionType),
		p.Expiry.Format("2006-01-02"),
		fmt.Sprintf("%.2f", p.EntryPrice),
		fmt.Sprintf("%.2f", p.ExitPrice),
		fmt.Sprintf("%d", p.Size),
		fmt.Sprintf("%.2f", p.PnL),
		fmt.Sprintf("%.4f", p.PnLPct),
		fmt.Sprintf("%.2f", p.EntryVWAP),
		fmt.Sprintf("%.2f", vwapAtExit),
		fmt.Sprintf("%d", p.EntryOI),
		fmt.Sprintf("%d", p.EntryOI-oiAtExit),
		fmt.Sprintf("%d", oiAtExit),
		string(p.ExitReason),
	}

	if err := appendCSVRow(w.sessionPath, record); err != nil {
		return fmt.Errorf("writing session trade log: %w", err)
	}
	if err := appendCSVRow(w.cumulativePath, record); err != nil {
		return fmt.Errorf("writing cumulative trade log: %w", err)
	}
	return nil
}

func appendCSVRow(path string, record []string) error {
	needsHeader := false
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is operator-configured
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(tradeLogHeader); err != nil {
			return err
		}
	}
	if err := w.Write(record); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
