// Package ledger implements the position ledger and broker-sim: opening
// and closing positions, enforcing cash and position-count invariants, and
// emitting trade records.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oiunwind/engine/internal/execmode"
	"github.com/oiunwind/engine/internal/models"
)

// Ledger owns the portfolio and the set of active/closed positions for the
// current trading day. All mutation happens under a single lock — cash,
// active positions, and per-day counters are shared state that only the
// ledger touches.
type Ledger struct {
	mu sync.Mutex

	portfolio  *models.Portfolio
	active     map[string]*models.Position // by order_id
	closed     []*models.Position
	statistics models.Statistics

	tradingDate time.Time
	orderSeq    int

	maxPositions    int
	maxTradesPerDay int
	commission      float64

	tradeLog *TradeLogWriter
	log      *logrus.Logger
}

// New returns a ledger seeded with initialCapital, ready for tradingDate.
func New(initialCapital float64, tradingDate time.Time, maxPositions, maxTradesPerDay int, commission float64) *Ledger {
	return &Ledger{
		portfolio:       models.NewPortfolio(initialCapital),
		active:          make(map[string]*models.Position),
		tradingDate:     tradingDate.Truncate(24 * time.Hour),
		maxPositions:    maxPositions,
		maxTradesPerDay: maxTradesPerDay,
		commission:      commission,
		log:             logrus.StandardLogger(),
	}
}

// SetTradeLog attaches a CSV trade log writer; once set, every trade Close
// finalizes appends a record. Nil (the default) disables trade logging.
func (l *Ledger) SetTradeLog(w *TradeLogWriter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tradeLog = w
}

// Statistics returns a snapshot of cumulative win/loss performance.
func (l *Ledger) Statistics() models.Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statistics
}

// Portfolio returns a snapshot of the current portfolio figures.
func (l *Ledger) Portfolio() models.Portfolio {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.portfolio
}

// ActiveCount returns the number of currently open positions.
func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// TradesToday returns how many entries have been opened on the current
// trading date.
func (l *Ledger) TradesToday() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orderSeq
}

// Active returns clones of all currently open positions.
func (l *Ledger) Active() []*models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*models.Position, 0, len(l.active))
	for _, p := range l.active {
		out = append(out, p.Clone())
	}
	return out
}

// Closed returns clones of all positions closed so far today.
func (l *Ledger) Closed() []*models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*models.Position, 0, len(l.closed))
	for _, p := range l.closed {
		out = append(out, p.Clone())
	}
	return out
}

// Open rejects the entry and returns an error if size <= 0, cash is
// insufficient, the position-count cap is reached, or the day's trade cap
// is reached; otherwise it assigns an order id, debits cash, and tracks the
// position as active.
func (l *Ledger) Open(symbol string, strike float64, optionType models.OptionType, expiry time.Time,
	entryTime time.Time, entryPrice float64, size int, entryVWAP float64, entryOI int64) (*models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if size <= 0 {
		return nil, fmt.Errorf("ledger: size must be > 0, got %d", size)
	}
	cost := float64(size)*entryPrice + l.commission
	if cost > l.portfolio.Cash {
		return nil, fmt.Errorf("ledger: insufficient cash: need %.2f, have %.2f", cost, l.portfolio.Cash)
	}
	if len(l.active) >= l.maxPositions {
		return nil, fmt.Errorf("ledger: max_positions (%d) reached", l.maxPositions)
	}
	if l.orderSeq >= l.maxTradesPerDay {
		return nil, fmt.Errorf("ledger: max_trades_per_day (%d) reached", l.maxTradesPerDay)
	}

	l.orderSeq++
	orderID := fmt.Sprintf("PAPER_%s_%03d", l.tradingDate.Format("20060102"), l.orderSeq)

	pos := models.NewPosition(orderID, symbol, strike, optionType, expiry, entryTime, entryPrice, size, entryVWAP, entryOI)
	l.active[orderID] = pos

	l.portfolio.ApplyFill(-cost)
	l.recomputePositionsValueLocked()

	return pos.Clone(), nil
}

// Mark updates peak_price / trailing_active for the active position with
// orderID given a fresh LTP.
func (l *Ledger) Mark(orderID string, ltp float64, profitThresholdRatio float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.active[orderID]
	if !ok {
		return fmt.Errorf("%w: position %s not active", models.ErrInvariantViolation, orderID)
	}
	pos.Mark(ltp, profitThresholdRatio)
	l.recomputePositionsValueLocked()
	return nil
}

// Close applies execMode to observedPrice against thresholdPrice (nil mode
// for EOD/FORCED_EXIT, which always use observedPrice), credits cash,
// computes pnl, and moves the position to closed. oiAtExit and vwapAtExit
// are the OI and VWAP observed at the exit bar, passed through to the trade
// log only — callers with no fresh snapshot (forced exits) may pass 0 for
// both.
func (l *Ledger) Close(orderID string, mode *execmode.Mode, thresholdPrice, observedPrice float64,
	reason models.ExitReason, exitTime time.Time, oiAtExit int64, vwapAtExit float64) (*models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.active[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: position %s not active", models.ErrInvariantViolation, orderID)
	}

	exitPrice := observedPrice
	if mode != nil {
		exitPrice = mode.Fill(thresholdPrice, observedPrice)
	}

	pnl := (exitPrice-pos.EntryPrice)*float64(pos.Size) - 2*l.commission
	if err := pos.Close(exitTime, exitPrice, reason, pnl); err != nil {
		return nil, fmt.Errorf("ledger: closing %s: %w", orderID, err)
	}

	delete(l.active, orderID)
	l.closed = append(l.closed, pos)

	l.portfolio.ApplyFill(float64(pos.Size)*exitPrice - l.commission)
	l.portfolio.RecordClose(pnl)
	l.statistics.Update(pnl)
	l.recomputePositionsValueLocked()

	if l.tradeLog != nil {
		if err := l.tradeLog.Append(pos, oiAtExit, vwapAtExit); err != nil {
			l.log.WithError(err).Error("failed to append trade log record")
		}
	}

	return pos.Clone(), nil
}

// ForceCloseAll closes every active position at lastLTP (by order id) with
// FORCED_EXIT, used on day rollover and on invariant violation. A position
// with no entry in lastLTP is left open.
func (l *Ledger) ForceCloseAll(lastLTP map[string]float64, exitTime time.Time) ([]*models.Position, error) {
	l.mu.Lock()
	orderIDs := make([]string, 0, len(l.active))
	for id := range l.active {
		orderIDs = append(orderIDs, id)
	}
	l.mu.Unlock()

	var out []*models.Position
	for _, id := range orderIDs {
		px, ok := lastLTP[id]
		if !ok {
			continue
		}
		pos, err := l.Close(id, nil, 0, px, models.ExitForced, exitTime, 0, 0)
		if err != nil {
			return out, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// recomputePositionsValueLocked refreshes positions_value/total_value from
// the current active set. Callers must hold l.mu.
func (l *Ledger) recomputePositionsValueLocked() {
	var sum float64
	for _, p := range l.active {
		sum += p.EntryPrice * float64(p.Size)
	}
	l.portfolio.PositionsValue = sum
	l.portfolio.Recompute()
}

// Rollover closes out the trading day: resets the order sequence and
// trading date for the next day. Positions must already be force-closed by
// the caller before Rollover runs.
func (l *Ledger) Rollover(newDate time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tradingDate = newDate.Truncate(24 * time.Hour)
	l.orderSeq = 0
	l.closed = nil
}

// SeedCapital re-seeds initial_capital/cash for portfolio carry-over —
// called once, before the first Open of a new session.
func (l *Ledger) SeedCapital(cash float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.portfolio.InitialCapital = cash
	l.portfolio.Cash = cash
	l.recomputePositionsValueLocked()
}
