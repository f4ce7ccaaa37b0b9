// Package strategy implements the OI-unwinding momentum engine: daily
// direction analysis, entry gating, and multi-layer exit management. The
// engine is a deterministic function of (DailyContext, snapshot, ledger
// state) plus two in-memory caches that are not persisted: the previous-bar
// OI per contract and the last-seen LTP per order.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oiunwind/engine/internal/config"
	"github.com/oiunwind/engine/internal/execmode"
	"github.com/oiunwind/engine/internal/ledger"
	"github.com/oiunwind/engine/internal/marketdata"
	"github.com/oiunwind/engine/internal/metrics"
	"github.com/oiunwind/engine/internal/models"
	"github.com/oiunwind/engine/internal/oi"
	"github.com/oiunwind/engine/internal/vwap"
	"github.com/sirupsen/logrus"
)

// oiKey addresses the "previous bar OI" cache by (strike, option_type),
// the same pair the VWAP tracker keys on.
type oiKey struct {
	Strike     float64
	OptionType models.OptionType
}

// Engine is the strategy state machine. It owns the VWAP tracker and the
// daily context; the ledger is injected so the runner can share one
// ledger across the strategy and exit loops under a single lock.
type Engine struct {
	cfg     *config.Config
	ledger  *ledger.Ledger
	vwap    *vwap.Tracker
	mode    execmode.Mode
	log     *logrus.Logger
	metrics *metrics.Collectors

	dailyCtx        *models.DailyContext
	lastOI          map[oiKey]int64
	lastLTP         map[string]float64 // by order_id, for force-close at day rollover
	invariantBroken bool               // latched true on an invariant violation; blocks new entries until restart
}

// New returns an engine for tradingDate, with a fresh DailyContext and
// VWAP tracker. mx may be nil, in which case entry/exit counters are not
// recorded.
func New(cfg *config.Config, led *ledger.Ledger, log *logrus.Logger, tradingDate time.Time, mx *metrics.Collectors) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var mode execmode.Mode
	if cfg.Strategy.ExecutionMode == config.ExecMarket {
		mode = execmode.Market(cfg.Strategy.SlippagePct)
	} else {
		mode = execmode.Strict()
	}
	return &Engine{
		cfg:      cfg,
		ledger:   led,
		vwap:     vwap.NewTracker(),
		mode:     mode,
		log:      log,
		metrics:  mx,
		dailyCtx: models.NewDailyContext(tradingDate),
		lastOI:   make(map[oiKey]int64),
		lastLTP:  make(map[string]float64),
	}
}

// InvariantBroken reports whether an invariant violation has latched entry
// refusal for the rest of this session.
func (e *Engine) InvariantBroken() bool {
	return e.invariantBroken
}

// DailyContext returns the engine's current daily context (a copy is not
// made — callers must not mutate it).
func (e *Engine) DailyContext() *models.DailyContext {
	return e.dailyCtx
}

// VWAPTracker exposes the engine's VWAP accumulator tracker, so the runner
// can snapshot/restore it across persistence boundaries.
func (e *Engine) VWAPTracker() *vwap.Tracker {
	return e.vwap
}

// RestoreDailyContext replaces the engine's daily context, used when
// resuming a forced-resume session from persisted state.
func (e *Engine) RestoreDailyContext(dc *models.DailyContext) {
	e.dailyCtx = dc
}

// RolloverIfNewDay runs on the first tick whose date differs from the
// frozen trading date: force-close any still-open positions at the
// last-known LTP with reason FORCED_EXIT, then reset the daily context
// and VWAP accumulators.
func (e *Engine) RolloverIfNewDay(now time.Time) ([]*models.Position, error) {
	today := now.Truncate(24 * time.Hour)
	if today.Equal(e.dailyCtx.TradingDate) {
		return nil, nil
	}

	closed, err := e.ledger.ForceCloseAll(e.lastLTP, now)
	if err != nil {
		return closed, fmt.Errorf("strategy: force-close on day rollover: %w", err)
	}

	e.ledger.Rollover(today)
	e.dailyCtx = models.NewDailyContext(today)
	e.vwap.ResetAll()
	e.lastOI = make(map[oiKey]int64)
	e.lastLTP = make(map[string]float64)
	return closed, nil
}

// activeContractKey returns the (strike, direction) pair the engine is
// currently tracking VWAP/OI for.
func (e *Engine) activeContractKey() oiKey {
	optType := models.Call
	if e.dailyCtx.Direction == models.DirectionPut {
		optType = models.Put
	}
	return oiKey{Strike: e.dailyCtx.TradingStrike, OptionType: optType}
}

// StrategyTick runs one 5-minute strategy tick: fetch spot+chain, evaluate
// exits for all open positions, then evaluate entry (in that order — exit
// evaluation precedes entry so max_positions is computed against a
// post-close view).
func (e *Engine) StrategyTick(ctx context.Context, now time.Time, adapter marketdata.Adapter) error {
	if closed, err := e.RolloverIfNewDay(now); err != nil {
		return err
	} else if len(closed) > 0 {
		e.log.WithField("count", len(closed)).Info("forced exit on day rollover")
	}

	spot, err := adapter.Spot(ctx, now)
	if err != nil {
		e.log.WithError(err).Warn("strategy tick: no spot data, skipping")
		return nil
	}

	snapshot, err := adapter.Chain(ctx, now, spot, e.cfg.Strategy.StrikesBelow, e.cfg.Strategy.StrikesAbove, e.cfg.Instrument.ExpiryPolicy)
	if err != nil {
		e.log.WithError(err).Warn("strategy tick: no chain data, skipping")
		return nil
	}

	if err := e.evaluateExits(now, snapshot); err != nil {
		return err
	}

	if !e.invariantBroken && e.cfg.InEntryWindow(now) && e.ledger.ActiveCount() == 0 && e.dailyCtx.TradesToday < e.cfg.Risk.MaxTradesPerDay {
		if err := e.evaluateEntry(ctx, now, adapter, spot, snapshot); err != nil {
			return err
		}
	}

	return nil
}

// ExitTick runs the 1-minute exit-monitor loop (live only): fetch spot and
// a fresh chain — never the strategy loop's snapshot — take each open
// position's LTP from the chain's close, and evaluate exits only.
func (e *Engine) ExitTick(ctx context.Context, now time.Time, adapter marketdata.Adapter) error {
	if e.ledger.ActiveCount() == 0 {
		return nil
	}
	spot, err := adapter.Spot(ctx, now)
	if err != nil {
		e.log.WithError(err).Warn("exit tick: no spot data, skipping")
		return nil
	}
	snapshot, err := adapter.Chain(ctx, now, spot, e.cfg.Strategy.StrikesBelow, e.cfg.Strategy.StrikesAbove, e.cfg.Instrument.ExpiryPolicy)
	if err != nil {
		e.log.WithError(err).Warn("exit tick: no chain data, skipping")
		return nil
	}
	return e.evaluateExits(now, snapshot)
}

// evaluateEntry resolves the day's direction (or recomputes the trading
// strike on an already-resolved day), checks the OI-unwinding-above-VWAP
// condition, and opens a position when it fires.
func (e *Engine) evaluateEntry(ctx context.Context, now time.Time, adapter marketdata.Adapter, spot float64, snapshot *models.OptionsSnapshot) error {
	if !e.dailyCtx.Resolved() {
		result, err := oi.Analyze(snapshot, spot, e.cfg.Strategy.StrikesBelow, e.cfg.Strategy.StrikesAbove)
		if err != nil {
			e.log.WithError(err).Debug("entry gate: no tradable strike, skipping")
			return nil
		}
		e.dailyCtx.Direction = result.Direction
		e.dailyCtx.MaxCallOIStrike = result.MaxCallOIStrike
		e.dailyCtx.MaxPutOIStrike = result.MaxPutOIStrike
		e.dailyCtx.CallDistance = result.CallDistance
		e.dailyCtx.PutDistance = result.PutDistance
		e.dailyCtx.TradingStrike = result.TradingStrike
	} else {
		newStrike, err := oi.RecomputeTradingStrike(snapshot, spot, e.dailyCtx.Direction)
		if err != nil {
			e.log.WithError(err).Debug("entry gate: no tradable strike on recompute, skipping")
			return nil
		}
		if newStrike != e.dailyCtx.TradingStrike {
			e.log.WithFields(logrus.Fields{"from": e.dailyCtx.TradingStrike, "to": newStrike}).Info("trading strike switched")
			oldKey := e.activeContractKey()
			e.vwap.ResetStrike(oldKey.Strike, oldKey.OptionType)
			delete(e.lastOI, oldKey)
			e.dailyCtx.TradingStrike = newStrike
		}
	}

	expiry, err := adapter.ResolveExpiry(ctx, now, e.cfg.Instrument.ExpiryPolicy, e.cfg.Instrument.SkipMonTueExpiry)
	if err != nil {
		e.log.WithError(err).Debug("entry gate: no feasible expiry, skipping")
		return nil
	}
	e.dailyCtx.Expiry = expiry

	optType := models.Call
	if e.dailyCtx.Direction == models.DirectionPut {
		optType = models.Put
	}
	quote, ok := snapshot.Get(e.dailyCtx.TradingStrike, optType, expiry)
	if !ok {
		e.log.Debug("entry gate: active contract missing from snapshot, skipping")
		return nil
	}

	key := oiKey{Strike: e.dailyCtx.TradingStrike, OptionType: optType}
	e.vwap.Update(key.Strike, key.OptionType, quote)
	currentVWAP, hasVWAP := e.vwap.Value(key.Strike, key.OptionType)
	if !hasVWAP {
		return nil
	}

	previousOI, hadPrevious := e.lastOI[key]
	e.lastOI[key] = quote.OI

	if !hadPrevious {
		return nil // need a second bar to detect unwinding
	}

	oiUnwinding := quote.OI < previousOI
	aboveVWAP := quote.Close > currentVWAP

	if !oiUnwinding || !aboveVWAP {
		return nil
	}

	size, err := e.positionSize(quote.Close)
	if err != nil {
		e.log.WithError(err).Debug("entry gate: sizing rejected the trade, skipping")
		return nil
	}

	pos, err := e.ledger.Open(e.cfg.Instrument.Symbol, key.Strike, key.OptionType, expiry, now, quote.Close, size, currentVWAP, quote.OI)
	if err != nil {
		e.log.WithError(err).Warn("entry gate: ledger rejected open")
		return nil
	}
	e.dailyCtx.RecordTrade()
	e.lastLTP[pos.OrderID] = quote.Close
	if e.metrics != nil {
		e.metrics.RecordEntry(string(key.OptionType))
	}
	e.log.WithFields(logrus.Fields{
		"order_id": pos.OrderID, "strike": key.Strike, "option_type": key.OptionType, "entry_price": quote.Close,
	}).Info("entry opened")
	return nil
}

// positionSize sizes the entry from risk_per_trade against InitialStopPct,
// floored to a whole number of lots and clamped to available cash.
func (e *Engine) positionSize(entryPrice float64) (int, error) {
	portfolio := e.ledger.Portfolio()
	riskAmount := portfolio.InitialCapital * e.cfg.Risk.RiskPerTradePct
	riskPerUnit := entryPrice * e.cfg.Strategy.InitialStopPct
	if riskPerUnit <= 0 {
		return 0, fmt.Errorf("strategy: risk_per_unit must be > 0")
	}
	units := int(riskAmount / riskPerUnit)
	lotSize := e.cfg.Instrument.LotSize
	lots := units / lotSize
	if lots < 1 {
		lots = 1
	}
	size := lots * lotSize
	for size > 0 && float64(size)*entryPrice > portfolio.Cash {
		size -= lotSize
	}
	if size <= 0 {
		return 0, fmt.Errorf("strategy: position size clamps to zero against available cash")
	}
	return size, nil
}

// evaluateExits evaluates, for each open position, the five stop
// conditions in fixed order — first match wins.
func (e *Engine) evaluateExits(now time.Time, snapshot *models.OptionsSnapshot) error {
	for _, pos := range e.ledger.Active() {
		quote, ok := snapshot.Get(pos.Strike, pos.OptionType, pos.Expiry)
		if !ok {
			continue // missing strike: skip the tick, do not close
		}
		ltp := quote.Close
		e.lastLTP[pos.OrderID] = ltp

		if err := e.ledger.Mark(pos.OrderID, ltp, e.cfg.Strategy.ProfitThresholdRatio); err != nil {
			if errors.Is(err, models.ErrInvariantViolation) {
				return e.handleInvariantViolation(now)
			}
			return fmt.Errorf("strategy: marking %s: %w", pos.OrderID, err)
		}
		pos = e.ledgerPositionOrSelf(pos)

		currentVWAP, hasVWAP := e.vwap.Value(pos.Strike, pos.OptionType)
		currentOI := quote.OI

		reason, threshold, matched := e.checkExitConditions(now, pos, ltp, currentVWAP, hasVWAP, currentOI)
		if !matched {
			continue
		}

		var mode *execmode.Mode
		if reason != models.ExitEOD && reason != models.ExitForced {
			mode = &e.mode
		}

		vwapAtExit := 0.0
		if hasVWAP {
			vwapAtExit = currentVWAP
		}
		if _, err := e.ledger.Close(pos.OrderID, mode, threshold, ltp, reason, now, quote.OI, vwapAtExit); err != nil {
			if errors.Is(err, models.ErrInvariantViolation) {
				return e.handleInvariantViolation(now)
			}
			return fmt.Errorf("strategy: closing %s: %w", pos.OrderID, err)
		}
		if e.metrics != nil {
			e.metrics.RecordExit(string(reason))
		}
		e.log.WithFields(logrus.Fields{"order_id": pos.OrderID, "reason": reason, "ltp": ltp}).Info("position closed")
	}
	return nil
}

// handleInvariantViolation force-closes every remaining position at the
// last known LTP with reason FORCED_EXIT and latches entry refusal: the
// engine keeps ticking and persisting, but evaluateEntry never opens
// another position until the process is restarted.
func (e *Engine) handleInvariantViolation(now time.Time) error {
	e.invariantBroken = true
	e.log.Error("invariant violation detected, force-closing all positions and refusing new entries")
	if _, err := e.ledger.ForceCloseAll(e.lastLTP, now); err != nil {
		return fmt.Errorf("strategy: force-close on invariant violation: %w", err)
	}
	return nil
}

// ledgerPositionOrSelf re-fetches the freshest clone of pos from the
// ledger (Mark mutates peak_price/trailing_active); falls back to pos if
// it has since been closed by a concurrent call.
func (e *Engine) ledgerPositionOrSelf(pos *models.Position) *models.Position {
	for _, p := range e.ledger.Active() {
		if p.OrderID == pos.OrderID {
			return p
		}
	}
	return pos
}

// checkExitConditions applies the fixed evaluation order: EOD window,
// initial stop, VWAP-relative stop, OI-increase stop, trailing stop.
// Returns the matched reason and the threshold price STRICT mode would
// fill at (0 for EOD/FORCED_EXIT, which have no threshold concept).
func (e *Engine) checkExitConditions(now time.Time, pos *models.Position, ltp, vwapValue float64, hasVWAP bool, currentOI int64) (models.ExitReason, float64, bool) {
	if e.cfg.InEODWindow(now) {
		return models.ExitEOD, 0, true
	}

	initialThreshold := pos.EntryPrice * (1 - e.cfg.Strategy.InitialStopPct)
	if ltp <= initialThreshold {
		return models.ExitInitialSL, initialThreshold, true
	}

	inLoss := ltp < pos.EntryPrice
	if inLoss && hasVWAP {
		vwapThreshold := vwapValue * (1 - e.cfg.Strategy.VWAPStopPct)
		if ltp <= vwapThreshold {
			return models.ExitVWAPSL, vwapThreshold, true
		}
	}

	if inLoss {
		oiThreshold := float64(pos.EntryOI) * (1 + e.cfg.Strategy.OIIncreaseStopPct)
		if float64(currentOI) >= oiThreshold {
			return models.ExitOISL, ltp, true // OI has no price threshold; fill at ltp
		}
	}

	if pos.TrailingActive {
		trailingThreshold := pos.PeakPrice * (1 - e.cfg.Strategy.TrailingStopPct)
		if ltp <= trailingThreshold {
			return models.ExitTrailingSL, trailingThreshold, true
		}
	}

	return models.ExitNone, 0, false
}
