// Package runner wires a strategy engine to a market-data adapter and
// drives it on a schedule: a single-threaded strategy-tick loop in
// backtest, or a dual-loop strategy+exit orchestration in paper/live.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/oiunwind/engine/internal/clock"
	"github.com/oiunwind/engine/internal/config"
	"github.com/oiunwind/engine/internal/ledger"
	"github.com/oiunwind/engine/internal/marketdata"
	"github.com/oiunwind/engine/internal/metrics"
	"github.com/oiunwind/engine/internal/models"
	"github.com/oiunwind/engine/internal/store"
	"github.com/oiunwind/engine/internal/strategy"
)

// ErrMidRunCrash wraps an unexpected strategy/exit tick failure during
// RunBacktest — distinct from a config/data setup error that never reaches
// the run loop, so cmd/backtest can map the two to different exit codes.
var ErrMidRunCrash = errors.New("runner: mid-run crash")

// ErrInterrupted indicates RunLive stopped because of a cooperative
// shutdown signal (SIGINT/SIGTERM) rather than a failure.
var ErrInterrupted = errors.New("runner: interrupted")

// Runner owns the engine, adapter, clock, and persistence for one trading
// session and drives the strategy/exit ticks to completion.
type Runner struct {
	cfg       *config.Config
	engine    *strategy.Engine
	ledger    *ledger.Ledger
	adapter   marketdata.Adapter
	clk       clock.Clock
	st        *store.JSONStore
	metrics   *metrics.Collectors
	log       *logrus.Logger
	sessionID string
}

// New builds a runner from its already-constructed collaborators. The
// caller is responsible for deciding backtest-vs-live wiring (cmd/backtest
// and cmd/paper each build a different adapter/clock pair).
func New(cfg *config.Config, eng *strategy.Engine, led *ledger.Ledger, adapter marketdata.Adapter,
	clk clock.Clock, st *store.JSONStore, mx *metrics.Collectors, log *logrus.Logger, sessionID string) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{cfg: cfg, engine: eng, ledger: led, adapter: adapter, clk: clk, st: st, metrics: mx, log: log, sessionID: sessionID}
}

// RunBacktest drives the strategy loop alone, bar by bar, from start to
// end at the configured timeframe — backtest has no independent exit
// loop; the strategy tick itself evaluates exits on every bar close.
func (r *Runner) RunBacktest(ctx context.Context, start, end time.Time) error {
	step := time.Duration(r.cfg.Schedule.TimeframeMinutes) * time.Minute
	for t := start; !t.After(end); t = t.Add(step) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.tick(ctx, t, "strategy"); err != nil {
			return fmt.Errorf("runner: backtest tick at %s: %w: %w", t, ErrMidRunCrash, err)
		}
		r.persist()
	}
	return r.finalize()
}

// RunLive drives the dual-loop orchestration for paper/live mode:
// strategyLoop every timeframe_minutes, exitLoop every 1 minute, both
// under errgroup.Group so either goroutine's error or ctx cancellation
// (SIGINT/SIGTERM) brings both down together.
func (r *Runner) RunLive(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.loop(gctx, time.Duration(r.cfg.Schedule.TimeframeMinutes)*time.Minute, "strategy")
	})
	g.Go(func() error {
		return r.loop(gctx, time.Minute, "exit")
	})

	err := g.Wait()
	if err != nil && gctx.Err() != nil {
		// Cancellation-driven shutdown: surface it as a cooperative
		// interrupt rather than the raw context error.
		err = ErrInterrupted
	}
	if finalizeErr := r.finalize(); finalizeErr != nil && err == nil {
		err = finalizeErr
	}
	return err
}

// loop drives one tick loop off clk, sleeping between ticks through the
// clock abstraction rather than a raw ticker so the same loop runs
// unmodified against a simulated clock in tests.
func (r *Runner) loop(ctx context.Context, interval time.Duration, kind string) error {
	next := r.clk.Now().Add(interval)
	for {
		if err := r.clk.SleepUntil(ctx, next); err != nil {
			return err
		}

		now := r.clk.Now()
		if r.terminationReached(now) {
			r.log.WithField("loop", kind).Info("termination condition reached, stopping")
			return nil
		}
		if err := r.tick(ctx, now, kind); err != nil {
			r.log.WithError(err).WithField("loop", kind).Error("tick failed")
		} else {
			r.persist()
		}

		next = next.Add(interval)
		if !next.After(now) {
			next = now.Add(interval)
		}
	}
}

// terminationReached reports the session's stop conditions: past the EOD
// window's end, or the market has closed for the day.
func (r *Runner) terminationReached(now time.Time) bool {
	if !r.cfg.InEODWindow(now) && now.After(r.exitWindowEnd(now)) {
		return true
	}
	open, err := r.adapter.IsMarketOpen(context.Background(), now)
	if err == nil && !open && r.cfg.InEODWindow(now) {
		return true
	}
	return false
}

func (r *Runner) exitWindowEnd(now time.Time) time.Time {
	loc := r.cfg.Location()
	local := now.In(loc)
	hour, minute := 0, 0
	if t, err := time.Parse("15:04", r.cfg.Schedule.ExitEnd); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
}

func (r *Runner) tick(ctx context.Context, now time.Time, kind string) error {
	var err error
	if kind == "exit" {
		err = r.engine.ExitTick(ctx, now, r.adapter)
	} else {
		err = r.engine.StrategyTick(ctx, now, r.adapter)
	}
	if err != nil && r.metrics != nil {
		r.metrics.RecordAdapterError(kind)
	}
	if r.metrics != nil {
		p := r.ledger.Portfolio()
		r.metrics.UpdatePortfolio(p.Cash, p.TotalValue, r.ledger.ActiveCount(), r.ledger.TradesToday())
	}
	return err
}

// persist snapshots the ledger, daily context, and VWAP accumulators into
// the store and saves it, logging (but not propagating) a failed write so
// a transient disk failure never aborts a trading loop mid-session.
func (r *Runner) persist() {
	if r.st == nil {
		return
	}
	state := r.st.State()
	if state == nil {
		return
	}

	active := make(map[string]*models.Position)
	for _, p := range r.ledger.Active() {
		active[p.OrderID] = p
	}
	state.ActivePositions = active
	state.ClosedPositions = r.ledger.Closed()

	state.StrategyState.DailyContext = r.engine.DailyContext()
	vwapAccum := make(map[string]store.VWAPPoint)
	for _, point := range r.engine.VWAPTracker().Snapshot() {
		key := fmt.Sprintf("%.2f:%s", point.Strike, point.OptionType)
		vwapAccum[key] = store.VWAPPoint{SumTPV: point.SumTPV, SumV: point.SumV}
	}
	state.StrategyState.VWAPAccumulators = vwapAccum

	portfolio := r.ledger.Portfolio()
	state.Portfolio = portfolio
	state.Statistics = r.ledger.Statistics()
	state.DailyStats = store.DailyStats{
		TradesToday: r.ledger.TradesToday(),
		RealizedPnL: portfolio.RealizedPnL,
	}
	if r.clk != nil {
		state.SystemHealth.LastHeartbeat = r.clk.Now()
	}
	state.SystemHealth.InvariantBroken = r.engine.InvariantBroken()

	if err := r.st.Save(); err != nil {
		r.log.WithError(err).Error("failed to persist state")
	}
}

// finalize persists one last time and writes a human-readable end-of-session
// summary file next to the JSON state, so an operator can see how the
// session went without parsing state or scraping logs.
func (r *Runner) finalize() error {
	if r.st == nil {
		return nil
	}
	r.persist()

	portfolio := r.ledger.Portfolio()
	stats := r.ledger.Statistics()
	fields := logrus.Fields{
		"session_id":       r.sessionID,
		"final_cash":       portfolio.Cash,
		"total_value":      portfolio.TotalValue,
		"total_return_pct": portfolio.TotalReturnPct,
		"trade_count":      stats.TotalTrades,
		"win_rate":         stats.WinRate,
	}
	r.log.WithFields(fields).Info("session finalized")

	summary := fmt.Sprintf(
		"session:            %s\n"+
			"final cash:         %.2f\n"+
			"total value:        %.2f\n"+
			"total return:       %.2f%%\n"+
			"realized pnl:       %.2f\n"+
			"trades:             %d (win %d, loss %d)\n"+
			"win rate:           %.1f%%\n"+
			"average win:        %.2f\n"+
			"average loss:       %.2f\n"+
			"max single loss:    %.2f\n"+
			"current streak:     %d\n",
		r.sessionID, portfolio.Cash, portfolio.TotalValue, portfolio.TotalReturnPct*100,
		portfolio.RealizedPnL, stats.TotalTrades, stats.WinningTrades, stats.LosingTrades,
		stats.WinRate*100, stats.AverageWin, stats.AverageLoss, stats.MaxSingleTradeLoss, stats.CurrentStreak,
	)
	path := filepath.Join(r.st.Dir(), fmt.Sprintf("summary_%s.txt", r.sessionID))
	if err := os.WriteFile(path, []byte(summary), 0o600); err != nil {
		r.log.WithError(err).Error("failed to write session summary")
	}
	return nil
}
