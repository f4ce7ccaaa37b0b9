// Package main runs the OI-unwinding momentum engine against historical
// CSV data for a configured date range.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"github.com/oiunwind/engine/internal/clock"
	"github.com/oiunwind/engine/internal/config"
	"github.com/oiunwind/engine/internal/ledger"
	"github.com/oiunwind/engine/internal/marketdata"
	"github.com/oiunwind/engine/internal/metrics"
	"github.com/oiunwind/engine/internal/runner"
	"github.com/oiunwind/engine/internal/store"
	"github.com/oiunwind/engine/internal/strategy"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	dataDir := flag.String("data", "data", "directory containing spot.csv and options.csv")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Error("failed to load config")
		return 1
	}
	if cfg.Mode != config.ModeBacktest {
		logger.Warn("config mode is not backtest; running backtest anyway")
	}

	start, err := time.ParseInLocation("2006-01-02", cfg.Backtest.StartDate, cfg.Location())
	if err != nil {
		logger.WithError(err).Error("invalid backtest.start_date")
		return 1
	}
	end, err := time.ParseInLocation("2006-01-02", cfg.Backtest.EndDate, cfg.Location())
	if err != nil {
		logger.WithError(err).Error("invalid backtest.end_date")
		return 1
	}
	end = end.Add(24 * time.Hour) // inclusive of the final day's bars

	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		logger.WithError(err).Error("failed to open state store")
		return 1
	}

	action, loaded, err := st.DecideRecovery(start)
	if err != nil {
		logger.WithError(err).Error("failed to decide recovery")
		return 1
	}
	sessionID := fmt.Sprintf("backtest-%d", time.Now().UnixNano())
	initialCapital := cfg.Risk.InitialCapital
	if prior, ok, err := st.MostRecentPriorCash(start); err == nil && ok {
		initialCapital = prior
	}

	switch action {
	case store.ActionForcedResume:
		logger.Warn("resuming from a prior session with active positions")
		st.Adopt(loaded)
	default:
		st.Adopt(store.NewPersistedState(start, sessionID, string(cfg.Mode), initialCapital))
	}

	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)

	led := ledger.New(initialCapital, start, cfg.Risk.MaxPositions, cfg.Risk.MaxTradesPerDay, cfg.Strategy.Commission)
	led.SetTradeLog(ledger.NewTradeLogWriter(cfg.Storage.Path, sessionID))
	eng := strategy.New(cfg, led, logger, start, mx)
	adapter := marketdata.NewCSVAdapter(*dataDir)

	r := runner.New(cfg, eng, led, adapter, clock.NewBacktestClock(start), st, mx, logger, sessionID)

	if err := r.RunBacktest(context.Background(), start, end); err != nil {
		logger.WithError(err).Error("backtest run failed")
		if errors.Is(err, runner.ErrMidRunCrash) {
			return 2
		}
		return 1
	}

	portfolio := led.Portfolio()
	logger.WithFields(logrus.Fields{
		"final_cash":       portfolio.Cash,
		"total_value":      portfolio.TotalValue,
		"total_return_pct": portfolio.TotalReturnPct,
		"trade_count":      portfolio.TradeCount,
		"win_rate":         portfolio.WinRate(),
	}).Info("backtest complete")

	return 0
}
