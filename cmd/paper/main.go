// Package main runs the OI-unwinding momentum engine in paper-trading
// mode against a live REST market-data feed, with the read-only status
// dashboard enabled.
package main

import (
	"context"
	"errors"
	"flag"
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
	"github.com/oiunwind/engine/internal/web"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	spotURL := flag.String("spot-url", "", "broker spot price endpoint")
	chainURL := flag.String("chain-url", "", "broker options chain endpoint")
	ltpURL := flag.String("ltp-url", "", "broker LTP endpoint")
	statusURL := flag.String("status-url", "", "broker market-status endpoint")
	expiriesURL := flag.String("expiries-url", "", "broker expiry-calendar endpoint")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Error("failed to load config")
		return 1
	}

	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		logger.WithError(err).Error("failed to open state store")
		return 1
	}

	today := time.Now().In(cfg.Location())
	action, loaded, err := st.DecideRecovery(today)
	if err != nil {
		logger.WithError(err).Error("failed to decide recovery")
		return 1
	}
	initialCapital := cfg.Risk.InitialCapital
	if prior, ok, err := st.MostRecentPriorCash(today); err == nil && ok {
		initialCapital = prior
	}

	sessionID := fmtSessionID(today)
	var tradingDate time.Time
	switch action {
	case store.ActionForcedResume:
		logger.Warn("resuming from a prior session with active positions")
		st.Adopt(loaded)
		tradingDate = loaded.Date
		sessionID = loaded.SessionID
	case store.ActionPromptOperator:
		logger.Warn("prior session has closed positions or trades today; starting fresh per operator policy")
		fallthrough
	default:
		tradingDate = today.Truncate(24 * time.Hour)
		st.Adopt(store.NewPersistedState(tradingDate, sessionID, string(cfg.Mode), initialCapital))
	}

	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)

	led := ledger.New(initialCapital, tradingDate, cfg.Risk.MaxPositions, cfg.Risk.MaxTradesPerDay, cfg.Strategy.Commission)
	led.SetTradeLog(ledger.NewTradeLogWriter(cfg.Storage.Path, sessionID))
	eng := strategy.New(cfg, led, logger, tradingDate, mx)

	auth := marketdata.BearerAuthorizer{Token: os.Getenv("BROKER_API_TOKEN")}
	endpoints := marketdata.Endpoints{
		SpotURL: *spotURL, ChainURL: *chainURL, LTPURL: *ltpURL,
		MarketStatusURL: *statusURL, ExpiriesURL: *expiriesURL,
	}
	adapter := marketdata.NewRESTAdapter(cfg.Instrument.Symbol, endpoints, auth, nil, logger)

	r := runner.New(cfg, eng, led, adapter, clock.NewLiveClock(cfg.Location()), st, mx, logger, sessionID)

	var dash *web.Server
	if cfg.Dashboard.Enabled {
		dash = web.New(web.Config{Port: cfg.Dashboard.Port, AuthToken: cfg.Dashboard.AuthToken}, led, logger, reg)
		go func() {
			if err := dash.Start(); err != nil {
				logger.WithError(err).Error("dashboard server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = dash.Shutdown(shutdownCtx)
		}()
	}

	if err := r.RunLive(context.Background()); err != nil {
		if errors.Is(err, runner.ErrInterrupted) {
			logger.Info("paper trading session interrupted")
			return 130
		}
		logger.WithError(err).Error("paper trading session failed")
		return 1
	}

	logger.Info("paper trading session stopped")
	return 0
}

func fmtSessionID(t time.Time) string {
	return "paper-" + t.Format("20060102-150405")
}
