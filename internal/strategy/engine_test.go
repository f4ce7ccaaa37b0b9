package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oiunwind/engine/internal/config"
	"github.com/oiunwind/engine/internal/ledger"
	"github.com/oiunwind/engine/internal/metrics"
	"github.com/oiunwind/engine/internal/models"
)

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.WithLabelValues(labels...).(prometheus.Metric).Write(m))
	return m.GetCounter().GetValue()
}

// fakeAdapter serves a scripted sequence of snapshots so the engine's
// entry gate and exit evaluation can be driven bar-by-bar without CSV
// fixtures.
type fakeAdapter struct {
	spot       float64
	snapshots  map[int64]*models.OptionsSnapshot // keyed by t.Unix()
	expiry     time.Time
	marketOpen bool
}

func (a *fakeAdapter) Spot(ctx context.Context, t time.Time) (float64, error) {
	return a.spot, nil
}

func (a *fakeAdapter) Chain(ctx context.Context, t time.Time, spot float64, below, above int, policy config.ExpiryPolicy) (*models.OptionsSnapshot, error) {
	snap, ok := a.snapshots[t.Unix()]
	if !ok {
		return nil, models.ErrNoData
	}
	return snap, nil
}

func (a *fakeAdapter) LTP(ctx context.Context, t time.Time, strike float64, optType models.OptionType, expiry time.Time) (float64, error) {
	snap, ok := a.snapshots[t.Unix()]
	if !ok {
		return 0, models.ErrNoData
	}
	q, ok := snap.Get(strike, optType, expiry)
	if !ok {
		return 0, models.ErrNoData
	}
	return q.Close, nil
}

func (a *fakeAdapter) IsMarketOpen(ctx context.Context, t time.Time) (bool, error) {
	return a.marketOpen, nil
}

func (a *fakeAdapter) ResolveExpiry(ctx context.Context, t time.Time, policy config.ExpiryPolicy, skipMonTue bool) (time.Time, error) {
	return a.expiry, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Mode: config.ModeBacktest,
		Instrument: config.InstrumentConfig{
			Symbol:       "NIFTY",
			ExpiryPolicy: config.ExpiryWeekly,
			LotSize:      25,
		},
		Schedule: config.ScheduleConfig{
			Timezone:           "UTC",
			TimeframeMinutes:   5,
			EntryStart:         "09:20",
			EntryEnd:           "14:30",
			ExitStart:          "15:00",
			ExitEnd:            "15:30",
			EntryTimePrecision: config.PrecisionMinute,
		},
		Strategy: config.StrategyConfig{
			StrikesBelow:         5,
			StrikesAbove:         5,
			InitialStopPct:       0.25,
			VWAPStopPct:          0.15,
			OIIncreaseStopPct:    0.20,
			TrailingStopPct:      0.10,
			ProfitThresholdRatio: 1.10,
			ExecutionMode:        config.ExecStrict,
			Commission:           20,
		},
		Risk: config.RiskConfig{
			InitialCapital:  100000,
			RiskPerTradePct: 0.02,
			MaxPositions:    1,
			MaxTradesPerDay: 1,
		},
	}
	return cfg
}

func quote(strike float64, t models.OptionType, close float64, oi int64, expiry time.Time) models.OptionQuote {
	return models.OptionQuote{
		Strike: strike, OptionType: t, Expiry: expiry,
		Open: close, High: close, Low: close, Close: close,
		Volume: 100, OI: oi,
	}
}

func TestDayRolloverForceClosesOpenPositions(t *testing.T) {
	day1 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	led := ledger.New(100000, day1, 1, 1, 20)
	eng := New(testConfig(), led, nil, day1, nil)

	expiry := day1.AddDate(0, 0, 10)
	pos, err := led.Open("NIFTY", 25900, models.Put, expiry, day1, 103.50, 50, 97.47, 1897000)
	require.NoError(t, err)
	eng.lastLTP[pos.OrderID] = 110.0

	day2 := day1.AddDate(0, 0, 1)
	closed, err := eng.RolloverIfNewDay(day2)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitForced, closed[0].ExitReason)
	assert.Equal(t, 110.0, closed[0].ExitPrice)
	assert.Equal(t, 0, led.ActiveCount())
	assert.Equal(t, day2.Truncate(24*time.Hour), eng.dailyCtx.TradingDate)
}

func TestEntryGateOpensOnOIUnwindAboveVWAP(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	expiry := day.AddDate(0, 0, 10)
	led := ledger.New(100000, day, 1, 1, 20)
	eng := New(testConfig(), led, nil, day, nil)

	t1 := day.Add(9*time.Hour + 20*time.Minute)
	t2 := t1.Add(5 * time.Minute)

	snap1 := models.NewOptionsSnapshot(t1, 25946.95, []models.OptionQuote{
		quote(26000, models.Call, 50, 500000, expiry),
		quote(25900, models.Put, 90, 1900000, expiry),
	})
	snap2 := models.NewOptionsSnapshot(t2, 25946.95, []models.OptionQuote{
		quote(26000, models.Call, 55, 500000, expiry),
		quote(25900, models.Put, 103.50, 1897000, expiry), // OI dropped from 1.9M, close above running vwap
	})

	adapter := &fakeAdapter{
		spot:      25946.95,
		expiry:    expiry,
		snapshots: map[int64]*models.OptionsSnapshot{t1.Unix(): snap1, t2.Unix(): snap2},
	}

	require.NoError(t, eng.StrategyTick(context.Background(), t1, adapter))
	assert.Equal(t, 0, led.ActiveCount(), "first bar only seeds OI/VWAP, no entry yet")

	require.NoError(t, eng.StrategyTick(context.Background(), t2, adapter))
	assert.Equal(t, 1, led.ActiveCount())

	active := led.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 25900.0, active[0].Strike)
	assert.Equal(t, models.Put, active[0].OptionType)
	assert.Equal(t, 103.50, active[0].EntryPrice)
}

func TestExitEvaluationInitialStopLoss(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	expiry := day.AddDate(0, 0, 10)
	led := ledger.New(100000, day, 1, 1, 20)
	eng := New(testConfig(), led, nil, day, nil)

	pos, err := led.Open("NIFTY", 25900, models.Put, expiry, day, 103.50, 50, 97.47, 1897000)
	require.NoError(t, err)

	tExit := day.Add(10 * time.Hour)
	snap := models.NewOptionsSnapshot(tExit, 26000, []models.OptionQuote{
		quote(25900, models.Put, 77.0, 1897000, expiry), // below 103.50*0.75 = 77.625
	})

	require.NoError(t, eng.evaluateExits(tExit, snap))
	assert.Equal(t, 0, led.ActiveCount())
	closed := led.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, pos.OrderID, closed[0].OrderID)
	assert.Equal(t, models.ExitInitialSL, closed[0].ExitReason)
	assert.InDelta(t, 77.625, closed[0].ExitPrice, 0.001) // STRICT fills exactly at threshold
}

func TestExitEvaluationEODWindowTakesPriority(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	expiry := day.AddDate(0, 0, 10)
	led := ledger.New(100000, day, 1, 1, 20)
	eng := New(testConfig(), led, nil, day, nil)

	_, err := led.Open("NIFTY", 25900, models.Put, expiry, day, 103.50, 50, 97.47, 1897000)
	require.NoError(t, err)

	// Deep in initial-stop territory, but inside the EOD window — EOD wins.
	tExit := day.Add(15*time.Hour + 5*time.Minute)
	snap := models.NewOptionsSnapshot(tExit, 26000, []models.OptionQuote{
		quote(25900, models.Put, 50.0, 1897000, expiry),
	})

	require.NoError(t, eng.evaluateExits(tExit, snap))
	closed := led.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitEOD, closed[0].ExitReason)
	assert.Equal(t, 50.0, closed[0].ExitPrice) // EOD always fills at observed price, no slippage
}

func TestExitEvaluationTrailingStopOnlyAfterProfitThreshold(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	expiry := day.AddDate(0, 0, 10)
	led := ledger.New(100000, day, 1, 1, 20)
	eng := New(testConfig(), led, nil, day, nil)

	_, err := led.Open("NIFTY", 25900, models.Put, expiry, day, 103.50, 50, 97.47, 1897000)
	require.NoError(t, err)

	tPeak := day.Add(11 * time.Hour)
	peakSnap := models.NewOptionsSnapshot(tPeak, 26000, []models.OptionQuote{
		quote(25900, models.Put, 238.80, 1897000, expiry),
	})
	require.NoError(t, eng.evaluateExits(tPeak, peakSnap))
	assert.Equal(t, 1, led.ActiveCount(), "profit run should not itself trigger an exit")

	tDrop := tPeak.Add(5 * time.Minute)
	dropSnap := models.NewOptionsSnapshot(tDrop, 26000, []models.OptionQuote{
		quote(25900, models.Put, 214.0, 1897000, expiry), // below 238.80*0.90 = 214.92
	})
	require.NoError(t, eng.evaluateExits(tDrop, dropSnap))

	closed := led.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitTrailingSL, closed[0].ExitReason)
	assert.InDelta(t, 214.92, closed[0].ExitPrice, 0.001)
}

func TestPositionSizeFloorsToLotSizeAndClampsToCash(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	led := ledger.New(100000, day, 1, 1, 20)
	eng := New(testConfig(), led, nil, day, nil)

	// risk_amount = 100000*0.02 = 2000; risk_per_unit = 103.50*0.25 = 25.875
	// units = floor(2000/25.875) = 77; lot_size 25 -> floor(77/25)=3 lots -> 75
	size, err := eng.positionSize(103.50)
	require.NoError(t, err)
	assert.Equal(t, 75, size)
}

func TestPositionSizeClampsToOneLotWhenRiskIsSmall(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.Risk.RiskPerTradePct = 0.0001 // tiny risk budget relative to lot size
	led := ledger.New(100000, day, 1, 1, 20)
	eng := New(cfg, led, nil, day, nil)

	size, err := eng.positionSize(103.50)
	require.NoError(t, err)
	assert.Equal(t, cfg.Instrument.LotSize, size)
}

func TestHandleInvariantViolationForceClosesAndLatchesEntries(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	expiry := day.AddDate(0, 0, 10)
	led := ledger.New(100000, day, 1, 1, 20)
	eng := New(testConfig(), led, nil, day, nil)

	pos, err := led.Open("NIFTY", 25900, models.Put, expiry, day, 103.50, 50, 97.47, 1897000)
	require.NoError(t, err)
	eng.lastLTP[pos.OrderID] = 88.0

	require.NoError(t, eng.handleInvariantViolation(day))
	assert.True(t, eng.InvariantBroken())
	assert.Equal(t, 0, led.ActiveCount())

	closed := led.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitForced, closed[0].ExitReason)
	assert.Equal(t, 88.0, closed[0].ExitPrice)

	// Entries stay refused on the next tick even though the entry window,
	// position count, and trade cap would otherwise all permit one.
	tNext := day.Add(9*time.Hour + 20*time.Minute)
	snap := models.NewOptionsSnapshot(tNext, 25946.95, []models.OptionQuote{
		quote(26000, models.Call, 50, 500000, expiry),
		quote(25900, models.Put, 90, 1900000, expiry),
	})
	adapter := &fakeAdapter{
		spot:      25946.95,
		expiry:    expiry,
		snapshots: map[int64]*models.OptionsSnapshot{tNext.Unix(): snap},
	}
	require.NoError(t, eng.StrategyTick(context.Background(), tNext, adapter))
	assert.Equal(t, 0, led.ActiveCount(), "invariant latch blocks new entries")
}

func TestEvaluateEntryRecordsEntryMetric(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	expiry := day.AddDate(0, 0, 10)
	led := ledger.New(100000, day, 1, 1, 20)
	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)
	eng := New(testConfig(), led, nil, day, mx)

	t1 := day.Add(9*time.Hour + 20*time.Minute)
	t2 := t1.Add(5 * time.Minute)

	snap1 := models.NewOptionsSnapshot(t1, 25946.95, []models.OptionQuote{
		quote(26000, models.Call, 50, 500000, expiry),
		quote(25900, models.Put, 90, 1900000, expiry),
	})
	snap2 := models.NewOptionsSnapshot(t2, 25946.95, []models.OptionQuote{
		quote(26000, models.Call, 55, 500000, expiry),
		quote(25900, models.Put, 103.50, 1897000, expiry),
	})
	adapter := &fakeAdapter{
		spot:      25946.95,
		expiry:    expiry,
		snapshots: map[int64]*models.OptionsSnapshot{t1.Unix(): snap1, t2.Unix(): snap2},
	}

	require.NoError(t, eng.StrategyTick(context.Background(), t1, adapter))
	require.NoError(t, eng.StrategyTick(context.Background(), t2, adapter))
	require.Equal(t, 1, led.ActiveCount())

	assert.Equal(t, 1.0, counterValue(t, mx.EntriesTotal, string(models.Put)))
}

func TestEvaluateExitsRecordsExitMetric(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	expiry := day.AddDate(0, 0, 10)
	led := ledger.New(100000, day, 1, 1, 20)
	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)
	eng := New(testConfig(), led, nil, day, mx)

	_, err := led.Open("NIFTY", 25900, models.Put, expiry, day, 103.50, 50, 97.47, 1897000)
	require.NoError(t, err)

	tExit := day.Add(10 * time.Hour)
	snap := models.NewOptionsSnapshot(tExit, 26000, []models.OptionQuote{
		quote(25900, models.Put, 77.0, 1897000, expiry),
	})

	require.NoError(t, eng.evaluateExits(tExit, snap))
	assert.Equal(t, 1.0, counterValue(t, mx.ExitsTotal, string(models.ExitInitialSL)))
}
