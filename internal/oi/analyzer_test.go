package oi

import (
	"testing"
	"time"

	"github.com/oiunwind/engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quote(strike float64, t models.OptionType, oi int64) models.OptionQuote {
	return models.OptionQuote{
		Strike:     strike,
		OptionType: t,
		Expiry:     time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC),
		Open:       100, High: 110, Low: 95, Close: 103,
		Volume: 1000,
		OI:     oi,
	}
}

// TestDirectionFlipsToPut checks spot 25946.95, max_call_oi_strike 26000
// (distance 53.05), max_put_oi_strike 25900 (distance 46.95) -> direction
// PUT, trading_strike 25900.
func TestDirectionFlipsToPut(t *testing.T) {
	spot := 25946.95
	var quotes []models.OptionQuote
	strikes := []float64{25800, 25850, 25900, 25950, 26000, 26050}
	for _, s := range strikes {
		quotes = append(quotes, quote(s, models.Call, 100))
		quotes = append(quotes, quote(s, models.Put, 100))
	}
	// Bump OI at 26000 CALL and 25900 PUT to be the max in-band.
	for i, q := range quotes {
		if q.Strike == 26000 && q.OptionType == models.Call {
			quotes[i].OI = 2_000_000
		}
		if q.Strike == 25900 && q.OptionType == models.Put {
			quotes[i].OI = 1_897_000
		}
	}
	snapshot := models.NewOptionsSnapshot(time.Now(), spot, quotes)

	result, err := Analyze(snapshot, spot, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionPut, result.Direction)
	assert.Equal(t, 25900.0, result.TradingStrike)
	assert.InDelta(t, 53.05, result.CallDistance, 0.01)
	assert.InDelta(t, 46.95, result.PutDistance, 0.01)
}

func TestDirectionTiesBreakToPut(t *testing.T) {
	spot := 100.0
	quotes := []models.OptionQuote{
		quote(110, models.Call, 500), // call_distance = 10
		quote(90, models.Put, 500),   // put_distance = 10
	}
	snapshot := models.NewOptionsSnapshot(time.Now(), spot, quotes)
	result, err := Analyze(snapshot, spot, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionPut, result.Direction)
}

func TestNoTradableStrikeWhenBandEmpty(t *testing.T) {
	snapshot := models.NewOptionsSnapshot(time.Now(), 100, nil)
	_, err := Analyze(snapshot, 100, 5, 5)
	assert.ErrorIs(t, err, models.ErrNoTradableStrike)
}

func TestSplitBandLimitsToConfiguredCounts(t *testing.T) {
	strikes := []float64{90, 91, 92, 93, 94, 95, 100, 101, 102, 103, 104}
	below, above := splitBand(strikes, 96, 3, 2)
	assert.Equal(t, []float64{93, 94, 95}, below)
	assert.Equal(t, []float64{100, 101}, above)
}

func TestTradingStrikeForCallPicksSmallestAtOrAboveSpot(t *testing.T) {
	strikes := []float64{90, 95, 100, 105}
	strike, err := tradingStrikeFor(strikes, 97, models.DirectionCall)
	require.NoError(t, err)
	assert.Equal(t, 100.0, strike)
}

func TestTradingStrikeForPutPicksLargestBelowSpot(t *testing.T) {
	strikes := []float64{90, 95, 100, 105}
	strike, err := tradingStrikeFor(strikes, 97, models.DirectionPut)
	require.NoError(t, err)
	assert.Equal(t, 95.0, strike)
}

func TestRecomputeTradingStrikeTracksSpotDrift(t *testing.T) {
	strikes := []float64{90, 95, 100, 105}
	snapshot := models.NewOptionsSnapshot(time.Now(), 97, []models.OptionQuote{
		quote(90, models.Put, 10), quote(95, models.Put, 10),
		quote(100, models.Call, 10), quote(105, models.Call, 10),
	})
	_ = strikes
	strike, err := RecomputeTradingStrike(snapshot, 101, models.DirectionCall)
	require.NoError(t, err)
	assert.Equal(t, 105.0, strike)
}
