package vwap

import (
	"testing"

	"github.com/oiunwind/engine/internal/models"
	"github.com/stretchr/testify/assert"
)

// TestVWAPMatchesScenario checks a close of 103.50 landing above a lower
// running VWAP.
func TestVWAPMatchesScenario(t *testing.T) {
	tr := NewTracker()
	tr.Update(25900, models.Put, models.OptionQuote{High: 95, Low: 85, Close: 90, Volume: 50000})
	tr.Update(25900, models.Put, models.OptionQuote{High: 105, Low: 98, Close: 103.5, Volume: 30000})

	v, ok := tr.Value(25900, models.Put)
	assert.True(t, ok)
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 103.5)
}

func TestValueUndefinedWithoutVolume(t *testing.T) {
	tr := NewTracker()
	_, ok := tr.Value(100, models.Call)
	assert.False(t, ok)
}

func TestResetStrikeDiscardsOnlyThatKey(t *testing.T) {
	tr := NewTracker()
	tr.Update(100, models.Call, models.OptionQuote{High: 10, Low: 8, Close: 9, Volume: 10})
	tr.Update(200, models.Put, models.OptionQuote{High: 20, Low: 18, Close: 19, Volume: 10})

	tr.ResetStrike(100, models.Call)

	_, ok := tr.Value(100, models.Call)
	assert.False(t, ok)
	_, ok = tr.Value(200, models.Put)
	assert.True(t, ok)
}

func TestResetAllClearsEverything(t *testing.T) {
	tr := NewTracker()
	tr.Update(100, models.Call, models.OptionQuote{High: 10, Low: 8, Close: 9, Volume: 10})
	tr.ResetAll()
	_, ok := tr.Value(100, models.Call)
	assert.False(t, ok)
}

func TestUpdateAccumulatesAcrossMultipleBars(t *testing.T) {
	tr := NewTracker()
	tr.Update(100, models.Call, models.OptionQuote{High: 12, Low: 8, Close: 10, Volume: 100}) // tp=10
	tr.Update(100, models.Call, models.OptionQuote{High: 22, Low: 18, Close: 20, Volume: 100}) // tp=20

	v, ok := tr.Value(100, models.Call)
	assert.True(t, ok)
	assert.InDelta(t, 15.0, v, 0.001)
}
