package execmode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStrictInitialStop checks entry 103.50, initial_stop_pct 0.25 ->
// threshold 77.625; observed 70.00.
func TestStrictInitialStop(t *testing.T) {
	m := Strict()
	threshold := 103.50 * (1 - 0.25)
	exit := m.Fill(threshold, 70.00)
	assert.InDelta(t, 77.625, exit, 1e-9)
}

func TestMarketInitialStopAppliesSlippageToObserved(t *testing.T) {
	m := Market(0.001)
	threshold := 103.50 * (1 - 0.25)
	exit := m.Fill(threshold, 70.00)
	assert.InDelta(t, 69.93, exit, 0.001)
}

// TestStrictTrailingStop checks peak 238.80, trailing_stop_pct 0.10 ->
// threshold 214.92.
func TestStrictTrailingStop(t *testing.T) {
	m := Strict()
	threshold := 238.80 * (1 - 0.10)
	exit := m.Fill(threshold, 212.00)
	assert.InDelta(t, 214.92, exit, 1e-9)
}

func TestIsStrictAndSlippagePct(t *testing.T) {
	assert.True(t, Strict().IsStrict())
	assert.Equal(t, 0.0, Strict().SlippagePct())

	mk := Market(0.002)
	assert.False(t, mk.IsStrict())
	assert.Equal(t, 0.002, mk.SlippagePct())
}
