package store

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oiunwind/engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigIntFixture() *big.Int {
	return big.NewInt(123456789)
}

func TestDecideRecoveryFreshWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	action, state, err := s.DecideRecovery(time.Now())
	require.NoError(t, err)
	assert.Equal(t, ActionFresh, action)
	assert.Nil(t, state)
}

func TestSaveThenDecideRecoveryForcesResumeWithActivePosition(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	today := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	state := NewPersistedState(today, "sess1", "backtest", 100000)
	pos := models.NewPosition("PAPER_1", "NIFTY", 25900, models.Put, today.AddDate(0, 0, 10), today, 103.50, 50, 97.47, 1897000)
	state.ActivePositions[pos.OrderID] = pos

	s.Adopt(state)
	require.NoError(t, s.Save())

	s2, err := New(dir)
	require.NoError(t, err)
	action, loaded, err := s2.DecideRecovery(today)
	require.NoError(t, err)
	assert.Equal(t, ActionForcedResume, action)
	require.NotNil(t, loaded)
	require.Contains(t, loaded.ActivePositions, pos.OrderID)
	assert.True(t, loaded.ActivePositions[pos.OrderID].StateMachine.IsOpen())
}

func TestDecideRecoveryPromptsOnClosedPositionsOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	today := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	state := NewPersistedState(today, "sess1", "backtest", 100000)
	pos := models.NewPosition("PAPER_1", "NIFTY", 25900, models.Put, today.AddDate(0, 0, 10), today, 103.50, 50, 97.47, 1897000)
	require.NoError(t, pos.Close(today, 77.625, models.ExitInitialSL, -1292.5))
	state.ClosedPositions = append(state.ClosedPositions, pos)

	s.Adopt(state)
	require.NoError(t, s.Save())

	s2, _ := New(dir)
	action, _, err := s2.DecideRecovery(today)
	require.NoError(t, err)
	assert.Equal(t, ActionPromptOperator, action)
}

// TestPortfolioCarryOver checks that session A ending cash 100,352.50
// seeds session B's initial_capital the next day, rather than config.
func TestPortfolioCarryOver(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	dayA := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	stateA := NewPersistedState(dayA, "sessA", "backtest", 100000)
	stateA.Portfolio.Cash = 100352.50
	s.Adopt(stateA)
	require.NoError(t, s.Save())

	dayB := dayA.AddDate(0, 0, 1)
	cash, ok, err := s.MostRecentPriorCash(dayB)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 100352.50, cash, 0.001)
}

func TestMostRecentPriorCashFalseWhenNoPriorFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	_, ok, err := s.MostRecentPriorCash(time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveProducesRestrictivePermissionsAndValidJSON(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	today := time.Now()
	state := NewPersistedState(today, "sess1", "paper", 50000)
	s.Adopt(state)
	require.NoError(t, s.Save())

	path := filepath.Join(dir, "trading_state_"+today.Format("20060102")+".json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNormalizeFoldsBigIntAndFloat32(t *testing.T) {
	m := map[string]any{
		"wide_int": bigIntFixture(),
		"floats":   []float32{1.5, 2.5},
	}
	out := Normalize(m)
	asMap, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(123456789), asMap["wide_int"])
	floats, ok := asMap["floats"].([]float64)
	require.True(t, ok)
	assert.Equal(t, []float64{1.5, 2.5}, floats)
}
