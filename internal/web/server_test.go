package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oiunwind/engine/internal/ledger"
	"github.com/oiunwind/engine/internal/models"
)

func testLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	l := ledger.New(100000, day, 5, 5, 20)
	expiry := day.AddDate(0, 0, 10)
	_, err := l.Open("NIFTY", 25900, models.Put, expiry, day, 103.50, 50, 97.47, 1897000)
	require.NoError(t, err)
	return l
}

func TestHandleHealthIsAlwaysReachable(t *testing.T) {
	s := New(Config{Port: 0}, testLedger(t), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	s := New(Config{Port: 0, AuthToken: "secret"}, testLedger(t), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesAcceptHeaderToken(t *testing.T) {
	s := New(Config{Port: 0, AuthToken: "secret"}, testLedger(t), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("X-Auth-Token", "secret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var views []PositionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, 25900.0, views[0].Strike)
	assert.Equal(t, "PUT", views[0].OptionType)
}

func TestHandleGetStatsReflectsLedgerState(t *testing.T) {
	s := New(Config{Port: 0}, testLedger(t), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1, stats.OpenPositions)
	assert.Equal(t, 1, stats.TradesToday)
}
