// Package store implements the crash-safe JSON state store: per-day file
// persistence, numeric type normalization, recovery decisioning, and
// multi-day portfolio carry-over.
package store

import (
	"time"

	"github.com/oiunwind/engine/internal/models"
)

// PersistedState is the full content of one day's JSON file.
type PersistedState struct {
	Date            time.Time                   `json:"date"`
	SessionID       string                      `json:"session_id"`
	Mode            string                      `json:"mode"` // backtest | paper | live
	ActivePositions map[string]*models.Position `json:"active_positions"`
	ClosedPositions []*models.Position          `json:"closed_positions"`
	StrategyState   StrategyState               `json:"strategy_state"`
	DailyStats      DailyStats                  `json:"daily_stats"`
	Statistics      models.Statistics           `json:"statistics"`
	Portfolio       models.Portfolio            `json:"portfolio"`
	SystemHealth    SystemHealth                `json:"system_health"`
}

// StrategyState persists the DailyContext and every VWAP accumulator's
// running totals, keyed by "strike:option_type".
type StrategyState struct {
	DailyContext     *models.DailyContext `json:"daily_context"`
	VWAPAccumulators map[string]VWAPPoint `json:"vwap_accumulators"`
}

// VWAPPoint is the serializable form of one VWAP accumulator.
type VWAPPoint struct {
	SumTPV float64 `json:"sum_tpv"`
	SumV   float64 `json:"sum_v"`
}

// DailyStats summarizes the day's trading activity for the dashboard and
// recovery decision.
type DailyStats struct {
	TradesToday int     `json:"trades_today"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// SystemHealth records the last heartbeat, used to detect a stalled
// process across restarts, and whether an invariant violation has latched
// entry refusal for the rest of the session.
type SystemHealth struct {
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	InvariantBroken bool      `json:"invariant_broken"`
}

// NewPersistedState returns an empty state for a fresh trading day.
func NewPersistedState(date time.Time, sessionID, mode string, initialCapital float64) *PersistedState {
	return &PersistedState{
		Date:            date.Truncate(24 * time.Hour),
		SessionID:       sessionID,
		Mode:            mode,
		ActivePositions: make(map[string]*models.Position),
		StrategyState: StrategyState{
			DailyContext:     models.NewDailyContext(date),
			VWAPAccumulators: make(map[string]VWAPPoint),
		},
		Portfolio: *models.NewPortfolio(initialCapital),
	}
}
