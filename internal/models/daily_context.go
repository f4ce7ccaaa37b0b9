package models

import "time"

// Direction is the OI-skew direction the strategy is biased toward for the
// trading day.
type Direction string

const (
	DirectionNone Direction = "NONE"
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// DailyContext captures the once-per-day OI analysis and the trading strike
// it selects, reset at every day rollover.
type DailyContext struct {
	TradingDate     time.Time `json:"trading_date"`
	Direction       Direction `json:"direction"`
	MaxCallOIStrike float64   `json:"max_call_oi_strike"`
	MaxPutOIStrike  float64   `json:"max_put_oi_strike"`
	CallDistance    float64   `json:"call_distance"`
	PutDistance     float64   `json:"put_distance"`
	TradingStrike   float64   `json:"trading_strike"`
	Expiry          time.Time `json:"expiry"`
	TradesToday     int       `json:"trades_today"`
	DailyTradeTaken bool      `json:"daily_trade_taken"`
}

// NewDailyContext returns a zeroed context for tradingDate, not yet analyzed.
func NewDailyContext(tradingDate time.Time) *DailyContext {
	return &DailyContext{
		TradingDate: tradingDate.Truncate(24 * time.Hour),
		Direction:   DirectionNone,
	}
}

// Resolved reports whether the daily OI analysis has picked a direction and
// trading strike yet.
func (d *DailyContext) Resolved() bool {
	return d.Direction != DirectionNone
}

// RecordTrade increments the day's trade counter and marks the daily trade
// as taken. The engine's entry gate compares TradesToday against
// risk.max_trades_per_day.
func (d *DailyContext) RecordTrade() {
	d.TradesToday++
	d.DailyTradeTaken = true
}

// CanEnter reports whether a new entry may still be taken today.
func (d *DailyContext) CanEnter() bool {
	return d.Resolved() && !d.DailyTradeTaken
}
