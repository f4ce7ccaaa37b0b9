package models

// Portfolio tracks account-level capital and aggregate return.
// Positions themselves live in the ledger; Portfolio only carries the
// capital figures that span the whole run.
type Portfolio struct {
	InitialCapital float64 `json:"initial_capital"`
	Cash           float64 `json:"cash"`
	PositionsValue float64 `json:"positions_value"`
	TotalValue     float64 `json:"total_value"`
	TotalReturnPct float64 `json:"total_return_pct"`
	RealizedPnL    float64 `json:"realized_pnl"`
	TradeCount     int     `json:"trade_count"`
	WinCount       int     `json:"win_count"`
}

// NewPortfolio returns a portfolio fully in cash.
func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		InitialCapital: initialCapital,
		Cash:           initialCapital,
		TotalValue:     initialCapital,
	}
}

// Recompute refreshes TotalValue and TotalReturnPct from Cash and
// PositionsValue. Callers must invoke this after any mutation to either
// field to keep the derived totals consistent.
func (p *Portfolio) Recompute() {
	p.TotalValue = p.Cash + p.PositionsValue
	if p.InitialCapital != 0 {
		p.TotalReturnPct = (p.TotalValue - p.InitialCapital) / p.InitialCapital
	}
}

// ApplyFill adds cashDelta to cash (negative = cash outflow on entry,
// positive = inflow on exit) and recomputes totals.
func (p *Portfolio) ApplyFill(cashDelta float64) {
	p.Cash += cashDelta
	p.Recompute()
}

// RecordClose updates realized PnL and win-rate bookkeeping for a closed
// trade.
func (p *Portfolio) RecordClose(pnl float64) {
	p.RealizedPnL += pnl
	p.TradeCount++
	if pnl > 0 {
		p.WinCount++
	}
}

// WinRate returns the fraction of closed trades that were profitable, or 0
// if none have closed yet.
func (p *Portfolio) WinRate() float64 {
	if p.TradeCount == 0 {
		return 0
	}
	return float64(p.WinCount) / float64(p.TradeCount)
}

// Invariant reports an error-worthy condition: cash must never go negative.
func (p *Portfolio) Invariant() bool {
	return p.Cash >= 0
}
