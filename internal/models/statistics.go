package models

// Statistics tracks cumulative trade performance: win/loss counts, running
// averages, streaks, and the worst single-trade loss. Shape mirrors the
// figures a dashboard or recovery decision needs without re-deriving them
// from the full closed-position history on every read.
type Statistics struct {
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	WinRate            float64 `json:"win_rate"`
	TotalPnL           float64 `json:"total_pnl"`
	AverageWin         float64 `json:"average_win"`
	AverageLoss        float64 `json:"average_loss"`          // magnitude, always >= 0
	MaxSingleTradeLoss float64 `json:"max_single_trade_loss"` // negative, 0 until a loss occurs
	CurrentStreak      int     `json:"current_streak"`        // positive run of wins, negative run of losses
}

// Update folds one closed trade's pnl into the running statistics.
func (s *Statistics) Update(pnl float64) {
	s.TotalTrades++
	s.TotalPnL += pnl

	if pnl > 0 {
		s.WinningTrades++
		if s.CurrentStreak >= 0 {
			s.CurrentStreak++
		} else {
			s.CurrentStreak = 1
		}
		totalWins := s.AverageWin*float64(s.WinningTrades-1) + pnl
		s.AverageWin = totalWins / float64(s.WinningTrades)
	} else {
		s.LosingTrades++
		if s.CurrentStreak <= 0 {
			s.CurrentStreak--
		} else {
			s.CurrentStreak = -1
		}
		totalLosses := s.AverageLoss*float64(s.LosingTrades-1) + (-pnl)
		s.AverageLoss = totalLosses / float64(s.LosingTrades)
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
	}
	if pnl < 0 && pnl < s.MaxSingleTradeLoss {
		s.MaxSingleTradeLoss = pnl
	}
}
