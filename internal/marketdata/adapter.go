// Package marketdata defines the market-data adapter contract (spot,
// options chain, LTP, expiry resolution) and its two implementations:
// CSVAdapter for backtest and RESTAdapter for live/paper trading.
package marketdata

import (
	"context"
	"time"

	"github.com/oiunwind/engine/internal/config"
	"github.com/oiunwind/engine/internal/models"
)

// Adapter supplies spot, options chain, and LTP at a timestamp, abstracting
// backtest-from-files from a live broker feed.
type Adapter interface {
	// Spot returns the underlying price at t, or models.ErrNoData.
	Spot(ctx context.Context, t time.Time) (float64, error)
	// Chain returns the full options snapshot at t, or models.ErrNoData.
	// Neither implementation narrows it to the strikesBelow/strikesAbove
	// band; the OI analyzer applies that band.
	Chain(ctx context.Context, t time.Time, spot float64, strikesBelow, strikesAbove int, policy config.ExpiryPolicy) (*models.OptionsSnapshot, error)
	// LTP returns the last traded price of one contract at t, or
	// models.ErrNoData.
	LTP(ctx context.Context, t time.Time, strike float64, optionType models.OptionType, expiry time.Time) (float64, error)
	// IsMarketOpen reports whether the market is open at t.
	IsMarketOpen(ctx context.Context, t time.Time) (bool, error)
	// ResolveExpiry picks the closest future expiry on/after t.Date,
	// honoring skipMonTue, or models.ErrNoFeasibleExpiry.
	ResolveExpiry(ctx context.Context, t time.Time, policy config.ExpiryPolicy, skipMonTue bool) (time.Time, error)
}

// ResolveExpiryFromCandidates implements the shared expiry-picking rule
// used by both adapters: the closest candidate expiry on/after t's date,
// optionally skipping ones that fall on Monday or Tuesday.
func ResolveExpiryFromCandidates(t time.Time, candidates []time.Time, skipMonTue bool) (time.Time, error) {
	day := t.Truncate(24 * time.Hour)
	var best time.Time
	found := false
	for _, c := range candidates {
		cd := c.Truncate(24 * time.Hour)
		if cd.Before(day) {
			continue
		}
		if skipMonTue && (cd.Weekday() == time.Monday || cd.Weekday() == time.Tuesday) {
			continue
		}
		if !found || cd.Before(best) {
			best = cd
			found = true
		}
	}
	if !found {
		return time.Time{}, models.ErrNoFeasibleExpiry
	}
	return best, nil
}
