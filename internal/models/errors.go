// Package models provides the shared data structures for the OI-unwinding
// momentum engine: option quotes, the daily trading context, positions and
// their state machine, and the portfolio.
package models

import "errors"

// Sentinel errors returned by market-data and analysis calls instead of
// propagating transport-level failures. The engine treats every one of
// these as "skip the current tick", never as fatal.
var (
	// ErrNoData indicates the market-data adapter had nothing to return for
	// the requested timestamp (after retries were exhausted, if applicable).
	ErrNoData = errors.New("no data available")
	// ErrNoTradableStrike indicates the OI analyzer could not find a strike
	// to trade in the chosen direction within the current snapshot.
	ErrNoTradableStrike = errors.New("no tradable strike in snapshot")
	// ErrNoFeasibleExpiry indicates expiry resolution found no matching
	// expiry under the configured policy.
	ErrNoFeasibleExpiry = errors.New("no feasible expiry")
	// ErrInvariantViolation indicates a broken invariant (negative cash,
	// position not found on close, etc.) that forces all positions closed
	// and blocks new entries until operator intervention.
	ErrInvariantViolation = errors.New("invariant violation")
)
