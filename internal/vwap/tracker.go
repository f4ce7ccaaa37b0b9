// Package vwap implements the per-strike running VWAP accumulator used by
// the entry gate and VWAP-relative stop.
package vwap

import "github.com/oiunwind/engine/internal/models"

// key addresses an accumulator by the (trading_strike, option_type) pair it
// is anchored to.
type key struct {
	Strike     float64
	OptionType models.OptionType
}

// Tracker owns one running accumulator per (strike, option_type) pair seen
// during a trading day, keyed exactly like the engine's active contract.
type Tracker struct {
	accumulators map[key]*accumulator
}

type accumulator struct {
	sumTPV float64 // Σ typical_price * volume
	sumV   float64 // Σ volume
}

// NewTracker returns an empty tracker, ready for a fresh trading day.
func NewTracker() *Tracker {
	return &Tracker{accumulators: make(map[key]*accumulator)}
}

// Update folds one bar into the accumulator for (strike, optionType). It is
// the caller's responsibility to call this once per bar for the active
// contract only — the tracker does not itself dedupe repeated bars.
func (t *Tracker) Update(strike float64, optionType models.OptionType, q models.OptionQuote) {
	k := key{strike, optionType}
	acc, ok := t.accumulators[k]
	if !ok {
		acc = &accumulator{}
		t.accumulators[k] = acc
	}
	v := float64(q.Volume)
	acc.sumTPV += q.TypicalPrice() * v
	acc.sumV += v
}

// Value returns the current VWAP for (strike, optionType) and whether it is
// defined (Σv > 0).
func (t *Tracker) Value(strike float64, optionType models.OptionType) (float64, bool) {
	acc, ok := t.accumulators[key{strike, optionType}]
	if !ok || acc.sumV == 0 {
		return 0, false
	}
	return acc.sumTPV / acc.sumV, true
}

// ResetStrike discards the accumulator for (strike, optionType), called on
// a strike switch.
func (t *Tracker) ResetStrike(strike float64, optionType models.OptionType) {
	delete(t.accumulators, key{strike, optionType})
}

// ResetAll discards every accumulator, called on a new trading day.
func (t *Tracker) ResetAll() {
	t.accumulators = make(map[key]*accumulator)
}

// Point is the exported, persistence-safe state of one accumulator.
type Point struct {
	Strike     float64
	OptionType models.OptionType
	SumTPV     float64
	SumV       float64
}

// Snapshot returns every accumulator's running totals, for persistence.
func (t *Tracker) Snapshot() []Point {
	out := make([]Point, 0, len(t.accumulators))
	for k, acc := range t.accumulators {
		out = append(out, Point{Strike: k.Strike, OptionType: k.OptionType, SumTPV: acc.sumTPV, SumV: acc.sumV})
	}
	return out
}

// Restore replaces the tracker's accumulators with points loaded from
// persisted state, used when resuming a forced-resume session.
func (t *Tracker) Restore(points []Point) {
	t.accumulators = make(map[key]*accumulator, len(points))
	for _, p := range points {
		t.accumulators[key{p.Strike, p.OptionType}] = &accumulator{sumTPV: p.SumTPV, sumV: p.SumV}
	}
}
