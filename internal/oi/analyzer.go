// Package oi implements the open-interest analysis that picks a trading
// direction and strike for the day.
package oi

import (
	"math"
	"sort"

	"github.com/oiunwind/engine/internal/models"
)

// Analysis is the outcome of one run of the analyzer against a snapshot.
type Analysis struct {
	MaxCallOIStrike float64
	MaxPutOIStrike  float64
	CallDistance    float64
	PutDistance     float64
	Direction       models.Direction
	TradingStrike   float64
}

// Analyze selects the strikes_below highest strikes strictly below spot and
// strikes_above lowest strikes at or above spot, finds the max-OI strike per
// option type within that band, derives signed distances and a direction,
// and resolves the strike actually traded.
func Analyze(snapshot *models.OptionsSnapshot, spot float64, strikesBelow, strikesAbove int) (Analysis, error) {
	below, above := splitBand(snapshot.Strikes(), spot, strikesBelow, strikesAbove)
	band := append(below, above...)

	maxCallStrike, hasCall := maxOIStrike(snapshot, band, models.Call)
	maxPutStrike, hasPut := maxOIStrike(snapshot, band, models.Put)

	callDistance := math.Inf(1)
	if hasCall {
		callDistance = maxCallStrike - spot
	}
	putDistance := math.Inf(1)
	if hasPut {
		putDistance = spot - maxPutStrike
	}

	// Ties break to PUT.
	direction := models.DirectionPut
	if callDistance < putDistance {
		direction = models.DirectionCall
	}

	tradingStrike, err := tradingStrikeFor(snapshot.Strikes(), spot, direction)
	if err != nil {
		return Analysis{}, err
	}

	return Analysis{
		MaxCallOIStrike: maxCallStrike,
		MaxPutOIStrike:  maxPutStrike,
		CallDistance:    callDistance,
		PutDistance:     putDistance,
		Direction:       direction,
		TradingStrike:   tradingStrike,
	}, nil
}

// RecomputeTradingStrike re-derives only the trading strike for an already
// frozen direction — called every tick, since direction is locked for the
// day but the strike may drift with spot.
func RecomputeTradingStrike(snapshot *models.OptionsSnapshot, spot float64, direction models.Direction) (float64, error) {
	return tradingStrikeFor(snapshot.Strikes(), spot, direction)
}

// splitBand returns the `below` highest strikes strictly below spot and the
// `above` lowest strikes at or above spot.
func splitBand(strikes []float64, spot float64, below, above int) (belowOut, aboveOut []float64) {
	sort.Float64s(strikes)

	var belowAll, aboveAll []float64
	for _, s := range strikes {
		if s < spot {
			belowAll = append(belowAll, s)
		} else {
			aboveAll = append(aboveAll, s)
		}
	}

	if len(belowAll) > below {
		belowOut = belowAll[len(belowAll)-below:]
	} else {
		belowOut = belowAll
	}
	if len(aboveAll) > above {
		aboveOut = aboveAll[:above]
	} else {
		aboveOut = aboveAll
	}
	return belowOut, aboveOut
}

// maxOIStrike returns the strike within band with the largest OI for t.
func maxOIStrike(snapshot *models.OptionsSnapshot, band []float64, t models.OptionType) (float64, bool) {
	var best float64
	var bestOI int64 = -1
	found := false
	for _, strike := range band {
		for _, q := range snapshot.Quotes(t) {
			if q.Strike != strike {
				continue
			}
			if q.OI > bestOI {
				bestOI = q.OI
				best = strike
				found = true
			}
		}
	}
	return best, found
}

// tradingStrikeFor picks: for CALL, the smallest strike >= spot; for PUT,
// the largest strike < spot.
func tradingStrikeFor(strikes []float64, spot float64, direction models.Direction) (float64, error) {
	sort.Float64s(strikes)

	if direction == models.DirectionCall {
		for _, s := range strikes {
			if s >= spot {
				return s, nil
			}
		}
		return 0, models.ErrNoTradableStrike
	}

	for i := len(strikes) - 1; i >= 0; i-- {
		if strikes[i] < spot {
			return strikes[i], nil
		}
	}
	return 0, models.ErrNoTradableStrike
}
