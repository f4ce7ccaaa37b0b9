package models

import (
	"time"

	"github.com/google/uuid"
)

// ExitReason enumerates why a position was closed.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitInitialSL  ExitReason = "INITIAL_SL"
	ExitVWAPSL     ExitReason = "VWAP_SL"
	ExitOISL       ExitReason = "OI_SL"
	ExitTrailingSL ExitReason = "TRAILING_SL"
	ExitEOD        ExitReason = "EOD"
	ExitForced     ExitReason = "FORCED_EXIT"
)

// Condition maps an exit reason to the state-machine transition condition
// that records it.
func (r ExitReason) Condition() string {
	switch r {
	case ExitInitialSL:
		return ConditionInitialStop
	case ExitVWAPSL:
		return ConditionVWAPStop
	case ExitOISL:
		return ConditionOIStop
	case ExitTrailingSL:
		return ConditionTrailingStop
	case ExitEOD:
		return ConditionEOD
	case ExitForced:
		return ConditionForcedExit
	default:
		return ConditionManualExit
	}
}

// Position is the open-to-close lifecycle record of a single traded option.
type Position struct {
	// UID is an internal identity distinct from OrderID — stable even if the
	// human-facing order id scheme ever changes.
	UID            string        `json:"uid"`
	OrderID        string        `json:"order_id"`
	Symbol         string        `json:"symbol"`
	Strike         float64       `json:"strike"`
	OptionType     OptionType    `json:"option_type"`
	Expiry         time.Time     `json:"expiry"`
	EntryTime      time.Time     `json:"entry_time"`
	EntryPrice     float64       `json:"entry_price"`
	Size           int           `json:"size"` // lots * lot_size
	EntryVWAP      float64       `json:"entry_vwap"`
	EntryOI        int64         `json:"entry_oi"`
	PeakPrice      float64       `json:"peak_price"`
	TrailingActive bool          `json:"trailing_active"`
	StateMachine   *StateMachine `json:"-"`
	State          PositionState `json:"state"`

	ExitTime   time.Time  `json:"exit_time,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	PnL        float64    `json:"pnl"`
	PnLPct     float64    `json:"pnl_pct"`
}

// NewPosition constructs a freshly-opened position with a fresh state
// machine already transitioned to StateOpen (the broker-sim fills entries
// synchronously — see ledger.Ledger.Open).
func NewPosition(orderID, symbol string, strike float64, t OptionType, expiry time.Time,
	entryTime time.Time, entryPrice float64, size int, entryVWAP float64, entryOI int64) *Position {
	p := &Position{
		UID:        uuid.NewString(),
		OrderID:    orderID,
		Symbol:     symbol,
		Strike:     strike,
		OptionType: t,
		Expiry:     expiry,
		EntryTime:  entryTime,
		EntryPrice: entryPrice,
		Size:       size,
		EntryVWAP:  entryVWAP,
		EntryOI:    entryOI,
		PeakPrice:  entryPrice,
	}
	p.StateMachine = NewStateMachine()
	_ = p.StateMachine.Transition(StateOpen, ConditionOrderFilled)
	p.State = p.StateMachine.CurrentState()
	return p
}

// IsOpen reports whether the position is still under exit management.
func (p *Position) IsOpen() bool {
	if p.StateMachine != nil {
		return p.StateMachine.IsOpen()
	}
	return p.State == StateOpen
}

// Mark updates peak price and the trailing-active flag given a fresh LTP.
// trailing_active is monotonic: once true it never reverts to false, and
// peak_price never decreases while open.
func (p *Position) Mark(ltp float64, profitThresholdRatio float64) {
	if ltp > p.PeakPrice {
		p.PeakPrice = ltp
	}
	if !p.TrailingActive && ltp >= p.EntryPrice*profitThresholdRatio {
		p.TrailingActive = true
	}
}

// Close finalizes the position at the given fill price and reason, updating
// pnl/pnl_pct and transitioning the state machine to StateClosed.
func (p *Position) Close(exitTime time.Time, exitPrice float64, reason ExitReason, pnl float64) error {
	if p.StateMachine != nil {
		if err := p.StateMachine.Transition(StateClosed, reason.Condition()); err != nil {
			return err
		}
		p.State = p.StateMachine.CurrentState()
	} else {
		p.State = StateClosed
	}
	p.ExitTime = exitTime
	p.ExitPrice = exitPrice
	p.ExitReason = reason
	p.PnL = pnl
	if p.EntryPrice != 0 {
		p.PnLPct = pnl / (p.EntryPrice * float64(p.Size))
	}
	return nil
}

// Clone returns a deep copy, used whenever a position crosses a storage
// boundary to prevent shared mutable state between callers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	cp.StateMachine = p.StateMachine.Copy()
	return &cp
}
