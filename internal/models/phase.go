package models

// Phase is the wheel phase of a symbol. It is computed from live positions on
// every cycle and never driven from stored state.
type Phase string

const (
	PhaseNoPosition Phase = "NO_POSITION"
	PhaseShortPut   Phase = "SHORT_PUT"
	PhaseLongShares Phase = "LONG_SHARES"
	PhaseShortCall  Phase = "SHORT_CALL"
)

// PhaseTransition is an edge of the wheel.
type PhaseTransition struct {
	From        Phase
	To          Phase
	Description string
}

// ValidTransitions lists the phase changes the wheel produces on its own
// between two consecutive cycles. Anything else points at a missed cycle or a
// manual change in the account.
var ValidTransitions = []PhaseTransition{
	{PhaseNoPosition, PhaseShortPut, "put sold"},
	{PhaseShortPut, PhaseNoPosition, "put closed or expired"},
	{PhaseShortPut, PhaseLongShares, "put assigned"},
	{PhaseLongShares, PhaseShortCall, "call sold"},
	{PhaseShortCall, PhaseLongShares, "call closed or expired"},
	{PhaseShortCall, PhaseNoPosition, "shares called away"},
}

// IsExpectedTransition reports whether moving from one phase to another is a
// normal wheel step. Staying in the same phase is always expected.
func IsExpectedTransition(from, to Phase) bool {
	if from == "" || from == to {
		return true
	}
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseNoPosition, PhaseShortPut, PhaseLongShares, PhaseShortCall:
		return true
	default:
		return false
	}
}
