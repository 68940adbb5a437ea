package models

import "fmt"

// SharesPerContract is the standard equity option multiplier.
const SharesPerContract = 100

// ShortLeg is a written option held by the account. Quantity is negative.
type ShortLeg struct {
	Contract OptionContract `json:"contract"`
	Quantity int            `json:"quantity"`
}

// Contracts returns the number of contracts to buy back to close the leg.
func (l ShortLeg) Contracts() int {
	if l.Quantity < 0 {
		return -l.Quantity
	}
	return l.Quantity
}

// Position is one symbol's holdings, rebuilt from the broker every cycle.
type Position struct {
	Symbol     string     `json:"symbol"`
	Shares     int        `json:"shares"`
	ShortPuts  []ShortLeg `json:"short_puts"`
	ShortCalls []ShortLeg `json:"short_calls"`
}

// CoveredLots returns how many contracts the share count can cover.
func (p Position) CoveredLots() int {
	if p.Shares <= 0 {
		return 0
	}
	return p.Shares / SharesPerContract
}

// Phase derives the wheel phase from holdings. A short call takes precedence,
// then a round lot of shares, then a short put.
func (p Position) Phase() Phase {
	switch {
	case len(p.ShortCalls) > 0:
		return PhaseShortCall
	case p.Shares >= SharesPerContract:
		return PhaseLongShares
	case len(p.ShortPuts) > 0:
		return PhaseShortPut
	default:
		return PhaseNoPosition
	}
}

func (p Position) String() string {
	return fmt.Sprintf("%s shares=%d short_puts=%d short_calls=%d",
		p.Symbol, p.Shares, len(p.ShortPuts), len(p.ShortCalls))
}
