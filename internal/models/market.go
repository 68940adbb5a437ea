package models

import "time"

// QuoteSource records which tier produced a spot price.
type QuoteSource string

const (
	SourceStreaming  QuoteSource = "streaming"
	SourceSnapshot   QuoteSource = "snapshot"
	SourceHistorical QuoteSource = "historical"
)

// Quote is a resolved spot price. Price is always positive.
type Quote struct {
	Price  float64     `json:"price"`
	Source QuoteSource `json:"source"`
}

// Ticker is the quote-like record returned by the gateway. Zero means the
// field has not been populated yet.
type Ticker struct {
	Last       float64   `json:"last"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Close      float64   `json:"close"`
	Delta      float64   `json:"delta,omitempty"`
	ImpliedVol float64   `json:"implied_vol,omitempty"`
	Time       time.Time `json:"time"`
}

func positive(v float64) bool { return v > 0 }

// Mid returns the bid/ask midpoint when both sides are populated.
func (t Ticker) Mid() (float64, bool) {
	if positive(t.Bid) && positive(t.Ask) {
		return (t.Bid + t.Ask) / 2, true
	}
	return 0, false
}

// FirstPrice returns the first positive value among last, close, bid, ask and mid.
func (t Ticker) FirstPrice() (float64, bool) {
	for _, v := range []float64{t.Last, t.Close, t.Bid, t.Ask} {
		if positive(v) {
			return v, true
		}
	}
	return t.Mid()
}

// Mark returns the midpoint, else the last trade.
func (t Ticker) Mark() (float64, bool) {
	if mid, ok := t.Mid(); ok {
		return mid, true
	}
	if positive(t.Last) {
		return t.Last, true
	}
	return 0, false
}

// Marketable returns the price a buy order should pay now: ask, else last.
func (t Ticker) Marketable() (float64, bool) {
	if positive(t.Ask) {
		return t.Ask, true
	}
	if positive(t.Last) {
		return t.Last, true
	}
	return 0, false
}

// HasAny reports whether any tradable price field is populated.
func (t Ticker) HasAny() bool {
	return positive(t.Last) || positive(t.Bid) || positive(t.Ask)
}

// ChainSnapshot is one underlying's expirations and strikes from a single
// routing entry. Both slices are sorted ascending without duplicates.
type ChainSnapshot struct {
	Symbol      string      `json:"symbol"`
	Exchange    string      `json:"exchange"`
	Expirations []time.Time `json:"expirations"`
	Strikes     []float64   `json:"strikes"`
}

// OptionCandidate is a strike/expiration chosen by delta. It is a value and is
// not modified after selection.
type OptionCandidate struct {
	Symbol           string    `json:"symbol"`
	Right            Right     `json:"right"`
	Strike           float64   `json:"strike"`
	Expiry           time.Time `json:"expiry"`
	DTE              int       `json:"dte"`
	ModelDelta       float64   `json:"model_delta"`
	TheoreticalPrice float64   `json:"theoretical_price"`
	Spot             float64   `json:"spot"`
	Volatility       float64   `json:"volatility"`
}

// Contract returns the unqualified option reference for the candidate.
func (c OptionCandidate) Contract() OptionContract {
	return OptionContract{
		Symbol: c.Symbol,
		Expiry: c.Expiry,
		Strike: c.Strike,
		Right:  c.Right,
	}
}
