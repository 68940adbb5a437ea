// Package models provides the value types shared by the wheel engine: contracts,
// quotes, option candidates, positions and phases.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SecType identifies the security type of an instrument.
type SecType string

const (
	// SecTypeStock is an equity.
	SecTypeStock SecType = "STK"
	// SecTypeOption is an equity option.
	SecTypeOption SecType = "OPT"
)

// Right is the option right.
type Right string

const (
	// RightPut is a put option.
	RightPut Right = "P"
	// RightCall is a call option.
	RightCall Right = "C"
)

// ExpiryLayout is the broker's expiration date format.
const ExpiryLayout = "20060102"

// ParseRight accepts P, PUT, C or CALL in any case.
func ParseRight(s string) (Right, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P", "PUT":
		return RightPut, nil
	case "C", "CALL":
		return RightCall, nil
	default:
		return "", fmt.Errorf("unknown option right %q", s)
	}
}

// String returns "put" or "call".
func (r Right) String() string {
	switch r {
	case RightPut:
		return "put"
	case RightCall:
		return "call"
	default:
		return string(r)
	}
}

// Instrument is either a Stock or an OptionContract.
type Instrument interface {
	Underlying() string
	ContractID() int
	SecType() SecType
	String() string
	isInstrument()
}

// Stock is an equity contract reference.
type Stock struct {
	ConID    int    `json:"conid"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

func (s Stock) Underlying() string { return s.Symbol }
func (s Stock) ContractID() int    { return s.ConID }
func (s Stock) SecType() SecType   { return SecTypeStock }
func (s Stock) String() string     { return s.Symbol }
func (Stock) isInstrument()        {}

// OptionContract is a fully specified equity option reference. Every field the
// order path relies on is mandatory; incomplete broker references are repaired
// by broker.NormalizeOption before they reach this type.
type OptionContract struct {
	ConID        int       `json:"conid"`
	Symbol       string    `json:"symbol"`
	Expiry       time.Time `json:"expiry"`
	Strike       float64   `json:"strike"`
	Right        Right     `json:"right"`
	Exchange     string    `json:"exchange"`
	Currency     string    `json:"currency"`
	TradingClass string    `json:"trading_class"`
	LocalSymbol  string    `json:"local_symbol,omitempty"`
	Multiplier   int       `json:"multiplier"`
}

func (o OptionContract) Underlying() string { return o.Symbol }
func (o OptionContract) ContractID() int    { return o.ConID }
func (o OptionContract) SecType() SecType   { return SecTypeOption }
func (OptionContract) isInstrument()        {}

// ExpiryCode returns the expiration as YYYYMMDD.
func (o OptionContract) ExpiryCode() string {
	return o.Expiry.Format(ExpiryLayout)
}

// DTE returns calendar days from now until expiration. Negative once expired.
func (o OptionContract) DTE(now time.Time) int {
	return DaysToExpiry(o.Expiry, now)
}

func (o OptionContract) String() string {
	return fmt.Sprintf("%s %s %g%s", o.Symbol, o.ExpiryCode(), o.Strike, o.Right)
}

// ParseExpiry parses an expiration in YYYYMMDD or YYYY-MM-DD form as a UTC date.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{ExpiryLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid expiry %q", s)
}

// DaysToExpiry counts calendar days between the UTC dates of now and expiry.
func DaysToExpiry(expiry, now time.Time) int {
	e := expiry.UTC()
	n := now.UTC()
	ed := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)
	nd := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return int(ed.Sub(nd).Hours() / 24)
}
