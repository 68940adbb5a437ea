// Package strategy holds the Wheel decision logic: strike selection, position
// classification and the per-symbol cycle controller.
package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// LegConfig describes how to pick one kind of short leg.
type LegConfig struct {
	TargetDelta float64
	MinDTE      int
	MaxDTE      int
}

func (l LegConfig) validate(name string) error {
	if l.TargetDelta <= 0 || l.TargetDelta >= 1 {
		return fmt.Errorf("%s target delta must be in (0,1), got %.3f", name, l.TargetDelta)
	}
	if l.MinDTE < 0 || l.MaxDTE < l.MinDTE {
		return fmt.Errorf("%s DTE window [%d,%d] is invalid", name, l.MinDTE, l.MaxDTE)
	}
	return nil
}

// Config is the immutable strategy configuration. It is passed by value and
// never modified during a run.
type Config struct {
	Quantity          int
	Put               LegConfig
	Call              LegConfig
	Markup            float64
	TakeProfit        float64
	RollDTEThreshold  int
	RiskFreeRate      float64
	DefaultVolatility float64
	VolLookbackDays   int
	OrderTag          string
	VerifyGreeks      bool
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		Quantity:          1,
		Put:               LegConfig{TargetDelta: 0.25, MinDTE: 30, MaxDTE: 45},
		Call:              LegConfig{TargetDelta: 0.20, MinDTE: 30, MaxDTE: 45},
		Markup:            0.10,
		TakeProfit:        0.50,
		RollDTEThreshold:  5,
		RiskFreeRate:      0.03,
		DefaultVolatility: 0.20,
		VolLookbackDays:   21,
		OrderTag:          "WHEELBOT",
	}
}

// Validate checks the configuration for values the controller cannot act on.
func (c Config) Validate() error {
	if c.Quantity < 1 {
		return errors.New("quantity must be at least 1")
	}
	if err := c.Put.validate("put"); err != nil {
		return err
	}
	if err := c.Call.validate("call"); err != nil {
		return err
	}
	if c.Markup < 0 {
		return fmt.Errorf("markup must be >= 0, got %.3f", c.Markup)
	}
	if c.TakeProfit <= 0 || c.TakeProfit >= 1 {
		return fmt.Errorf("take profit must be in (0,1), got %.3f", c.TakeProfit)
	}
	if c.RollDTEThreshold < 0 {
		return fmt.Errorf("roll DTE threshold must be >= 0, got %d", c.RollDTEThreshold)
	}
	if c.DefaultVolatility <= 0 {
		return fmt.Errorf("default volatility must be > 0, got %.3f", c.DefaultVolatility)
	}
	if c.VolLookbackDays < 2 {
		return fmt.Errorf("volatility lookback must be at least 2 days, got %d", c.VolLookbackDays)
	}
	if strings.TrimSpace(c.OrderTag) == "" {
		return errors.New("order tag is required")
	}
	return nil
}
