package models

import (
	"fmt"
	"time"
)

// Action is the order side.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// TimeInForce is the order duration.
type TimeInForce string

const (
	TIFGoodTillCancel TimeInForce = "GTC"
	TIFDay            TimeInForce = "DAY"
)

// OrderIntent is a limit order the engine wants placed. It is built once and
// handed to the order submitter; fills are observed through positions only.
type OrderIntent struct {
	Instrument    Instrument  `json:"-"`
	Action        Action      `json:"action"`
	Quantity      int         `json:"quantity"`
	LimitPrice    float64     `json:"limit_price"`
	Tag           string      `json:"tag"`
	TIF           TimeInForce `json:"tif"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Reason        string      `json:"reason"`
}

// Validate checks the fields a broker will reject.
func (o OrderIntent) Validate() error {
	if o.Instrument == nil {
		return fmt.Errorf("order has no instrument")
	}
	if o.Action != ActionBuy && o.Action != ActionSell {
		return fmt.Errorf("invalid order action %q", o.Action)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order quantity must be > 0, got %d", o.Quantity)
	}
	if o.LimitPrice <= 0 {
		return fmt.Errorf("order limit price must be > 0, got %.4f", o.LimitPrice)
	}
	return nil
}

func (o OrderIntent) String() string {
	desc := "<nil>"
	if o.Instrument != nil {
		desc = o.Instrument.String()
	}
	return fmt.Sprintf("%s %d %s @ %.2f %s", o.Action, o.Quantity, desc, o.LimitPrice, o.TIF)
}

// OrderRecord is the persisted summary of the last order a cycle emitted.
type OrderRecord struct {
	Description   string    `json:"description"`
	Action        Action    `json:"action"`
	Quantity      int       `json:"quantity"`
	LimitPrice    float64   `json:"limit_price"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	DryRun        bool      `json:"dry_run"`
	SubmittedAt   time.Time `json:"submitted_at"`
}
