// Package broker defines the gateway the wheel engine trades through and the
// Interactive Brokers Client Portal implementation of it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
)

var (
	// ErrDisconnected means there is no live brokerage session. It is fatal to a run.
	ErrDisconnected = errors.New("broker session disconnected")
	// ErrMalformedContract marks a broker contract reference that cannot be repaired.
	ErrMalformedContract = errors.New("malformed contract reference")
	// ErrNotFound is returned when a contract lookup has no match.
	ErrNotFound = errors.New("contract not found")
)

// MarketDataMode selects the market data feed type.
type MarketDataMode int

const (
	MarketDataLive          MarketDataMode = 1
	MarketDataFrozen        MarketDataMode = 2
	MarketDataDelayed       MarketDataMode = 3
	MarketDataDelayedFrozen MarketDataMode = 4
)

// Valid reports whether m is a known mode.
func (m MarketDataMode) Valid() bool {
	return m >= MarketDataLive && m <= MarketDataDelayedFrozen
}

func (m MarketDataMode) String() string {
	switch m {
	case MarketDataLive:
		return "live"
	case MarketDataFrozen:
		return "frozen"
	case MarketDataDelayed:
		return "delayed"
	case MarketDataDelayedFrozen:
		return "delayed-frozen"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// BarSizeDay requests daily bars.
const BarSizeDay = "1d"

// Bar is one historical OHLC bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// ChainParams is one routing entry of an option chain definition.
type ChainParams struct {
	Exchange    string    `json:"exchange"`
	Expirations []string  `json:"expirations"`
	Strikes     []float64 `json:"strikes"`
}

// PositionItem is a broker position as returned, before normalization. Option
// metadata may be missing.
type PositionItem struct {
	ConID        int     `json:"conid"`
	Symbol       string  `json:"symbol"`
	SecType      string  `json:"sec_type"`
	LocalSymbol  string  `json:"local_symbol"`
	Exchange     string  `json:"exchange"`
	Currency     string  `json:"currency"`
	TradingClass string  `json:"trading_class"`
	Expiry       string  `json:"expiry"`
	Strike       float64 `json:"strike"`
	Right        string  `json:"right"`
	Multiplier   float64 `json:"multiplier"`
	Quantity     float64 `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
}

// OpenOrder is a working order reported by the broker.
type OpenOrder struct {
	OrderID    string  `json:"order_id"`
	ConID      int     `json:"conid"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Status     string  `json:"status"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
	OrderRef   string  `json:"order_ref"`
}

// Order is the wire-level limit order handed to PlaceOrder.
type Order struct {
	Action        models.Action
	Quantity      int
	LimitPrice    float64
	TIF           models.TimeInForce
	OrderRef      string
	ClientOrderID string
}

// OrderAck is the broker's acknowledgement of a placed order.
type OrderAck struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// QuoteStream is a live market data subscription. Ticker returns the latest
// values; fields stay zero until the feed populates them.
type QuoteStream interface {
	Ticker() models.Ticker
	Close() error
}

// Gateway is the brokerage session the engine trades through.
type Gateway interface {
	// Session
	Ping(ctx context.Context) error
	SetMarketDataMode(ctx context.Context, mode MarketDataMode) error

	// Contracts
	ResolveStock(ctx context.Context, symbol string) (models.Stock, error)
	ResolveOption(ctx context.Context, opt models.OptionContract) (models.OptionContract, error)
	OptionChainParams(ctx context.Context, stock models.Stock) ([]ChainParams, error)

	// Market data
	StreamQuote(ctx context.Context, inst models.Instrument) (QuoteStream, error)
	SnapshotQuote(ctx context.Context, inst models.Instrument) (models.Ticker, error)
	HistoricalBars(ctx context.Context, inst models.Instrument, bars int, barSize string) ([]Bar, error)

	// Account
	Positions(ctx context.Context) ([]PositionItem, error)
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	PlaceOrder(ctx context.Context, inst models.Instrument, order Order) (*OrderAck, error)
}

// IsWorking reports whether the order can still fill.
func (o OpenOrder) IsWorking() bool {
	switch o.Status {
	case "Filled", "Cancelled", "Canceled", "Inactive", "ApiCancelled", "Rejected":
		return false
	default:
		return true
	}
}
