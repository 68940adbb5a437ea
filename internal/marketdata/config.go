// Package marketdata turns broker quotes into the spot prices, volatility
// estimates and option quotes the strategy consumes.
package marketdata

import (
	"context"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/models"
)

// Config bounds every market data wait.
type Config struct {
	StreamInterval     time.Duration
	StreamTimeout      time.Duration
	SnapshotInterval   time.Duration
	SnapshotTimeout    time.Duration
	OptionQuoteTimeout time.Duration
	GreeksInterval     time.Duration
	GreeksTimeout      time.Duration
	DefaultVolatility  float64
}

// DefaultConfig returns the standard polling caps.
func DefaultConfig() Config {
	return Config{
		StreamInterval:     250 * time.Millisecond,
		StreamTimeout:      5 * time.Second,
		SnapshotInterval:   500 * time.Millisecond,
		SnapshotTimeout:    2 * time.Second,
		OptionQuoteTimeout: time.Second,
		GreeksInterval:     400 * time.Millisecond,
		GreeksTimeout:      8 * time.Second,
		DefaultVolatility:  0.20,
	}
}

// Feed is the market data subset of broker.Gateway.
type Feed interface {
	StreamQuote(ctx context.Context, inst models.Instrument) (broker.QuoteStream, error)
	SnapshotQuote(ctx context.Context, inst models.Instrument) (models.Ticker, error)
	HistoricalBars(ctx context.Context, inst models.Instrument, bars int, barSize string) ([]broker.Bar, error)
}
