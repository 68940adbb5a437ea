package broker

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreakerGateway wraps a Gateway with circuit breaker functionality.
// Ping bypasses the breaker so a tripped circuit is never mistaken for a dead session.
type CircuitBreakerGateway struct {
	gateway Gateway
	breaker *gobreaker.CircuitBreaker
}

var _ Gateway = (*CircuitBreakerGateway)(nil)

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after 60% failures over at least 5 calls.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	gateway Gateway,
	fn func(Gateway) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(gateway) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerGateway creates a CircuitBreakerGateway with default settings.
func NewCircuitBreakerGateway(gateway Gateway, logger logrus.FieldLogger) *CircuitBreakerGateway {
	return NewCircuitBreakerGatewayWithSettings(gateway, DefaultCircuitBreakerSettings, logger)
}

// NewCircuitBreakerGatewayWithSettings creates a CircuitBreakerGateway with custom settings.
func NewCircuitBreakerGatewayWithSettings(gateway Gateway, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerGateway {
	gbSettings := gobreaker.Settings{
		Name:        "GatewayCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// A context cancellation is the caller giving up, not the broker failing.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.WithField("breaker", name).Warnf("Circuit breaker state changed from %s to %s", from, to)
			}
		},
	}

	return &CircuitBreakerGateway{
		gateway: gateway,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the current breaker state.
func (c *CircuitBreakerGateway) State() gobreaker.State {
	return c.breaker.State()
}

// Ping checks the session on the underlying gateway directly.
func (c *CircuitBreakerGateway) Ping(ctx context.Context) error {
	return c.gateway.Ping(ctx)
}

func (c *CircuitBreakerGateway) SetMarketDataMode(ctx context.Context, mode MarketDataMode) error {
	_, err := execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (struct{}, error) {
		return struct{}{}, g.SetMarketDataMode(ctx, mode)
	})
	return err
}

func (c *CircuitBreakerGateway) ResolveStock(ctx context.Context, symbol string) (models.Stock, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (models.Stock, error) {
		return g.ResolveStock(ctx, symbol)
	})
}

func (c *CircuitBreakerGateway) ResolveOption(ctx context.Context, opt models.OptionContract) (models.OptionContract, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (models.OptionContract, error) {
		return g.ResolveOption(ctx, opt)
	})
}

func (c *CircuitBreakerGateway) OptionChainParams(ctx context.Context, stock models.Stock) ([]ChainParams, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) ([]ChainParams, error) {
		return g.OptionChainParams(ctx, stock)
	})
}

func (c *CircuitBreakerGateway) StreamQuote(ctx context.Context, inst models.Instrument) (QuoteStream, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (QuoteStream, error) {
		return g.StreamQuote(ctx, inst)
	})
}

func (c *CircuitBreakerGateway) SnapshotQuote(ctx context.Context, inst models.Instrument) (models.Ticker, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (models.Ticker, error) {
		return g.SnapshotQuote(ctx, inst)
	})
}

func (c *CircuitBreakerGateway) HistoricalBars(ctx context.Context, inst models.Instrument, bars int, barSize string) ([]Bar, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) ([]Bar, error) {
		return g.HistoricalBars(ctx, inst, bars, barSize)
	})
}

func (c *CircuitBreakerGateway) Positions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) ([]PositionItem, error) {
		return g.Positions(ctx)
	})
}

func (c *CircuitBreakerGateway) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) ([]OpenOrder, error) {
		return g.OpenOrders(ctx)
	})
}

func (c *CircuitBreakerGateway) PlaceOrder(ctx context.Context, inst models.Instrument, order Order) (*OrderAck, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (*OrderAck, error) {
		return g.PlaceOrder(ctx, inst, order)
	})
}
