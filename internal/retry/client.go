// Package retry provides bounded retries for order placement and the polling
// helper market data waits are built on.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/sirupsen/logrus"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Placer is the part of the gateway that submits orders.
type Placer interface {
	PlaceOrder(ctx context.Context, inst models.Instrument, order broker.Order) (*broker.OrderAck, error)
}

type Client struct {
	placer Placer
	logger logrus.FieldLogger
	config Config
	clock  Clock
}

func NewClient(placer Placer, logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		placer: placer,
		logger: logger,
		config: cfg,
		clock:  SystemClock{},
	}
}

// WithClock replaces the clock used for backoff waits.
func (c *Client) WithClock(clk Clock) *Client {
	if clk != nil {
		c.clock = clk
	}
	return c
}

// PlaceOrderWithRetry places an order, retrying transient failures with
// jittered exponential backoff. A lost session is never retried.
func (c *Client) PlaceOrderWithRetry(
	ctx context.Context,
	inst models.Instrument,
	order broker.Order,
) (*broker.OrderAck, error) {
	if inst == nil {
		c.logger.Error("Refusing to place order: nil instrument")
		return nil, errors.New("place order: nil instrument")
	}

	placeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if placeCtx.Err() != nil {
			return nil, fmt.Errorf("place operation timed out after %v: %w", c.config.Timeout, placeCtx.Err())
		}

		c.logger.Infof("Order attempt %d/%d: %s %d %s @ %.2f",
			attempt+1, c.config.MaxRetries+1, order.Action, order.Quantity, inst, order.LimitPrice)

		ack, err := c.placer.PlaceOrder(placeCtx, inst, order)
		if err == nil {
			c.logger.Infof("Order placed on attempt %d: id=%s status=%s", attempt+1, ack.OrderID, ack.Status)
			return ack, nil
		}

		lastErr = err
		c.logger.Warnf("Order attempt %d failed: %v", attempt+1, err)

		if !c.isTransientError(err) || attempt >= c.config.MaxRetries {
			break
		}
		c.logger.Infof("Transient error detected, retrying in %v", backoff)
		select {
		case <-c.clock.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-ctx.Done():
			return nil, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		case <-placeCtx.Done():
			return nil, fmt.Errorf("place operation timed out during backoff: %w", placeCtx.Err())
		}
	}

	return nil, fmt.Errorf("failed to place order after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Debugf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, broker.ErrDisconnected) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
		"circuit breaker is open",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
