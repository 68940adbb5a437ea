package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/metrics"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/retry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Config contains configuration for the submitter.
type Config struct {
	DryRun      bool
	CallTimeout time.Duration
	Retry       retry.Config
}

// DefaultConfig is the default configuration for the submitter.
var DefaultConfig = Config{
	DryRun:      true,
	CallTimeout: 10 * time.Second,
	Retry:       retry.DefaultConfig,
}

// Gateway is the part of the broker the submitter needs.
type Gateway interface {
	Ping(ctx context.Context) error
	retry.Placer
}

// Submitter places order intents, or logs them in dry-run mode.
type Submitter struct {
	gw      Gateway
	retry   *retry.Client
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	config  Config
	now     func() time.Time
}

// NewSubmitter creates a submitter. It panics on a nil gateway.
func NewSubmitter(gw Gateway, logger logrus.FieldLogger, m *metrics.Metrics, config ...Config) *Submitter {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if gw == nil {
		panic("orders.NewSubmitter: gateway must not be nil")
	}
	logger = logger.WithField("component", "orders")
	return &Submitter{
		gw:      gw,
		retry:   retry.NewClient(gw, logger, cfg.Retry),
		logger:  logger,
		metrics: metrics.OrNoop(m),
		config:  cfg,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for timestamps and retry backoff.
func (s *Submitter) WithClock(clk retry.Clock) *Submitter {
	if clk != nil {
		s.now = clk.Now
		s.retry.WithClock(clk)
	}
	return s
}

// DryRun reports whether orders are only logged.
func (s *Submitter) DryRun() bool { return s.config.DryRun }

// Submit places the intent as a limit order. The session is re-checked right
// before placement; a lost session is returned as broker.ErrDisconnected.
func (s *Submitter) Submit(ctx context.Context, intent models.OrderIntent) (models.OrderRecord, error) {
	if err := intent.Validate(); err != nil {
		s.metrics.OrdersFailed.Inc()
		return models.OrderRecord{}, fmt.Errorf("invalid order: %w", err)
	}
	if intent.TIF == "" {
		intent.TIF = models.TIFGoodTillCancel
	}
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = NewClientOrderID(intent.Tag)
	}

	rec := models.OrderRecord{
		Description:   intent.String(),
		Action:        intent.Action,
		Quantity:      intent.Quantity,
		LimitPrice:    intent.LimitPrice,
		ClientOrderID: intent.ClientOrderID,
		DryRun:        s.config.DryRun,
		SubmittedAt:   s.now().UTC(),
	}
	log := s.logger.WithFields(logrus.Fields{
		"symbol": intent.Instrument.Underlying(),
		"coid":   intent.ClientOrderID,
	})

	if s.config.DryRun {
		s.metrics.OrdersDryRun.Inc()
		log.Infof("[DRY RUN] Would place %s (%s)", intent, intent.Reason)
		return rec, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	err := s.gw.Ping(pingCtx)
	cancel()
	if err != nil {
		s.metrics.OrdersFailed.Inc()
		if !errors.Is(err, broker.ErrDisconnected) {
			err = fmt.Errorf("%w: %v", broker.ErrDisconnected, err)
		}
		return rec, fmt.Errorf("session check before placing %s: %w", intent, err)
	}

	order := broker.Order{
		Action:        intent.Action,
		Quantity:      intent.Quantity,
		LimitPrice:    intent.LimitPrice,
		TIF:           intent.TIF,
		OrderRef:      intent.Tag,
		ClientOrderID: intent.ClientOrderID,
	}
	log.Infof("Placing %s (%s)", intent, intent.Reason)
	ack, err := s.retry.PlaceOrderWithRetry(ctx, intent.Instrument, order)
	if err != nil {
		s.metrics.OrdersFailed.Inc()
		return rec, fmt.Errorf("placing %s: %w", intent, err)
	}
	s.metrics.OrdersPlaced.Inc()
	if ack != nil {
		rec.OrderID = ack.OrderID
		log.Infof("Order %s acknowledged: %s", ack.OrderID, ack.Status)
	}
	return rec, nil
}

// NewClientOrderID returns a unique client order id prefixed with the tag.
func NewClientOrderID(tag string) string {
	if tag == "" {
		return uuid.NewString()
	}
	return tag + "-" + uuid.NewString()
}
