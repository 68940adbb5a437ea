package marketdata

import (
	"context"
	"math"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/retry"
	"github.com/sirupsen/logrus"
)

// Quoter fetches option quotes with a bounded wait.
type Quoter struct {
	feed   Feed
	cfg    Config
	clock  retry.Clock
	logger logrus.FieldLogger
}

func NewQuoter(feed Feed, cfg Config, clock retry.Clock, logger logrus.FieldLogger) *Quoter {
	if clock == nil {
		clock = retry.SystemClock{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Quoter{feed: feed, cfg: cfg, clock: clock, logger: logger.WithField("component", "quoter")}
}

// Snapshot polls the instrument until any of last, bid or ask is populated or
// the option quote timeout passes, and returns whatever it last saw.
func (q *Quoter) Snapshot(ctx context.Context, inst models.Instrument) models.Ticker {
	interval := q.cfg.SnapshotInterval
	if interval <= 0 || interval > q.cfg.OptionQuoteTimeout {
		interval = q.cfg.OptionQuoteTimeout
	}
	t, _ := retry.PollUntil(ctx, q.clock, interval, q.cfg.OptionQuoteTimeout,
		func(ctx context.Context) (models.Ticker, bool) {
			t, err := q.feed.SnapshotQuote(ctx, inst)
			if err != nil {
				q.logger.Debugf("Quote for %s failed: %v", inst, err)
				return models.Ticker{}, false
			}
			return t, t.HasAny()
		})
	return t
}

// Greeks polls for broker model greeks. The bool is false when no delta
// arrived within the greeks timeout.
func (q *Quoter) Greeks(ctx context.Context, inst models.Instrument) (models.Ticker, bool) {
	return retry.PollUntil(ctx, q.clock, q.cfg.GreeksInterval, q.cfg.GreeksTimeout,
		func(ctx context.Context) (models.Ticker, bool) {
			t, err := q.feed.SnapshotQuote(ctx, inst)
			if err != nil {
				return models.Ticker{}, false
			}
			return t, t.Delta != 0 && !math.IsNaN(t.Delta)
		})
}
