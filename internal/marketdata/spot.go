package marketdata

import (
	"context"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/metrics"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/retry"
	"github.com/sirupsen/logrus"
)

// spotHistoryBars is how many daily bars the last-resort tier asks for.
const spotHistoryBars = 3

// SpotEstimator resolves a usable spot price, degrading from a streaming
// quote to a snapshot to the last daily close.
type SpotEstimator struct {
	feed    Feed
	cfg     Config
	clock   retry.Clock
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewSpotEstimator(feed Feed, cfg Config, clock retry.Clock, logger logrus.FieldLogger, m *metrics.Metrics) *SpotEstimator {
	if clock == nil {
		clock = retry.SystemClock{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SpotEstimator{
		feed:    feed,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.WithField("component", "spot"),
		metrics: metrics.OrNoop(m),
	}
}

// ResolveSpot returns the first positive price any tier produces. The bool is
// false only when every tier came up empty.
func (e *SpotEstimator) ResolveSpot(ctx context.Context, stock models.Stock) (models.Quote, bool) {
	log := e.logger.WithField("symbol", stock.Symbol)

	if px, ok := e.fromStream(ctx, stock); ok {
		e.metrics.SpotStreaming.Inc()
		return models.Quote{Price: px, Source: models.SourceStreaming}, true
	}
	if px, ok := e.fromSnapshot(ctx, stock); ok {
		e.metrics.SpotSnapshot.Inc()
		log.Debugf("Spot from snapshot: %.2f", px)
		return models.Quote{Price: px, Source: models.SourceSnapshot}, true
	}
	if px, ok := e.fromHistory(ctx, stock); ok {
		e.metrics.SpotHistorical.Inc()
		log.Infof("Spot from last daily close: %.2f", px)
		return models.Quote{Price: px, Source: models.SourceHistorical}, true
	}

	e.metrics.SpotFailed.Inc()
	log.Warn("No spot price from stream, snapshot or history")
	return models.Quote{}, false
}

func (e *SpotEstimator) fromStream(ctx context.Context, stock models.Stock) (float64, bool) {
	stream, err := e.feed.StreamQuote(ctx, stock)
	if err != nil {
		e.logger.WithField("symbol", stock.Symbol).Debugf("Stream unavailable: %v", err)
		return 0, false
	}
	if stream == nil {
		return 0, false
	}
	defer func() {
		if err := stream.Close(); err != nil {
			e.logger.Debugf("Closing stream: %v", err)
		}
	}()
	return retry.PollUntil(ctx, e.clock, e.cfg.StreamInterval, e.cfg.StreamTimeout,
		func(context.Context) (float64, bool) {
			return stream.Ticker().FirstPrice()
		})
}

func (e *SpotEstimator) fromSnapshot(ctx context.Context, stock models.Stock) (float64, bool) {
	return retry.PollUntil(ctx, e.clock, e.cfg.SnapshotInterval, e.cfg.SnapshotTimeout,
		func(ctx context.Context) (float64, bool) {
			t, err := e.feed.SnapshotQuote(ctx, stock)
			if err != nil {
				e.logger.WithField("symbol", stock.Symbol).Debugf("Snapshot failed: %v", err)
				return 0, false
			}
			return t.FirstPrice()
		})
}

func (e *SpotEstimator) fromHistory(ctx context.Context, stock models.Stock) (float64, bool) {
	bars, err := e.feed.HistoricalBars(ctx, stock, spotHistoryBars, broker.BarSizeDay)
	if err != nil {
		e.logger.WithField("symbol", stock.Symbol).Debugf("History failed: %v", err)
		return 0, false
	}
	if len(bars) == 0 {
		return 0, false
	}
	last := bars[len(bars)-1].Close
	return last, last > 0
}
