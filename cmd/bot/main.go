// Command wheelbot runs the wheel strategy against an Interactive Brokers
// Client Portal session.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/config"
	"github.com/eddiefleurent/wheelbot/internal/dashboard"
	"github.com/eddiefleurent/wheelbot/internal/metrics"
	"github.com/eddiefleurent/wheelbot/internal/mock"
	"github.com/eddiefleurent/wheelbot/internal/orders"
	"github.com/eddiefleurent/wheelbot/internal/retry"
	"github.com/eddiefleurent/wheelbot/internal/storage"
	"github.com/eddiefleurent/wheelbot/internal/strategy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Bot owns the run loop and everything a cycle needs.
type Bot struct {
	config     *config.Config
	gateway    broker.Gateway
	controller *strategy.Controller
	storage    storage.Interface
	reconciler *Reconciler
	status     *dashboard.Server
	metrics    *metrics.Prometheus
	logger     logrus.FieldLogger
	clock      retry.Clock
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildGateway returns the configured broker session.
func buildGateway(cfg *config.Config, logger logrus.FieldLogger) broker.Gateway {
	if cfg.Broker.Provider == config.ProviderMock {
		logger.Info("Using simulated broker gateway")
		return mock.NewSimulatedGateway(cfg.Strategy.Tickers, time.Now)
	}
	var gw broker.Gateway = broker.NewIBKRClient(cfg.IBKRConfig(), logger)
	if cfg.Broker.CircuitBreaker {
		gw = broker.NewCircuitBreakerGateway(gw, logger)
	}
	return gw
}

// NewBot wires the submitter, controller, reconciler and optional status
// server around gw. A nil clock uses wall time.
func NewBot(cfg *config.Config, gw broker.Gateway, store storage.Interface, logger logrus.FieldLogger, clock retry.Clock) *Bot {
	if clock == nil {
		clock = retry.SystemClock{}
	}
	prom := metrics.NewPrometheus()
	submitter := orders.NewSubmitter(gw, logger, prom.Metrics, cfg.SubmitterConfig()).WithClock(clock)
	controller := strategy.NewController(gw, submitter, cfg.StrategyConfig(),
		strategy.WithClock(clock),
		strategy.WithMarketData(cfg.MarketDataConfig()),
		strategy.WithMetrics(prom.Metrics),
		strategy.WithLogger(logger),
		strategy.WithComposer(cfg.Composer()),
	)

	b := &Bot{
		config:     cfg,
		gateway:    gw,
		controller: controller,
		storage:    store,
		reconciler: NewReconciler(store, logger),
		metrics:    prom,
		logger:     logger,
		clock:      clock,
	}
	if cfg.Status.Enabled {
		b.status = dashboard.NewServer(dashboard.Config{
			Addr:      cfg.Status.Addr,
			AuthToken: cfg.Status.AuthToken,
		}, store, prom.Handler(), logger)
	}
	return b
}

// Run verifies the session, then runs passes until ctx is done, a pass hits
// a lost session, or a single pass completes when no loop interval is set.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Infof("Starting wheel bot in %s mode (dry_run=%t, symbols=%v)",
		b.config.Environment.Mode, b.config.Run.DryRun, b.config.Strategy.Tickers)

	b.logger.Info("Verifying broker session...")
	if err := b.gateway.Ping(ctx); err != nil {
		if !errors.Is(err, broker.ErrDisconnected) {
			err = fmt.Errorf("%w: %v", broker.ErrDisconnected, err)
		}
		return fmt.Errorf("verifying broker session: %w", err)
	}
	mode := broker.MarketDataMode(b.config.Broker.MarketDataMode)
	if err := b.gateway.SetMarketDataMode(ctx, mode); err != nil {
		return fmt.Errorf("setting market data mode %s: %w", mode, err)
	}
	b.logger.Infof("Connected. Market data mode: %s", mode)

	b.reconciler.CheckStartup(b.config.Strategy.Tickers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// The status server lives only as long as the loop.
		defer cancel()
		return b.loop(gctx)
	})
	if b.status != nil {
		g.Go(func() error { return b.status.Run(gctx) })
	}
	return g.Wait()
}

func (b *Bot) loop(ctx context.Context) error {
	cycle := NewTradingCycle(b)
	if _, err := cycle.Run(ctx); err != nil {
		return err
	}

	interval := b.config.LoopInterval()
	if interval <= 0 {
		b.logger.Info("Single pass complete")
		return nil
	}

	b.logger.Infof("Sleeping %s between passes", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Bot stopped")
			return nil
		case <-ticker.C:
			if _, err := cycle.Run(ctx); err != nil {
				return err
			}
		}
	}
}
