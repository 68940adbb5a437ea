package main

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/wheelbot/internal/strategy"
	"github.com/google/uuid"
)

// TradingCycle runs one pass over the configured symbols.
type TradingCycle struct {
	bot *Bot
}

// NewTradingCycle creates a new trading cycle handler
func NewTradingCycle(bot *Bot) *TradingCycle {
	return &TradingCycle{bot: bot}
}

// Run executes one pass. Each symbol's cycle runs to completion even if ctx is
// canceled mid-way; remaining symbols are skipped. The error is non-nil only
// for a lost broker session.
func (tc *TradingCycle) Run(ctx context.Context) ([]strategy.Decision, error) {
	b := tc.bot
	cycleID := uuid.NewString()
	log := b.logger.WithField("cycle", shortID(cycleID))
	log.Info("Starting trading cycle...")

	work := context.WithoutCancel(ctx)
	decisions := make([]strategy.Decision, 0, len(b.config.Strategy.Tickers))
	for _, symbol := range b.config.Strategy.Tickers {
		if ctx.Err() != nil {
			log.Info("Shutdown requested, skipping remaining symbols")
			break
		}

		d, err := b.controller.RunCycle(work, symbol)
		decisions = append(decisions, d)
		if _, recErr := b.reconciler.Reconcile(d, b.clock.Now()); recErr != nil {
			log.WithField("symbol", d.Symbol).Errorf("Failed to persist state: %v", recErr)
		}
		if err != nil {
			return decisions, fmt.Errorf("cycle %s: %w", d.Symbol, err)
		}

		entry := log.WithField("symbol", d.Symbol)
		if d.Action == strategy.ActionIdle {
			entry.Infof("%s: idle (%s)", d.Phase, d.Reason)
		} else {
			entry.Infof("%s: %s (%s)", d.Phase, d.Action, d.Reason)
		}
	}

	log.Info("Trading cycle complete")
	return decisions, nil
}
