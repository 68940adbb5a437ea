package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/sirupsen/logrus"
)

// PositionSource lists raw broker positions.
type PositionSource interface {
	Positions(ctx context.Context) ([]broker.PositionItem, error)
}

// Classifier rebuilds a symbol's wheel position from the broker's book.
type Classifier struct {
	positions PositionSource
	logger    logrus.FieldLogger
}

func NewClassifier(positions PositionSource, logger logrus.FieldLogger) *Classifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Classifier{positions: positions, logger: logger.WithField("component", "classifier")}
}

// Classify fetches positions and returns the symbol's holdings.
func (c *Classifier) Classify(ctx context.Context, symbol string) (models.Position, error) {
	items, err := c.positions.Positions(ctx)
	if err != nil {
		return models.Position{}, fmt.Errorf("fetching positions: %w", err)
	}
	return ClassifyItems(symbol, items, c.logger), nil
}

// ClassifyItems folds broker positions for one underlying into a Position.
// Only short options count as legs; long options are ignored. Option rows that
// cannot be normalized are logged and skipped.
func ClassifyItems(symbol string, items []broker.PositionItem, logger logrus.FieldLogger) models.Position {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	pos := models.Position{Symbol: sym}

	for _, item := range items {
		if broker.UnderlyingOf(item) != sym {
			continue
		}
		qty := int(math.Round(item.Quantity))
		if qty == 0 {
			continue
		}

		if broker.IsStock(item) {
			pos.Shares += qty
			continue
		}
		if !broker.IsOption(item) || qty > 0 {
			continue
		}

		opt, err := broker.NormalizeOption(item)
		if err != nil {
			logger.WithField("symbol", sym).Warnf("Skipping option position: %v", err)
			continue
		}
		leg := models.ShortLeg{Contract: opt, Quantity: qty}
		switch opt.Right {
		case models.RightPut:
			pos.ShortPuts = append(pos.ShortPuts, leg)
		case models.RightCall:
			pos.ShortCalls = append(pos.ShortCalls, leg)
		}
	}

	sortLegs(pos.ShortPuts)
	sortLegs(pos.ShortCalls)
	return pos
}

// sortLegs orders legs by expiration then strike so the nearest one is first.
func sortLegs(legs []models.ShortLeg) {
	sort.SliceStable(legs, func(i, j int) bool {
		a, b := legs[i].Contract, legs[j].Contract
		if !a.Expiry.Equal(b.Expiry) {
			return a.Expiry.Before(b.Expiry)
		}
		return a.Strike < b.Strike
	})
}
