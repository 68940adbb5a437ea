package marketdata

import (
	"context"
	"math"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/sirupsen/logrus"
)

// TradingDaysPerYear annualizes daily volatility.
const TradingDaysPerYear = 252

// historyPadding is the number of extra bars requested beyond the lookback.
const historyPadding = 5

// RealizedVol is the annualized sample standard deviation of the trailing
// lookback log returns of closes. It returns fallback when the history is too
// short, contains a non-positive close or yields a non-finite result.
func RealizedVol(closes []float64, lookback int, fallback float64) float64 {
	if lookback < 1 || len(closes) < lookback+1 {
		return fallback
	}
	for _, c := range closes {
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return fallback
		}
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) > lookback {
		returns = returns[len(returns)-lookback:]
	}
	if len(returns) < 2 {
		return fallback
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	vol := math.Sqrt(ss/float64(len(returns)-1)) * math.Sqrt(TradingDaysPerYear)
	if math.IsNaN(vol) || math.IsInf(vol, 0) || vol < 0 {
		return fallback
	}
	return vol
}

// VolatilityEstimator estimates annualized volatility from daily closes.
type VolatilityEstimator struct {
	feed     Feed
	fallback float64
	logger   logrus.FieldLogger
}

func NewVolatilityEstimator(feed Feed, fallback float64, logger logrus.FieldLogger) *VolatilityEstimator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &VolatilityEstimator{feed: feed, fallback: fallback, logger: logger.WithField("component", "volatility")}
}

// Default is the volatility used whenever history is insufficient.
func (v *VolatilityEstimator) Default() float64 {
	return v.fallback
}

// AnnualizedVol never fails: history errors degrade to the default.
func (v *VolatilityEstimator) AnnualizedVol(ctx context.Context, stock models.Stock, lookback int) float64 {
	bars, err := v.feed.HistoricalBars(ctx, stock, lookback+historyPadding, broker.BarSizeDay)
	if err != nil {
		v.logger.WithField("symbol", stock.Symbol).Warnf("History unavailable, using default volatility %.2f: %v", v.fallback, err)
		return v.fallback
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	vol := RealizedVol(closes, lookback, v.fallback)
	v.logger.WithField("symbol", stock.Symbol).Debugf("Volatility %.4f from %d closes", vol, len(closes))
	return vol
}
