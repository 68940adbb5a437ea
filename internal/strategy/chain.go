package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/pricing"
	"github.com/eddiefleurent/wheelbot/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	maxExpirations   = 10
	fallbackStrikes  = 80
	strikeBandLow    = 0.7
	strikeBandHigh   = 1.3
	minYearFraction  = 1e-6
	callStrikeBuffer = 1.03
)

// SelectionInput is everything SelectFromChain needs besides the chain.
type SelectionInput struct {
	Symbol       string
	Spot         float64
	Volatility   float64
	RiskFreeRate float64
	Leg          LegConfig
	Right        models.Right
	Now          time.Time
}

type deltaFunc func(S, K, T, r, vol float64) float64

// SelectFromChain picks the expiration/strike whose model put delta is
// closest to the target. Expirations are walked ascending, strikes ascending,
// and only a strictly better distance replaces the incumbent, so ties go to
// the first pair seen. Calls reuse the put-delta surface and are pushed to at
// least 3% above spot.
func SelectFromChain(in SelectionInput, chain models.ChainSnapshot) (models.OptionCandidate, error) {
	return selectFromChain(in, chain, pricing.PutDelta)
}

func selectFromChain(in SelectionInput, chain models.ChainSnapshot, delta deltaFunc) (models.OptionCandidate, error) {
	if in.Spot <= 0 {
		return models.OptionCandidate{}, fmt.Errorf("%w: no spot for %s", ErrDataUnavailable, in.Symbol)
	}

	type expiry struct {
		date time.Time
		dte  int
	}
	var exps []expiry
	for _, e := range chain.Expirations {
		dte := models.DaysToExpiry(e, in.Now)
		if dte >= in.Leg.MinDTE && dte <= in.Leg.MaxDTE {
			exps = append(exps, expiry{date: e, dte: dte})
		}
	}
	if len(exps) == 0 {
		return models.OptionCandidate{}, fmt.Errorf("%w: no %s expirations within %d-%d DTE",
			ErrDataUnavailable, in.Symbol, in.Leg.MinDTE, in.Leg.MaxDTE)
	}
	sort.SliceStable(exps, func(i, j int) bool { return exps[i].dte < exps[j].dte })
	if len(exps) > maxExpirations {
		exps = exps[:maxExpirations]
	}

	strikes := candidateStrikes(chain.Strikes, in.Spot)
	if len(strikes) == 0 {
		return models.OptionCandidate{}, fmt.Errorf("%w: no %s strikes", ErrDataUnavailable, in.Symbol)
	}

	var (
		best     models.OptionCandidate
		bestDiff = math.Inf(1)
		found    bool
	)
	for _, e := range exps {
		t := math.Max(minYearFraction, float64(e.dte)/365)
		for _, k := range strikes {
			d := delta(in.Spot, k, t, in.RiskFreeRate, in.Volatility)
			diff := math.Abs(d - in.Leg.TargetDelta)
			if diff < bestDiff {
				bestDiff = diff
				found = true
				best = models.OptionCandidate{
					Symbol:     strings.ToUpper(in.Symbol),
					Right:      in.Right,
					Strike:     k,
					Expiry:     e.date,
					DTE:        e.dte,
					ModelDelta: d,
					Spot:       in.Spot,
					Volatility: in.Volatility,
				}
			}
		}
	}
	if !found {
		return models.OptionCandidate{}, fmt.Errorf("%w: no %s candidates evaluated", ErrDataUnavailable, in.Symbol)
	}

	t := math.Max(0, float64(best.DTE)) / 365
	if in.Right == models.RightCall {
		if best.Strike <= in.Spot {
			best.Strike = callStrike(chain.Strikes, math.Max(best.Strike, callStrikeBuffer*in.Spot))
		}
		best.ModelDelta = 1 - delta(in.Spot, best.Strike, math.Max(minYearFraction, t), in.RiskFreeRate, in.Volatility)
		best.TheoreticalPrice = pricing.CallPriceParity(in.Spot, best.Strike, t, in.RiskFreeRate, in.Volatility)
	} else {
		best.TheoreticalPrice = pricing.PutPrice(in.Spot, best.Strike, t, in.RiskFreeRate, in.Volatility)
	}
	best.ModelDelta = math.Min(1, math.Max(0, best.ModelDelta))
	return best, nil
}

// candidateStrikes keeps strikes within 30% of spot, or the lowest 80 when
// the band is empty. The result is ascending.
func candidateStrikes(strikes []float64, spot float64) []float64 {
	sorted := append([]float64(nil), strikes...)
	sort.Float64s(sorted)
	lo, hi := strikeBandLow*spot, strikeBandHigh*spot
	var band []float64
	for _, k := range sorted {
		if k >= lo && k <= hi {
			band = append(band, k)
		}
	}
	if len(band) > 0 {
		return band
	}
	if len(sorted) > fallbackStrikes {
		sorted = sorted[:fallbackStrikes]
	}
	return sorted
}

// callStrike snaps target to the smallest listed strike at or above it, or
// rounds it to cents when nothing is listed that high.
func callStrike(listed []float64, target float64) float64 {
	best := math.Inf(1)
	for _, k := range listed {
		if k >= target && k < best {
			best = k
		}
	}
	if math.IsInf(best, 1) {
		return util.RoundCents(target)
	}
	return best
}

// BuildChainSnapshot merges chain definitions into one snapshot, preferring
// the SMART routing entry. Unparseable expirations are dropped.
func BuildChainSnapshot(symbol string, params []broker.ChainParams) (models.ChainSnapshot, bool) {
	if len(params) == 0 {
		return models.ChainSnapshot{}, false
	}
	chosen := params[0]
	for _, p := range params {
		if strings.EqualFold(p.Exchange, broker.DefaultExchange) {
			chosen = p
			break
		}
	}

	snap := models.ChainSnapshot{Symbol: strings.ToUpper(symbol), Exchange: chosen.Exchange}
	seenExp := make(map[time.Time]struct{}, len(chosen.Expirations))
	for _, raw := range chosen.Expirations {
		e, err := models.ParseExpiry(raw)
		if err != nil {
			continue
		}
		if _, dup := seenExp[e]; dup {
			continue
		}
		seenExp[e] = struct{}{}
		snap.Expirations = append(snap.Expirations, e)
	}
	sort.Slice(snap.Expirations, func(i, j int) bool { return snap.Expirations[i].Before(snap.Expirations[j]) })

	seenK := make(map[float64]struct{}, len(chosen.Strikes))
	for _, k := range chosen.Strikes {
		if k <= 0 {
			continue
		}
		if _, dup := seenK[k]; dup {
			continue
		}
		seenK[k] = struct{}{}
		snap.Strikes = append(snap.Strikes, k)
	}
	sort.Float64s(snap.Strikes)
	return snap, true
}

// SpotSource resolves a spot price; marketdata.SpotEstimator implements it.
type SpotSource interface {
	ResolveSpot(ctx context.Context, stock models.Stock) (models.Quote, bool)
}

// VolSource estimates annualized volatility; marketdata.VolatilityEstimator implements it.
type VolSource interface {
	AnnualizedVol(ctx context.Context, stock models.Stock, lookback int) float64
}

// ChainSource lists option chain definitions.
type ChainSource interface {
	OptionChainParams(ctx context.Context, stock models.Stock) ([]broker.ChainParams, error)
}

// ChainSelector selects strikes against live data.
type ChainSelector struct {
	chains ChainSource
	spot   SpotSource
	vol    VolSource
	cfg    Config
	now    func() time.Time
	logger logrus.FieldLogger
}

func NewChainSelector(chains ChainSource, spot SpotSource, vol VolSource, cfg Config, now func() time.Time, logger logrus.FieldLogger) *ChainSelector {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChainSelector{
		chains: chains,
		spot:   spot,
		vol:    vol,
		cfg:    cfg,
		now:    now,
		logger: logger.WithField("component", "selector"),
	}
}

// SelectStrike resolves spot, volatility and the chain for stock and picks a
// candidate for the leg. Missing data is reported as ErrDataUnavailable; a
// lost session is passed through.
func (s *ChainSelector) SelectStrike(ctx context.Context, stock models.Stock, leg LegConfig, right models.Right) (models.OptionCandidate, error) {
	log := s.logger.WithFields(logrus.Fields{"symbol": stock.Symbol, "right": right.String()})

	quote, ok := s.spot.ResolveSpot(ctx, stock)
	if !ok {
		return models.OptionCandidate{}, fmt.Errorf("%w: no spot for %s", ErrDataUnavailable, stock.Symbol)
	}
	vol := s.vol.AnnualizedVol(ctx, stock, s.cfg.VolLookbackDays)

	params, err := s.chains.OptionChainParams(ctx, stock)
	if err != nil {
		if errors.Is(err, broker.ErrDisconnected) {
			return models.OptionCandidate{}, fmt.Errorf("option chain for %s: %w", stock.Symbol, err)
		}
		return models.OptionCandidate{}, fmt.Errorf("%w: option chain for %s: %v", ErrDataUnavailable, stock.Symbol, err)
	}
	chain, ok := BuildChainSnapshot(stock.Symbol, params)
	if !ok {
		return models.OptionCandidate{}, fmt.Errorf("%w: empty option chain for %s", ErrDataUnavailable, stock.Symbol)
	}

	cand, err := SelectFromChain(SelectionInput{
		Symbol:       stock.Symbol,
		Spot:         quote.Price,
		Volatility:   vol,
		RiskFreeRate: s.cfg.RiskFreeRate,
		Leg:          leg,
		Right:        right,
		Now:          s.now(),
	}, chain)
	if err != nil {
		return models.OptionCandidate{}, err
	}
	log.Infof("Selected %s %s %.2f%s dte=%d delta=%.3f theo=%.2f (spot %.2f via %s, vol %.2f%%)",
		cand.Symbol, cand.Expiry.Format(models.ExpiryLayout), cand.Strike, cand.Right, cand.DTE,
		cand.ModelDelta, cand.TheoreticalPrice, quote.Price, quote.Source, vol*100)
	return cand, nil
}
