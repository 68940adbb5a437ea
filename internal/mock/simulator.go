package mock

import (
	"crypto/rand"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/pricing"
)

const (
	simRate      = 0.03
	simSpread    = 0.05
	simHistory   = 60
	simWeeks     = 10
	simMinOption = 0.01
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// market is a random-walk price source for paper trading.
type market struct {
	spot map[string]float64
	vol  float64
	now  func() time.Time
}

// quote produces a ticker for a stock or an option. Callers hold the gateway lock.
func (m *market) quote(inst models.Instrument) models.Ticker {
	sym := strings.ToUpper(inst.Underlying())
	s, ok := m.spot[sym]
	if !ok {
		return models.Ticker{}
	}
	now := m.now()

	opt, isOption := inst.(models.OptionContract)
	if !isOption {
		// Simulate small price movements
		s *= 1 + (secureFloat64()-0.5)*0.002
		m.spot[sym] = s
		return models.Ticker{Last: s, Bid: s - 0.01, Ask: s + 0.01, Close: s, Time: now}
	}

	t := math.Max(float64(opt.DTE(now)), 0) / 365
	putDelta := pricing.PutDelta(s, opt.Strike, t, simRate, m.vol)
	theo := pricing.PutPrice(s, opt.Strike, t, simRate, m.vol)
	delta := putDelta
	if opt.Right == models.RightCall {
		theo = pricing.CallPriceParity(s, opt.Strike, t, simRate, m.vol)
		delta = 1 - putDelta
	}
	bid := math.Max(simMinOption, theo-simSpread)
	return models.Ticker{
		Last:       math.Max(simMinOption, theo),
		Bid:        bid,
		Ask:        bid + 2*simSpread,
		Close:      math.Max(simMinOption, theo),
		Delta:      delta,
		ImpliedVol: m.vol,
		Time:       now,
	}
}

// strikeStep picks a listed strike spacing for a price level.
func strikeStep(spot float64) float64 {
	switch {
	case spot >= 200:
		return 5
	case spot >= 50:
		return 1
	default:
		return 0.5
	}
}

// NewSimulatedGateway builds a paper-trading gateway: every symbol gets a
// random starting price, sixty days of history, weekly expirations and a
// strike ladder. Orders fill immediately at their limit.
func NewSimulatedGateway(symbols []string, now func() time.Time) *Gateway {
	if now == nil {
		now = time.Now
	}
	g := NewGateway()
	g.FillOrders = true
	m := &market{
		spot: make(map[string]float64),
		vol:  0.15 + secureFloat64()*0.15,
		now:  now,
	}
	g.market = m

	today := now().UTC()
	for i, raw := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if sym == "" {
			continue
		}
		g.AddStock(sym, 1000+i)

		start := 50 + secureFloat64()*400
		closes := make([]float64, simHistory)
		px := start
		daily := m.vol / math.Sqrt(252)
		for d := range closes {
			px *= math.Exp((secureFloat64() - 0.5) * 2 * daily * math.Sqrt(3))
			closes[d] = px
		}
		m.spot[sym] = px
		g.SetCloses(sym, today, closes...)

		step := strikeStep(px)
		var strikes []float64
		for k := math.Floor(px*0.6/step) * step; k <= px*1.4; k += step {
			strikes = append(strikes, math.Round(k*100)/100)
		}
		var expirations []string
		friday := today
		for friday.Weekday() != time.Friday {
			friday = friday.AddDate(0, 0, 1)
		}
		for w := 0; w < simWeeks; w++ {
			expirations = append(expirations, friday.AddDate(0, 0, 7*w).Format(models.ExpiryLayout))
		}
		g.SetChain(sym, broker.ChainParams{
			Exchange:    broker.DefaultExchange,
			Expirations: expirations,
			Strikes:     strikes,
		})
	}
	return g
}
