package marketdata

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/metrics"
	"github.com/eddiefleurent/wheelbot/internal/mock"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newSpot(g *mock.Gateway) (*SpotEstimator, *mock.Clock) {
	clk := mock.NewClock(testNow)
	return NewSpotEstimator(g, DefaultConfig(), clk, quietLogger(), nil), clk
}

func TestResolveSpot_Tiers(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(g *mock.Gateway, spy models.Stock)
		wantOK     bool
		wantPrice  float64
		wantSource models.QuoteSource
		wantWaited time.Duration
	}{
		{
			name: "stream populates after two polls",
			setup: func(g *mock.Gateway, spy models.Stock) {
				g.SetStream(spy, models.Ticker{}, models.Ticker{}, models.Ticker{Last: 450.25})
			},
			wantOK:     true,
			wantPrice:  450.25,
			wantSource: models.SourceStreaming,
			wantWaited: 500 * time.Millisecond,
		},
		{
			name: "stream close used when no last",
			setup: func(g *mock.Gateway, spy models.Stock) {
				g.SetStream(spy, models.Ticker{Close: 449, Bid: 448})
			},
			wantOK:     true,
			wantPrice:  449,
			wantSource: models.SourceStreaming,
		},
		{
			name: "snapshot after silent stream",
			setup: func(g *mock.Gateway, spy models.Stock) {
				g.SetSnapshot(spy, models.Ticker{}, models.Ticker{Bid: 449.5, Ask: 450.5})
			},
			wantOK:     true,
			wantPrice:  449.5,
			wantSource: models.SourceSnapshot,
			wantWaited: 5*time.Second + 500*time.Millisecond,
		},
		{
			name: "snapshot after stream error",
			setup: func(g *mock.Gateway, spy models.Stock) {
				g.StreamErr = errors.New("no websocket")
				g.SetSnapshot(spy, models.Ticker{Last: 451})
			},
			wantOK:     true,
			wantPrice:  451,
			wantSource: models.SourceSnapshot,
		},
		{
			name: "last daily close",
			setup: func(g *mock.Gateway, spy models.Stock) {
				g.SnapshotErr = errors.New("snapshot down")
				g.SetCloses("SPY", testNow, 440, 445, 447.5)
			},
			wantOK:     true,
			wantPrice:  447.5,
			wantSource: models.SourceHistorical,
			wantWaited: 7 * time.Second,
		},
		{
			name:       "nothing anywhere",
			setup:      func(g *mock.Gateway, spy models.Stock) {},
			wantOK:     false,
			wantWaited: 7 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mock.NewGateway()
			spy := g.AddStock("SPY", 1)
			tt.setup(g, spy)
			est, clk := newSpot(g)

			q, ok := est.ResolveSpot(context.Background(), spy)
			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPrice, q.Price)
			assert.Equal(t, tt.wantSource, q.Source)
			assert.Equal(t, tt.wantWaited, clk.Waited())
		})
	}
}

func TestResolveSpot_CountsSource(t *testing.T) {
	g := mock.NewGateway()
	spy := g.AddStock("SPY", 1)
	g.SetCloses("SPY", testNow, 100)
	prom := metrics.NewPrometheus()
	est := NewSpotEstimator(g, DefaultConfig(), mock.NewClock(testNow), quietLogger(), prom.Metrics)

	_, ok := est.ResolveSpot(context.Background(), spy)
	require.True(t, ok)
	assert.Equal(t, 1, g.Calls("HistoricalBars"))
}

func TestRealizedVol(t *testing.T) {
	up := 100 * math.Exp(0.01)
	alternating := []float64{100, up, 100, up, 100}
	want := 0.01 * math.Sqrt(4.0/3.0) * math.Sqrt(252)

	tests := []struct {
		name     string
		closes   []float64
		lookback int
		want     float64
	}{
		{"alternating returns", alternating, 4, want},
		{"trailing window only", append([]float64{5}, alternating...), 4, want},
		{"flat series", []float64{50, 50, 50, 50}, 3, 0},
		{"too short", []float64{100, 101, 102}, 3, 0.2},
		{"single return", []float64{100, 101}, 1, 0.2},
		{"non-positive close", []float64{100, 0, 101, 102}, 3, 0.2},
		{"zero lookback", alternating, 0, 0.2},
		{"empty", nil, 21, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RealizedVol(tt.closes, tt.lookback, 0.2)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
		})
	}
}

func TestAnnualizedVol(t *testing.T) {
	g := mock.NewGateway()
	spy := g.AddStock("SPY", 1)
	closes := make([]float64, 40)
	px := 100.0
	for i := range closes {
		px *= math.Exp(0.01 * math.Sin(float64(i)))
		closes[i] = px
	}
	g.SetCloses("SPY", testNow, closes...)

	v := NewVolatilityEstimator(g, 0.2, quietLogger())
	got := v.AnnualizedVol(context.Background(), spy, 21)
	assert.InDelta(t, RealizedVol(closes, 21, 0.2), got, 1e-12)
	assert.NotEqual(t, 0.2, got)

	g.BarsErr = errors.New("history down")
	assert.Equal(t, 0.2, v.AnnualizedVol(context.Background(), spy, 21))
	assert.Equal(t, 0.2, v.Default())
}

func TestAnnualizedVol_ShortHistoryUsesDefault(t *testing.T) {
	g := mock.NewGateway()
	spy := g.AddStock("SPY", 1)
	g.SetCloses("SPY", testNow, 100, 101, 102, 101, 103)

	v := NewVolatilityEstimator(g, 0.2, quietLogger())
	assert.Equal(t, 0.2, v.AnnualizedVol(context.Background(), spy, 21))
}

func TestQuoter_Snapshot(t *testing.T) {
	opt := models.OptionContract{ConID: 5, Symbol: "SPY", Expiry: testNow.AddDate(0, 0, 30), Strike: 440, Right: models.RightPut}

	g := mock.NewGateway()
	g.SetSnapshot(opt, models.Ticker{}, models.Ticker{}, models.Ticker{Bid: 1.1, Ask: 1.3})
	clk := mock.NewClock(testNow)
	q := NewQuoter(g, DefaultConfig(), clk, quietLogger())

	tk := q.Snapshot(context.Background(), opt)
	assert.Equal(t, 1.1, tk.Bid)
	assert.Equal(t, time.Second, clk.Waited())

	empty := mock.NewGateway()
	clk = mock.NewClock(testNow)
	q = NewQuoter(empty, DefaultConfig(), clk, quietLogger())
	assert.False(t, q.Snapshot(context.Background(), opt).HasAny())
	assert.Equal(t, time.Second, clk.Waited())
}

func TestQuoter_Greeks(t *testing.T) {
	opt := models.OptionContract{ConID: 5, Symbol: "SPY", Expiry: testNow.AddDate(0, 0, 30), Strike: 440, Right: models.RightPut}
	g := mock.NewGateway()
	g.SetSnapshot(opt, models.Ticker{Bid: 1}, models.Ticker{Bid: 1, Delta: -0.24})
	clk := mock.NewClock(testNow)
	q := NewQuoter(g, DefaultConfig(), clk, quietLogger())

	tk, ok := q.Greeks(context.Background(), opt)
	require.True(t, ok)
	assert.Equal(t, -0.24, tk.Delta)
	assert.Equal(t, 400*time.Millisecond, clk.Waited())

	g.SetSnapshot(opt, models.Ticker{Bid: 1})
	clk = mock.NewClock(testNow)
	q = NewQuoter(g, DefaultConfig(), clk, quietLogger())
	_, ok = q.Greeks(context.Background(), opt)
	assert.False(t, ok)
	assert.Equal(t, 8*time.Second, clk.Waited())
}
