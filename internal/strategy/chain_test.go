package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func putInput() SelectionInput {
	return SelectionInput{
		Symbol:       "spy",
		Spot:         100,
		Volatility:   0.20,
		RiskFreeRate: 0.03,
		Leg:          LegConfig{TargetDelta: 0.25, MinDTE: 30, MaxDTE: 45},
		Right:        models.RightPut,
		Now:          testNow,
	}
}

func TestSelectFromChain_PicksClosestPutDelta(t *testing.T) {
	chain := models.ChainSnapshot{
		Symbol:      "SPY",
		Expirations: []time.Time{date(2025, 2, 14)},
		Strikes:     []float64{85, 90, 95, 100},
	}

	cand, err := SelectFromChain(putInput(), chain)
	require.NoError(t, err)

	assert.Equal(t, "SPY", cand.Symbol)
	assert.Equal(t, 95.0, cand.Strike)
	assert.Equal(t, 35, cand.DTE)
	assert.InDelta(t, 0.1826, cand.ModelDelta, 0.001)

	T := 35.0 / 365
	assert.InDelta(t, pricing.PutPrice(100, 95, T, 0.03, 0.20), cand.TheoreticalPrice, 1e-12)

	// deterministic across runs
	again, err := SelectFromChain(putInput(), chain)
	require.NoError(t, err)
	assert.Equal(t, cand, again)
}

func TestSelectFromChain_NoExpirationInWindow(t *testing.T) {
	chain := models.ChainSnapshot{
		Expirations: []time.Time{date(2025, 1, 17), date(2025, 3, 21)},
		Strikes:     []float64{90, 95, 100},
	}
	_, err := SelectFromChain(putInput(), chain)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
}

func TestSelectFromChain_WindowIsInclusive(t *testing.T) {
	chain := models.ChainSnapshot{
		Expirations: []time.Time{date(2025, 2, 9), date(2025, 2, 24)}, // 30 and 45 DTE
		Strikes:     []float64{95},
	}
	cand, err := SelectFromChain(putInput(), chain)
	require.NoError(t, err)
	assert.Contains(t, []int{30, 45}, cand.DTE)
}

func TestSelectFromChain_NoSpot(t *testing.T) {
	in := putInput()
	in.Spot = 0
	_, err := SelectFromChain(in, models.ChainSnapshot{Expirations: []time.Time{date(2025, 2, 14)}, Strikes: []float64{95}})
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestSelectFromChain_TieGoesToFirstEnumerated(t *testing.T) {
	chain := models.ChainSnapshot{
		Expirations: []time.Time{date(2025, 2, 21), date(2025, 2, 14)},
		Strikes:     []float64{100, 95},
	}
	in := putInput()
	in.Leg.TargetDelta = 0.5
	fixed := func(_, K, _, _, _ float64) float64 {
		if K == 95 {
			return 0.25
		}
		return 0.75
	}

	cand, err := selectFromChain(in, chain, fixed)
	require.NoError(t, err)
	assert.Equal(t, 95.0, cand.Strike, "lowest strike wins a tie")
	assert.Equal(t, 35, cand.DTE, "nearest expiration wins a tie")
}

func TestSelectFromChain_CallIsPushedAboveSpot(t *testing.T) {
	in := putInput()
	in.Right = models.RightCall
	in.Leg.TargetDelta = 0.20

	t.Run("snaps to listed strike", func(t *testing.T) {
		chain := models.ChainSnapshot{
			Expirations: []time.Time{date(2025, 2, 14)},
			Strikes:     []float64{95, 100, 105, 110},
		}
		cand, err := SelectFromChain(in, chain)
		require.NoError(t, err)
		assert.Equal(t, 105.0, cand.Strike)
		assert.Equal(t, models.RightCall, cand.Right)

		T := 35.0 / 365
		assert.InDelta(t, 1-pricing.PutDelta(100, 105, T, 0.03, 0.20), cand.ModelDelta, 1e-12)
		assert.InDelta(t, pricing.CallPriceParity(100, 105, T, 0.03, 0.20), cand.TheoreticalPrice, 1e-12)
	})

	t.Run("rounds when nothing listed above", func(t *testing.T) {
		chain := models.ChainSnapshot{
			Expirations: []time.Time{date(2025, 2, 14)},
			Strikes:     []float64{85, 90, 95, 100},
		}
		cand, err := SelectFromChain(in, chain)
		require.NoError(t, err)
		assert.Equal(t, 103.0, cand.Strike)
		assert.GreaterOrEqual(t, cand.TheoreticalPrice, pricing.MinCallPrice)
	})
}

func TestCandidateStrikes(t *testing.T) {
	assert.Equal(t, []float64{75, 100, 125}, candidateStrikes([]float64{125, 50, 100, 75, 200}, 100))

	var far []float64
	for i := 0; i < 100; i++ {
		far = append(far, float64(1000+i))
	}
	got := candidateStrikes(far, 100)
	require.Len(t, got, 80)
	assert.Equal(t, 1000.0, got[0])
	assert.Equal(t, 1079.0, got[79])
}

func TestSelectFromChain_OnlyFirstTenExpirations(t *testing.T) {
	var exps []time.Time
	for i := 0; i < 12; i++ {
		exps = append(exps, testNow.AddDate(0, 0, 30+i))
	}
	in := putInput()
	in.Leg.MaxDTE = 60
	// Only the last expiration would put the 95 strike closest to target.
	target := func(_, _, T, _, _ float64) float64 {
		if math.Abs(T-41.0/365) < 1e-9 {
			return in.Leg.TargetDelta
		}
		return 0
	}
	cand, err := selectFromChain(in, models.ChainSnapshot{Expirations: exps, Strikes: []float64{95}}, target)
	require.NoError(t, err)
	assert.Equal(t, 30, cand.DTE)
}

func TestBuildChainSnapshot(t *testing.T) {
	params := []broker.ChainParams{
		{Exchange: "CBOE", Expirations: []string{"20250117"}, Strikes: []float64{1}},
		{Exchange: "SMART", Expirations: []string{"20250221", "bad", "20250117", "20250221"}, Strikes: []float64{100, 95, 0, 100}},
	}
	snap, ok := BuildChainSnapshot("spy", params)
	require.True(t, ok)
	assert.Equal(t, "SPY", snap.Symbol)
	assert.Equal(t, "SMART", snap.Exchange)
	assert.Equal(t, []time.Time{date(2025, 1, 17), date(2025, 2, 21)}, snap.Expirations)
	assert.Equal(t, []float64{95, 100}, snap.Strikes)

	first, ok := BuildChainSnapshot("spy", params[:1])
	require.True(t, ok)
	assert.Equal(t, "CBOE", first.Exchange)

	_, ok = BuildChainSnapshot("spy", nil)
	assert.False(t, ok)
}
