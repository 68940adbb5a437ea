package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutPrice_DegenerateInputsReturnIntrinsic(t *testing.T) {
	tests := []struct {
		name          string
		S, K, T, r, v float64
		expected      float64
	}{
		{"expired ITM", 90, 100, 0, 0.03, 0.2, 10},
		{"expired OTM", 110, 100, 0, 0.03, 0.2, 0},
		{"negative time", 95, 100, -0.5, 0.03, 0.2, 5},
		{"zero vol ITM", 80, 100, 0.5, 0.03, 0, 20},
		{"negative vol OTM", 120, 100, 0.5, 0.03, -0.1, 0},
		{"zero spot", 0, 100, 0.5, 0.03, 0.2, 100},
		{"zero strike", 100, 0, 0.5, 0.03, 0.2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PutPrice(tt.S, tt.K, tt.T, tt.r, tt.v))
			assert.Equal(t, 0.0, PutDelta(tt.S, tt.K, tt.T, tt.r, tt.v))
		})
	}
}

func TestPutPrice_KnownValue(t *testing.T) {
	// S=100 K=100 T=1 r=0.05 vol=0.2: textbook put value 5.5735
	got := PutPrice(100, 100, 1, 0.05, 0.2)
	assert.InDelta(t, 5.5735, got, 1e-3)

	delta := PutDelta(100, 100, 1, 0.05, 0.2)
	assert.InDelta(t, 0.3632, delta, 1e-3)
}

func TestPutDelta_MonotoneInStrike(t *testing.T) {
	for _, vol := range []float64{0.1, 0.2, 0.6} {
		prev := -1.0
		for K := 50.0; K <= 150.0; K += 0.5 {
			d := PutDelta(100, K, 35.0/365.0, 0.03, vol)
			if d < prev-1e-12 {
				t.Fatalf("delta decreased at K=%.1f vol=%.2f: %.6f < %.6f", K, vol, d, prev)
			}
			if d < 0 || d > 1 {
				t.Fatalf("delta out of range at K=%.1f: %.6f", K, d)
			}
			prev = d
		}
	}
}

func TestPutPrice_NonNegative(t *testing.T) {
	for K := 10.0; K <= 300.0; K += 10 {
		p := PutPrice(100, K, 30.0/365.0, 0.03, 0.25)
		assert.GreaterOrEqual(t, p, 0.0, "K=%v", K)
		assert.False(t, math.IsNaN(p))
	}
}

func TestCallPriceParity(t *testing.T) {
	S, K, T, r, vol := 100.0, 103.0, 35.0/365.0, 0.03, 0.2
	expected := PutPrice(S, K, T, r, vol) + S - K*math.Exp(-r*T)
	assert.InDelta(t, expected, CallPriceParity(S, K, T, r, vol), 1e-12)

	// Deep OTM call rounds to the floor rather than going negative.
	assert.Equal(t, MinCallPrice, CallPriceParity(100, 400, 1.0/365.0, 0.03, 0.2))
}

func TestNormCDF(t *testing.T) {
	assert.InDelta(t, 0.5, NormCDF(0), 1e-12)
	assert.InDelta(t, 0.975, NormCDF(1.959964), 1e-6)
	assert.InDelta(t, 1.0, NormCDF(1.0)+NormCDF(-1.0), 1e-12)
}
