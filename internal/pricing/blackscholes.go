// Package pricing holds the closed-form put model used for strike selection.
package pricing

import "math"

// MinCallPrice is the floor applied to parity-derived call prices.
const MinCallPrice = 0.01

// NormCDF returns the standard normal cumulative distribution at x.
func NormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// degenerate reports whether the inputs fall outside the closed form's domain.
func degenerate(S, K, T, vol float64) bool {
	return T <= 0 || vol <= 0 || S <= 0 || K <= 0 ||
		math.IsNaN(S) || math.IsNaN(K) || math.IsNaN(T) || math.IsNaN(vol)
}

func d1d2(S, K, T, r, vol float64) (float64, float64) {
	volSqrtT := vol * math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*vol*vol)*T) / volSqrtT
	return d1, d1 - volSqrtT
}

// PutPrice returns the Black-Scholes value of a European put.
//
// Parameters:
//   - S: spot price of the underlying
//   - K: strike
//   - T: time to expiry in years
//   - r: annual risk-free rate
//   - vol: annualized volatility as a decimal
//
// Degenerate inputs (T, vol, S or K not positive) return the intrinsic value
// max(0, K-S) instead of failing.
func PutPrice(S, K, T, r, vol float64) float64 {
	if degenerate(S, K, T, vol) {
		return math.Max(0, K-S)
	}
	d1, d2 := d1d2(S, K, T, r, vol)
	price := K*math.Exp(-r*T)*(1-NormCDF(d2)) - S*(1-NormCDF(d1))
	return math.Max(0, price)
}

// PutDelta returns the magnitude of the put delta, |N(d1) - 1|, in [0, 1].
// Degenerate inputs return 0.
func PutDelta(S, K, T, r, vol float64) float64 {
	if degenerate(S, K, T, vol) {
		return 0
	}
	d1, _ := d1d2(S, K, T, r, vol)
	return math.Abs(NormCDF(d1) - 1)
}

// CallPriceParity approximates a call value from the put through put-call
// parity, C = P + S - K*exp(-rT), floored at MinCallPrice. It anchors order
// pricing and is not a tradable fair value.
func CallPriceParity(S, K, T, r, vol float64) float64 {
	if T < 0 {
		T = 0
	}
	c := PutPrice(S, K, T, r, vol) + S - K*math.Exp(-r*T)
	return math.Max(MinCallPrice, c)
}
