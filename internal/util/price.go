// Package util provides tick-size rounding for option prices.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// Cents is the standard option price increment.
const Cents = 0.01

// toTicks converts x into a decimal count of tick increments. It reports false
// when the inputs cannot be rounded, in which case callers return x unchanged.
func toTicks(x, tick float64) (decimal.Decimal, decimal.Decimal, bool) {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(tick) || math.IsInf(tick, 0) {
		return decimal.Zero, decimal.Zero, false
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(x).Div(t), t, true
}

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.01, 1.235 becomes 1.24.
func RoundToTick(x, tick float64) float64 {
	n, t, ok := toTicks(x, tick)
	if !ok {
		return x
	}
	f, _ := n.Round(0).Mul(t).Float64()
	return f
}

// FloorToTick rounds x down to the nearest tick increment.
func FloorToTick(x, tick float64) float64 {
	n, t, ok := toTicks(x, tick)
	if !ok {
		return x
	}
	f, _ := n.Floor().Mul(t).Float64()
	return f
}

// CeilToTick rounds x up to the nearest tick increment.
func CeilToTick(x, tick float64) float64 {
	n, t, ok := toTicks(x, tick)
	if !ok {
		return x
	}
	f, _ := n.Ceil().Mul(t).Float64()
	return f
}

// RoundCents rounds x to two decimal places.
func RoundCents(x float64) float64 {
	return RoundToTick(x, Cents)
}
