// Package orders turns priced intents into broker limit orders.
package orders

import (
	"math"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/util"
)

const (
	DefaultTick     = 0.01
	DefaultMinPrice = 0.05
)

// Composer rounds limit prices onto the exchange tick grid.
type Composer struct {
	Tick     float64
	MinPrice float64
}

func DefaultComposer() Composer {
	return Composer{Tick: DefaultTick, MinPrice: DefaultMinPrice}
}

// ComposeLimit returns theo marked up by markup, floored and rounded to the
// tick. Sells are floored at MinPrice, buys at one tick.
func (c Composer) ComposeLimit(theo, markup float64, action models.Action) float64 {
	tick := c.tick()
	floor := tick
	if action == models.ActionSell {
		floor = math.Max(c.MinPrice, tick)
	}
	if math.IsNaN(theo) {
		theo = 0
	}
	px := math.Max(floor, theo*(1+markup))
	return util.RoundToTick(px, tick)
}

// Marketable puts a quoted price on the tick grid on the side that crosses
// the spread: buys round up, sells round down. The result is never below
// one tick.
func (c Composer) Marketable(px float64, action models.Action) float64 {
	tick := c.tick()
	if math.IsNaN(px) || px < tick {
		return tick
	}
	if action == models.ActionBuy {
		return util.CeilToTick(px, tick)
	}
	return math.Max(tick, util.FloorToTick(px, tick))
}

func (c Composer) tick() float64 {
	if c.Tick <= 0 {
		return DefaultTick
	}
	return c.Tick
}
