package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/marketdata"
	"github.com/eddiefleurent/wheelbot/internal/metrics"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/orders"
	"github.com/eddiefleurent/wheelbot/internal/pricing"
	"github.com/eddiefleurent/wheelbot/internal/retry"
	"github.com/sirupsen/logrus"
)

// Action is what a cycle decided to do.
type Action string

const (
	ActionIdle       Action = "idle"
	ActionProfitTake Action = "profit_take"
	ActionRoll       Action = "roll"
	ActionSellPut    Action = "sell_put"
	ActionSellCall   Action = "sell_call"
)

// fallbackCredit is the credit assumed when neither a quote nor a model
// price is available for an open leg.
const fallbackCredit = 1.00

// Decision is the outcome of one cycle for one symbol.
type Decision struct {
	Symbol   string
	Phase    models.Phase
	Position models.Position
	Action   Action
	Reason   string
	Intent   *models.OrderIntent
	Result   *models.OrderRecord
	Err      error
}

// OrderSink accepts the order a cycle decided on.
type OrderSink interface {
	Submit(ctx context.Context, intent models.OrderIntent) (models.OrderRecord, error)
}

// Controller runs wheel cycles against a gateway.
type Controller struct {
	gw       broker.Gateway
	sink     OrderSink
	cfg      Config
	mdCfg    marketdata.Config
	clock    retry.Clock
	metrics  *metrics.Metrics
	logger   logrus.FieldLogger
	composer orders.Composer

	spot       *marketdata.SpotEstimator
	vol        *marketdata.VolatilityEstimator
	quoter     *marketdata.Quoter
	selector   *ChainSelector
	classifier *Classifier
}

// Option configures a Controller.
type Option func(*Controller)

func WithClock(clk retry.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithMarketData(cfg marketdata.Config) Option {
	return func(c *Controller) { c.mdCfg = cfg }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = metrics.OrNoop(m) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithComposer(cp orders.Composer) Option {
	return func(c *Controller) { c.composer = cp }
}

// NewController wires the market data helpers, selector and classifier
// around gw. Orders go to sink.
func NewController(gw broker.Gateway, sink OrderSink, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		gw:       gw,
		sink:     sink,
		cfg:      cfg,
		mdCfg:    marketdata.DefaultConfig(),
		clock:    retry.SystemClock{},
		metrics:  metrics.NewNoop(),
		logger:   logrus.StandardLogger(),
		composer: orders.DefaultComposer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mdCfg.DefaultVolatility = cfg.DefaultVolatility

	c.spot = marketdata.NewSpotEstimator(gw, c.mdCfg, c.clock, c.logger, c.metrics)
	c.vol = marketdata.NewVolatilityEstimator(gw, cfg.DefaultVolatility, c.logger)
	c.quoter = marketdata.NewQuoter(gw, c.mdCfg, c.clock, c.logger)
	c.selector = NewChainSelector(gw, c.spot, c.vol, cfg, c.clock.Now, c.logger)
	c.classifier = NewClassifier(gw, c.logger)
	c.logger = c.logger.WithField("component", "wheel")
	return c
}

// Selector exposes the strike selector for read-only use.
func (c *Controller) Selector() *ChainSelector { return c.selector }

// RunCycle runs one wheel cycle for symbol and submits at most one order.
// The error is non-nil only when the broker session is gone; every other
// problem idles the cycle and is reported in the Decision.
func (c *Controller) RunCycle(ctx context.Context, symbol string) (Decision, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	d := Decision{Symbol: sym, Action: ActionIdle}
	log := c.logger.WithField("symbol", sym)
	c.metrics.Cycles.Inc()

	if err := c.gw.Ping(ctx); err != nil {
		if !errors.Is(err, broker.ErrDisconnected) {
			err = fmt.Errorf("%w: %v", broker.ErrDisconnected, err)
		}
		return c.fatal(d, err)
	}

	stock, err := c.gw.ResolveStock(ctx, sym)
	if err != nil {
		return c.idle(d, "resolve stock", err)
	}

	pos, err := c.classifier.Classify(ctx, sym)
	if err != nil {
		return c.idle(d, "classify positions", err)
	}
	d.Position = pos
	d.Phase = pos.Phase()
	log.Infof("Phase %s (%s)", d.Phase, pos)

	open, err := c.gw.OpenOrders(ctx)
	if err != nil {
		return c.idle(d, "list open orders", err)
	}
	working := c.workingOrders(sym, open)

	for _, legs := range [][]models.ShortLeg{pos.ShortPuts, pos.ShortCalls} {
		for _, leg := range legs {
			if ref, ok := pendingOn(working, leg.Contract.ConID); ok {
				log.Infof("Leg %s has a working order (%s)", leg.Contract, ref)
				continue
			}
			intent, action, ok := c.manageLeg(ctx, stock, leg)
			if ok {
				return c.submit(ctx, d, action, intent)
			}
		}
	}

	if len(working) > 0 {
		d.Reason = fmt.Sprintf("order pending (%s)", orderRef(working[0]))
		log.Infof("Not opening a leg: %s", d.Reason)
		return d, nil
	}
	return c.openLeg(ctx, d, stock, pos)
}

func (c *Controller) fatal(d Decision, err error) (Decision, error) {
	c.metrics.CycleErrors.Inc()
	d.Err = err
	d.Reason = "broker disconnected"
	c.logger.WithField("symbol", d.Symbol).Errorf("Cycle aborted: %v", err)
	return d, err
}

// idle ends the cycle without an order. A lost session is still fatal.
func (c *Controller) idle(d Decision, step string, err error) (Decision, error) {
	if errors.Is(err, broker.ErrDisconnected) {
		return c.fatal(d, fmt.Errorf("%s: %w", step, err))
	}
	c.metrics.DataUnavailable.Inc()
	d.Err = err
	d.Reason = fmt.Sprintf("%s: %v", step, err)
	c.logger.WithField("symbol", d.Symbol).Warnf("Idle: %s", d.Reason)
	return d, nil
}

// workingOrders keeps the orders this bot placed for symbol that can still
// fill.
func (c *Controller) workingOrders(symbol string, open []broker.OpenOrder) []broker.OpenOrder {
	if c.cfg.OrderTag == "" {
		return nil
	}
	var out []broker.OpenOrder
	for _, o := range open {
		if o.IsWorking() && strings.EqualFold(o.Symbol, symbol) && strings.Contains(o.OrderRef, c.cfg.OrderTag) {
			out = append(out, o)
		}
	}
	return out
}

// pendingOn finds a working order on the contract conid. Unqualified legs
// (conid 0) never match.
func pendingOn(working []broker.OpenOrder, conid int) (string, bool) {
	if conid == 0 {
		return "", false
	}
	for _, o := range working {
		if o.ConID == conid {
			return orderRef(o), true
		}
	}
	return "", false
}

func orderRef(o broker.OpenOrder) string {
	return fmt.Sprintf("%s %s %s", o.OrderID, o.Side, o.Status)
}

// manageLeg decides whether an open short leg should be bought back, either
// to lock in profit or because it is close to expiration.
func (c *Controller) manageLeg(ctx context.Context, stock models.Stock, leg models.ShortLeg) (models.OrderIntent, Action, bool) {
	opt := leg.Contract
	log := c.logger.WithFields(logrus.Fields{"symbol": stock.Symbol, "leg": opt.String()})

	tk := c.quoter.Snapshot(ctx, opt)
	dte := opt.DTE(c.clock.Now())
	credit := c.creditEstimate(ctx, stock, opt, tk, dte)
	threshold := math.Max(0.01, credit*(1-c.cfg.TakeProfit))

	if mark, ok := tk.Mark(); ok && mark <= threshold {
		px := c.composer.ComposeLimit(mark, 0, models.ActionBuy)
		reason := fmt.Sprintf("take profit: mark %.2f <= %.2f (credit %.2f)", mark, threshold, credit)
		return c.closeIntent(leg, px, reason), ActionProfitTake, true
	}

	if dte <= c.cfg.RollDTEThreshold {
		px, ok := tk.Marketable()
		if !ok {
			log.Warnf("Leg at %d DTE needs rolling but has no ask or last", dte)
			return models.OrderIntent{}, "", false
		}
		reason := fmt.Sprintf("roll: %d DTE <= %d", dte, c.cfg.RollDTEThreshold)
		return c.closeIntent(leg, c.composer.Marketable(px, models.ActionBuy), reason), ActionRoll, true
	}

	log.Debugf("Holding: dte=%d credit=%.2f threshold=%.2f", dte, credit, threshold)
	return models.OrderIntent{}, "", false
}

// creditEstimate approximates the premium collected for a leg: last, then
// mid, then the model price, then a constant.
func (c *Controller) creditEstimate(ctx context.Context, stock models.Stock, opt models.OptionContract, tk models.Ticker, dte int) float64 {
	if tk.Last > 0 {
		return tk.Last
	}
	if mid, ok := tk.Mid(); ok {
		return mid
	}
	if q, ok := c.spot.ResolveSpot(ctx, stock); ok {
		t := math.Max(0, float64(dte)) / 365
		var theo float64
		if opt.Right == models.RightCall {
			theo = pricing.CallPriceParity(q.Price, opt.Strike, t, c.cfg.RiskFreeRate, c.cfg.DefaultVolatility)
		} else {
			theo = pricing.PutPrice(q.Price, opt.Strike, t, c.cfg.RiskFreeRate, c.cfg.DefaultVolatility)
		}
		if theo > 0 {
			return theo
		}
	}
	return fallbackCredit
}

func (c *Controller) closeIntent(leg models.ShortLeg, px float64, reason string) models.OrderIntent {
	return models.OrderIntent{
		Instrument: leg.Contract,
		Action:     models.ActionBuy,
		Quantity:   leg.Contracts(),
		LimitPrice: px,
		Tag:        c.cfg.OrderTag,
		TIF:        models.TIFGoodTillCancel,
		Reason:     reason,
	}
}

// openLeg sells a covered call against round lots, or a cash-secured put when
// there are none, unless that leg is already open.
func (c *Controller) openLeg(ctx context.Context, d Decision, stock models.Stock, pos models.Position) (Decision, error) {
	var (
		right  models.Right
		leg    LegConfig
		qty    int
		action Action
	)
	switch {
	case pos.Shares >= models.SharesPerContract && len(pos.ShortCalls) == 0:
		right, leg, action = models.RightCall, c.cfg.Call, ActionSellCall
		qty = min(c.cfg.Quantity, pos.CoveredLots())
	case pos.Shares < models.SharesPerContract && len(pos.ShortPuts) == 0:
		right, leg, action = models.RightPut, c.cfg.Put, ActionSellPut
		qty = c.cfg.Quantity
	default:
		d.Reason = "legs open, nothing to manage"
		c.logger.WithField("symbol", d.Symbol).Info("Idle: " + d.Reason)
		return d, nil
	}

	cand, err := c.selector.SelectStrike(ctx, stock, leg, right)
	if err != nil {
		return c.idle(d, "select "+right.String(), err)
	}
	qualified, err := c.gw.ResolveOption(ctx, cand.Contract())
	if err != nil {
		return c.idle(d, "qualify "+right.String(), err)
	}
	if c.cfg.VerifyGreeks {
		c.verifyGreeks(ctx, qualified, cand)
	}

	intent := models.OrderIntent{
		Instrument: qualified,
		Action:     models.ActionSell,
		Quantity:   qty,
		LimitPrice: c.composer.ComposeLimit(cand.TheoreticalPrice, c.cfg.Markup, models.ActionSell),
		Tag:        c.cfg.OrderTag,
		TIF:        models.TIFGoodTillCancel,
		Reason: fmt.Sprintf("sell %s: delta %.3f target %.2f, %d DTE, theo %.2f",
			right, cand.ModelDelta, leg.TargetDelta, cand.DTE, cand.TheoreticalPrice),
	}
	return c.submit(ctx, d, action, intent)
}

// verifyGreeks logs the broker's model delta next to ours. It never changes
// the decision.
func (c *Controller) verifyGreeks(ctx context.Context, opt models.OptionContract, cand models.OptionCandidate) {
	log := c.logger.WithFields(logrus.Fields{"symbol": opt.Symbol, "leg": opt.String()})
	tk, ok := c.quoter.Greeks(ctx, opt)
	if !ok {
		log.Info("Broker greeks unavailable")
		return
	}
	log.Infof("Broker delta %.3f vs model %.3f (iv %.2f%%)", math.Abs(tk.Delta), cand.ModelDelta, tk.ImpliedVol*100)
}

func (c *Controller) submit(ctx context.Context, d Decision, action Action, intent models.OrderIntent) (Decision, error) {
	log := c.logger.WithField("symbol", d.Symbol)
	d.Action = action
	d.Reason = intent.Reason
	d.Intent = &intent

	rec, err := c.sink.Submit(ctx, intent)
	if err != nil {
		if errors.Is(err, broker.ErrDisconnected) {
			return c.fatal(d, err)
		}
		d.Err = err
		log.Errorf("Order failed: %v", err)
		return d, nil
	}
	d.Result = &rec

	switch action {
	case ActionProfitTake:
		c.metrics.ProfitTakes.Inc()
	case ActionRoll:
		c.metrics.Rolls.Inc()
	case ActionSellPut, ActionSellCall:
		c.metrics.LegsOpened.Inc()
	}
	log.Infof("%s: %s", action, intent)
	return d, nil
}
