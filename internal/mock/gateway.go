// Package mock provides an in-memory broker gateway for tests and paper runs.
package mock

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/models"
)

// PlacedOrder records one PlaceOrder call.
type PlacedOrder struct {
	Instrument models.Instrument
	Order      broker.Order
	Ack        broker.OrderAck
}

// Gateway is a scriptable broker.Gateway. Quotes are scripted per instrument
// as sequences: each read consumes the next value and the last one sticks.
// When a market is attached (see NewSimulatedGateway) unscripted quotes are
// generated from it.
type Gateway struct {
	mu sync.Mutex

	PingErr      error
	ResolveErr   error
	ChainErr     error
	PositionsErr error
	OrdersErr    error
	PlaceErr     error
	StreamErr    error
	SnapshotErr  error
	BarsErr      error

	// FillOrders applies placed orders to positions immediately instead of
	// leaving them working.
	FillOrders bool

	stocks    map[string]models.Stock
	optionIDs map[string]int
	streams   map[string][]models.Ticker
	snapshots map[string][]models.Ticker
	bars      map[string][]broker.Bar
	chains    map[string][]broker.ChainParams
	positions []broker.PositionItem
	orders    []broker.OpenOrder
	placed    []PlacedOrder
	mode      broker.MarketDataMode
	calls     map[string]int
	nextID    int
	market    *market
}

var _ broker.Gateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{
		stocks:    make(map[string]models.Stock),
		optionIDs: make(map[string]int),
		streams:   make(map[string][]models.Ticker),
		snapshots: make(map[string][]models.Ticker),
		bars:      make(map[string][]broker.Bar),
		chains:    make(map[string][]broker.ChainParams),
		calls:     make(map[string]int),
		mode:      broker.MarketDataDelayedFrozen,
		nextID:    100000,
	}
}

// quoteKey identifies an instrument independent of its contract id.
func quoteKey(inst models.Instrument) string {
	if opt, ok := inst.(models.OptionContract); ok {
		return fmt.Sprintf("%s %s %g%s", strings.ToUpper(opt.Symbol), opt.ExpiryCode(), opt.Strike, opt.Right)
	}
	return strings.ToUpper(inst.Underlying())
}

func (g *Gateway) count(op string) {
	g.calls[op]++
}

// Calls returns how often op (the Gateway method name) was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// AddStock registers a resolvable stock and returns it.
func (g *Gateway) AddStock(symbol string, conid int) models.Stock {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := models.Stock{ConID: conid, Symbol: strings.ToUpper(symbol), Exchange: broker.DefaultExchange, Currency: broker.DefaultCurrency}
	g.stocks[s.Symbol] = s
	return s
}

// SetStream scripts the tickers a stream for inst reports.
func (g *Gateway) SetStream(inst models.Instrument, tickers ...models.Ticker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.streams[quoteKey(inst)] = tickers
}

// SetSnapshot scripts the tickers successive snapshots of inst return.
func (g *Gateway) SetSnapshot(inst models.Instrument, tickers ...models.Ticker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshots[quoteKey(inst)] = tickers
}

// SetCloses scripts daily bars for a symbol, one per close, oldest first.
func (g *Gateway) SetCloses(symbol string, end time.Time, closes ...float64) {
	bars := make([]broker.Bar, len(closes))
	for i, c := range closes {
		bars[i] = broker.Bar{
			Time:  end.AddDate(0, 0, i-len(closes)+1),
			Open:  c,
			High:  c,
			Low:   c,
			Close: c,
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bars[strings.ToUpper(symbol)] = bars
}

// SetChain scripts the chain definition for a symbol.
func (g *Gateway) SetChain(symbol string, params ...broker.ChainParams) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chains[strings.ToUpper(symbol)] = params
}

// AddPosition appends a raw broker position.
func (g *Gateway) AddPosition(item broker.PositionItem) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions = append(g.positions, item)
}

// AddOpenOrder appends a working order.
func (g *Gateway) AddOpenOrder(o broker.OpenOrder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, o)
}

// Placed returns the orders placed so far.
func (g *Gateway) Placed() []PlacedOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PlacedOrder, len(g.placed))
	copy(out, g.placed)
	return out
}

// Mode returns the last market data mode set.
func (g *Gateway) Mode() broker.MarketDataMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// StockItem builds a stock position row.
func StockItem(stock models.Stock, shares int) broker.PositionItem {
	return broker.PositionItem{
		ConID:       stock.ConID,
		Symbol:      stock.Symbol,
		SecType:     string(models.SecTypeStock),
		LocalSymbol: stock.Symbol,
		Quantity:    float64(shares),
	}
}

// OSISymbol formats an OCC option symbol with the root padded to six characters.
func OSISymbol(opt models.OptionContract) string {
	return fmt.Sprintf("%-6s%s%s%08d", strings.ToUpper(opt.Symbol), opt.Expiry.Format("060102"),
		string(opt.Right), int64(math.Round(opt.Strike*1000)))
}

// OptionItem builds an option position row the way the broker reports it.
func OptionItem(opt models.OptionContract, qty int) broker.PositionItem {
	return broker.PositionItem{
		ConID:        opt.ConID,
		Symbol:       strings.ToUpper(opt.Symbol),
		SecType:      string(models.SecTypeOption),
		LocalSymbol:  OSISymbol(opt),
		Exchange:     opt.Exchange,
		Currency:     opt.Currency,
		TradingClass: opt.TradingClass,
		Expiry:       opt.ExpiryCode(),
		Strike:       opt.Strike,
		Right:        string(opt.Right),
		Multiplier:   float64(opt.Multiplier),
		Quantity:     float64(qty),
	}
}

func (g *Gateway) Ping(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("Ping")
	return g.PingErr
}

func (g *Gateway) SetMarketDataMode(_ context.Context, mode broker.MarketDataMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("SetMarketDataMode")
	if !mode.Valid() {
		return fmt.Errorf("invalid market data mode %d", int(mode))
	}
	g.mode = mode
	return nil
}

func (g *Gateway) ResolveStock(_ context.Context, symbol string) (models.Stock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("ResolveStock")
	if g.ResolveErr != nil {
		return models.Stock{}, g.ResolveErr
	}
	s, ok := g.stocks[strings.ToUpper(symbol)]
	if !ok {
		return models.Stock{}, fmt.Errorf("%w: %s", broker.ErrNotFound, symbol)
	}
	return s, nil
}

func (g *Gateway) ResolveOption(_ context.Context, opt models.OptionContract) (models.OptionContract, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("ResolveOption")
	if g.ResolveErr != nil {
		return models.OptionContract{}, g.ResolveErr
	}
	key := quoteKey(opt)
	id, ok := g.optionIDs[key]
	if !ok {
		g.nextID++
		id = g.nextID
		g.optionIDs[key] = id
	}
	q := opt
	q.Symbol = strings.ToUpper(opt.Symbol)
	q.ConID = id
	q.Exchange = broker.DefaultExchange
	q.Currency = broker.DefaultCurrency
	q.TradingClass = q.Symbol
	q.Multiplier = broker.DefaultMultiplier
	return q, nil
}

func (g *Gateway) OptionChainParams(_ context.Context, stock models.Stock) ([]broker.ChainParams, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("OptionChainParams")
	if g.ChainErr != nil {
		return nil, g.ChainErr
	}
	return g.chains[strings.ToUpper(stock.Symbol)], nil
}

// next pops the next scripted ticker, keeping the last one in place.
func next(script map[string][]models.Ticker, key string) (models.Ticker, bool) {
	seq, ok := script[key]
	if !ok || len(seq) == 0 {
		return models.Ticker{}, false
	}
	t := seq[0]
	if len(seq) > 1 {
		script[key] = seq[1:]
	}
	return t, true
}

type stream struct {
	g      *Gateway
	inst   models.Instrument
	mu     sync.Mutex
	closed bool
}

func (s *stream) Ticker() models.Ticker {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return models.Ticker{}
	}
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if t, ok := next(s.g.streams, quoteKey(s.inst)); ok {
		return t
	}
	if s.g.market != nil {
		return s.g.market.quote(s.inst)
	}
	return models.Ticker{}
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (g *Gateway) StreamQuote(_ context.Context, inst models.Instrument) (broker.QuoteStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("StreamQuote")
	if g.StreamErr != nil {
		return nil, g.StreamErr
	}
	return &stream{g: g, inst: inst}, nil
}

func (g *Gateway) SnapshotQuote(_ context.Context, inst models.Instrument) (models.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("SnapshotQuote")
	if g.SnapshotErr != nil {
		return models.Ticker{}, g.SnapshotErr
	}
	if t, ok := next(g.snapshots, quoteKey(inst)); ok {
		return t, nil
	}
	if g.market != nil {
		return g.market.quote(inst), nil
	}
	return models.Ticker{}, nil
}

func (g *Gateway) HistoricalBars(_ context.Context, inst models.Instrument, bars int, _ string) ([]broker.Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("HistoricalBars")
	if g.BarsErr != nil {
		return nil, g.BarsErr
	}
	all := g.bars[strings.ToUpper(inst.Underlying())]
	if bars > 0 && len(all) > bars {
		all = all[len(all)-bars:]
	}
	out := make([]broker.Bar, len(all))
	copy(out, all)
	return out, nil
}

func (g *Gateway) Positions(context.Context) ([]broker.PositionItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("Positions")
	if g.PositionsErr != nil {
		return nil, g.PositionsErr
	}
	out := make([]broker.PositionItem, len(g.positions))
	copy(out, g.positions)
	return out, nil
}

func (g *Gateway) OpenOrders(context.Context) ([]broker.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("OpenOrders")
	if g.OrdersErr != nil {
		return nil, g.OrdersErr
	}
	out := make([]broker.OpenOrder, 0, len(g.orders))
	for _, o := range g.orders {
		if o.IsWorking() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (g *Gateway) PlaceOrder(_ context.Context, inst models.Instrument, order broker.Order) (*broker.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("PlaceOrder")
	if g.PlaceErr != nil {
		return nil, g.PlaceErr
	}
	g.nextID++
	ack := broker.OrderAck{OrderID: fmt.Sprintf("%d", g.nextID), Status: "Submitted"}
	if g.FillOrders {
		ack.Status = "Filled"
		g.fill(inst, order)
	} else {
		g.orders = append(g.orders, broker.OpenOrder{
			OrderID:    ack.OrderID,
			ConID:      inst.ContractID(),
			Symbol:     strings.ToUpper(inst.Underlying()),
			Side:       string(order.Action),
			Status:     ack.Status,
			Quantity:   float64(order.Quantity),
			LimitPrice: order.LimitPrice,
			OrderRef:   order.OrderRef,
		})
	}
	g.placed = append(g.placed, PlacedOrder{Instrument: inst, Order: order, Ack: ack})
	return &ack, nil
}

// fill applies an order to the position book.
func (g *Gateway) fill(inst models.Instrument, order broker.Order) {
	qty := order.Quantity
	if order.Action == models.ActionSell {
		qty = -qty
	}
	for i := range g.positions {
		p := &g.positions[i]
		if p.ConID != inst.ContractID() {
			continue
		}
		p.Quantity += float64(qty)
		if p.Quantity == 0 {
			g.positions = append(g.positions[:i], g.positions[i+1:]...)
		}
		return
	}
	switch v := inst.(type) {
	case models.OptionContract:
		g.positions = append(g.positions, OptionItem(v, qty))
	case models.Stock:
		g.positions = append(g.positions, StockItem(v, qty))
	}
}
