package broker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultIBKRBaseURL is the Client Portal Gateway's default local address.
const DefaultIBKRBaseURL = "https://127.0.0.1:5000/v1/api"

const (
	positionsPageSize = 100
	maxPositionPages  = 20
	maxOrderReplies   = 5
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IBKRConfig configures the Client Portal client.
type IBKRConfig struct {
	BaseURL        string
	AccountID      string
	InsecureTLS    bool
	Timeout        time.Duration
	MaxChainMonths int
}

// IBKRClient implements Gateway against the Interactive Brokers Client Portal
// Web API exposed by a locally running gateway.
type IBKRClient struct {
	client         *http.Client
	baseURL        string
	maxChainMonths int
	logger         logrus.FieldLogger

	mu        sync.Mutex
	accountID string
	mode      MarketDataMode
}

var _ Gateway = (*IBKRClient)(nil)

// NewIBKRClient creates a client with its own HTTP transport.
func NewIBKRClient(cfg IBKRConfig, logger logrus.FieldLogger) *IBKRClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	tr := &http.Transport{
		// The gateway serves a self-signed certificate on localhost.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}, // #nosec G402 -- opt-in for the local gateway
	}
	return NewIBKRClientWithHTTPClient(cfg, &http.Client{Transport: tr, Timeout: timeout}, logger)
}

// NewIBKRClientWithHTTPClient creates a client using the given HTTP client.
func NewIBKRClientWithHTTPClient(cfg IBKRConfig, client *http.Client, logger logrus.FieldLogger) *IBKRClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultIBKRBaseURL
	}
	months := cfg.MaxChainMonths
	if months <= 0 {
		months = 3
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IBKRClient{
		client:         client,
		baseURL:        base,
		maxChainMonths: months,
		logger:         logger.WithField("component", "ibkr"),
		accountID:      cfg.AccountID,
		mode:           MarketDataDelayedFrozen,
	}
}

// Ping verifies that the gateway session is authenticated and connected to
// the brokerage backend.
func (c *IBKRClient) Ping(ctx context.Context) error {
	var status authStatus
	if err := c.makeRequestCtx(ctx, http.MethodPost, "/iserver/auth/status", nil, nil, &status); err != nil {
		if errors.Is(err, ErrDisconnected) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if !status.Authenticated || !status.Connected {
		return fmt.Errorf("%w: authenticated=%t connected=%t competing=%t %s",
			ErrDisconnected, status.Authenticated, status.Connected, status.Competing, status.Message)
	}
	return nil
}

// SetMarketDataMode records the feed type. Client Portal picks live or delayed
// data from the account's subscriptions; the mode decides whether prices the
// gateway marks as prior-session values are accepted as last trades.
func (c *IBKRClient) SetMarketDataMode(_ context.Context, mode MarketDataMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid market data mode %d", int(mode))
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	c.logger.Infof("Market data mode set to %s", mode)
	return nil
}

func (c *IBKRClient) marketDataMode() MarketDataMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// frozenAllowed reports whether stale (frozen) values may stand in for live ones.
func (m MarketDataMode) frozenAllowed() bool {
	return m == MarketDataFrozen || m == MarketDataDelayedFrozen
}

func (c *IBKRClient) ensureAccount(ctx context.Context) (string, error) {
	c.mu.Lock()
	acct := c.accountID
	c.mu.Unlock()
	if acct != "" {
		return acct, nil
	}

	var resp accountsResponse
	if err := c.makeRequestCtx(ctx, http.MethodGet, "/iserver/accounts", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("discovering account: %w", err)
	}
	acct = resp.SelectedAccount
	if acct == "" && len(resp.Accounts) > 0 {
		acct = resp.Accounts[0]
	}
	if acct == "" {
		return "", errors.New("no brokerage account available on the gateway session")
	}

	c.mu.Lock()
	c.accountID = acct
	c.mu.Unlock()
	c.logger.Infof("Using account %s", acct)
	return acct, nil
}

func (c *IBKRClient) search(ctx context.Context, symbol string) ([]searchResult, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	var results []searchResult
	if err := c.makeRequestCtx(ctx, http.MethodGet, "/iserver/secdef/search", params, nil, &results); err != nil {
		return nil, fmt.Errorf("searching %s: %w", symbol, err)
	}
	return results, nil
}

func pickSearchResult(results []searchResult, symbol string) (searchResult, bool) {
	for _, r := range results {
		if strings.EqualFold(r.Symbol, symbol) && r.ConID > 0 {
			return r, true
		}
	}
	for _, r := range results {
		if r.ConID > 0 {
			return r, true
		}
	}
	return searchResult{}, false
}

// ResolveStock looks up the equity contract for symbol.
func (c *IBKRClient) ResolveStock(ctx context.Context, symbol string) (models.Stock, error) {
	results, err := c.search(ctx, symbol)
	if err != nil {
		return models.Stock{}, err
	}
	r, ok := pickSearchResult(results, symbol)
	if !ok {
		return models.Stock{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return models.Stock{
		ConID:    int(r.ConID),
		Symbol:   strings.ToUpper(symbol),
		Exchange: DefaultExchange,
		Currency: DefaultCurrency,
	}, nil
}

// OptionChainParams builds the chain definition from the option months listed
// by the secdef search, their strikes, and the maturities behind each month.
func (c *IBKRClient) OptionChainParams(ctx context.Context, stock models.Stock) ([]ChainParams, error) {
	results, err := c.search(ctx, stock.Symbol)
	if err != nil {
		return nil, err
	}
	r, ok := pickSearchResult(results, stock.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, stock.Symbol)
	}
	conid := int(r.ConID)
	if stock.ConID > 0 {
		conid = stock.ConID
	}

	var months []string
	exchange := DefaultExchange
	for _, sec := range r.Sections {
		if sec.SecType != string(models.SecTypeOption) {
			continue
		}
		for _, m := range strings.Split(sec.Months, ";") {
			if m = strings.TrimSpace(m); m != "" {
				months = append(months, m)
			}
		}
		exchange = preferredExchange(sec.Exchange)
		break
	}
	if len(months) == 0 {
		return nil, nil
	}
	if len(months) > c.maxChainMonths {
		months = months[:c.maxChainMonths]
	}

	strikeSet := make(map[float64]struct{})
	expirySet := make(map[string]struct{})
	for _, month := range months {
		strikes, err := c.monthStrikes(ctx, conid, month)
		if err != nil {
			c.logger.Warnf("Skipping %s %s strikes: %v", stock.Symbol, month, err)
			continue
		}
		for _, k := range strikes {
			strikeSet[k] = struct{}{}
		}
		if len(strikes) == 0 {
			continue
		}
		probe := strikes[len(strikes)/2]
		infos, err := c.contractInfo(ctx, conid, month, probe, models.RightPut)
		if err != nil {
			c.logger.Warnf("Skipping %s %s maturities: %v", stock.Symbol, month, err)
			continue
		}
		for _, info := range infos {
			if info.MaturityDate != "" {
				expirySet[info.MaturityDate] = struct{}{}
			}
		}
	}

	params := ChainParams{Exchange: exchange}
	for e := range expirySet {
		params.Expirations = append(params.Expirations, e)
	}
	sort.Strings(params.Expirations)
	for k := range strikeSet {
		params.Strikes = append(params.Strikes, k)
	}
	sort.Float64s(params.Strikes)
	return []ChainParams{params}, nil
}

func preferredExchange(list string) string {
	var first string
	for _, ex := range strings.Split(list, ";") {
		ex = strings.TrimSpace(ex)
		if ex == "" {
			continue
		}
		if strings.EqualFold(ex, DefaultExchange) {
			return DefaultExchange
		}
		if first == "" {
			first = ex
		}
	}
	if first == "" {
		return DefaultExchange
	}
	return first
}

func (c *IBKRClient) monthStrikes(ctx context.Context, conid int, month string) ([]float64, error) {
	params := url.Values{}
	params.Set("conid", strconv.Itoa(conid))
	params.Set("sectype", string(models.SecTypeOption))
	params.Set("month", month)
	var resp strikesResponse
	if err := c.makeRequestCtx(ctx, http.MethodGet, "/iserver/secdef/strikes", params, nil, &resp); err != nil {
		return nil, err
	}
	set := make(map[float64]struct{}, len(resp.Put)+len(resp.Call))
	for _, k := range resp.Put {
		set[k] = struct{}{}
	}
	for _, k := range resp.Call {
		set[k] = struct{}{}
	}
	out := make([]float64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out, nil
}

func (c *IBKRClient) contractInfo(ctx context.Context, conid int, month string, strike float64, right models.Right) ([]contractInfo, error) {
	params := url.Values{}
	params.Set("conid", strconv.Itoa(conid))
	params.Set("sectype", string(models.SecTypeOption))
	params.Set("month", month)
	params.Set("strike", strconv.FormatFloat(strike, 'f', -1, 64))
	params.Set("right", string(right))
	params.Set("exchange", DefaultExchange)
	var infos singleOrArray[contractInfo]
	if err := c.makeRequestCtx(ctx, http.MethodGet, "/iserver/secdef/info", params, nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// ResolveOption qualifies an option reference, filling in the contract id,
// trading class and multiplier.
func (c *IBKRClient) ResolveOption(ctx context.Context, opt models.OptionContract) (models.OptionContract, error) {
	stock, err := c.ResolveStock(ctx, opt.Symbol)
	if err != nil {
		return models.OptionContract{}, err
	}
	month := strings.ToUpper(opt.Expiry.Format("Jan06"))
	infos, err := c.contractInfo(ctx, stock.ConID, month, opt.Strike, opt.Right)
	if err != nil {
		return models.OptionContract{}, fmt.Errorf("qualifying %s: %w", opt, err)
	}
	for _, info := range infos {
		if info.MaturityDate != opt.ExpiryCode() {
			continue
		}
		if info.Strike > 0 && math.Abs(float64(info.Strike)-opt.Strike) > 1e-6 {
			continue
		}
		q := opt
		q.ConID = int(info.ConID)
		q.TradingClass = info.TradingClass
		if q.TradingClass == "" {
			q.TradingClass = opt.Symbol
		}
		q.Multiplier = int(info.Multiplier)
		if q.Multiplier <= 0 {
			q.Multiplier = DefaultMultiplier
		}
		q.Exchange = DefaultExchange
		q.Currency = info.Currency
		if q.Currency == "" {
			q.Currency = DefaultCurrency
		}
		return q, nil
	}
	return models.OptionContract{}, fmt.Errorf("%w: %s", ErrNotFound, opt)
}

// SnapshotQuote fetches one market data snapshot. The first request for a
// contract only subscribes it, so early snapshots may come back empty.
func (c *IBKRClient) SnapshotQuote(ctx context.Context, inst models.Instrument) (models.Ticker, error) {
	conid := inst.ContractID()
	if conid <= 0 {
		return models.Ticker{}, fmt.Errorf("instrument %s has no contract id", inst)
	}
	params := url.Values{}
	params.Set("conids", strconv.Itoa(conid))
	params.Set("fields", strings.Join(snapshotFields, ","))
	var rows []map[string]interface{}
	if err := c.makeRequestCtx(ctx, http.MethodGet, "/iserver/marketdata/snapshot", params, nil, &rows); err != nil {
		return models.Ticker{}, err
	}
	mode := c.marketDataMode()
	for _, row := range rows {
		if id, ok := row["conid"]; ok && fieldInt(id) != conid {
			continue
		}
		return tickerFromFields(row, mode), nil
	}
	return models.Ticker{Time: time.Now()}, nil
}

func fieldInt(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func fieldString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// mergeTickerFields maps snapshot or streaming field codes onto a Ticker.
// Fields missing from the update keep their previous value.
func mergeTickerFields(base models.Ticker, fields map[string]interface{}, mode MarketDataMode) models.Ticker {
	t := base
	for code, raw := range fields {
		v, prefix, ok := parseFieldValue(fieldString(raw))
		if !ok {
			continue
		}
		switch code {
		case fieldLast:
			// "C" marks the previous session's close standing in for a last trade.
			if prefix == "C" && !mode.frozenAllowed() {
				t.Close = v
				continue
			}
			t.Last = v
		case fieldBid:
			t.Bid = v
		case fieldAsk:
			t.Ask = v
		case fieldPriorClose:
			t.Close = v
		case fieldDelta:
			t.Delta = v
		case fieldImpliedVol:
			t.ImpliedVol = v
		}
	}
	t.Time = time.Now()
	return t
}

func tickerFromFields(fields map[string]interface{}, mode MarketDataMode) models.Ticker {
	return mergeTickerFields(models.Ticker{}, fields, mode)
}

// historyPeriodDays converts a trading-bar count to a calendar lookback that
// covers it, with room for weekends and holidays.
func historyPeriodDays(bars int) int {
	if bars < 1 {
		bars = 1
	}
	return bars*7/5 + 4
}

// HistoricalBars returns up to the most recent `bars` bars, oldest first.
func (c *IBKRClient) HistoricalBars(ctx context.Context, inst models.Instrument, bars int, barSize string) ([]Bar, error) {
	conid := inst.ContractID()
	if conid <= 0 {
		return nil, fmt.Errorf("instrument %s has no contract id", inst)
	}
	if barSize == "" {
		barSize = BarSizeDay
	}
	params := url.Values{}
	params.Set("conid", strconv.Itoa(conid))
	params.Set("period", fmt.Sprintf("%dd", historyPeriodDays(bars)))
	params.Set("bar", barSize)
	params.Set("outsideRth", "false")
	var resp historyResponse
	if err := c.makeRequestCtx(ctx, http.MethodGet, "/iserver/marketdata/history", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("history for %s: %w", inst, err)
	}

	out := make([]Bar, 0, len(resp.Data))
	for _, b := range resp.Data {
		out = append(out, Bar{
			Time:   time.UnixMilli(b.T).UTC(),
			Open:   float64(b.O),
			High:   float64(b.H),
			Low:    float64(b.L),
			Close:  float64(b.C),
			Volume: float64(b.V),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if bars > 0 && len(out) > bars {
		out = out[len(out)-bars:]
	}
	return out, nil
}

// Positions lists every position in the account across all pages.
func (c *IBKRClient) Positions(ctx context.Context) ([]PositionItem, error) {
	acct, err := c.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}
	var out []PositionItem
	for page := 0; page < maxPositionPages; page++ {
		var rows []portfolioPosition
		path := fmt.Sprintf("/portfolio/%s/positions/%d", url.PathEscape(acct), page)
		if err := c.makeRequestCtx(ctx, http.MethodGet, path, nil, nil, &rows); err != nil {
			return nil, fmt.Errorf("positions page %d: %w", page, err)
		}
		for _, p := range rows {
			out = append(out, positionFromPortfolio(p))
		}
		if len(rows) < positionsPageSize {
			break
		}
	}
	return out, nil
}

// positionFromPortfolio maps a portfolio row. Routing metadata is left empty
// when the gateway omits it; NormalizeOption fills it in.
func positionFromPortfolio(p portfolioPosition) PositionItem {
	item := PositionItem{
		ConID:      int(p.ConID),
		Symbol:     strings.ToUpper(strings.TrimSpace(p.Ticker)),
		SecType:    strings.ToUpper(p.AssetClass),
		Currency:   p.Currency,
		Expiry:     p.Expiry,
		Strike:     float64(p.Strike),
		Right:      p.PutOrCall,
		Multiplier: float64(p.Multiplier),
		Quantity:   float64(p.Position),
		AvgCost:    float64(p.AvgCost),
	}
	// Option descriptions end with "[SPY   250117P00450000 100]".
	if open := strings.LastIndex(p.ContractDesc, "["); open >= 0 {
		inner := strings.TrimSuffix(strings.TrimSpace(p.ContractDesc[open+1:]), "]")
		if cut := strings.LastIndex(inner, " "); cut > 0 {
			candidate := strings.TrimSpace(inner[:cut])
			if _, ok := parseOSI(candidate); ok {
				item.LocalSymbol = candidate
			}
		}
	}
	if item.LocalSymbol == "" && item.SecType == string(models.SecTypeStock) {
		item.LocalSymbol = item.Symbol
	}
	return item
}

// OpenOrders lists live orders for the session.
func (c *IBKRClient) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var resp liveOrdersResponse
	if err := c.makeRequestCtx(ctx, http.MethodGet, "/iserver/account/orders", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	out := make([]OpenOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, OpenOrder{
			OrderID:    string(o.OrderID),
			ConID:      int(o.ConID),
			Symbol:     strings.ToUpper(o.Ticker),
			Side:       strings.ToUpper(o.Side),
			Status:     o.Status,
			Quantity:   float64(o.TotalSize),
			LimitPrice: float64(o.Price),
			OrderRef:   o.OrderRef,
		})
	}
	return out, nil
}

// PlaceOrder submits a limit order and answers the gateway's confirmation
// prompts (price cap warnings and the like) until it is acknowledged.
func (c *IBKRClient) PlaceOrder(ctx context.Context, inst models.Instrument, order Order) (*OrderAck, error) {
	conid := inst.ContractID()
	if conid <= 0 {
		return nil, fmt.Errorf("instrument %s has no contract id", inst)
	}
	acct, err := c.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}
	tif := string(order.TIF)
	if tif == "" {
		tif = string(models.TIFGoodTillCancel)
	}
	req := ordersRequest{Orders: []orderRequest{{
		ConID:     conid,
		OrderType: "LMT",
		Price:     order.LimitPrice,
		Side:      string(order.Action),
		Quantity:  float64(order.Quantity),
		TIF:       tif,
		COID:      order.ClientOrderID,
		Referrer:  order.OrderRef,
	}}}

	var replies singleOrArray[orderReply]
	path := fmt.Sprintf("/iserver/account/%s/orders", url.PathEscape(acct))
	if err := c.makeRequestCtx(ctx, http.MethodPost, path, nil, req, &replies); err != nil {
		return nil, fmt.Errorf("placing order for %s: %w", inst, err)
	}

	for round := 0; round < maxOrderReplies; round++ {
		if len(replies) == 0 {
			return nil, fmt.Errorf("placing order for %s: empty reply", inst)
		}
		r := replies[0]
		switch {
		case r.Error != "":
			return nil, fmt.Errorf("placing order for %s: %s", inst, r.Error)
		case r.OrderID != "":
			return &OrderAck{OrderID: string(r.OrderID), Status: r.OrderStatus}, nil
		case r.ID != "":
			c.logger.Infof("Confirming order prompt for %s: %s", inst, strings.Join(r.Message, " "))
			replies = nil
			if err := c.makeRequestCtx(ctx, http.MethodPost, "/iserver/reply/"+url.PathEscape(r.ID), nil,
				replyConfirm{Confirmed: true}, &replies); err != nil {
				return nil, fmt.Errorf("confirming order for %s: %w", inst, err)
			}
		default:
			return nil, fmt.Errorf("placing order for %s: unrecognized reply", inst)
		}
	}
	return nil, fmt.Errorf("placing order for %s: too many confirmation prompts", inst)
}

func (c *IBKRClient) makeRequestCtx(ctx context.Context, method, path string,
	params url.Values, body interface{}, response interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "wheelbot/1.0 (+ibkr-cp)")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debugf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, path)}
		}
		apiErr := &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, path, strings.TrimSpace(string(raw)))}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", ErrDisconnected, apiErr)
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusNoContent || response == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
