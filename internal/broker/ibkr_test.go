package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestIBKR(t *testing.T, mux *http.ServeMux) *IBKRClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewIBKRClientWithHTTPClient(IBKRConfig{BaseURL: srv.URL + "/", AccountID: "DU123"}, srv.Client(), quietLogger())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Status: 429, Body: "too many requests"}
	assert.Equal(t, "API error 429: too many requests", err.Error())
}

func TestNewIBKRClient_Defaults(t *testing.T) {
	c := NewIBKRClient(IBKRConfig{}, nil)
	assert.Equal(t, DefaultIBKRBaseURL, c.baseURL)
	assert.Equal(t, 3, c.maxChainMonths)
	assert.Equal(t, MarketDataDelayedFrozen, c.marketDataMode())
	assert.Equal(t, 15*time.Second, c.client.Timeout)
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"authenticated", http.StatusOK, `{"authenticated":true,"connected":true}`, false},
		{"not authenticated", http.StatusOK, `{"authenticated":false,"connected":true}`, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":"not authenticated"}`, true},
		{"server error", http.StatusInternalServerError, `oops`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/iserver/auth/status", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			c := newTestIBKR(t, mux)
			err := c.Ping(context.Background())
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDisconnected)
		})
	}
}

func TestMakeRequestCtx_Non2xxReturnsAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/accounts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "  busy  ")
	})
	c := newTestIBKR(t, mux)
	err := c.makeRequestCtx(context.Background(), http.MethodGet, "/iserver/accounts", nil, nil, &accountsResponse{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "GET /iserver/accounts -> busy", apiErr.Body)
	assert.False(t, errors.Is(err, ErrDisconnected))
}

func TestSetMarketDataMode(t *testing.T) {
	c := NewIBKRClient(IBKRConfig{}, quietLogger())
	require.NoError(t, c.SetMarketDataMode(context.Background(), MarketDataLive))
	assert.Equal(t, MarketDataLive, c.marketDataMode())
	assert.Error(t, c.SetMarketDataMode(context.Background(), MarketDataMode(9)))
	assert.Equal(t, MarketDataLive, c.marketDataMode())
}

func searchHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SPY", r.URL.Query().Get("symbol"))
		writeJSON(t, w, []map[string]interface{}{
			{"conid": "1", "symbol": "SPYX"},
			{"conid": 756733, "symbol": "SPY", "sections": []map[string]string{
				{"secType": "STK"},
				{"secType": "OPT", "months": "JAN25;FEB25;MAR25;APR25", "exchange": "AMEX;SMART;CBOE"},
			}},
		})
	}
}

func TestResolveStock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/secdef/search", searchHandler(t))
	c := newTestIBKR(t, mux)

	stock, err := c.ResolveStock(context.Background(), "spy")
	require.NoError(t, err)
	assert.Equal(t, models.Stock{ConID: 756733, Symbol: "SPY", Exchange: "SMART", Currency: "USD"}, stock)
}

func TestResolveStock_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/secdef/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	c := newTestIBKR(t, mux)
	_, err := c.ResolveStock(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOptionChainParams(t *testing.T) {
	var mu sync.Mutex
	var months []string
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/secdef/search", searchHandler(t))
	mux.HandleFunc("/iserver/secdef/strikes", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "756733", q.Get("conid"))
		assert.Equal(t, "OPT", q.Get("sectype"))
		mu.Lock()
		months = append(months, q.Get("month"))
		mu.Unlock()
		switch q.Get("month") {
		case "JAN25":
			writeJSON(t, w, strikesResponse{Put: []float64{95, 100, 105}, Call: []float64{100, 105, 110}})
		case "FEB25":
			writeJSON(t, w, strikesResponse{Put: []float64{90, 100}})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/iserver/secdef/info", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "P", q.Get("right"))
		switch q.Get("month") {
		case "JAN25":
			assert.Equal(t, "105", q.Get("strike"))
			writeJSON(t, w, []map[string]interface{}{
				{"conid": 11, "maturityDate": "20250117"},
				{"conid": 12, "maturityDate": "20250110"},
			})
		case "FEB25":
			writeJSON(t, w, map[string]interface{}{"conid": 13, "maturityDate": "20250221"})
		}
	})
	c := newTestIBKR(t, mux)

	params, err := c.OptionChainParams(context.Background(), models.Stock{ConID: 756733, Symbol: "SPY"})
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, "SMART", params[0].Exchange)
	assert.Equal(t, []string{"20250110", "20250117", "20250221"}, params[0].Expirations)
	assert.Equal(t, []float64{90, 95, 100, 105, 110}, params[0].Strikes)
	assert.Equal(t, []string{"JAN25", "FEB25", "MAR25"}, months)
}

func TestPreferredExchange(t *testing.T) {
	assert.Equal(t, "SMART", preferredExchange("AMEX;smart"))
	assert.Equal(t, "CBOE", preferredExchange(" CBOE ;AMEX"))
	assert.Equal(t, "SMART", preferredExchange(""))
}

func TestResolveOption(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/secdef/search", searchHandler(t))
	mux.HandleFunc("/iserver/secdef/info", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "JAN25", q.Get("month"))
		assert.Equal(t, "450", q.Get("strike"))
		writeJSON(t, w, []map[string]interface{}{
			{"conid": 1, "maturityDate": "20250110", "strike": 450},
			{"conid": 2, "maturityDate": "20250117", "strike": "450", "tradingClass": "SPY", "multiplier": "100"},
		})
	})
	c := newTestIBKR(t, mux)

	ref := models.OptionContract{
		Symbol: "SPY",
		Expiry: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
		Strike: 450,
		Right:  models.RightPut,
	}
	got, err := c.ResolveOption(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConID)
	assert.Equal(t, "SPY", got.TradingClass)
	assert.Equal(t, 100, got.Multiplier)
	assert.Equal(t, "SMART", got.Exchange)
	assert.Equal(t, "USD", got.Currency)

	ref.Expiry = time.Date(2025, 1, 24, 0, 0, 0, 0, time.UTC)
	_, err = c.ResolveOption(context.Background(), ref)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotQuote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/marketdata/snapshot", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("conids"))
		assert.Contains(t, r.URL.Query().Get("fields"), "7308")
		writeJSON(t, w, []map[string]interface{}{
			{"conid": 7, "31": "1.00"},
			{"conid": 42, "31": "C450.10", "84": "449.90", "86": "1,450.30", "7308": "-0.25", "7633": "18.5%"},
		})
	})
	c := newTestIBKR(t, mux)
	stock := models.Stock{ConID: 42, Symbol: "SPY"}

	tk, err := c.SnapshotQuote(context.Background(), stock)
	require.NoError(t, err)
	assert.InDelta(t, 450.10, tk.Last, 1e-9, "frozen close accepted in delayed-frozen mode")
	assert.InDelta(t, 449.90, tk.Bid, 1e-9)
	assert.InDelta(t, 1450.30, tk.Ask, 1e-9)
	assert.InDelta(t, -0.25, tk.Delta, 1e-9)
	assert.InDelta(t, 0.185, tk.ImpliedVol, 1e-9)

	require.NoError(t, c.SetMarketDataMode(context.Background(), MarketDataLive))
	tk, err = c.SnapshotQuote(context.Background(), stock)
	require.NoError(t, err)
	assert.Zero(t, tk.Last)
	assert.InDelta(t, 450.10, tk.Close, 1e-9)

	_, err = c.SnapshotQuote(context.Background(), models.Stock{Symbol: "SPY"})
	assert.Error(t, err)
}

func TestHistoryPeriodDays(t *testing.T) {
	assert.Equal(t, 8, historyPeriodDays(3))
	assert.Equal(t, 5, historyPeriodDays(0))
	assert.Equal(t, 32, historyPeriodDays(20))
}

func TestHistoricalBars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/marketdata/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "8d", q.Get("period"))
		assert.Equal(t, "1d", q.Get("bar"))
		day := int64(24 * 60 * 60 * 1000)
		writeJSON(t, w, map[string]interface{}{"data": []map[string]interface{}{
			{"t": 4 * day, "c": 104},
			{"t": 1 * day, "c": 101},
			{"t": 3 * day, "c": 103},
			{"t": 2 * day, "c": 102},
		}})
	})
	c := newTestIBKR(t, mux)

	bars, err := c.HistoricalBars(context.Background(), models.Stock{ConID: 1, Symbol: "SPY"}, 3, "")
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, []float64{102, 103, 104}, []float64{bars[0].Close, bars[1].Close, bars[2].Close})
}

func TestPositions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/portfolio/DU123/positions/0", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]interface{}{
			{"conid": 756733, "ticker": "spy", "assetClass": "STK", "position": 200, "contractDesc": "SPY"},
			{"conid": 9001, "ticker": "SPY", "assetClass": "OPT", "position": -1, "putOrCall": "P",
				"strike": "450", "expiry": "20250117", "contractDesc": "SPY    JAN2025 450 P [SPY   250117P00450000 100]"},
		})
	})
	c := newTestIBKR(t, mux)

	items, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "SPY", items[0].Symbol)
	assert.Equal(t, "SPY", items[0].LocalSymbol)
	assert.InDelta(t, 200, items[0].Quantity, 1e-9)
	assert.Equal(t, "SPY   250117P00450000", items[1].LocalSymbol)
	assert.InDelta(t, -1, items[1].Quantity, 1e-9)

	opt, err := NormalizeOption(items[1])
	require.NoError(t, err)
	assert.Equal(t, "20250117", opt.ExpiryCode())
	assert.Equal(t, models.RightPut, opt.Right)
}

func TestPositions_DiscoversAccount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, accountsResponse{Accounts: []string{"U777"}})
	})
	mux.HandleFunc("/portfolio/U777/positions/0", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := NewIBKRClientWithHTTPClient(IBKRConfig{BaseURL: srv.URL}, srv.Client(), quietLogger())

	items, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	acct, err := c.ensureAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "U777", acct)
}

func TestOpenOrders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/account/orders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"orders":[{"orderId":123,"conid":"9001","ticker":"spy","side":"sell",
			"status":"Submitted","totalSize":"1","price":"1.25","order_ref":"WHEELBOT"}]}`)
	})
	c := newTestIBKR(t, mux)

	orders, err := c.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, "123", o.OrderID)
	assert.Equal(t, 9001, o.ConID)
	assert.Equal(t, "SPY", o.Symbol)
	assert.Equal(t, "SELL", o.Side)
	assert.Equal(t, "WHEELBOT", o.OrderRef)
	assert.True(t, o.IsWorking())
}

func TestPlaceOrder_ConfirmsPrompts(t *testing.T) {
	var got ordersRequest
	var confirmed bool
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/account/DU123/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `[{"id":"reply-1","message":["Price exceeds the cap"]}]`)
	})
	mux.HandleFunc("/iserver/reply/reply-1", func(w http.ResponseWriter, r *http.Request) {
		var body replyConfirm
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		confirmed = body.Confirmed
		_, _ = io.WriteString(w, `[{"order_id":"987","order_status":"PreSubmitted"}]`)
	})
	c := newTestIBKR(t, mux)

	opt := models.OptionContract{ConID: 9001, Symbol: "SPY", Strike: 450, Right: models.RightPut,
		Expiry: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)}
	ack, err := c.PlaceOrder(context.Background(), opt, Order{
		Action:        models.ActionSell,
		Quantity:      2,
		LimitPrice:    1.25,
		OrderRef:      "WHEELBOT",
		ClientOrderID: "WHEELBOT-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, &OrderAck{OrderID: "987", Status: "PreSubmitted"}, ack)
	assert.True(t, confirmed)

	require.Len(t, got.Orders, 1)
	req := got.Orders[0]
	assert.Equal(t, 9001, req.ConID)
	assert.Equal(t, "LMT", req.OrderType)
	assert.Equal(t, "SELL", req.Side)
	assert.Equal(t, "GTC", req.TIF)
	assert.InDelta(t, 2, req.Quantity, 1e-9)
	assert.InDelta(t, 1.25, req.Price, 1e-9)
	assert.Equal(t, "WHEELBOT-abc", req.COID)
	assert.Equal(t, "WHEELBOT", req.Referrer)
}

func TestPlaceOrder_ErrorReply(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/account/DU123/orders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"insufficient buying power"}`)
	})
	c := newTestIBKR(t, mux)
	_, err := c.PlaceOrder(context.Background(), models.Stock{ConID: 1, Symbol: "SPY"}, Order{Action: models.ActionBuy, Quantity: 1, LimitPrice: 1})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "insufficient buying power"))
}

func TestWebsocketURL(t *testing.T) {
	got, err := websocketURL("https://127.0.0.1:5000/v1/api")
	require.NoError(t, err)
	assert.Equal(t, "wss://127.0.0.1:5000/v1/api/ws", got)

	got, err = websocketURL("http://localhost:5000/v1/api/")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:5000/v1/api/ws", got)

	_, err = websocketURL("ftp://x")
	assert.Error(t, err)
}
