package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

const (
	streamDialTimeout  = 10 * time.Second
	streamCloseTimeout = time.Second
	streamReadLimit    = 1 << 20
)

// ibkrStream is a market data subscription on the Client Portal websocket.
type ibkrStream struct {
	conn   *websocket.Conn
	conid  int
	mode   MarketDataMode
	logger logrus.FieldLogger
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	ticker models.Ticker

	closeOnce sync.Once
}

// websocketURL derives the streaming endpoint from the REST base URL.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// StreamQuote opens a websocket subscription for the instrument's top of book.
// The returned stream must be closed by the caller.
func (c *IBKRClient) StreamQuote(ctx context.Context, inst models.Instrument) (QuoteStream, error) {
	conid := inst.ContractID()
	if conid <= 0 {
		return nil, fmt.Errorf("instrument %s has no contract id", inst)
	}

	var tickle tickleResponse
	if err := c.makeRequestCtx(ctx, http.MethodPost, "/tickle", nil, nil, &tickle); err != nil {
		return nil, fmt.Errorf("refreshing session for stream: %w", err)
	}
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if tickle.Session != "" {
		header.Set("Cookie", "api="+tickle.Session)
	}
	// websocket dials must be bounded by context, not http.Client.Timeout.
	httpClient := *c.client
	httpClient.Timeout = 0

	dialCtx, cancelDial := context.WithTimeout(ctx, streamDialTimeout)
	defer cancelDial()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPClient: &httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing market data stream: %w", err)
	}
	conn.SetReadLimit(streamReadLimit)

	streamCtx, cancel := context.WithCancel(ctx)
	s := &ibkrStream{
		conn:   conn,
		conid:  conid,
		mode:   c.marketDataMode(),
		logger: c.logger.WithField("conid", conid),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	fields, _ := json.Marshal(map[string][]string{"fields": {fieldLast, fieldBid, fieldAsk, fieldPriorClose}})
	sub := fmt.Sprintf("smd+%d+%s", conid, fields)
	if err := conn.Write(streamCtx, websocket.MessageText, []byte(sub)); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("subscribing to %s: %w", inst, err)
	}

	go s.readLoop(streamCtx)
	return s, nil
}

func (s *ibkrStream) readLoop(ctx context.Context) {
	defer close(s.done)
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && ctx.Err() == nil {
				s.logger.Debugf("Market data stream ended: %v", err)
			}
			return
		}
		s.handle(data)
	}
}

func (s *ibkrStream) handle(data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	topic := fieldString(msg["topic"])
	if !strings.HasPrefix(topic, "smd+") {
		return
	}
	if id, ok := msg["conid"]; ok {
		if fieldInt(id) != s.conid {
			return
		}
	} else if strings.TrimPrefix(topic, "smd+") != strconv.Itoa(s.conid) {
		return
	}

	s.mu.Lock()
	s.ticker = mergeTickerFields(s.ticker, msg, s.mode)
	s.mu.Unlock()
}

// Ticker returns the latest merged values.
func (s *ibkrStream) Ticker() models.Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticker
}

// Close unsubscribes and tears down the websocket.
func (s *ibkrStream) Close() error {
	s.closeOnce.Do(func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), streamCloseTimeout)
		defer cancel()
		if err := s.conn.Write(writeCtx, websocket.MessageText, []byte(fmt.Sprintf("umd+%d+{}", s.conid))); err != nil {
			s.logger.Debugf("Unsubscribe failed: %v", err)
		}
		s.cancel()
		<-s.done
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}
