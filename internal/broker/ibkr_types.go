package broker

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ============ Client Portal Response Structures ============

// Client Portal returns numbers as JSON numbers in some endpoints and as
// strings in others. These helpers accept both.

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(int(n))
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, _, ok := parseFieldValue(s)
	if !ok {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// Handle single-object vs array responses
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// parseFieldValue parses a market data field. Values may carry a one-letter
// prefix (C = prior close, H = halted), thousands separators or a percent sign.
func parseFieldValue(raw string) (value float64, prefix string, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, "", false
	}
	if c := s[0]; (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
		prefix = strings.ToUpper(s[:1])
		s = s[1:]
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, prefix, false
	}
	if percent {
		v /= 100
	}
	return v, prefix, true
}

// Snapshot field codes.
const (
	fieldLast       = "31"
	fieldBid        = "84"
	fieldAsk        = "86"
	fieldPriorClose = "7741"
	fieldDelta      = "7308"
	fieldImpliedVol = "7633"
)

var snapshotFields = []string{fieldLast, fieldBid, fieldAsk, fieldPriorClose, fieldDelta, fieldImpliedVol}

type authStatus struct {
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	Competing     bool   `json:"competing"`
	Message       string `json:"message"`
}

type accountsResponse struct {
	Accounts        []string `json:"accounts"`
	SelectedAccount string   `json:"selectedAccount"`
}

type tickleResponse struct {
	Session string `json:"session"`
}

type secdefSection struct {
	SecType  string `json:"secType"`
	Months   string `json:"months"`
	Exchange string `json:"exchange"`
}

type searchResult struct {
	ConID       flexInt         `json:"conid"`
	Symbol      string          `json:"symbol"`
	Description string          `json:"description"`
	Sections    []secdefSection `json:"sections"`
}

type strikesResponse struct {
	Call []float64 `json:"call"`
	Put  []float64 `json:"put"`
}

type contractInfo struct {
	ConID        flexInt   `json:"conid"`
	Symbol       string    `json:"symbol"`
	Strike       flexFloat `json:"strike"`
	Right        string    `json:"right"`
	MaturityDate string    `json:"maturityDate"`
	Multiplier   flexFloat `json:"multiplier"`
	TradingClass string    `json:"tradingClass"`
	Exchange     string    `json:"exchange"`
	Currency     string    `json:"currency"`
}

type historyBar struct {
	O flexFloat `json:"o"`
	C flexFloat `json:"c"`
	H flexFloat `json:"h"`
	L flexFloat `json:"l"`
	V flexFloat `json:"v"`
	T int64     `json:"t"`
}

type historyResponse struct {
	Symbol string       `json:"symbol"`
	Data   []historyBar `json:"data"`
}

type portfolioPosition struct {
	ConID        flexInt   `json:"conid"`
	ContractDesc string    `json:"contractDesc"`
	Position     flexFloat `json:"position"`
	AvgCost      flexFloat `json:"avgCost"`
	AssetClass   string    `json:"assetClass"`
	Ticker       string    `json:"ticker"`
	Currency     string    `json:"currency"`
	Expiry       string    `json:"expiry"`
	PutOrCall    string    `json:"putOrCall"`
	Strike       flexFloat `json:"strike"`
	Multiplier   flexFloat `json:"multiplier"`
}

type liveOrder struct {
	OrderID   flexString `json:"orderId"`
	ConID     flexInt    `json:"conid"`
	Ticker    string     `json:"ticker"`
	Side      string     `json:"side"`
	Status    string     `json:"status"`
	TotalSize flexFloat  `json:"totalSize"`
	Price     flexFloat  `json:"price"`
	OrderRef  string     `json:"order_ref"`
}

type liveOrdersResponse struct {
	Orders []liveOrder `json:"orders"`
}

type orderRequest struct {
	ConID      int     `json:"conid"`
	OrderType  string  `json:"orderType"`
	Price      float64 `json:"price"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	TIF        string  `json:"tif"`
	COID       string  `json:"cOID,omitempty"`
	Referrer   string  `json:"referrer,omitempty"`
	OutsideRTH bool    `json:"outsideRTH"`
}

type ordersRequest struct {
	Orders []orderRequest `json:"orders"`
}

// orderReply is either an acknowledgement (order_id set), a confirmation
// prompt (id + message) or an error.
type orderReply struct {
	ID          string     `json:"id"`
	Message     []string   `json:"message"`
	OrderID     flexString `json:"order_id"`
	OrderStatus string     `json:"order_status"`
	Error       string     `json:"error"`
}

type replyConfirm struct {
	Confirmed bool `json:"confirmed"`
}
