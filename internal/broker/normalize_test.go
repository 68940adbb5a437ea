package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOption_FillsRoutingDefaults(t *testing.T) {
	item := PositionItem{
		ConID:    1234,
		Symbol:   "spy",
		SecType:  "OPT",
		Expiry:   "20250117",
		Strike:   450,
		Right:    "P",
		Quantity: -1,
	}

	opt, err := NormalizeOption(item)
	require.NoError(t, err)
	assert.Equal(t, "SPY", opt.Symbol)
	assert.Equal(t, DefaultExchange, opt.Exchange)
	assert.Equal(t, DefaultCurrency, opt.Currency)
	assert.Equal(t, "SPY", opt.TradingClass)
	assert.Equal(t, DefaultMultiplier, opt.Multiplier)
	assert.Equal(t, models.RightPut, opt.Right)
	assert.Equal(t, time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC), opt.Expiry)
}

func TestNormalizeOption_KeepsBrokerMetadata(t *testing.T) {
	item := PositionItem{
		Symbol: "SPX", SecType: "OPT", Expiry: "2025-01-17", Strike: 5000, Right: "CALL",
		Exchange: "CBOE", Currency: "USD", TradingClass: "SPXW", Multiplier: 100,
	}
	opt, err := NormalizeOption(item)
	require.NoError(t, err)
	assert.Equal(t, "CBOE", opt.Exchange)
	assert.Equal(t, "SPXW", opt.TradingClass)
	assert.Equal(t, models.RightCall, opt.Right)
}

func TestNormalizeOption_RecoversFromLocalSymbol(t *testing.T) {
	item := PositionItem{LocalSymbol: "SPY   250117P00450500", Quantity: -2}

	require.True(t, IsOption(item))
	opt, err := NormalizeOption(item)
	require.NoError(t, err)
	assert.Equal(t, "SPY", opt.Symbol)
	assert.Equal(t, 450.5, opt.Strike)
	assert.Equal(t, models.RightPut, opt.Right)
	assert.Equal(t, "20250117", opt.ExpiryCode())
}

func TestNormalizeOption_Malformed(t *testing.T) {
	tests := []struct {
		name string
		item PositionItem
	}{
		{"no symbol", PositionItem{SecType: "OPT", Expiry: "20250117", Strike: 100, Right: "P"}},
		{"no strike", PositionItem{Symbol: "SPY", SecType: "OPT", Expiry: "20250117", Right: "P"}},
		{"bad expiry", PositionItem{Symbol: "SPY", SecType: "OPT", Expiry: "soon", Strike: 100, Right: "P"}},
		{"bad right", PositionItem{Symbol: "SPY", SecType: "OPT", Expiry: "20250117", Strike: 100, Right: "X"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeOption(tt.item)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedContract))
		})
	}
}

func TestParseOSI(t *testing.T) {
	tests := []struct {
		in         string
		ok         bool
		underlying string
		strike     float64
	}{
		{"SPY241220P00450000", true, "SPY", 450},
		{"AAPL  250321C00187500", true, "AAPL", 187.5},
		{"SPY", false, "", 0},
		{"SPY241220X00450000", false, "", 0},
		{"SPY241220P0045000099", false, "", 0},
	}
	for _, tt := range tests {
		got, ok := parseOSI(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if ok {
			assert.Equal(t, tt.underlying, got.underlying, tt.in)
			assert.InDelta(t, tt.strike, got.strike, 1e-9, tt.in)
		}
	}
}

func TestUnderlyingOf(t *testing.T) {
	assert.Equal(t, "QQQ", UnderlyingOf(PositionItem{Symbol: " qqq "}))
	assert.Equal(t, "SPY", UnderlyingOf(PositionItem{LocalSymbol: "SPY241220P00450000"}))
	assert.Equal(t, "IWM", UnderlyingOf(PositionItem{SecType: "STK", LocalSymbol: "iwm"}))
	assert.Equal(t, "", UnderlyingOf(PositionItem{SecType: "OPT"}))
}

func TestOpenOrder_IsWorking(t *testing.T) {
	assert.True(t, OpenOrder{Status: "Submitted"}.IsWorking())
	assert.True(t, OpenOrder{Status: "PreSubmitted"}.IsWorking())
	assert.False(t, OpenOrder{Status: "Filled"}.IsWorking())
	assert.False(t, OpenOrder{Status: "Cancelled"}.IsWorking())
}
