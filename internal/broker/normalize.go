package broker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
)

// Defaults filled into option references the broker returns incomplete.
const (
	DefaultExchange   = "SMART"
	DefaultCurrency   = "USD"
	DefaultMultiplier = 100
)

// osiSymbol is a parsed OCC option symbol such as "SPY   250117P00450000".
type osiSymbol struct {
	underlying string
	expiry     time.Time
	right      models.Right
	strike     float64
}

// parseOSI parses an OCC/OSI option symbol: UNDERLYING + YYMMDD + P/C + 8-digit
// strike in thousandths. Padding between the root and the date is allowed.
func parseOSI(s string) (osiSymbol, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 16 {
		return osiSymbol{}, false
	}
	for i := 0; i <= len(trimmed)-15; i++ {
		if !isDigits(trimmed[i:i+6], 6) {
			continue
		}
		if i > 0 && trimmed[i-1] >= '0' && trimmed[i-1] <= '9' {
			continue
		}
		typeChar := trimmed[i+6]
		var right models.Right
		switch typeChar {
		case 'P', 'p':
			right = models.RightPut
		case 'C', 'c':
			right = models.RightCall
		default:
			continue
		}
		strikeStart := i + 7
		strikeEnd := strikeStart + 8
		if strikeEnd != len(trimmed) || !isDigits(trimmed[strikeStart:strikeEnd], 8) {
			continue
		}
		underlying := strings.TrimSpace(trimmed[:i])
		if underlying == "" {
			return osiSymbol{}, false
		}
		expiry, err := time.ParseInLocation("060102", trimmed[i:i+6], time.UTC)
		if err != nil {
			return osiSymbol{}, false
		}
		milli, err := strconv.ParseInt(trimmed[strikeStart:strikeEnd], 10, 64)
		if err != nil {
			return osiSymbol{}, false
		}
		return osiSymbol{
			underlying: strings.ToUpper(underlying),
			expiry:     expiry,
			right:      right,
			strike:     float64(milli) / 1000,
		}, true
	}
	return osiSymbol{}, false
}

// isDigits checks that s consists of exactly n ASCII digits.
func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsOption reports whether the position is an option, falling back to the
// local symbol shape when the security type is missing.
func IsOption(item PositionItem) bool {
	switch strings.ToUpper(strings.TrimSpace(item.SecType)) {
	case string(models.SecTypeOption):
		return true
	case string(models.SecTypeStock):
		return false
	}
	_, ok := parseOSI(item.LocalSymbol)
	return ok
}

// IsStock reports whether the position is an equity.
func IsStock(item PositionItem) bool {
	st := strings.ToUpper(strings.TrimSpace(item.SecType))
	if st == string(models.SecTypeStock) {
		return true
	}
	return st == "" && !IsOption(item)
}

// UnderlyingOf returns the underlying symbol of a position, upper-cased.
func UnderlyingOf(item PositionItem) string {
	if s := strings.TrimSpace(item.Symbol); s != "" {
		return strings.ToUpper(s)
	}
	if osi, ok := parseOSI(item.LocalSymbol); ok {
		return osi.underlying
	}
	if IsStock(item) {
		return strings.ToUpper(strings.TrimSpace(item.LocalSymbol))
	}
	return ""
}

// NormalizeOption repairs a broker option reference into a complete contract.
// Missing routing metadata is filled with defaults; missing economics are
// recovered from the OSI local symbol when possible. Anything still missing is
// reported as ErrMalformedContract.
func NormalizeOption(item PositionItem) (models.OptionContract, error) {
	symbol := UnderlyingOf(item)
	if symbol == "" {
		return models.OptionContract{}, fmt.Errorf("%w: conid %d has no underlying symbol", ErrMalformedContract, item.ConID)
	}
	osi, hasOSI := parseOSI(item.LocalSymbol)

	expiry, err := models.ParseExpiry(item.Expiry)
	if err != nil {
		if !hasOSI {
			return models.OptionContract{}, fmt.Errorf("%w: %s conid %d: %v", ErrMalformedContract, symbol, item.ConID, err)
		}
		expiry = osi.expiry
	}

	strike := item.Strike
	if strike <= 0 {
		if !hasOSI || osi.strike <= 0 {
			return models.OptionContract{}, fmt.Errorf("%w: %s conid %d has no strike", ErrMalformedContract, symbol, item.ConID)
		}
		strike = osi.strike
	}

	right, err := models.ParseRight(item.Right)
	if err != nil {
		if !hasOSI {
			return models.OptionContract{}, fmt.Errorf("%w: %s conid %d: %v", ErrMalformedContract, symbol, item.ConID, err)
		}
		right = osi.right
	}

	opt := models.OptionContract{
		ConID:        item.ConID,
		Symbol:       symbol,
		Expiry:       expiry,
		Strike:       strike,
		Right:        right,
		Exchange:     strings.TrimSpace(item.Exchange),
		Currency:     strings.TrimSpace(item.Currency),
		TradingClass: strings.TrimSpace(item.TradingClass),
		LocalSymbol:  item.LocalSymbol,
		Multiplier:   int(item.Multiplier),
	}
	if opt.Exchange == "" {
		opt.Exchange = DefaultExchange
	}
	if opt.Currency == "" {
		opt.Currency = DefaultCurrency
	}
	if opt.TradingClass == "" {
		opt.TradingClass = symbol
	}
	if opt.Multiplier <= 0 {
		opt.Multiplier = DefaultMultiplier
	}
	return opt, nil
}
