package strategy

import "errors"

// ErrDataUnavailable means the market data needed for a decision (spot,
// chain, qualifying expirations or strikes) could not be obtained. The
// affected leg or cycle goes idle.
var ErrDataUnavailable = errors.New("market data unavailable")
