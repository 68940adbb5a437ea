package models

import "time"

// SymbolState is the last observation the bot recorded for a symbol. It is
// advisory: live broker positions always win.
type SymbolState struct {
	Symbol     string       `json:"symbol"`
	Phase      Phase        `json:"phase"`
	LastAction string       `json:"last_action"`
	LastReason string       `json:"last_reason,omitempty"`
	Shares     int          `json:"shares"`
	ShortPuts  int          `json:"short_puts"`
	ShortCalls int          `json:"short_calls"`
	LastOrder  *OrderRecord `json:"last_order,omitempty"`
	Cycles     int          `json:"cycles"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
