// Package storage persists the last observed state of each symbol. The data
// is advisory: decisions are always made from live broker positions.
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/eddiefleurent/wheelbot/internal/models"
)

// Interface defines the contract for per-symbol state persistence.
//
// Implementations must be safe for concurrent use.
type Interface interface {
	Get(symbol string) (models.SymbolState, bool)
	Put(state models.SymbolState) error
	All() []models.SymbolState
	Close() error
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// NewStorage opens the named backend at path.
func NewStorage(backend, path string) (Interface, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendJSON:
		return NewJSONStorage(path)
	case BackendSQLite:
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// sortedStates returns the map values ordered by symbol.
func sortedStates(m map[string]models.SymbolState) []models.SymbolState {
	out := make([]models.SymbolState, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
