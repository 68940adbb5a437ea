package storage

import (
	"sync"

	"github.com/eddiefleurent/wheelbot/internal/models"
)

// MockStorage implements Interface in memory for testing.
type MockStorage struct {
	mu        sync.Mutex
	states    map[string]models.SymbolState
	putError  error
	putCalls  int
	closeCall int
}

// NewMockStorage creates a new mock storage for testing.
func NewMockStorage() *MockStorage {
	return &MockStorage{states: make(map[string]models.SymbolState)}
}

// SetPutError makes subsequent Put calls fail.
func (m *MockStorage) SetPutError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putError = err
}

// PutCalls returns how many times Put was called.
func (m *MockStorage) PutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCalls
}

func (m *MockStorage) Get(symbol string) (models.SymbolState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[normalizeSymbol(symbol)]
	return st, ok
}

func (m *MockStorage) Put(state models.SymbolState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.putError != nil {
		return m.putError
	}
	key := normalizeSymbol(state.Symbol)
	if key == "" {
		return ErrEmptySymbol
	}
	state.Symbol = key
	m.states[key] = state
	return nil
}

func (m *MockStorage) All() []models.SymbolState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedStates(m.states)
}

func (m *MockStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCall++
	return nil
}
