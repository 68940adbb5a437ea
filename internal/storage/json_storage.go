package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
)

// JSONStorage keeps all symbol states in one JSON file.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *StorageData
}

// StorageData is the on-disk document.
type StorageData struct {
	Symbols     map[string]models.SymbolState `json:"symbols"`
	LastUpdated time.Time                     `json:"last_updated"`
}

// NewJSONStorage opens path. A missing file starts empty; an unreadable one
// is moved aside to <path>.corrupt-<unix> and the store starts empty.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	s := &JSONStorage{
		filepath: path,
		data:     &StorageData{Symbols: make(map[string]models.SymbolState)},
	}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("loading storage: %w", err)
	}
	return s, nil
}

// Load reads the file into memory.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var data StorageData
	if err := json.Unmarshal(raw, &data); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.filepath, time.Now().Unix())
		if rerr := os.Rename(s.filepath, aside); rerr != nil {
			return fmt.Errorf("corrupt state file %s could not be moved aside: %w", s.filepath, rerr)
		}
		s.data = &StorageData{Symbols: make(map[string]models.SymbolState)}
		return nil
	}
	if data.Symbols == nil {
		data.Symbols = make(map[string]models.SymbolState)
	}
	s.data = &data
	return nil
}

// save writes the document atomically. Callers hold the write lock.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

func (s *JSONStorage) Get(symbol string) (models.SymbolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data.Symbols[normalizeSymbol(symbol)]
	return st, ok
}

func (s *JSONStorage) Put(state models.SymbolState) error {
	key := normalizeSymbol(state.Symbol)
	if key == "" {
		return ErrEmptySymbol
	}
	state.Symbol = key

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.data.Symbols[key]
	s.data.Symbols[key] = state
	if err := s.save(); err != nil {
		if had {
			s.data.Symbols[key] = prev
		} else {
			delete(s.data.Symbols, key)
		}
		return fmt.Errorf("saving state for %s: %w", key, err)
	}
	return nil
}

func (s *JSONStorage) All() []models.SymbolState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedStates(s.data.Symbols)
}

// Close is a no-op; every Put is already on disk.
func (s *JSONStorage) Close() error { return nil }
