package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps symbol states as JSON values in a kv table. Reads are
// served from a cache filled at open; writes go through to the database.
type SQLiteStorage struct {
	mu    sync.RWMutex
	db    *sql.DB
	cache map[string]models.SymbolState
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLiteStorage{db: db, cache: make(map[string]models.SymbolState)}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("loading storage: %w", err)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at INTEGER NOT NULL DEFAULT 0)`)
	return err
}

func (s *SQLiteStorage) load() error {
	rows, err := s.db.Query(`SELECT key, value FROM kv`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		var st models.SymbolState
		if err := json.Unmarshal([]byte(value), &st); err != nil {
			continue
		}
		s.cache[key] = st
	}
	return rows.Err()
}

func (s *SQLiteStorage) Get(symbol string) (models.SymbolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.cache[normalizeSymbol(symbol)]
	return st, ok
}

func (s *SQLiteStorage) Put(state models.SymbolState) error {
	key := normalizeSymbol(state.Symbol)
	if key == "" {
		return ErrEmptySymbol
	}
	state.Symbol = key
	value, err := json.Marshal(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving state for %s: %w", key, err)
	}
	s.cache[key] = state
	return nil
}

func (s *SQLiteStorage) All() []models.SymbolState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedStates(s.cache)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
