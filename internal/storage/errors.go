package storage

import "errors"

var (
	// ErrEmptySymbol is returned when a state without a symbol is stored.
	ErrEmptySymbol = errors.New("symbol state has no symbol")
	// ErrUnknownBackend is returned by NewStorage for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)
