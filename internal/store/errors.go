package store

import "errors"

// Sentinel errors matching the spec's error taxonomy. Callers use errors.Is.
var (
	ErrUnknownTable      = errors.New("store: unknown table")
	ErrUnknownColumn     = errors.New("store: unknown column")
	ErrUnsafeIdentifier  = errors.New("store: unsafe identifier")
	ErrNotConnected      = errors.New("store: not connected")
)
