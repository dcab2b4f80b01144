package wal

import "errors"

var (
	// ErrClosed indicates use of a log after Close.
	ErrClosed = errors.New("wal: log closed")
	// ErrUnknownTransaction indicates an operation against a transaction id
	// that was never begun or has already been committed or rolled back.
	// This is a caller contract violation, not a storage condition.
	ErrUnknownTransaction = errors.New("wal: unknown or completed transaction")
	// ErrCorruptEntry indicates a structurally invalid or checksum-failing
	// entry; parsing stops at the first occurrence.
	ErrCorruptEntry = errors.New("wal: corrupt entry")
)
