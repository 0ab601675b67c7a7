package store

import "errors"

var (
	// ErrNotFound is returned for operations on an unconfigured scope.
	ErrNotFound = errors.New("store: scope not configured")
	// ErrQueueFull rejects an append when the ingest gate has no room and
	// blocking is disabled or timed out.
	ErrQueueFull = errors.New("store: ingest queue full")
	// ErrCompactionConflict is returned when a retention replace loses to
	// a concurrent index change or an in-flight replace on the same scope.
	ErrCompactionConflict = errors.New("store: compaction conflict")
	// ErrScopeFailed is returned for any operation on a poisoned scope.
	ErrScopeFailed = errors.New("store: scope failed")
	// ErrIntegrity is returned when a merged read observes a duplicate
	// sequence or a gap at a tier boundary.
	ErrIntegrity = errors.New("store: sequence integrity violation")
)
