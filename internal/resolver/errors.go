package resolver

import (
	"errors"

	"procresolver/internal/store"
)

// ErrNotFound is returned when a requested root entity has no lifecycle data.
var ErrNotFound = errors.New("entity not found")

// ErrStoreUnavailable marks a retryable store failure.
var ErrStoreUnavailable = store.ErrUnavailable

// ErrInvalidCursor is returned for cursors that fail verification or belong
// to a different query.
var ErrInvalidCursor = errors.New("invalid cursor")

// errBudget stops a children page when its store-call budget is spent.
var errBudget = errors.New("store call budget exhausted")
