// Package store defines the read-only query surface of the process event
// store and the guard every resolver call goes through.
package store

import (
	"context"
	"errors"
	"time"

	"procresolver/pkg/models"
)

// ErrUnavailable marks a store call that failed or timed out. Callers treat it
// as retryable.
var ErrUnavailable = errors.New("event store unavailable")

// ErrUnbounded is returned for queries without a positive row limit.
var ErrUnbounded = errors.New("unbounded store query")

// Reader is the query interface over the append-only event log.
type Reader interface {
	// Lifecycle returns up to limit lifecycle events per id, oldest first.
	// Ids without events are absent from the result.
	Lifecycle(ctx context.Context, ids []models.EntityID, limit int) (map[models.EntityID][]models.Event, error)
	// Children returns processes created by q.Parent, ordered by creation key.
	Children(ctx context.Context, q ChildrenQuery) ([]models.ChildRef, error)
	// Events returns events of one entity ordered by key.
	Events(ctx context.Context, q RangeQuery) ([]models.Event, error)
	// Alerts returns alerts referencing one entity ordered by key.
	Alerts(ctx context.Context, q RangeQuery) ([]models.Alert, error)
	Close() error
}

// ChildrenQuery selects the children of one parent strictly after a key.
type ChildrenQuery struct {
	Parent models.EntityID
	After  *models.SortKey
	// Since and Until bound the creation time; Until is always set by the resolver.
	Since time.Time
	Until time.Time
	Limit int
}

// RangeQuery selects records of one entity strictly after a key.
type RangeQuery struct {
	EntityID models.EntityID
	After    *models.SortKey
	From     time.Time
	To       time.Time
	Limit    int
}

// InWindow reports whether ts lies within [from, to]; zero bounds are open.
func InWindow(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}
