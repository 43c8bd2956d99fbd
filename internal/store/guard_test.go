package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procresolver/internal/store"
	"procresolver/internal/store/memstore"
	"procresolver/pkg/models"
)

// blockingReader waits for the call context on every query.
type blockingReader struct{ memstore.Store }

func (b *blockingReader) Events(ctx context.Context, q store.RangeQuery) ([]models.Event, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGuardRejectsUnboundedQueries(t *testing.T) {
	mem := memstore.New()
	g := store.NewGuard(mem, store.GuardConfig{MaxRows: 10})

	_, err := g.Events(context.Background(), store.RangeQuery{EntityID: "a", Limit: 0})
	assert.ErrorIs(t, err, store.ErrUnbounded)
	_, err = g.Children(context.Background(), store.ChildrenQuery{Parent: "a", Limit: 11})
	assert.ErrorIs(t, err, store.ErrUnbounded)
	_, err = g.Lifecycle(context.Background(), []models.EntityID{"a", "b"}, 6)
	assert.ErrorIs(t, err, store.ErrUnbounded)
	assert.Zero(t, mem.Calls())
}

func TestGuardTimeoutIsUnavailable(t *testing.T) {
	g := store.NewGuard(&blockingReader{}, store.GuardConfig{Timeout: 20 * time.Millisecond})

	_, err := g.Events(context.Background(), store.RangeQuery{EntityID: "a", Limit: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestGuardCancelledRequestIsNotUnavailable(t *testing.T) {
	g := store.NewGuard(&blockingReader{}, store.GuardConfig{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Events(ctx, store.RangeQuery{EntityID: "a", Limit: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, store.ErrUnavailable))
}

func TestGuardWrapsStoreErrors(t *testing.T) {
	mem := memstore.New()
	mem.FailOn("children", "", errors.New("connection reset"))
	g := store.NewGuard(mem, store.GuardConfig{})

	_, err := g.Children(context.Background(), store.ChildrenQuery{Parent: "a", Limit: 1})
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.ErrorContains(t, err, "connection reset")
}

func TestGuardRateLimitHonoursContext(t *testing.T) {
	mem := memstore.New()
	g := store.NewGuard(mem, store.GuardConfig{RateLimit: 0.001, RateBurst: 1})

	_, err := g.Alerts(context.Background(), store.RangeQuery{EntityID: "a", Limit: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Alerts(ctx, store.RangeQuery{EntityID: "a", Limit: 1})
	require.Error(t, err)
	assert.Equal(t, int64(1), mem.Calls())
}
