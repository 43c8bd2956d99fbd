package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"procresolver/pkg/models"
)

var (
	storeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procresolver_store_calls_total",
		Help: "Event store calls by operation and outcome",
	}, []string{"op", "outcome"})

	storeCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "procresolver_store_call_duration_seconds",
		Help:    "Event store call latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"op"})
)

// GuardConfig bounds every call made through a Guard.
type GuardConfig struct {
	Timeout   time.Duration
	MaxRows   int
	RateLimit float64
	RateBurst int
}

// Guard wraps a Reader so that each call carries a timeout and a row limit,
// is optionally rate limited, and reports failures as ErrUnavailable.
type Guard struct {
	next    Reader
	timeout time.Duration
	maxRows int
	limiter *rate.Limiter
}

// NewGuard wraps next.
func NewGuard(next Reader, cfg GuardConfig) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	g := &Guard{next: next, timeout: cfg.Timeout, maxRows: cfg.MaxRows}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return g
}

// Lifecycle implements Reader.
func (g *Guard) Lifecycle(ctx context.Context, ids []models.EntityID, limit int) (map[models.EntityID][]models.Event, error) {
	if err := g.checkLimit(limit * max(len(ids), 1)); err != nil {
		return nil, err
	}
	var out map[models.EntityID][]models.Event
	err := g.call(ctx, "lifecycle", func(ctx context.Context) error {
		var err error
		out, err = g.next.Lifecycle(ctx, ids, limit)
		return err
	})
	return out, err
}

// Children implements Reader.
func (g *Guard) Children(ctx context.Context, q ChildrenQuery) ([]models.ChildRef, error) {
	if err := g.checkLimit(q.Limit); err != nil {
		return nil, err
	}
	if q.Until.IsZero() {
		q.Until = time.Now()
	}
	var out []models.ChildRef
	err := g.call(ctx, "children", func(ctx context.Context) error {
		var err error
		out, err = g.next.Children(ctx, q)
		return err
	})
	return out, err
}

// Events implements Reader.
func (g *Guard) Events(ctx context.Context, q RangeQuery) ([]models.Event, error) {
	if err := g.checkLimit(q.Limit); err != nil {
		return nil, err
	}
	var out []models.Event
	err := g.call(ctx, "events", func(ctx context.Context) error {
		var err error
		out, err = g.next.Events(ctx, q)
		return err
	})
	return out, err
}

// Alerts implements Reader.
func (g *Guard) Alerts(ctx context.Context, q RangeQuery) ([]models.Alert, error) {
	if err := g.checkLimit(q.Limit); err != nil {
		return nil, err
	}
	var out []models.Alert
	err := g.call(ctx, "alerts", func(ctx context.Context) error {
		var err error
		out, err = g.next.Alerts(ctx, q)
		return err
	})
	return out, err
}

// Close closes the wrapped reader.
func (g *Guard) Close() error {
	return g.next.Close()
}

func (g *Guard) checkLimit(limit int) error {
	if limit <= 0 {
		return ErrUnbounded
	}
	if limit > g.maxRows {
		return fmt.Errorf("%w: limit %d exceeds %d rows", ErrUnbounded, limit, g.maxRows)
	}
	return nil
}

func (g *Guard) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			storeCalls.WithLabelValues(op, "throttled").Inc()
			return fmt.Errorf("%w: %s throttled: %v", ErrUnavailable, op, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	storeCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		storeCalls.WithLabelValues(op, "ok").Inc()
		return nil
	case ctx.Err() != nil:
		// The request itself went away; nothing to retry.
		storeCalls.WithLabelValues(op, "cancelled").Inc()
		return ctx.Err()
	case errors.Is(err, ErrUnavailable):
		storeCalls.WithLabelValues(op, "error").Inc()
		return err
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		storeCalls.WithLabelValues(op, "timeout").Inc()
		return fmt.Errorf("%w: %s timed out after %s", ErrUnavailable, op, g.timeout)
	default:
		storeCalls.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
}
