// Package resolver turns the flat event store into process genealogy:
// ancestry chains, paginated descendant walks, merged trees and paginated
// event/alert enrichment. Every incomplete result carries a Boundary.
package resolver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"procresolver/internal/logger"
	"procresolver/internal/store"
	"procresolver/pkg/models"
)

// Config bounds the work a single request can cause.
type Config struct {
	// FanOut caps concurrent store calls issued by one request.
	FanOut int
	// FetchBatch is the row limit of each children query.
	FetchBatch int
	// StoreCallBudget caps children queries per page; the page ends early
	// with a cursor when it runs out.
	StoreCallBudget int
	// LifecycleLimit caps lifecycle events folded into one node.
	LifecycleLimit int
	// CursorSecret signs cursors. A random secret is used when empty.
	CursorSecret []byte
}

func (c Config) normalized() Config {
	if c.FanOut <= 0 {
		c.FanOut = 8
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 100
	}
	if c.StoreCallBudget <= 0 {
		c.StoreCallBudget = 500
	}
	if c.LifecycleLimit <= 0 {
		c.LifecycleLimit = 20
	}
	return c
}

// TimeRange limits children, events and alerts by time. Zero bounds are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Resolver answers genealogy queries. It holds no per-request state and is
// safe for concurrent use.
type Resolver struct {
	store  store.Reader
	cfg    Config
	cursor *cursorCodec
	now    func() time.Time
	log    *logger.Logger
}

// New creates a resolver over reader.
func New(reader store.Reader, cfg Config) *Resolver {
	cfg = cfg.normalized()
	secret := cfg.CursorSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("generate cursor secret: %v", err))
		}
		logger.Named("resolver").Warnf("No cursor secret configured; cursors will not survive a restart")
	}
	return &Resolver{
		store:  reader,
		cfg:    cfg,
		cursor: &cursorCodec{secret: secret},
		now:    time.Now,
		log:    logger.Named("resolver"),
	}
}

// Lookup returns the node for id.
func (r *Resolver) Lookup(ctx context.Context, id models.EntityID) (models.ProcessNode, error) {
	found, err := r.lookup(ctx, []models.EntityID{id})
	if err != nil {
		return models.ProcessNode{}, err
	}
	node, ok := found[id]
	if !ok {
		return models.ProcessNode{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return node, nil
}

// lookup folds lifecycle events of ids into nodes with a single store call.
func (r *Resolver) lookup(ctx context.Context, ids []models.EntityID) (map[models.EntityID]models.ProcessNode, error) {
	events, err := r.store.Lifecycle(ctx, ids, r.cfg.LifecycleLimit)
	if err != nil {
		return nil, classify(ctx, err)
	}
	out := make(map[models.EntityID]models.ProcessNode, len(events))
	for _, id := range ids {
		if node, ok := models.BuildNode(id, events[id]); ok {
			out[id] = node
		}
	}
	return out, nil
}

// hydrate looks ids up in chunks of FetchBatch, concurrently. Ids of failed
// chunks are returned as unavailable; only cancellation is an error.
func (r *Resolver) hydrate(ctx context.Context, ids []models.EntityID) (map[models.EntityID]models.ProcessNode, []models.EntityID, error) {
	chunks := chunk(ids, r.cfg.FetchBatch)
	found := make([]map[models.EntityID]models.ProcessNode, len(chunks))
	failed := make([]error, len(chunks))

	var g errgroup.Group
	g.SetLimit(r.cfg.FanOut)
	for i, part := range chunks {
		g.Go(func() error {
			found[i], failed[i] = r.lookup(ctx, part)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	out := make(map[models.EntityID]models.ProcessNode, len(ids))
	var unavailable []models.EntityID
	for i, part := range chunks {
		if failed[i] != nil {
			r.log.Warnf("Lifecycle lookup failed for %d entities: %v", len(part), failed[i])
			unavailable = append(unavailable, part...)
			continue
		}
		for id, node := range found[i] {
			out[id] = node
		}
	}
	return out, unavailable, nil
}

// classify keeps cancellation as is and reports everything else as a
// retryable store failure.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func chunk(ids []models.EntityID, size int) [][]models.EntityID {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]models.EntityID
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func (r *Resolver) watermark(window TimeRange) time.Time {
	now := r.now().UTC()
	if !window.To.IsZero() && window.To.Before(now) {
		return window.To.UTC()
	}
	return now
}
