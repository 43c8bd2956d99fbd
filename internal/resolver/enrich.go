package resolver

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"procresolver/internal/store"
	"procresolver/pkg/models"
)

// EnrichRequest asks for events or alerts of a set of entities.
type EnrichRequest struct {
	EntityIDs []models.EntityID
	PageSize  int
	Cursor    string
	Window    TimeRange
}

// EventsPage is one page of events across all requested entities, in key order.
type EventsPage struct {
	Events     []models.Event
	NextCursor string
	Boundaries []Boundary
}

// AlertsPage is one page of alerts, in key order.
type AlertsPage struct {
	Alerts     []models.Alert
	NextCursor string
	Boundaries []Boundary
}

type enrichState struct {
	After *models.SortKey `json:"a,omitempty"`
}

// FetchEvents returns the next page of events of the requested entities.
func (r *Resolver) FetchEvents(ctx context.Context, req EnrichRequest) (EventsPage, error) {
	items, next, bounds, err := fetchMerged(ctx, r, scopeEvents, req, models.Event.Key, r.store.Events)
	if err != nil {
		return EventsPage{}, err
	}
	return EventsPage{Events: items, NextCursor: next, Boundaries: bounds}, nil
}

// FetchAlerts returns the next page of alerts referencing the requested entities.
func (r *Resolver) FetchAlerts(ctx context.Context, req EnrichRequest) (AlertsPage, error) {
	items, next, bounds, err := fetchMerged(ctx, r, scopeAlerts, req, models.Alert.Key, r.store.Alerts)
	if err != nil {
		return AlertsPage{}, err
	}
	return AlertsPage{Alerts: items, NextCursor: next, Boundaries: bounds}, nil
}

// fetchMerged queries each entity for pageSize+1 records after the cursor,
// merges by key and cuts the page. When a query fails, the page holds what
// the others returned and the cursor repeats the current position.
func fetchMerged[T any](
	ctx context.Context,
	r *Resolver,
	scope string,
	req EnrichRequest,
	key func(T) models.SortKey,
	query func(context.Context, store.RangeQuery) ([]T, error),
) ([]T, string, []Boundary, error) {
	ids := models.UniqueSorted(req.EntityIDs)
	pageSize := max(req.PageSize, 1)
	fp := fingerprint(scope, ids, pageSize, req.Window)

	var st enrichState
	if req.Cursor != "" {
		if err := r.cursor.decode(req.Cursor, scope, fp, &st); err != nil {
			return nil, "", nil, err
		}
	}

	results := make([][]T, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(r.cfg.FanOut)
	for i, id := range ids {
		g.Go(func() error {
			results[i], errs[i] = query(ctx, store.RangeQuery{
				EntityID: id,
				After:    st.After,
				From:     req.Window.From,
				To:       req.Window.To,
				Limit:    pageSize + 1,
			})
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, "", nil, err
	}

	var merged []T
	var bounds []Boundary
	for i, id := range ids {
		if errs[i] != nil {
			r.log.Warnf("%s query for %s failed: %v", scope, id, errs[i])
			bounds = append(bounds, unavailableAt(id))
			continue
		}
		merged = append(merged, results[i]...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return key(merged[i]).Less(key(merged[j])) })
	merged = dedupeSorted(merged, key)

	var next *enrichState
	if len(merged) > pageSize {
		merged = merged[:pageSize]
		k := key(merged[pageSize-1])
		next = &enrichState{After: &k}
	}
	if len(bounds) > 0 {
		next = &st
	}
	token := ""
	if next != nil {
		var err error
		if token, err = r.cursor.encode(scope, fp, next); err != nil {
			return nil, "", nil, err
		}
	}
	return merged, token, normalizeBoundaries(bounds), nil
}

// dedupeSorted drops records whose key equals the previous one; an alert
// referencing several requested entities comes back once per entity.
func dedupeSorted[T any](items []T, key func(T) models.SortKey) []T {
	if len(items) < 2 {
		return items
	}
	out := items[:1]
	for _, it := range items[1:] {
		if key(it) != key(out[len(out)-1]) {
			out = append(out, it)
		}
	}
	return out
}
