// Package memstore is an in-memory Reader used for fixtures and tests.
package memstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"procresolver/internal/store"
	"procresolver/pkg/models"
)

// Store keeps the same indexes the Redis layout keeps: per-entity events,
// per-parent children keyed by creation, and per-entity alerts.
type Store struct {
	mu       sync.RWMutex
	events   map[models.EntityID][]models.Event
	children map[models.EntityID][]models.ChildRef
	linked   map[models.EntityID]link
	alerts   map[models.EntityID][]models.Alert

	calls  atomic.Int64
	faults map[string]error
}

type link struct {
	parent models.EntityID
	ref    models.ChildRef
}

// New returns an empty store.
func New() *Store {
	return &Store{
		events:   make(map[models.EntityID][]models.Event),
		children: make(map[models.EntityID][]models.ChildRef),
		linked:   make(map[models.EntityID]link),
		alerts:   make(map[models.EntityID][]models.Alert),
		faults:   make(map[string]error),
	}
}

// fixtureLine is one JSONL record of a fixture file.
type fixtureLine struct {
	Event *models.Event `json:"event,omitempty"`
	Alert *models.Alert `json:"alert,omitempty"`
}

// Load reads a JSONL fixture of {"event":{...}} and {"alert":{...}} lines.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	s := New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec fixtureLine
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", line, err)
		}
		if rec.Event != nil {
			s.AddEvents(*rec.Event)
		}
		if rec.Alert != nil {
			s.AddAlerts(*rec.Alert)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return s, nil
}

// AddEvents appends events and maintains the children index.
func (s *Store) AddEvents(events ...models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.events[ev.EntityID] = insertSorted(s.events[ev.EntityID], ev, models.Event.Key)
		if ev.IsCreation() && ev.ParentEntityID != "" {
			s.link(ev)
		}
	}
}

// link indexes a child under the parent of its earliest creation event.
func (s *Store) link(ev models.Event) {
	ref := models.ChildRef{EntityID: ev.EntityID, Key: models.KeyFor(ev.Timestamp, string(ev.EntityID))}
	refKey := func(r models.ChildRef) models.SortKey { return r.Key }
	if cur, ok := s.linked[ev.EntityID]; ok {
		if !ref.Key.Less(cur.ref.Key) {
			return
		}
		siblings := s.children[cur.parent]
		for i := range siblings {
			if siblings[i].EntityID == ev.EntityID {
				s.children[cur.parent] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	s.linked[ev.EntityID] = link{parent: ev.ParentEntityID, ref: ref}
	s.children[ev.ParentEntityID] = insertSorted(s.children[ev.ParentEntityID], ref, refKey)
}

// AddAlerts indexes alerts under every entity they reference.
func (s *Store) AddAlerts(alerts ...models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range alerts {
		for _, id := range a.EntityIDs {
			s.alerts[id] = insertSorted(s.alerts[id], a, models.Alert.Key)
		}
	}
}

// Calls returns how many queries have been issued.
func (s *Store) Calls() int64 {
	return s.calls.Load()
}

// FailOn makes every call of op ("lifecycle", "children", "events", "alerts")
// touching id return err. An empty id matches every call of op.
func (s *Store) FailOn(op string, id models.EntityID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op+"|"+string(id)] = err
}

func (s *Store) fault(op string, ids ...models.EntityID) error {
	if err, ok := s.faults[op+"|"]; ok {
		return err
	}
	for _, id := range ids {
		if err, ok := s.faults[op+"|"+string(id)]; ok {
			return err
		}
	}
	return nil
}

// Lifecycle implements store.Reader.
func (s *Store) Lifecycle(ctx context.Context, ids []models.EntityID, limit int) (map[models.EntityID][]models.Event, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("lifecycle", ids...); err != nil {
		return nil, err
	}
	out := make(map[models.EntityID][]models.Event, len(ids))
	for _, id := range ids {
		var evs []models.Event
		for _, ev := range s.events[id] {
			if !ev.IsLifecycle() {
				continue
			}
			evs = append(evs, ev)
			if len(evs) == limit {
				break
			}
		}
		if len(evs) > 0 {
			out[id] = evs
		}
	}
	return out, nil
}

// Children implements store.Reader.
func (s *Store) Children(ctx context.Context, q store.ChildrenQuery) ([]models.ChildRef, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("children", q.Parent); err != nil {
		return nil, err
	}
	var out []models.ChildRef
	for _, ref := range s.children[q.Parent] {
		if !ref.Key.After(q.After) || !store.InWindow(ref.Key.Time(), q.Since, q.Until) {
			continue
		}
		out = append(out, ref)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Events implements store.Reader.
func (s *Store) Events(ctx context.Context, q store.RangeQuery) ([]models.Event, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("events", q.EntityID); err != nil {
		return nil, err
	}
	return rangeOf(s.events[q.EntityID], q, models.Event.Key), nil
}

// Alerts implements store.Reader.
func (s *Store) Alerts(ctx context.Context, q store.RangeQuery) ([]models.Alert, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("alerts", q.EntityID); err != nil {
		return nil, err
	}
	return rangeOf(s.alerts[q.EntityID], q, models.Alert.Key), nil
}

// Close implements store.Reader.
func (s *Store) Close() error {
	return nil
}

func rangeOf[T any](items []T, q store.RangeQuery, key func(T) models.SortKey) []T {
	var out []T
	for _, it := range items {
		k := key(it)
		if !k.After(q.After) || !store.InWindow(k.Time(), q.From, q.To) {
			continue
		}
		out = append(out, it)
		if len(out) == q.Limit {
			break
		}
	}
	return out
}

func insertSorted[T any](items []T, item T, key func(T) models.SortKey) []T {
	k := key(item)
	i := sort.Search(len(items), func(i int) bool { return k.Less(key(items[i])) })
	if i > 0 && key(items[i-1]) == k {
		return items
	}
	items = append(items, item)
	copy(items[i+1:], items[i:])
	items[i] = item
	return items
}
