package resolver

import (
	"testing"
	"time"

	"procresolver/internal/store/memstore"
	"procresolver/pkg/models"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func id(name string) models.EntityID {
	return models.NewEntityID("host-a", name)
}

func ids(names ...string) []models.EntityID {
	out := make([]models.EntityID, len(names))
	for i, n := range names {
		out[i] = id(n)
	}
	return out
}

// spawn records the start of name by parent, offset seconds after base.
func spawn(name, parent string, offset int) models.Event {
	ev := models.Event{
		EventID:   "start-" + name,
		EntityID:  id(name),
		Category:  models.CategoryProcess,
		Kind:      models.KindStart,
		Timestamp: base.Add(time.Duration(offset) * time.Second),
		Host:      "host-a",
		Name:      name + ".exe",
	}
	if parent != "" {
		ev.ParentEntityID = id(parent)
	}
	return ev
}

func newTestResolver(t *testing.T, st *memstore.Store, cfg Config) *Resolver {
	t.Helper()
	if cfg.CursorSecret == nil {
		cfg.CursorSecret = []byte("test-secret")
	}
	r := New(st, cfg)
	r.now = func() time.Time { return base.Add(time.Hour) }
	return r
}

// familyStore holds
//
//	root ─┬─ c1 ─┬─ g1 ── gg1
//	      │      └─ g2
//	      ├─ c2
//	      └─ c3 ── g3
func familyStore() *memstore.Store {
	st := memstore.New()
	st.AddEvents(
		spawn("root", "", 0),
		spawn("c1", "root", 1),
		spawn("c2", "root", 2),
		spawn("c3", "root", 3),
		spawn("g1", "c1", 4),
		spawn("g2", "c1", 5),
		spawn("g3", "c3", 6),
		spawn("gg1", "g1", 7),
	)
	return st
}

// familyOrder is the breadth-first order of the descendants of root.
var familyOrder = []string{"c1", "c2", "c3", "g1", "g2", "g3", "gg1"}

func nodeIDs(nodes []models.ProcessNode) []models.EntityID {
	out := make([]models.EntityID, len(nodes))
	for i, n := range nodes {
		out[i] = n.EntityID
	}
	return out
}
