package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procresolver/internal/store/memstore"
	"procresolver/pkg/models"
)

// drain follows cursors until the walk is exhausted and returns every node.
func drain(t *testing.T, r *Resolver, req ChildrenRequest) ([]models.ProcessNode, int) {
	t.Helper()
	var all []models.ProcessNode
	pages := 0
	for {
		page, err := r.ResolveChildren(context.Background(), req)
		require.NoError(t, err)
		pages++
		require.LessOrEqual(t, len(page.Nodes), req.PageSize)
		all = append(all, page.Nodes...)
		if page.NextCursor == "" {
			return all, pages
		}
		require.NotEmpty(t, page.Nodes, "page %d made no progress", pages)
		require.Less(t, pages, 100, "walk did not terminate")
		req.Cursor = page.NextCursor
	}
}

func TestResolveChildrenBreadthFirst(t *testing.T) {
	r := newTestResolver(t, familyStore(), Config{})

	page, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, ids(familyOrder...), nodeIDs(page.Nodes))
	assert.Empty(t, page.NextCursor)
	assert.Empty(t, page.Boundaries)
	assert.Equal(t, id("c1"), page.Nodes[3].ParentEntityID)
	assert.Equal(t, "g1.exe", page.Nodes[3].Name)
}

func TestResolveChildrenPaginationIsStable(t *testing.T) {
	for _, cfg := range []Config{
		{FetchBatch: 1, FanOut: 1},
		{FetchBatch: 2, FanOut: 3},
		{FetchBatch: 100, FanOut: 8},
	} {
		for pageSize := 1; pageSize <= len(familyOrder)+1; pageSize++ {
			t.Run(fmt.Sprintf("batch%d/page%d", cfg.FetchBatch, pageSize), func(t *testing.T) {
				r := newTestResolver(t, familyStore(), cfg)
				all, pages := drain(t, r, ChildrenRequest{Roots: ids("root"), PageSize: pageSize})
				assert.Equal(t, ids(familyOrder...), nodeIDs(all))
				want := (len(familyOrder) + pageSize - 1) / pageSize
				assert.Equal(t, want, pages)
			})
		}
	}
}

func TestResolveChildrenExactPageHasNoCursor(t *testing.T) {
	r := newTestResolver(t, familyStore(), Config{})

	page, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: len(familyOrder)})
	require.NoError(t, err)
	assert.Len(t, page.Nodes, len(familyOrder))
	assert.Empty(t, page.NextCursor)
}

func TestResolveChildrenMultipleRoots(t *testing.T) {
	r := newTestResolver(t, familyStore(), Config{FetchBatch: 2})

	all, _ := drain(t, r, ChildrenRequest{Roots: ids("root", "c1", "root"), PageSize: 3})
	seen := map[models.EntityID]int{}
	for _, n := range all {
		seen[n.EntityID]++
	}
	for entity, n := range seen {
		assert.Equal(t, 1, n, "%s emitted more than once", entity)
	}
	assert.NotContains(t, seen, id("root"))
	for _, name := range familyOrder {
		assert.Contains(t, seen, id(name))
	}
}

func TestResolveChildrenCycle(t *testing.T) {
	st := memstore.New()
	st.AddEvents(spawn("x", "y", 0), spawn("y", "x", 1))
	r := newTestResolver(t, st, Config{})

	page, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("x"), PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, ids("y"), nodeIDs(page.Nodes))
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, []Boundary{{Kind: BoundaryChildrenCycle, EntityID: id("y"), Next: id("x")}}, page.Boundaries)
}

func TestResolveChildrenWatermark(t *testing.T) {
	st := familyStore()
	r := newTestResolver(t, st, Config{})

	first, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 2})
	require.NoError(t, err)

	// Created after the first page; invisible to this walk.
	late := spawn("late", "root", 0)
	late.Timestamp = base.Add(2 * time.Hour)
	st.AddEvents(late)
	r.now = func() time.Time { return base.Add(3 * time.Hour) }

	rest, _ := drain(t, r, ChildrenRequest{Roots: ids("root"), PageSize: 2, Cursor: first.NextCursor})
	all := append(nodeIDs(first.Nodes), nodeIDs(rest)...)
	assert.Equal(t, ids(familyOrder...), all)

	fresh, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 10})
	require.NoError(t, err)
	assert.Contains(t, nodeIDs(fresh.Nodes), id("late"))
}

func TestResolveChildrenWindow(t *testing.T) {
	r := newTestResolver(t, familyStore(), Config{})

	page, err := r.ResolveChildren(context.Background(), ChildrenRequest{
		Roots:    ids("root"),
		PageSize: 10,
		Window:   TimeRange{From: base.Add(2 * time.Second), To: base.Add(6 * time.Second)},
	})
	require.NoError(t, err)
	// c1 is outside the window, so its subtree is unreachable.
	assert.Equal(t, ids("c2", "c3", "g3"), nodeIDs(page.Nodes))
}

func TestResolveChildrenStoreFailureResumes(t *testing.T) {
	st := familyStore()
	r := newTestResolver(t, st, Config{FetchBatch: 2, FanOut: 3})
	st.FailOn("children", id("c1"), errors.New("read timeout"))

	page, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, ids("c1", "c2", "c3"), nodeIDs(page.Nodes))
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, []Boundary{unavailableAt(id("c1"))}, page.Boundaries)

	st.FailOn("children", id("c1"), nil)
	next, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 10, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, ids("g1", "g2", "g3", "gg1"), nodeIDs(next.Nodes))
	assert.Empty(t, next.NextCursor)
}

func TestResolveChildrenBudgetStillProgresses(t *testing.T) {
	r := newTestResolver(t, familyStore(), Config{FetchBatch: 2, StoreCallBudget: 1})

	all, pages := drain(t, r, ChildrenRequest{Roots: ids("root"), PageSize: 100})
	assert.Equal(t, ids(familyOrder...), nodeIDs(all))
	assert.Greater(t, pages, 1)
}

func TestResolveChildrenCostIndependentOfPageNumber(t *testing.T) {
	st := memstore.New()
	st.AddEvents(spawn("p", "", 0))
	for i := 0; i < 60; i++ {
		st.AddEvents(spawn(fmt.Sprintf("k%02d", i), "p", i+1))
	}
	r := newTestResolver(t, st, Config{FetchBatch: 5})

	req := ChildrenRequest{Roots: ids("p"), PageSize: 5}
	for n := 0; n < 12; n++ {
		before := st.Calls()
		page, err := r.ResolveChildren(context.Background(), req)
		require.NoError(t, err)
		// The last page also proves there are no grandchildren, which
		// visits every child.
		if n < 11 {
			assert.LessOrEqual(t, st.Calls()-before, int64(4), "page %d", n)
		}
		req.Cursor = page.NextCursor
	}
	assert.Empty(t, req.Cursor)
}

func TestResolveChildrenHydrationFailure(t *testing.T) {
	st := familyStore()
	r := newTestResolver(t, st, Config{})
	st.FailOn("lifecycle", id("c2"), errors.New("boom"))

	page, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, ids("c1", "c2", "c3"), nodeIDs(page.Nodes))
	assert.Equal(t, id("root"), page.Nodes[1].ParentEntityID)
	assert.Empty(t, page.Nodes[1].Name)
	assert.Contains(t, page.Boundaries, unavailableAt(id("c2")))
	assert.NotEmpty(t, page.NextCursor)
}

func TestResolveChildrenRejectsForeignCursor(t *testing.T) {
	r := newTestResolver(t, familyStore(), Config{})

	page, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 2})
	require.NoError(t, err)

	_, err = r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("c1"), PageSize: 2, Cursor: page.NextCursor})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 3, Cursor: page.NextCursor})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 2, Cursor: page.NextCursor + "x"})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	other := newTestResolver(t, familyStore(), Config{CursorSecret: []byte("other")})
	_, err = other.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("root"), PageSize: 2, Cursor: page.NextCursor})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestResolveChildrenUnknownRoot(t *testing.T) {
	r := newTestResolver(t, familyStore(), Config{})

	page, err := r.ResolveChildren(context.Background(), ChildrenRequest{Roots: ids("ghost"), PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Nodes)
	assert.Empty(t, page.NextCursor)
}
