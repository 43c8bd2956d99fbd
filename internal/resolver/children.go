package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"procresolver/internal/store"
	"procresolver/pkg/models"
)

// maxCursorDepth rejects cursors that would allocate absurd walker state.
const maxCursorDepth = 1 << 16

// ChildrenRequest asks for one page of the descendants of Roots.
type ChildrenRequest struct {
	Roots    []models.EntityID
	PageSize int
	Cursor   string
	Window   TimeRange
}

// ChildrenPage holds descendants in breadth-first order: all of depth 1 (in
// root order, then creation order) before any of depth 2, and so on.
type ChildrenPage struct {
	Nodes []models.ProcessNode
	// NextCursor is empty once the walk is exhausted.
	NextCursor string
	Boundaries []Boundary
}

// childrenState is the resumable position of a walk. Depth is the level
// being emitted, Root the index of the current root, Path the current node
// at each level 1..Depth-1 and After the last key consumed at Depth. AsOf
// pins the creation-time watermark for every page of one walk.
type childrenState struct {
	AsOf  int64            `json:"w"`
	Depth int              `json:"d"`
	Root  int              `json:"r"`
	Path  []models.SortKey `json:"p,omitempty"`
	After *models.SortKey  `json:"a,omitempty"`
	Seen  bool             `json:"n,omitempty"`
}

// ResolveChildren returns the next page of descendants of the requested
// roots. The walk holds no server-side state: each page re-derives the
// traversal position from the cursor with a bounded number of keyed store
// queries, so its cost does not grow with the page number.
func (r *Resolver) ResolveChildren(ctx context.Context, req ChildrenRequest) (ChildrenPage, error) {
	roots := models.UniqueSorted(req.Roots)
	pageSize := max(req.PageSize, 1)
	fp := fingerprint(scopeChildren, roots, pageSize, req.Window)

	st := childrenState{Depth: 1, Root: -1, AsOf: r.watermark(req.Window).UnixMilli()}
	if req.Cursor != "" {
		if err := r.cursor.decode(req.Cursor, scopeChildren, fp, &st); err != nil {
			return ChildrenPage{}, err
		}
	}

	w := newWalker(r, roots, req.Window, st.AsOf)
	if err := w.restore(st); err != nil {
		return ChildrenPage{}, err
	}

	type emitted struct {
		id, parent models.EntityID
	}
	var (
		out     []emitted
		last    childrenState
		more    bool
		stopErr error
		depth   = st.Depth
		seen    = st.Seen
	)
	for {
		ok, err := w.advance(ctx, depth)
		if err != nil {
			stopErr = err
			break
		}
		if !ok {
			if !seen {
				break
			}
			depth++
			seen = false
			w.reset(depth)
			continue
		}
		seen = true
		if len(out) == pageSize {
			more = true
			break
		}
		out = append(out, emitted{id: w.current(depth), parent: w.current(depth - 1)})
		last = w.snapshot(depth, true)
		w.armed = true
	}
	childrenPageCalls.Observe(float64(w.calls))

	page := ChildrenPage{}
	var resume *childrenState
	switch {
	case stopErr != nil:
		if ctx.Err() != nil {
			return ChildrenPage{}, ctx.Err()
		}
		snap := w.snapshot(depth, seen)
		resume = &snap
		if errors.Is(stopErr, errBudget) {
			r.log.Debugf("Children page stopped after %d store calls", w.calls)
		} else {
			r.log.Warnf("Children walk interrupted: %v", stopErr)
			page.Boundaries = append(page.Boundaries, unavailableAt(w.failedAt))
		}
	case more:
		resume = &last
	}
	if resume != nil {
		token, err := r.cursor.encode(scopeChildren, fp, resume)
		if err != nil {
			return ChildrenPage{}, err
		}
		page.NextCursor = token
	}

	ids := make([]models.EntityID, len(out))
	for i, e := range out {
		ids[i] = e.id
	}
	nodes, unavailable, err := r.hydrate(ctx, ids)
	if err != nil {
		return ChildrenPage{}, err
	}
	for _, id := range unavailable {
		page.Boundaries = append(page.Boundaries, unavailableAt(id))
	}
	page.Nodes = make([]models.ProcessNode, 0, len(out))
	for _, e := range out {
		node, ok := nodes[e.id]
		if !ok {
			node = models.ProcessNode{EntityID: e.id}
		}
		if node.ParentEntityID == "" {
			node.ParentEntityID = e.parent
		}
		page.Nodes = append(page.Nodes, node)
	}
	page.Boundaries = normalizeBoundaries(append(page.Boundaries, w.cycles...))
	return page, nil
}

// level is the walker position at one depth.
type level struct {
	positioned bool
	key        models.SortKey
	after      *models.SortKey
	buf        []models.ChildRef
	drained    bool
}

// walker enumerates the nodes of one depth in breadth-first order by
// descending from the roots along the current path.
type walker struct {
	r          *Resolver
	roots      []models.EntityID
	rootSet    map[models.EntityID]struct{}
	window     TimeRange
	until      int64
	calls      int
	armed      bool
	rootIdx    int
	levels     []level
	cycles     []Boundary
	failedAt   models.EntityID
	prefetched map[models.EntityID][]models.ChildRef
}

func newWalker(r *Resolver, roots []models.EntityID, window TimeRange, asOf int64) *walker {
	set := make(map[models.EntityID]struct{}, len(roots))
	for _, id := range roots {
		set[id] = struct{}{}
	}
	return &walker{
		r:          r,
		roots:      roots,
		rootSet:    set,
		window:     window,
		until:      asOf,
		rootIdx:    -1,
		prefetched: make(map[models.EntityID][]models.ChildRef),
	}
}

func (w *walker) reset(depth int) {
	w.rootIdx = -1
	w.levels = make([]level, depth+1)
}

func (w *walker) resetFrom(i int) {
	for j := i; j < len(w.levels); j++ {
		w.levels[j] = level{}
	}
}

func (w *walker) restore(st childrenState) error {
	if st.Depth < 1 || st.Depth > maxCursorDepth || st.Root < -1 || st.Root >= len(w.roots) || len(st.Path) > st.Depth-1 {
		return fmt.Errorf("%w: position out of range", ErrInvalidCursor)
	}
	w.reset(st.Depth)
	w.rootIdx = st.Root
	if st.Root < 0 {
		if len(st.Path) > 0 || st.After != nil {
			return fmt.Errorf("%w: position out of range", ErrInvalidCursor)
		}
		return nil
	}
	for i, k := range st.Path {
		lv := &w.levels[i+1]
		lv.positioned = true
		lv.key = k
		after := k
		lv.after = &after
	}
	if st.After != nil {
		if len(st.Path) != st.Depth-1 {
			return fmt.Errorf("%w: position out of range", ErrInvalidCursor)
		}
		after := *st.After
		w.levels[st.Depth].after = &after
	}
	return nil
}

func (w *walker) snapshot(depth int, seen bool) childrenState {
	st := childrenState{AsOf: w.until, Depth: depth, Root: w.rootIdx, Seen: seen}
	if w.rootIdx < 0 {
		return st
	}
	for j := 1; j < depth; j++ {
		if !w.levels[j].positioned {
			return st
		}
		st.Path = append(st.Path, w.levels[j].key)
	}
	if a := w.levels[depth].after; a != nil {
		after := *a
		st.After = &after
	}
	return st
}

func (w *walker) ready(j int) bool {
	if j == 0 {
		return w.rootIdx >= 0
	}
	return w.levels[j].positioned
}

func (w *walker) current(j int) models.EntityID {
	if j == 0 {
		if w.rootIdx < 0 {
			return ""
		}
		return w.roots[w.rootIdx]
	}
	return models.EntityID(w.levels[j].key.ID)
}

func (w *walker) isRoot(id models.EntityID) bool {
	_, ok := w.rootSet[id]
	return ok
}

// onPath reports whether id is an ancestor of the level j position.
func (w *walker) onPath(id models.EntityID, j int) bool {
	if id == w.current(0) {
		return true
	}
	for i := 1; i < j; i++ {
		if w.current(i) == id {
			return true
		}
	}
	return false
}

// advance moves level j to its next node in breadth-first order. It
// returns false when level j has no further nodes under the remaining roots.
func (w *walker) advance(ctx context.Context, j int) (bool, error) {
	if j == 0 {
		if w.rootIdx+1 >= len(w.roots) {
			return false, nil
		}
		w.rootIdx++
		w.resetFrom(1)
		return true, nil
	}

	lv := &w.levels[j]
	for {
		if !w.ready(j - 1) {
			ok, err := w.advance(ctx, j-1)
			if err != nil || !ok {
				return ok, err
			}
		}
		parent := w.current(j - 1)
		// A requested root reached below another root is expanded under its own.
		if j > 1 && w.isRoot(parent) {
			lv.drained = true
		}
		if len(lv.buf) == 0 && !lv.drained {
			refs, err := w.children(ctx, parent, lv.after, w.upcoming(j-1))
			if err != nil {
				w.failedAt = parent
				return false, err
			}
			lv.buf = refs
			lv.drained = len(refs) < w.r.cfg.FetchBatch
		}
		for len(lv.buf) > 0 {
			ref := lv.buf[0]
			lv.buf = lv.buf[1:]
			key := ref.Key
			lv.after = &key
			if w.onPath(ref.EntityID, j) {
				w.cycles = append(w.cycles, Boundary{Kind: BoundaryChildrenCycle, EntityID: parent, Next: ref.EntityID})
				continue
			}
			lv.key = key
			lv.positioned = true
			w.resetFrom(j + 1)
			return true, nil
		}
		if !lv.drained {
			continue
		}
		ok, err := w.advance(ctx, j-1)
		if err != nil || !ok {
			return ok, err
		}
	}
}

// upcoming lists the parents expected after the current one at level j, up to
// the fan-out, so their first batches can be fetched together.
func (w *walker) upcoming(j int) []models.EntityID {
	limit := w.r.cfg.FanOut - 1
	if limit <= 0 {
		return nil
	}
	var out []models.EntityID
	if j == 0 {
		for _, id := range w.roots[w.rootIdx+1:] {
			if len(out) == limit {
				break
			}
			out = append(out, id)
		}
		return out
	}
	for _, ref := range w.levels[j].buf {
		if len(out) == limit {
			break
		}
		if !w.isRoot(ref.EntityID) {
			out = append(out, ref.EntityID)
		}
	}
	return out
}

func (w *walker) children(ctx context.Context, parent models.EntityID, after *models.SortKey, upcoming []models.EntityID) ([]models.ChildRef, error) {
	if after == nil {
		if refs, ok := w.prefetched[parent]; ok {
			delete(w.prefetched, parent)
			return refs, nil
		}
	}
	budget := w.r.cfg.StoreCallBudget - w.calls
	if budget <= 0 {
		// The budget only binds once the page has made progress.
		if w.armed {
			return nil, errBudget
		}
		budget = 1
	}
	if after != nil || len(upcoming) == 0 || budget == 1 {
		w.calls++
		return w.query(ctx, parent, after)
	}

	targets := []models.EntityID{parent}
	for _, id := range upcoming {
		if len(targets) == budget {
			break
		}
		if _, ok := w.prefetched[id]; !ok && id != parent {
			targets = append(targets, id)
		}
	}
	results := make([][]models.ChildRef, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(w.r.cfg.FanOut)
	for i, id := range targets {
		g.Go(func() error {
			results[i], errs[i] = w.query(ctx, id, nil)
			return nil
		})
	}
	g.Wait()
	w.calls += len(targets)
	for i := 1; i < len(targets); i++ {
		if errs[i] == nil {
			w.prefetched[targets[i]] = results[i]
		}
	}
	return results[0], errs[0]
}

func (w *walker) query(ctx context.Context, parent models.EntityID, after *models.SortKey) ([]models.ChildRef, error) {
	refs, err := w.r.store.Children(ctx, store.ChildrenQuery{
		Parent: parent,
		After:  after,
		Since:  w.window.From,
		Until:  time.UnixMilli(w.until).UTC(),
		Limit:  w.r.cfg.FetchBatch,
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key.Less(refs[j].Key) })
	return refs, nil
}
