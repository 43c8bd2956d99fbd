package resolver

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"procresolver/pkg/models"
)

// TreeRequest combines ancestry and a children page for a set of roots.
type TreeRequest struct {
	Roots []models.EntityID
	// Generations bounds the ancestry walk of every root.
	Generations int
	PageSize    int
	Cursor      string
	// Window applies to children only; ancestry is never time filtered.
	Window TimeRange
}

// Tree is the merged result. Each entity appears at most once in Nodes.
type Tree struct {
	Roots []models.EntityID
	Nodes map[models.EntityID]models.ProcessNode
	// Ancestry lists each found root's ancestors, nearest first.
	Ancestry map[models.EntityID][]models.EntityID
	// Children is the children page in walk order.
	Children   []models.EntityID
	Boundaries []Boundary
	NextCursor string
}

// SortedNodes returns the nodes ordered by entity id.
func (t Tree) SortedNodes() []models.ProcessNode {
	out := make([]models.ProcessNode, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// AssembleTree resolves the roots, their ancestry and one page of their
// descendants, and merges them. Unknown roots are reported as boundaries
// rather than errors; the only errors are cancellation and a bad cursor.
func (r *Resolver) AssembleTree(ctx context.Context, req TreeRequest) (Tree, error) {
	roots := models.UniqueSorted(req.Roots)
	tree := Tree{
		Roots:    roots,
		Nodes:    make(map[models.EntityID]models.ProcessNode),
		Ancestry: make(map[models.EntityID][]models.EntityID),
	}
	if len(roots) == 0 {
		return tree, nil
	}

	found, unavailable, err := r.hydrate(ctx, roots)
	if err != nil {
		return Tree{}, err
	}
	var bounds []Boundary
	down := make(map[models.EntityID]bool, len(unavailable))
	for _, id := range unavailable {
		down[id] = true
		bounds = append(bounds, unavailableAt(id))
	}
	for _, id := range roots {
		if node, ok := found[id]; ok {
			tree.add(node)
		} else if !down[id] {
			bounds = append(bounds, Boundary{Kind: BoundaryRootNotFound, EntityID: id})
		}
	}

	chains := make([]Ancestry, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.FanOut)
	for i, id := range roots {
		node, ok := found[id]
		if !ok {
			continue
		}
		g.Go(func() error {
			chain, err := r.walkAncestors(gctx, node, req.Generations)
			chains[i] = chain
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Tree{}, err
	}
	for i, chain := range chains {
		if _, ok := found[roots[i]]; !ok {
			continue
		}
		line := make([]models.EntityID, 0, len(chain.Nodes))
		for _, n := range chain.Nodes {
			tree.add(n)
			line = append(line, n.EntityID)
		}
		tree.Ancestry[roots[i]] = line
		bounds = append(bounds, chain.Boundaries...)
	}

	page, err := r.ResolveChildren(ctx, ChildrenRequest{
		Roots:    roots,
		PageSize: req.PageSize,
		Cursor:   req.Cursor,
		Window:   req.Window,
	})
	if err != nil {
		return Tree{}, err
	}
	for _, n := range page.Nodes {
		tree.add(n)
		tree.Children = append(tree.Children, n.EntityID)
	}
	bounds = append(bounds, page.Boundaries...)
	if page.NextCursor != "" {
		tree.NextCursor = page.NextCursor
		bounds = append(bounds, Boundary{Kind: BoundaryChildrenNotDrained, Cursor: page.NextCursor})
	}

	tree.Boundaries = normalizeBoundaries(bounds)
	return tree, nil
}

// add keeps the first copy of a node unless a later one carries lifecycle
// data the first lacks.
func (t *Tree) add(n models.ProcessNode) {
	if prev, ok := t.Nodes[n.EntityID]; ok && (prev.State != "" || n.State == "") {
		return
	}
	t.Nodes[n.EntityID] = n
}
