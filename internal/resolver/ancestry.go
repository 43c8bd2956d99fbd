package resolver

import (
	"context"

	"procresolver/pkg/models"
)

// Ancestry is the chain from a node up towards its root. Nodes are ordered
// parent first, so Nodes[len-1] is the most distant ancestor found.
type Ancestry struct {
	Origin     models.ProcessNode
	Nodes      []models.ProcessNode
	Boundaries []Boundary
}

// ResolveAncestors walks parent links from id for at most generations hops.
// It fails with ErrNotFound when id itself is unknown; every later stop is
// reported as a boundary.
func (r *Resolver) ResolveAncestors(ctx context.Context, id models.EntityID, generations int) (Ancestry, error) {
	origin, err := r.Lookup(ctx, id)
	if err != nil {
		return Ancestry{}, err
	}
	return r.walkAncestors(ctx, origin, generations)
}

func (r *Resolver) walkAncestors(ctx context.Context, origin models.ProcessNode, generations int) (Ancestry, error) {
	out := Ancestry{Origin: origin}
	visited := map[models.EntityID]struct{}{origin.EntityID: {}}
	current := origin

	for {
		parent := current.ParentEntityID
		if parent == "" {
			break
		}
		if _, ok := visited[parent]; ok {
			out.Boundaries = append(out.Boundaries, Boundary{
				Kind: BoundaryAncestryCycle, EntityID: current.EntityID, Next: parent,
			})
			break
		}
		if len(out.Nodes) >= generations {
			out.Boundaries = append(out.Boundaries, Boundary{
				Kind: BoundaryGenerationLimit, EntityID: current.EntityID, Next: parent,
			})
			break
		}

		found, err := r.lookup(ctx, []models.EntityID{parent})
		if err != nil {
			if ctx.Err() != nil {
				return Ancestry{}, ctx.Err()
			}
			r.log.Warnf("Ancestor lookup %s failed: %v", parent, err)
			out.Boundaries = append(out.Boundaries, Boundary{
				Kind: BoundaryStoreUnavailable, EntityID: current.EntityID, Next: parent, Retryable: true,
			})
			break
		}
		node, ok := found[parent]
		if !ok {
			out.Boundaries = append(out.Boundaries, Boundary{
				Kind: BoundaryParentNotFound, EntityID: current.EntityID, Next: parent,
			})
			break
		}
		visited[parent] = struct{}{}
		out.Nodes = append(out.Nodes, node)
		current = node
	}

	ancestryDepth.Observe(float64(len(out.Nodes)))
	out.Boundaries = normalizeBoundaries(out.Boundaries)
	return out, nil
}
