package resolver

import (
	"sort"

	"procresolver/pkg/models"
)

// BoundaryKind names why resolution stopped before completing.
type BoundaryKind string

const (
	BoundaryGenerationLimit    BoundaryKind = "ancestry_generation_limit"
	BoundaryParentNotFound     BoundaryKind = "ancestry_parent_not_found"
	BoundaryAncestryCycle      BoundaryKind = "ancestry_cycle_detected"
	BoundaryChildrenCycle      BoundaryKind = "children_cycle_detected"
	BoundaryChildrenNotDrained BoundaryKind = "children_page_not_drained"
	BoundaryRootNotFound       BoundaryKind = "root_not_found"
	BoundaryStoreUnavailable   BoundaryKind = "store_unavailable"
)

// Boundary marks a point where a result is known to be incomplete.
type Boundary struct {
	Kind BoundaryKind `json:"kind"`
	// EntityID is the node at which resolution stopped.
	EntityID models.EntityID `json:"entityID,omitempty"`
	// Next is the unresolved neighbour, e.g. the parent beyond a generation limit.
	Next models.EntityID `json:"next,omitempty"`
	// Cursor continues an undrained children walk.
	Cursor    string `json:"cursor,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func unavailableAt(id models.EntityID) Boundary {
	return Boundary{Kind: BoundaryStoreUnavailable, EntityID: id, Retryable: true}
}

// normalizeBoundaries drops duplicates and orders by kind, entity, next.
func normalizeBoundaries(in []Boundary) []Boundary {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Boundary]struct{}, len(in))
	out := make([]Boundary, 0, len(in))
	for _, b := range in {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Next < out[j].Next
	})
	observeBoundaries(out)
	return out
}
