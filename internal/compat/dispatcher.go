package compat

import (
	"context"
	"errors"
	"fmt"

	"procresolver/internal/logger"
	"procresolver/internal/resolver"
	"procresolver/pkg/models"
)

// ErrVariantDisabled is returned for variants switched off in configuration.
var ErrVariantDisabled = errors.New("variant disabled")

// Resolver is the unified resolution surface the dispatcher translates to.
type Resolver interface {
	AssembleTree(ctx context.Context, req resolver.TreeRequest) (resolver.Tree, error)
	ResolveChildren(ctx context.Context, req resolver.ChildrenRequest) (resolver.ChildrenPage, error)
	ResolveAncestors(ctx context.Context, id models.EntityID, generations int) (resolver.Ancestry, error)
	FetchEvents(ctx context.Context, req resolver.EnrichRequest) (resolver.EventsPage, error)
	FetchAlerts(ctx context.Context, req resolver.EnrichRequest) (resolver.AlertsPage, error)
	Lookup(ctx context.Context, id models.EntityID) (models.ProcessNode, error)
}

// Config fixes the limits of the deprecated shapes, which take no limit
// parameters of their own.
type Config struct {
	ChildrenPageSize int
	Generations      int
	AlertsPageSize   int
	AlertsEnabled    bool
}

// Request is a validated request of any variant.
type Request struct {
	Variant Variant
	// EntityID is the subject of legacy and entity requests.
	EntityID models.EntityID
	// EntityIDs are the roots of a tree or the subjects of an events request.
	EntityIDs   []models.EntityID
	Generations int
	PageSize    int
	Cursor      string
	Window      resolver.TimeRange
}

// Dispatcher maps each variant onto the unified resolver.
type Dispatcher struct {
	res Resolver
	cfg Config
	log *logger.Logger
}

// NewDispatcher creates a dispatcher over res.
func NewDispatcher(res Resolver, cfg Config) *Dispatcher {
	return &Dispatcher{res: res, cfg: cfg, log: logger.Named("compat")}
}

// Dispatch resolves req and returns the response body for its variant.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	if req.Variant.Deprecated() {
		d.log.Debugf("Deprecated variant %s for %s", req.Variant, req.EntityID)
	}
	switch req.Variant {
	case UnifiedTree:
		tree, err := d.res.AssembleTree(ctx, resolver.TreeRequest{
			Roots:       req.EntityIDs,
			Generations: req.Generations,
			PageSize:    req.PageSize,
			Cursor:      req.Cursor,
			Window:      req.Window,
		})
		if err != nil {
			return nil, err
		}
		return toTreeResponse(tree), nil
	case UnifiedEvents:
		page, err := d.res.FetchEvents(ctx, resolver.EnrichRequest{
			EntityIDs: req.EntityIDs,
			PageSize:  req.PageSize,
			Cursor:    req.Cursor,
			Window:    req.Window,
		})
		if err != nil {
			return nil, err
		}
		return toEventsResponse(page), nil
	case LegacyChildren:
		return d.children(ctx, req)
	case LegacyAncestry:
		return d.ancestry(ctx, req)
	case LegacyCombined:
		return d.combined(ctx, req)
	case LegacyAlerts:
		return d.alerts(ctx, req)
	case Entity:
		node, err := d.res.Lookup(ctx, req.EntityID)
		if err != nil {
			return nil, err
		}
		return []EntityResult{{
			EntityID: string(node.EntityID),
			Name:     node.Name,
			Host:     node.Host,
			ParentID: string(node.ParentEntityID),
		}}, nil
	}
	return nil, fmt.Errorf("unsupported variant %d", req.Variant)
}

func (d *Dispatcher) children(ctx context.Context, req Request) (LegacyChildrenResponse, error) {
	if _, err := d.res.Lookup(ctx, req.EntityID); err != nil {
		return LegacyChildrenResponse{}, err
	}
	page, err := d.res.ResolveChildren(ctx, resolver.ChildrenRequest{
		Roots:    []models.EntityID{req.EntityID},
		PageSize: d.cfg.ChildrenPageSize,
		Cursor:   req.Cursor,
	})
	if err != nil {
		return LegacyChildrenResponse{}, err
	}
	return LegacyChildrenResponse{ChildNodes: toLegacyNodes(page.Nodes), NextChild: nullable(page.NextCursor)}, nil
}

func (d *Dispatcher) ancestry(ctx context.Context, req Request) (LegacyAncestryResponse, error) {
	chain, err := d.res.ResolveAncestors(ctx, req.EntityID, d.cfg.Generations)
	if err != nil {
		return LegacyAncestryResponse{}, err
	}
	if err := ancestryFailure(chain.Boundaries); err != nil {
		return LegacyAncestryResponse{}, err
	}
	return LegacyAncestryResponse{
		Ancestors:    toLegacyNodes(chain.Nodes),
		NextAncestor: nextAncestor(chain.Boundaries),
	}, nil
}

// combined answers GET /{id} from a single-root tree.
func (d *Dispatcher) combined(ctx context.Context, req Request) (LegacyCombinedResponse, error) {
	tree, err := d.res.AssembleTree(ctx, resolver.TreeRequest{
		Roots:       []models.EntityID{req.EntityID},
		Generations: d.cfg.Generations,
		PageSize:    d.cfg.ChildrenPageSize,
	})
	if err != nil {
		return LegacyCombinedResponse{}, err
	}
	root, ok := tree.Nodes[req.EntityID]
	if !ok {
		return LegacyCombinedResponse{}, rootFailure(tree.Boundaries, req.EntityID)
	}
	if err := ancestryFailure(tree.Boundaries); err != nil {
		return LegacyCombinedResponse{}, err
	}

	pick := func(ids []models.EntityID) []models.ProcessNode {
		out := make([]models.ProcessNode, 0, len(ids))
		for _, id := range ids {
			out = append(out, tree.Nodes[id])
		}
		return out
	}
	return LegacyCombinedResponse{
		EntityID: string(req.EntityID),
		Children: LegacyChildrenResponse{
			ChildNodes: toLegacyNodes(pick(tree.Children)),
			NextChild:  nullable(tree.NextCursor),
		},
		Ancestry: LegacyAncestryResponse{
			Ancestors:    toLegacyNodes(pick(tree.Ancestry[req.EntityID])),
			NextAncestor: nextAncestor(tree.Boundaries),
		},
		Lifecycle: toLegacyLifecycle(root.Lifecycle),
	}, nil
}

func (d *Dispatcher) alerts(ctx context.Context, req Request) (LegacyAlertsResponse, error) {
	if !d.cfg.AlertsEnabled {
		return LegacyAlertsResponse{}, ErrVariantDisabled
	}
	if _, err := d.res.Lookup(ctx, req.EntityID); err != nil {
		return LegacyAlertsResponse{}, err
	}
	page, err := d.res.FetchAlerts(ctx, resolver.EnrichRequest{
		EntityIDs: []models.EntityID{req.EntityID},
		PageSize:  d.cfg.AlertsPageSize,
		Cursor:    req.Cursor,
	})
	if err != nil {
		return LegacyAlertsResponse{}, err
	}
	alerts := make([]LegacyEvent, 0, len(page.Alerts))
	for _, a := range page.Alerts {
		alerts = append(alerts, toLegacyAlert(a, req.EntityID))
	}
	return LegacyAlertsResponse{
		EntityID:  string(req.EntityID),
		Alerts:    alerts,
		NextAlert: nullable(page.NextCursor),
	}, nil
}

func nextAncestor(bounds []resolver.Boundary) *string {
	for _, b := range bounds {
		if b.Kind == resolver.BoundaryGenerationLimit {
			return nullable(string(b.Next))
		}
	}
	return nil
}

// ancestryFailure reports an ancestor lookup that failed mid-walk. The legacy
// ancestry body has no place for a boundary, and an empty nextAncestor would
// read as a complete chain. Children failures carry no Next and are left to
// the nextChild cursor.
func ancestryFailure(bounds []resolver.Boundary) error {
	for _, b := range bounds {
		if b.Kind == resolver.BoundaryStoreUnavailable && b.Next != "" {
			return fmt.Errorf("%w: lookup of ancestor %s of %s", resolver.ErrStoreUnavailable, b.Next, b.EntityID)
		}
	}
	return nil
}

// rootFailure turns the boundary explaining a missing root into the error a
// legacy caller expects.
func rootFailure(bounds []resolver.Boundary, id models.EntityID) error {
	for _, b := range bounds {
		if b.EntityID == id && b.Kind == resolver.BoundaryStoreUnavailable {
			return fmt.Errorf("%w: lookup of %s", resolver.ErrStoreUnavailable, id)
		}
	}
	return fmt.Errorf("%w: %s", resolver.ErrNotFound, id)
}
