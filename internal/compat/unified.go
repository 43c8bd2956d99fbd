package compat

import (
	"procresolver/internal/resolver"
	"procresolver/pkg/models"
)

// TreeResponse is the body of POST /tree.
type TreeResponse struct {
	Roots      []models.EntityID    `json:"roots"`
	Nodes      []models.ProcessNode `json:"nodes"`
	Boundaries []resolver.Boundary  `json:"boundaries"`
	NextCursor *string              `json:"nextCursor"`
}

// EventsResponse is the body of POST /events.
type EventsResponse struct {
	Events     []models.Event      `json:"events"`
	Boundaries []resolver.Boundary `json:"boundaries"`
	NextCursor *string             `json:"nextCursor"`
}

func toTreeResponse(t resolver.Tree) TreeResponse {
	return TreeResponse{
		Roots:      nonNil(t.Roots),
		Nodes:      t.SortedNodes(),
		Boundaries: nonNil(t.Boundaries),
		NextCursor: nullable(t.NextCursor),
	}
}

func toEventsResponse(p resolver.EventsPage) EventsResponse {
	return EventsResponse{
		Events:     nonNil(p.Events),
		Boundaries: nonNil(p.Boundaries),
		NextCursor: nullable(p.NextCursor),
	}
}

// nonNil keeps empty lists as [] on the wire.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
