package compat

import (
	"time"

	"procresolver/pkg/models"
)

// The types in this file are frozen wire shapes. They are filled from the
// internal models field by field and must not embed them.

// LegacyEvent is the ECS-style lifecycle event of the deprecated endpoints.
type LegacyEvent struct {
	Timestamp string           `json:"@timestamp"`
	Event     LegacyEventMeta  `json:"event"`
	Process   LegacyProcess    `json:"process"`
	Host      *LegacyHost      `json:"host,omitempty"`
	Agent     *LegacyAgent     `json:"agent,omitempty"`
	Rule      *LegacyAlertRule `json:"rule,omitempty"`
}

type LegacyEventMeta struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	Severity string `json:"severity,omitempty"`
}

type LegacyProcess struct {
	EntityID string         `json:"entity_id"`
	Name     string         `json:"name,omitempty"`
	Parent   *LegacyProcRef `json:"parent,omitempty"`
}

type LegacyProcRef struct {
	EntityID string `json:"entity_id"`
}

type LegacyHost struct {
	Name string `json:"name"`
}

type LegacyAgent struct {
	ID string `json:"id"`
}

type LegacyAlertRule struct {
	Name string `json:"name"`
}

// LegacyNode is one process with its lifecycle events.
type LegacyNode struct {
	EntityID  string        `json:"entityID"`
	Lifecycle []LegacyEvent `json:"lifecycle"`
}

// LegacyChildrenResponse is the body of GET /{id}/children.
type LegacyChildrenResponse struct {
	ChildNodes []LegacyNode `json:"childNodes"`
	NextChild  *string      `json:"nextChild"`
}

// LegacyAncestryResponse is the body of GET /{id}/ancestry.
type LegacyAncestryResponse struct {
	Ancestors    []LegacyNode `json:"ancestors"`
	NextAncestor *string      `json:"nextAncestor"`
}

// LegacyCombinedResponse is the body of GET /{id}.
type LegacyCombinedResponse struct {
	EntityID  string                 `json:"entityID"`
	Children  LegacyChildrenResponse `json:"children"`
	Ancestry  LegacyAncestryResponse `json:"ancestry"`
	Lifecycle []LegacyEvent          `json:"lifecycle"`
}

// LegacyAlertsResponse is the body of /{id}/alerts.
type LegacyAlertsResponse struct {
	EntityID  string        `json:"entityID"`
	Alerts    []LegacyEvent `json:"alerts"`
	NextAlert *string       `json:"nextAlert"`
}

// EntityResult is one element of the GET /entity body.
type EntityResult struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Host     string `json:"host,omitempty"`
	ParentID string `json:"parent_entity_id,omitempty"`
}

const legacyTimeFormat = "2006-01-02T15:04:05.000Z"

func legacyTime(t time.Time) string {
	return t.UTC().Format(legacyTimeFormat)
}

// legacyType maps lifecycle kinds to the event.type values older clients
// switch on.
func legacyType(kind string) string {
	switch kind {
	case models.KindStart, models.KindFork, models.KindExec:
		return "start"
	case models.KindEnd:
		return "end"
	}
	return "info"
}

func toLegacyEvent(ev models.Event) LegacyEvent {
	out := LegacyEvent{
		Timestamp: legacyTime(ev.Timestamp),
		Event: LegacyEventMeta{
			ID:       ev.EventID,
			Category: ev.Category,
			Type:     legacyType(ev.Kind),
			Kind:     "event",
		},
		Process: LegacyProcess{EntityID: string(ev.EntityID), Name: ev.Name},
	}
	if ev.ParentEntityID != "" {
		out.Process.Parent = &LegacyProcRef{EntityID: string(ev.ParentEntityID)}
	}
	if ev.Host != "" {
		out.Host = &LegacyHost{Name: ev.Host}
	}
	if ev.AgentID != "" {
		out.Agent = &LegacyAgent{ID: ev.AgentID}
	}
	return out
}

func toLegacyAlert(a models.Alert, entity models.EntityID) LegacyEvent {
	out := LegacyEvent{
		Timestamp: legacyTime(a.Timestamp),
		Event: LegacyEventMeta{
			ID:       a.AlertID,
			Category: "malware",
			Type:     "info",
			Kind:     "alert",
			Severity: a.Severity,
		},
		Process: LegacyProcess{EntityID: string(entity)},
	}
	if a.RuleName != "" {
		out.Rule = &LegacyAlertRule{Name: a.RuleName}
	}
	if a.Host != "" {
		out.Host = &LegacyHost{Name: a.Host}
	}
	if a.AgentID != "" {
		out.Agent = &LegacyAgent{ID: a.AgentID}
	}
	return out
}

func toLegacyLifecycle(events []models.Event) []LegacyEvent {
	out := make([]LegacyEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, toLegacyEvent(ev))
	}
	return out
}

func toLegacyNodes(nodes []models.ProcessNode) []LegacyNode {
	out := make([]LegacyNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, LegacyNode{EntityID: string(n.EntityID), Lifecycle: toLegacyLifecycle(n.Lifecycle)})
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
