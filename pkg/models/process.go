package models

import (
	"sort"
	"time"
)

// LifecycleState is derived from the lifecycle events observed for a process.
type LifecycleState string

const (
	StateCreated    LifecycleState = "created"
	StateRunning    LifecycleState = "running"
	StateTerminated LifecycleState = "terminated"
)

// ProcessNode is one resolved process instance.
type ProcessNode struct {
	EntityID       EntityID          `json:"entityID"`
	ParentEntityID EntityID          `json:"parentEntityID,omitempty"`
	Name           string            `json:"name,omitempty"`
	Host           string            `json:"host,omitempty"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	EndedAt        *time.Time        `json:"endedAt,omitempty"`
	State          LifecycleState    `json:"lifecycleState,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Lifecycle holds the events the node was folded from, oldest first.
	Lifecycle []Event `json:"-"`
}

// ChildRef points at a child process in creation order.
type ChildRef struct {
	EntityID EntityID
	Key      SortKey
}

// BuildNode folds lifecycle events into a node. Identity and parent linkage
// come from the earliest creation event and never change afterwards; display
// attributes follow the latest event that carries them. It returns false when
// no lifecycle event for id is present.
func BuildNode(id EntityID, events []Event) (ProcessNode, bool) {
	lifecycle := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.EntityID == id && ev.IsLifecycle() {
			lifecycle = append(lifecycle, ev)
		}
	}
	if len(lifecycle) == 0 {
		return ProcessNode{}, false
	}
	sort.SliceStable(lifecycle, func(i, j int) bool {
		return lifecycle[i].Key().Less(lifecycle[j].Key())
	})

	node := ProcessNode{EntityID: id, Lifecycle: lifecycle}
	linked := false
	var sawFork, sawRunning, sawEnd bool
	for _, ev := range lifecycle {
		if ev.IsCreation() && !linked {
			node.ParentEntityID = ev.ParentEntityID
			ts := ev.Timestamp.UTC()
			node.StartedAt = &ts
			linked = true
		}
		if !linked && node.ParentEntityID == "" {
			node.ParentEntityID = ev.ParentEntityID
		}
		if ev.Name != "" {
			node.Name = ev.Name
		}
		if ev.Host != "" {
			node.Host = ev.Host
		}
		for k, v := range ev.Attributes {
			if node.Metadata == nil {
				node.Metadata = make(map[string]string, len(ev.Attributes))
			}
			node.Metadata[k] = v
		}
		switch ev.Kind {
		case KindFork:
			sawFork = true
		case KindStart, KindExec, KindAlreadyRunning:
			sawRunning = true
		case KindEnd:
			sawEnd = true
			ts := ev.Timestamp.UTC()
			node.EndedAt = &ts
		}
	}

	switch {
	case sawEnd:
		node.State = StateTerminated
	case sawRunning:
		node.State = StateRunning
	case sawFork:
		node.State = StateCreated
	}
	return node, true
}
