package models

import "time"

// Event categories.
const (
	CategoryProcess = "process"
	CategoryNetwork = "network"
	CategoryFile    = "file"
	CategoryDNS     = "dns"
	CategoryImage   = "image"
	CategoryAccess  = "access"
)

// Process lifecycle kinds.
const (
	KindStart          = "start"
	KindFork           = "fork"
	KindExec           = "exec"
	KindAlreadyRunning = "already_running"
	KindEnd            = "end"
)

// Event is an immutable record tied to exactly one process entity.
type Event struct {
	EventID        string            `json:"event_id"`
	EntityID       EntityID          `json:"entity_id"`
	ParentEntityID EntityID          `json:"parent_entity_id,omitempty"`
	Category       string            `json:"category"`
	Kind           string            `json:"kind"`
	Timestamp      time.Time         `json:"@timestamp"`
	Host           string            `json:"host,omitempty"`
	AgentID        string            `json:"agent_id,omitempty"`
	Name           string            `json:"name,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// Key orders events by time then event id.
func (e Event) Key() SortKey {
	return KeyFor(e.Timestamp, e.EventID)
}

// IsLifecycle reports whether the event describes the process itself.
func (e Event) IsLifecycle() bool {
	return e.Category == CategoryProcess
}

// IsCreation reports whether the event establishes identity and parent linkage.
func (e Event) IsCreation() bool {
	if !e.IsLifecycle() {
		return false
	}
	switch e.Kind {
	case KindStart, KindFork, KindExec, KindAlreadyRunning:
		return true
	}
	return false
}
