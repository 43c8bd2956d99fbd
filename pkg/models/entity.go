package models

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxEntityIDLength bounds the size of an entity identifier in bytes.
const MaxEntityIDLength = 256

// EntityID identifies one process instance. It is opaque to the resolver;
// ids minted by ingest follow proc:<namespace>:<guid>.
type EntityID string

// NewEntityID builds the identifier for a process GUID observed on a host or agent.
func NewEntityID(namespace, guid string) EntityID {
	namespace = strings.TrimSpace(namespace)
	guid = strings.TrimSpace(guid)
	if namespace == "" || guid == "" {
		return ""
	}
	return EntityID(fmt.Sprintf("proc:%s:%s", strings.ToLower(namespace), strings.ToLower(strings.Trim(guid, "{}"))))
}

// Namespace returns the host/agent part of ids minted by NewEntityID, or "".
func (id EntityID) Namespace() string {
	parts := strings.SplitN(string(id), ":", 3)
	if len(parts) != 3 || parts[0] != "proc" {
		return ""
	}
	return parts[1]
}

func (id EntityID) String() string {
	return string(id)
}

// Validate reports whether id can be used as a store key.
func (id EntityID) Validate() error {
	if id == "" {
		return fmt.Errorf("entity id is empty")
	}
	if len(id) > MaxEntityIDLength {
		return fmt.Errorf("entity id exceeds %d bytes", MaxEntityIDLength)
	}
	for _, r := range string(id) {
		if r == '|' {
			return fmt.Errorf("entity id contains reserved character '|'")
		}
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("entity id contains whitespace or control characters")
		}
	}
	return nil
}

// UniqueSorted returns ids without duplicates in ascending order.
func UniqueSorted(ids []EntityID) []EntityID {
	seen := make(map[EntityID]struct{}, len(ids))
	out := make([]EntityID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}
