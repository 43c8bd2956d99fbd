package models

import (
	"fmt"
	"time"
)

// RawEvent is a normalized Sysmon record as read from winlogbeat output.
type RawEvent struct {
	Timestamp time.Time              `json:"@timestamp"`
	EventID   int                    `json:"event_id"`
	AgentID   string                 `json:"agent_id"`
	Hostname  string                 `json:"hostname"`
	Channel   string                 `json:"channel,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Fields    map[string]interface{} `json:"fields"`
}

// Field returns a field value rendered as a string.
func (e *RawEvent) Field(name string) string {
	if e == nil || e.Fields == nil {
		return ""
	}
	v, ok := e.Fields[name]
	if !ok {
		return ""
	}
	return Stringify(v)
}

// FirstField returns the first non-empty field among names.
func (e *RawEvent) FirstField(names ...string) string {
	for _, name := range names {
		if v := e.Field(name); v != "" {
			return v
		}
	}
	return ""
}

// Namespace is the host name, falling back to the agent id.
func (e *RawEvent) Namespace() string {
	if e.Hostname != "" {
		return e.Hostname
	}
	return e.AgentID
}

// Stringify renders scalar JSON values the way Sysmon fields are compared.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%f", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
