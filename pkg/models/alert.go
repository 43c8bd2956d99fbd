package models

import "time"

// IoaTag is a detection rule annotation carried by an alert.
type IoaTag struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Tactic    string `json:"tactic,omitempty"`
	Technique string `json:"technique,omitempty"`
}

// Alert is a detection produced elsewhere and referencing one or more processes.
type Alert struct {
	AlertID   string     `json:"alert_id"`
	EntityIDs []EntityID `json:"entity_ids"`
	Timestamp time.Time  `json:"@timestamp"`
	RuleName  string     `json:"rule_name,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	Score     int        `json:"score,omitempty"`
	Host      string     `json:"host,omitempty"`
	AgentID   string     `json:"agent_id,omitempty"`
	IoaTags   []IoaTag   `json:"ioa_tags,omitempty"`
}

// Key orders alerts by time then alert id.
func (a Alert) Key() SortKey {
	return KeyFor(a.Timestamp, a.AlertID)
}
