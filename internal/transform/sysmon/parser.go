// Package sysmon decodes winlogbeat Sysmon documents.
package sysmon

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"procresolver/internal/logger"
	"procresolver/pkg/models"
)

var log = logger.Named("sysmon")

// utcLayouts are the UtcTime renderings seen across Sysmon versions.
var utcLayouts = []string{
	"2006-01-02 15:04:05.000000000",
	"2006-01-02 15:04:05.0000000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// doc is a decoded JSON object addressed by dotted paths.
type doc map[string]interface{}

// Parse converts a winlogbeat Sysmon document into a RawEvent. The event
// time comes from event_data.UtcTime when present, else @timestamp.
func Parse(data []byte) (*models.RawEvent, error) {
	var root doc
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode sysmon document: %w", err)
	}

	ev := &models.RawEvent{
		EventID:  root.int("winlog.event_id", "event.code", "event_id"),
		AgentID:  root.str("agent.id", "agent_id"),
		Hostname: root.str("host.name", "host.hostname", "hostname"),
		Channel:  root.str("winlog.channel"),
		RecordID: root.str("winlog.record_id", "record_id"),
		Fields:   map[string]interface{}{},
	}
	if ts, ok := parseTime(root.str("@timestamp")); ok {
		ev.Timestamp = ts
	}
	if v, ok := root.lookup("winlog.event_data"); ok {
		if m, ok := v.(map[string]interface{}); ok {
			ev.Fields = m
		}
	}
	if ts, ok := parseTime(ev.Field("UtcTime")); ok {
		ev.Timestamp = ts
	}

	if ev.EventID == 0 {
		return nil, fmt.Errorf("sysmon document without event id")
	}
	if len(ev.Fields) == 0 {
		log.Warnf("Missing winlog.event_data (event_id=%d, record_id=%s)", ev.EventID, ev.RecordID)
	}
	return ev, nil
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range utcLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (d doc) lookup(path string) (interface{}, bool) {
	var current interface{} = map[string]interface{}(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

func (d doc) str(paths ...string) string {
	for _, p := range paths {
		if v, ok := d.lookup(p); ok {
			if s := models.Stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func (d doc) int(paths ...string) int {
	for _, p := range paths {
		v, ok := d.lookup(p)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			return int(val)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				return n
			}
		}
	}
	return 0
}
