// Package lifecycle maps Sysmon records onto per-process events.
package lifecycle

import (
	"fmt"
	"path"
	"strings"

	"procresolver/internal/logger"
	"procresolver/pkg/models"
)

var log = logger.Named("lifecycle")

// Sysmon event ids the mapper understands.
const (
	sysmonProcessCreate    = 1
	sysmonNetworkConnect   = 3
	sysmonProcessTerminate = 5
	sysmonImageLoad        = 7
	sysmonRemoteThread     = 8
	sysmonProcessAccess    = 10
	sysmonFileCreate       = 11
	sysmonDNSQuery         = 22
)

// Mapper converts Sysmon records into events keyed by process entity id.
type Mapper struct {
	// KeepFields copies the full event_data into event attributes.
	keepFields bool
}

// MapperOptions controls mapper output size.
type MapperOptions struct {
	KeepFields bool
}

// NewMapper creates a mapper.
func NewMapper(opts MapperOptions) *Mapper {
	return &Mapper{keepFields: opts.KeepFields}
}

// Map converts one record. Records the resolver has no use for, or that lack
// a time or a process GUID, yield nil.
func (m *Mapper) Map(raw *models.RawEvent) []models.Event {
	if raw == nil {
		return nil
	}
	if raw.Timestamp.IsZero() {
		log.Errorf("Skipping event without valid UtcTime (event_id=%d, record_id=%s, host=%s)", raw.EventID, raw.RecordID, raw.Hostname)
		return nil
	}

	var ev *models.Event
	switch raw.EventID {
	case sysmonProcessCreate:
		ev = m.processCreate(raw)
	case sysmonProcessTerminate:
		ev = m.activity(raw, "ProcessGuid", models.CategoryProcess, models.KindEnd, nil)
	case sysmonNetworkConnect:
		ev = m.activity(raw, "ProcessGuid", models.CategoryNetwork, "connect", map[string]string{
			"destination_ip":   raw.FirstField("DestinationIp", "DestinationIP"),
			"destination_port": raw.Field("DestinationPort"),
			"protocol":         raw.Field("Protocol"),
		})
	case sysmonImageLoad:
		ev = m.activity(raw, "ProcessGuid", models.CategoryImage, "load", map[string]string{
			"image_loaded": raw.FirstField("ImageLoaded", "Image"),
		})
	case sysmonRemoteThread:
		ev = m.activity(raw, "SourceProcessGuid", models.CategoryAccess, "remote_thread", m.target(raw))
	case sysmonProcessAccess:
		ev = m.activity(raw, "SourceProcessGuid", models.CategoryAccess, "open", m.target(raw))
	case sysmonFileCreate:
		ev = m.activity(raw, "ProcessGuid", models.CategoryFile, "create", map[string]string{
			"target_filename": raw.FirstField("TargetFilename", "TargetFileName"),
		})
	case sysmonDNSQuery:
		ev = m.activity(raw, "ProcessGuid", models.CategoryDNS, "query", map[string]string{
			"query_name":    raw.FirstField("QueryName", "Query"),
			"query_results": raw.Field("QueryResults"),
		})
	}
	if ev == nil {
		return nil
	}
	return []models.Event{*ev}
}

func (m *Mapper) processCreate(raw *models.RawEvent) *models.Event {
	ev := m.activity(raw, "ProcessGuid", models.CategoryProcess, models.KindStart, map[string]string{
		"image":        raw.Field("Image"),
		"command_line": raw.Field("CommandLine"),
		"process_id":   raw.Field("ProcessId"),
		"user":         raw.Field("User"),
	})
	if ev == nil {
		return nil
	}
	if image := raw.Field("Image"); image != "" {
		ev.Name = imageName(image)
	}
	ev.ParentEntityID = models.NewEntityID(raw.Namespace(), raw.Field("ParentProcessGuid"))
	return ev
}

func (m *Mapper) activity(raw *models.RawEvent, guidField, category, kind string, attrs map[string]string) *models.Event {
	entity := models.NewEntityID(raw.Namespace(), raw.Field(guidField))
	if entity == "" {
		return nil
	}
	ev := &models.Event{
		EventID:    eventID(raw, entity),
		EntityID:   entity,
		Category:   category,
		Kind:       kind,
		Timestamp:  raw.Timestamp.UTC(),
		Host:       raw.Hostname,
		AgentID:    raw.AgentID,
		Attributes: compact(attrs),
	}
	if m.keepFields {
		if ev.Attributes == nil {
			ev.Attributes = make(map[string]string, len(raw.Fields))
		}
		for k, v := range raw.Fields {
			if _, ok := ev.Attributes[k]; !ok {
				ev.Attributes[k] = models.Stringify(v)
			}
		}
	}
	return ev
}

func (m *Mapper) target(raw *models.RawEvent) map[string]string {
	return map[string]string{
		"target_entity_id": string(models.NewEntityID(raw.Namespace(), raw.Field("TargetProcessGuid"))),
		"target_image":     raw.Field("TargetImage"),
		"granted_access":   raw.Field("GrantedAccess"),
	}
}

// eventID is unique per host and record; records without a record id fall
// back to time and entity.
func eventID(raw *models.RawEvent, entity models.EntityID) string {
	ns := strings.ToLower(raw.Namespace())
	if raw.RecordID != "" {
		return fmt.Sprintf("%s:%s:%d", ns, raw.RecordID, raw.EventID)
	}
	return fmt.Sprintf("%s:%d:%d:%s", ns, raw.Timestamp.UnixNano(), raw.EventID, entity)
}

func imageName(image string) string {
	return path.Base(strings.ReplaceAll(image, `\`, "/"))
}

func compact(attrs map[string]string) map[string]string {
	for k, v := range attrs {
		if strings.TrimSpace(v) == "" {
			delete(attrs, k)
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
