// Package clickhousestore reads the process event log from ClickHouse over
// its HTTP interface.
//
// Expected tables:
//
//	process_events(event_id String, entity_id String, parent_entity_id String,
//	    category LowCardinality(String), kind LowCardinality(String),
//	    ts DateTime64(3, 'UTC'), host String, agent_id String, name String,
//	    attributes Map(String, String))
//	alerts(alert_id String, entity_ids Array(String), ts DateTime64(3, 'UTC'),
//	    rule_name String, severity String, score Int32, host String, agent_id String)
package clickhousestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"procresolver/internal/store"
	"procresolver/pkg/models"
)

// Config configures the ClickHouse HTTP reader.
type Config struct {
	URL         string
	Database    string
	EventsTable string
	AlertsTable string
	Username    string
	Password    string
	Timeout     time.Duration
	Headers     map[string]string
}

// Reader implements store.Reader with parameterized SELECTs.
type Reader struct {
	base    string
	events  string
	alerts  string
	headers map[string]string
	client  *http.Client
}

// NewReader creates a ClickHouse HTTP reader.
func NewReader(cfg Config) (*Reader, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.EventsTable == "" {
		cfg.EventsTable = "process_events"
	}
	if cfg.AlertsTable == "" {
		cfg.AlertsTable = "alerts"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Reader{
		base:    strings.TrimRight(cfg.URL, "/") + "/",
		events:  quoteIdent(cfg.Database) + "." + quoteIdent(cfg.EventsTable),
		alerts:  quoteIdent(cfg.Database) + "." + quoteIdent(cfg.AlertsTable),
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type eventRow struct {
	EventID        string            `json:"event_id"`
	EntityID       string            `json:"entity_id"`
	ParentEntityID string            `json:"parent_entity_id"`
	Category       string            `json:"category"`
	Kind           string            `json:"kind"`
	TsMs           int64             `json:"ts_ms"`
	Host           string            `json:"host"`
	AgentID        string            `json:"agent_id"`
	Name           string            `json:"name"`
	Attributes     map[string]string `json:"attributes"`
}

func (r eventRow) event() models.Event {
	ev := models.Event{
		EventID:        r.EventID,
		EntityID:       models.EntityID(r.EntityID),
		ParentEntityID: models.EntityID(r.ParentEntityID),
		Category:       r.Category,
		Kind:           r.Kind,
		Timestamp:      time.UnixMilli(r.TsMs).UTC(),
		Host:           r.Host,
		AgentID:        r.AgentID,
		Name:           r.Name,
	}
	if len(r.Attributes) > 0 {
		ev.Attributes = r.Attributes
	}
	return ev
}

type childRow struct {
	EntityID string `json:"entity_id"`
	Created  int64  `json:"created"`
}

type alertRow struct {
	AlertID   string   `json:"alert_id"`
	EntityIDs []string `json:"entity_ids"`
	TsMs      int64    `json:"ts_ms"`
	RuleName  string   `json:"rule_name"`
	Severity  string   `json:"severity"`
	Score     int      `json:"score"`
	Host      string   `json:"host"`
	AgentID   string   `json:"agent_id"`
}

const eventColumns = "event_id, entity_id, parent_entity_id, category, kind, toUnixTimestamp64Milli(ts) AS ts_ms, host, agent_id, name, attributes"

// Lifecycle implements store.Reader.
func (r *Reader) Lifecycle(ctx context.Context, ids []models.EntityID, limit int) (map[models.EntityID][]models.Event, error) {
	if limit <= 0 {
		return nil, store.ErrUnbounded
	}
	out := make(map[models.EntityID][]models.Event, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := "SELECT " + eventColumns + " FROM " + r.events +
		" WHERE entity_id IN {ids:Array(String)} AND category = 'process'" +
		" ORDER BY entity_id, ts_ms, event_id LIMIT {limit:UInt32} BY entity_id"
	params := url.Values{}
	params.Set("param_ids", arrayParam(ids))
	params.Set("param_limit", strconv.Itoa(limit))

	err := r.query(ctx, q, params, func(dec *json.Decoder) error {
		var row eventRow
		if err := dec.Decode(&row); err != nil {
			return err
		}
		ev := row.event()
		out[ev.EntityID] = append(out[ev.EntityID], ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Children implements store.Reader. A child belongs to the parent of its
// earliest creation event and is keyed by that event's time, matching how the
// Redis index links it.
func (r *Reader) Children(ctx context.Context, q store.ChildrenQuery) ([]models.ChildRef, error) {
	if q.Limit <= 0 {
		return nil, store.ErrUnbounded
	}
	sql := "SELECT entity_id, min(toUnixTimestamp64Milli(ts)) AS created," +
		" argMin(parent_entity_id, (ts, event_id)) AS linked_parent FROM " + r.events +
		" WHERE category = 'process' AND kind IN ('start', 'fork', 'exec', 'already_running')" +
		" AND parent_entity_id != ''" +
		" AND entity_id IN (SELECT entity_id FROM " + r.events + " WHERE parent_entity_id = {parent:String})" +
		" GROUP BY entity_id" +
		" HAVING linked_parent = {parent:String}" +
		" AND created >= {since:Int64} AND created <= {until:Int64}" +
		" AND (created, entity_id) > ({after_ms:Int64}, {after_id:String})" +
		" ORDER BY created, entity_id LIMIT {limit:UInt32}"
	params := url.Values{}
	params.Set("param_parent", string(q.Parent))
	setWindow(params, "since", "until", q.Since, q.Until)
	setAfter(params, q.After)
	params.Set("param_limit", strconv.Itoa(q.Limit))

	var out []models.ChildRef
	err := r.query(ctx, sql, params, func(dec *json.Decoder) error {
		var row childRow
		if err := dec.Decode(&row); err != nil {
			return err
		}
		out = append(out, models.ChildRef{
			EntityID: models.EntityID(row.EntityID),
			Key:      models.SortKey{Millis: row.Created, ID: row.EntityID},
		})
		return nil
	})
	return out, err
}

// Events implements store.Reader.
func (r *Reader) Events(ctx context.Context, q store.RangeQuery) ([]models.Event, error) {
	if q.Limit <= 0 {
		return nil, store.ErrUnbounded
	}
	sql := "SELECT " + eventColumns + " FROM " + r.events +
		" WHERE entity_id = {id:String}" +
		" AND ts_ms >= {from:Int64} AND ts_ms <= {to:Int64}" +
		" AND (ts_ms, event_id) > ({after_ms:Int64}, {after_id:String})" +
		" ORDER BY ts_ms, event_id LIMIT {limit:UInt32}"
	params := rangeParams(q)

	var out []models.Event
	err := r.query(ctx, sql, params, func(dec *json.Decoder) error {
		var row eventRow
		if err := dec.Decode(&row); err != nil {
			return err
		}
		out = append(out, row.event())
		return nil
	})
	return out, err
}

// Alerts implements store.Reader.
func (r *Reader) Alerts(ctx context.Context, q store.RangeQuery) ([]models.Alert, error) {
	if q.Limit <= 0 {
		return nil, store.ErrUnbounded
	}
	sql := "SELECT alert_id, entity_ids, toUnixTimestamp64Milli(ts) AS ts_ms, rule_name, severity, score, host, agent_id FROM " + r.alerts +
		" WHERE has(entity_ids, {id:String})" +
		" AND ts_ms >= {from:Int64} AND ts_ms <= {to:Int64}" +
		" AND (ts_ms, alert_id) > ({after_ms:Int64}, {after_id:String})" +
		" ORDER BY ts_ms, alert_id LIMIT {limit:UInt32}"
	params := rangeParams(q)

	var out []models.Alert
	err := r.query(ctx, sql, params, func(dec *json.Decoder) error {
		var row alertRow
		if err := dec.Decode(&row); err != nil {
			return err
		}
		ids := make([]models.EntityID, 0, len(row.EntityIDs))
		for _, id := range row.EntityIDs {
			ids = append(ids, models.EntityID(id))
		}
		out = append(out, models.Alert{
			AlertID:   row.AlertID,
			EntityIDs: models.UniqueSorted(ids),
			Timestamp: time.UnixMilli(row.TsMs).UTC(),
			RuleName:  row.RuleName,
			Severity:  row.Severity,
			Score:     row.Score,
			Host:      row.Host,
			AgentID:   row.AgentID,
		})
		return nil
	})
	return out, err
}

// Close releases resources.
func (r *Reader) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// query posts sql and hands each JSONEachRow line to row.
func (r *Reader) query(ctx context.Context, sql string, params url.Values, row func(*json.Decoder) error) error {
	params.Set("default_format", "JSONEachRow")
	params.Set("output_format_json_quote_64bit_integers", "0")
	params.Set("readonly", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"?"+params.Encode(), strings.NewReader(sql))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(bufio.NewReader(resp.Body))
	for dec.More() {
		if err := row(dec); err != nil {
			return fmt.Errorf("decode clickhouse row: %w", err)
		}
	}
	return nil
}

func rangeParams(q store.RangeQuery) url.Values {
	params := url.Values{}
	params.Set("param_id", string(q.EntityID))
	setWindow(params, "from", "to", q.From, q.To)
	setAfter(params, q.After)
	params.Set("param_limit", strconv.Itoa(q.Limit))
	return params
}

// setWindow binds zero bounds to the full Int64 range.
func setWindow(params url.Values, lo, hi string, from, to time.Time) {
	var loMs, hiMs int64 = math.MinInt64, math.MaxInt64
	if !from.IsZero() {
		loMs = from.UnixMilli()
	}
	if !to.IsZero() {
		hiMs = to.UnixMilli()
	}
	params.Set("param_"+lo, strconv.FormatInt(loMs, 10))
	params.Set("param_"+hi, strconv.FormatInt(hiMs, 10))
}

func setAfter(params url.Values, after *models.SortKey) {
	if after == nil {
		params.Set("param_after_ms", strconv.FormatInt(math.MinInt64, 10))
		params.Set("param_after_id", "")
		return
	}
	params.Set("param_after_ms", strconv.FormatInt(after.Millis, 10))
	params.Set("param_after_id", after.ID)
}

// arrayParam renders ids as a ClickHouse Array(String) literal.
func arrayParam(ids []models.EntityID) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('\'')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(string(id)))
		b.WriteByte('\'')
	}
	b.WriteByte(']')
	return b.String()
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
