package clickhousestore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procresolver/internal/store"
	"procresolver/pkg/models"
)

type recorded struct {
	sql    string
	params url.Values
	header http.Header
}

func newTestReader(t *testing.T, status int, body string) (*Reader, func() recorded) {
	t.Helper()
	var mu sync.Mutex
	var last recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sql, _ := io.ReadAll(req.Body)
		mu.Lock()
		last = recorded{sql: string(sql), params: req.URL.Query(), header: req.Header.Clone()}
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	r, err := NewReader(Config{URL: srv.URL, Database: "db", Username: "reader", Password: "secret"})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, func() recorded {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestLifecycleGroupsRowsByEntity(t *testing.T) {
	body := `{"event_id":"e1","entity_id":"proc:h:a","parent_entity_id":"proc:h:p","category":"process","kind":"start","ts_ms":1706781600000,"host":"h","agent_id":"","name":"a.exe","attributes":{"image":"C:\\a.exe"}}
{"event_id":"e2","entity_id":"proc:h:a","parent_entity_id":"","category":"process","kind":"end","ts_ms":1706781660000,"host":"h","agent_id":"","name":"","attributes":{}}
{"event_id":"e3","entity_id":"proc:h:b","parent_entity_id":"proc:h:a","category":"process","kind":"start","ts_ms":1706781605000,"host":"h","agent_id":"","name":"b.exe","attributes":{}}
`
	r, last := newTestReader(t, http.StatusOK, body)

	got, err := r.Lifecycle(context.Background(), []models.EntityID{"proc:h:a", "proc:h:b", "it's"}, 20)
	require.NoError(t, err)
	require.Len(t, got["proc:h:a"], 2)
	require.Len(t, got["proc:h:b"], 1)
	assert.Equal(t, models.KindStart, got["proc:h:a"][0].Kind)
	assert.Equal(t, time.UnixMilli(1706781600000).UTC(), got["proc:h:a"][0].Timestamp)
	assert.Equal(t, "C:\\a.exe", got["proc:h:a"][0].Attributes["image"])
	assert.Nil(t, got["proc:h:a"][1].Attributes)

	req := last()
	assert.Contains(t, req.sql, "FROM `db`.`process_events`")
	assert.Contains(t, req.sql, "LIMIT {limit:UInt32} BY entity_id")
	assert.Equal(t, `['proc:h:a','proc:h:b','it\'s']`, req.params.Get("param_ids"))
	assert.Equal(t, "20", req.params.Get("param_limit"))
	assert.Equal(t, "JSONEachRow", req.params.Get("default_format"))
	assert.Equal(t, "reader", req.header.Get("X-ClickHouse-User"))
	assert.Equal(t, "secret", req.header.Get("X-ClickHouse-Key"))
}

func TestChildrenBindsCursorAndWindow(t *testing.T) {
	body := `{"entity_id":"proc:h:c2","created":1706781602000}
{"entity_id":"proc:h:c3","created":1706781603000}
`
	r, last := newTestReader(t, http.StatusOK, body)

	after := models.SortKey{Millis: 1706781601000, ID: "proc:h:c1"}
	until := time.UnixMilli(1706785200000)
	got, err := r.Children(context.Background(), store.ChildrenQuery{Parent: "proc:h:p", After: &after, Until: until, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []models.ChildRef{
		{EntityID: "proc:h:c2", Key: models.SortKey{Millis: 1706781602000, ID: "proc:h:c2"}},
		{EntityID: "proc:h:c3", Key: models.SortKey{Millis: 1706781603000, ID: "proc:h:c3"}},
	}, got)

	assert.Contains(t, last().sql, "argMin(parent_entity_id, (ts, event_id)) AS linked_parent")
	assert.Contains(t, last().sql, "HAVING linked_parent = {parent:String}")
	p := last().params
	assert.Equal(t, "proc:h:p", p.Get("param_parent"))
	assert.Equal(t, "1706781601000", p.Get("param_after_ms"))
	assert.Equal(t, "proc:h:c1", p.Get("param_after_id"))
	assert.Equal(t, "1706785200000", p.Get("param_until"))
	assert.Equal(t, "-9223372036854775808", p.Get("param_since"))
	assert.Equal(t, "2", p.Get("param_limit"))
}

func TestAlertsDecodeRows(t *testing.T) {
	body := `{"alert_id":"a1","entity_ids":["proc:h:b","proc:h:a","proc:h:b"],"ts_ms":1706781600000,"rule_name":"r","severity":"high","score":70,"host":"h","agent_id":""}
`
	r, last := newTestReader(t, http.StatusOK, body)

	got, err := r.Alerts(context.Background(), store.RangeQuery{EntityID: "proc:h:a", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []models.EntityID{"proc:h:a", "proc:h:b"}, got[0].EntityIDs)
	assert.Equal(t, 70, got[0].Score)
	assert.True(t, strings.Contains(last().sql, "FROM `db`.`alerts`"))
	assert.Equal(t, "proc:h:a", last().params.Get("param_id"))
}

func TestQueryFailures(t *testing.T) {
	r, _ := newTestReader(t, http.StatusInternalServerError, "Code: 60. DB::Exception: Table does not exist")
	_, err := r.Events(context.Background(), store.RangeQuery{EntityID: "proc:h:a", Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Table does not exist")

	_, err = r.Events(context.Background(), store.RangeQuery{EntityID: "proc:h:a"})
	assert.ErrorIs(t, err, store.ErrUnbounded)

	bad, _ := newTestReader(t, http.StatusOK, "{not json}\n")
	_, err = bad.Events(context.Background(), store.RangeQuery{EntityID: "proc:h:a", Limit: 10})
	assert.ErrorContains(t, err, "decode clickhouse row")

	_, err = NewReader(Config{})
	assert.Error(t, err)
}
