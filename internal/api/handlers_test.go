package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procresolver/internal/compat"
	"procresolver/internal/resolver"
	"procresolver/internal/store/memstore"
	"procresolver/pkg/models"
)

const basePath = "/api/endpoint/resolver"

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func ent(name string) models.EntityID {
	return models.NewEntityID("srv-1", name)
}

func testStore() *memstore.Store {
	st := memstore.New()
	add := func(name, parent string, sec int) {
		ev := models.Event{
			EventID: "s-" + name, EntityID: ent(name), Category: models.CategoryProcess,
			Kind: models.KindStart, Timestamp: t0.Add(time.Duration(sec) * time.Second), Name: name,
		}
		if parent != "" {
			ev.ParentEntityID = ent(parent)
		}
		st.AddEvents(ev)
	}
	add("init", "", 0)
	add("sshd", "init", 1)
	add("bash", "sshd", 2)
	add("curl", "bash", 3)
	return st
}

func setupRouter(t *testing.T, st *memstore.Store, alerts bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	res := resolver.New(st, resolver.Config{CursorSecret: []byte("api-test")})
	dispatcher := compat.NewDispatcher(res, compat.Config{
		ChildrenPageSize: 10, Generations: 3, AlertsPageSize: 100, AlertsEnabled: alerts,
	})
	handlers := NewHandlers(dispatcher, Limits{DefaultPageSize: 100, DefaultGenerations: 10})
	return NewRouter(RouterConfig{AuthHeader: "X-Authenticated-User", MetricsEnabled: true}, handlers)
}

func do(router *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Authenticated-User", "analyst")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestTreeNegativeLimitRejectedWithoutStoreAccess(t *testing.T) {
	st := testStore()
	router := setupRouter(t, st, true)

	w := do(router, http.MethodPost, basePath+"/tree?limit=-1", gin.H{"nodes": []string{string(ent("bash"))}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, CodeValidation, resp.Code)
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "limit", resp.Fields[0].Field)
	assert.Zero(t, st.Calls())
}

func TestTreeValidation(t *testing.T) {
	st := testStore()
	router := setupRouter(t, st, true)

	tests := []struct {
		name   string
		query  string
		body   any
		fields []string
	}{
		{"missing nodes", "", gin.H{}, []string{"nodes"}},
		{"empty nodes", "", gin.H{"nodes": []string{}}, []string{"nodes"}},
		{"bad entity id", "", gin.H{"nodes": []string{"has space"}}, []string{"nodes[0]"}},
		{"limit too large", "?limit=1001", gin.H{"nodes": []string{"a"}}, []string{"limit"}},
		{"limit not a number", "?limit=ten", gin.H{"nodes": []string{"a"}}, []string{"limit"}},
		{"generations too large", "?generations=101", gin.H{"nodes": []string{"a"}}, []string{"generations"}},
		{"inverted time range", "", gin.H{
			"nodes":     []string{"a"},
			"timeRange": gin.H{"from": t0.Format(time.RFC3339), "to": t0.Add(-time.Hour).Format(time.RFC3339)},
		}, []string{"timeRange.to"}},
		{"not json", "", "[", []string{"body"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, basePath+"/tree"+tt.query, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := decodeError(t, w)
			var got []string
			for _, f := range resp.Fields {
				got = append(got, f.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
	assert.Zero(t, st.Calls())
}

func TestConfiguredLimits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := testStore()
	res := resolver.New(st, resolver.Config{CursorSecret: []byte("api-test")})
	dispatcher := compat.NewDispatcher(res, compat.Config{ChildrenPageSize: 10, Generations: 3})
	handlers := NewHandlers(dispatcher, Limits{DefaultPageSize: 100, DefaultGenerations: 0, MaxPageSize: 50, MaxGenerations: 2})
	router := NewRouter(RouterConfig{AuthHeader: "X-Authenticated-User"}, handlers)
	body := gin.H{"nodes": []string{string(ent("bash"))}}

	w := do(router, http.MethodPost, basePath+"/tree?limit=51&generations=3", body)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, []FieldError{
		{Field: "limit", Message: "must be at most 50"},
		{Field: "generations", Message: "must be at most 2"},
	}, decodeError(t, w).Fields)
	assert.Zero(t, st.Calls())

	// The default page size is capped at the maximum and zero generations
	// stays zero.
	w = do(router, http.MethodPost, basePath+"/tree", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp compat.TreeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Nodes, 2)
	require.NotEmpty(t, resp.Boundaries)
	assert.Equal(t, resolver.BoundaryGenerationLimit, resp.Boundaries[0].Kind)
}

func TestTreeSuccess(t *testing.T) {
	router := setupRouter(t, testStore(), true)

	w := do(router, http.MethodPost, basePath+"/tree?generations=5&limit=10", gin.H{
		"nodes": []string{string(ent("bash")), string(ent("ghost"))},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp compat.TreeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Nodes, 4)
	assert.Nil(t, resp.NextCursor)
	require.Len(t, resp.Boundaries, 1)
	assert.Equal(t, resolver.BoundaryRootNotFound, resp.Boundaries[0].Kind)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestTreeInvalidCursor(t *testing.T) {
	router := setupRouter(t, testStore(), true)

	w := do(router, http.MethodPost, basePath+"/tree?cursor=forged", gin.H{"nodes": []string{string(ent("init"))}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "cursor", resp.Fields[0].Field)
}

func TestEventsPagination(t *testing.T) {
	router := setupRouter(t, testStore(), true)
	body := gin.H{"entityIDs": []string{string(ent("bash")), string(ent("curl"))}}

	w := do(router, http.MethodPost, basePath+"/events?limit=1", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first compat.EventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Len(t, first.Events, 1)
	require.NotNil(t, first.NextCursor)

	w = do(router, http.MethodPost, basePath+"/events?limit=1&cursor="+url.QueryEscape(*first.NextCursor), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second compat.EventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	require.Len(t, second.Events, 1)
	assert.Nil(t, second.NextCursor)
	assert.NotEqual(t, first.Events[0].EventID, second.Events[0].EventID)
}

func TestUnauthenticated(t *testing.T) {
	st := testStore()
	router := setupRouter(t, st, true)

	req := httptest.NewRequest(http.MethodGet, basePath+"/"+string(ent("bash"))+"/ancestry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeUnauthenticated, decodeError(t, w).Code)
	assert.Zero(t, st.Calls())
}

func TestLegacyRoutes(t *testing.T) {
	router := setupRouter(t, testStore(), true)
	id := string(ent("sshd"))

	w := do(router, http.MethodGet, basePath+"/"+id+"/children", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var children compat.LegacyChildrenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &children))
	assert.Len(t, children.ChildNodes, 2)
	assert.Contains(t, w.Body.String(), `"nextChild":null`)

	w = do(router, http.MethodGet, basePath+"/"+id+"/ancestry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"nextAncestor":null`)

	w = do(router, http.MethodGet, basePath+"/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var combined compat.LegacyCombinedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &combined))
	assert.Equal(t, id, combined.EntityID)
	assert.Len(t, combined.Ancestry.Ancestors, 1)

	w = do(router, http.MethodGet, basePath+"/entity?_id="+url.QueryEscape(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"entity_id":"`+id+`","name":"sshd","parent_entity_id":"`+string(ent("init"))+`"}]`, w.Body.String())

	w = do(router, http.MethodPost, basePath+"/"+id+"/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"alerts":[]`)
}

func TestLegacyErrors(t *testing.T) {
	st := testStore()
	router := setupRouter(t, st, false)

	for _, path := range []string{"/children", "/ancestry", ""} {
		w := do(router, http.MethodGet, basePath+"/"+string(ent("nobody"))+path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, CodeNotFound, decodeError(t, w).Code)
	}

	w := do(router, http.MethodGet, basePath+"/entity", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "_id", decodeError(t, w).Fields[0].Field)

	w = do(router, http.MethodGet, basePath+"/"+string(ent("bash"))+"/alerts", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeDisabled, decodeError(t, w).Code)

	w = do(router, http.MethodGet, basePath+"/"+string(ent("bash"))+"/children?afterChild=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "afterChild", decodeError(t, w).Fields[0].Field)

	st.FailOn("lifecycle", ent("bash"), errors.New("connection refused"))
	w = do(router, http.MethodGet, basePath+"/"+string(ent("bash"))+"/ancestry", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, CodeStoreUnavailable, decodeError(t, w).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := setupRouter(t, testStore(), true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "procresolver_http_requests_total")
}
