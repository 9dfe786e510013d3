package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	"github.com/therealutkarshpriyadarshi/ann/pkg/api/rest/middleware"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/ann/pkg/tenant"
)

const testSecret = "rest-test-secret-0123"

type testEnv struct {
	server  *Server
	handler http.Handler
	dataDir string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	dataDir := t.TempDir()
	tenants := tenant.NewManager(tenant.Options{CacheCapacity: 16, Metrics: metrics})
	svc := api.NewService(tenants, dataDir, api.Defaults{
		Spec:  tenant.Spec{Metric: "l2", Dimension: 3, Threads: 2, MaxNodes: 1000},
		Quota: tenant.UnlimitedQuota(),
	}, nil)

	srv := NewServer(cfg, svc, WithMetrics(metrics, reg))
	t.Cleanup(func() { _ = tenants.Close() })
	return &testEnv{server: srv, handler: srv.Handler(), dataDir: dataDir}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v), rec.Body.String())
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health api.HealthResponse
	decodeBody(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Indexes)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = env.do(t, http.MethodGet, "/v1/health", "", middleware.RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get(middleware.RequestIDHeader))
}

func TestServer_IndexLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/indexes/docs", `{"metric":"cosine"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var st tenant.Stats
	decodeBody(t, rec, &st)
	assert.Equal(t, "docs", st.Namespace)
	assert.Equal(t, "cosine", st.Index.Metric)
	assert.Equal(t, 3, st.Index.Dimension)

	rec = env.do(t, http.MethodPost, "/v1/indexes/docs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/indexes/docs/vectors",
		`{"vectors":[[1,0,0],[0,1,0],[0,0,1],[1,1,0]]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ins api.InsertResponse
	decodeBody(t, rec, &ins)
	assert.Equal(t, api.InsertResponse{Inserted: 4, FirstLabel: 0, Size: 4}, ins)

	rec = env.do(t, http.MethodPost, "/v1/indexes/docs/query", `{"vector":[1,0.1,0],"k":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var q api.QueryResponse
	decodeBody(t, rec, &q)
	require.Len(t, q.Results, 1)
	assert.Equal(t, []uint64{0, 3}, q.Results[0].Labels())

	rec = env.do(t, http.MethodPatch, "/v1/indexes/docs", `{"ef_search":64}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &st)
	assert.Equal(t, 64, st.Index.EfSearch)

	rec = env.do(t, http.MethodGet, "/v1/indexes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Indexes []tenant.Stats `json:"indexes"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Indexes, 1)
	assert.Equal(t, 4, list.Indexes[0].Index.Size)

	rec = env.do(t, http.MethodDelete, "/v1/indexes/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/indexes/docs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SaveAndLoad(t *testing.T) {
	env := newTestEnv(t, Config{})

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/indexes/docs", "").Code)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/indexes/docs/vectors",
		`{"vectors":[[1,2,3],[4,5,6]],"labels":[10,20]}`).Code)

	rec := env.do(t, http.MethodPost, "/v1/indexes/docs/save", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved api.PersistResponse
	decodeBody(t, rec, &saved)
	assert.FileExists(t, saved.Path)
	assert.True(t, strings.HasPrefix(saved.Path, env.dataDir))

	rec = env.do(t, http.MethodPost, "/v1/indexes/docs/save", `{"path":"../../outside.hnsw"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/indexes/copy/load", `{"path":"docs.hnsw"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/indexes/copy/query", `{"queries":[[4,5,6]],"k":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var q api.QueryResponse
	decodeBody(t, rec, &q)
	assert.Equal(t, []uint64{20}, q.Results[0].Labels())

	rec = env.do(t, http.MethodPost, "/v1/indexes/missing/load", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Errors(t *testing.T) {
	env := newTestEnv(t, Config{MaxBodyBytes: 256})
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/indexes/docs", "").Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, "/v1/indexes/docs/vectors", `{"vectors":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/indexes/docs/query", `{"vector":[1,2,3],"k":1,"top":3}`, http.StatusBadRequest},
		{"missing body", http.MethodPost, "/v1/indexes/docs/vectors", "", http.StatusBadRequest},
		{"dimension mismatch", http.MethodPost, "/v1/indexes/docs/vectors", `{"vectors":[[1,2]]}`, http.StatusBadRequest},
		{"label count mismatch", http.MethodPost, "/v1/indexes/docs/vectors", `{"vectors":[[1,2,3]],"labels":[1,2]}`, http.StatusBadRequest},
		{"invalid k", http.MethodPost, "/v1/indexes/docs/query", `{"vector":[1,2,3],"k":0}`, http.StatusBadRequest},
		{"unknown namespace", http.MethodPost, "/v1/indexes/nope/query", `{"vector":[1,2,3],"k":1}`, http.StatusNotFound},
		{"invalid name", http.MethodPost, "/v1/indexes/-bad", "", http.StatusBadRequest},
		{"unknown metric", http.MethodPost, "/v1/indexes/other", `{"metric":"hamming"}`, http.StatusBadRequest},
		{"body too large", http.MethodPost, "/v1/indexes/docs/vectors", `{"vectors":[[` + strings.Repeat("1,", 200) + `1]]}`, http.StatusRequestEntityTooLarge},
		{"method not allowed", http.MethodPut, "/v1/indexes/docs", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodPost, "/v1/indexes/docs/vectors", `{"vectors":[[1,2]]}`)
	var errResp middleware.ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, http.StatusBadRequest, errResp.Status)
	assert.Contains(t, errResp.Error, "dimension")
	assert.NotEmpty(t, errResp.RequestID)
}

func TestServer_Auth(t *testing.T) {
	authCfg := api.AuthConfig{Enabled: true, JWTSecret: testSecret, Issuer: "annd"}
	env := newTestEnv(t, Config{Auth: middleware.AuthConfig{AuthConfig: authCfg}})

	rec := env.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")

	rec = env.do(t, http.MethodGet, "/v1/indexes", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/indexes", "", "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	writer, err := api.GenerateToken(authCfg, "writer", []string{api.RoleWriter}, []string{"docs"}, time.Hour)
	require.NoError(t, err)
	reader, err := api.GenerateToken(authCfg, "reader", []string{api.RoleReader}, nil, time.Hour)
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/v1/indexes/docs", "", "Authorization", "Bearer "+writer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/indexes/other", "", "Authorization", "Bearer "+writer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/indexes/docs/vectors", `{"vectors":[[1,2,3]]}`, "Authorization", "Bearer "+reader)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/indexes/docs", "", "Authorization", "Bearer "+reader)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: middleware.RateLimitConfig{Enabled: true, RequestsPerSec: 0.001, Burst: 2}})
	t.Cleanup(func() { env.server.limiter.Stop() })

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/v1/indexes", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/v1/indexes", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// other clients keep their own bucket
	rec = env.do(t, http.MethodGet, "/v1/indexes", "", "X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/indexes/docs", "").Code)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/indexes/docs/vectors", `{"vectors":[[1,2,3]]}`).Code)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ann_batch_insert_total 1")
	assert.Contains(t, body, `ann_index_size{index="docs"} 1`)
	assert.Contains(t, body, `ann_requests_total{method="POST /v1/indexes/{namespace}/vectors",status="201"} 1`)
}

func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t, Config{CORSOrigins: []string{"https://app.example"}})

	rec := env.do(t, http.MethodOptions, "/v1/indexes", "", "Origin", "https://app.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodGet, "/v1/health", "", "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
