package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/ann/pkg/tenant"
)

type testEnv struct {
	client  *Client
	conn    *grpc.ClientConn
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tenants := tenant.NewManager(tenant.Options{CacheCapacity: 8})
	svc := api.NewService(tenants, t.TempDir(), api.Defaults{
		Spec:  tenant.Spec{Metric: "l2", Dimension: 2, Threads: 2, MaxNodes: 1000},
		Quota: tenant.UnlimitedQuota(),
	}, nil)

	srv, err := NewServer(cfg, svc, WithMetrics(metrics))
	require.NoError(t, err)

	ln := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(ln) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
		_ = tenants.Close()
	})
	return &testEnv{client: NewClient(conn), conn: conn, metrics: metrics}
}

func TestServer_IndexRoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	var st tenant.Stats
	require.NoError(t, env.client.Call(ctx, "CreateIndex", CreateIndexRequest{Namespace: "docs"}, &st))
	assert.Equal(t, "docs", st.Namespace)
	assert.True(t, st.Index.Initialized)

	var ins api.InsertResponse
	require.NoError(t, env.client.Call(ctx, "InsertBatch", InsertBatchRequest{
		Namespace:     "docs",
		InsertRequest: api.InsertRequest{Vectors: [][]float32{{0, 0}, {2, 2}, {5, 5}}},
	}, &ins))
	assert.Equal(t, api.InsertResponse{Inserted: 3, FirstLabel: 0, Size: 3}, ins)

	var q api.QueryResponse
	require.NoError(t, env.client.Call(ctx, "Query", QueryRequest{
		Namespace:    "docs",
		QueryRequest: api.QueryRequest{Queries: [][]float32{{1.9, 2.1}, {4, 4}}, K: 2},
	}, &q))
	require.Len(t, q.Results, 2)
	assert.Equal(t, []uint64{1, 0}, q.Results[0].Labels())
	assert.Equal(t, []uint64{2, 1}, q.Results[1].Labels())
	assert.InDelta(t, 0.02, q.Results[0].Neighbors[0].Distance, 1e-5)

	var saved api.PersistResponse
	require.NoError(t, env.client.Call(ctx, "Save", SaveRequest{Namespace: "docs"}, &saved))
	assert.Equal(t, 3, saved.Size)

	var loaded api.PersistResponse
	require.NoError(t, env.client.Call(ctx, "Load", LoadRequest{
		Namespace:   "copy",
		LoadRequest: api.LoadRequest{Path: "docs.hnsw"},
	}, &loaded))
	assert.Equal(t, 3, loaded.Size)

	var all StatsResponse
	require.NoError(t, env.client.Call(ctx, "Stats", NamespaceRequest{}, &all))
	require.Len(t, all.Indexes, 2)
	assert.Equal(t, "copy", all.Indexes[0].Namespace)
	assert.Equal(t, uint64(3), all.Indexes[0].Index.NextLabel)

	require.NoError(t, env.client.Call(ctx, "Stats", NamespaceRequest{Namespace: "docs"}, &st))
	assert.Equal(t, int64(1), st.Usage.Queries)

	require.NoError(t, env.client.Call(ctx, "DeleteIndex", NamespaceRequest{Namespace: "copy"}, nil))
	err := env.client.Call(ctx, "Stats", NamespaceRequest{Namespace: "copy"}, &st)
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RequestsTotal.WithLabelValues("/ann.v1.IndexService/InsertBatch", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RequestsTotal.WithLabelValues("/ann.v1.IndexService/Stats", "NotFound")))
}

func TestServer_StatusCodes(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	require.NoError(t, env.client.Call(ctx, "CreateIndex", CreateIndexRequest{Namespace: "docs"}, nil))

	tests := []struct {
		name   string
		method string
		req    interface{}
		want   codes.Code
	}{
		{"duplicate", "CreateIndex", CreateIndexRequest{Namespace: "docs"}, codes.AlreadyExists},
		{"unknown metric", "CreateIndex", CreateIndexRequest{Namespace: "x", CreateIndexRequest: api.CreateIndexRequest{Metric: "manhattan"}}, codes.InvalidArgument},
		{"unknown field", "Stats", map[string]interface{}{"namespace": "docs", "verbose": true}, codes.InvalidArgument},
		{"dimension", "InsertBatch", InsertBatchRequest{Namespace: "docs", InsertRequest: api.InsertRequest{Vectors: [][]float32{{1, 2, 3}}}}, codes.InvalidArgument},
		{"bad k", "Query", QueryRequest{Namespace: "docs", QueryRequest: api.QueryRequest{Vector: []float32{1, 2}, K: -1}}, codes.InvalidArgument},
		{"missing namespace", "Query", QueryRequest{Namespace: "nope", QueryRequest: api.QueryRequest{Vector: []float32{1, 2}, K: 1}}, codes.NotFound},
		{"path escape", "Save", SaveRequest{Namespace: "docs", PersistRequest: api.PersistRequest{Path: "../x.hnsw"}}, codes.InvalidArgument},
		{"missing file", "Load", LoadRequest{Namespace: "ghost"}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.client.Call(ctx, tt.method, tt.req, nil)
			assert.Equal(t, tt.want, status.Code(err), "%v", err)
		})
	}

	// duplicate labels surface as AlreadyExists
	require.NoError(t, env.client.Call(ctx, "InsertBatch", InsertBatchRequest{
		Namespace:     "docs",
		InsertRequest: api.InsertRequest{Vectors: [][]float32{{1, 1}}, Labels: []uint64{7}},
	}, nil))
	err := env.client.Call(ctx, "InsertBatch", InsertBatchRequest{
		Namespace:     "docs",
		InsertRequest: api.InsertRequest{Vectors: [][]float32{{2, 2}}, Labels: []uint64{7}},
	}, nil)
	assert.Equal(t, codes.AlreadyExists, status.Code(err), "%v", err)
}

func TestServer_Auth(t *testing.T) {
	authCfg := api.AuthConfig{Enabled: true, JWTSecret: "grpc-test-secret-99", Issuer: "annd"}
	env := newTestEnv(t, Config{Auth: authCfg})

	err := env.client.Call(context.Background(), "Stats", NamespaceRequest{}, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, err := api.GenerateToken(authCfg, "svc", []string{api.RoleReader}, nil, time.Hour)
	require.NoError(t, err)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)

	var all StatsResponse
	require.NoError(t, env.client.Call(ctx, "Stats", NamespaceRequest{}, &all))
	assert.Empty(t, all.Indexes)

	err = env.client.Call(ctx, "CreateIndex", CreateIndexRequest{Namespace: "docs"}, nil)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	// health checks need no token
	resp, err := healthpb.NewHealthClient(env.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimitRPS: 0.001, RateLimitBurst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, env.client.Call(ctx, "Stats", NamespaceRequest{}, nil))
	}
	err := env.client.Call(ctx, "Stats", NamespaceRequest{}, nil)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestServiceDescriptorRegistered(t *testing.T) {
	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(ServiceName))
	require.NoError(t, err)

	svc, ok := desc.(protoreflect.ServiceDescriptor)
	require.True(t, ok)
	assert.Equal(t, len(IndexServiceDesc.Methods), svc.Methods().Len())
	for _, m := range IndexServiceDesc.Methods {
		md := svc.Methods().ByName(protoreflect.Name(m.MethodName))
		require.NotNil(t, md, m.MethodName)
		assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), md.Input().FullName())
	}
}
