// Package api implements the index operations shared by the REST and gRPC
// servers: request validation, authorization, path confinement and error
// classification.
package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/ann/pkg/tenant"
)

// Version is reported by the health endpoints. Set at build time with
// -ldflags "-X github.com/therealutkarshpriyadarshi/ann/pkg/api.Version=...".
var Version = "dev"

// SnapshotExt is the extension of index files in the data directory
const SnapshotExt = ".hnsw"

// Defaults are applied to fields a create request leaves unset
type Defaults struct {
	Spec  tenant.Spec
	Quota tenant.Quota
}

// CreateIndexRequest describes a new index. Zero fields take the server
// defaults.
type CreateIndexRequest struct {
	Metric         string `json:"metric,omitempty"`
	Dimension      int    `json:"dimension,omitempty"`
	Threads        int    `json:"threads,omitempty"`
	EfSearch       int    `json:"ef_search,omitempty"`
	MaxNodes       int    `json:"max_nodes,omitempty"`
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
	RandomSeed     int64  `json:"random_seed,omitempty"`
	Engine         string `json:"engine,omitempty"`
	MaxVectors     *int64 `json:"max_vectors,omitempty"`
	RateLimitQPS   *int   `json:"rate_limit_qps,omitempty"`
}

func (r CreateIndexRequest) spec(def tenant.Spec) tenant.Spec {
	s := def
	if r.Metric != "" {
		s.Metric = r.Metric
	}
	if r.Dimension != 0 {
		s.Dimension = r.Dimension
	}
	if r.Threads != 0 {
		s.Threads = r.Threads
	}
	if r.EfSearch != 0 {
		s.EfSearch = r.EfSearch
	}
	if r.MaxNodes != 0 {
		s.MaxNodes = r.MaxNodes
	}
	if r.M != 0 {
		s.M = r.M
	}
	if r.EfConstruction != 0 {
		s.EfConstruction = r.EfConstruction
	}
	if r.RandomSeed != 0 {
		s.RandomSeed = r.RandomSeed
	}
	if r.Engine != "" {
		s.Engine = r.Engine
	}
	return s
}

func (r CreateIndexRequest) quota(def tenant.Quota) tenant.Quota {
	q := def
	if r.MaxVectors != nil {
		q.MaxVectors = *r.MaxVectors
	}
	if r.RateLimitQPS != nil {
		q.RateLimitQPS = *r.RateLimitQPS
	}
	return q
}

// UpdateIndexRequest changes the tunables of an existing index
type UpdateIndexRequest struct {
	EfSearch     int    `json:"ef_search,omitempty"`
	MaxVectors   *int64 `json:"max_vectors,omitempty"`
	RateLimitQPS *int   `json:"rate_limit_qps,omitempty"`
}

// InsertRequest is a batch of vectors with optional explicit labels
type InsertRequest struct {
	Vectors [][]float32 `json:"vectors"`
	Labels  []uint64    `json:"labels,omitempty"`
}

// InsertResponse reports the outcome of an insert
type InsertResponse struct {
	Inserted   int    `json:"inserted"`
	FirstLabel uint64 `json:"first_label"`
	Size       int    `json:"size"`
}

// QueryRequest is a k-NN query batch. Vector is shorthand for a batch of one.
type QueryRequest struct {
	Queries [][]float32 `json:"queries,omitempty"`
	Vector  []float32   `json:"vector,omitempty"`
	K       int         `json:"k"`
}

// QueryResponse holds one result per query, in query order
type QueryResponse struct {
	Results []ann.QueryResult `json:"results"`
	Cached  bool              `json:"cached"`
	TookMs  float64           `json:"took_ms"`
}

// PersistRequest names the file to save to. An empty path uses
// <data_dir>/<namespace>.hnsw; relative paths are resolved in the data
// directory.
type PersistRequest struct {
	Path string `json:"path,omitempty"`
}

// LoadRequest names the file to load. When the namespace does not exist yet
// it is registered with Index merged over the defaults.
type LoadRequest struct {
	Path  string              `json:"path,omitempty"`
	Index *CreateIndexRequest `json:"index,omitempty"`
}

// PersistResponse reports a completed save or load
type PersistResponse struct {
	Namespace string  `json:"namespace"`
	Path      string  `json:"path"`
	Size      int     `json:"size"`
	TookMs    float64 `json:"took_ms"`
}

// HealthResponse reports server liveness
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Indexes       int     `json:"indexes"`
}

// Service runs index operations against a namespace registry
type Service struct {
	tenants  *tenant.Manager
	dataDir  string
	defaults Defaults
	logger   *observability.Logger
	started  time.Time
}

// NewService creates a service. Save and load paths are confined to dataDir.
func NewService(tenants *tenant.Manager, dataDir string, defaults Defaults, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Service{
		tenants:  tenants,
		dataDir:  dataDir,
		defaults: defaults,
		logger:   logger.WithField("component", "api"),
		started:  time.Now(),
	}
}

// Health reports server liveness
func (s *Service) Health() HealthResponse {
	return HealthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Indexes:       len(s.tenants.ListNamespaces()),
	}
}

// CreateIndex registers an empty index under name
func (s *Service) CreateIndex(ctx context.Context, name string, req CreateIndexRequest) (tenant.Stats, error) {
	if err := authorize(ctx, name, RoleWriter); err != nil {
		return tenant.Stats{}, err
	}
	ns, err := s.tenants.CreateNamespace(name, req.spec(s.defaults.Spec), req.quota(s.defaults.Quota))
	if err != nil {
		return tenant.Stats{}, err
	}
	return ns.Stats(), nil
}

// ListIndexes returns every index the caller may see
func (s *Service) ListIndexes(ctx context.Context) []tenant.Stats {
	out := make([]tenant.Stats, 0)
	for _, ns := range s.tenants.ListNamespaces() {
		if authorize(ctx, ns.Name(), RoleReader) != nil {
			continue
		}
		out = append(out, ns.Stats())
	}
	return out
}

// GetIndex describes one index
func (s *Service) GetIndex(ctx context.Context, name string) (tenant.Stats, error) {
	ns, err := s.namespace(ctx, name, RoleReader)
	if err != nil {
		return tenant.Stats{}, err
	}
	return ns.Stats(), nil
}

// UpdateIndex applies an UpdateIndexRequest
func (s *Service) UpdateIndex(ctx context.Context, name string, req UpdateIndexRequest) (tenant.Stats, error) {
	ns, err := s.namespace(ctx, name, RoleWriter)
	if err != nil {
		return tenant.Stats{}, err
	}
	if req.EfSearch < 0 {
		return tenant.Stats{}, fmt.Errorf("%w: ef_search must not be negative", ErrInvalidRequest)
	}
	if req.EfSearch > 0 {
		ns.SetEfSearch(req.EfSearch)
	}
	if req.MaxVectors != nil || req.RateLimitQPS != nil {
		q := ns.Quota()
		if req.MaxVectors != nil {
			q.MaxVectors = *req.MaxVectors
		}
		if req.RateLimitQPS != nil {
			q.RateLimitQPS = *req.RateLimitQPS
		}
		if err := s.tenants.UpdateQuota(name, q); err != nil {
			return tenant.Stats{}, err
		}
	}
	return ns.Stats(), nil
}

// DeleteIndex drops an index. Saved files are left alone.
func (s *Service) DeleteIndex(ctx context.Context, name string) error {
	if err := authorize(ctx, name, RoleAdmin); err != nil {
		return err
	}
	return s.tenants.DeleteNamespace(name)
}

// Insert adds a batch of vectors to an index
func (s *Service) Insert(ctx context.Context, name string, req InsertRequest) (InsertResponse, error) {
	ns, err := s.namespace(ctx, name, RoleWriter)
	if err != nil {
		return InsertResponse{}, err
	}
	if len(req.Vectors) == 0 {
		return InsertResponse{}, fmt.Errorf("%w: vectors must not be empty", ErrInvalidRequest)
	}

	first, err := ns.Insert(req.Vectors, req.Labels)
	if err != nil {
		s.logger.Warn("insert rejected", map[string]interface{}{
			"namespace": name,
			"count":     len(req.Vectors),
			"error":     err,
		})
		return InsertResponse{}, err
	}
	return InsertResponse{
		Inserted:   len(req.Vectors),
		FirstLabel: first,
		Size:       ns.Stats().Index.Size,
	}, nil
}

// Query runs a k-NN query batch
func (s *Service) Query(ctx context.Context, name string, req QueryRequest) (QueryResponse, error) {
	ns, err := s.namespace(ctx, name, RoleReader)
	if err != nil {
		return QueryResponse{}, err
	}

	queries := req.Queries
	if len(req.Vector) > 0 {
		if len(queries) > 0 {
			return QueryResponse{}, fmt.Errorf("%w: set either vector or queries", ErrInvalidRequest)
		}
		queries = [][]float32{req.Vector}
	}
	if len(queries) == 0 {
		return QueryResponse{}, fmt.Errorf("%w: no query vectors", ErrInvalidRequest)
	}

	start := time.Now()
	results, cached, err := ns.Query(queries, req.K)
	if err != nil {
		return QueryResponse{}, err
	}
	return QueryResponse{
		Results: results,
		Cached:  cached,
		TookMs:  float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// Save writes an index to disk
func (s *Service) Save(ctx context.Context, name string, req PersistRequest) (PersistResponse, error) {
	ns, err := s.namespace(ctx, name, RoleWriter)
	if err != nil {
		return PersistResponse{}, err
	}
	path, err := s.ResolvePath(name, req.Path)
	if err != nil {
		return PersistResponse{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return PersistResponse{}, fmt.Errorf("create data directory: %w", err)
	}

	start := time.Now()
	if err := ns.Save(path); err != nil {
		return PersistResponse{}, err
	}
	return PersistResponse{
		Namespace: name,
		Path:      path,
		Size:      ns.Stats().Index.Size,
		TookMs:    float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// Load replaces an index with a saved one, registering the namespace first
// when it does not exist
func (s *Service) Load(ctx context.Context, name string, req LoadRequest) (PersistResponse, error) {
	if err := authorize(ctx, name, RoleWriter); err != nil {
		return PersistResponse{}, err
	}
	path, err := s.ResolvePath(name, req.Path)
	if err != nil {
		return PersistResponse{}, err
	}

	start := time.Now()
	ns, err := s.tenants.GetNamespace(name)
	switch {
	case err == nil:
		if req.Index != nil {
			return PersistResponse{}, fmt.Errorf("%w: index settings are only accepted for new namespaces", ErrInvalidRequest)
		}
		err = ns.Load(path)
	default:
		var create CreateIndexRequest
		if req.Index != nil {
			create = *req.Index
		}
		ns, err = s.tenants.OpenNamespace(name, create.spec(s.defaults.Spec), create.quota(s.defaults.Quota), path)
	}
	if err != nil {
		return PersistResponse{}, err
	}

	return PersistResponse{
		Namespace: name,
		Path:      path,
		Size:      ns.Stats().Index.Size,
		TookMs:    float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// ResolvePath maps a requested snapshot path into the data directory
func (s *Service) ResolvePath(name, requested string) (string, error) {
	if !tenant.ValidName(name) {
		return "", fmt.Errorf("%w: %q", tenant.ErrInvalidNamespace, name)
	}
	root, err := filepath.Abs(s.dataDir)
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	if requested == "" {
		return filepath.Join(root, name+SnapshotExt), nil
	}

	path := requested
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideDataDir, requested)
	}
	return path, nil
}

func (s *Service) namespace(ctx context.Context, name, role string) (*tenant.Namespace, error) {
	if err := authorize(ctx, name, role); err != nil {
		return nil, err
	}
	return s.tenants.GetNamespace(name)
}
