package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	grpcapi "github.com/therealutkarshpriyadarshi/ann/pkg/api/grpc"
	"github.com/therealutkarshpriyadarshi/ann/pkg/api/rest"
	"github.com/therealutkarshpriyadarshi/ann/pkg/api/rest/middleware"
	"github.com/therealutkarshpriyadarshi/ann/pkg/config"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/ann/pkg/tenant"
)

// app wires the index registry to the REST and gRPC servers
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tenants  *tenant.Manager
	service  *api.Service
	rest     *rest.Server
	grpc     *grpcapi.Server // nil when gRPC is disabled
}

func newApp(cfg *config.Config, logger *observability.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	var cacheCapacity int
	if cfg.Cache.Enabled {
		cacheCapacity = cfg.Cache.Capacity
	}
	tenants := tenant.NewManager(tenant.Options{
		MaxNamespaces: cfg.Storage.MaxNamespaces,
		CacheCapacity: cacheCapacity,
		CacheTTL:      cfg.Cache.TTL,
		Logger:        logger,
		Metrics:       metrics,
	})
	service := api.NewService(tenants, cfg.Storage.DataDir, defaultsFromConfig(cfg), logger)

	authCfg := api.AuthConfig{
		Enabled:   cfg.Auth.Enabled,
		JWTSecret: cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		tenants:  tenants,
		service:  service,
	}

	a.rest = rest.NewServer(rest.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   int64(cfg.Server.MaxRecvMsgSize),
		Auth:           middleware.AuthConfig{AuthConfig: authCfg},
		RateLimit: middleware.RateLimitConfig{
			Enabled:        cfg.RateLimit.Enabled,
			RequestsPerSec: cfg.RateLimit.RPS,
			Burst:          cfg.RateLimit.Burst,
			PerUser:        cfg.Auth.Enabled,
		},
	}, service, rest.WithLogger(logger), rest.WithMetrics(metrics, registry))

	if cfg.Server.GRPCPort > 0 {
		grpcCfg := grpcapi.Config{
			Host:                 cfg.Server.Host,
			Port:                 cfg.Server.GRPCPort,
			MaxRecvMsgSize:       cfg.Server.MaxRecvMsgSize,
			MaxConcurrentStreams: uint32(cfg.Server.MaxConnections),
			EnableTLS:            cfg.Server.EnableTLS,
			CertFile:             cfg.Server.CertFile,
			KeyFile:              cfg.Server.KeyFile,
			Auth:                 authCfg,
		}
		if cfg.RateLimit.Enabled {
			grpcCfg.RateLimitRPS = cfg.RateLimit.RPS
			grpcCfg.RateLimitBurst = cfg.RateLimit.Burst
		}
		srv, err := grpcapi.NewServer(grpcCfg, service, grpcapi.WithLogger(logger), grpcapi.WithMetrics(metrics))
		if err != nil {
			return nil, err
		}
		a.grpc = srv
	}
	return a, nil
}

func defaultsFromConfig(cfg *config.Config) api.Defaults {
	return api.Defaults{
		Spec: tenant.Spec{
			Metric:         cfg.Index.Metric,
			Dimension:      cfg.Index.Dimension,
			Threads:        cfg.Index.Threads,
			EfSearch:       cfg.Index.EfSearch,
			MaxNodes:       cfg.Index.MaxNodes,
			M:              cfg.Index.M,
			EfConstruction: cfg.Index.EfConstruction,
			RandomSeed:     cfg.Index.RandomSeed,
			Engine:         cfg.Index.Engine,
		},
		Quota: tenant.Quota{MaxVectors: int64(cfg.Index.MaxVectors)},
	}
}

// restore loads every <name>.hnsw snapshot of the data directory when
// auto_load is set, then makes sure the default namespace exists
func (a *app) restore() error {
	if a.cfg.Storage.AutoLoad {
		paths, err := filepath.Glob(filepath.Join(a.cfg.Storage.DataDir, "*"+api.SnapshotExt))
		if err != nil {
			return err
		}
		defaults := defaultsFromConfig(a.cfg)
		for _, path := range paths {
			name := strings.TrimSuffix(filepath.Base(path), api.SnapshotExt)
			if !tenant.ValidName(name) {
				a.logger.Warn("skipping snapshot with invalid name", map[string]interface{}{"path": path})
				continue
			}
			if _, err := a.tenants.OpenNamespace(name, defaults.Spec, defaults.Quota, path); err != nil {
				return fmt.Errorf("restore %s: %w", name, err)
			}
		}
	}

	if name := a.cfg.Storage.DefaultNamespace; name != "" {
		if _, err := a.tenants.GetNamespace(name); errors.Is(err, tenant.ErrNamespaceNotFound) {
			defaults := defaultsFromConfig(a.cfg)
			if _, err := a.tenants.CreateNamespace(name, defaults.Spec, defaults.Quota); err != nil {
				return fmt.Errorf("create default namespace: %w", err)
			}
		}
	}
	return nil
}

// persist saves every namespace when auto_save is set
func (a *app) persist() error {
	if !a.cfg.Storage.AutoSave {
		return nil
	}
	if err := os.MkdirAll(a.cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return a.tenants.SaveAll(func(name string) string {
		return filepath.Join(a.cfg.Storage.DataDir, name+api.SnapshotExt)
	})
}

// run serves until ctx is cancelled or a server fails, then shuts down
func (a *app) run(ctx context.Context) error {
	if err := a.restore(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.rest.Start)
	if a.grpc != nil {
		g.Go(a.grpc.Start)
	}
	g.Go(func() error {
		a.collectRuntimeStats(gctx, 15*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) shutdown() error {
	a.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.rest.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop REST server: %w", err))
	}
	if a.grpc != nil {
		a.grpc.Stop(ctx)
	}
	if err := a.persist(); err != nil {
		errs = append(errs, fmt.Errorf("auto save: %w", err))
	}
	if err := a.tenants.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) collectRuntimeStats(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var mem runtime.MemStats
	for {
		a.metrics.UpdateGoroutineCount(runtime.NumGoroutine())
		runtime.ReadMemStats(&mem)
		a.metrics.UpdateMemoryUsage(mem.HeapAlloc)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
