// Package grpc serves the index API over gRPC. Messages are
// google.protobuf.Struct values carrying the JSON form of the api types, so
// the service needs no generated code.
package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
)

// Config holds the gRPC server configuration
type Config struct {
	Host                 string
	Port                 int
	MaxRecvMsgSize       int
	MaxConcurrentStreams uint32
	EnableTLS            bool
	CertFile             string
	KeyFile              string
	Auth                 api.AuthConfig
	RateLimitRPS         float64 // 0 disables rate limiting
	RateLimitBurst       int
}

// Address returns the listen address
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records call metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// Server represents the gRPC server
type Server struct {
	config     Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	grpcServer *grpc.Server
	health     *health.Server

	shutdownMu sync.Mutex
	isShutdown bool
}

// NewServer creates a gRPC server exposing service
func NewServer(config Config, service *api.Service, opts ...Option) (*Server, error) {
	s := &Server{
		config: config,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "grpc")

	interceptors := []grpc.UnaryServerInterceptor{
		recoveryInterceptor(s.logger),
		accessInterceptor(observability.NewAccessLogger(s.logger), s.metrics),
		authInterceptor(config.Auth),
	}
	if config.RateLimitRPS > 0 {
		burst := config.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		interceptors = append(interceptors, rateLimitInterceptor(rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst)))
	}

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if config.MaxRecvMsgSize > 0 {
		serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(config.MaxRecvMsgSize))
	}
	if config.MaxConcurrentStreams > 0 {
		serverOpts = append(serverOpts, grpc.MaxConcurrentStreams(config.MaxConcurrentStreams))
	}
	if config.EnableTLS {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS certificates: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})))
	}

	s.grpcServer = grpc.NewServer(serverOpts...)
	RegisterIndexServiceServer(s.grpcServer, &handler{service: service})

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(s.grpcServer)
	return s, nil
}

// Start listens on the configured address and blocks until the server stops
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and blocks until the server stops
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("gRPC server listening", map[string]interface{}{"addr": ln.Addr().String()})
	if err := s.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc: %w", err)
	}
	return nil
}

// Stop drains in-flight calls and stops the server, forcing it closed when
// ctx expires first
func (s *Server) Stop(ctx context.Context) {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped")
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout exceeded, forcing stop")
		s.grpcServer.Stop()
	}
}
