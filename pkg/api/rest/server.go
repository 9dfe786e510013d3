// Package rest serves the index API over HTTP/JSON.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	"github.com/therealutkarshpriyadarshi/ann/pkg/api/rest/middleware"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
)

// Config holds the REST server configuration
type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSOrigins    []string
	Auth           middleware.AuthConfig
	RateLimit      middleware.RateLimitConfig
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger used for access and error logs
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records request metrics and serves gatherer on /metrics
func WithMetrics(metrics *observability.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = metrics
		s.gatherer = gatherer
	}
}

// Server represents the REST API server
type Server struct {
	config     Config
	service    *api.Service
	logger     *observability.Logger
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	limiter    *middleware.RateLimiter
	router     chi.Router
	httpServer *http.Server
}

// NewServer creates a new REST API server
func NewServer(config Config, service *api.Service, opts ...Option) *Server {
	s := &Server{
		config:  config,
		service: service,
		logger:  observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "rest")
	s.limiter = middleware.NewRateLimiter(config.RateLimit, 0)
	s.router = s.routes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Zap()),
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(observability.NewAccessLogger(s.logger), s.metrics))
	r.Use(chimw.Recoverer)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(corsMiddleware(s.config.CORSOrigins))
	}
	if s.config.RequestTimeout > 0 {
		r.Use(chimw.Timeout(s.config.RequestTimeout))
	}

	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(s.config.Auth))
			r.Use(middleware.RateLimit(s.limiter))
			if s.config.MaxBodyBytes > 0 {
				r.Use(chimw.RequestSize(s.config.MaxBodyBytes))
			}

			r.Get("/indexes", s.handleListIndexes)
			r.Route("/indexes/{namespace}", func(r chi.Router) {
				r.Post("/", s.handleCreateIndex)
				r.Get("/", s.handleGetIndex)
				r.Patch("/", s.handleUpdateIndex)
				r.Delete("/", s.handleDeleteIndex)
				r.Post("/vectors", s.handleInsert)
				r.Post("/query", s.handleQuery)
				r.Post("/save", s.handleSave)
				r.Post("/load", s.handleLoad)
			})
		})
	})
	return r
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and blocks until the server stops
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and blocks until the server stops
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("REST server listening", map[string]interface{}{"addr": ln.Addr().String()})
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down REST server")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := allowAll
			for _, o := range allowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed && origin != "" {
				if allowAll {
					origin = "*"
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
