// Package apiserver implements the rollout-cloud management REST API.
package apiserver

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/observability"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// Version is the API server version, overridden at build time via
// -ldflags "-X github.com/strand-protocol/strand/rollout-cloud/pkg/apiserver.Version=x.y.z".
var Version = "0.1.0"

// Role represents the RBAC role assigned to an API key.
type Role int

const (
	// RoleViewer allows read-only operations (GET).
	RoleViewer Role = iota
	// RoleOperator allows read and write operations (GET, POST, PUT).
	RoleOperator
	// RoleAdmin allows all operations including DELETE and tenant management.
	RoleAdmin
)

// ParseRole maps "viewer", "operator" and "admin" to a Role. Unknown names
// map to RoleViewer.
func ParseRole(name string) Role {
	switch name {
	case "admin":
		return RoleAdmin
	case "operator":
		return RoleOperator
	}
	return RoleViewer
}

// APIKeyInfo associates a Bearer token with its description, RBAC role and
// optionally the only tenant it may act on.
type APIKeyInfo struct {
	Description string
	Role        Role
	Tenant      string
}

// ServerOptions holds optional configuration for the Server.
type ServerOptions struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// APIKeys maps Bearer token → APIKeyInfo. When non-empty, all routes except
	// the probes and /metrics require a valid Bearer token.
	// Leave empty to disable authentication (dev/test mode only).
	APIKeys map[string]APIKeyInfo
	// DefaultTenant is used when neither the key nor the X-Tenant-ID header
	// names a tenant.
	DefaultTenant string
	// RequestsPerSecond and Burst configure the global rate limit.
	RequestsPerSecond float64
	Burst             int

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// DefaultServerOptions returns sensible defaults.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		DefaultTenant:     "default",
		RequestsPerSecond: 1000.0 / 60.0,
		Burst:             50,
	}
}

// Server is the rollout-cloud HTTP API server.
type Server struct {
	httpServer *http.Server
	store      store.Store
	engine     *deploy.Engine
	rollouts   *rollout.Scheduler
	metrics    *observability.Metrics
	logger     *zap.Logger
	mux        *http.ServeMux
	opts       ServerOptions
}

// NewServer creates a Server serving the engine and the rollout scheduler.
func NewServer(engine *deploy.Engine, rollouts *rollout.Scheduler, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}
	srv := &Server{
		store:    engine.Store(),
		engine:   engine,
		rollouts: rollouts,
		metrics:  opts.Metrics,
		logger:   opts.Logger.Named("apiserver"),
		mux:      http.NewServeMux(),
		opts:     opts,
	}
	srv.registerRoutes()
	handler := srv.applyMiddleware(srv.mux)
	srv.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return srv
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer.Addr = addr
	s.logger.Info("API server listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// GracefulShutdown performs a graceful shutdown of the HTTP server.
func (s *Server) GracefulShutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root http.Handler (useful for testing with httptest).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
