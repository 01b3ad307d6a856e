package apiserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// contextKey is an unexported type for context keys in this package.
type contextKey int

const (
	roleContextKey contextKey = iota + 1
	keyContextKey
	tenantContextKey
)

const (
	// maxRequestBodyBytes limits request body size to 1 MiB to prevent DoS.
	maxRequestBodyBytes = 1 << 20 // 1 MiB

	// tenantHeader selects the tenant for keys not bound to one.
	tenantHeader = "X-Tenant-ID"
)

// applyMiddleware wraps the given handler with the standard middleware chain.
// Order (outermost to innermost): recovery -> auth -> tenant -> rbac -> rateLimiter -> requestBodyLimit -> cors -> logging -> requestID
func (s *Server) applyMiddleware(h http.Handler) http.Handler {
	h = requestIDMiddleware(h)
	h = s.loggingMiddleware(h)
	h = corsMiddleware(h)
	h = requestBodyLimitMiddleware(h)
	h = s.rateLimitMiddleware(h)
	h = s.rbacMiddleware(h)
	h = s.tenantMiddleware(h)
	h = s.apiKeyMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

// publicPath reports whether path is served without authentication.
func publicPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// apiKeyMiddleware enforces Bearer token authentication on all routes except
// the probes and /metrics. Valid API keys are provided in
// ServerOptions.APIKeys. On success it stores the caller's Role and key in
// the request context.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		// If no API keys are configured (dev mode), grant admin role and pass through.
		if len(s.opts.APIKeys) == 0 {
			ctx := context.WithValue(r.Context(), roleContextKey, RoleAdmin)
			ctx = context.WithValue(ctx, keyContextKey, APIKeyInfo{Description: "anonymous", Role: RoleAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		info, ok := s.opts.APIKeys[token]
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), roleContextKey, info.Role)
		ctx = context.WithValue(ctx, keyContextKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantMiddleware resolves the tenant of the request. A key bound to a
// tenant always acts on it and may not name another one; otherwise the
// X-Tenant-ID header applies, falling back to the default tenant.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		key, _ := r.Context().Value(keyContextKey).(APIKeyInfo)
		tenant := r.Header.Get(tenantHeader)
		switch {
		case key.Tenant != "" && tenant != "" && tenant != key.Tenant:
			writeError(w, http.StatusForbidden, "api key is not valid for tenant "+tenant)
			return
		case key.Tenant != "":
			tenant = key.Tenant
		case tenant == "":
			tenant = s.opts.DefaultTenant
		}
		if err := ValidateID(tenant); err != nil {
			writeError(w, http.StatusBadRequest, "tenant: "+err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), tenantContextKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantFrom returns the tenant resolved by tenantMiddleware.
func tenantFrom(r *http.Request) string {
	t, _ := r.Context().Value(tenantContextKey).(string)
	return t
}

// callerFrom names the caller for the initiated-by fields of actions.
func callerFrom(r *http.Request) string {
	key, _ := r.Context().Value(keyContextKey).(APIKeyInfo)
	if key.Description == "" {
		return "api"
	}
	return key.Description
}

// boundToTenant reports whether the caller's key is restricted to a tenant.
func boundToTenant(r *http.Request) bool {
	key, _ := r.Context().Value(keyContextKey).(APIKeyInfo)
	return key.Tenant != ""
}

// rbacMiddleware enforces role-based access control:
//   - RoleViewer:   GET only
//   - RoleOperator: GET, POST, PUT
//   - RoleAdmin:    all methods (GET, POST, PUT, DELETE, OPTIONS)
//
// Rollout approval additionally needs RoleAdmin; its handler checks that.
// The role is read from the context value set by apiKeyMiddleware.
func (s *Server) rbacMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		// OPTIONS preflight passes through (handled by corsMiddleware).
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		role, _ := r.Context().Value(roleContextKey).(Role)
		switch r.Method {
		case http.MethodGet:
			// All roles may read.
		case http.MethodPost, http.MethodPut:
			if role < RoleOperator {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
		default:
			if role < RoleAdmin {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requestBodyLimitMiddleware wraps the request body with http.MaxBytesReader to
// prevent memory exhaustion from oversized payloads. Returns 413 if exceeded.
func requestBodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestIDMiddleware adds a unique X-Request-ID header to each request and
// response if one is not already present.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			b := make([]byte, 16)
			_, _ = rand.Read(b)
			id = hex.EncodeToString(b)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request's method, path, status, and duration
// and records the request metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		d := time.Since(start)

		s.metrics.IncRequest()
		s.metrics.ObserveRequest(r.Method, d)
		if rw.statusCode >= http.StatusBadRequest {
			s.metrics.IncError()
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", d),
			zap.String("request_id", rw.Header().Get("X-Request-ID")),
			zap.String("tenant", tenantFrom(r)))
	})
}

// recoveryMiddleware catches panics in downstream handlers and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler",
					zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware enforces a global request rate limit.
// Returns 429 Too Many Requests when the limit is exceeded.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	rps, burst := s.opts.RequestsPerSecond, s.opts.Burst
	if rps <= 0 {
		rps = 1000.0 / 60.0
	}
	if burst <= 0 {
		burst = 50
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers and answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Tenant-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
