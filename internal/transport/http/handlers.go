// Copyright 2026 The Pollify Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http exposes the tenancy core over HTTP: tenant administration
// for platform admins, tenant admin login and an authenticated routing
// diagnostic.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/pollify/pollify/internal/audit"
	"github.com/pollify/pollify/internal/auth"
	"github.com/pollify/pollify/internal/migration"
	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/observability/metrics"
	"github.com/pollify/pollify/internal/routing"
	"github.com/pollify/pollify/internal/tenant"
)

// TenantService is the tenant registry as the handlers use it
type TenantService interface {
	CreateTenant(ctx context.Context, req tenant.CreateTenantRequest, actorID string) (*tenant.Tenant, error)
	Onboard(ctx context.Context, req tenant.CreateTenantRequest, actorID string) (*tenant.Tenant, error)
	ProvisionTenant(ctx context.Context, id, actorID string) (*tenant.Tenant, error)
	Suspend(ctx context.Context, id, actorID string) error
	Activate(ctx context.Context, id, actorID string) error
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	GetTenantByAdminEmail(ctx context.Context, email string) (*tenant.Tenant, error)
	ListTenants(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error)
	Stats(ctx context.Context) (*tenant.Stats, error)
}

// TokenIssuer signs bearer tokens
type TokenIssuer interface {
	Issue(subject, userID, tenantID, role string) (string, error)
}

// PasswordVerifier checks a password against a stored hash
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
}

// SchemaRouter runs a callback on a connection routed to the request's tenant
type SchemaRouter interface {
	WithConn(ctx context.Context, fn func(routing.Conn) error) error
}

// MigrationSweeper migrates every registered tenant schema
type MigrationSweeper interface {
	Run(ctx context.Context) (migration.SweepReport, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(context.Context) error

// Handler holds HTTP handlers and dependencies
type Handler struct {
	tenantService TenantService
	tokens        TokenIssuer
	passwords     PasswordVerifier
	schemas       SchemaRouter
	sweeper       MigrationSweeper
	auditLogger   audit.Logger
	logger        *slog.Logger
	checks        map[string]HealthCheck
	loginAttempts metric.Int64Counter
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithHealthCheck adds a named dependency check to /health
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

// WithLogger sets the handler logger
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMeter records login outcomes on m
func WithMeter(m *metrics.Meter) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.loginAttempts = m.Counter(metrics.LoginAttempts, "Tenant admin login attempts")
		}
	}
}

// NewHandler creates a new HTTP handler
func NewHandler(
	tenantService TenantService,
	tokens TokenIssuer,
	passwords PasswordVerifier,
	schemas SchemaRouter,
	sweeper MigrationSweeper,
	auditLogger audit.Logger,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		tenantService: tenantService,
		tokens:        tokens,
		passwords:     passwords,
		schemas:       schemas,
		sweeper:       sweeper,
		auditLogger:   auditLogger,
		logger:        slog.Default(),
		checks:        make(map[string]HealthCheck),
	}
	WithMeter(metrics.Noop())(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter creates the HTTP router. The resolver runs on every request,
// so handlers always see a context scoped to exactly one tenant or to the
// administrative schema.
func NewRouter(h *Handler, resolver *auth.Resolver, rateLimiter *RateLimiter, requestTimeout time.Duration) *chi.Mux {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(resolver.Middleware)
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.With(h.RequireRole(auth.RoleSuperAdmin, auth.RoleTenantAdmin)).
			Get("/tenancy/current", h.CurrentTenancy)

		// Platform administration
		r.Group(func(r chi.Router) {
			r.Use(h.RequireRole(auth.RoleSuperAdmin))

			r.Route("/tenants", func(r chi.Router) {
				r.Post("/", h.CreateTenant)
				r.Get("/", h.ListTenants)
				r.Post("/onboard", h.OnboardTenant)
				r.Get("/stats", h.TenantStats)

				r.Route("/{tenantID}", func(r chi.Router) {
					r.Get("/", h.GetTenant)
					r.Post("/provision", h.ProvisionTenant)
					r.Post("/suspend", h.SuspendTenant)
					r.Post("/activate", h.ActivateTenant)
				})
			})

			r.Post("/migrations/sweep", h.SweepMigrations)
		})
	})

	return r
}

const healthCheckTimeout = 2 * time.Second

// HealthCheck reports the service and dependency status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			results[name] = "unavailable"
			h.logger.WarnContext(r.Context(), "health check failed",
				logger.Component("http"),
				logger.String("check", name),
				logger.Error(err),
			)
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	respondJSON(w, status, map[string]any{
		"status":  state,
		"service": "pollify",
		"checks":  results,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// getIPAddress returns the first X-Forwarded-For hop, X-Real-IP or the
// remote host
func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
