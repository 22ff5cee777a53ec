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

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/observability/metrics"
	"github.com/pollify/pollify/internal/tenancy"
	"github.com/pollify/pollify/internal/tenant"
)

// maxPeekBody bounds how much of a login body is read to find the email
const maxPeekBody = 64 << 10

// Resolver decides which tenant a request belongs to. It never rejects a
// request: a miss leaves the request administrative and authorization is
// decided further down.
type Resolver struct {
	tokens      TokenParser
	domains     tenant.DomainLookup
	lookupPaths map[string]struct{}
	logger      *slog.Logger
	lookups     metric.Int64Counter
}

// NewResolver creates a resolver. lookupPaths are the request paths whose
// JSON or form body may carry the login email.
func NewResolver(tokens TokenParser, domains tenant.DomainLookup, lookupPaths []string, log *slog.Logger, meter *metrics.Meter) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if meter == nil {
		meter = metrics.Noop()
	}
	paths := make(map[string]struct{}, len(lookupPaths))
	for _, p := range lookupPaths {
		if p = strings.TrimSpace(p); p != "" {
			paths[p] = struct{}{}
		}
	}
	return &Resolver{
		tokens:      tokens,
		domains:     domains,
		lookupPaths: paths,
		logger:      log,
		lookups:     meter.Counter(metrics.DomainLookups, "Email domain tenant lookups"),
	}
}

// Middleware resolves the tenant and always calls next. The tenant lives
// only on the context handed to next, so nothing outlives the request.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(w, req.WithContext(r.Resolve(req)))
	})
}

// Resolve returns the request context scoped to the resolved tenant, or
// an administrative context when nothing resolves.
func (r *Resolver) Resolve(req *http.Request) context.Context {
	ctx := tenancy.Clear(req.Context())

	if claims, ok := r.fromToken(req); ok {
		ctx = WithClaims(ctx, claims)
		if claims.TenantID != "" {
			// A present claim settles resolution, even when it is unusable.
			if err := tenancy.ValidateSchemaName(claims.TenantID); err != nil {
				r.logger.WarnContext(ctx, "ignoring malformed tenant claim",
					logger.Component("resolver"), logger.UserID(claims.UserID), logger.Error(err))
				return ctx
			}
			return tenancy.WithTenant(ctx, claims.TenantID)
		}
	}

	email := r.email(req)
	if email == "" {
		return ctx
	}

	domain, err := tenant.DomainFromEmail(email)
	if err != nil {
		r.logger.DebugContext(ctx, "email carries no usable domain", logger.Component("resolver"))
		return ctx
	}

	id, found, err := r.domains.Lookup(ctx, domain)
	if err != nil {
		r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		r.logger.WarnContext(ctx, "domain lookup failed",
			logger.Component("resolver"), logger.Domain(domain), logger.Error(err))
		return ctx
	}
	if !found {
		r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "miss")))
		return ctx
	}
	if err := tenancy.ValidateSchemaName(id); err != nil {
		r.logger.ErrorContext(ctx, "domain index holds an unsafe tenant id",
			logger.Component("resolver"), logger.Domain(domain), logger.Error(err))
		return ctx
	}

	r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "hit")))
	return tenancy.WithTenant(ctx, id)
}

// fromToken returns verified claims from an Authorization bearer header.
// Missing, expired or malformed tokens resolve nothing.
func (r *Resolver) fromToken(req *http.Request) (*Claims, bool) {
	header := req.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, false
	}

	claims, err := r.tokens.Parse(strings.TrimSpace(token))
	if err != nil {
		r.logger.DebugContext(req.Context(), "bearer token rejected",
			logger.Component("resolver"), logger.Error(err))
		return nil, false
	}
	return claims, true
}

// email reads the "email" query parameter, then on configured login paths
// the "email" field of a JSON or form body. The body stays readable for
// the handler.
func (r *Resolver) email(req *http.Request) string {
	if e := strings.TrimSpace(req.URL.Query().Get("email")); e != "" {
		return e
	}
	if _, ok := r.lookupPaths[req.URL.Path]; !ok || req.Body == nil || req.Method == http.MethodGet {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return peekJSONEmail(req)
	case "application/x-www-form-urlencoded":
		if err := req.ParseForm(); err != nil {
			return ""
		}
		return strings.TrimSpace(req.PostForm.Get("email"))
	}
	return ""
}

func peekJSONEmail(req *http.Request) string {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxPeekBody+1))
	if err != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		return ""
	}
	if len(body) > maxPeekBody {
		req.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(body), req.Body), Closer: req.Body}
		return ""
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Email)
}

type readCloser struct {
	io.Reader
	io.Closer
}
