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

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pollify/pollify/internal/audit"
	"github.com/pollify/pollify/internal/auth"
	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/tenancy"
	"github.com/pollify/pollify/internal/tenant"
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token
type LoginResponse struct {
	Token    string `json:"token"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login authenticates a tenant admin. Every failure looks the same to the
// caller.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	t, reason := h.authenticate(ctx, req)
	if reason != "" {
		tenantID, _ := tenancy.TenantID(ctx)
		h.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failure")))
		h.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeLoginFailed,
			TenantID:  tenantID,
			Resource:  req.Email,
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"reason": reason},
		})
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(t.AdminEmail, t.UUID.String(), t.ID, auth.RoleTenantAdmin)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue token",
			logger.Component("http"), logger.TenantID(t.ID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	h.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeLoginSuccess,
		TenantID:  t.ID,
		ActorID:   t.UUID.String(),
		Resource:  req.Email,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, LoginResponse{
		Token:    token,
		TenantID: t.ID,
		Role:     auth.RoleTenantAdmin,
	})
}

// authenticate returns the tenant on success, or a failure reason for
// the audit trail. The tenant is found by admin email in the registry;
// a tenant resolved from the request must be that same tenant.
func (h *Handler) authenticate(ctx context.Context, req LoginRequest) (*tenant.Tenant, string) {
	if req.Email == "" || req.Password == "" {
		return nil, "missing_credentials"
	}

	t, err := h.tenantService.GetTenantByAdminEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, tenant.ErrTenantNotFound) {
			h.logger.ErrorContext(ctx, "admin lookup failed", logger.Component("http"), logger.Error(err))
			return nil, "lookup_failed"
		}
		return nil, "unknown_admin"
	}
	if resolved, ok := tenancy.TenantID(ctx); ok && resolved != t.ID {
		return nil, "tenant_mismatch"
	}
	if !t.IsActive() {
		return nil, "tenant_inactive"
	}

	valid, err := h.passwords.Verify(req.Password, t.AdminPasswordHash)
	if err != nil {
		h.logger.ErrorContext(ctx, "stored admin hash is unreadable",
			logger.Component("http"), logger.TenantID(t.ID), logger.Error(err))
		return nil, "bad_hash"
	}
	if !valid {
		return nil, "invalid_password"
	}
	return t, ""
}
