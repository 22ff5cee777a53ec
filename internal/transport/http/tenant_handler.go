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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pollify/pollify/internal/audit"
	"github.com/pollify/pollify/internal/auth"
	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/tenant"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// OnboardResponse is the result of onboarding a school
type OnboardResponse struct {
	Tenant *tenant.Tenant `json:"tenant"`
	Token  string         `json:"token"`
}

// CreateTenant registers a school
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenant.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tenantService.CreateTenant(r.Context(), req, actorID(r.Context()))
	if err != nil {
		h.respondTenantError(w, r, t, err)
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// OnboardTenant registers and provisions a school in one call and returns
// a login token for its admin
func (h *Handler) OnboardTenant(w http.ResponseWriter, r *http.Request) {
	var req tenant.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tenantService.Onboard(r.Context(), req, actorID(r.Context()))
	if err != nil {
		h.respondTenantError(w, r, t, err)
		return
	}

	token, err := h.tokens.Issue(t.AdminEmail, t.UUID.String(), t.ID, auth.RoleTenantAdmin)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to issue admin token",
			logger.Component("http"), logger.TenantID(t.ID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		TenantID:  t.ID,
		ActorID:   actorID(r.Context()),
		Resource:  t.AdminEmail,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"role": auth.RoleTenantAdmin},
	})

	respondJSON(w, http.StatusCreated, OnboardResponse{Tenant: t, Token: token})
}

// GetTenant returns one tenant
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenantService.GetTenant(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.respondTenantError(w, r, nil, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// ListTenants returns a page of tenants. Query: limit, offset.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := max(queryInt(r, "offset", 0), 0)

	tenants, err := h.tenantService.ListTenants(r.Context(), limit, offset)
	if err != nil {
		h.respondTenantError(w, r, nil, err)
		return
	}
	if tenants == nil {
		tenants = []*tenant.Tenant{}
	}

	respondJSON(w, http.StatusOK, tenants)
}

// TenantStats returns tenant counts per status
func (h *Handler) TenantStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tenantService.Stats(r.Context())
	if err != nil {
		h.respondTenantError(w, r, nil, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// ProvisionTenant retries schema provisioning for a pending tenant
func (h *Handler) ProvisionTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenantService.ProvisionTenant(r.Context(), chi.URLParam(r, "tenantID"), actorID(r.Context()))
	if err != nil {
		h.respondTenantError(w, r, t, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// SuspendTenant suspends an active tenant
func (h *Handler) SuspendTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.Suspend(r.Context(), chi.URLParam(r, "tenantID"), actorID(r.Context())); err != nil {
		h.respondTenantError(w, r, nil, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": tenant.StatusSuspended})
}

// ActivateTenant reactivates a suspended tenant
func (h *Handler) ActivateTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.Activate(r.Context(), chi.URLParam(r, "tenantID"), actorID(r.Context())); err != nil {
		h.respondTenantError(w, r, nil, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": tenant.StatusActive})
}

// respondTenantError maps registry errors to responses. Validation
// messages are returned as is; anything unexpected is logged and hidden.
func (h *Handler) respondTenantError(w http.ResponseWriter, r *http.Request, t *tenant.Tenant, err error) {
	switch {
	case errors.Is(err, tenant.ErrInvalidTenant), errors.Is(err, tenant.ErrInvalidDomain):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenant.ErrTenantExists):
		respondError(w, http.StatusConflict, "tenant already exists")
	case errors.Is(err, tenant.ErrDomainExists):
		respondError(w, http.StatusConflict, "email domain already registered")
	case errors.Is(err, tenant.ErrTenantNotFound):
		respondError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, tenant.ErrInvalidStatus):
		respondError(w, http.StatusConflict, "invalid tenant status transition")
	case errors.Is(err, tenant.ErrTenantCreationFailed) && t != nil:
		h.logger.ErrorContext(r.Context(), "tenant left pending",
			logger.Component("http"), logger.TenantID(t.ID), logger.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":         "tenant creation failed",
			"tenant_id":     t.ID,
			"tenant_status": t.Status,
		})
	default:
		h.logger.ErrorContext(r.Context(), "tenant request failed",
			logger.Component("http"), logger.Path(r.URL.Path), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
