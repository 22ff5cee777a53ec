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
	"errors"
	"net/http"
	"slices"

	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/routing"
	"github.com/pollify/pollify/internal/tenancy"
)

// CurrentTenancy reports the tenant resolved for this request and the
// schema a routed connection actually runs in
func (h *Handler) CurrentTenancy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var schema string
	err := h.schemas.WithConn(ctx, func(conn routing.Conn) error {
		return conn.QueryRow(ctx, `SELECT current_schema()`).Scan(&schema)
	})
	switch {
	case errors.Is(err, routing.ErrSchemaNotFound):
		respondError(w, http.StatusNotFound, "tenant not available")
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "routing check failed", logger.Component("http"), logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id":      tenancy.FromContext(ctx),
		"administrative": tenancy.IsAdministrative(ctx),
		"schema":         schema,
	})
}

// SweepResponse summarizes an on-demand migration sweep
type SweepResponse struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Migrated  int      `json:"migrated"`
	Failed    []string `json:"failed"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// SweepMigrations brings every tenant schema to the latest version
func (h *Handler) SweepMigrations(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "migration sweep failed", logger.Component("http"), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "migration sweep failed")
		return
	}

	failed := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		failed = append(failed, id)
	}
	slices.Sort(failed)

	status := http.StatusOK
	if len(failed) > 0 {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, SweepResponse{
		Total:     report.Total,
		Succeeded: report.Succeeded,
		Migrated:  report.Migrated,
		Failed:    failed,
		ElapsedMS: report.Elapsed.Milliseconds(),
	})
}
