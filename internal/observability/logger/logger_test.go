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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/pollify/pollify/internal/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantContextHandler_AddsTenantOnlyWhenScoped(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&TenantContextHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	log.InfoContext(tenancy.WithTenant(context.Background(), "ug_001"), "scoped")
	var scoped map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &scoped))
	assert.Equal(t, "ug_001", scoped["tenant_id"])

	buf.Reset()
	log.InfoContext(context.Background(), "admin")
	var admin map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &admin))
	_, present := admin["tenant_id"]
	assert.False(t, present)
}

func TestFanoutHandler_DeliversToEnabledHandlers(t *testing.T) {
	var info, errOnly bytes.Buffer
	h := NewFanoutHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&errOnly, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	log := slog.New(h)

	log.Info("hello")
	assert.Contains(t, info.String(), "hello")
	assert.Empty(t, errOnly.String())

	log.Error("broken", Error(assert.AnError))
	assert.Contains(t, errOnly.String(), "broken")
}
