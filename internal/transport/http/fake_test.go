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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pollify/pollify/internal/audit"
	"github.com/pollify/pollify/internal/auth"
	"github.com/pollify/pollify/internal/credential"
	"github.com/pollify/pollify/internal/migration"
	"github.com/pollify/pollify/internal/routing"
	"github.com/pollify/pollify/internal/tenancy"
	"github.com/pollify/pollify/internal/tenant"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type mockTenantService struct {
	mock.Mock
}

func (m *mockTenantService) CreateTenant(ctx context.Context, req tenant.CreateTenantRequest, actorID string) (*tenant.Tenant, error) {
	args := m.Called(ctx, req, actorID)
	t, _ := args.Get(0).(*tenant.Tenant)
	return t, args.Error(1)
}

func (m *mockTenantService) Onboard(ctx context.Context, req tenant.CreateTenantRequest, actorID string) (*tenant.Tenant, error) {
	args := m.Called(ctx, req, actorID)
	t, _ := args.Get(0).(*tenant.Tenant)
	return t, args.Error(1)
}

func (m *mockTenantService) ProvisionTenant(ctx context.Context, id, actorID string) (*tenant.Tenant, error) {
	args := m.Called(ctx, id, actorID)
	t, _ := args.Get(0).(*tenant.Tenant)
	return t, args.Error(1)
}

func (m *mockTenantService) Suspend(ctx context.Context, id, actorID string) error {
	return m.Called(ctx, id, actorID).Error(0)
}

func (m *mockTenantService) Activate(ctx context.Context, id, actorID string) error {
	return m.Called(ctx, id, actorID).Error(0)
}

func (m *mockTenantService) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*tenant.Tenant)
	return t, args.Error(1)
}

func (m *mockTenantService) GetTenantByAdminEmail(ctx context.Context, email string) (*tenant.Tenant, error) {
	args := m.Called(ctx, email)
	t, _ := args.Get(0).(*tenant.Tenant)
	return t, args.Error(1)
}

func (m *mockTenantService) ListTenants(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	args := m.Called(ctx, limit, offset)
	ts, _ := args.Get(0).([]*tenant.Tenant)
	return ts, args.Error(1)
}

func (m *mockTenantService) Stats(ctx context.Context) (*tenant.Stats, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*tenant.Stats)
	return s, args.Error(1)
}

// fakeRouter answers current_schema() with the tenant carried by ctx
type fakeRouter struct {
	missing map[string]bool
	err     error
}

func (f *fakeRouter) WithConn(ctx context.Context, fn func(routing.Conn) error) error {
	if f.err != nil {
		return f.err
	}
	schema := tenancy.FromContext(ctx)
	if f.missing[schema] {
		return routing.ErrSchemaNotFound
	}
	return fn(&fakeConn{schema: schema})
}

type fakeConn struct {
	schema string
}

func (c *fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{value: c.schema}
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) Release() {}

func (c *fakeConn) Discard(context.Context) error { return nil }

type fakeRow struct {
	value string
}

func (r fakeRow) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.value
	return nil
}

type fakeSweeper struct {
	report migration.SweepReport
	err    error
}

func (f *fakeSweeper) Run(context.Context) (migration.SweepReport, error) {
	return f.report, f.err
}

type recordingAudit struct {
	events []audit.Event
}

func (a *recordingAudit) Log(_ context.Context, e audit.Event) {
	a.events = append(a.events, e)
}

func (a *recordingAudit) types() []string {
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}

type mapLookup map[string]string

func (m mapLookup) Lookup(_ context.Context, domain string) (string, bool, error) {
	id, ok := m[domain]
	return id, ok, nil
}

type testServer struct {
	router  http.Handler
	tenants *mockTenantService
	tokens  *auth.TokenService
	hasher  *credential.Hasher
	schemas *fakeRouter
	sweeper *fakeSweeper
	audit   *recordingAudit
}

func newTestServer(t *testing.T, opts ...HandlerOption) *testServer {
	t.Helper()
	tokens, err := auth.NewTokenService([]byte(testSecret), "pollify", time.Hour)
	require.NoError(t, err)

	ts := &testServer{
		tenants: new(mockTenantService),
		tokens:  tokens,
		hasher:  credential.NewHasher(credential.Params{Memory: 1024, Iterations: 1, Parallelism: 1}),
		schemas: &fakeRouter{missing: map[string]bool{}},
		sweeper: &fakeSweeper{},
		audit:   &recordingAudit{},
	}

	h := NewHandler(ts.tenants, ts.tokens, ts.hasher, ts.schemas, ts.sweeper, ts.audit, opts...)
	resolver := auth.NewResolver(tokens, mapLookup{"st.ug.edu.gh": "ug_001", "st.knust.edu.gh": "kn_001"},
		[]string{"/api/v1/auth/login"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts.router = NewRouter(h, resolver, NewRateLimiter(ctx, 1000, 1000), time.Minute)
	return ts
}

func (ts *testServer) token(t *testing.T, tenantID, role string) string {
	t.Helper()
	tok, err := ts.tokens.Issue("someone@pollify.io", "user-1", tenantID, role)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}
