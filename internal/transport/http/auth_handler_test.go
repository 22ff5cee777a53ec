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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pollify/pollify/internal/audit"
	"github.com/pollify/pollify/internal/auth"
	"github.com/pollify/pollify/internal/tenant"
)

const adminPassword = "correct horse battery"

// withAdmin registers a tenant whose admin signs in with tn.AdminEmail.
// Any other email is unknown to the registry.
func (ts *testServer) withAdmin(t *testing.T, tn *tenant.Tenant) *tenant.Tenant {
	t.Helper()
	hash, err := ts.hasher.Hash(adminPassword)
	require.NoError(t, err)
	tn.AdminPasswordHash = hash
	ts.tenants.On("GetTenantByAdminEmail", mock.Anything, mock.MatchedBy(func(email string) bool {
		return strings.EqualFold(email, tn.AdminEmail)
	})).Return(tn, nil)
	return tn
}

func (ts *testServer) withUnknownAdmins() {
	ts.tenants.On("GetTenantByAdminEmail", mock.Anything, mock.Anything).Return(nil, tenant.ErrTenantNotFound)
}

func codeSchool(id, adminEmail string) *tenant.Tenant {
	tn := activeTenant(id)
	tn.Name = "Kwame Nkrumah University"
	tn.AdminEmail = adminEmail
	tn.SchoolType = tenant.SchoolTypeCode
	tn.SchoolCode = "KNU"
	return tn
}

func login(t *testing.T, ts *testServer, token string, req LoginRequest) (int, LoginResponse) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", token, req)
	if rec.Code != http.StatusOK {
		assert.Equal(t, "invalid credentials", decode[map[string]string](t, rec)["error"])
		return rec.Code, LoginResponse{}
	}
	return rec.Code, decode[LoginResponse](t, rec)
}

// TestPurpose: Validates tenant admin login by admin email.
// Scope: Unit Test
// Security: Tenant scoped authentication
// Expected: A correct password yields a TENANT_ADMIN token bound to the admin's tenant,
// even though the admin's own email domain is not in the domain index.
// Test Case ID: AUTH-01
func TestLogin_Success(t *testing.T) {
	ts := newTestServer(t)
	tn := ts.withAdmin(t, activeTenant("ug_001"))

	code, resp := login(t, ts, "", LoginRequest{Email: "Admin@UG.edu.gh", Password: adminPassword})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ug_001", resp.TenantID)

	claims, err := ts.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "ug_001", claims.TenantID)
	assert.Equal(t, auth.RoleTenantAdmin, claims.Role)
	assert.Equal(t, tn.UUID.String(), claims.UserID)
	assert.Contains(t, ts.audit.types(), audit.TypeLoginSuccess)

	// the issued token scopes later requests to the tenant
	rec := ts.do(t, http.MethodGet, "/api/v1/tenancy/current", resp.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ug_001", decode[map[string]any](t, rec)["schema"])
}

// TestPurpose: Validates that code school admins, who have no domain index entry, can log in.
// Scope: Unit Test
// Security: Tenant scoped authentication
// Expected: 200 with a token carrying the code school's tenant claim.
// Test Case ID: AUTH-03
func TestLogin_CodeSchoolAdmin(t *testing.T) {
	ts := newTestServer(t)
	ts.withAdmin(t, codeSchool("kn_001", "admin@knust.edu.gh"))

	code, resp := login(t, ts, "", LoginRequest{Email: "admin@knust.edu.gh", Password: adminPassword})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "kn_001", resp.TenantID)

	claims, err := ts.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "kn_001", claims.TenantID)
}

// TestPurpose: Validates that a tenant resolved from the request must own the admin email.
// Scope: Unit Test
// Security: Cross-tenant authentication
// Expected: 401 when the request is scoped to a different tenant than the admin's.
// Test Case ID: AUTH-04
func TestLogin_ResolvedTenantMustMatch(t *testing.T) {
	ts := newTestServer(t)
	ug := activeTenant("ug_001")
	ug.AdminEmail = "registrar@st.knust.edu.gh"
	ts.withAdmin(t, ug)

	// st.knust.edu.gh resolves to kn_001
	code, _ := login(t, ts, "", LoginRequest{Email: ug.AdminEmail, Password: adminPassword})
	assert.Equal(t, http.StatusUnauthorized, code)

	// a token bound to another tenant
	code, _ = login(t, ts, ts.token(t, "kn_001", auth.RoleTenantAdmin),
		LoginRequest{Email: ug.AdminEmail, Password: adminPassword})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, 2, strings.Count(strings.Join(ts.audit.types(), ","), audit.TypeLoginFailed))
}

// TestPurpose: Validates that every login failure is indistinguishable to the caller.
// Scope: Unit Test
// Security: Account and tenant enumeration (CWE-204)
// Expected: 401 "invalid credentials" for unknown admin, wrong password, inactive tenant and lookup errors.
// Test Case ID: AUTH-02
func TestLogin_FailuresLookTheSame(t *testing.T) {
	cases := []struct {
		name   string
		status string
		req    LoginRequest
	}{
		{"unknown admin", tenant.StatusActive, LoginRequest{Email: "admin@unknown.edu", Password: adminPassword}},
		{"student of the tenant", tenant.StatusActive, LoginRequest{Email: "kofi@st.ug.edu.gh", Password: adminPassword}},
		{"wrong password", tenant.StatusActive, LoginRequest{Email: "admin@ug.edu.gh", Password: "wrong"}},
		{"suspended tenant", tenant.StatusSuspended, LoginRequest{Email: "admin@ug.edu.gh", Password: adminPassword}},
		{"pending tenant", tenant.StatusPending, LoginRequest{Email: "admin@ug.edu.gh", Password: adminPassword}},
		{"empty password", tenant.StatusActive, LoginRequest{Email: "admin@ug.edu.gh"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			tn := activeTenant("ug_001")
			tn.Status = tc.status
			ts.withAdmin(t, tn)
			ts.withUnknownAdmins()

			code, _ := login(t, ts, "", tc.req)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Contains(t, ts.audit.types(), audit.TypeLoginFailed)
		})
	}

	t.Run("registry unavailable", func(t *testing.T) {
		ts := newTestServer(t)
		ts.tenants.On("GetTenantByAdminEmail", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		code, _ := login(t, ts, "", LoginRequest{Email: "admin@ug.edu.gh", Password: adminPassword})
		assert.Equal(t, http.StatusUnauthorized, code)
	})
}

func TestLogin_InvalidBody(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
