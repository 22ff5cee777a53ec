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

// Package tenancy carries the current tenant through one request's call chain.
//
// The tenant is an immutable context value. It is attached once at ingress
// and read everywhere below; a context that never had a tenant attached, or
// one passed through Clear, reports the administrative sentinel. Because the
// parent context is never mutated, nothing has to be reset when a request
// ends and concurrent requests cannot observe each other's value.
package tenancy

import "context"

// Administrative is the sentinel returned when no tenant is set.
// Data access under this value is routed to the administrative schema.
const Administrative = "master"

type contextKey struct{}

// state is boxed so that an explicit "administrative" value can be stored
// and shadow a tenant set further up the chain.
type state struct {
	tenantID string
}

// WithTenant returns a child context scoped to tenantID.
// An empty tenantID yields an administrative context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, state{tenantID: tenantID})
}

// Clear returns a child context in administrative scope. Calling it on an
// already administrative context is harmless.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, state{})
}

// FromContext returns the current tenant, or Administrative when unset.
func FromContext(ctx context.Context) string {
	if id, ok := TenantID(ctx); ok {
		return id
	}
	return Administrative
}

// TenantID returns the tenant bound to ctx and false for administrative scope.
func TenantID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(contextKey{}).(state)
	if !ok || s.tenantID == "" || s.tenantID == Administrative {
		return "", false
	}
	return s.tenantID, true
}

// IsAdministrative reports whether ctx carries no tenant.
func IsAdministrative(ctx context.Context) bool {
	_, ok := TenantID(ctx)
	return !ok
}

// Run invokes fn with a context scoped to tenantID. The caller's ctx is
// left untouched, so returning from Run is the "clear".
func Run(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	return fn(WithTenant(ctx, tenantID))
}
