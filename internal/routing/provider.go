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

// Package routing points every pooled connection at the schema of the
// tenant that is using it.
//
// All data access goes through Provider.WithConn, which reads the tenant
// from the context, switches search_path before the callback runs and
// switches it back to the administrative schema before the connection
// returns to the pool.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/observability/metrics"
	"github.com/pollify/pollify/internal/tenancy"
)

var (
	// ErrRouteFailed is returned when a connection could not be switched to a schema.
	ErrRouteFailed = errors.New("connection routing failed")

	// ErrSchemaNotFound is returned when the target schema does not exist.
	ErrSchemaNotFound = errors.New("schema not found")
)

// routeSQL switches search_path only when the schema exists. A missing
// schema yields no row, which keeps the connection on its previous path.
const routeSQL = `SELECT set_config('search_path', $1, false) FROM pg_namespace WHERE nspname = $2`

const resetSQL = `SELECT set_config('search_path', $1, false)`

const defaultResetTimeout = 2 * time.Second

// Provider wraps a Pool with schema routing.
type Provider struct {
	pool         Pool
	adminSchema  string
	adminPath    string
	resetTimeout time.Duration
	logger       *slog.Logger

	acquired      metric.Int64Counter
	routeFailures metric.Int64Counter
	resetFailures metric.Int64Counter
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithMeter records acquisition and failure counters.
func WithMeter(m *metrics.Meter) Option {
	return func(p *Provider) {
		p.acquired = m.Counter(metrics.ConnAcquired, "Connections routed to a schema")
		p.routeFailures = m.Counter(metrics.ConnRouteFailures, "Connections that could not be routed")
		p.resetFailures = m.Counter(metrics.ConnResetFailures, "Connections discarded after a failed reset")
	}
}

// WithResetTimeout bounds the reset statement issued on release.
func WithResetTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.resetTimeout = d
		}
	}
}

// NewProvider creates a routing provider. adminSchema is where
// administrative work runs and where every connection is reset to.
func NewProvider(pool Pool, adminSchema string, opts ...Option) (*Provider, error) {
	adminPath, err := tenancy.SearchPath(adminSchema)
	if err != nil {
		return nil, fmt.Errorf("admin schema: %w", err)
	}

	noop := metrics.Noop()
	p := &Provider{
		pool:          pool,
		adminSchema:   adminSchema,
		adminPath:     adminPath,
		resetTimeout:  defaultResetTimeout,
		logger:        slog.Default(),
		acquired:      noop.Counter(metrics.ConnAcquired, ""),
		routeFailures: noop.Counter(metrics.ConnRouteFailures, ""),
		resetFailures: noop.Counter(metrics.ConnResetFailures, ""),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AdminSchema returns the administrative schema name.
func (p *Provider) AdminSchema() string {
	return p.adminSchema
}

// SchemaFor maps a tenant id to its schema. The administrative sentinel
// and the empty string map to the administrative schema.
func (p *Provider) SchemaFor(tenantID string) string {
	if tenantID == "" || tenantID == tenancy.Administrative {
		return p.adminSchema
	}
	return tenantID
}

// Acquire returns a raw pooled connection without routing it.
func (p *Provider) Acquire(ctx context.Context) (Conn, error) {
	return p.pool.Acquire(ctx)
}

// AcquireForTenant returns a connection whose search_path is the tenant's
// schema followed by public. The identifier is validated before the pool
// is touched.
func (p *Provider) AcquireForTenant(ctx context.Context, tenantID string) (Conn, error) {
	schema := p.SchemaFor(tenantID)
	path, err := tenancy.SearchPath(schema)
	if err != nil {
		p.routeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_identifier")))
		return nil, fmt.Errorf("%w: %w", ErrRouteFailed, err)
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		p.routeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "acquire")))
		return nil, fmt.Errorf("%w: acquire: %w", ErrRouteFailed, err)
	}

	var applied string
	if err := conn.QueryRow(ctx, routeSQL, path, schema).Scan(&applied); err != nil {
		p.routeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "switch")))
		p.Release(ctx, tenantID, conn)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %w: %s", ErrRouteFailed, ErrSchemaNotFound, schema)
		}
		return nil, fmt.Errorf("%w: switch to %s: %w", ErrRouteFailed, schema, err)
	}

	p.acquired.Add(ctx, 1)
	return conn, nil
}

// Release resets the connection to the administrative schema and returns
// it to the pool. If the reset fails the connection is closed instead.
// It runs even when ctx is already cancelled.
func (p *Provider) Release(ctx context.Context, tenantID string, conn Conn) {
	if conn == nil {
		return
	}

	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.resetTimeout)
	defer cancel()

	if _, err := conn.Exec(resetCtx, resetSQL, p.adminPath); err != nil {
		p.resetFailures.Add(resetCtx, 1)
		p.logger.WarnContext(ctx, "failed to reset connection schema, discarding connection",
			logger.Component("routing"),
			logger.TenantID(tenantID),
			logger.Error(err),
		)
		if cerr := conn.Discard(resetCtx); cerr != nil {
			p.logger.WarnContext(ctx, "failed to close discarded connection",
				logger.Component("routing"),
				logger.Error(cerr),
			)
		}
		return
	}
	conn.Release()
}

// WithConn runs fn on a connection routed to the tenant carried by ctx.
// The connection is released when fn returns, panics or fails.
func (p *Provider) WithConn(ctx context.Context, fn func(Conn) error) error {
	return p.withTenantConn(ctx, tenancy.FromContext(ctx), fn)
}

// WithAdminConn runs fn on a connection routed to the administrative schema
// regardless of the tenant carried by ctx.
func (p *Provider) WithAdminConn(ctx context.Context, fn func(Conn) error) error {
	return p.withTenantConn(ctx, tenancy.Administrative, fn)
}

// WithTx runs fn inside a transaction on a connection routed like WithConn.
func (p *Provider) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return p.WithConn(ctx, func(conn Conn) error {
		return pgx.BeginFunc(ctx, conn, fn)
	})
}

func (p *Provider) withTenantConn(ctx context.Context, tenantID string, fn func(Conn) error) error {
	conn, err := p.AcquireForTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	defer p.Release(ctx, tenantID, conn)
	return fn(conn)
}
