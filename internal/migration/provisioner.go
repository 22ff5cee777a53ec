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

package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/observability/metrics"
	"github.com/pollify/pollify/internal/observability/tracing"
	"github.com/pollify/pollify/internal/tenancy"
)

// ErrProvisionFailed wraps every provisioning failure.
var ErrProvisionFailed = errors.New("schema provisioning failed")

// Provisioning steps, reported in StepError.
const (
	StepValidate = "validate"
	StepOpen     = "open"
	StepCreate   = "create_schema"
	StepMigrate  = "migrate"
)

// StepError reports which provisioning step failed. It matches both
// ErrProvisionFailed and the underlying cause with errors.Is.
type StepError struct {
	Schema string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provision %s: %s: %v", e.Schema, e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrProvisionFailed, e.Err}
}

// Provisioner creates a schema and brings it to the latest version.
type Provisioner interface {
	Provision(ctx context.Context, schema string) error
}

// SchemaProvisioner runs validate, open, create and migrate for one schema
// on a dedicated session.
type SchemaProvisioner struct {
	opener Opener
	set    Set
	logger *slog.Logger

	provisioned metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
}

// ProvisionerOption configures a SchemaProvisioner.
type ProvisionerOption func(*SchemaProvisioner)

// WithSet selects the migration set. Defaults to SetTenant.
func WithSet(set Set) ProvisionerOption {
	return func(p *SchemaProvisioner) { p.set = set }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ProvisionerOption {
	return func(p *SchemaProvisioner) { p.logger = l }
}

// WithMeter records provisioning counters and durations.
func WithMeter(m *metrics.Meter) ProvisionerOption {
	return func(p *SchemaProvisioner) {
		p.provisioned = m.Counter(metrics.SchemasProvisioned, "Schemas provisioned or synchronized")
		p.failures = m.Counter(metrics.ProvisionFailures, "Schema provisioning failures")
		p.duration = m.Histogram(metrics.ProvisionDuration, "Schema provisioning duration", "ms")
	}
}

// NewSchemaProvisioner creates a provisioner backed by opener.
func NewSchemaProvisioner(opener Opener, opts ...ProvisionerOption) *SchemaProvisioner {
	noop := metrics.Noop()
	p := &SchemaProvisioner{
		opener:      opener,
		set:         SetTenant,
		logger:      slog.Default(),
		provisioned: noop.Counter(metrics.SchemasProvisioned, ""),
		failures:    noop.Counter(metrics.ProvisionFailures, ""),
		duration:    noop.Histogram(metrics.ProvisionDuration, "", "ms"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision implements Provisioner.
func (p *SchemaProvisioner) Provision(ctx context.Context, schema string) error {
	_, err := p.Apply(ctx, schema)
	return err
}

// Apply provisions schema and returns the migrations applied by this run.
// Running it on an up-to-date schema applies nothing. The session is
// closed on every path.
func (p *SchemaProvisioner) Apply(ctx context.Context, schema string) (applied []Applied, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "migration.Provision",
		attribute.String("db.schema", schema),
		attribute.String("migration.set", string(p.set)),
	)
	defer func() {
		attrs := metric.WithAttributes(attribute.String("set", string(p.set)))
		p.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		if err != nil {
			p.failures.Add(ctx, 1, attrs)
			p.logger.ErrorContext(ctx, "schema provisioning failed",
				logger.Component("migration"),
				logger.Schema(schema),
				logger.Error(err),
			)
		}
		tracing.End(span, err)
	}()

	if err := tenancy.ValidateSchemaName(schema); err != nil {
		return nil, &StepError{Schema: schema, Step: StepValidate, Err: err}
	}

	session, err := p.opener.Open(ctx, schema, p.set)
	if err != nil {
		return nil, &StepError{Schema: schema, Step: StepOpen, Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			p.logger.WarnContext(ctx, "failed to close migration session",
				logger.Component("migration"),
				logger.Schema(schema),
				logger.Error(cerr),
			)
		}
	}()

	if err := session.CreateSchema(ctx); err != nil {
		return nil, &StepError{Schema: schema, Step: StepCreate, Err: err}
	}

	applied, err = session.Migrate(ctx)
	if err != nil {
		return applied, &StepError{Schema: schema, Step: StepMigrate, Err: err}
	}

	p.provisioned.Add(ctx, 1, metric.WithAttributes(attribute.String("set", string(p.set))))
	attrs := []any{
		logger.Component("migration"),
		logger.Schema(schema),
		slog.Int("applied", len(applied)),
		slog.Duration("elapsed", time.Since(start)),
	}
	if n := len(applied); n > 0 {
		attrs = append(attrs, logger.MigrationVersion(applied[n-1].Version))
	}
	p.logger.InfoContext(ctx, "schema up to date", attrs...)
	return applied, nil
}
