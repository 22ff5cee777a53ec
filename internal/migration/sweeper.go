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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/observability/metrics"
	"github.com/pollify/pollify/internal/observability/tracing"
	"github.com/pollify/pollify/internal/tenancy"
	"github.com/pollify/pollify/internal/tenant"
)

// TenantLister reads the whole tenant registry.
type TenantLister interface {
	ListAll(ctx context.Context) ([]*tenant.Tenant, error)
}

// Applier applies pending migrations to one schema.
type Applier interface {
	Apply(ctx context.Context, schema string) ([]Applied, error)
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Total     int
	Succeeded int
	Migrated  int // tenants that had at least one pending migration
	Failed    map[string]error
	Elapsed   time.Duration
}

// Sweeper brings every registered tenant schema to the latest version.
type Sweeper struct {
	tenants     TenantLister
	applier     Applier
	concurrency int
	logger      *slog.Logger
	outcomes    metric.Int64Counter
}

// NewSweeper creates a sweeper. concurrency below 1 means sequential.
func NewSweeper(tenants TenantLister, applier Applier, concurrency int, log *slog.Logger, meter *metrics.Meter) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	if meter == nil {
		meter = metrics.Noop()
	}
	return &Sweeper{
		tenants:     tenants,
		applier:     applier,
		concurrency: concurrency,
		logger:      log,
		outcomes:    meter.Counter(metrics.SweepTenants, "Tenants visited by the migration sweep"),
	}
}

// Run sweeps all tenants. A failing tenant is logged and counted and the
// sweep moves on; Run only fails when the registry cannot be read.
func (s *Sweeper) Run(ctx context.Context) (report SweepReport, err error) {
	start := time.Now()
	ctx = tenancy.Clear(ctx)
	ctx, span := tracing.Start(ctx, "migration.Sweep")
	defer func() { tracing.End(span, err) }()

	tenants, err := s.tenants.ListAll(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("failed to list tenants: %w", err)
	}

	s.logger.InfoContext(ctx, "starting tenant migration sweep",
		logger.Component("migration"),
		slog.Int("tenants", len(tenants)),
		slog.Int("concurrency", s.concurrency),
	)

	report = SweepReport{Total: len(tenants), Failed: map[string]error{}}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, t := range tenants {
		g.Go(func() error {
			applied, err := s.syncTenant(ctx, t)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[t.ID] = err
				s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
				return nil
			}
			report.Succeeded++
			if len(applied) > 0 {
				report.Migrated++
			}
			s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = time.Since(start)
	s.logger.InfoContext(ctx, "tenant migration sweep finished",
		logger.Component("migration"),
		slog.Int("total", report.Total),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("migrated", report.Migrated),
		slog.Int("failed", len(report.Failed)),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// syncTenant runs one tenant's apply step scoped to that tenant. A panic
// is turned into an error so one broken tenant cannot stop the sweep.
func (s *Sweeper) syncTenant(ctx context.Context, t *tenant.Tenant) (applied []Applied, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrProvisionFailed, r)
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "tenant migration sync failed, continuing",
				logger.Component("migration"),
				logger.TenantID(t.ID),
				logger.Schema(t.Schema),
				logger.Error(err),
			)
		}
	}()

	err = tenancy.Run(ctx, t.ID, func(ctx context.Context) error {
		var runErr error
		applied, runErr = s.applier.Apply(ctx, t.Schema)
		return runErr
	})
	return applied, err
}
