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

package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instrument names shared across the tenancy subsystem
const (
	ConnAcquired       = "pollify.routing.connections_acquired"
	ConnRouteFailures  = "pollify.routing.route_failures"
	ConnResetFailures  = "pollify.routing.reset_failures"
	SchemasProvisioned = "pollify.migration.schemas_provisioned"
	ProvisionFailures  = "pollify.migration.provision_failures"
	ProvisionDuration  = "pollify.migration.provision_duration"
	SweepTenants       = "pollify.migration.sweep_tenants"
	DomainLookups      = "pollify.resolver.domain_lookups"
	LoginAttempts      = "pollify.auth.login_attempts"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Get meter from global meter provider
	// In production, configure a proper meter provider with exporters
	meter := otel.Meter(serviceName)

	return &Meter{
		meter: meter,
	}, nil
}

// Noop returns a meter whose instruments discard everything.
func Noop() *Meter {
	return &Meter{meter: noop.NewMeterProvider().Meter("noop")}
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// Counter returns a counter, falling back to a no-op instrument when the
// provider refuses to create it. Metrics never block the data path.
func (m *Meter) Counter(name, description string) metric.Int64Counter {
	if m == nil {
		return noop.Int64Counter{}
	}
	counter, err := m.CreateCounter(name, description)
	if err != nil {
		slog.Warn("metric instrument unavailable", slog.String("metric", name), slog.String("error", err.Error()))
		return noop.Int64Counter{}
	}
	return counter
}

// Histogram is the histogram counterpart of Counter.
func (m *Meter) Histogram(name, description, unit string) metric.Float64Histogram {
	if m == nil {
		return noop.Float64Histogram{}
	}
	histogram, err := m.CreateHistogram(name, description, unit)
	if err != nil {
		slog.Warn("metric instrument unavailable", slog.String("metric", name), slog.String("error", err.Error()))
		return noop.Float64Histogram{}
	}
	return histogram
}
