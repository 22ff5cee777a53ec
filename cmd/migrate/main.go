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

// Command migrate runs schema migrations outside the server.
//
//	migrate admin             migrate the administrative schema
//	migrate sweep             migrate admin, then every registered tenant
//	migrate provision <id>    provision a PENDING tenant and mark it active
//	migrate status            print the migration version of every schema
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/pollify/pollify/internal/audit"
	"github.com/pollify/pollify/internal/config"
	"github.com/pollify/pollify/internal/credential"
	"github.com/pollify/pollify/internal/migration"
	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/observability/metrics"
	"github.com/pollify/pollify/internal/routing"
	"github.com/pollify/pollify/internal/store/postgres"
	"github.com/pollify/pollify/internal/tenant"
)

const actor = "cli:migrate"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName + "-migrate",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		slog.ErrorContext(ctx, "migrate failed", logger.Operation(os.Args[1]), logger.Error(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate admin | sweep | provision <tenant-id> | status")
}

type toolkit struct {
	cfg     *config.Config
	db      *postgres.DB
	opener  *migration.SQLOpener
	tenants *postgres.TenantRepository
	domains *postgres.DomainRepository
	meter   *metrics.Meter
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "admin", "sweep", "provision", "status":
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	tk, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer tk.db.Close()

	switch cmd {
	case "admin":
		return tk.migrateAdmin(ctx)
	case "sweep":
		if err := tk.migrateAdmin(ctx); err != nil {
			return err
		}
		return tk.sweep(ctx)
	case "provision":
		if len(args) != 1 {
			usage()
			return errors.New("provision needs exactly one tenant id")
		}
		return tk.provision(ctx, args[0])
	default:
		return tk.status(ctx)
	}
}

func open(ctx context.Context, cfg *config.Config) (*toolkit, error) {
	db, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.Database.DSN(),
		AdminSchema:     cfg.Tenancy.AdminSchema,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectRetries:  cfg.Database.ConnectRetries,
		RetryInterval:   cfg.Database.RetryInterval,
	}, slog.Default())
	if err != nil {
		return nil, err
	}

	provider, err := routing.NewProvider(routing.NewPgxPool(db.Pool()), cfg.Tenancy.AdminSchema,
		routing.WithResetTimeout(cfg.Tenancy.ResetTimeout))
	if err != nil {
		db.Close()
		return nil, err
	}

	opener, err := migration.NewSQLOpener(cfg.Database.DSN(), cfg.Database.MigrationsTable, slog.Default())
	if err != nil {
		db.Close()
		return nil, err
	}

	return &toolkit{
		cfg:     cfg,
		db:      db,
		opener:  opener,
		tenants: postgres.NewTenantRepository(provider),
		domains: postgres.NewDomainRepository(provider),
		meter:   metrics.Noop(),
	}, nil
}

func (tk *toolkit) migrateAdmin(ctx context.Context) error {
	admin := migration.NewSchemaProvisioner(tk.opener, migration.WithSet(migration.SetAdmin))
	applied, err := admin.Apply(ctx, tk.cfg.Tenancy.AdminSchema)
	if err != nil {
		return fmt.Errorf("admin schema: %w", err)
	}
	for _, a := range applied {
		fmt.Printf("%s\t%d\t%s\n", tk.cfg.Tenancy.AdminSchema, a.Version, a.Name)
	}
	fmt.Printf("admin schema %s up to date (%d applied)\n", tk.cfg.Tenancy.AdminSchema, len(applied))
	return nil
}

func (tk *toolkit) sweep(ctx context.Context) error {
	sweeper := migration.NewSweeper(tk.tenants, migration.NewSchemaProvisioner(tk.opener),
		tk.cfg.Tenancy.SweepConcurrency, slog.Default(), tk.meter)
	report, err := sweeper.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("tenants: %d  succeeded: %d  migrated: %d  failed: %d\n",
		report.Total, report.Succeeded, report.Migrated, len(report.Failed))
	ids := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %s: %v\n", id, report.Failed[id])
	}
	if len(ids) > 0 {
		return fmt.Errorf("%d tenants failed to migrate", len(ids))
	}
	return nil
}

func (tk *toolkit) provision(ctx context.Context, id string) error {
	hasher := credential.NewHasher(credential.Params{
		Memory:      tk.cfg.Security.Argon2Memory,
		Iterations:  tk.cfg.Security.Argon2Iterations,
		Parallelism: tk.cfg.Security.Argon2Parallelism,
		SaltLength:  tk.cfg.Security.Argon2SaltLength,
		KeyLength:   tk.cfg.Security.Argon2KeyLength,
	})
	svc := tenant.NewService(tk.tenants, tk.domains, migration.NewSchemaProvisioner(tk.opener),
		hasher, audit.NewSlogLogger(slog.Default()), true)

	t, err := svc.ProvisionTenant(ctx, id, actor)
	if err != nil {
		return err
	}
	fmt.Printf("tenant %s provisioned in schema %s, status %s\n", t.ID, t.Schema, t.Status)
	return nil
}

func (tk *toolkit) status(ctx context.Context) error {
	tenants, err := tk.tenants.ListAll(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEMA\tTENANT\tSTATUS\tVERSION")
	fmt.Fprintf(w, "%s\t-\t-\t%s\n", tk.cfg.Tenancy.AdminSchema,
		tk.version(ctx, tk.cfg.Tenancy.AdminSchema, migration.SetAdmin))
	for _, t := range tenants {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Schema, t.ID, t.Status,
			tk.version(ctx, t.Schema, migration.SetTenant))
	}
	return w.Flush()
}

func (tk *toolkit) version(ctx context.Context, schema string, set migration.Set) string {
	session, err := tk.opener.Open(ctx, schema, set)
	if err != nil {
		return "error: " + err.Error()
	}
	defer session.Close()

	v, err := session.Version(ctx)
	if err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("%d", v)
}
