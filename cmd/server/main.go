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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/pollify/pollify/internal/audit"
	"github.com/pollify/pollify/internal/auth"
	"github.com/pollify/pollify/internal/config"
	"github.com/pollify/pollify/internal/credential"
	"github.com/pollify/pollify/internal/migration"
	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/observability/metrics"
	"github.com/pollify/pollify/internal/observability/tracing"
	"github.com/pollify/pollify/internal/routing"
	"github.com/pollify/pollify/internal/store/postgres"
	redisstore "github.com/pollify/pollify/internal/store/redis"
	"github.com/pollify/pollify/internal/tenant"
	transportHTTP "github.com/pollify/pollify/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "bootstrap":
			if err := runBootstrap(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "Bootstrap failed: %v\n", err)
				os.Exit(1)
			}
			return
		case "migrate":
			if err := runMigrate(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
				os.Exit(1)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (want bootstrap or migrate)\n", os.Args[1])
			os.Exit(2)
		}
	}

	if err := run(cfg); err != nil {
		slog.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, "starting pollify tenancy core",
		logger.String("environment", cfg.Observability.Environment),
		logger.String("admin_schema", cfg.Tenancy.AdminSchema),
	)

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize tracer", logger.Error(err))
	} else {
		defer tracer.Shutdown(context.WithoutCancel(ctx))
	}

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize meter", logger.Error(err))
		meter = metrics.Noop()
	}

	db, provider, err := openDatabase(ctx, cfg, meter)
	if err != nil {
		return err
	}
	defer db.Close()

	opener, err := migration.NewSQLOpener(cfg.Database.DSN(), cfg.Database.MigrationsTable, slog.Default())
	if err != nil {
		return err
	}
	tenantMigrator := migration.NewSchemaProvisioner(opener, migration.WithMeter(meter))

	if err := migrateAdmin(ctx, cfg, opener, meter); err != nil {
		return err
	}

	tenantRepo := postgres.NewTenantRepository(provider)
	domainRepo := postgres.NewDomainRepository(provider)
	sweeper := migration.NewSweeper(tenantRepo, tenantMigrator, cfg.Tenancy.SweepConcurrency, slog.Default(), meter)

	// A failing tenant never blocks startup; its requests fail until fixed.
	if cfg.Tenancy.AutoSyncMigrations {
		if _, err := sweeper.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "startup migration sweep failed", logger.Error(err))
		}
	}

	handlerOpts := []transportHTTP.HandlerOption{
		transportHTTP.WithLogger(slog.Default()),
		transportHTTP.WithMeter(meter),
		transportHTTP.WithHealthCheck("postgres", db.Healthcheck),
	}

	var cache tenant.DomainCache = tenant.NewMemoryDomainCache(tenant.DefaultDomainCacheSize)
	if cfg.Redis.URL != "" {
		client, err := redisstore.Connect(ctx, redisstore.Config{
			URL:            cfg.Redis.URL,
			RetryAttempts:  cfg.Redis.RetryAttempts,
			RetryInterval:  cfg.Redis.RetryInterval,
			ConnectTimeout: cfg.Redis.ConnectTimeout,
		})
		if err != nil {
			slog.WarnContext(ctx, "redis unavailable, using in-process domain cache", logger.Error(err))
		} else {
			defer client.Close()
			cache = redisstore.NewDomainCache(client, cfg.Redis.KeyPrefix, slog.Default())
			handlerOpts = append(handlerOpts, transportHTTP.WithHealthCheck("redis", redisstore.Healthcheck(client)))
		}
	}

	auditLogger := audit.NewSlogLogger(slog.Default())
	hasher := newHasher(cfg)
	domainLookup := tenant.NewCachedDomainLookup(domainRepo, cache, cfg.Tenancy.DomainCacheTTL, slog.Default())
	tenantService := tenant.NewService(tenantRepo, domainRepo, tenantMigrator, hasher, auditLogger, cfg.Tenancy.AutoProvision)

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer, cfg.Auth.TokenExpiry)
	if err != nil {
		return err
	}
	resolver := auth.NewResolver(tokens, domainLookup, cfg.Tenancy.EmailLookupPaths, slog.Default(), meter)

	handler := transportHTTP.NewHandler(tenantService, tokens, hasher, provider, sweeper, auditLogger, handlerOpts...)
	rateLimiter := transportHTTP.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	router := transportHTTP.NewRouter(handler, resolver, rateLimiter, cfg.Server.RequestTimeout)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "starting http server", logger.Component("server"), logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, meter *metrics.Meter) (*postgres.DB, *routing.Provider, error) {
	db, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.Database.DSN(),
		AdminSchema:     cfg.Tenancy.AdminSchema,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectRetries:  cfg.Database.ConnectRetries,
		RetryInterval:   cfg.Database.RetryInterval,
	}, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	slog.InfoContext(ctx, "connected to database")

	provider, err := routing.NewProvider(routing.NewPgxPool(db.Pool()), cfg.Tenancy.AdminSchema,
		routing.WithLogger(slog.Default()),
		routing.WithMeter(meter),
		routing.WithResetTimeout(cfg.Tenancy.ResetTimeout),
	)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, provider, nil
}

// migrateAdmin brings the administrative schema up to date. The registry
// lives there, so failure is fatal.
func migrateAdmin(ctx context.Context, cfg *config.Config, opener migration.Opener, meter *metrics.Meter) error {
	admin := migration.NewSchemaProvisioner(opener,
		migration.WithSet(migration.SetAdmin),
		migration.WithMeter(meter),
	)
	applied, err := admin.Apply(ctx, cfg.Tenancy.AdminSchema)
	if err != nil {
		return fmt.Errorf("admin schema migration: %w", err)
	}
	slog.InfoContext(ctx, "admin schema ready",
		logger.Schema(cfg.Tenancy.AdminSchema),
		slog.Int("applied", len(applied)),
	)
	return nil
}

func newHasher(cfg *config.Config) *credential.Hasher {
	return credential.NewHasher(credential.Params{
		Memory:      cfg.Security.Argon2Memory,
		Iterations:  cfg.Security.Argon2Iterations,
		Parallelism: cfg.Security.Argon2Parallelism,
		SaltLength:  cfg.Security.Argon2SaltLength,
		KeyLength:   cfg.Security.Argon2KeyLength,
	})
}

// runBootstrap prints a platform admin token for BOOTSTRAP_ADMIN_EMAIL
func runBootstrap(cfg *config.Config) error {
	email := cfg.Auth.BootstrapAdminEmail
	if email == "" {
		return errors.New("BOOTSTRAP_ADMIN_EMAIL is required")
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer, cfg.Auth.TokenExpiry)
	if err != nil {
		return err
	}
	userID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("pollify:platform:"+email)).String()
	token, err := tokens.Issue(email, userID, "", auth.RoleSuperAdmin)
	if err != nil {
		return err
	}

	audit.NewSlogLogger(slog.Default()).Log(context.Background(), audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  userID,
		Resource: email,
		Metadata: map[string]any{"role": auth.RoleSuperAdmin},
	})
	fmt.Println(token)
	return nil
}

// runMigrate migrates the administrative schema and then every tenant
func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	meter := metrics.Noop()

	db, provider, err := openDatabase(ctx, cfg, meter)
	if err != nil {
		return err
	}
	defer db.Close()

	opener, err := migration.NewSQLOpener(cfg.Database.DSN(), cfg.Database.MigrationsTable, slog.Default())
	if err != nil {
		return err
	}
	if err := migrateAdmin(ctx, cfg, opener, meter); err != nil {
		return err
	}

	sweeper := migration.NewSweeper(postgres.NewTenantRepository(provider),
		migration.NewSchemaProvisioner(opener), cfg.Tenancy.SweepConcurrency, slog.Default(), meter)
	report, err := sweeper.Run(ctx)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d tenants failed to migrate", len(report.Failed), report.Total)
	}
	return nil
}
