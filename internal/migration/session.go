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
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/pressly/goose/v3/lock"

	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/tenancy"
)

// DefaultVersionTable is the per-schema goose version table.
const DefaultVersionTable = "goose_db_version"

// Session is a dedicated connection pointed at one schema for the
// duration of a provisioning or migration run.
type Session interface {
	CreateSchema(ctx context.Context) error
	Migrate(ctx context.Context) ([]Applied, error)
	Version(ctx context.Context) (int64, error)
	Close() error
}

// Opener opens a Session for a schema and migration set.
type Opener interface {
	Open(ctx context.Context, schema string, set Set) (Session, error)
}

// SQLOpener opens sessions on their own single-connection *sql.DB so a
// long DDL run never occupies a slot of the request pool.
type SQLOpener struct {
	config       *pgx.ConnConfig
	versionTable string
	logger       *slog.Logger
}

// NewSQLOpener parses dsn once; every session copies the parsed config.
func NewSQLOpener(dsn, versionTable string, log *slog.Logger) (*SQLOpener, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if versionTable == "" {
		versionTable = DefaultVersionTable
	}
	if log == nil {
		log = slog.Default()
	}
	return &SQLOpener{config: cfg, versionTable: versionTable, logger: log}, nil
}

// Open validates schema, then connects with search_path set to the schema
// followed by public. The schema does not need to exist yet.
func (o *SQLOpener) Open(ctx context.Context, schema string, set Set) (Session, error) {
	path, err := tenancy.SearchPath(schema)
	if err != nil {
		return nil, err
	}

	cfg := o.config.Copy()
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["search_path"] = path

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return newSQLSession(db, schema, set, o.versionTable, o.logger), nil
}

type sqlSession struct {
	db           *sql.DB
	schema       string
	set          Set
	versionTable string
	logger       *slog.Logger
}

func newSQLSession(db *sql.DB, schema string, set Set, versionTable string, log *slog.Logger) *sqlSession {
	return &sqlSession{db: db, schema: schema, set: set, versionTable: versionTable, logger: log}
}

func (s *sqlSession) CreateSchema(ctx context.Context) error {
	quoted, err := tenancy.QuoteIdentifier(s.schema)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoted); err != nil {
		return fmt.Errorf("create schema %s: %w", s.schema, err)
	}
	return nil
}

func (s *sqlSession) Migrate(ctx context.Context) ([]Applied, error) {
	provider, err := s.goose()
	if err != nil {
		return nil, err
	}

	results, err := provider.Up(ctx)
	applied := make([]Applied, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil || r.Error != nil {
			continue
		}
		applied = append(applied, Applied{
			Version:  r.Source.Version,
			Name:     filepath.Base(r.Source.Path),
			Duration: r.Duration,
		})
	}
	if err != nil {
		return applied, fmt.Errorf("apply %s migrations: %w", s.set, err)
	}
	return applied, nil
}

func (s *sqlSession) Version(ctx context.Context) (int64, error) {
	provider, err := s.goose()
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

func (s *sqlSession) Close() error {
	return s.db.Close()
}

// goose builds a provider bound to this session's connection. The version
// table is unqualified so it resolves to the first schema on search_path,
// which is the schema being migrated.
func (s *sqlSession) goose() (*goose.Provider, error) {
	fsys, err := s.set.FS()
	if err != nil {
		return nil, err
	}

	store, err := database.NewStore(database.DialectPostgres, s.versionTable)
	if err != nil {
		return nil, fmt.Errorf("failed to create version store: %w", err)
	}

	locker, err := lock.NewPostgresSessionLocker(lock.WithLockID(lockID(s.schema)))
	if err != nil {
		return nil, fmt.Errorf("failed to create session locker: %w", err)
	}

	provider, err := goose.NewProvider("", s.db, fsys,
		goose.WithStore(store),
		goose.WithSessionLocker(locker),
		goose.WithLogger(newGooseLogger(s.logger, s.schema)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// lockID derives the advisory lock key for a schema, so that two processes
// never migrate the same schema at once while different schemas proceed.
func lockID(schema string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("pollify:migrate:" + schema))
	return int64(h.Sum64())
}

// gooseLogger bridges goose's Printf-style logging to slog.
type gooseLogger struct {
	log    *slog.Logger
	schema string
}

func newGooseLogger(log *slog.Logger, schema string) goose.Logger {
	return &gooseLogger{log: log, schema: schema}
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), logger.Component("migration"), logger.Schema(l.schema))
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), logger.Component("migration"), logger.Schema(l.schema))
}
