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

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pollify/pollify/internal/routing"
	"github.com/pollify/pollify/internal/tenant"
)

const tenantColumns = `
	tenant_id, uuid, name, email, admin_email, admin_first_name, admin_last_name,
	admin_password_hash, school_type, school_code, status, database_schema,
	onboarding_completed, created_at, onboarded_at`

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db executor
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db executor) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create inserts a tenant row
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	var code sql.NullString
	if t.SchoolCode != "" {
		code = sql.NullString{String: t.SchoolCode, Valid: true}
	}

	return r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO pollify_tenant (`+tenantColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			t.ID, t.UUID, t.Name, t.Email, t.AdminEmail, t.AdminFirstName, t.AdminLastName,
			t.AdminPasswordHash, t.SchoolType, code, t.Status, t.Schema,
			t.OnboardingCompleted, t.CreatedAt, t.OnboardedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", tenant.ErrTenantExists, t.ID)
			}
			return fmt.Errorf("failed to insert tenant: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a tenant by id
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM pollify_tenant WHERE tenant_id = $1`, id)
}

// GetBySchema retrieves a tenant by schema name
func (r *TenantRepository) GetBySchema(ctx context.Context, schema string) (*tenant.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM pollify_tenant WHERE database_schema = $1`, schema)
}

// GetByAdminEmail retrieves the tenant administered by email, case-insensitively
func (r *TenantRepository) GetByAdminEmail(ctx context.Context, email string) (*tenant.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM pollify_tenant WHERE lower(admin_email) = lower($1)`, email)
}

func (r *TenantRepository) getOne(ctx context.Context, query string, arg string) (*tenant.Tenant, error) {
	var t *tenant.Tenant
	err := r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		var err error
		t, err = scanTenant(conn.QueryRow(ctx, query, arg))
		return err
	})
	if err != nil {
		if isNoRows(err) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// List returns a page of tenants, newest first
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+tenantColumns+`
		FROM pollify_tenant
		ORDER BY created_at DESC, tenant_id
		LIMIT $1 OFFSET $2
	`, limit, max(offset, 0))
}

// ListAll returns every tenant ordered by id
func (r *TenantRepository) ListAll(ctx context.Context) ([]*tenant.Tenant, error) {
	return r.list(ctx, `SELECT `+tenantColumns+` FROM pollify_tenant ORDER BY tenant_id`)
}

func (r *TenantRepository) list(ctx context.Context, query string, args ...any) ([]*tenant.Tenant, error) {
	var tenants []*tenant.Tenant
	err := r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTenant(rows)
			if err != nil {
				return err
			}
			tenants = append(tenants, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

// ExistsByID reports whether a tenant id is taken
func (r *TenantRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM pollify_tenant WHERE tenant_id = $1)`, id)
}

// ExistsBySchema reports whether a schema name is taken
func (r *TenantRepository) ExistsBySchema(ctx context.Context, schema string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM pollify_tenant WHERE database_schema = $1)`, schema)
}

// ExistsByEmail reports whether an address is used as a school or admin email
func (r *TenantRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pollify_tenant
			WHERE lower(email) = lower($1) OR lower(admin_email) = lower($1)
		)`, email)
}

// ExistsBySchoolCode reports whether a school code is taken
func (r *TenantRepository) ExistsBySchoolCode(ctx context.Context, code string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM pollify_tenant WHERE school_code = $1)`, code)
}

func (r *TenantRepository) exists(ctx context.Context, query, arg string) (bool, error) {
	var exists bool
	err := r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		return conn.QueryRow(ctx, query, arg).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check tenant existence: %w", err)
	}
	return exists, nil
}

// UpdateStatus sets the tenant status
func (r *TenantRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.update(ctx, `UPDATE pollify_tenant SET status = $2 WHERE tenant_id = $1`, id, status)
}

// MarkOnboarded activates a provisioned tenant
func (r *TenantRepository) MarkOnboarded(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE pollify_tenant
		SET status = 'ACTIVE', onboarding_completed = TRUE, onboarded_at = now()
		WHERE tenant_id = $1
	`, id)
}

func (r *TenantRepository) update(ctx context.Context, query string, args ...any) error {
	return r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		tag, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update tenant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tenant.ErrTenantNotFound
		}
		return nil
	})
}

// CountByStatus counts tenants per status
func (r *TenantRepository) CountByStatus(ctx context.Context) (*tenant.Stats, error) {
	stats := &tenant.Stats{}
	err := r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT count(*),
				count(*) FILTER (WHERE status = 'ACTIVE'),
				count(*) FILTER (WHERE status = 'PENDING'),
				count(*) FILTER (WHERE status = 'SUSPENDED')
			FROM pollify_tenant
		`).Scan(&stats.Total, &stats.Active, &stats.Pending, &stats.Suspended)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count tenants: %w", err)
	}
	return stats, nil
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var code sql.NullString
	var onboardedAt sql.NullTime

	if err := row.Scan(
		&t.ID, &t.UUID, &t.Name, &t.Email, &t.AdminEmail, &t.AdminFirstName, &t.AdminLastName,
		&t.AdminPasswordHash, &t.SchoolType, &code, &t.Status, &t.Schema,
		&t.OnboardingCompleted, &t.CreatedAt, &onboardedAt,
	); err != nil {
		return nil, err
	}

	t.SchoolCode = code.String
	if onboardedAt.Valid {
		t.OnboardedAt = &onboardedAt.Time
	}
	return &t, nil
}
