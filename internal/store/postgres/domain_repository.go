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
	"fmt"
	"strings"

	"github.com/pollify/pollify/internal/routing"
	"github.com/pollify/pollify/internal/tenant"
)

// DomainRepository implements tenant.DomainRepository
type DomainRepository struct {
	db executor
}

// NewDomainRepository creates a new email domain index repository
func NewDomainRepository(db executor) *DomainRepository {
	return &DomainRepository{db: db}
}

// FindTenantID returns the tenant registered for domain
func (r *DomainRepository) FindTenantID(ctx context.Context, domain string) (string, error) {
	var tenantID string
	err := r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT tenant_id FROM email_domain_index WHERE email_domain = $1`,
			strings.ToLower(domain),
		).Scan(&tenantID)
	})
	if err != nil {
		if isNoRows(err) {
			return "", tenant.ErrDomainNotFound
		}
		return "", fmt.Errorf("failed to find domain: %w", err)
	}
	return tenantID, nil
}

// Exists reports whether domain is registered
func (r *DomainRepository) Exists(ctx context.Context, domain string) (bool, error) {
	var exists bool
	err := r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM email_domain_index WHERE email_domain = $1)`,
			strings.ToLower(domain),
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check domain: %w", err)
	}
	return exists, nil
}

// Create registers domain for tenantID
func (r *DomainRepository) Create(ctx context.Context, domain, tenantID string) error {
	return r.db.WithAdminConn(ctx, func(conn routing.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO email_domain_index (email_domain, tenant_id) VALUES ($1, $2)`,
			strings.ToLower(domain), tenantID,
		)
		switch {
		case err == nil:
			return nil
		case isUniqueViolation(err):
			return fmt.Errorf("%w: %s", tenant.ErrDomainExists, domain)
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: %s", tenant.ErrTenantNotFound, tenantID)
		default:
			return fmt.Errorf("failed to register domain: %w", err)
		}
	})
}
