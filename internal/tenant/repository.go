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

package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrTenantExists         = errors.New("tenant already exists")
	ErrDomainNotFound       = errors.New("email domain not found")
	ErrDomainExists         = errors.New("email domain already registered")
	ErrInvalidDomain        = errors.New("invalid email domain")
	ErrInvalidStatus        = errors.New("invalid tenant status transition")
	ErrTenantCreationFailed = errors.New("tenant creation failed")
	ErrInvalidTenant        = errors.New("invalid tenant request")
)

// Repository is the tenant registry. Rows live in the administrative
// schema. No method changes a tenant's schema once stored.
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySchema(ctx context.Context, schema string) (*Tenant, error)
	GetByAdminEmail(ctx context.Context, email string) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
	ListAll(ctx context.Context) ([]*Tenant, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	ExistsBySchema(ctx context.Context, schema string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsBySchoolCode(ctx context.Context, code string) (bool, error)
	UpdateStatus(ctx context.Context, id, status string) error
	MarkOnboarded(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (*Stats, error)
}

// DomainRepository is the email domain index. Domains are stored lowercase.
type DomainRepository interface {
	FindTenantID(ctx context.Context, domain string) (string, error)
	Exists(ctx context.Context, domain string) (bool, error)
	Create(ctx context.Context, domain, tenantID string) error
}
