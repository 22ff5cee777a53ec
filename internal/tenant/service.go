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
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pollify/pollify/internal/audit"
	"github.com/pollify/pollify/internal/observability/logger"
	"github.com/pollify/pollify/internal/tenancy"
)

const (
	maxTenantCounter  = 999
	maxSchoolCodeTry  = 1000
	minPasswordLength = 8
)

// Provisioner creates and migrates a tenant schema
type Provisioner interface {
	Provision(ctx context.Context, schema string) error
}

// PasswordHasher hashes tenant admin passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// CreateTenantRequest carries everything needed to register a school
type CreateTenantRequest struct {
	Name           string `json:"university_name"`
	Email          string `json:"university_email"`
	AdminEmail     string `json:"admin_email"`
	AdminFirstName string `json:"admin_first_name"`
	AdminLastName  string `json:"admin_last_name"`
	AdminPassword  string `json:"admin_password"`
	SchoolType     string `json:"school_type"`
	SchoolCode     string `json:"school_code,omitempty"`
	EmailDomain    string `json:"email_domain,omitempty"`
}

// Service provides tenant management business logic. All registry access
// runs in administrative scope regardless of the caller's tenant.
type Service struct {
	repo          Repository
	domains       DomainRepository
	provisioner   Provisioner
	hasher        PasswordHasher
	auditLogger   audit.Logger
	autoProvision bool
	logger        *slog.Logger
}

// NewService creates a new tenant service
func NewService(repo Repository, domains DomainRepository, provisioner Provisioner, hasher PasswordHasher, auditLogger audit.Logger, autoProvision bool) *Service {
	return &Service{
		repo:          repo,
		domains:       domains,
		provisioner:   provisioner,
		hasher:        hasher,
		auditLogger:   auditLogger,
		autoProvision: autoProvision,
		logger:        slog.Default(),
	}
}

// CreateTenant registers a school. The row is stored PENDING and becomes
// ACTIVE only after its schema is fully provisioned. Failures after the
// row is written leave it PENDING and return ErrTenantCreationFailed.
func (s *Service) CreateTenant(ctx context.Context, req CreateTenantRequest, actorID string) (*Tenant, error) {
	return s.create(ctx, req, actorID, s.autoProvision)
}

// Onboard registers a school and always provisions it. Domain schools
// must supply their email domain; code schools get a generated code.
func (s *Service) Onboard(ctx context.Context, req CreateTenantRequest, actorID string) (*Tenant, error) {
	if req.SchoolType == "" || req.SchoolType == SchoolTypeDomain {
		if strings.TrimSpace(req.EmailDomain) == "" {
			return nil, fmt.Errorf("%w: email domain is required for domain schools", ErrInvalidTenant)
		}
	}
	return s.create(ctx, req, actorID, true)
}

func (s *Service) create(ctx context.Context, req CreateTenantRequest, actorID string, provision bool) (*Tenant, error) {
	ctx = tenancy.Clear(ctx)

	domain, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	for _, email := range []string{req.Email, req.AdminEmail} {
		exists, err := s.repo.ExistsByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: email already registered", ErrTenantExists)
		}
	}

	if domain != "" {
		exists, err := s.domains.Exists(ctx, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to check domain: %w", err)
		}
		if exists {
			return nil, ErrDomainExists
		}
	}

	schoolCode := strings.ToUpper(strings.TrimSpace(req.SchoolCode))
	if req.SchoolType == SchoolTypeCode {
		if schoolCode, err = s.uniqueSchoolCode(ctx, req.Name, schoolCode); err != nil {
			return nil, err
		}
	}

	id, err := s.nextTenantID(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}

	uid, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant uuid: %w", err)
	}

	t := &Tenant{
		ID:                id,
		UUID:              uid,
		Name:              strings.TrimSpace(req.Name),
		Email:             req.Email,
		AdminEmail:        req.AdminEmail,
		AdminFirstName:    req.AdminFirstName,
		AdminLastName:     req.AdminLastName,
		AdminPasswordHash: hash,
		SchoolType:        req.SchoolType,
		SchoolCode:        schoolCode,
		Status:            StatusPending,
		Schema:            id,
		CreatedAt:         time.Now(),
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		ActorID:  actorID,
		Resource: t.Schema,
		Metadata: map[string]any{"school_type": t.SchoolType},
	})

	if domain != "" {
		if err := s.domains.Create(ctx, domain, t.ID); err != nil {
			return t, fmt.Errorf("%w: register domain: %w", ErrTenantCreationFailed, err)
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeDomainRegistered,
			TenantID: t.ID,
			ActorID:  actorID,
			Resource: domain,
		})
	}

	if !provision {
		return t, nil
	}
	if err := s.provision(ctx, t, actorID); err != nil {
		return t, err
	}
	return t, nil
}

// ProvisionTenant retries provisioning of a PENDING tenant
func (s *Service) ProvisionTenant(ctx context.Context, id, actorID string) (*Tenant, error) {
	ctx = tenancy.Clear(ctx)

	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, fmt.Errorf("%w: tenant is %s", ErrInvalidStatus, t.Status)
	}
	if err := s.provision(ctx, t, actorID); err != nil {
		return t, err
	}
	return t, nil
}

// provision creates the tenant schema and only then marks the row ACTIVE
func (s *Service) provision(ctx context.Context, t *Tenant, actorID string) error {
	if err := s.provisioner.Provision(ctx, t.Schema); err != nil {
		s.logger.ErrorContext(ctx, "tenant provisioning failed, tenant left pending",
			logger.Component("tenant"),
			logger.TenantID(t.ID),
			logger.Schema(t.Schema),
			logger.Error(err),
		)
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeTenantProvisionFailed,
			TenantID: t.ID,
			ActorID:  actorID,
			Resource: t.Schema,
		})
		return fmt.Errorf("%w: %w", ErrTenantCreationFailed, err)
	}

	if err := s.repo.MarkOnboarded(ctx, t.ID); err != nil {
		return fmt.Errorf("%w: activate: %w", ErrTenantCreationFailed, err)
	}

	now := time.Now()
	t.Status = StatusActive
	t.OnboardingCompleted = true
	t.OnboardedAt = &now

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantProvisioned,
		TenantID: t.ID,
		ActorID:  actorID,
		Resource: t.Schema,
	})
	s.logger.InfoContext(ctx, "tenant provisioned",
		logger.Component("tenant"),
		logger.TenantID(t.ID),
		logger.Schema(t.Schema),
	)
	return nil
}

// Suspend moves an ACTIVE tenant to SUSPENDED
func (s *Service) Suspend(ctx context.Context, id, actorID string) error {
	return s.transition(ctx, id, actorID, StatusActive, StatusSuspended, audit.TypeTenantSuspended)
}

// Activate moves a SUSPENDED tenant back to ACTIVE
func (s *Service) Activate(ctx context.Context, id, actorID string) error {
	return s.transition(ctx, id, actorID, StatusSuspended, StatusActive, audit.TypeTenantActivated)
}

func (s *Service) transition(ctx context.Context, id, actorID, from, to, eventType string) error {
	ctx = tenancy.Clear(ctx)

	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != from {
		return fmt.Errorf("%w: %s to %s", ErrInvalidStatus, t.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, to); err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		TenantID: id,
		ActorID:  actorID,
		Metadata: map[string]any{"from": from, "to": to},
	})
	return nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return s.repo.GetByID(tenancy.Clear(ctx), id)
}

// GetTenantByAdminEmail retrieves the tenant whose admin signs in with email
func (s *Service) GetTenantByAdminEmail(ctx context.Context, email string) (*Tenant, error) {
	return s.repo.GetByAdminEmail(tenancy.Clear(ctx), strings.TrimSpace(email))
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	return s.repo.List(tenancy.Clear(ctx), limit, offset)
}

// Stats counts tenants per status
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.CountByStatus(tenancy.Clear(ctx))
}

// validate normalizes req in place and returns the normalized email domain, if any
func (s *Service) validate(req *CreateTenantRequest) (string, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.AdminEmail = strings.ToLower(strings.TrimSpace(req.AdminEmail))

	if req.Name == "" {
		return "", fmt.Errorf("%w: university name is required", ErrInvalidTenant)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "", fmt.Errorf("%w: invalid university email", ErrInvalidTenant)
	}
	if req.AdminEmail == "" {
		req.AdminEmail = req.Email
	}
	if _, err := mail.ParseAddress(req.AdminEmail); err != nil {
		return "", fmt.Errorf("%w: invalid admin email", ErrInvalidTenant)
	}
	if len(req.AdminPassword) < minPasswordLength {
		return "", fmt.Errorf("%w: admin password must be at least %d characters", ErrInvalidTenant, minPasswordLength)
	}

	switch req.SchoolType {
	case "":
		req.SchoolType = SchoolTypeDomain
	case SchoolTypeDomain, SchoolTypeCode:
	default:
		return "", fmt.Errorf("%w: unknown school type %q", ErrInvalidTenant, req.SchoolType)
	}

	if strings.TrimSpace(req.EmailDomain) == "" || req.SchoolType != SchoolTypeDomain {
		return "", nil
	}
	domain, err := NormalizeDomain(req.EmailDomain)
	if err != nil {
		return "", err
	}
	return domain, nil
}

// nextTenantID returns the first free "<prefix>_NNN" id. The id is also
// the schema name, so both must be free.
func (s *Service) nextTenantID(ctx context.Context, name string) (string, error) {
	prefix := tenantIDPrefix(name)
	for n := 1; n <= maxTenantCounter; n++ {
		id := fmt.Sprintf("%s_%03d", prefix, n)
		if err := tenancy.ValidateSchemaName(id); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidTenant, err)
		}
		taken, err := s.repo.ExistsByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check tenant id: %w", err)
		}
		if !taken {
			taken, err = s.repo.ExistsBySchema(ctx, id)
			if err != nil {
				return "", fmt.Errorf("failed to check schema name: %w", err)
			}
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no free tenant id for prefix %s", ErrTenantExists, prefix)
}

// uniqueSchoolCode uses the requested code or one derived from the name,
// appending 1, 2, ... until it is free.
func (s *Service) uniqueSchoolCode(ctx context.Context, name, requested string) (string, error) {
	base := requested
	if base == "" {
		base = schoolCodeBase(name)
	}
	code := base
	for i := 1; i <= maxSchoolCodeTry; i++ {
		taken, err := s.repo.ExistsBySchoolCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check school code: %w", err)
		}
		if !taken {
			return code, nil
		}
		if requested != "" {
			return "", fmt.Errorf("%w: school code %s already in use", ErrTenantExists, requested)
		}
		code = fmt.Sprintf("%s%d", base, i)
	}
	return "", fmt.Errorf("%w: no free school code for %s", ErrTenantExists, base)
}
