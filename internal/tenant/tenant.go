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
	"time"

	"github.com/google/uuid"
)

// Tenant is one registered school. ID doubles as the schema name.
type Tenant struct {
	ID                  string     `json:"tenant_id"`
	UUID                uuid.UUID  `json:"tenant_uuid"`
	Name                string     `json:"university_name"`
	Email               string     `json:"university_email"`
	AdminEmail          string     `json:"admin_email"`
	AdminFirstName      string     `json:"admin_first_name"`
	AdminLastName       string     `json:"admin_last_name"`
	AdminPasswordHash   string     `json:"-"`
	SchoolType          string     `json:"school_type"`
	SchoolCode          string     `json:"school_code,omitempty"`
	Status              string     `json:"tenant_status"`
	Schema              string     `json:"database_schema"`
	OnboardingCompleted bool       `json:"onboarding_completed"`
	CreatedAt           time.Time  `json:"created_at"`
	OnboardedAt         *time.Time `json:"onboarded_at,omitempty"`
}

// Tenant statuses
const (
	StatusPending   = "PENDING"
	StatusActive    = "ACTIVE"
	StatusSuspended = "SUSPENDED"
)

// School types
const (
	SchoolTypeDomain = "DOMAIN_SCHOOL"
	SchoolTypeCode   = "CODE_SCHOOL"
)

// IsActive reports whether the tenant may serve requests
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// Stats counts tenants per status
type Stats struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Pending   int64 `json:"pending"`
	Suspended int64 `json:"suspended"`
}
