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

// Package migration creates schemas and keeps them at the latest
// structural version.
//
// Migrations are embedded SQL files in two sets: one for the administrative
// schema (tenant registry, domain index) and one applied to every tenant
// schema. Each schema tracks its own applied versions in a goose version
// table that lives inside that schema, so re-running is a no-op.
package migration

import (
	"embed"
	"fmt"
	"io/fs"
	"time"
)

//go:embed migrations
var embedded embed.FS

// Set selects which migration scripts apply to a schema.
type Set string

const (
	// SetAdmin builds the administrative schema.
	SetAdmin Set = "admin"
	// SetTenant builds a tenant schema.
	SetTenant Set = "tenant"
)

// FS returns the scripts of the set, rooted at the set directory.
func (s Set) FS() (fs.FS, error) {
	switch s {
	case SetAdmin, SetTenant:
	default:
		return nil, fmt.Errorf("unknown migration set %q", string(s))
	}
	return fs.Sub(embedded, "migrations/"+string(s))
}

// Applied describes one migration applied during a run.
type Applied struct {
	Version  int64
	Name     string
	Duration time.Duration
}
