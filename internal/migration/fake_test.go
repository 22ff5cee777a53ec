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
	"errors"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// fakeDatabase records which migrations each schema has, using the real
// embedded scripts as the source of versions.
type fakeDatabase struct {
	mu          sync.Mutex
	schemas     map[string]bool
	applied     map[string]map[int64]int // schema -> version -> times applied
	failMigrate map[string]error
	failOpen    map[string]error
	opened      int
	closed      int
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		schemas:     map[string]bool{},
		applied:     map[string]map[int64]int{},
		failMigrate: map[string]error{},
		failOpen:    map[string]error{},
	}
}

func (d *fakeDatabase) Open(_ context.Context, schema string, set Set) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failOpen[schema]; err != nil {
		return nil, err
	}
	d.opened++
	return &fakeSession{db: d, schema: schema, set: set}, nil
}

func (d *fakeDatabase) timesApplied(schema string, version int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied[schema][version]
}

func (d *fakeDatabase) sessionsOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened - d.closed
}

type fakeSession struct {
	db     *fakeDatabase
	schema string
	set    Set
}

func (s *fakeSession) CreateSchema(context.Context) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.schemas[s.schema] = true
	return nil
}

func (s *fakeSession) Migrate(context.Context) ([]Applied, error) {
	versions, err := setVersions(s.set)
	if err != nil {
		return nil, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if !s.db.schemas[s.schema] {
		return nil, errors.New("schema does not exist")
	}
	if err := s.db.failMigrate[s.schema]; err != nil {
		return nil, err
	}
	if s.db.applied[s.schema] == nil {
		s.db.applied[s.schema] = map[int64]int{}
	}
	var out []Applied
	for _, v := range versions {
		if s.db.applied[s.schema][v] > 0 {
			continue
		}
		s.db.applied[s.schema][v]++
		out = append(out, Applied{Version: v})
	}
	return out, nil
}

func (s *fakeSession) Version(context.Context) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var max int64
	for v := range s.db.applied[s.schema] {
		if v > max {
			max = v
		}
	}
	return max, nil
}

func (s *fakeSession) Close() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.closed++
	return nil
}

func setVersions(set Set) ([]int64, error) {
	fsys, err := set.FS()
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	versions := make([]int64, 0, len(names))
	for _, name := range names {
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
