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

package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that only safe SQL identifiers pass schema name validation.
// Scope: Unit Test
// Security: SQL/identifier injection prevention
// Expected: Rejects empty, over-length, punctuation, whitespace and digit-leading names.
// Test Case ID: TNC-01
func TestValidateSchemaName(t *testing.T) {
	rejected := []string{
		"",
		strings.Repeat("a", 64),
		"drop_schema; --",
		"tenant'1",
		"tenant 1",
		"tenant\t1",
		"1tenant",
		"ten-ant",
		`"quoted"`,
		"tenant.public",
	}
	for _, name := range rejected {
		err := ValidateSchemaName(name)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "expected %q to be rejected", name)
	}

	accepted := []string{"tenant_1", "_abc", "a1b2c3", "ug_001", strings.Repeat("a", 63), "Master"}
	for _, name := range accepted {
		assert.NoError(t, ValidateSchemaName(name), "expected %q to be accepted", name)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	quoted, err := QuoteIdentifier("ug_001")
	require.NoError(t, err)
	assert.Equal(t, `"ug_001"`, quoted)

	_, err = QuoteIdentifier("x\"; DROP SCHEMA master; --")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	path, err := SearchPath("ug_001")
	require.NoError(t, err)
	assert.Equal(t, `"ug_001", public`, path)
}

// TestPurpose: Validates the administrative sentinel semantics of the tenant context.
// Scope: Unit Test
// Expected: Unset and cleared contexts report "master"; set contexts report the tenant.
// Test Case ID: TNC-02
func TestContext_SetGetClear(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Administrative, FromContext(ctx))
	assert.True(t, IsAdministrative(ctx))

	scoped := WithTenant(ctx, "ug_001")
	assert.Equal(t, "ug_001", FromContext(scoped))
	id, ok := TenantID(scoped)
	assert.True(t, ok)
	assert.Equal(t, "ug_001", id)

	// parent is untouched
	assert.Equal(t, Administrative, FromContext(ctx))

	cleared := Clear(scoped)
	assert.Equal(t, Administrative, FromContext(cleared))
	assert.Equal(t, Administrative, FromContext(Clear(cleared)), "clear is idempotent")

	assert.True(t, IsAdministrative(WithTenant(ctx, "")))
	assert.True(t, IsAdministrative(WithTenant(ctx, Administrative)))
}

// TestPurpose: Validates that scoped execution never leaks the tenant to the caller, even on error or panic.
// Scope: Unit Test
// Security: Cross-tenant leakage prevention
// Expected: The caller's context is administrative after Run returns, panics, or fails.
// Test Case ID: TNC-03
func TestRun_StateAlwaysClearedAfterwards(t *testing.T) {
	ctx := context.Background()

	err := Run(ctx, "ug_001", func(ctx context.Context) error {
		assert.Equal(t, "ug_001", FromContext(ctx))
		return errors.New("business failure")
	})
	assert.Error(t, err)
	assert.Equal(t, Administrative, FromContext(ctx))

	assert.Panics(t, func() {
		_ = Run(ctx, "knust_001", func(ctx context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, Administrative, FromContext(ctx))
}

// TestPurpose: Validates that concurrent scopes never observe each other's tenant.
// Scope: Unit Test
// Security: Cross-tenant leakage prevention under concurrency
// Expected: Every goroutine reads back only its own tenant.
// Test Case ID: TNC-04
func TestRun_ConcurrentIsolation(t *testing.T) {
	const workers = 64
	root := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("tenant_%03d", i)
			_ = Run(root, want, func(ctx context.Context) error {
				for range 100 {
					if got := FromContext(ctx); got != want {
						errs <- fmt.Errorf("worker %d observed %s", i, got)
						return nil
					}
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, Administrative, FromContext(root))
}
