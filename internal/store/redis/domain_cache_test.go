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

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollify/pollify/internal/tenant"
)

var _ tenant.DomainCache = (*DomainCache)(nil)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *DomainCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewDomainCache(client, "pollify:domain:", nil)
}

func TestDomainCache_SetGetDelete(t *testing.T) {
	mr, cache := setupTestRedis(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "st.ug.edu.gh")
	assert.False(t, ok)

	cache.Set(ctx, "st.ug.edu.gh", "ug_001", time.Minute)
	id, ok := cache.Get(ctx, "st.ug.edu.gh")
	require.True(t, ok)
	assert.Equal(t, "ug_001", id)

	got, err := mr.Get("pollify:domain:st.ug.edu.gh")
	require.NoError(t, err)
	assert.Equal(t, "ug_001", got)

	cache.Delete(ctx, "st.ug.edu.gh")
	_, ok = cache.Get(ctx, "st.ug.edu.gh")
	assert.False(t, ok)
}

func TestDomainCache_Expiry(t *testing.T) {
	mr, cache := setupTestRedis(t)
	ctx := context.Background()

	cache.Set(ctx, "knust.edu.gh", "knust_001", time.Minute)
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "knust.edu.gh")
	assert.False(t, ok)
}

// TestPurpose: Validates that a cache outage degrades to misses.
// Scope: Unit Test
// Expected: Get reports a miss and Set does not panic when Redis is down.
// Test Case ID: CCH-01
func TestDomainCache_OutageIsMiss(t *testing.T) {
	mr, cache := setupTestRedis(t)
	ctx := context.Background()

	cache.Set(ctx, "st.ug.edu.gh", "ug_001", time.Minute)
	mr.Close()

	_, ok := cache.Get(ctx, "st.ug.edu.gh")
	assert.False(t, ok)
	cache.Set(ctx, "st.ug.edu.gh", "ug_001", time.Minute)
	cache.Delete(ctx, "st.ug.edu.gh")
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := Connect(ctx, Config{URL: "redis://" + mr.Addr() + "/0", RetryAttempts: 1})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, Healthcheck(client)(ctx))

	_, err = Connect(ctx, Config{URL: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidURL)
}
