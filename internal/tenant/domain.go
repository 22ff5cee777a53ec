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
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pollify/pollify/internal/observability/logger"
)

const maxDomainLength = 253

var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NormalizeDomain lowercases and validates an email domain.
func NormalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" || len(d) > maxDomainLength || !domainPattern.MatchString(d) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return d, nil
}

// DomainFromEmail returns the normalized part after the last '@'.
func DomainFromEmail(email string) (string, error) {
	i := strings.LastIndexByte(email, '@')
	if i < 1 || i == len(email)-1 {
		return "", fmt.Errorf("%w: no domain in address", ErrInvalidDomain)
	}
	return NormalizeDomain(email[i+1:])
}

// DomainLookup resolves an email domain to a tenant id.
type DomainLookup interface {
	Lookup(ctx context.Context, domain string) (tenantID string, found bool, err error)
}

// DomainCache stores domain to tenant id mappings. Implementations treat
// backend errors as misses.
type DomainCache interface {
	Get(ctx context.Context, domain string) (string, bool)
	Set(ctx context.Context, domain, tenantID string, ttl time.Duration)
	Delete(ctx context.Context, domain string)
}

// CachedDomainLookup reads through a DomainCache to the domain index.
// Only hits are cached: a domain registered after a miss is visible on
// the next request.
type CachedDomainLookup struct {
	repo   DomainRepository
	cache  DomainCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedDomainLookup creates a lookup. A nil cache disables caching.
func NewCachedDomainLookup(repo DomainRepository, cache DomainCache, ttl time.Duration, log *slog.Logger) *CachedDomainLookup {
	if log == nil {
		log = slog.Default()
	}
	return &CachedDomainLookup{repo: repo, cache: cache, ttl: ttl, logger: log}
}

// Lookup implements DomainLookup
func (l *CachedDomainLookup) Lookup(ctx context.Context, domain string) (string, bool, error) {
	if l.cache != nil {
		if id, ok := l.cache.Get(ctx, domain); ok {
			return id, true, nil
		}
	}

	id, err := l.repo.FindTenantID(ctx, domain)
	if errors.Is(err, ErrDomainNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("domain lookup: %w", err)
	}

	if l.cache != nil {
		l.cache.Set(ctx, domain, id, l.ttl)
	}
	l.logger.DebugContext(ctx, "domain resolved", logger.Domain(domain), logger.TenantID(id))
	return id, true, nil
}

// MemoryDomainCache is an in-process DomainCache with per-entry expiry
type MemoryDomainCache struct {
	mu      sync.RWMutex
	items   map[string]domainEntry
	maxSize int
	now     func() time.Time
}

type domainEntry struct {
	tenantID  string
	expiresAt time.Time
}

// DefaultDomainCacheSize bounds the in-process cache
const DefaultDomainCacheSize = 10000

// NewMemoryDomainCache creates an in-process cache holding at most maxSize entries
func NewMemoryDomainCache(maxSize int) *MemoryDomainCache {
	if maxSize <= 0 {
		maxSize = DefaultDomainCacheSize
	}
	return &MemoryDomainCache{
		items:   make(map[string]domainEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *MemoryDomainCache) Get(_ context.Context, domain string) (string, bool) {
	c.mu.RLock()
	e, ok := c.items[domain]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.items, domain)
		c.mu.Unlock()
		return "", false
	}
	return e.tenantID, true
}

func (c *MemoryDomainCache) Set(_ context.Context, domain, tenantID string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[domain]; !exists && len(c.items) >= c.maxSize {
		c.evictLocked()
	}
	c.items[domain] = domainEntry{tenantID: tenantID, expiresAt: c.now().Add(ttl)}
}

func (c *MemoryDomainCache) Delete(_ context.Context, domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, domain)
}

// evictLocked drops expired entries, or one arbitrary entry if none expired.
func (c *MemoryDomainCache) evictLocked() {
	now := c.now()
	evicted := false
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			evicted = true
		}
	}
	if evicted {
		return
	}
	for k := range c.items {
		delete(c.items, k)
		return
	}
}
