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

// Package redis shares the email domain to tenant mapping between
// instances.
package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pollify/pollify/internal/observability/logger"
)

var (
	ErrInvalidURL        = errors.New("failed to parse redis connection string")
	ErrNotReady          = errors.New("redis did not become ready")
	ErrHealthcheckFailed = errors.New("redis healthcheck failed")
)

// Config holds the connection settings
type Config struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// Connect opens a client and retries until the server answers a ping.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var lastErr error
	for range max(cfg.RetryAttempts, 1) {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, errors.Join(ErrNotReady, lastErr)
}

// Healthcheck pings the server
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// DomainCache implements tenant.DomainCache on Redis. Every backend error
// is logged and treated as a miss so lookups fall through to the index.
type DomainCache struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewDomainCache creates a cache whose keys are prefix + domain
func NewDomainCache(client redis.UniversalClient, prefix string, log *slog.Logger) *DomainCache {
	if log == nil {
		log = slog.Default()
	}
	return &DomainCache{client: client, prefix: prefix, logger: log}
}

func (c *DomainCache) key(domain string) string {
	return c.prefix + domain
}

func (c *DomainCache) Get(ctx context.Context, domain string) (string, bool) {
	id, err := c.client.Get(ctx, c.key(domain)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn(ctx, "domain cache read failed", domain, err)
		}
		return "", false
	}
	return id, true
}

func (c *DomainCache) Set(ctx context.Context, domain, tenantID string, ttl time.Duration) {
	if err := c.client.Set(ctx, c.key(domain), tenantID, ttl).Err(); err != nil {
		c.warn(ctx, "domain cache write failed", domain, err)
	}
}

func (c *DomainCache) Delete(ctx context.Context, domain string) {
	if err := c.client.Del(ctx, c.key(domain)).Err(); err != nil {
		c.warn(ctx, "domain cache delete failed", domain, err)
	}
}

func (c *DomainCache) warn(ctx context.Context, msg, domain string, err error) {
	c.logger.WarnContext(ctx, msg,
		logger.Component("domain_cache"),
		logger.Domain(domain),
		logger.Error(err),
	)
}
