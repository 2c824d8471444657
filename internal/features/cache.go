// Copyright 2026 The OpenTrusty Authors
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

package features

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheKey returns the redis key for a tenant's flags.
func CacheKey(tenantID string) string {
	return "features:" + tenantID
}

// RedisCache stores flags as JSON in redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache from a redis URL.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, tenantID string) (*Features, bool, error) {
	raw, err := c.client.Get(ctx, CacheKey(tenantID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var f Features
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false, fmt.Errorf("decode cached features: %w", err)
	}
	return &f, true, nil
}

func (c *RedisCache) Set(ctx context.Context, f *Features) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	return c.client.Set(ctx, CacheKey(f.TenantID), raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, CacheKey(tenantID)).Err()
}
