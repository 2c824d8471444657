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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opentrusty/trustcore/internal/apikey"
	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/authconfig"
	"github.com/opentrusty/trustcore/internal/clock"
	"github.com/opentrusty/trustcore/internal/config"
	"github.com/opentrusty/trustcore/internal/features"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/signin"
	"github.com/opentrusty/trustcore/internal/store/memory"
	"github.com/opentrusty/trustcore/internal/store/postgres"
	"github.com/opentrusty/trustcore/internal/tenant"
)

// backend is the selected storage adapter seen through each consumer's
// repository interface.
type backend struct {
	tenants  tenant.Repository
	keys     apikey.Repository
	tokens   signin.Repository
	policies authconfig.Repository
	features features.Repository
	health   interface{ Ping(context.Context) error }
	close    func()
}

func databaseConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		URL:             cfg.Database.URL,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Database.Driver {
	case "memory":
		slog.Warn("using in-memory storage; data is lost on exit")
		st := memory.New()
		return &backend{
			tenants:  st,
			keys:     st,
			tokens:   st,
			policies: st,
			features: st,
			health:   st,
			close:    func() {},
		}, nil
	case "postgres":
		db, err := postgres.New(ctx, databaseConfig(cfg))
		if err != nil {
			return nil, err
		}
		slog.Info("connected to database")
		return &backend{
			tenants:  postgres.NewTenantRepository(db),
			keys:     postgres.NewKeyRepository(db),
			tokens:   postgres.NewTokenRepository(db),
			policies: postgres.NewPolicyRepository(db),
			features: postgres.NewFeatureRepository(db),
			health:   db,
			close:    db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// openFeatureCache returns a nil cache when no Redis URL is configured. An
// unreachable Redis is logged and tolerated; reads fall through to storage.
// The returned close func is always safe to call.
func openFeatureCache(ctx context.Context, cfg *config.Config) (features.Cache, func(), error) {
	if cfg.Redis.URL == "" {
		return nil, func() {}, nil
	}
	cache, err := features.NewRedisCache(cfg.Redis.URL, cfg.Redis.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	if err := cache.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "feature cache unreachable", logger.Error(err))
	}
	return cache, func() { _ = cache.Close() }, nil
}

type services struct {
	tenants    *tenant.Service
	signin     *signin.Service
	authConfig *authconfig.Registry
	features   *features.Service
	validator  *apikey.Validator
}

func newServices(cfg *config.Config, b *backend, cache features.Cache, clk clock.Clock) *services {
	hasher := apikey.NewHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	auditLogger := audit.NewSlogLogger(slog.Default())
	registry := authconfig.NewRegistry(b.policies, clk)

	return &services{
		tenants: tenant.NewService(
			b.tenants,
			apikey.NewIssuer(hasher),
			tenant.NewCanceller([]byte(cfg.Security.CancellationSigningKey), clk),
			cache,
			auditLogger,
			clk,
		),
		signin:     signin.NewService(b.tokens, registry, clk),
		authConfig: registry,
		features:   features.NewService(b.features, cache),
		validator:  apikey.NewValidator(b.keys, hasher, clk),
	}
}
