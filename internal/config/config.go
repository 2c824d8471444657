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

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `envPrefix:"SERVER_"`
	Database      DatabaseConfig      `envPrefix:"DB_"`
	Redis         RedisConfig         `envPrefix:"REDIS_"`
	Observability ObservabilityConfig
	Security      SecurityConfig      `envPrefix:"SECURITY_"`
	RateLimit     RateLimitConfig     `envPrefix:"RATELIMIT_"`
}

// RateLimitConfig holds per-client-IP rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RPS"   envDefault:"10"`
	Burst             int     `env:"BURST" envDefault:"20"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `env:"HOST"          envDefault:"0.0.0.0"`
	Port         string        `env:"PORT"          envDefault:"8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"  envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT"  envDefault:"60s"`
	// CancellationBaseURL is where deletion cancellation links point.
	CancellationBaseURL string `env:"CANCELLATION_BASE_URL" envDefault:"http://localhost:8080/admin/apps/cancel-delete"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver selects the storage adapter: postgres or memory.
	Driver          string        `env:"DRIVER"            envDefault:"postgres"`
	URL             string        `env:"URL"`
	Host            string        `env:"HOST"              envDefault:"localhost"`
	Port            string        `env:"PORT"              envDefault:"5432"`
	User            string        `env:"USER"              envDefault:"trustcore"`
	Password        string        `env:"PASSWORD"`
	Database        string        `env:"NAME"              envDefault:"trustcore"`
	SSLMode         string        `env:"SSLMODE"           envDefault:"disable"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}

// RedisConfig holds the feature cache configuration. An empty URL disables it.
type RedisConfig struct {
	URL      string        `env:"URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"5m"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string `env:"LOG_LEVEL"            envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT"           envDefault:"json"`
	OTELEnabled    bool   `env:"OTEL_ENABLED"         envDefault:"false"`
	OTELEndpoint   string `env:"OTEL_ENDPOINT"        envDefault:"localhost:4318"`
	OTELInsecure   bool   `env:"OTEL_INSECURE"        envDefault:"true"`
	ServiceName    string `env:"OTEL_SERVICE_NAME"    envDefault:"trustcore"`
	ServiceVersion string `env:"OTEL_SERVICE_VERSION" envDefault:"0.1.0"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Argon2Memory      uint32 `env:"ARGON2_MEMORY"      envDefault:"19456"`
	Argon2Iterations  uint32 `env:"ARGON2_ITERATIONS"  envDefault:"2"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"1"`
	Argon2SaltLength  uint32 `env:"ARGON2_SALT_LENGTH" envDefault:"16"`
	Argon2KeyLength   uint32 `env:"ARGON2_KEY_LENGTH"  envDefault:"32"`
	// ManagementKey guards the /admin routes.
	ManagementKey string `env:"MANAGEMENT_KEY"`
	// CancellationSigningKey signs deletion cancellation links.
	CancellationSigningKey string `env:"CANCELLATION_SIGNING_KEY"`
}

// Prefix is prepended to every environment variable name.
const Prefix = "TRUSTCORE_"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" && c.Database.Password == "" {
			errs = append(errs, errors.New(Prefix+"DB_PASSWORD or "+Prefix+"DB_URL is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if len(c.Security.ManagementKey) < 16 {
		errs = append(errs, errors.New(Prefix+"SECURITY_MANAGEMENT_KEY must be at least 16 characters"))
	}
	if len(c.Security.CancellationSigningKey) < 32 {
		errs = append(errs, errors.New(Prefix+"SECURITY_CANCELLATION_SIGNING_KEY must be at least 32 characters"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	return errors.Join(errs...)
}
