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

// Package features holds per-tenant feature flags and log retention settings.
package features

import (
	"context"
	"errors"
	"time"
)

// DefaultRetentionPeriod applies to new tenants.
const DefaultRetentionPeriod = 30 * 24 * time.Hour

// ErrNotFound is returned by a Repository when a tenant has no flags.
var ErrNotFound = errors.New("features not found")

// Features is the flag set of one tenant.
type Features struct {
	TenantID                   string        `json:"tenantId"`
	EventLoggingEnabled        bool          `json:"eventLoggingEnabled"`
	RetentionPeriod            time.Duration `json:"retentionPeriod"`
	DeveloperLoggingEndsAt     *time.Time    `json:"developerLoggingEndsAt,omitempty"`
	MaxUsers                   *int64        `json:"maxUsers,omitempty"`
	AllowAttestation           bool          `json:"allowAttestation"`
	SigninTokenEndpointEnabled bool          `json:"signinTokenEndpointEnabled"`
}

// Defaults returns the flags written at tenant creation.
func Defaults(tenantID string) Features {
	return Features{
		TenantID:                   tenantID,
		EventLoggingEnabled:        true,
		RetentionPeriod:            DefaultRetentionPeriod,
		SigninTokenEndpointEnabled: true,
	}
}

// Repository persists flags.
type Repository interface {
	GetFeatures(ctx context.Context, tenantID string) (*Features, error)
	SetFeatures(ctx context.Context, f *Features) error
}

// Cache fronts the repository. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, tenantID string) (*Features, bool, error)
	Set(ctx context.Context, f *Features) error
	Delete(ctx context.Context, tenantID string) error
}

// NopCache never holds anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*Features, bool, error) { return nil, false, nil }
func (NopCache) Set(context.Context, *Features) error                 { return nil }
func (NopCache) Delete(context.Context, string) error                 { return nil }
