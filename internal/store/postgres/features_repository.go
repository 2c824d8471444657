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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/trustcore/internal/features"
)

// FeatureRepository implements features.Repository
type FeatureRepository struct {
	db *DB
}

// NewFeatureRepository creates a new feature repository
func NewFeatureRepository(db *DB) *FeatureRepository {
	return &FeatureRepository{db: db}
}

var _ features.Repository = (*FeatureRepository)(nil)

func (r *FeatureRepository) GetFeatures(ctx context.Context, tenantID string) (*features.Features, error) {
	var (
		f         features.Features
		retention int64
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT tenant_id, event_logging_enabled, retention_period_seconds, developer_logging_ends_at,
			max_users, allow_attestation, signin_token_endpoint_enabled
		FROM features
		WHERE tenant_id = $1
	`, tenantID).Scan(&f.TenantID, &f.EventLoggingEnabled, &retention, &f.DeveloperLoggingEndsAt,
		&f.MaxUsers, &f.AllowAttestation, &f.SigninTokenEndpointEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, features.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get features: %w", classify(err))
	}
	f.RetentionPeriod = time.Duration(retention) * time.Second
	return &f, nil
}

func (r *FeatureRepository) SetFeatures(ctx context.Context, f *features.Features) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE features SET
			event_logging_enabled = $2,
			retention_period_seconds = $3,
			developer_logging_ends_at = $4,
			max_users = $5,
			allow_attestation = $6,
			signin_token_endpoint_enabled = $7
		WHERE tenant_id = $1
	`, f.TenantID, f.EventLoggingEnabled, int64(f.RetentionPeriod/time.Second), f.DeveloperLoggingEndsAt,
		f.MaxUsers, f.AllowAttestation, f.SigninTokenEndpointEnabled)
	if err != nil {
		return fmt.Errorf("failed to set features: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return features.ErrNotFound
	}
	return nil
}
