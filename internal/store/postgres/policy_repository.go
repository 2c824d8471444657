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

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/trustcore/internal/authconfig"
)

// PolicyRepository implements authconfig.Repository
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

var _ authconfig.Repository = (*PolicyRepository)(nil)

const policyColumns = `tenant_id, purpose, time_to_live_ms, user_verification, created_at, edited_at`

func (r *PolicyRepository) GetPolicy(ctx context.Context, tenantID, purpose string) (*authconfig.Policy, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM auth_policies WHERE tenant_id = $1 AND purpose = $2`, tenantID, purpose)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authconfig.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", classify(err))
	}
	return p, nil
}

func (r *PolicyRepository) ListPolicies(ctx context.Context, tenantID string) ([]*authconfig.Policy, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM auth_policies WHERE tenant_id = $1 ORDER BY purpose`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", classify(err))
	}
	defer rows.Close()

	var out []*authconfig.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", classify(err))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", classify(err))
	}
	return out, nil
}

func (r *PolicyRepository) UpsertPolicy(ctx context.Context, p *authconfig.Policy) (*authconfig.Policy, error) {
	row := r.db.pool.QueryRow(ctx, `
		INSERT INTO auth_policies (`+policyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, purpose) DO UPDATE SET
			time_to_live_ms = EXCLUDED.time_to_live_ms,
			user_verification = EXCLUDED.user_verification,
			edited_at = EXCLUDED.edited_at
		RETURNING `+policyColumns,
		p.TenantID, p.Purpose, p.TimeToLive.Milliseconds(), string(p.UserVerification), p.CreatedAt, p.EditedAt)

	stored, err := scanPolicy(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert policy: %w", classify(err))
	}
	return stored, nil
}

func (r *PolicyRepository) DeletePolicy(ctx context.Context, tenantID, purpose string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM auth_policies WHERE tenant_id = $1 AND purpose = $2`, tenantID, purpose)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return authconfig.ErrNotFound
	}
	return nil
}

func scanPolicy(row pgx.Row) (*authconfig.Policy, error) {
	var (
		p     authconfig.Policy
		ttlMS int64
		uv    string
	)
	if err := row.Scan(&p.TenantID, &p.Purpose, &ttlMS, &uv, &p.CreatedAt, &p.EditedAt); err != nil {
		return nil, err
	}
	p.TimeToLive = time.Duration(ttlMS) * time.Millisecond
	p.UserVerification = protocol.UserVerificationRequirement(uv)
	return &p, nil
}
