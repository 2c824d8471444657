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
	"github.com/opentrusty/trustcore/internal/signin"
)

// TokenRepository implements signin.Repository
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new sign-in token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

var _ signin.Repository = (*TokenRepository)(nil)

func (r *TokenRepository) SaveToken(ctx context.Context, rec *signin.Record) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO signin_tokens (tenant_id, token_hash, user_id, purpose, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.TenantID, rec.Hash, rec.UserID, rec.Purpose, rec.IssuedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", classify(err))
	}
	return nil
}

// ConsumeToken deletes and returns the row in one statement, so concurrent
// verifications of the same token see at most one success.
func (r *TokenRepository) ConsumeToken(ctx context.Context, tenantID, hash string) (*signin.Record, error) {
	var rec signin.Record
	err := r.db.pool.QueryRow(ctx, `
		DELETE FROM signin_tokens
		WHERE tenant_id = $1 AND token_hash = $2
		RETURNING token_hash, tenant_id, user_id, purpose, issued_at, expires_at
	`, tenantID, hash).Scan(&rec.Hash, &rec.TenantID, &rec.UserID, &rec.Purpose, &rec.IssuedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, signin.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume token: %w", classify(err))
	}
	return &rec, nil
}

func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM signin_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}
