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

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/trustcore/internal/apikey"
)

// KeyRepository implements apikey.Repository
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

var _ apikey.Repository = (*KeyRepository)(nil)

// GetAPIKey retrieves a key by tenant and trailing key id
func (r *KeyRepository) GetAPIKey(ctx context.Context, tenantID, keyID string) (*apikey.Record, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT key_id, tenant_id, class, stored_value, scopes, locked, locked_at, created_at
		FROM api_keys
		WHERE tenant_id = $1 AND key_id = $2
	`, tenantID, keyID)

	rec, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apikey.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", classify(err))
	}
	return rec, nil
}

func scanKey(row pgx.Row) (*apikey.Record, error) {
	var (
		rec    apikey.Record
		class  string
		stored string
		scopes []string
	)
	if err := row.Scan(&rec.KeyID, &rec.TenantID, &class, &stored, &scopes, &rec.Locked, &rec.LockedAt, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Class = apikey.Class(class)
	rec.Stored = apikey.StoredFor(rec.Class, stored)
	for _, s := range scopes {
		rec.Scopes = append(rec.Scopes, apikey.Scope(s))
	}
	return &rec, nil
}

func scopeStrings(scopes []apikey.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
