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
	"github.com/opentrusty/trustcore/internal/apikey"
	"github.com/opentrusty/trustcore/internal/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

var _ tenant.Repository = (*TenantRepository)(nil)

// Exists reports whether the account id is taken
func (r *TenantRepository) Exists(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE account_id = $1)`, accountID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant: %w", classify(err))
	}
	return exists, nil
}

// Get retrieves an account
func (r *TenantRepository) Get(ctx context.Context, accountID string) (*tenant.Account, error) {
	var a tenant.Account
	err := r.db.pool.QueryRow(ctx, `
		SELECT account_id, created_at, admin_emails, subscription_tier, deleted_at
		FROM tenants
		WHERE account_id = $1
	`, accountID).Scan(&a.AccountID, &a.CreatedAt, &a.AdminEmails, &a.SubscriptionTier, &a.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", classify(err))
	}
	return &a, nil
}

// Create writes the account, its keys and default features in one transaction
func (r *TenantRepository) Create(ctx context.Context, p *tenant.Provision) error {
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		emails := p.Account.AdminEmails
		if emails == nil {
			emails = []string{}
		}

		batch := &pgx.Batch{}
		batch.Queue(`
			INSERT INTO tenants (account_id, created_at, admin_emails, subscription_tier, deleted_at)
			VALUES ($1, $2, $3, $4, $5)
		`, p.Account.AccountID, p.Account.CreatedAt, emails, p.Account.SubscriptionTier, p.Account.DeletedAt)

		for _, k := range p.Keys {
			batch.Queue(`
				INSERT INTO api_keys (tenant_id, key_id, class, stored_value, scopes, locked, locked_at, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, p.Account.AccountID, k.KeyID, string(k.Class), k.Stored.Encoded(), scopeStrings(k.Scopes), k.Locked, k.LockedAt, k.CreatedAt)
		}

		f := p.Features
		batch.Queue(`
			INSERT INTO features (
				tenant_id, event_logging_enabled, retention_period_seconds, developer_logging_ends_at,
				max_users, allow_attestation, signin_token_endpoint_enabled
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, p.Account.AccountID, f.EventLoggingEnabled, int64(f.RetentionPeriod/time.Second), f.DeveloperLoggingEndsAt,
			f.MaxUsers, f.AllowAttestation, f.SigninTokenEndpointEnabled)

		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", classify(err))
	}
	return nil
}

// ListKeys retrieves every key of the account
func (r *TenantRepository) ListKeys(ctx context.Context, accountID string) ([]apikey.Record, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT key_id, tenant_id, class, stored_value, scopes, locked, locked_at, created_at
		FROM api_keys
		WHERE tenant_id = $1
		ORDER BY created_at, key_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", classify(err))
	}
	defer rows.Close()

	var keys []apikey.Record
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", classify(err))
		}
		keys = append(keys, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", classify(err))
	}
	return keys, nil
}

// lockTenantRow takes the row lock on the tenant and returns its schedule.
// Every lifecycle transition goes through it, so they serialize per tenant.
func lockTenantRow(ctx context.Context, tx pgx.Tx, accountID string) (*time.Time, error) {
	var deletedAt *time.Time
	err := tx.QueryRow(ctx,
		`SELECT deleted_at FROM tenants WHERE account_id = $1 FOR UPDATE`, accountID,
	).Scan(&deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	return deletedAt, err
}

func setKeysLocked(ctx context.Context, tx pgx.Tx, accountID string, locked bool, lockedAt *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE api_keys SET locked = $2, locked_at = $3 WHERE tenant_id = $1
	`, accountID, locked, lockedAt)
	return err
}

// Lock locks every key of an active tenant
func (r *TenantRepository) Lock(ctx context.Context, accountID string, at time.Time) error {
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		deletedAt, err := lockTenantRow(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if deletedAt != nil {
			return &tenant.StateError{AccountID: accountID, DeleteAt: deletedAt}
		}
		return setKeysLocked(ctx, tx, accountID, true, &at)
	})
	return lifecycleErr("lock keys", err)
}

// ScheduleDeletion locks every key and sets deleted_at on an active tenant
func (r *TenantRepository) ScheduleDeletion(ctx context.Context, accountID string, at, deleteAt time.Time) error {
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		deletedAt, err := lockTenantRow(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if deletedAt != nil {
			return &tenant.StateError{AccountID: accountID, DeleteAt: deletedAt}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE tenants SET deleted_at = $2 WHERE account_id = $1 AND deleted_at IS NULL`,
			accountID, deleteAt,
		); err != nil {
			return err
		}
		return setKeysLocked(ctx, tx, accountID, true, &at)
	})
	return lifecycleErr("schedule deletion", err)
}

// Unlock unlocks every key and clears deleted_at
func (r *TenantRepository) Unlock(ctx context.Context, accountID string) (bool, error) {
	var cancelled bool
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		deletedAt, err := lockTenantRow(ctx, tx, accountID)
		if err != nil {
			return err
		}
		cancelled = deletedAt != nil
		if cancelled {
			if _, err := tx.Exec(ctx, `UPDATE tenants SET deleted_at = NULL WHERE account_id = $1`, accountID); err != nil {
				return err
			}
		}
		return setKeysLocked(ctx, tx, accountID, false, nil)
	})
	if err := lifecycleErr("unlock keys", err); err != nil {
		return false, err
	}
	return cancelled, nil
}

func lifecycleErr(op string, err error) error {
	var se *tenant.StateError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tenant.ErrNotFound), errors.As(err, &se):
		return err
	default:
		return fmt.Errorf("failed to %s: %w", op, classify(err))
	}
}

// HasUsers counts every user row, disabled or soft-deleted included
func (r *TenantRepository) HasUsers(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE tenant_id = $1)`, accountID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check users: %w", classify(err))
	}
	return exists, nil
}

// EraseActive removes a tenant with no scheduled deletion
func (r *TenantRepository) EraseActive(ctx context.Context, accountID string) error {
	return r.erase(ctx, accountID, func(deletedAt *time.Time) bool { return deletedAt == nil })
}

// EraseDue removes a tenant whose scheduled deletion is at or before now
func (r *TenantRepository) EraseDue(ctx context.Context, accountID string, now time.Time) error {
	return r.erase(ctx, accountID, func(deletedAt *time.Time) bool {
		return deletedAt != nil && !deletedAt.After(now)
	})
}

// erase removes the account and everything scoped to it in one transaction,
// provided the locked row satisfies allowed
func (r *TenantRepository) erase(ctx context.Context, accountID string, allowed func(*time.Time) bool) error {
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		deletedAt, err := lockTenantRow(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !allowed(deletedAt) {
			return &tenant.StateError{AccountID: accountID, DeleteAt: deletedAt}
		}

		batch := &pgx.Batch{}
		for _, table := range []string{"signin_tokens", "auth_policies", "features", "api_keys", "users"} {
			batch.Queue(`DELETE FROM ` + table + ` WHERE tenant_id = $1`, accountID)
		}
		batch.Queue(`DELETE FROM tenants WHERE account_id = $1`, accountID)
		return tx.SendBatch(ctx, batch).Close()
	})
	return lifecycleErr("erase tenant", err)
}

// ListPendingDeletion returns every account with a scheduled deletion
func (r *TenantRepository) ListPendingDeletion(ctx context.Context) ([]*tenant.Account, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT account_id, created_at, admin_emails, subscription_tier, deleted_at
		FROM tenants
		WHERE deleted_at IS NOT NULL
		ORDER BY deleted_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deletion: %w", classify(err))
	}
	defer rows.Close()

	var out []*tenant.Account
	for rows.Next() {
		var a tenant.Account
		if err := rows.Scan(&a.AccountID, &a.CreatedAt, &a.AdminEmails, &a.SubscriptionTier, &a.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", classify(err))
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pending deletion: %w", classify(err))
	}
	return out, nil
}

// AddUser records a user under a tenant. Users are owned elsewhere; this
// exists for provisioning scripts and tests.
func (r *TenantRepository) AddUser(ctx context.Context, accountID, userID string) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO users (tenant_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, accountID, userID)
	if err != nil {
		return fmt.Errorf("failed to add user: %w", classify(err))
	}
	return nil
}
