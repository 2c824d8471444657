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

// Package tenant manages the lifecycle of applications (tenants): creation
// with their initial keys, freezing, scheduled deletion and erasure.
//
// States: Active -> PendingDeletion -> Deleted, and PendingDeletion ->
// Active on cancellation. A tenant is frozen when every key is locked.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentrusty/trustcore/internal/apikey"
	"github.com/opentrusty/trustcore/internal/features"
)

const (
	// KeysPerClass is the number of public and of secret keys issued at creation.
	KeysPerClass = 2

	// MinAgeForGracePeriod is the age below which deletion is immediate.
	MinAgeForGracePeriod = 3 * 24 * time.Hour

	DefaultSubscriptionTier = "free"
)

// ErrNotFound is returned by a Repository for an unknown account.
var ErrNotFound = errors.New("tenant not found")

// StateError is returned by a Repository when a conditional transition
// finds the tenant in another lifecycle state. DeleteAt is the schedule
// observed under the row lock, nil when the tenant is active.
type StateError struct {
	AccountID string
	DeleteAt  *time.Time
}

func (e *StateError) Error() string {
	if e.DeleteAt == nil {
		return fmt.Sprintf("tenant %s is active", e.AccountID)
	}
	return fmt.Sprintf("tenant %s is pending deletion at %s", e.AccountID, e.DeleteAt.Format(time.RFC3339))
}

// Account is a tenant.
type Account struct {
	AccountID        string     `json:"accountId"`
	CreatedAt        time.Time  `json:"createdAt"`
	AdminEmails      []string   `json:"adminEmails"`
	SubscriptionTier string     `json:"subscriptionTier"`
	DeletedAt        *time.Time `json:"deleteAt,omitempty"`
}

// PendingDeletion reports whether a deletion is scheduled.
func (a *Account) PendingDeletion() bool {
	return a.DeletedAt != nil
}

// Provision is everything written when a tenant is created. It is committed
// as a single unit.
type Provision struct {
	Account  Account
	Keys     []apikey.Record
	Features features.Features
}

// CreateOptions are the optional inputs to Create.
type CreateOptions struct {
	AdminEmails      []string
	SubscriptionTier string
}

// CreateResult carries the plaintext keys. They are never retrievable again.
type CreateResult struct {
	AccountID  string   `json:"accountId"`
	PublicKeys []string `json:"publicKeys"`
	SecretKeys []string `json:"secretKeys"`
}

// Info is an account with its derived state.
type Info struct {
	Account
	Frozen bool `json:"frozen"`
}

// DeletionResult is the outcome of MarkForDeletion.
type DeletionResult struct {
	IsDeleted       bool       `json:"isDeleted"`
	DeleteAt        *time.Time `json:"deleteAt,omitempty"`
	CancellationURL string     `json:"cancellationUrl,omitempty"`
	AdminEmails     []string   `json:"adminEmails,omitempty"`
}

// Repository persists tenants. Every multi-record write is atomic.
type Repository interface {
	Exists(ctx context.Context, accountID string) (bool, error)
	Get(ctx context.Context, accountID string) (*Account, error)
	// Create returns store.ErrDuplicateKey if the account id is taken.
	Create(ctx context.Context, p *Provision) error
	ListKeys(ctx context.Context, accountID string) ([]apikey.Record, error)

	// Lock locks every key of an active tenant. A scheduled deletion is
	// left untouched and reported as *StateError.
	Lock(ctx context.Context, accountID string, at time.Time) error
	// ScheduleDeletion locks every key and sets DeletedAt, provided no
	// deletion is scheduled yet. Otherwise it returns *StateError.
	ScheduleDeletion(ctx context.Context, accountID string, at, deleteAt time.Time) error
	// Unlock unlocks every key and clears DeletedAt. It reports whether a
	// scheduled deletion was cancelled.
	Unlock(ctx context.Context, accountID string) (bool, error)

	HasUsers(ctx context.Context, accountID string) (bool, error)

	// EraseActive removes an active tenant and everything scoped to it.
	// A tenant pending deletion is kept and reported as *StateError.
	EraseActive(ctx context.Context, accountID string) error
	// EraseDue removes a tenant whose scheduled deletion is at or before
	// now. Any other state is kept and reported as *StateError.
	EraseDue(ctx context.Context, accountID string, now time.Time) error
	ListPendingDeletion(ctx context.Context) ([]*Account, error)
}
