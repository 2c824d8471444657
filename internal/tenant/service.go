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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/opentrusty/trustcore/internal/apikey"
	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/clock"
	"github.com/opentrusty/trustcore/internal/features"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/problem"
	"github.com/opentrusty/trustcore/internal/store"
)

// Service provides tenant lifecycle business logic
type Service struct {
	repo         Repository
	issuer       *apikey.Issuer
	canceller    *Canceller
	featureCache features.Cache
	auditLogger  audit.Logger
	clock        clock.Clock
}

// NewService creates a new tenant service. featureCache is invalidated
// whenever a tenant is created or erased; nil disables that.
func NewService(repo Repository, issuer *apikey.Issuer, canceller *Canceller, featureCache features.Cache, auditLogger audit.Logger, clk clock.Clock) *Service {
	if featureCache == nil {
		featureCache = features.NopCache{}
	}
	return &Service{
		repo:         repo,
		issuer:       issuer,
		canceller:    canceller,
		featureCache: featureCache,
		auditLogger:  auditLogger,
		clock:        clk,
	}
}

// Create provisions a tenant with two public and two secret keys.
func (s *Service) Create(ctx context.Context, accountID string, opts CreateOptions) (*CreateResult, error) {
	if err := validateCreate(accountID, &opts); err != nil {
		return nil, err
	}

	exists, err := s.repo.Exists(ctx, accountID)
	if err != nil {
		return nil, problem.Internal(fmt.Errorf("check tenant exists: %w", err))
	}
	if exists {
		return nil, problem.Conflict(accountID)
	}

	now := s.clock.Now()
	p := &Provision{
		Account: Account{
			AccountID:        accountID,
			CreatedAt:        now,
			AdminEmails:      opts.AdminEmails,
			SubscriptionTier: opts.SubscriptionTier,
		},
		Features: features.Defaults(accountID),
	}
	result := &CreateResult{AccountID: accountID}

	for _, class := range []apikey.Class{apikey.ClassPublic, apikey.ClassSecret} {
		for i := 0; i < KeysPerClass; i++ {
			m, err := s.issuer.Generate(accountID, class)
			if err != nil {
				return nil, problem.Internal(err)
			}
			p.Keys = append(p.Keys, m.Record(accountID, now))
			if class == apikey.ClassPublic {
				result.PublicKeys = append(result.PublicKeys, m.Plaintext)
			} else {
				result.SecretKeys = append(result.SecretKeys, m.Plaintext)
			}
		}
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, problem.Conflict(accountID)
		}
		return nil, problem.Internal(fmt.Errorf("create tenant: %w", err))
	}
	// a previous tenant with this id may have left flags behind
	s.invalidateFeatures(ctx, accountID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTenantCreated,
		TenantID:  accountID,
		Resource:  accountID,
		Timestamp: now,
		Metadata:  map[string]any{"subscription_tier": opts.SubscriptionTier},
	})

	return result, nil
}

// Get returns the account and whether it is frozen.
func (s *Service) Get(ctx context.Context, accountID string) (*Info, error) {
	acct, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	keys, err := s.repo.ListKeys(ctx, accountID)
	if err != nil {
		return nil, problem.Internal(fmt.Errorf("list keys: %w", err))
	}
	return &Info{Account: *acct, Frozen: allLocked(keys)}, nil
}

// Freeze locks every key of the tenant. A tenant pending deletion is
// already frozen and is refused.
func (s *Service) Freeze(ctx context.Context, accountID string) error {
	now := s.clock.Now()
	if err := s.repo.Lock(ctx, accountID, now); err != nil {
		return s.lifecycleError(accountID, "lock keys", err)
	}

	s.auditLogger.Log(ctx, audit.Event{Type: audit.TypeTenantFrozen, TenantID: accountID, Resource: accountID, Timestamp: now})
	return nil
}

// Unfreeze unlocks every key and clears any scheduled deletion.
func (s *Service) Unfreeze(ctx context.Context, accountID string) error {
	now := s.clock.Now()
	cancelled, err := s.repo.Unlock(ctx, accountID)
	if err != nil {
		return s.lifecycleError(accountID, "unlock keys", err)
	}

	eventType := audit.TypeTenantUnfrozen
	if cancelled {
		eventType = audit.TypeTenantDeletionCancelled
	}
	s.auditLogger.Log(ctx, audit.Event{Type: eventType, TenantID: accountID, Resource: accountID, Timestamp: now})
	return nil
}

// MarkForDeletion schedules deletion one month out, or deletes at once when
// the tenant is younger than three days or has no users.
func (s *Service) MarkForDeletion(ctx context.Context, accountID, requestedBy, baseURL string) (*DeletionResult, error) {
	acct, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.PendingDeletion() {
		return nil, problem.AlreadyPending(accountID, *acct.DeletedAt)
	}

	now := s.clock.Now()

	immediate := now.Sub(acct.CreatedAt) < MinAgeForGracePeriod
	if !immediate {
		hasUsers, err := s.repo.HasUsers(ctx, accountID)
		if err != nil {
			return nil, problem.Internal(fmt.Errorf("check users: %w", err))
		}
		immediate = !hasUsers
	}

	if immediate {
		if err := s.repo.EraseActive(ctx, accountID); err != nil {
			return nil, s.lifecycleError(accountID, "erase tenant", err)
		}
		s.erased(ctx, accountID, requestedBy, now)
		return &DeletionResult{IsDeleted: true}, nil
	}

	deleteAt := now.AddDate(0, 1, 0)
	reference, err := s.canceller.Sign(accountID, deleteAt)
	if err != nil {
		return nil, problem.Internal(err)
	}
	cancelURL, err := s.canceller.URL(baseURL, reference)
	if err != nil {
		return nil, problem.Validation(err.Error(), map[string]string{"baseUrl": "must be a valid URL"})
	}

	if err := s.repo.ScheduleDeletion(ctx, accountID, now, deleteAt); err != nil {
		return nil, s.lifecycleError(accountID, "schedule deletion", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTenantDeletionScheduled,
		TenantID:  accountID,
		ActorID:   requestedBy,
		Resource:  accountID,
		Timestamp: now,
		Metadata:  map[string]any{"delete_at": deleteAt},
	})

	return &DeletionResult{
		IsDeleted:       false,
		DeleteAt:        &deleteAt,
		CancellationURL: cancelURL,
		AdminEmails:     acct.AdminEmails,
	}, nil
}

// CancelDeletion is Unfreeze under its lifecycle name.
func (s *Service) CancelDeletion(ctx context.Context, accountID string) error {
	return s.Unfreeze(ctx, accountID)
}

// CancelDeletionByReference cancels using a reference from a cancellation
// URL. The reference only cancels the schedule it was issued for.
func (s *Service) CancelDeletionByReference(ctx context.Context, reference string) (string, error) {
	accountID, deleteAt, err := s.canceller.Verify(reference)
	if err != nil {
		return "", problem.InvalidCancellationReference()
	}
	acct, err := s.load(ctx, accountID)
	if err != nil {
		if problem.HasCode(err, problem.CodeNotFound) {
			return "", problem.InvalidCancellationReference()
		}
		return "", err
	}
	if !acct.PendingDeletion() {
		return accountID, nil
	}
	if !sameSchedule(*acct.DeletedAt, deleteAt) {
		return "", problem.InvalidCancellationReference()
	}
	return accountID, s.Unfreeze(ctx, accountID)
}

// Delete erases a tenant whose grace period has elapsed.
func (s *Service) Delete(ctx context.Context, accountID string) error {
	now := s.clock.Now()
	if err := s.repo.EraseDue(ctx, accountID, now); err != nil {
		var se *StateError
		if errors.As(err, &se) {
			return problem.NotPending(accountID, se.DeleteAt, now)
		}
		return s.lifecycleError(accountID, "erase tenant", err)
	}
	s.erased(ctx, accountID, "", now)
	return nil
}

// ListPendingDeletion returns the ids of tenants scheduled for deletion.
func (s *Service) ListPendingDeletion(ctx context.Context) ([]string, error) {
	accts, err := s.repo.ListPendingDeletion(ctx)
	if err != nil {
		return nil, problem.Internal(fmt.Errorf("list pending deletion: %w", err))
	}
	ids := make([]string, 0, len(accts))
	for _, a := range accts {
		ids = append(ids, a.AccountID)
	}
	sort.Strings(ids)
	return ids, nil
}

// PurgeDue deletes every pending tenant whose grace period has elapsed. It
// stops at the first infrastructure failure and returns what it deleted.
// Tenants cancelled or erased since the listing are skipped.
func (s *Service) PurgeDue(ctx context.Context) ([]string, error) {
	accts, err := s.repo.ListPendingDeletion(ctx)
	if err != nil {
		return nil, problem.Internal(fmt.Errorf("list pending deletion: %w", err))
	}

	now := s.clock.Now()
	var deleted []string
	for _, a := range accts {
		if a.DeletedAt == nil || now.Before(*a.DeletedAt) {
			continue
		}
		err := s.repo.EraseDue(ctx, a.AccountID, now)
		var se *StateError
		switch {
		case errors.Is(err, ErrNotFound), errors.As(err, &se):
			continue
		case err != nil:
			return deleted, problem.Internal(fmt.Errorf("erase tenant: %w", err))
		}
		s.erased(ctx, a.AccountID, "", now)
		deleted = append(deleted, a.AccountID)
	}
	return deleted, nil
}

func (s *Service) load(ctx context.Context, accountID string) (*Account, error) {
	acct, err := s.repo.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, problem.NotFound("application", accountID)
		}
		return nil, problem.Internal(fmt.Errorf("get tenant: %w", err))
	}
	return acct, nil
}

// lifecycleError maps repository failures of a lifecycle transition.
func (s *Service) lifecycleError(accountID, op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return problem.NotFound("application", accountID)
	}
	var se *StateError
	if errors.As(err, &se) && se.DeleteAt != nil {
		return problem.AlreadyPending(accountID, *se.DeleteAt)
	}
	return problem.Internal(fmt.Errorf("%s: %w", op, err))
}

func (s *Service) erased(ctx context.Context, accountID, actorID string, now time.Time) {
	s.invalidateFeatures(ctx, accountID)
	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTenantDeleted,
		TenantID:  accountID,
		ActorID:   actorID,
		Resource:  accountID,
		Timestamp: now,
	})
}

func (s *Service) invalidateFeatures(ctx context.Context, accountID string) {
	if err := s.featureCache.Delete(ctx, accountID); err != nil {
		slog.WarnContext(ctx, "feature cache invalidation failed",
			logger.TenantID(accountID), logger.Error(err))
	}
}

// sameSchedule compares at the second precision cancellation references carry.
func sameSchedule(scheduled, referenced time.Time) bool {
	return scheduled.Truncate(time.Second).Equal(referenced.Truncate(time.Second))
}

func allLocked(keys []apikey.Record) bool {
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if !k.Locked {
			return false
		}
	}
	return true
}

func validateCreate(accountID string, opts *CreateOptions) error {
	if err := validation.Validate(accountID, validation.Required, validation.Match(apikey.TenantIDPattern)); err != nil {
		return problem.InvalidAccountID(accountID)
	}

	if opts.SubscriptionTier == "" {
		opts.SubscriptionTier = DefaultSubscriptionTier
	}

	errs := validation.Errors{
		"subscriptionTier": validation.Validate(opts.SubscriptionTier, validation.Length(1, 64)),
	}
	for i, email := range opts.AdminEmails {
		errs[fmt.Sprintf("adminEmails[%d]", i)] = validation.Validate(email, validation.Required, is.Email)
	}
	if err := errs.Filter(); err != nil {
		return problem.ValidationFrom(err)
	}
	return nil
}
