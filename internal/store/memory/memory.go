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

// Package memory is an in-process storage adapter for development and
// tests. Every multi-record write happens under one lock, so readers never
// observe a partially provisioned or partially locked tenant.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/opentrusty/trustcore/internal/apikey"
	"github.com/opentrusty/trustcore/internal/authconfig"
	"github.com/opentrusty/trustcore/internal/features"
	"github.com/opentrusty/trustcore/internal/signin"
	"github.com/opentrusty/trustcore/internal/store"
	"github.com/opentrusty/trustcore/internal/tenant"
)

type tenantData struct {
	account  tenant.Account
	keys     map[string]apikey.Record
	features features.Features
	policies map[string]authconfig.Policy
	tokens   map[string]signin.Record
	users    map[string]struct{}
}

// Store holds all tenants in memory.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantData
}

// New creates an empty store.
func New() *Store {
	return &Store{tenants: make(map[string]*tenantData)}
}

var (
	_ apikey.Repository     = (*Store)(nil)
	_ tenant.Repository     = (*Store)(nil)
	_ signin.Repository     = (*Store)(nil)
	_ authconfig.Repository = (*Store)(nil)
	_ features.Repository   = (*Store)(nil)
)

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// --- tenants ---

func (s *Store) Exists(_ context.Context, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tenants[accountID]
	return ok, nil
}

func (s *Store) Get(_ context.Context, accountID string) (*tenant.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[accountID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	acct := copyAccount(t.account)
	return &acct, nil
}

func (s *Store) Create(_ context.Context, p *tenant.Provision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := p.Account.AccountID
	if _, ok := s.tenants[id]; ok {
		return store.ErrDuplicateKey
	}

	t := &tenantData{
		account:  copyAccount(p.Account),
		keys:     make(map[string]apikey.Record, len(p.Keys)),
		features: p.Features,
		policies: make(map[string]authconfig.Policy),
		tokens:   make(map[string]signin.Record),
		users:    make(map[string]struct{}),
	}
	for _, k := range p.Keys {
		if _, dup := t.keys[k.KeyID]; dup {
			return store.ErrDuplicateKey
		}
		t.keys[k.KeyID] = copyRecord(k)
	}
	s.tenants[id] = t
	return nil
}

func (s *Store) ListKeys(_ context.Context, accountID string) ([]apikey.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[accountID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	out := make([]apikey.Record, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, copyRecord(k))
	}
	return out, nil
}

func (s *Store) Lock(_ context.Context, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.active(accountID)
	if err != nil {
		return err
	}
	t.setKeysLocked(true, at)
	return nil
}

func (s *Store) ScheduleDeletion(_ context.Context, accountID string, at, deleteAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.active(accountID)
	if err != nil {
		return err
	}
	t.account.DeletedAt = &deleteAt
	t.setKeysLocked(true, at)
	return nil
}

func (s *Store) Unlock(_ context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[accountID]
	if !ok {
		return false, tenant.ErrNotFound
	}
	cancelled := t.account.DeletedAt != nil
	t.account.DeletedAt = nil
	t.setKeysLocked(false, time.Time{})
	return cancelled, nil
}

// active returns the tenant if it has no scheduled deletion. Callers hold
// the write lock.
func (s *Store) active(accountID string) (*tenantData, error) {
	t, ok := s.tenants[accountID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	if t.account.DeletedAt != nil {
		return nil, &tenant.StateError{AccountID: accountID, DeleteAt: copyTime(t.account.DeletedAt)}
	}
	return t, nil
}

func (t *tenantData) setKeysLocked(locked bool, at time.Time) {
	for id, k := range t.keys {
		k.Locked = locked
		k.LockedAt = nil
		if locked {
			lockedAt := at
			k.LockedAt = &lockedAt
		}
		t.keys[id] = k
	}
}

func (s *Store) HasUsers(_ context.Context, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[accountID]
	if !ok {
		return false, tenant.ErrNotFound
	}
	return len(t.users) > 0, nil
}

func (s *Store) EraseActive(_ context.Context, accountID string) error {
	return s.erase(accountID, func(deletedAt *time.Time) bool { return deletedAt == nil })
}

func (s *Store) EraseDue(_ context.Context, accountID string, now time.Time) error {
	return s.erase(accountID, func(deletedAt *time.Time) bool {
		return deletedAt != nil && !deletedAt.After(now)
	})
}

func (s *Store) erase(accountID string, allowed func(*time.Time) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[accountID]
	if !ok {
		return tenant.ErrNotFound
	}
	if !allowed(t.account.DeletedAt) {
		return &tenant.StateError{AccountID: accountID, DeleteAt: copyTime(t.account.DeletedAt)}
	}
	delete(s.tenants, accountID)
	return nil
}

func (s *Store) ListPendingDeletion(_ context.Context) ([]*tenant.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*tenant.Account
	for _, t := range s.tenants {
		if t.account.DeletedAt != nil {
			acct := copyAccount(t.account)
			out = append(out, &acct)
		}
	}
	return out, nil
}

// AddUser registers a user under a tenant. Users are owned by an external
// service; the store only needs to know whether any exist.
func (s *Store) AddUser(_ context.Context, accountID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[accountID]
	if !ok {
		return tenant.ErrNotFound
	}
	t.users[userID] = struct{}{}
	return nil
}

// --- api keys ---

func (s *Store) GetAPIKey(_ context.Context, tenantID, keyID string) (*apikey.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	k, ok := t.keys[keyID]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	rec := copyRecord(k)
	return &rec, nil
}

// --- features ---

func (s *Store) GetFeatures(_ context.Context, tenantID string) (*features.Features, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, features.ErrNotFound
	}
	f := copyFeatures(t.features)
	return &f, nil
}

func (s *Store) SetFeatures(_ context.Context, f *features.Features) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[f.TenantID]
	if !ok {
		return features.ErrNotFound
	}
	t.features = copyFeatures(*f)
	return nil
}

// --- auth policies ---

func (s *Store) GetPolicy(_ context.Context, tenantID, purpose string) (*authconfig.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, authconfig.ErrNotFound
	}
	p, ok := t.policies[purpose]
	if !ok {
		return nil, authconfig.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListPolicies(_ context.Context, tenantID string) ([]*authconfig.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	out := make([]*authconfig.Policy, 0, len(t.policies))
	for _, p := range t.policies {
		p := p
		out = append(out, &p)
	}
	return out, nil
}

func (s *Store) UpsertPolicy(_ context.Context, p *authconfig.Policy) (*authconfig.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[p.TenantID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	stored := *p
	if prev, ok := t.policies[p.Purpose]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	t.policies[p.Purpose] = stored
	return &stored, nil
}

func (s *Store) DeletePolicy(_ context.Context, tenantID, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return authconfig.ErrNotFound
	}
	if _, ok := t.policies[purpose]; !ok {
		return authconfig.ErrNotFound
	}
	delete(t.policies, purpose)
	return nil
}

// --- sign-in tokens ---

func (s *Store) SaveToken(_ context.Context, rec *signin.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[rec.TenantID]
	if !ok {
		return tenant.ErrNotFound
	}
	if _, dup := t.tokens[rec.Hash]; dup {
		return store.ErrDuplicateKey
	}
	t.tokens[rec.Hash] = *rec
	return nil
}

func (s *Store) ConsumeToken(_ context.Context, tenantID, hash string) (*signin.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, signin.ErrNotFound
	}
	rec, ok := t.tokens[hash]
	if !ok {
		return nil, signin.ErrNotFound
	}
	delete(t.tokens, hash)
	return &rec, nil
}

func (s *Store) DeleteExpiredTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tenants {
		for h, rec := range t.tokens {
			if !rec.ExpiresAt.After(before) {
				delete(t.tokens, h)
				n++
			}
		}
	}
	return n, nil
}

func copyAccount(a tenant.Account) tenant.Account {
	a.AdminEmails = append([]string(nil), a.AdminEmails...)
	a.DeletedAt = copyTime(a.DeletedAt)
	return a
}

func copyRecord(r apikey.Record) apikey.Record {
	r.Scopes = append([]apikey.Scope(nil), r.Scopes...)
	r.LockedAt = copyTime(r.LockedAt)
	return r
}

func copyFeatures(f features.Features) features.Features {
	f.DeveloperLoggingEndsAt = copyTime(f.DeveloperLoggingEndsAt)
	if f.MaxUsers != nil {
		n := *f.MaxUsers
		f.MaxUsers = &n
	}
	return f
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
