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

package apikey

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/opentrusty/trustcore/internal/clock"
	"github.com/opentrusty/trustcore/internal/problem"
)

// ErrNotFound is returned by a Repository for an unknown (tenant, key id).
var ErrNotFound = errors.New("api key not found")

// Repository loads stored keys.
type Repository interface {
	GetAPIKey(ctx context.Context, tenantID, keyID string) (*Record, error)
}

// Validator authenticates presented credentials.
type Validator struct {
	repo   Repository
	hasher *Hasher
	clock  clock.Clock
}

// NewValidator creates a validator.
func NewValidator(repo Repository, hasher *Hasher, clk clock.Clock) *Validator {
	return &Validator{repo: repo, hasher: hasher, clock: clk}
}

// Validate checks format, existence, lock state and value in that order.
func (v *Validator) Validate(ctx context.Context, presented string) (Principal, error) {
	parsed, err := Parse(presented)
	if err != nil {
		return Principal{}, err
	}

	rec, err := v.repo.GetAPIKey(ctx, parsed.TenantID, parsed.KeyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, problem.UnknownKey()
		}
		return Principal{}, problem.Internal(fmt.Errorf("get api key: %w", err))
	}

	if rec.Locked {
		return Principal{}, problem.KeyLocked(rec.LockedAt, v.clock.Now())
	}

	ok, err := v.matches(presented, rec)
	if err != nil {
		return Principal{}, problem.Internal(err)
	}
	if !ok || rec.Class != parsed.Class {
		return Principal{}, problem.KeyMismatch()
	}

	return Principal{
		TenantID: rec.TenantID,
		Class:    rec.Class,
		KeyID:    rec.KeyID,
		Scopes:   rec.Scopes,
	}, nil
}

// ValidateFor validates and then authorizes scope.
func (v *Validator) ValidateFor(ctx context.Context, presented string, scope Scope) (Principal, error) {
	p, err := v.Validate(ctx, presented)
	if err != nil {
		return Principal{}, err
	}
	if err := Authorize(p, scope); err != nil {
		return Principal{}, err
	}
	return p, nil
}

func (v *Validator) matches(presented string, rec *Record) (bool, error) {
	switch stored := rec.Stored.(type) {
	case SecretHash:
		ok, err := v.hasher.Verify(presented, stored)
		if err != nil {
			return false, fmt.Errorf("verify secret key %s: %w", rec.KeyID, err)
		}
		return ok, nil
	case PlainValue:
		return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1, nil
	default:
		return false, fmt.Errorf("key %s has no stored value", rec.KeyID)
	}
}
