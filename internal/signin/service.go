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

package signin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/opentrusty/trustcore/internal/authconfig"
	"github.com/opentrusty/trustcore/internal/clock"
	"github.com/opentrusty/trustcore/internal/problem"
)

// Service issues and verifies sign-in tokens.
type Service struct {
	repo     Repository
	policies PolicyLookup
	clock    clock.Clock
	random   io.Reader
}

// NewService creates a sign-in token service.
func NewService(repo Repository, policies PolicyLookup, clk clock.Clock) *Service {
	return &Service{
		repo:     repo,
		policies: policies,
		clock:    clk,
		random:   rand.Reader,
	}
}

// Issue creates a token for req.UserID. The expiry is fixed here and never
// re-derived from a policy edited later.
func (s *Service) Issue(ctx context.Context, tenantID string, req IssueRequest) (*Token, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = DefaultPurpose
	}

	err := validation.Errors{
		"userId": validation.Validate(req.UserID, validation.Required, validation.Length(1, 255)),
		"purpose": validation.Validate(purpose,
			validation.Match(authconfig.PurposePattern).Error("must be 1 to 255 letters, digits, '-' or '_'")),
	}.Filter()
	if err != nil {
		return nil, problem.ValidationFrom(err)
	}

	ttl, err := s.timeToLive(ctx, tenantID, purpose, req.TTL)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return nil, problem.Internal(fmt.Errorf("failed to read random bytes: %w", err))
	}
	value := TokenPrefix + base64.RawURLEncoding.EncodeToString(buf)

	now := s.clock.Now()
	rec := &Record{
		Hash:      HashValue(value),
		TenantID:  tenantID,
		UserID:    req.UserID,
		Purpose:   purpose,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.SaveToken(ctx, rec); err != nil {
		return nil, problem.Internal(fmt.Errorf("save token: %w", err))
	}

	return &Token{
		Value:     value,
		TenantID:  tenantID,
		UserID:    rec.UserID,
		Purpose:   rec.Purpose,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Verify consumes the token. A token is valid while now < ExpiresAt.
func (s *Service) Verify(ctx context.Context, tenantID, value string) (*Verified, error) {
	if !strings.HasPrefix(value, TokenPrefix) || len(value) == len(TokenPrefix) {
		return nil, problem.UnknownToken()
	}

	rec, err := s.repo.ConsumeToken(ctx, tenantID, HashValue(value))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, problem.UnknownToken()
		}
		return nil, problem.Internal(fmt.Errorf("consume token: %w", err))
	}

	now := s.clock.Now()
	if !now.Before(rec.ExpiresAt) {
		return nil, problem.ExpiredToken(rec.ExpiresAt, now)
	}

	return &Verified{
		UserID:    rec.UserID,
		Purpose:   rec.Purpose,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
		Success:   true,
	}, nil
}

// PurgeExpired removes tokens that can no longer verify.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpiredTokens(ctx, s.clock.Now())
	if err != nil {
		return 0, problem.Internal(fmt.Errorf("purge tokens: %w", err))
	}
	return n, nil
}

func (s *Service) timeToLive(ctx context.Context, tenantID, purpose string, override *time.Duration) (time.Duration, error) {
	ttl := DefaultTimeToLive
	switch {
	case override != nil:
		ttl = *override
	case s.policies != nil:
		d, ok, err := s.policies.Lookup(ctx, tenantID, purpose)
		if err != nil {
			return 0, err
		}
		if ok {
			ttl = d
		}
	}
	if ttl < MinTimeToLive || ttl > MaxTimeToLive {
		return 0, problem.InvalidTTL(ttl, MinTimeToLive, MaxTimeToLive)
	}
	return ttl, nil
}
