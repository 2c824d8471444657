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

package authconfig

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/opentrusty/trustcore/internal/clock"
	"github.com/opentrusty/trustcore/internal/problem"
)

// Registry resolves and edits policies.
type Registry struct {
	repo  Repository
	clock clock.Clock
}

// NewRegistry creates a registry.
func NewRegistry(repo Repository, clk clock.Clock) *Registry {
	return &Registry{repo: repo, clock: clk}
}

// Get returns the stored policy, else the preset, else not_found.
func (r *Registry) Get(ctx context.Context, tenantID, purpose string) (*Policy, error) {
	p, err := r.repo.GetPolicy(ctx, tenantID, purpose)
	if err == nil {
		p.Preset = IsPreset(p.Purpose)
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, problem.Internal(fmt.Errorf("get policy: %w", err))
	}
	if pre, ok := preset(tenantID, purpose); ok {
		return &pre, nil
	}
	return nil, problem.NotFound("auth policy", purpose)
}

// Lookup returns the time to live for purpose. It satisfies signin.PolicyLookup.
func (r *Registry) Lookup(ctx context.Context, tenantID, purpose string) (time.Duration, bool, error) {
	p, err := r.Get(ctx, tenantID, purpose)
	if err != nil {
		if problem.HasCode(err, problem.CodeNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return p.TimeToLive, true, nil
}

// Set creates or replaces the policy for purpose.
func (r *Registry) Set(ctx context.Context, tenantID, purpose string, ttl time.Duration, uv protocol.UserVerificationRequirement) (*Policy, error) {
	if err := validatePolicy(purpose, uv); err != nil {
		return nil, err
	}
	if ttl < MinTimeToLive || ttl > MaxTimeToLive {
		return nil, problem.InvalidTTL(ttl, MinTimeToLive, MaxTimeToLive)
	}

	now := r.clock.Now()
	stored, err := r.repo.UpsertPolicy(ctx, &Policy{
		TenantID:         tenantID,
		Purpose:          purpose,
		TimeToLive:       ttl,
		UserVerification: uv,
		CreatedAt:        now,
		EditedAt:         now,
	})
	if err != nil {
		return nil, problem.Internal(fmt.Errorf("upsert policy: %w", err))
	}
	stored.Preset = IsPreset(purpose)
	return stored, nil
}

// Delete removes a custom policy. Preset purposes are rejected.
func (r *Registry) Delete(ctx context.Context, tenantID, purpose string) error {
	if IsPreset(purpose) {
		return problem.PresetPurpose(purpose)
	}
	if err := r.repo.DeletePolicy(ctx, tenantID, purpose); err != nil {
		if errors.Is(err, ErrNotFound) {
			return problem.NotFound("auth policy", purpose)
		}
		return problem.Internal(fmt.Errorf("delete policy: %w", err))
	}
	return nil
}

// List returns the presets overlaid with stored policies, ordered by purpose.
func (r *Registry) List(ctx context.Context, tenantID string) ([]*Policy, error) {
	stored, err := r.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		return nil, problem.Internal(fmt.Errorf("list policies: %w", err))
	}

	byPurpose := map[string]*Policy{}
	for _, pre := range []Policy{SignIn(tenantID), StepUp(tenantID)} {
		byPurpose[pre.Purpose] = &pre
	}
	for _, p := range stored {
		p.Preset = IsPreset(p.Purpose)
		byPurpose[p.Purpose] = p
	}

	out := make([]*Policy, 0, len(byPurpose))
	for _, p := range byPurpose {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Purpose < out[j].Purpose })
	return out, nil
}

func validatePolicy(purpose string, uv protocol.UserVerificationRequirement) error {
	err := validation.Errors{
		"purpose": validation.Validate(purpose,
			validation.Required,
			validation.Match(PurposePattern).Error("must be 1 to 255 letters, digits, '-' or '_'"),
		),
		"userVerification": validation.Validate(string(uv),
			validation.Required,
			validation.In(
				string(protocol.VerificationRequired),
				string(protocol.VerificationPreferred),
				string(protocol.VerificationDiscouraged),
			).Error("must be required, preferred or discouraged"),
		),
	}.Filter()
	if err == nil {
		return nil
	}
	return problem.ValidationFrom(err)
}
