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

// Package authconfig manages per-tenant authentication policies keyed by
// purpose. Two purposes, sign-in and step-up, always exist as presets and can
// be overridden but not removed.
package authconfig

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

const (
	PurposeSignIn = "sign-in"
	PurposeStepUp = "step-up"

	// DefaultTimeToLive applies to both presets.
	DefaultTimeToLive = 2 * time.Minute

	MinTimeToLive = time.Second
	MaxTimeToLive = 7 * 24 * time.Hour
)

// PurposePattern is the shape of a purpose name.
var PurposePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// ErrNotFound is returned by a Repository when no policy is stored.
var ErrNotFound = errors.New("auth policy not found")

// Policy governs tokens issued for one purpose.
type Policy struct {
	TenantID         string                               `json:"-"`
	Purpose          string                               `json:"purpose"`
	TimeToLive       time.Duration                        `json:"-"`
	UserVerification protocol.UserVerificationRequirement `json:"userVerification"`
	CreatedAt        time.Time                            `json:"createdAt"`
	EditedAt         time.Time                            `json:"editedAt"`
	Preset           bool                                 `json:"preset"`
}

// SignIn returns the sign-in preset for tenantID.
func SignIn(tenantID string) Policy {
	return Policy{
		TenantID:         tenantID,
		Purpose:          PurposeSignIn,
		TimeToLive:       DefaultTimeToLive,
		UserVerification: protocol.VerificationPreferred,
		Preset:           true,
	}
}

// StepUp returns the step-up preset for tenantID.
func StepUp(tenantID string) Policy {
	return Policy{
		TenantID:         tenantID,
		Purpose:          PurposeStepUp,
		TimeToLive:       DefaultTimeToLive,
		UserVerification: protocol.VerificationRequired,
		Preset:           true,
	}
}

// IsPreset reports whether purpose names a built-in policy.
func IsPreset(purpose string) bool {
	return purpose == PurposeSignIn || purpose == PurposeStepUp
}

func preset(tenantID, purpose string) (Policy, bool) {
	switch purpose {
	case PurposeSignIn:
		return SignIn(tenantID), true
	case PurposeStepUp:
		return StepUp(tenantID), true
	}
	return Policy{}, false
}

// ValidUserVerification reports whether uv is one of the three WebAuthn values.
func ValidUserVerification(uv protocol.UserVerificationRequirement) bool {
	switch uv {
	case protocol.VerificationRequired, protocol.VerificationPreferred, protocol.VerificationDiscouraged:
		return true
	}
	return false
}

// Repository persists custom and overridden policies.
type Repository interface {
	GetPolicy(ctx context.Context, tenantID, purpose string) (*Policy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error)
	// UpsertPolicy keeps CreatedAt of an existing row and returns the stored policy.
	UpsertPolicy(ctx context.Context, p *Policy) (*Policy, error)
	DeletePolicy(ctx context.Context, tenantID, purpose string) error
}
