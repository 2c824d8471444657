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

// Package problem defines the structured failure returned by every domain
// operation. A Problem carries what the HTTP boundary needs to render an
// application/problem+json response without inspecting error strings.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// TypeBase prefixes every problem type URI.
const TypeBase = "https://docs.trustcore.dev/errors#"

// Code is the machine-readable errorCode of a Problem.
type Code string

// Validation
const (
	CodeValidation             Code = "validation_error"
	CodeInvalidAccountID       Code = "invalid_account_id"
	CodeInvalidTTL             Code = "invalid_ttl"
	CodePresetPurpose          Code = "preset_purpose"
	CodeInvalidCancellationRef Code = "invalid_cancellation_reference"
	CodeAlreadyPending         Code = "already_pending"
	CodeNotPending             Code = "not_pending"
)

// Authentication
const (
	CodeMissingCredentials Code = "missing_credentials"
	CodeInvalidFormat      Code = "invalid_format"
	CodeUnknownKey         Code = "unknown_key"
	CodeKeyMismatch        Code = "mismatch"
	CodeKeyLocked          Code = "locked"
	CodeForbiddenScope     Code = "forbidden_scope"
	CodeUnknownToken       Code = "unknown_token"
	CodeExpiredToken       Code = "expired_token"
)

// Conflict, lookup and infrastructure
const (
	CodeConflict           Code = "conflict"
	CodeNotFound           Code = "not_found"
	CodeRateLimited        Code = "rate_limited"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeInternal           Code = "internal_error"
)

// Problem is a typed domain failure.
type Problem struct {
	Type       string
	Title      string
	Status     int
	ErrorCode  Code
	Detail     string
	Extensions map[string]any

	// Retryable is set for infrastructure failures the caller may retry.
	Retryable bool

	cause error
}

// New creates a Problem. Prefer the kind-specific constructors.
func New(code Code, status int, title, detail string) *Problem {
	return &Problem{
		Type:      TypeBase + string(code),
		Title:     title,
		Status:    status,
		ErrorCode: code,
		Detail:    detail,
	}
}

// Error implements the error interface.
func (p *Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.ErrorCode, p.Detail)
	}
	return fmt.Sprintf("%s: %s", p.ErrorCode, p.Title)
}

// Unwrap returns the underlying cause, if any.
func (p *Problem) Unwrap() error {
	return p.cause
}

// Is matches another Problem by errorCode.
func (p *Problem) Is(target error) bool {
	t, ok := target.(*Problem)
	if !ok {
		return false
	}
	return p.ErrorCode == t.ErrorCode
}

// With attaches an extension field and returns p.
func (p *Problem) With(key string, value any) *Problem {
	if p.Extensions == nil {
		p.Extensions = make(map[string]any)
	}
	p.Extensions[key] = value
	return p
}

// MarshalJSON flattens extensions next to the standard members.
func (p *Problem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extensions)+5)
	for k, v := range p.Extensions {
		out[k] = v
	}
	out["type"] = p.Type
	out["title"] = p.Title
	out["status"] = p.Status
	out["errorCode"] = p.ErrorCode
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	return json.Marshal(out)
}

// As extracts a Problem from err's chain.
func As(err error) (*Problem, bool) {
	var p *Problem
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// HasCode reports whether err carries a Problem with the given code.
func HasCode(err error, code Code) bool {
	p, ok := As(err)
	return ok && p.ErrorCode == code
}

// From returns err as a Problem, wrapping anything untyped as an
// infrastructure failure.
func From(err error) *Problem {
	if err == nil {
		return nil
	}
	if p, ok := As(err); ok {
		return p
	}
	return Internal(err)
}

// Status returns the HTTP status for err.
func Status(err error) int {
	if p, ok := As(err); ok {
		return p.Status
	}
	return http.StatusInternalServerError
}
