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

package problem

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/opentrusty/trustcore/internal/store"
)

// Validation returns a 400 carrying per-field messages.
func Validation(detail string, fields map[string]string) *Problem {
	p := New(CodeValidation, http.StatusBadRequest, "One or more validation errors occurred.", detail)
	if len(fields) > 0 {
		p.With("errors", fields)
	}
	return p
}

// ValidationFrom converts ozzo-validation field errors into a 400.
func ValidationFrom(err error) *Problem {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
		return Validation(err.Error(), fields)
	}
	return Validation(err.Error(), nil)
}

func InvalidAccountID(accountID string) *Problem {
	return New(CodeInvalidAccountID, http.StatusBadRequest, "Invalid account id.",
		"Account ids start with a letter and contain 3 to 63 letters or digits.").
		With("accountId", accountID)
}

func InvalidTTL(ttl, lo, hi time.Duration) *Problem {
	return New(CodeInvalidTTL, http.StatusBadRequest, "Invalid time to live.",
		fmt.Sprintf("Time to live must be between %s and %s, got %s.", lo, hi, ttl)).
		With("timeToLive", ttl.Seconds())
}

// InvalidTTLSeconds reports a wire time to live, in seconds, that is out of
// range. Values this large may not fit a time.Duration.
func InvalidTTLSeconds(seconds int64, lo, hi time.Duration) *Problem {
	return New(CodeInvalidTTL, http.StatusBadRequest, "Invalid time to live.",
		fmt.Sprintf("Time to live must be between %s and %s, got %d seconds.", lo, hi, seconds)).
		With("timeToLive", seconds)
}

func PresetPurpose(purpose string) *Problem {
	return New(CodePresetPurpose, http.StatusBadRequest, "Preset purposes cannot be deleted.",
		fmt.Sprintf("The purpose %q is built in and can only be overridden.", purpose)).
		With("purpose", purpose)
}

func InvalidCancellationReference() *Problem {
	return New(CodeInvalidCancellationRef, http.StatusBadRequest, "Invalid cancellation reference.",
		"The cancellation link is malformed, expired or does not belong to this application.")
}

func AlreadyPending(accountID string, deleteAt time.Time) *Problem {
	return New(CodeAlreadyPending, http.StatusBadRequest, "Application is already pending deletion.",
		fmt.Sprintf("The application %q is scheduled for deletion at %s.", accountID, deleteAt.Format(time.RFC3339))).
		With("accountId", accountID).
		With("deleteAt", deleteAt)
}

func NotPending(accountID string, deleteAt *time.Time, now time.Time) *Problem {
	detail := fmt.Sprintf("The application %q is not scheduled for deletion.", accountID)
	if deleteAt != nil {
		detail = fmt.Sprintf("The application %q can be deleted %s.", accountID,
			humanize.RelTime(*deleteAt, now, "ago", "from now"))
	}
	p := New(CodeNotPending, http.StatusBadRequest, "Application is not ready for deletion.", detail).
		With("accountId", accountID)
	if deleteAt != nil {
		p.With("deleteAt", *deleteAt)
	}
	return p
}

func Conflict(accountID string) *Problem {
	return New(CodeConflict, http.StatusConflict, "Account id is already in use.",
		fmt.Sprintf("An application with the id %q already exists.", accountID)).
		With("accountId", accountID)
}

func NotFound(resource, key string) *Problem {
	return New(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found.", resource),
		fmt.Sprintf("No %s exists for %q.", resource, key)).
		With("resource", resource)
}

func MissingCredentials(header string) *Problem {
	return New(CodeMissingCredentials, http.StatusUnauthorized, "Missing credentials.",
		fmt.Sprintf("The %s header is required.", header))
}

func InvalidFormat() *Problem {
	return New(CodeInvalidFormat, http.StatusUnauthorized, "Invalid API key format.",
		"The presented credential is not a well-formed API key.")
}

func UnknownKey() *Problem {
	return New(CodeUnknownKey, http.StatusUnauthorized, "Unknown API key.",
		"The presented credential does not match any API key.")
}

func KeyMismatch() *Problem {
	return New(CodeKeyMismatch, http.StatusUnauthorized, "Invalid API key.",
		"The presented credential does not match any API key.")
}

// KeyLocked embeds how long the key has been locked.
func KeyLocked(lockedAt *time.Time, now time.Time) *Problem {
	detail := "The API key is locked."
	p := New(CodeKeyLocked, http.StatusForbidden, "API key is locked.", detail)
	if lockedAt != nil {
		p.Detail = fmt.Sprintf("The API key was locked %s.", humanize.RelTime(*lockedAt, now, "ago", "from now"))
		p.With("lockedAt", *lockedAt)
		p.With("lockedSeconds", int64(now.Sub(*lockedAt).Seconds()))
	}
	return p
}

func ForbiddenScope(scope string) *Problem {
	return New(CodeForbiddenScope, http.StatusForbidden, "Insufficient scope.",
		fmt.Sprintf("The API key does not grant the %q scope.", scope)).
		With("scope", scope)
}

func UnknownToken() *Problem {
	return New(CodeUnknownToken, http.StatusForbidden, "Invalid token.",
		"The token is malformed, unknown or has already been used.")
}

// ExpiredToken embeds the time elapsed since expiry, e.g. "expired 10 seconds ago".
func ExpiredToken(expiredAt, now time.Time) *Problem {
	return New(CodeExpiredToken, http.StatusForbidden, "The token has expired.",
		fmt.Sprintf("The token expired %s.", humanize.RelTime(expiredAt, now, "ago", "from now"))).
		With("expiredAt", expiredAt).
		With("expiredSeconds", int64(now.Sub(expiredAt).Seconds()))
}

// Internal wraps an infrastructure failure. Failures marked with
// store.ErrUnavailable are reported as retryable.
func Internal(cause error) *Problem {
	if errors.Is(cause, store.ErrUnavailable) {
		p := New(CodeStorageUnavailable, http.StatusServiceUnavailable, "Storage is temporarily unavailable.", "")
		p.Retryable = true
		p.cause = cause
		return p
	}
	p := New(CodeInternal, http.StatusInternalServerError, "An unexpected error occurred.", "")
	p.cause = cause
	return p
}
