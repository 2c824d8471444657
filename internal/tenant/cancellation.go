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
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/trustcore/internal/clock"
)

const (
	cancellationAudience = "cancel-deletion"
	cancellationIssuer   = "trustcore"
)

var errInvalidReference = errors.New("invalid cancellation reference")

// Canceller signs and verifies deletion cancellation references. A
// reference is an HS256 JWT whose subject is the account id and whose
// expiry is the scheduled deletion time.
type Canceller struct {
	key   []byte
	clock clock.Clock
}

// NewCanceller creates a canceller signing with key.
func NewCanceller(key []byte, clk clock.Clock) *Canceller {
	return &Canceller{key: key, clock: clk}
}

// Sign returns a reference for accountID valid until deleteAt.
func (c *Canceller) Sign(accountID string, deleteAt time.Time) (string, error) {
	now := c.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    cancellationIssuer,
		Subject:   accountID,
		Audience:  jwt.ClaimStrings{cancellationAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(deleteAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign cancellation reference: %w", err)
	}
	return signed, nil
}

// URL appends a reference to baseURL as the token query parameter.
func (c *Canceller) URL(baseURL, reference string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("token", reference)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify returns the account id and scheduled deletion time carried by
// reference.
func (c *Canceller) Verify(reference string) (string, time.Time, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(reference, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(cancellationAudience),
		jwt.WithIssuer(cancellationIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", errInvalidReference, err)
	}
	if claims.Subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: missing subject", errInvalidReference)
	}
	return claims.Subject, claims.ExpiresAt.Time, nil
}
