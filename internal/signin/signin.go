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

// Package signin issues and verifies short-lived sign-in proof tokens.
//
// Tokens are single-use: a successful or expired lookup consumes the stored
// row, so presenting the same value twice yields unknown_token.
package signin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

const (
	// TokenPrefix tags sign-in tokens so they cannot be confused with API keys.
	TokenPrefix = "verify_"

	DefaultPurpose    = "sign-in"
	DefaultTimeToLive = 120 * time.Second

	MinTimeToLive = time.Second
	MaxTimeToLive = 7 * 24 * time.Hour

	tokenBytes = 32
)

// ErrNotFound is returned by a Repository when no token matches.
var ErrNotFound = errors.New("signin token not found")

// Token is an issued token. Value is only populated on issuance.
type Token struct {
	Value     string    `json:"token"`
	TenantID  string    `json:"-"`
	UserID    string    `json:"userId"`
	Purpose   string    `json:"purpose"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Record is the persisted form of a token, keyed by the hash of its value.
type Record struct {
	Hash      string
	TenantID  string
	UserID    string
	Purpose   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verified is the outcome of a successful verification.
type Verified struct {
	UserID    string    `json:"userId"`
	Purpose   string    `json:"purpose"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Success   bool      `json:"success"`
}

// IssueRequest carries the caller's input to Issue.
type IssueRequest struct {
	UserID  string
	Purpose string
	// TTL overrides the purpose policy when set.
	TTL *time.Duration
}

// PolicyLookup resolves a purpose's time to live. ok is false when the
// tenant has no policy for purpose.
type PolicyLookup interface {
	Lookup(ctx context.Context, tenantID, purpose string) (ttl time.Duration, ok bool, err error)
}

// Repository stores token records.
type Repository interface {
	SaveToken(ctx context.Context, rec *Record) error
	// ConsumeToken atomically removes and returns the record for hash.
	ConsumeToken(ctx context.Context, tenantID, hash string) (*Record, error)
	// DeleteExpiredTokens removes every record with ExpiresAt <= before.
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// HashValue returns the storage key for a token value.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
