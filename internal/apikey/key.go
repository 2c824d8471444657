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

// Package apikey issues and validates application-scoped API credentials.
//
// A credential has the layout <tag>_<tenantID>_<64 hex chars>, where tag is
// "pk" for public keys and "sk" for secret keys. The trailing eight hex chars
// form the KeyID used to look the record up without a table scan.
package apikey

import (
	"regexp"
	"strings"
	"time"

	"github.com/opentrusty/trustcore/internal/problem"
)

// Class distinguishes public keys from secret keys.
type Class string

const (
	ClassPublic Class = "public"
	ClassSecret Class = "secret"
)

const (
	tagPublic = "pk"
	tagSecret = "sk"

	randomBytes  = 32
	randomHexLen = randomBytes * 2
	keyIDLen     = 8
)

// TenantIDPattern is the shape every tenant (account) id must match.
// Ids never contain '_', which keeps credential parsing unambiguous.
var TenantIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)

// Tag returns the credential prefix for the class.
func (c Class) Tag() string {
	if c == ClassSecret {
		return tagSecret
	}
	return tagPublic
}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	return c == ClassPublic || c == ClassSecret
}

// StoredValue is what gets persisted for a key: the plaintext for public
// keys, an argon2id encoding for secret keys.
type StoredValue interface {
	// Encoded returns the persisted representation.
	Encoded() string
	storedValue()
}

// PlainValue stores a public key as-is. Public keys are not confidential.
type PlainValue string

func (v PlainValue) Encoded() string { return string(v) }
func (PlainValue) storedValue()      {}

// SecretHash stores a secret key as $argon2id$v=19$m=..,t=..,p=..$salt$hash.
type SecretHash string

func (v SecretHash) Encoded() string { return string(v) }
func (SecretHash) storedValue()      {}

// StoredFor rebuilds the stored value of a record loaded from storage.
func StoredFor(class Class, encoded string) StoredValue {
	if class == ClassSecret {
		return SecretHash(encoded)
	}
	return PlainValue(encoded)
}

// Record is a persisted API key.
type Record struct {
	KeyID     string
	TenantID  string
	Class     Class
	Stored    StoredValue
	Scopes    []Scope
	Locked    bool
	LockedAt  *time.Time
	CreatedAt time.Time
}

// Material is a freshly generated key. Plaintext is only ever available here.
type Material struct {
	Plaintext string
	KeyID     string
	Class     Class
	Stored    StoredValue
	Scopes    []Scope
}

// Record returns the persistable part of the material.
func (m Material) Record(tenantID string, now time.Time) Record {
	return Record{
		KeyID:     m.KeyID,
		TenantID:  tenantID,
		Class:     m.Class,
		Stored:    m.Stored,
		Scopes:    append([]Scope(nil), m.Scopes...),
		CreatedAt: now,
	}
}

// Parsed is a syntactically valid presented credential.
type Parsed struct {
	Class    Class
	TenantID string
	KeyID    string
}

// Parse checks the credential layout without touching storage.
func Parse(value string) (Parsed, error) {
	parts := strings.SplitN(value, "_", 3)
	if len(parts) != 3 {
		return Parsed{}, problem.InvalidFormat()
	}

	var class Class
	switch parts[0] {
	case tagPublic:
		class = ClassPublic
	case tagSecret:
		class = ClassSecret
	default:
		return Parsed{}, problem.InvalidFormat()
	}

	if !TenantIDPattern.MatchString(parts[1]) {
		return Parsed{}, problem.InvalidFormat()
	}
	if !isLowerHex(parts[2], randomHexLen) {
		return Parsed{}, problem.InvalidFormat()
	}

	return Parsed{
		Class:    class,
		TenantID: parts[1],
		KeyID:    parts[2][randomHexLen-keyIDLen:],
	}, nil
}

// TenantOf extracts the tenant id from a credential, or "" if malformed.
func TenantOf(value string) string {
	p, err := Parse(value)
	if err != nil {
		return ""
	}
	return p.TenantID
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
