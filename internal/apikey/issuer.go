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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Issuer generates new credentials.
type Issuer struct {
	hasher *Hasher
	random io.Reader
}

// NewIssuer creates an issuer that hashes secret keys with hasher.
func NewIssuer(hasher *Hasher) *Issuer {
	return &Issuer{hasher: hasher, random: rand.Reader}
}

// Generate creates a key of the given class for tenantID. The caller is
// responsible for persisting Material.Record and revealing Plaintext once.
func (i *Issuer) Generate(tenantID string, class Class) (Material, error) {
	if !class.Valid() {
		return Material{}, fmt.Errorf("unknown key class %q", class)
	}

	buf := make([]byte, randomBytes)
	if _, err := io.ReadFull(i.random, buf); err != nil {
		return Material{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	random := hex.EncodeToString(buf)
	plaintext := class.Tag() + "_" + tenantID + "_" + random

	var stored StoredValue = PlainValue(plaintext)
	if class == ClassSecret {
		h, err := i.hasher.Hash(plaintext)
		if err != nil {
			return Material{}, fmt.Errorf("failed to hash secret key: %w", err)
		}
		stored = h
	}

	return Material{
		Plaintext: plaintext,
		KeyID:     random[randomHexLen-keyIDLen:],
		Class:     class,
		Stored:    stored,
		Scopes:    ScopesFor(class),
	}, nil
}
