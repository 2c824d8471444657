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
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned when a stored secret hash cannot be decoded.
var ErrInvalidHash = errors.New("invalid argon2id hash encoding")

// Hasher hashes secret keys with Argon2id.
type Hasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewHasher creates a hasher with the given Argon2id parameters.
func NewHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *Hasher {
	return &Hasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash derives a salted encoding of plaintext.
func (h *Hasher) Hash(plaintext string) (SecretHash, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(plaintext), salt, h.iterations, h.memory, h.parallelism, h.keyLength)

	return SecretHash(fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	)), nil
}

// Verify recomputes the hash with the parameters embedded in encoded and
// compares in constant time.
func (h *Hasher) Verify(plaintext string, encoded SecretHash) (bool, error) {
	// "$argon2id$v=19$m=..,t=..,p=..$salt$hash" splits into 6 with a leading ""
	sections := strings.Split(string(encoded), "$")
	if len(sections) != 6 || sections[0] != "" || sections[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(sections[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("%w: version: %v", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("%w: parameters: %v", ErrInvalidHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(sections[5])
	if err != nil {
		return false, fmt.Errorf("%w: hash: %v", ErrInvalidHash, err)
	}

	actual := argon2.IDKey([]byte(plaintext), salt, iterations, memory, parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}
