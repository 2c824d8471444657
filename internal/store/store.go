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

// Package store holds the errors shared by every storage adapter.
package store

import "errors"

var (
	// ErrUnavailable marks failures that are safe to retry: timeouts, dropped
	// connections, exhausted pools.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrDuplicateKey is returned when a unique constraint rejects a write.
	ErrDuplicateKey = errors.New("duplicate key violation")
)
