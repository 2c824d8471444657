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
	"github.com/opentrusty/trustcore/internal/problem"
)

// Scope names an operation a key may be presented for.
type Scope string

const (
	ScopeRegister      Scope = "register"
	ScopeLogin         Scope = "login"
	ScopeTokenRegister Scope = "token_register"
	ScopeTokenVerify   Scope = "token_verify"
	ScopeAuthConfig    Scope = "auth_config"
	ScopeFeatures      Scope = "features"
)

// capabilities maps each scope to the key class that grants it.
var capabilities = map[Scope]Class{
	ScopeRegister:      ClassPublic,
	ScopeLogin:         ClassPublic,
	ScopeTokenRegister: ClassSecret,
	ScopeTokenVerify:   ClassSecret,
	ScopeAuthConfig:    ClassSecret,
	ScopeFeatures:      ClassSecret,
}

// scopeOrder keeps ScopesFor deterministic.
var scopeOrder = []Scope{
	ScopeRegister,
	ScopeLogin,
	ScopeTokenRegister,
	ScopeTokenVerify,
	ScopeAuthConfig,
	ScopeFeatures,
}

// ScopesFor lists the scopes granted to a class.
func ScopesFor(class Class) []Scope {
	var out []Scope
	for _, s := range scopeOrder {
		if capabilities[s] == class {
			out = append(out, s)
		}
	}
	return out
}

// Principal is an authenticated caller.
type Principal struct {
	TenantID string
	Class    Class
	KeyID    string
	Scopes   []Scope
}

// Authorize checks the principal against the static capability table.
func Authorize(p Principal, scope Scope) error {
	required, ok := capabilities[scope]
	if !ok || p.Class != required {
		return problem.ForbiddenScope(string(scope))
	}
	return nil
}
