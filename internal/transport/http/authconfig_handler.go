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

package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/opentrusty/trustcore/internal/authconfig"
)

// AuthConfigRequest creates or replaces a purpose policy.
type AuthConfigRequest struct {
	Purpose string `json:"purpose"`
	// TimeToLive in seconds.
	TimeToLive       int64  `json:"timeToLive"`
	UserVerification string `json:"userVerification"`
}

// AuthConfigResponse is a policy as seen over HTTP. TimeToLive is in seconds.
type AuthConfigResponse struct {
	Purpose          string    `json:"purpose"`
	TimeToLive       int64     `json:"timeToLive"`
	UserVerification string    `json:"userVerification"`
	CreatedAt        time.Time `json:"createdAt"`
	EditedAt         time.Time `json:"editedAt"`
	Preset           bool      `json:"preset"`
}

func toAuthConfigResponse(p *authconfig.Policy) AuthConfigResponse {
	return AuthConfigResponse{
		Purpose:          p.Purpose,
		TimeToLive:       int64(p.TimeToLive / time.Second),
		UserVerification: string(p.UserVerification),
		CreatedAt:        p.CreatedAt,
		EditedAt:         p.EditedAt,
		Preset:           p.Preset,
	}
}

func (h *Handler) ListAuthConfigs(w http.ResponseWriter, r *http.Request) {
	policies, err := h.registry.List(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]AuthConfigResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, toAuthConfigResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) SetAuthConfig(w http.ResponseWriter, r *http.Request) {
	var req AuthConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	ttl, err := ttlFromSeconds(req.TimeToLive, authconfig.MinTimeToLive, authconfig.MaxTimeToLive)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	p, err := h.registry.Set(r.Context(), GetTenantID(r.Context()), req.Purpose, ttl,
		protocol.UserVerificationRequirement(req.UserVerification))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAuthConfigResponse(p))
}

func (h *Handler) DeleteAuthConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "purpose")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAuthPolicy lets the browser-side client read a purpose policy with the
// public key.
func (h *Handler) GetAuthPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Get(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "purpose"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAuthConfigResponse(p))
}
