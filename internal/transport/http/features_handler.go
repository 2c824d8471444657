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

	"github.com/opentrusty/trustcore/internal/features"
)

// FeaturesBody is the wire form of a tenant's flags. RetentionPeriod is in
// seconds.
type FeaturesBody struct {
	EventLoggingEnabled        bool       `json:"eventLoggingEnabled"`
	RetentionPeriod            int64      `json:"retentionPeriod"`
	DeveloperLoggingEndsAt     *time.Time `json:"developerLoggingEndsAt,omitempty"`
	MaxUsers                   *int64     `json:"maxUsers,omitempty"`
	AllowAttestation           bool       `json:"allowAttestation"`
	SigninTokenEndpointEnabled bool       `json:"signinTokenEndpointEnabled"`
}

func toFeaturesBody(f *features.Features) FeaturesBody {
	return FeaturesBody{
		EventLoggingEnabled:        f.EventLoggingEnabled,
		RetentionPeriod:            int64(f.RetentionPeriod / time.Second),
		DeveloperLoggingEndsAt:     f.DeveloperLoggingEndsAt,
		MaxUsers:                   f.MaxUsers,
		AllowAttestation:           f.AllowAttestation,
		SigninTokenEndpointEnabled: f.SigninTokenEndpointEnabled,
	}
}

func (b FeaturesBody) features() features.Features {
	return features.Features{
		EventLoggingEnabled:        b.EventLoggingEnabled,
		RetentionPeriod:            time.Duration(b.RetentionPeriod) * time.Second,
		DeveloperLoggingEndsAt:     b.DeveloperLoggingEndsAt,
		MaxUsers:                   b.MaxUsers,
		AllowAttestation:           b.AllowAttestation,
		SigninTokenEndpointEnabled: b.SigninTokenEndpointEnabled,
	}
}

func (h *Handler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	f, err := h.featureService.Get(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toFeaturesBody(f))
}

// SetFeatures replaces the full flag set.
func (h *Handler) SetFeatures(w http.ResponseWriter, r *http.Request) {
	var body FeaturesBody
	if err := decodeJSON(r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}

	f, err := h.featureService.Set(r.Context(), GetTenantID(r.Context()), body.features())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toFeaturesBody(f))
}
