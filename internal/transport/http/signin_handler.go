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
	"log/slog"
	"net/http"
	"time"

	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/problem"
	"github.com/opentrusty/trustcore/internal/signin"
)

// GenerateTokenRequest asks for a sign-in proof token.
type GenerateTokenRequest struct {
	UserID  string `json:"userId"`
	Purpose string `json:"purpose"`
	// TimeToLive in seconds overrides the purpose policy.
	TimeToLive *int64 `json:"timeToLive,omitempty"`
}

// VerifyTokenRequest carries a token presented back by the application.
type VerifyTokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) GenerateSigninToken(w http.ResponseWriter, r *http.Request) {
	var req GenerateTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	issue := signin.IssueRequest{UserID: req.UserID, Purpose: req.Purpose}
	if req.TimeToLive != nil {
		ttl, err := ttlFromSeconds(*req.TimeToLive, signin.MinTimeToLive, signin.MaxTimeToLive)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		issue.TTL = &ttl
	}

	tok, err := h.signinService.Issue(r.Context(), GetTenantID(r.Context()), issue)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "signin token issued",
		logger.TenantID(tok.TenantID),
		logger.Purpose(tok.Purpose),
	)
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusCreated, tok)
}

func (h *Handler) VerifySigninToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	v, err := h.signinService.Verify(r.Context(), GetTenantID(r.Context()), req.Token)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// ttlFromSeconds converts a wire time to live, rejecting values outside
// [lo, hi] before they can overflow a time.Duration.
func ttlFromSeconds(seconds int64, lo, hi time.Duration) (time.Duration, error) {
	if seconds < int64(lo/time.Second) || seconds > int64(hi/time.Second) {
		return 0, problem.InvalidTTLSeconds(seconds, lo, hi)
	}
	return time.Duration(seconds) * time.Second, nil
}
