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

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/trustcore/internal/problem"
	"github.com/opentrusty/trustcore/internal/tenant"
)

// CreateAppRequest represents tenant creation data
type CreateAppRequest struct {
	AccountID        string   `json:"accountId"`
	AdminEmails      []string `json:"adminEmails"`
	SubscriptionTier string   `json:"subscriptionTier"`
}

// MarkForDeletionRequest names the operator asking for the deletion.
type MarkForDeletionRequest struct {
	RequestedBy string `json:"requestedBy"`
}

// CreateApp provisions a tenant and returns its keys. The plaintext keys
// appear in this response only.
func (h *Handler) CreateApp(w http.ResponseWriter, r *http.Request) {
	var req CreateAppRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.tenantService.Create(r.Context(), req.AccountID, tenant.CreateOptions{
		AdminEmails:      req.AdminEmails,
		SubscriptionTier: req.SubscriptionTier,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusCreated, res)
}

// GetApp returns the tenant and its derived frozen state.
func (h *Handler) GetApp(w http.ResponseWriter, r *http.Request) {
	info, err := h.tenantService.Get(r.Context(), chi.URLParam(r, "appID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *Handler) FreezeApp(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.Freeze(r.Context(), chi.URLParam(r, "appID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnfreezeApp(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.Unfreeze(r.Context(), chi.URLParam(r, "appID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkForDeletion deletes young or empty tenants at once and schedules the
// rest. The response carries what the caller needs to notify the admins.
func (h *Handler) MarkForDeletion(w http.ResponseWriter, r *http.Request) {
	var req MarkForDeletionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.tenantService.MarkForDeletion(r.Context(), chi.URLParam(r, "appID"), req.RequestedBy, h.cancellationURL)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if res.IsDeleted {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (h *Handler) CancelDeletion(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.CancelDeletion(r.Context(), chi.URLParam(r, "appID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelDeletionByReference cancels the deletion named by a signed link.
func (h *Handler) CancelDeletionByReference(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("token")
	if reference == "" {
		h.respondError(w, r, problem.InvalidCancellationReference())
		return
	}

	accountID, err := h.tenantService.CancelDeletionByReference(r.Context(), reference)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"accountId": accountID})
}

// DeleteApp erases a tenant whose grace period has elapsed.
func (h *Handler) DeleteApp(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.Delete(r.Context(), chi.URLParam(r, "appID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListPendingDeletion(w http.ResponseWriter, r *http.Request) {
	ids, err := h.tenantService.ListPendingDeletion(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string][]string{"accountIds": ids})
}
