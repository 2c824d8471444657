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
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/trustcore/internal/apikey"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
	"github.com/opentrusty/trustcore/internal/problem"
)

// Credential headers.
//
// Tenant context is derived exclusively from the presented credential. No
// route accepts a tenant id from headers, query parameters or bodies.
const (
	HeaderManagementKey = "X-Management-Key"
	HeaderAPISecret     = "ApiSecret"
	HeaderAPIKey        = "ApiKey"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(getClientIP(r)),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// MetricsMiddleware records request count and latency per matched route.
func MetricsMiddleware(inst *metrics.Instruments) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			inst.RecordRequest(r.Context(), r.Method, route, status, time.Since(start).Seconds())
		})
	}
}

// ManagementAuth guards the operator routes with a shared management key.
func (h *Handler) ManagementAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(HeaderManagementKey)
		if presented == "" {
			h.respondError(w, r, problem.MissingCredentials(HeaderManagementKey))
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.managementKey)) != 1 {
			slog.WarnContext(r.Context(), "management key rejected", logger.RemoteAddr(getClientIP(r)))
			h.respondError(w, r, problem.UnknownKey())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireKey authenticates the credential in header and authorizes scope.
// The resulting principal is stored in the request context.
func (h *Handler) RequireKey(header string, scope apikey.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(header)
			if presented == "" {
				h.respondError(w, r, problem.MissingCredentials(header))
				return
			}

			principal, err := h.validator.ValidateFor(r.Context(), presented, scope)
			class := string(apikey.ClassPublic)
			if header == HeaderAPISecret {
				class = string(apikey.ClassSecret)
			}
			if err != nil {
				p := problem.From(err)
				h.metrics.RecordKeyValidation(r.Context(), class, string(p.ErrorCode))
				if p.Status < http.StatusInternalServerError {
					attrs := []any{logger.KeyClass(class), logger.ErrorCode(string(p.ErrorCode)), logger.RemoteAddr(getClientIP(r))}
					if parsed, perr := apikey.Parse(presented); perr == nil {
						attrs = append(attrs, logger.TenantID(parsed.TenantID), logger.KeyID(parsed.KeyID))
					}
					slog.WarnContext(r.Context(), "api key rejected", attrs...)
				}
				h.respondError(w, r, err)
				return
			}
			h.metrics.RecordKeyValidation(r.Context(), class, "ok")

			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}
