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
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/trustcore/internal/apikey"
	"github.com/opentrusty/trustcore/internal/authconfig"
	"github.com/opentrusty/trustcore/internal/features"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
	"github.com/opentrusty/trustcore/internal/signin"
	"github.com/opentrusty/trustcore/internal/tenant"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	tenantService   *tenant.Service
	signinService   *signin.Service
	registry        *authconfig.Registry
	featureService  *features.Service
	validator       *apikey.Validator
	metrics         *metrics.Instruments
	health          Pinger
	managementKey   string
	cancellationURL string
}

// Options configures a Handler.
type Options struct {
	Tenants       *tenant.Service
	Signin        *signin.Service
	AuthConfig    *authconfig.Registry
	Features      *features.Service
	Validator     *apikey.Validator
	Metrics       *metrics.Instruments
	Health        Pinger
	ManagementKey string
	// CancellationBaseURL is the link target mailed to tenant admins.
	CancellationBaseURL string
}

// NewHandler creates a new HTTP handler
func NewHandler(opts Options) *Handler {
	return &Handler{
		tenantService:   opts.Tenants,
		signinService:   opts.Signin,
		registry:        opts.AuthConfig,
		featureService:  opts.Features,
		validator:       opts.Validator,
		metrics:         opts.Metrics,
		health:          opts.Health,
		managementKey:   opts.ManagementKey,
		cancellationURL: opts.CancellationBaseURL,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(MetricsMiddleware(h.metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	// Operator routes
	r.Route("/admin/apps", func(r chi.Router) {
		r.Use(h.ManagementAuth)

		r.Post("/", h.CreateApp)
		r.Get("/pending-deletion", h.ListPendingDeletion)
		r.Post("/cancel-delete", h.CancelDeletionByReference)

		r.Route("/{appID}", func(r chi.Router) {
			r.Get("/", h.GetApp)
			r.Post("/freeze", h.FreezeApp)
			r.Post("/unfreeze", h.UnfreezeApp)
			r.Post("/mark-delete", h.MarkForDeletion)
			r.Post("/cancel-delete", h.CancelDeletion)
			r.Delete("/", h.DeleteApp)
		})
	})

	// Secret-key routes
	r.Group(func(r chi.Router) {
		r.With(h.RequireKey(HeaderAPISecret, apikey.ScopeTokenRegister)).Post("/signin/generate-token", h.GenerateSigninToken)
		r.With(h.RequireKey(HeaderAPISecret, apikey.ScopeTokenVerify)).Post("/signin/verify", h.VerifySigninToken)

		r.Route("/auth-configs", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.RequireKey(HeaderAPISecret, apikey.ScopeAuthConfig))
				r.Get("/", h.ListAuthConfigs)
				r.Post("/", h.SetAuthConfig)
				r.Delete("/{purpose}", h.DeleteAuthConfig)
			})
			// Public-key route
			r.With(h.RequireKey(HeaderAPIKey, apikey.ScopeLogin)).Get("/{purpose}/policy", h.GetAuthPolicy)
		})

		r.Route("/apps/features", func(r chi.Router) {
			r.Use(h.RequireKey(HeaderAPISecret, apikey.ScopeFeatures))
			r.Get("/", h.GetFeatures)
			r.Put("/", h.SetFeatures)
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unavailable",
				"service": "trustcore",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "trustcore",
	})
}
