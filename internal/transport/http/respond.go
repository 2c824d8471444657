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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/problem"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, p *problem.Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// respondError writes err as problem+json. Infrastructure failures are
// logged here and nowhere else; domain failures are not logged.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	p := problem.From(err)
	switch p.ErrorCode {
	case problem.CodeInternal, problem.CodeStorageUnavailable:
		slog.ErrorContext(r.Context(), "request failed",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.ErrorCode(string(p.ErrorCode)),
			logger.Error(errors.Unwrap(p)),
		)
	}
	if p.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeProblem(w, p)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return problem.Validation("The request body is not valid JSON: "+err.Error(), nil)
	}
	return nil
}
