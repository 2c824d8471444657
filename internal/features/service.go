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

package features

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/opentrusty/trustcore/internal/problem"
)

// Service reads and writes flags through an optional cache.
type Service struct {
	repo  Repository
	cache Cache
}

// NewService creates a feature service. A nil cache disables caching.
func NewService(repo Repository, cache Cache) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{repo: repo, cache: cache}
}

// Get returns the flags of tenantID.
func (s *Service) Get(ctx context.Context, tenantID string) (*Features, error) {
	if f, ok, err := s.cache.Get(ctx, tenantID); err != nil {
		slog.WarnContext(ctx, "feature cache read failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
	} else if ok {
		return f, nil
	}

	f, err := s.repo.GetFeatures(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, problem.NotFound("features", tenantID)
		}
		return nil, problem.Internal(fmt.Errorf("get features: %w", err))
	}

	if err := s.cache.Set(ctx, f); err != nil {
		slog.WarnContext(ctx, "feature cache fill failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
	}
	return f, nil
}

// Set replaces the flags of tenantID.
func (s *Service) Set(ctx context.Context, tenantID string, f Features) (*Features, error) {
	f.TenantID = tenantID
	if err := validate(&f); err != nil {
		return nil, err
	}

	if err := s.repo.SetFeatures(ctx, &f); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, problem.NotFound("features", tenantID)
		}
		return nil, problem.Internal(fmt.Errorf("set features: %w", err))
	}

	if err := s.cache.Delete(ctx, tenantID); err != nil {
		slog.WarnContext(ctx, "feature cache invalidation failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
	}
	return &f, nil
}

func validate(f *Features) error {
	err := validation.ValidateStruct(f,
		validation.Field(&f.RetentionPeriod, validation.Min(0).Error("must not be negative")),
	)
	if err != nil {
		return problem.ValidationFrom(err)
	}
	if f.MaxUsers != nil && *f.MaxUsers < 0 {
		return problem.Validation("maxUsers must not be negative", map[string]string{"maxUsers": "must not be negative"})
	}
	return nil
}
