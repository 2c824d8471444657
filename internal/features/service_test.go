package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opentrusty/trustcore/internal/problem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetFeatures(ctx context.Context, tenantID string) (*Features, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Features), args.Error(1)
}

func (m *mockRepo) SetFeatures(ctx context.Context, f *Features) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, tenantID string) (*Features, bool, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*Features), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, f *Features) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *mockCache) Delete(ctx context.Context, tenantID string) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

// TestPurpose: Validates the read-through cache path.
// Scope: Unit Test
// Expected: a miss reads the repository and fills the cache; a hit skips the repository.
// Test Case ID: FEA-01
func TestService_Get_ReadThrough(t *testing.T) {
	defaults := Defaults("testapp123")
	repo := new(mockRepo)
	repo.On("GetFeatures", mock.Anything, "testapp123").Return(&defaults, nil).Once()
	cache := new(mockCache)
	cache.On("Get", mock.Anything, "testapp123").Return(nil, false, nil).Once()
	cache.On("Set", mock.Anything, &defaults).Return(nil).Once()
	cache.On("Get", mock.Anything, "testapp123").Return(&defaults, true, nil).Once()

	svc := NewService(repo, cache)

	f, err := svc.Get(context.Background(), "testapp123")
	require.NoError(t, err)
	assert.True(t, f.SigninTokenEndpointEnabled)

	_, err = svc.Get(context.Background(), "testapp123")
	require.NoError(t, err)

	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestService_Get_CacheFailureFallsBack(t *testing.T) {
	defaults := Defaults("testapp123")
	repo := new(mockRepo)
	repo.On("GetFeatures", mock.Anything, "testapp123").Return(&defaults, nil)
	cache := new(mockCache)
	cache.On("Get", mock.Anything, "testapp123").Return(nil, false, errors.New("connection refused"))
	cache.On("Set", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	f, err := NewService(repo, cache).Get(context.Background(), "testapp123")
	require.NoError(t, err)
	assert.Equal(t, "testapp123", f.TenantID)
}

func TestService_Get_NotFound(t *testing.T) {
	repo := new(mockRepo)
	repo.On("GetFeatures", mock.Anything, "ghostapp").Return(nil, ErrNotFound)

	_, err := NewService(repo, nil).Get(context.Background(), "ghostapp")
	assert.True(t, problem.HasCode(err, problem.CodeNotFound))
}

// TestPurpose: Validates writes are validated and invalidate the cache.
// Scope: Unit Test
// Expected: negative retention rejected; valid write persisted and cache entry deleted.
// Test Case ID: FEA-02
func TestService_Set(t *testing.T) {
	repo := new(mockRepo)
	repo.On("SetFeatures", mock.Anything, mock.MatchedBy(func(f *Features) bool {
		return f.TenantID == "testapp123" && f.RetentionPeriod == 90*24*time.Hour
	})).Return(nil)
	cache := new(mockCache)
	cache.On("Delete", mock.Anything, "testapp123").Return(nil)
	svc := NewService(repo, cache)

	_, err := svc.Set(context.Background(), "testapp123", Features{RetentionPeriod: -time.Hour})
	assert.True(t, problem.HasCode(err, problem.CodeValidation))

	neg := int64(-1)
	_, err = svc.Set(context.Background(), "testapp123", Features{MaxUsers: &neg})
	assert.True(t, problem.HasCode(err, problem.CodeValidation))

	f, err := svc.Set(context.Background(), "testapp123", Features{
		TenantID:        "spoofed",
		RetentionPeriod: 90 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "testapp123", f.TenantID)

	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}
