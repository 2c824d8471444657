package apikey

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opentrusty/trustcore/internal/clock"
	"github.com/opentrusty/trustcore/internal/problem"
	"github.com/opentrusty/trustcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetAPIKey(ctx context.Context, tenantID, keyID string) (*Record, error) {
	args := m.Called(ctx, tenantID, keyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Record), args.Error(1)
}

// testHasher keeps argon2 cheap in unit tests.
func testHasher() *Hasher {
	return NewHasher(8*1024, 1, 1, 16, 32)
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func issue(t *testing.T, tenantID string, class Class) (Material, *Record) {
	t.Helper()
	m, err := NewIssuer(testHasher()).Generate(tenantID, class)
	require.NoError(t, err)
	rec := m.Record(tenantID, epoch)
	return m, &rec
}

// TestPurpose: Validates that generated credentials follow the tagged layout and that secrets are never stored in plaintext.
// Scope: Unit Test
// Security: Secret keys must be recoverable only from the one-time reveal
// Expected: pk_/sk_ prefixes, 64 hex random part, KeyID suffix, SecretHash is an argon2id encoding.
// Test Case ID: KEY-01
func TestIssuer_Generate_Layout(t *testing.T) {
	pub, pubRec := issue(t, "testapp123", ClassPublic)
	sec, secRec := issue(t, "testapp123", ClassSecret)

	assert.True(t, strings.HasPrefix(pub.Plaintext, "pk_testapp123_"))
	assert.True(t, strings.HasPrefix(sec.Plaintext, "sk_testapp123_"))
	assert.Len(t, strings.SplitN(pub.Plaintext, "_", 3)[2], 64)
	assert.True(t, strings.HasSuffix(pub.Plaintext, pub.KeyID))
	assert.Len(t, pub.KeyID, 8)

	assert.Equal(t, PlainValue(pub.Plaintext), pubRec.Stored)

	hash, ok := secRec.Stored.(SecretHash)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(hash), "$argon2id$v=19$"))
	assert.NotContains(t, string(hash), sec.Plaintext)

	assert.Equal(t, []Scope{ScopeRegister, ScopeLogin}, pub.Scopes)
	assert.Equal(t, []Scope{ScopeTokenRegister, ScopeTokenVerify, ScopeAuthConfig, ScopeFeatures}, sec.Scopes)
}

func TestIssuer_Generate_Unique(t *testing.T) {
	issuer := NewIssuer(testHasher())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		m, err := issuer.Generate("testapp123", ClassPublic)
		require.NoError(t, err)
		assert.False(t, seen[m.Plaintext])
		seen[m.Plaintext] = true
	}
}

func TestHasher_RejectsMalformedEncoding(t *testing.T) {
	h := testHasher()
	for _, enc := range []SecretHash{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA", "$argon2id$v=19$m=x$a$b"} {
		_, err := h.Verify("anything", enc)
		assert.ErrorIs(t, err, ErrInvalidHash, "encoding %q", enc)
	}
}

// TestPurpose: Validates that a freshly issued key of either class authenticates to its tenant.
// Scope: Unit Test
// Security: Round trip of issue and validate
// Expected: Principal carries tenant, class and key id.
// Test Case ID: KEY-02
func TestValidator_RoundTrip(t *testing.T) {
	for _, class := range []Class{ClassPublic, ClassSecret} {
		t.Run(string(class), func(t *testing.T) {
			m, rec := issue(t, "testapp123", class)
			repo := new(mockRepo)
			repo.On("GetAPIKey", mock.Anything, "testapp123", m.KeyID).Return(rec, nil)

			v := NewValidator(repo, testHasher(), clock.NewFake(epoch))
			p, err := v.Validate(context.Background(), m.Plaintext)

			require.NoError(t, err)
			assert.Equal(t, "testapp123", p.TenantID)
			assert.Equal(t, class, p.Class)
			assert.Equal(t, m.KeyID, p.KeyID)
			repo.AssertExpectations(t)
		})
	}
}

// TestPurpose: Validates malformed credentials are rejected before any storage access.
// Scope: Unit Test
// Security: Format probing must not reach the database
// Expected: invalid_format with no repository call.
// Test Case ID: KEY-03
func TestValidator_InvalidFormat(t *testing.T) {
	hex64 := strings.Repeat("a", 64)
	cases := map[string]string{
		"empty":           "",
		"no separators":   "pktestapp123" + hex64,
		"unknown tag":     "xk_testapp123_" + hex64,
		"short tenant":    "pk_ab_" + hex64,
		"digit tenant":    "pk_1abc_" + hex64,
		"short random":    "pk_testapp123_" + hex64[:63],
		"upper hex":       "pk_testapp123_" + strings.Repeat("A", 64),
		"non hex":         "pk_testapp123_" + strings.Repeat("g", 64),
		"extra separator": "pk_test_app_" + hex64,
	}

	repo := new(mockRepo)
	v := NewValidator(repo, testHasher(), clock.NewFake(epoch))

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), value)
			assert.True(t, problem.HasCode(err, problem.CodeInvalidFormat), "got %v", err)
		})
	}
	repo.AssertNotCalled(t, "GetAPIKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidator_UnknownKey(t *testing.T) {
	m, _ := issue(t, "testapp123", ClassPublic)
	repo := new(mockRepo)
	repo.On("GetAPIKey", mock.Anything, "testapp123", m.KeyID).Return(nil, ErrNotFound)

	_, err := NewValidator(repo, testHasher(), clock.NewFake(epoch)).Validate(context.Background(), m.Plaintext)

	p, ok := problem.As(err)
	require.True(t, ok)
	assert.Equal(t, problem.CodeUnknownKey, p.ErrorCode)
	assert.Equal(t, 401, p.Status)
}

// TestPurpose: Validates that altering any character outside the key id yields a mismatch.
// Scope: Unit Test
// Security: Stored value comparison must cover the whole credential
// Expected: mismatch (401) for public and secret keys.
// Test Case ID: KEY-04
func TestValidator_TamperedValue(t *testing.T) {
	for _, class := range []Class{ClassPublic, ClassSecret} {
		t.Run(string(class), func(t *testing.T) {
			m, rec := issue(t, "testapp123", class)
			repo := new(mockRepo)
			repo.On("GetAPIKey", mock.Anything, "testapp123", m.KeyID).Return(rec, nil)

			// flip the first hex char of the random part
			idx := strings.LastIndex(m.Plaintext, "_") + 1
			b := []byte(m.Plaintext)
			if b[idx] == 'a' {
				b[idx] = 'b'
			} else {
				b[idx] = 'a'
			}

			_, err := NewValidator(repo, testHasher(), clock.NewFake(epoch)).Validate(context.Background(), string(b))
			assert.True(t, problem.HasCode(err, problem.CodeKeyMismatch), "got %v", err)
		})
	}
}

func TestValidator_ClassMustMatchTag(t *testing.T) {
	m, rec := issue(t, "testapp123", ClassPublic)
	// same random part presented with the secret tag
	forged := "sk" + strings.TrimPrefix(m.Plaintext, "pk")
	rec.Stored = PlainValue(forged)

	repo := new(mockRepo)
	repo.On("GetAPIKey", mock.Anything, "testapp123", m.KeyID).Return(rec, nil)

	_, err := NewValidator(repo, testHasher(), clock.NewFake(epoch)).Validate(context.Background(), forged)
	assert.True(t, problem.HasCode(err, problem.CodeKeyMismatch))
}

// TestPurpose: Validates locked keys are refused with the elapsed lock time.
// Scope: Unit Test
// Security: Frozen tenants must not authenticate
// Expected: locked (403) mentioning "5 minutes ago".
// Test Case ID: KEY-05
func TestValidator_LockedKey(t *testing.T) {
	m, rec := issue(t, "testapp123", ClassSecret)
	lockedAt := epoch
	rec.Locked = true
	rec.LockedAt = &lockedAt

	repo := new(mockRepo)
	repo.On("GetAPIKey", mock.Anything, "testapp123", m.KeyID).Return(rec, nil)

	clk := clock.NewFake(epoch)
	clk.Advance(5 * time.Minute)

	_, err := NewValidator(repo, testHasher(), clk).Validate(context.Background(), m.Plaintext)

	p, ok := problem.As(err)
	require.True(t, ok)
	assert.Equal(t, problem.CodeKeyLocked, p.ErrorCode)
	assert.Equal(t, 403, p.Status)
	assert.Contains(t, p.Detail, "5 minutes ago")
}

func TestValidator_StorageFailureIsRetryable(t *testing.T) {
	m, _ := issue(t, "testapp123", ClassPublic)
	repo := new(mockRepo)
	repo.On("GetAPIKey", mock.Anything, "testapp123", m.KeyID).
		Return(nil, errors.Join(store.ErrUnavailable, context.DeadlineExceeded))

	_, err := NewValidator(repo, testHasher(), clock.NewFake(epoch)).Validate(context.Background(), m.Plaintext)

	p, ok := problem.As(err)
	require.True(t, ok)
	assert.Equal(t, problem.CodeStorageUnavailable, p.ErrorCode)
	assert.True(t, p.Retryable)
}

// TestPurpose: Validates the static capability table.
// Scope: Unit Test
// Security: Public keys must never reach secret-only operations
// Expected: forbidden_scope for class mismatch or unknown scope.
// Test Case ID: KEY-06
func TestAuthorize_CapabilityTable(t *testing.T) {
	pub := Principal{TenantID: "testapp123", Class: ClassPublic}
	sec := Principal{TenantID: "testapp123", Class: ClassSecret}

	assert.NoError(t, Authorize(pub, ScopeRegister))
	assert.NoError(t, Authorize(pub, ScopeLogin))
	assert.NoError(t, Authorize(sec, ScopeTokenVerify))
	assert.NoError(t, Authorize(sec, ScopeFeatures))

	for _, s := range []Scope{ScopeTokenRegister, ScopeTokenVerify, ScopeAuthConfig, ScopeFeatures} {
		assert.True(t, problem.HasCode(Authorize(pub, s), problem.CodeForbiddenScope), "public %s", s)
	}
	for _, s := range []Scope{ScopeRegister, ScopeLogin} {
		assert.True(t, problem.HasCode(Authorize(sec, s), problem.CodeForbiddenScope), "secret %s", s)
	}
	assert.True(t, problem.HasCode(Authorize(sec, Scope("admin")), problem.CodeForbiddenScope))
}

func TestTenantOf(t *testing.T) {
	m, _ := issue(t, "testapp123", ClassPublic)
	assert.Equal(t, "testapp123", TenantOf(m.Plaintext))
	assert.Equal(t, "", TenantOf("garbage"))
}
