package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/opentrusty/trustcore/internal/apikey"
	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/authconfig"
	"github.com/opentrusty/trustcore/internal/clock"
	"github.com/opentrusty/trustcore/internal/features"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
	"github.com/opentrusty/trustcore/internal/signin"
	"github.com/opentrusty/trustcore/internal/store/memory"
	"github.com/opentrusty/trustcore/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManagementKey = "management-key-0123456789"

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	store  *memory.Store
	clock  *clock.Fake
	audit  *audit.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewFake(epoch)
	st := memory.New()
	rec := &audit.Recorder{}
	hasher := apikey.NewHasher(8*1024, 1, 1, 16, 32)
	registry := authconfig.NewRegistry(st, clk)
	inst, err := metrics.NewInstruments(metrics.New(metrics.Config{}, "trustcore-test"))
	require.NoError(t, err)

	h := NewHandler(Options{
		Tenants:             tenant.NewService(st, apikey.NewIssuer(hasher), tenant.NewCanceller([]byte("0123456789abcdef0123456789abcdef"), clk), nil, rec, clk),
		Signin:              signin.NewService(st, registry, clk),
		AuthConfig:          registry,
		Features:            features.NewService(st, nil),
		Validator:           apikey.NewValidator(st, hasher, clk),
		Metrics:             inst,
		Health:              st,
		ManagementKey:       testManagementKey,
		CancellationBaseURL: "https://console.example.com/cancel-delete",
	})
	return &testServer{
		router: NewRouter(h, NewRateLimiter(1000, 1000)),
		store:  st,
		clock:  clk,
		audit:  rec,
	}
}

func (s *testServer) do(t *testing.T, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func mgmt() map[string]string { return map[string]string{HeaderManagementKey: testManagementKey} }

func secret(key string) map[string]string { return map[string]string{HeaderAPISecret: key} }

func (s *testServer) createApp(t *testing.T, id string) tenant.CreateResult {
	t.Helper()
	w := s.do(t, http.MethodPost, "/admin/apps", mgmt(), CreateAppRequest{AccountID: id, AdminEmails: []string{"admin@example.com"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res tenant.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// TestPurpose: Validates that operator routes require the management key.
// Scope: Unit Test
// Security: Management surface is closed without the shared key
// Expected: missing key is 401 missing_credentials, wrong key is 401 unknown_key, correct key proceeds.
// Test Case ID: HTTP-01
func TestRouter_ManagementAuth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/admin/apps/pending-deletion", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_credentials", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodGet, "/admin/apps/pending-deletion", map[string]string{HeaderManagementKey: "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unknown_key", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodGet, "/admin/apps/pending-deletion", mgmt(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accountIds":[]}`, w.Body.String())
}

// TestPurpose: Validates creation over HTTP, duplicate detection and the problem shape.
// Scope: Unit Test
// Security: Keys revealed once with no-store caching
// Expected: 201 with four keys, then 409 conflict carrying accountId; malformed id is 400.
// Test Case ID: HTTP-02
func TestRouter_CreateApp(t *testing.T) {
	s := newTestServer(t)

	res := s.createApp(t, "acmeApp1")
	assert.Len(t, res.PublicKeys, 2)
	assert.Len(t, res.SecretKeys, 2)

	w := s.do(t, http.MethodPost, "/admin/apps", mgmt(), CreateAppRequest{AccountID: "acmeApp1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, "conflict", body["errorCode"])
	assert.Equal(t, "acmeApp1", body["accountId"])
	assert.EqualValues(t, 409, body["status"])

	w = s.do(t, http.MethodPost, "/admin/apps", mgmt(), CreateAppRequest{AccountID: "1bad_id"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_account_id", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodGet, "/admin/apps/acmeApp1", mgmt(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "acmeApp1", info["accountId"])
	assert.Equal(t, false, info["frozen"])
}

// TestPurpose: Validates the sign-in token round trip through the secret-key routes.
// Scope: Unit Test
// Security: Tokens are single-use and bound to the issuing tenant
// Expected: issue 201, verify 200, replay 403 unknown_token, other tenant 403 unknown_token.
// Test Case ID: HTTP-03
func TestRouter_SigninTokens(t *testing.T) {
	s := newTestServer(t)
	app := s.createApp(t, "acmeApp1")
	other := s.createApp(t, "otherApp")

	w := s.do(t, http.MethodPost, "/signin/generate-token", secret(app.SecretKeys[0]), GenerateTokenRequest{UserID: "alice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tok map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	value := tok["token"].(string)
	assert.Equal(t, "sign-in", tok["purpose"])

	w = s.do(t, http.MethodPost, "/signin/verify", secret(other.SecretKeys[0]), VerifyTokenRequest{Token: value})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unknown_token", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodPost, "/signin/verify", secret(app.SecretKeys[1]), VerifyTokenRequest{Token: value})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var verified map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verified))
	assert.Equal(t, "alice", verified["userId"])
	assert.Equal(t, true, verified["success"])

	w = s.do(t, http.MethodPost, "/signin/verify", secret(app.SecretKeys[1]), VerifyTokenRequest{Token: value})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unknown_token", decodeProblem(t, w)["errorCode"])
}

// TestPurpose: Validates the expired-token message and extensions.
// Scope: Unit Test
// Expected: 403 expired_token, "The token expired 10 seconds ago.", expiredAt present.
// Test Case ID: HTTP-04
func TestRouter_SigninTokenExpired(t *testing.T) {
	s := newTestServer(t)
	app := s.createApp(t, "acmeApp1")

	ttl := int64(5)
	w := s.do(t, http.MethodPost, "/signin/generate-token", secret(app.SecretKeys[0]), GenerateTokenRequest{UserID: "alice", TimeToLive: &ttl})
	require.Equal(t, http.StatusCreated, w.Code)
	var tok map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))

	s.clock.Advance(15 * time.Second)

	w = s.do(t, http.MethodPost, "/signin/verify", secret(app.SecretKeys[0]), VerifyTokenRequest{Token: tok["token"].(string)})
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, "expired_token", body["errorCode"])
	assert.Equal(t, "The token expired 10 seconds ago.", body["detail"])
	assert.NotEmpty(t, body["expiredAt"])
}

// TestPurpose: Validates class and scope enforcement on credential headers.
// Scope: Unit Test
// Security: Public keys never reach secret capabilities
// Expected: missing header 401, public key on secret route 403 forbidden_scope, malformed 401 invalid_format.
// Test Case ID: HTTP-05
func TestRouter_KeyScopes(t *testing.T) {
	s := newTestServer(t)
	app := s.createApp(t, "acmeApp1")

	w := s.do(t, http.MethodGet, "/apps/features", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_credentials", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodGet, "/apps/features", secret(app.PublicKeys[0]), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden_scope", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodGet, "/apps/features", secret("sk_acmeApp1_zz"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_format", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodGet, "/auth-configs/sign-in/policy", map[string]string{HeaderAPIKey: app.PublicKeys[1]}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestPurpose: Validates the purpose policy routes.
// Scope: Unit Test
// Expected: custom policy stored and served in seconds; presets listed; preset deletion refused; custom deletion 204.
// Test Case ID: HTTP-06
func TestRouter_AuthConfigs(t *testing.T) {
	s := newTestServer(t)
	app := s.createApp(t, "acmeApp1")
	key := secret(app.SecretKeys[0])

	w := s.do(t, http.MethodPost, "/auth-configs", key, AuthConfigRequest{Purpose: "checkout", TimeToLive: 300, UserVerification: "required"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got AuthConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(300), got.TimeToLive)
	assert.Equal(t, "required", got.UserVerification)

	w = s.do(t, http.MethodGet, "/auth-configs", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []AuthConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	purposes := make([]string, 0, len(list))
	for _, p := range list {
		purposes = append(purposes, p.Purpose)
	}
	assert.ElementsMatch(t, []string{"checkout", "sign-in", "step-up"}, purposes)

	w = s.do(t, http.MethodPost, "/auth-configs", key, AuthConfigRequest{Purpose: "checkout", TimeToLive: 0, UserVerification: "required"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_ttl", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodDelete, "/auth-configs/sign-in", key, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "preset_purpose", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodDelete, "/auth-configs/checkout", key, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/auth-configs/checkout/policy", map[string]string{HeaderAPIKey: app.PublicKeys[0]}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Features(t *testing.T) {
	s := newTestServer(t)
	app := s.createApp(t, "acmeApp1")
	key := secret(app.SecretKeys[0])

	w := s.do(t, http.MethodGet, "/apps/features", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var f FeaturesBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.True(t, f.EventLoggingEnabled)
	assert.Equal(t, int64(30*24*60*60), f.RetentionPeriod)

	f.RetentionPeriod = 3600
	f.AllowAttestation = true
	w = s.do(t, http.MethodPut, "/apps/features", key, f)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/apps/features", key, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.Equal(t, int64(3600), f.RetentionPeriod)
	assert.True(t, f.AllowAttestation)

	f.RetentionPeriod = -1
	w = s.do(t, http.MethodPut, "/apps/features", key, f)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeProblem(t, w)["errorCode"])
}

// TestPurpose: Validates freeze and the scheduled deletion flow end to end.
// Scope: Unit Test
// Security: Locked keys stop authenticating; cancellation link restores access
// Expected: frozen key 403 locked; mark-delete 202 with link; link cancels; delete before due is not_pending.
// Test Case ID: HTTP-07
func TestRouter_LifecycleFlow(t *testing.T) {
	s := newTestServer(t)
	app := s.createApp(t, "acmeApp1")
	key := secret(app.SecretKeys[0])

	w := s.do(t, http.MethodPost, "/admin/apps/acmeApp1/freeze", mgmt(), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/apps/features", key, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "locked", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodPost, "/admin/apps/acmeApp1/unfreeze", mgmt(), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, s.store.AddUser(context.Background(), "acmeApp1", "user-1"))
	s.clock.Advance(4 * 24 * time.Hour)

	w = s.do(t, http.MethodPost, "/admin/apps/acmeApp1/mark-delete", mgmt(), MarkForDeletionRequest{RequestedBy: "ops"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var del tenant.DeletionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &del))
	assert.False(t, del.IsDeleted)
	assert.Equal(t, []string{"admin@example.com"}, del.AdminEmails)

	w = s.do(t, http.MethodDelete, "/admin/apps/acmeApp1", mgmt(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "not_pending", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodGet, "/admin/apps/pending-deletion", mgmt(), nil)
	assert.JSONEq(t, `{"accountIds":["acmeApp1"]}`, w.Body.String())

	link, err := url.Parse(del.CancellationURL)
	require.NoError(t, err)
	reference := link.Query().Get("token")
	require.NotEmpty(t, reference)

	w = s.do(t, http.MethodPost, "/admin/apps/cancel-delete?token=garbage", mgmt(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_cancellation_reference", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodPost, "/admin/apps/cancel-delete?token="+url.QueryEscape(reference), mgmt(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"accountId":"acmeApp1"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/apps/features", key, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, s.audit.Types(), "tenant_deletion_cancelled")
}

func TestRouter_MarkForDeletion_Immediate(t *testing.T) {
	s := newTestServer(t)
	app := s.createApp(t, "acmeApp1")

	w := s.do(t, http.MethodPost, "/admin/apps/acmeApp1/mark-delete", mgmt(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"isDeleted":true}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/apps/features", secret(app.SecretKeys[0]), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unknown_key", decodeProblem(t, w)["errorCode"])

	w = s.do(t, http.MethodGet, "/admin/apps/acmeApp1", mgmt(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_HealthAndBadBody(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/apps", bytes.NewBufferString(`{"accountId":`))
	req.Header.Set(HeaderManagementKey, testManagementKey)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeProblem(t, rec)["errorCode"])
}

// TestPurpose: Validates that time-to-live values far outside the allowed range are rejected, not wrapped.
// Scope: Unit Test
// Expected: 400 invalid_ttl for values whose nanosecond form overflows int64, on both routes.
// Test Case ID: HTTP-10
func TestRouter_TimeToLiveOverflow(t *testing.T) {
	s := newTestServer(t)
	app := s.createApp(t, "acmeApp1")
	key := secret(app.SecretKeys[0])

	// 2^64 ns plus a little, in seconds: wraps to about 1s when multiplied naively
	const wrapping int64 = 18446744075

	for _, ttl := range []int64{wrapping, -wrapping, 0, 7*24*3600 + 1} {
		ttl := ttl
		w := s.do(t, http.MethodPost, "/signin/generate-token", key, GenerateTokenRequest{UserID: "alice", TimeToLive: &ttl})
		assert.Equal(t, http.StatusBadRequest, w.Code, "signin ttl=%d", ttl)
		assert.Equal(t, "invalid_ttl", decodeProblem(t, w)["errorCode"])

		w = s.do(t, http.MethodPost, "/auth-configs", key, AuthConfigRequest{Purpose: "checkout", TimeToLive: ttl, UserVerification: "required"})
		assert.Equal(t, http.StatusBadRequest, w.Code, "auth config ttl=%d", ttl)
		assert.Equal(t, "invalid_ttl", decodeProblem(t, w)["errorCode"])
	}

	maxTTL := int64(7 * 24 * 3600)
	w := s.do(t, http.MethodPost, "/signin/generate-token", key, GenerateTokenRequest{UserID: "alice", TimeToLive: &maxTTL})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestTTLFromSeconds(t *testing.T) {
	ttl, err := ttlFromSeconds(60, time.Second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	_, err = ttlFromSeconds(3601, time.Second, time.Hour)
	assert.Error(t, err)
	_, err = ttlFromSeconds(1<<62, time.Second, time.Hour)
	assert.Error(t, err)
}
