package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that sensitive keys are correctly identified as secrets to prevent them from being logged in plaintext.
// Scope: Unit Test
// Security: Data Masking and Leakage Prevention (CWE-532)
// Expected: Returns true for keys containing 'password', 'token', 'secret', etc., and false for non-sensitive keys.
// Test Case ID: AUD-01
func TestAudit_IsSecret(t *testing.T) {
	tests := []struct {
		key      string
		isSecret bool
	}{
		{"password", true},
		{"Password", true},
		{"PASSWORD", true},
		{"token", true},
		{"access_token", true},
		{"secret", true},
		{"api_key", true},
		{"hash", true},
		{"password_hash", true},
		{"credential", true},
		{"private_key", true},
		{"user_id", false},
		{"tenant_id", false},
		{"email", false},
		{"status", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := isSecret(tt.key); got != tt.isSecret {
				t.Errorf("isSecret(%q) = %v, want %v", tt.key, got, tt.isSecret)
			}
		})
	}
}

// TestPurpose: Validates that audit events are emitted as structured records with secrets redacted.
// Scope: Unit Test
// Security: Data Masking and Leakage Prevention (CWE-532)
// Expected: The JSON record carries audit_type and tenant_id, and secret metadata is replaced by [REDACTED].
// Test Case ID: AUD-02
func TestAudit_SlogLogger_RedactsMetadata(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	l.Log(context.Background(), Event{
		Type:     TypeTenantDeletionScheduled,
		TenantID: "testapp123",
		ActorID:  "ops@example.com",
		Metadata: map[string]any{
			"cancellation_token": "eyJhbGciOi",
			"delete_at":          "2026-04-01T09:00:00Z",
		},
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "AUDIT_EVENT", rec["msg"])
	assert.Equal(t, TypeTenantDeletionScheduled, rec["audit_type"])
	assert.Equal(t, "testapp123", rec["tenant_id"])
	assert.NotEmpty(t, rec["audit_id"])

	meta, ok := rec["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", meta["cancellation_token"])
	assert.Equal(t, "2026-04-01T09:00:00Z", meta["delete_at"])
}

func TestAudit_Recorder(t *testing.T) {
	r := &Recorder{}
	r.Log(context.Background(), Event{Type: TypeTenantCreated})
	r.Log(context.Background(), Event{Type: TypeTenantFrozen})

	assert.Equal(t, []string{TypeTenantCreated, TypeTenantFrozen}, r.Types())
	assert.Len(t, r.Events(), 2)
}
