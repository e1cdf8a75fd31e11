package security

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestSanitizeMetadata(t *testing.T) {
	t.Run("redacts secret-shaped keys", func(t *testing.T) {
		out := SanitizeMetadata(map[string]any{
			"client_secret": "super-secret",
			"access_token":  "at-123",
			"Authorization": "Bearer xyz",
			"reason":        "expired",
		})

		for _, key := range []string{"client_secret", "access_token", "Authorization"} {
			if out[key] != redacted {
				t.Errorf("%s = %v, want %q", key, out[key], redacted)
			}
		}
		if out["reason"] != "expired" {
			t.Errorf("reason = %v, want unchanged", out["reason"])
		}
	})

	t.Run("truncates long values", func(t *testing.T) {
		long := strings.Repeat("a", maxMetadataValueLen+100)
		out := SanitizeMetadata(map[string]any{"detail": long})

		s, ok := out["detail"].(string)
		if !ok {
			t.Fatalf("detail is %T, want string", out["detail"])
		}
		if !strings.HasSuffix(s, "...(truncated)") {
			t.Error("long value not marked truncated")
		}
		if len(s) > maxMetadataValueLen+len("...(truncated)") {
			t.Errorf("truncated value length = %d", len(s))
		}
	})

	t.Run("caps entry count", func(t *testing.T) {
		details := make(map[string]any)
		for i := 0; i < maxMetadataEntries+10; i++ {
			details[fmt.Sprintf("field_%02d", i)] = i
		}
		out := SanitizeMetadata(details)

		if out["_truncated"] != true {
			t.Error("_truncated marker missing")
		}
		if len(out) > maxMetadataEntries+1 {
			t.Errorf("sanitized map has %d entries", len(out))
		}
	})

	t.Run("nil passes through", func(t *testing.T) {
		if out := SanitizeMetadata(nil); out != nil {
			t.Errorf("SanitizeMetadata(nil) = %v, want nil", out)
		}
	})
}

func TestAuditorLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auditor := NewAuditor(logger, true)

	auditor.LogEvent(Event{
		Type:      "login_failure",
		Severity:  SeverityWarning,
		OrgID:     "org-1",
		SessionID: "sess-abc",
		IPAddress: "10.0.0.1",
		Details: map[string]any{
			"reason":       "nonce_mismatch",
			"access_token": "at-plaintext",
		},
	})

	out := buf.String()
	if !strings.Contains(out, "login_failure") {
		t.Error("output missing event type")
	}
	if strings.Contains(out, "sess-abc") {
		t.Error("raw session ID leaked into output")
	}
	if !strings.Contains(out, hashForLogging("sess-abc")) {
		t.Error("hashed session ID missing from output")
	}
	if strings.Contains(out, "at-plaintext") {
		t.Error("secret metadata value leaked into output")
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("output not logged at warning level: %s", out)
	}
}

func TestAuditorDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auditor := NewAuditor(logger, false)

	auditor.LogLoginFailure("org-1", "sess-abc", "10.0.0.1", "expired")
	auditor.LogFlowTransition("org-1", "sess-abc", "initiated", "failed")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %s", buf.String())
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	a := hashForLogging("session-1")
	b := hashForLogging("session-1")
	c := hashForLogging("session-2")
	if a != b {
		t.Error("hash is not deterministic")
	}
	if a == c {
		t.Error("distinct inputs hash identically")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a == "session-1" {
		t.Error("hash equals input")
	}
}
