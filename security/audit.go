package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
)

const (
	// maxMetadataEntries caps the number of metadata entries per event.
	maxMetadataEntries = 20

	// maxMetadataValueLen caps string metadata values.
	maxMetadataValueLen = 1024

	// redacted replaces values whose keys look secret-bearing.
	redacted = "[REDACTED]"
)

// secretKeyFragments flags metadata keys whose values must never reach the
// log sink.
var secretKeyFragments = []string{
	"secret", "token", "password", "credential", "authorization",
	"code", "key", "nonce", "verifier",
}

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event represents a security audit event.
type Event struct {
	Type      string
	Severity  string
	OrgID     string
	SessionID string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// Auditor logs security events with secrets redacted and PII hashed.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// LogEvent sanitizes and logs a security event. Metadata is capped at 20
// entries, string values at 1KB, and secret-shaped keys are redacted before
// anything reaches the sink.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	event.Timestamp = time.Now()

	attrs := []any{
		"event_type", event.Type,
		"severity", event.Severity,
		"org_id", event.OrgID,
		"session_id_hash", hashForLogging(event.SessionID),
		"ip_address", event.IPAddress,
		"details", SanitizeMetadata(event.Details),
		"timestamp", event.Timestamp,
	}

	switch event.Severity {
	case SeverityError:
		a.logger.Error("security_audit", attrs...)
	case SeverityWarning:
		a.logger.Warn("security_audit", attrs...)
	default:
		a.logger.Info("security_audit", attrs...)
	}
}

// LogFlowTransition records a login flow state change.
func (a *Auditor) LogFlowTransition(orgID, sessionID, from, to string) {
	a.LogEvent(Event{
		Type:      "flow_transition",
		OrgID:     orgID,
		SessionID: sessionID,
		Details: map[string]any{
			"from": from,
			"to":   to,
		},
	})
}

// LogLoginFailure records a failed login attempt with its reason.
func (a *Auditor) LogLoginFailure(orgID, sessionID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "login_failure",
		Severity:  SeverityWarning,
		OrgID:     orgID,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded records a blocked identifier.
func (a *Auditor) LogRateLimitExceeded(orgID, ipAddress string, category Category) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		Severity:  SeverityWarning,
		OrgID:     orgID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"category": string(category),
		},
	})
}

// LogTokenRefreshed records a token refresh, noting whether the IdP rotated
// the refresh token.
func (a *Auditor) LogTokenRefreshed(orgID, sessionID string, rotated bool) {
	a.LogEvent(Event{
		Type:      "token_refreshed",
		OrgID:     orgID,
		SessionID: sessionID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogRevocationFailure records a best-effort revocation that did not
// succeed. The surrounding logout flow is unaffected.
func (a *Auditor) LogRevocationFailure(orgID, sessionID, detail string) {
	a.LogEvent(Event{
		Type:      "revocation_failed",
		Severity:  SeverityWarning,
		OrgID:     orgID,
		SessionID: sessionID,
		Details: map[string]any{
			"detail": detail,
		},
	})
}

// SanitizeMetadata returns a copy of details safe for the log sink: secret
// shaped keys redacted, string values truncated, entry count capped.
func SanitizeMetadata(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}

	out := make(map[string]any, len(details))
	for k, v := range details {
		if len(out) >= maxMetadataEntries {
			out["_truncated"] = true
			break
		}
		if isSecretKey(k) {
			out[k] = redacted
			continue
		}
		if s, ok := v.(string); ok && len(s) > maxMetadataValueLen {
			out[k] = s[:maxMetadataValueLen] + "...(truncated)"
			continue
		}
		out[k] = v
	}
	return out
}

// isSecretKey reports whether a metadata key looks secret-bearing.
func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// hashForLogging creates a short SHA256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
