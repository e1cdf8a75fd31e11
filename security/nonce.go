package security

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// defaultNonceTTL matches the login session scope: an abandoned flow's nonce
// simply expires.
const defaultNonceTTL = 10 * time.Minute

// NonceBackend is the minimal storage contract the nonce store needs.
// storage.SessionStore satisfies it.
type NonceBackend interface {
	StoreNonce(ctx context.Context, sessionID, nonce string, ttl time.Duration) error
	ConsumeNonce(ctx context.Context, sessionID string) (string, error)
}

// NonceFailureReason distinguishes why nonce validation failed, so the audit
// trail records why a login was rejected.
type NonceFailureReason string

const (
	// ReasonMissingSession means no nonce was stored for the session: it
	// expired or was never issued.
	ReasonMissingSession NonceFailureReason = "missing_session_nonce"

	// ReasonMissingTokenNonce means the IdP did not echo a nonce in the
	// ID token.
	ReasonMissingTokenNonce NonceFailureReason = "missing_token_nonce"

	// ReasonMismatch means the echoed nonce differs from the issued one:
	// a possible replay.
	ReasonMismatch NonceFailureReason = "nonce_mismatch"
)

// NonceValidationError reports a failed nonce check with its reason.
type NonceValidationError struct {
	Reason NonceFailureReason
}

// Error implements the error interface.
func (e *NonceValidationError) Error() string {
	return fmt.Sprintf("nonce validation failed: %s", e.Reason)
}

// NonceStore issues and consumes single-use replay-protection tokens bound
// to a short-lived login session.
type NonceStore struct {
	backend NonceBackend
	ttl     time.Duration
	logger  *slog.Logger
}

// NewNonceStore creates a nonce store over the given backend. A zero ttl
// uses the default of 10 minutes.
func NewNonceStore(backend NonceBackend, ttl time.Duration, logger *slog.Logger) *NonceStore {
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NonceStore{backend: backend, ttl: ttl, logger: logger}
}

// GenerateNonce returns 32 random bytes, hex-encoded.
func GenerateNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue generates a nonce and stores it for the session.
func (s *NonceStore) Issue(ctx context.Context, sessionID string) (string, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return "", err
	}
	if err := s.backend.StoreNonce(ctx, sessionID, nonce, s.ttl); err != nil {
		return "", fmt.Errorf("store nonce: %w", err)
	}
	return nonce, nil
}

// Consume atomically reads and deletes the session's nonce. A second call
// for the same session returns an error.
func (s *NonceStore) Consume(ctx context.Context, sessionID string) (string, error) {
	return s.backend.ConsumeNonce(ctx, sessionID)
}

// Validate consumes the stored nonce and compares it against the nonce
// echoed in the ID token. The stored nonce is consumed even when validation
// fails, so a rejected callback cannot be retried against the same session.
func (s *NonceStore) Validate(ctx context.Context, sessionID, idTokenNonce string) error {
	stored, err := s.backend.ConsumeNonce(ctx, sessionID)
	if err != nil {
		// Any consume failure means no usable nonce exists for this
		// session: expired, never issued, or already consumed. All of
		// them must reject the login.
		s.logger.Debug("No stored nonce for session", "error", err)
		return &NonceValidationError{Reason: ReasonMissingSession}
	}
	if idTokenNonce == "" {
		return &NonceValidationError{Reason: ReasonMissingTokenNonce}
	}
	if stored != idTokenNonce {
		return &NonceValidationError{Reason: ReasonMismatch}
	}
	return nil
}
