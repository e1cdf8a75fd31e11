package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rivermead/fedauth/endpoints"
)

// Sentinel errors returned by store implementations.
var (
	ErrProviderNotFound = errors.New("storage: provider settings not found")
	ErrUserNotFound     = errors.New("storage: user not found")
	ErrSessionNotFound  = errors.New("storage: session not found")
	ErrNonceNotFound    = errors.New("storage: nonce not found")
)

// FlowStatus tracks where a login attempt is in the authorization-code flow.
type FlowStatus string

const (
	FlowIdle               FlowStatus = "idle"
	FlowInitiated          FlowStatus = "initiated"
	FlowCallbackReceived   FlowStatus = "callback_received"
	FlowTokenExchanged     FlowStatus = "token_exchanged"
	FlowUserinfoFetched    FlowStatus = "userinfo_fetched"
	FlowUserProvisioned    FlowStatus = "user_provisioned"
	FlowSessionEstablished FlowStatus = "session_established"
	FlowFailed             FlowStatus = "failed"
)

// ProviderSettings is the per-organization identity provider configuration.
// Exactly one exists per organization. Secret-bearing fields are stored
// encrypted by the core before they reach a store.
type ProviderSettings struct {
	OrgID                 string
	IssuerURL             string
	ClientID              string
	ClientSecretEncrypted string
	Scopes                []string
	AutoDiscovery         bool
	PKCEEnabled           bool
	AutoProvision         bool
	DefaultRole           string

	// AttributeMapping maps local user fields to IdP claim names,
	// e.g. "email" -> "email", "name" -> "preferred_username".
	AttributeMapping map[string]string

	// ManualEndpoints is used when AutoDiscovery is disabled, or as a
	// fallback when discovery fails.
	ManualEndpoints *endpoints.EndpointSet

	Enabled      bool
	LastTestedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// User is a locally provisioned account linked to an IdP identity.
type User struct {
	ID         string
	OrgID      string
	Email      string
	Name       string
	Role       string
	Attributes map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Session is the ephemeral correlation record for one login attempt. It ties
// the state value, redirect target, and organization together, and later
// carries the encrypted token set once the flow completes.
type Session struct {
	ID            string
	OrgID         string
	State         string // state parameter sent to the IdP (CSRF protection)
	ReturnTo      string // where to send the user after login
	CodeVerifier  string // PKCE verifier, empty when PKCE is disabled
	Status        FlowStatus
	FailureReason string

	// Populated once the flow establishes a session.
	UserID                string
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	TokenExpiry           time.Time
	GrantedScopes         []string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its TTL at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ProviderConfigStore reads and writes per-organization provider settings.
// All methods accept context.Context for tracing and cancellation.
type ProviderConfigStore interface {
	// GetProviderSettings retrieves settings for an organization.
	// Returns ErrProviderNotFound if none are configured.
	GetProviderSettings(ctx context.Context, orgID string) (*ProviderSettings, error)

	// SaveProviderSettings creates or replaces settings for an organization.
	SaveProviderSettings(ctx context.Context, settings *ProviderSettings) error
}

// UserStore creates and updates locally provisioned users by email.
type UserStore interface {
	// FindUserByEmail looks up a user within an organization.
	// Returns ErrUserNotFound if no user exists for the email.
	FindUserByEmail(ctx context.Context, orgID, email string) (*User, error)

	// CreateUser persists a newly provisioned user.
	CreateUser(ctx context.Context, user *User) error

	// UpdateUser overwrites an existing user's mapped attributes.
	UpdateUser(ctx context.Context, user *User) error
}

// SessionStore persists login sessions and their replay-protection nonces.
// Nonce storage is separate from the session record so that consumption can
// be atomic.
type SessionStore interface {
	// SaveSession persists a new session.
	SaveSession(ctx context.Context, session *Session) error

	// GetSession retrieves a session by ID. Returns ErrSessionNotFound if
	// the session does not exist or has expired.
	GetSession(ctx context.Context, id string) (*Session, error)

	// GetSessionByState retrieves a session by its state parameter. Used
	// when the IdP callback arrives carrying only the state value.
	GetSessionByState(ctx context.Context, state string) (*Session, error)

	// UpdateSession overwrites an existing session.
	UpdateSession(ctx context.Context, session *Session) error

	// DeleteSession removes a session. Deleting a missing session is not
	// an error.
	DeleteSession(ctx context.Context, id string) error

	// StoreNonce writes a nonce bound to a session with the given TTL.
	StoreNonce(ctx context.Context, sessionID, nonce string, ttl time.Duration) error

	// ConsumeNonce atomically reads and deletes the nonce for a session.
	// A second call for the same session returns ErrNonceNotFound.
	// SECURITY: This operation MUST be atomic so a captured callback
	// cannot be replayed against the same session.
	ConsumeNonce(ctx context.Context, sessionID string) (string, error)
}
