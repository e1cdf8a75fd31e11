package fedauth

import (
	"time"
)

// TokenSet holds the tokens returned by a provider for one login or
// refresh. Access and refresh tokens are encrypted by the orchestrator
// before persistence and never logged in plaintext.
type TokenSet struct {
	// AccessToken is the bearer token for provider API calls.
	AccessToken string

	// RefreshToken allows obtaining new access tokens. Empty when the
	// provider did not issue one.
	RefreshToken string

	// IDToken is the raw OIDC ID token, when the provider issued one.
	IDToken string

	// Expiry is when the access token expires.
	Expiry time.Time

	// GrantedScopes are the scopes the provider actually granted.
	GrantedScopes []string
}

// Identity is the result of mapping provider claims onto local user
// attributes through an organization's attribute mapping.
type Identity struct {
	// Subject is the provider's stable identifier for the user.
	Subject string

	// Email is the mapped email address. Always present: it is the join
	// key for provisioning.
	Email string

	// DisplayName is the mapped display name, if the mapping provides one.
	DisplayName string

	// Role is the role assigned to the user, from the mapping or the
	// organization's default.
	Role string

	// Attributes holds the remaining mapped fields.
	Attributes map[string]string
}

// InitiateRequest carries the inputs for starting a login flow.
type InitiateRequest struct {
	// OrgID selects the organization whose provider configuration drives
	// the flow.
	OrgID string

	// RedirectURI is the callback URL registered with the provider.
	RedirectURI string

	// ReturnTo is where the user lands after a successful login. Stored
	// on the session, never sent to the provider.
	ReturnTo string

	// ClientIP identifies the caller for failure tracking. Optional.
	ClientIP string
}

// AuthRedirect is the result of initiating a login flow.
type AuthRedirect struct {
	// URL is the provider authorization URL the user agent must visit.
	URL string

	// SessionID identifies the pending login session.
	SessionID string

	// State is the CSRF token embedded in the redirect. Exposed for
	// callers that set it as a cookie.
	State string
}

// CallbackRequest carries the provider's response to an authorization
// redirect.
type CallbackRequest struct {
	// OrgID selects the organization. Must match the session's.
	OrgID string

	// State is the state parameter echoed by the provider.
	State string

	// Code is the authorization code.
	Code string

	// ErrorCode and ErrorDescription carry a provider-side denial, when
	// the provider returned an error instead of a code.
	ErrorCode        string
	ErrorDescription string

	// RedirectURI must match the one used at initiation.
	RedirectURI string

	// ClientIP identifies the caller for failure tracking. Optional.
	ClientIP string
}

// LoginResult is the outcome of a completed callback.
type LoginResult struct {
	// SessionID identifies the established session.
	SessionID string

	// UserID is the local user the login resolved to.
	UserID string

	// Identity is the mapped identity the user logged in with.
	Identity Identity

	// ReturnTo is the post-login destination captured at initiation.
	ReturnTo string
}

// RevocationOutcome reports the best-effort token revocation performed
// during logout. Revocation failure never fails the logout; the outcome
// makes the non-fatal failure visible to the caller instead of hiding it.
type RevocationOutcome struct {
	// AccessTokenRevoked reports whether the access token revocation call
	// succeeded.
	AccessTokenRevoked bool

	// RefreshTokenRevoked reports whether the refresh token revocation
	// call succeeded.
	RefreshTokenRevoked bool

	// Attempted is false when the provider has no revocation endpoint or
	// the session held no tokens.
	Attempted bool

	// SessionDeleted reports whether the local session row was removed.
	// This is true even when revocation itself failed.
	SessionDeleted bool
}
