package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// MockIdP is a programmable OIDC identity provider for tests. It serves a
// discovery document, a token endpoint that mints RS256-signed ID tokens,
// a JWKS endpoint, userinfo, and revocation. Failure knobs let tests drive
// the retry and fallback paths.
type MockIdP struct {
	Server *httptest.Server

	// ClientID and ClientSecret are the credentials the token endpoint
	// accepts.
	ClientID     string
	ClientSecret string

	// Claims are merged into every ID token and userinfo response.
	Claims map[string]any

	// Failure knobs. Each *Failures counter makes the endpoint answer
	// 503 that many times before behaving normally.
	DiscoveryFailures atomic.Int32
	TokenFailures     atomic.Int32
	UserinfoFailures  atomic.Int32

	// WrongIssuer makes the discovery document advertise a different
	// issuer than the one it is served from.
	WrongIssuer bool

	// OmitJWKS drops jwks_uri from the discovery document.
	OmitJWKS bool

	// OmitUserinfo drops userinfo_endpoint from the discovery document.
	OmitUserinfo bool

	// RotateRefreshTokens makes the refresh grant return a new refresh
	// token; otherwise none is returned.
	RotateRefreshTokens bool

	// RevocationStatus overrides the revocation endpoint's status code.
	// Zero means 200 for authenticated requests.
	RevocationStatus int

	// Request counters per endpoint path.
	DiscoveryRequests atomic.Int32
	TokenRequests     atomic.Int32
	UserinfoRequests  atomic.Int32
	RevokeRequests    atomic.Int32

	key   *rsa.PrivateKey
	keyID string

	mu           sync.Mutex
	codes        map[string]string // code -> nonce
	accessTokens map[string]bool
	refreshToken string
}

// NewMockIdP starts a mock identity provider. Callers must Close it.
func NewMockIdP(clientID, clientSecret string) (*MockIdP, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	idp := &MockIdP{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Claims: map[string]any{
			"sub":   "idp-user-123",
			"email": "user@example.com",
			"name":  "Example User",
		},
		key:          key,
		keyID:        "test-key-1",
		codes:        make(map[string]string),
		accessTokens: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("/authorize", idp.handleAuthorize)
	mux.HandleFunc("/token", idp.handleToken)
	mux.HandleFunc("/userinfo", idp.handleUserinfo)
	mux.HandleFunc("/revoke", idp.handleRevoke)
	mux.HandleFunc("/jwks", idp.handleJWKS)
	idp.Server = httptest.NewServer(mux)
	return idp, nil
}

// Close shuts the mock provider down.
func (idp *MockIdP) Close() {
	idp.Server.Close()
}

// Issuer returns the provider's issuer URL.
func (idp *MockIdP) Issuer() string {
	return idp.Server.URL
}

// IssueCode registers an authorization code bound to the given nonce, as
// if the user had just consented. The token endpoint will accept it once.
func (idp *MockIdP) IssueCode(nonce string) string {
	code := GenerateRandomString(24)
	idp.mu.Lock()
	idp.codes[code] = nonce
	idp.mu.Unlock()
	return code
}

func (idp *MockIdP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	idp.DiscoveryRequests.Add(1)
	if idp.DiscoveryFailures.Load() > 0 {
		idp.DiscoveryFailures.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	issuer := idp.Server.URL
	if idp.WrongIssuer {
		issuer = "https://impostor.example.com"
	}

	doc := map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                idp.Server.URL + "/authorize",
		"token_endpoint":                        idp.Server.URL + "/token",
		"revocation_endpoint":                   idp.Server.URL + "/revoke",
		"response_types_supported":              []string{"code"},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
	}
	if !idp.OmitJWKS {
		doc["jwks_uri"] = idp.Server.URL + "/jwks"
	}
	if !idp.OmitUserinfo {
		doc["userinfo_endpoint"] = idp.Server.URL + "/userinfo"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func (idp *MockIdP) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	// The flow under test never follows this redirect; answering 302 is
	// enough for connectivity probes.
	redirect := r.URL.Query().Get("redirect_uri")
	if redirect == "" {
		redirect = "https://app.example.com/callback"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (idp *MockIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	idp.TokenRequests.Add(1)
	if idp.TokenFailures.Load() > 0 {
		idp.TokenFailures.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if r.PostForm.Get("client_id") != idp.ClientID || r.PostForm.Get("client_secret") != idp.ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		idp.handleCodeGrant(w, r)
	case "refresh_token":
		idp.handleRefreshGrant(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (idp *MockIdP) handleCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")

	idp.mu.Lock()
	nonce, ok := idp.codes[code]
	if ok {
		delete(idp.codes, code)
	}
	idp.mu.Unlock()
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	idToken, err := idp.signIDToken(nonce)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	accessToken := "at-" + GenerateRandomString(24)
	refreshToken := "rt-" + GenerateRandomString(24)
	idp.mu.Lock()
	idp.accessTokens[accessToken] = true
	idp.refreshToken = refreshToken
	idp.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"refresh_token": refreshToken,
		"id_token":      idToken,
		"expires_in":    3600,
		"scope":         "openid email profile",
	})
}

func (idp *MockIdP) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	presented := r.PostForm.Get("refresh_token")

	idp.mu.Lock()
	valid := presented != "" && presented == idp.refreshToken
	idp.mu.Unlock()
	if !valid {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	accessToken := "at-" + GenerateRandomString(24)
	resp := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	idp.mu.Lock()
	idp.accessTokens[accessToken] = true
	if idp.RotateRefreshTokens {
		idp.refreshToken = "rt-" + GenerateRandomString(24)
		resp["refresh_token"] = idp.refreshToken
	}
	idp.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (idp *MockIdP) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	idp.UserinfoRequests.Add(1)
	if idp.UserinfoFailures.Load() > 0 {
		idp.UserinfoFailures.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	idp.mu.Lock()
	ok := idp.accessTokens[auth[len(prefix):]]
	idp.mu.Unlock()
	if !ok {
		http.Error(w, "unknown token", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(idp.Claims)
}

func (idp *MockIdP) handleRevoke(w http.ResponseWriter, r *http.Request) {
	idp.RevokeRequests.Add(1)
	if err := r.ParseForm(); err != nil || r.PostForm.Get("token") == "" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("client_id") != idp.ClientID || r.PostForm.Get("client_secret") != idp.ClientSecret {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if idp.RevocationStatus != 0 {
		w.WriteHeader(idp.RevocationStatus)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (idp *MockIdP) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &idp.key.PublicKey,
			KeyID:     idp.keyID,
			Algorithm: "RS256",
			Use:       "sig",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

// signIDToken mints an RS256-signed ID token carrying the standard claims
// plus the nonce the code was bound to.
func (idp *MockIdP) signIDToken(nonce string) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: idp.key},
		(&jose.SignerOptions{}).WithHeader("kid", idp.keyID).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	now := time.Now()
	claims := map[string]any{
		"iss": idp.Server.URL,
		"aud": idp.ClientID,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for k, v := range idp.Claims {
		claims[k] = v
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign id_token: %w", err)
	}
	return jws.CompactSerialize()
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
