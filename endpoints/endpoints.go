package endpoints

import (
	"fmt"
	"net/url"
	"strings"
)

// Source records where an endpoint set came from.
type Source string

const (
	// SourceDiscovery marks endpoints resolved from the issuer's
	// well-known configuration document.
	SourceDiscovery Source = "discovery"

	// SourceManual marks administrator-supplied endpoints.
	SourceManual Source = "manual"
)

// EndpointSet holds the resolved OAuth/OIDC endpoints for one provider.
// AuthorizationEndpoint and TokenEndpoint are always set; the rest are
// optional depending on what the provider publishes.
type EndpointSet struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint    string   `json:"revocation_endpoint,omitempty"`
	JWKSURI               string   `json:"jwks_uri,omitempty"`

	// Source records how the set was resolved.
	Source Source `json:"source,omitempty"`

	// Warnings carries non-fatal findings from validation, e.g. a missing
	// jwks_uri or an absent S256 capability advertisement.
	Warnings []string `json:"warnings,omitempty"`
}

// discoveryDocument is the OIDC Discovery 1.0 configuration document as
// published at {issuer}/.well-known/openid-configuration.
type discoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
}

// DiscoveryError reports a failed endpoint discovery attempt. It wraps the
// underlying transport or validation error.
type DiscoveryError struct {
	Issuer string
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discovery failed for %s: %s: %v", e.Issuer, e.Reason, e.Err)
	}
	return fmt.Sprintf("discovery failed for %s: %s", e.Issuer, e.Reason)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ConfigurationError reports invalid endpoint configuration, either in a
// discovery document or in manually supplied endpoints.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid endpoint configuration: %s: %s", e.Field, e.Reason)
}

// NormalizeIssuer canonicalizes an issuer URL: trims surrounding whitespace
// and trailing slashes, and requires an http(s) scheme with a host.
func NormalizeIssuer(issuer string) (string, error) {
	issuer = strings.TrimSpace(issuer)
	issuer = strings.TrimRight(issuer, "/")
	if issuer == "" {
		return "", &ConfigurationError{Field: "issuer", Reason: "must not be empty"}
	}

	u, err := url.Parse(issuer)
	if err != nil {
		return "", &ConfigurationError{Field: "issuer", Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ConfigurationError{Field: "issuer", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &ConfigurationError{Field: "issuer", Reason: "missing host"}
	}
	return issuer, nil
}

// validateEndpointURL checks that an endpoint value is an absolute http(s)
// URL with a host.
func validateEndpointURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigurationError{Field: field, Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigurationError{Field: field, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ConfigurationError{Field: field, Reason: "missing host"}
	}
	return nil
}

// ValidateManual checks administrator-supplied endpoints with the same URL
// rules discovery documents are held to. Authorization and token endpoints
// are required; the optional endpoints are validated only when set.
func ValidateManual(set *EndpointSet) error {
	if set == nil {
		return &ConfigurationError{Field: "endpoints", Reason: "manual endpoint set is nil"}
	}
	if set.AuthorizationEndpoint == "" {
		return &ConfigurationError{Field: "authorization_endpoint", Reason: "required"}
	}
	if err := validateEndpointURL("authorization_endpoint", set.AuthorizationEndpoint); err != nil {
		return err
	}
	if set.TokenEndpoint == "" {
		return &ConfigurationError{Field: "token_endpoint", Reason: "required"}
	}
	if err := validateEndpointURL("token_endpoint", set.TokenEndpoint); err != nil {
		return err
	}
	for field, value := range map[string]string{
		"userinfo_endpoint":   set.UserinfoEndpoint,
		"revocation_endpoint": set.RevocationEndpoint,
		"jwks_uri":            set.JWKSURI,
	} {
		if value == "" {
			continue
		}
		if err := validateEndpointURL(field, value); err != nil {
			return err
		}
	}
	return nil
}

// validateDocument converts a discovery document into an EndpointSet,
// enforcing the required fields and recording non-fatal findings as
// warnings. The document's issuer must match the issuer the document was
// fetched from.
func validateDocument(issuer string, doc *discoveryDocument) (*EndpointSet, error) {
	// SECURITY: a document whose issuer differs from the URL it was
	// fetched from may have been served by an impostor or a misrouted
	// proxy. Reject it outright so it can never be cached.
	if doc.Issuer != issuer {
		return nil, &ConfigurationError{
			Field:  "issuer",
			Reason: fmt.Sprintf("document issuer %q does not match requested issuer %q", doc.Issuer, issuer),
		}
	}

	if doc.AuthorizationEndpoint == "" {
		return nil, &ConfigurationError{Field: "authorization_endpoint", Reason: "required"}
	}
	if err := validateEndpointURL("authorization_endpoint", doc.AuthorizationEndpoint); err != nil {
		return nil, err
	}
	if doc.TokenEndpoint == "" {
		return nil, &ConfigurationError{Field: "token_endpoint", Reason: "required"}
	}
	if err := validateEndpointURL("token_endpoint", doc.TokenEndpoint); err != nil {
		return nil, err
	}

	set := &EndpointSet{
		Issuer:                issuer,
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
		Source:                SourceDiscovery,
	}

	if doc.JWKSURI == "" {
		set.Warnings = append(set.Warnings, "document does not advertise a jwks_uri; ID token signatures cannot be verified")
	} else {
		if err := validateEndpointURL("jwks_uri", doc.JWKSURI); err != nil {
			return nil, err
		}
		set.JWKSURI = doc.JWKSURI
	}

	if doc.UserinfoEndpoint != "" {
		if err := validateEndpointURL("userinfo_endpoint", doc.UserinfoEndpoint); err != nil {
			return nil, err
		}
		set.UserinfoEndpoint = doc.UserinfoEndpoint
	}
	if doc.RevocationEndpoint != "" {
		if err := validateEndpointURL("revocation_endpoint", doc.RevocationEndpoint); err != nil {
			return nil, err
		}
		set.RevocationEndpoint = doc.RevocationEndpoint
	}

	if !contains(doc.ResponseTypesSupported, "code") {
		set.Warnings = append(set.Warnings, "document does not advertise the code response type")
	}
	if !contains(doc.CodeChallengeMethodsSupported, "S256") {
		set.Warnings = append(set.Warnings, "document does not advertise S256 code challenge support")
	}

	return set, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
