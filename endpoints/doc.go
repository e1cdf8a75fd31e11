// Package endpoints resolves the OAuth/OIDC endpoint set for an identity
// provider, either by OIDC discovery against the issuer's well-known
// configuration document or by validating administrator-supplied manual
// endpoints, and can probe a resolved set for reachability.
package endpoints
