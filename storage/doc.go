// Package storage defines interfaces for persisting identity provider
// settings, provisioned users, and login sessions.
//
// The storage package defines the contracts used throughout the fedauth
// library:
//   - ProviderConfigStore: per-organization identity provider settings
//   - UserStore: locally provisioned users, keyed by email
//   - SessionStore: ephemeral login sessions and replay-protection nonces
//
// The core never stores plaintext secrets: client secrets and token sets are
// encrypted by the caller before being handed to a store. Implementations
// only need to round-trip opaque strings.
//
// Two implementations ship with the module:
//   - memory: in-process maps with TTL cleanup, for development and tests
//   - redis: Redis-backed session storage for multi-instance deployments
package storage
