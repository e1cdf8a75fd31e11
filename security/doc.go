// Package security provides the security primitives of the federated
// authentication core: replay-protection nonces, failure-based rate
// limiting, token encryption at rest, and sanitized audit logging.
//
// All components are constructed once at process start and injected into the
// orchestrator; none rely on package-level state.
package security
