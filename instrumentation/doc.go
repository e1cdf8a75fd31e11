// Package instrumentation provides OpenTelemetry metrics and tracing for
// the federated authentication library.
//
// All instruments are created through a single Instrumentation instance,
// which owns the meter and tracer providers. When instrumentation is
// disabled the no-op providers are used and recording has no overhead.
//
// SECURITY: never record credential material (tokens, client secrets,
// authorization codes, code verifiers) as metric attributes or span
// attributes. Record metadata about them instead: presence flags, expiry
// durations, provider names, outcome labels.
package instrumentation
