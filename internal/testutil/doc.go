// Package testutil provides testing utilities for the fedauth library: a
// programmable mock identity provider with signed ID tokens, assertion
// helpers, and random test data generators.
package testutil
