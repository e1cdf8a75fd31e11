package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY: these name metadata attributes only. Never set a span
// attribute to an access token, refresh token, authorization code, code
// verifier, or client secret. Use presence flags and outcome labels
// instead.
const (
	AttrOrgID         = "fedauth.org_id"
	AttrSessionIDHash = "fedauth.session_id_hash"
	AttrIssuer        = "fedauth.issuer"
	AttrFlowStatus    = "fedauth.flow.status"
	AttrErrorCode     = "fedauth.error_code"
	AttrGrantType     = "fedauth.grant_type"
	AttrTokenRotated  = "fedauth.token.rotated" //nolint:gosec // rotation flag, not a credential
	AttrEndpointName  = "fedauth.endpoint"
	AttrCacheHit      = "fedauth.cache.hit"
	AttrRetryAttempts = "fedauth.retry.attempts"
)

// RecordError records an error on a span with an error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds login flow attributes to a span (nil-safe).
func AddFlowAttributes(span trace.Span, orgID, status string) {
	if orgID != "" {
		SetSpanAttributes(span, attribute.String(AttrOrgID, orgID))
	}
	if status != "" {
		SetSpanAttributes(span, attribute.String(AttrFlowStatus, status))
	}
}

// AddEndpointAttributes adds endpoint resolution attributes to a span
// (nil-safe).
func AddEndpointAttributes(span trace.Span, issuer, endpoint string) {
	if issuer != "" {
		SetSpanAttributes(span, attribute.String(AttrIssuer, issuer))
	}
	if endpoint != "" {
		SetSpanAttributes(span, attribute.String(AttrEndpointName, endpoint))
	}
}
