package fedauth

import (
	"fmt"
)

// Flow error codes. These are stable identifiers surfaced to callers and
// recorded on failed sessions; the user-facing message never carries
// provider internals or credential material.
const (
	ErrorCodeDiscovery      = "discovery_failed"
	ErrorCodeConfiguration  = "invalid_configuration"
	ErrorCodeTokenExchange  = "token_exchange_failed"
	ErrorCodeUserInfoFetch  = "userinfo_fetch_failed"
	ErrorCodeProvisioning   = "provisioning_failed"
	ErrorCodeNonce          = "nonce_validation_failed"
	ErrorCodeRateLimited    = "rate_limit_exceeded"
	ErrorCodeSessionInvalid = "session_invalid"
	ErrorCodeInternal       = "internal_error"
)

// FlowError is the structured failure returned by every orchestrator
// operation. Message is safe to show an end user; Internal carries the
// detail for logs and must never leave the operator's side.
type FlowError struct {
	// Code is one of the ErrorCode constants.
	Code string

	// Message is a generic, secret-free description for the end user.
	Message string

	// Internal is the detailed description for logs.
	Internal string

	// Retryable hints whether the same request may succeed later.
	Retryable bool

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface. It exposes the code and user
// message only; the internal detail stays out of the error chain string.
func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error { return e.Err }

// NewFlowError creates a flow error with a user-safe message and internal
// detail.
func NewFlowError(code, message, internal string, err error) *FlowError {
	return &FlowError{
		Code:     code,
		Message:  message,
		Internal: internal,
		Err:      err,
	}
}

// Common constructors. The user messages are deliberately generic: detail
// belongs in Internal, where it reaches logs but not the user.

func errDiscovery(internal string, err error) *FlowError {
	return &FlowError{
		Code:      ErrorCodeDiscovery,
		Message:   "The identity provider could not be reached. Please try again later.",
		Internal:  internal,
		Retryable: true,
		Err:       err,
	}
}

func errConfiguration(internal string, err error) *FlowError {
	return &FlowError{
		Code:     ErrorCodeConfiguration,
		Message:  "Single sign-on is not configured correctly for this organization.",
		Internal: internal,
		Err:      err,
	}
}

func errTokenExchange(internal string, err error) *FlowError {
	return &FlowError{
		Code:     ErrorCodeTokenExchange,
		Message:  "Sign-in could not be completed. Please try again.",
		Internal: internal,
		Err:      err,
	}
}

func errUserInfoFetch(internal string, err error) *FlowError {
	return &FlowError{
		Code:      ErrorCodeUserInfoFetch,
		Message:   "Your profile could not be retrieved from the identity provider.",
		Internal:  internal,
		Retryable: true,
		Err:       err,
	}
}

func errProvisioning(internal string, err error) *FlowError {
	return &FlowError{
		Code:     ErrorCodeProvisioning,
		Message:  "Your account could not be signed in. Contact your administrator.",
		Internal: internal,
		Err:      err,
	}
}

func errNonce(internal string, err error) *FlowError {
	return &FlowError{
		Code:     ErrorCodeNonce,
		Message:  "Sign-in could not be verified. Please start over.",
		Internal: internal,
		Err:      err,
	}
}

func errRateLimited(internal string) *FlowError {
	return &FlowError{
		Code:     ErrorCodeRateLimited,
		Message:  "Too many failed attempts. Please try again later.",
		Internal: internal,
	}
}

func errSessionInvalid(internal string, err error) *FlowError {
	return &FlowError{
		Code:     ErrorCodeSessionInvalid,
		Message:  "Your sign-in session has expired. Please start over.",
		Internal: internal,
		Err:      err,
	}
}

func errInternal(internal string, err error) *FlowError {
	return &FlowError{
		Code:     ErrorCodeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: internal,
		Err:      err,
	}
}
