package fedauth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rivermead/fedauth/endpoints"
	"github.com/rivermead/fedauth/instrumentation"
	"github.com/rivermead/fedauth/security"
	"github.com/rivermead/fedauth/storage"
)

// Config holds the orchestrator configuration.
// Structured using composition for better organization and maintainability.
type Config struct {
	// Stores are the persistence collaborators. All three are required.
	Providers storage.ProviderConfigStore
	Users     storage.UserStore
	Sessions  storage.SessionStore

	// Keys supplies the master key for token encryption (required).
	Keys security.KeyProvider

	// HTTP holds outbound HTTP settings.
	HTTP HTTPConfig

	// Retry holds retry schedule settings.
	Retry RetryConfig

	// RateLimit holds failure limiter settings.
	RateLimit RateLimitConfig

	// Security holds security settings (secure by default).
	Security SecurityConfig

	// SessionTTL is how long a login session may remain in flight before
	// it expires. Default: 10 minutes.
	SessionTTL time.Duration

	// Fallbacks optionally supplies environment-specific endpoint
	// fallbacks consulted when discovery fails.
	Fallbacks []endpoints.FallbackRule

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger

	// Instrumentation enables metrics and tracing (optional).
	Instrumentation *instrumentation.Instrumentation
}

// HTTPConfig holds outbound HTTP settings for provider calls.
type HTTPConfig struct {
	// RequestTimeout bounds each outbound request. Default: 30 seconds.
	RequestTimeout time.Duration

	// PerHostRate is outbound requests per second allowed per provider
	// host. Zero disables throttling.
	PerHostRate int

	// PerHostBurst is the burst size per provider host.
	PerHostBurst int
}

// RetryConfig holds retry schedule settings for provider calls.
type RetryConfig struct {
	// MaxAttempts is the attempt count per operation. Default: 3.
	MaxAttempts int

	// InitialInterval is the first backoff delay. Default: 500ms.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay. Default: 10 seconds.
	MaxInterval time.Duration
}

// RateLimitConfig holds failure limiter settings.
type RateLimitConfig struct {
	// Threshold is the failure count at which an identifier is blocked.
	// Default: 10.
	Threshold int

	// Window is the rolling window failures are counted in.
	// Default: 15 minutes.
	Window time.Duration

	// CleanupInterval is how often idle counters are swept.
	// Default: 5 minutes.
	CleanupInterval time.Duration
}

// SecurityConfig holds security settings (secure by default).
type SecurityConfig struct {
	// NonceTTL is how long an issued nonce remains valid.
	// Default: 10 minutes.
	NonceTTL time.Duration

	// SkipIDTokenVerification disables ID token signature verification
	// against the provider's JWKS.
	// WARNING: only for providers that publish no jwks_uri. The nonce is
	// still compared, but the token's authenticity is not established.
	SkipIDTokenVerification bool

	// EnableAuditLogging enables security audit logging.
	// Logs flow transitions, failures, and violations (sensitive data hashed).
	EnableAuditLogging bool
}

// Validate checks that required collaborators are present.
func (c *Config) Validate() error {
	if c.Providers == nil {
		return fmt.Errorf("config: provider store is required")
	}
	if c.Users == nil {
		return fmt.Errorf("config: user store is required")
	}
	if c.Sessions == nil {
		return fmt.Errorf("config: session store is required")
	}
	if c.Keys == nil {
		return fmt.Errorf("config: key provider is required")
	}
	return nil
}

// applyDefaults fills unset fields with their defaults.
func (c *Config) applyDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 10 * time.Minute
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = 500 * time.Millisecond
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = 10 * time.Second
	}
	if c.RateLimit.Threshold <= 0 {
		c.RateLimit.Threshold = 10
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = 15 * time.Minute
	}
	if c.RateLimit.CleanupInterval <= 0 {
		c.RateLimit.CleanupInterval = 5 * time.Minute
	}
	if c.Security.NonceTTL <= 0 {
		c.Security.NonceTTL = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
