package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the library.
type Metrics struct {
	// Endpoint resolution
	DiscoveryTotal    metric.Int64Counter
	DiscoveryDuration metric.Float64Histogram

	// Login flow
	LoginStarted   metric.Int64Counter
	LoginCompleted metric.Int64Counter
	LoginFailed    metric.Int64Counter

	// Token lifecycle
	TokenExchanged metric.Int64Counter
	TokenRefreshed metric.Int64Counter
	TokenRevoked   metric.Int64Counter

	// Provider API usage
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram

	// Resilience
	RetryAttempts      metric.Int64Counter
	RateLimitBlocked   metric.Int64Counter
	CacheHits          metric.Int64Counter
	CacheMisses        metric.Int64Counter
	EncryptionFailures metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	endpointsMeter := inst.Meter("endpoints")
	flowMeter := inst.Meter("flow")
	securityMeter := inst.Meter("security")
	cacheMeter := inst.Meter("cache")

	m.DiscoveryTotal, err = endpointsMeter.Int64Counter(
		"fedauth.discovery.total",
		metric.WithDescription("Number of endpoint discovery attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.total counter: %w", err)
	}

	m.DiscoveryDuration, err = endpointsMeter.Float64Histogram(
		"fedauth.discovery.duration",
		metric.WithDescription("Endpoint discovery duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.duration histogram: %w", err)
	}

	m.LoginStarted, err = flowMeter.Int64Counter(
		"fedauth.login.started",
		metric.WithDescription("Number of login flows initiated"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.started counter: %w", err)
	}

	m.LoginCompleted, err = flowMeter.Int64Counter(
		"fedauth.login.completed",
		metric.WithDescription("Number of login flows completed"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.completed counter: %w", err)
	}

	m.LoginFailed, err = flowMeter.Int64Counter(
		"fedauth.login.failed",
		metric.WithDescription("Number of login flows failed"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.failed counter: %w", err)
	}

	m.TokenExchanged, err = flowMeter.Int64Counter(
		"fedauth.token.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = flowMeter.Int64Counter(
		"fedauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokenRevoked, err = flowMeter.Int64Counter(
		"fedauth.token.revoked",
		metric.WithDescription("Number of token revocation attempts"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.ProviderAPICallsTotal, err = endpointsMeter.Int64Counter(
		"fedauth.provider.api.calls.total",
		metric.WithDescription("Total number of identity provider API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.calls.total counter: %w", err)
	}

	m.ProviderAPIDuration, err = endpointsMeter.Float64Histogram(
		"fedauth.provider.api.duration",
		metric.WithDescription("Identity provider API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.duration histogram: %w", err)
	}

	m.RetryAttempts, err = endpointsMeter.Int64Counter(
		"fedauth.retry.attempts",
		metric.WithDescription("Number of retry attempts across retried operations"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry.attempts counter: %w", err)
	}

	m.RateLimitBlocked, err = securityMeter.Int64Counter(
		"fedauth.rate_limit.blocked",
		metric.WithDescription("Number of operations blocked by the failure limiter"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.blocked counter: %w", err)
	}

	m.CacheHits, err = cacheMeter.Int64Counter(
		"fedauth.cache.hits",
		metric.WithDescription("Number of cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.hits counter: %w", err)
	}

	m.CacheMisses, err = cacheMeter.Int64Counter(
		"fedauth.cache.misses",
		metric.WithDescription("Number of cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.misses counter: %w", err)
	}

	m.EncryptionFailures, err = securityMeter.Int64Counter(
		"fedauth.encryption.failures",
		metric.WithDescription("Number of token decryption failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.failures counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns. All are nil-safe so
// components can hold a *Metrics without guarding every call site.

// RecordDiscovery records an endpoint discovery attempt.
func (m *Metrics) RecordDiscovery(ctx context.Context, issuer string, success bool, durationMs float64) {
	if m == nil {
		return
	}
	m.DiscoveryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("issuer", issuer),
		attribute.Bool("success", success),
	))
	m.DiscoveryDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("issuer", issuer),
	))
}

// RecordLoginStarted records an initiated login flow.
func (m *Metrics) RecordLoginStarted(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	m.LoginStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("org_id", orgID)))
}

// RecordLoginOutcome records a completed or failed login flow.
func (m *Metrics) RecordLoginOutcome(ctx context.Context, orgID string, success bool, errorCode string) {
	if m == nil {
		return
	}
	if success {
		m.LoginCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("org_id", orgID)))
		return
	}
	m.LoginFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("org_id", orgID),
		attribute.String("error_code", errorCode),
	))
}

// RecordTokenExchange records an authorization code exchange.
func (m *Metrics) RecordTokenExchange(ctx context.Context, orgID string, success bool) {
	if m == nil {
		return
	}
	m.TokenExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("org_id", orgID),
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records a refresh grant, noting whether the provider
// rotated the refresh token.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, orgID string, rotated bool) {
	if m == nil {
		return
	}
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("org_id", orgID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordTokenRevocation records a revocation attempt.
func (m *Metrics) RecordTokenRevocation(ctx context.Context, orgID string, success bool) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("org_id", orgID),
		attribute.Bool("success", success),
	))
}

// RecordProviderAPICall records an identity provider API call.
func (m *Metrics) RecordProviderAPICall(ctx context.Context, operation string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("status", statusCode),
	))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordRetryAttempts records how many attempts a retried operation took.
func (m *Metrics) RecordRetryAttempts(ctx context.Context, operation string, attempts int) {
	if m == nil {
		return
	}
	m.RetryAttempts.Add(ctx, int64(attempts), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordRateLimitBlocked records an operation blocked by the failure
// limiter.
func (m *Metrics) RecordRateLimitBlocked(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.RateLimitBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordCacheAccess records a cache hit or miss for a namespace.
func (m *Metrics) RecordCacheAccess(ctx context.Context, namespace string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("namespace", namespace))
	if hit {
		m.CacheHits.Add(ctx, 1, attrs)
	} else {
		m.CacheMisses.Add(ctx, 1, attrs)
	}
}

// RecordEncryptionFailure records a failed token decryption.
func (m *Metrics) RecordEncryptionFailure(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	m.EncryptionFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("org_id", orgID),
	))
}
