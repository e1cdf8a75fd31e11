package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/rivermead/fedauth/cache"
	"github.com/rivermead/fedauth/httppool"
	"github.com/rivermead/fedauth/instrumentation"
	"github.com/rivermead/fedauth/retry"
)

// wellKnownPath is the OIDC Discovery 1.0 configuration document path.
const wellKnownPath = "/.well-known/openid-configuration"

// maxDocumentSize bounds how much of a discovery response we read.
const maxDocumentSize = 1 << 20 // 1 MiB

// Resolver discovers and validates provider endpoint sets. Discovery
// results are cached; fetches go through the shared connection pool and
// the retry schedule.
type Resolver struct {
	pool      *httppool.Pool
	cache     *cache.Cache
	retryer   *retry.Retryer
	fallbacks *FallbackResolver
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
}

// ResolverOptions configures a Resolver. Pool, Cache, and Retryer are
// required; Fallbacks, Metrics, and Logger are optional.
type ResolverOptions struct {
	Pool      *httppool.Pool
	Cache     *cache.Cache
	Retryer   *retry.Retryer
	Fallbacks *FallbackResolver
	Metrics   *instrumentation.Metrics
	Logger    *slog.Logger
}

// NewResolver creates an endpoint resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		pool:      opts.Pool,
		cache:     opts.Cache,
		retryer:   opts.Retryer,
		fallbacks: opts.Fallbacks,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Discover resolves the issuer's endpoints from its well-known
// configuration document. Results are cached per normalized issuer; a
// cached set is returned without touching the network. Validation failures
// are never cached. When discovery fails and a fallback rule matches the
// issuer, the fallback set is returned instead.
func (r *Resolver) Discover(ctx context.Context, issuerURL string) (*EndpointSet, error) {
	issuer, err := NormalizeIssuer(issuerURL)
	if err != nil {
		return nil, err
	}

	if cached, ok := r.cache.Get(cache.NamespaceEndpoint, issuer); ok {
		if set, ok := cached.(*EndpointSet); ok {
			return set, nil
		}
	}

	start := time.Now()
	result := retry.Do(ctx, r.retryer, "oidc_discovery", func(ctx context.Context) (*discoveryDocument, error) {
		return r.fetchDocument(ctx, issuer)
	})
	r.metrics.RecordDiscovery(ctx, issuer, result.Err == nil, float64(time.Since(start).Milliseconds()))
	if result.Err != nil {
		if set, ok := r.fallbacks.Lookup(issuer); ok {
			r.logger.Warn("Discovery failed, using fallback endpoints",
				"issuer", issuer,
				"error", result.Err)
			return set, nil
		}
		return nil, &DiscoveryError{Issuer: issuer, Reason: "fetching configuration document", Err: result.Err}
	}

	set, err := validateDocument(issuer, result.Value)
	if err != nil {
		return nil, &DiscoveryError{Issuer: issuer, Reason: "validating configuration document", Err: err}
	}
	for _, warning := range set.Warnings {
		r.logger.Warn("Discovery document warning", "issuer", issuer, "warning", warning)
	}

	r.cache.Set(cache.NamespaceEndpoint, issuer, set)
	r.logger.Debug("Discovered provider endpoints",
		"issuer", issuer,
		"attempts", result.Attempts)
	return set, nil
}

// fetchDocument retrieves and decodes the well-known configuration
// document. Non-200 responses surface as a StatusError so the retry layer
// can distinguish transient from terminal failures.
func (r *Resolver) fetchDocument(ctx context.Context, issuer string) (*discoveryDocument, error) {
	docURL := issuer + wellKnownPath

	resp, err := r.pool.Get(ctx, docURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", docURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		r.countError(docURL)
		return nil, &httppool.StatusError{StatusCode: resp.StatusCode, URL: docURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read configuration document: %w", err)
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		// A malformed document will not fix itself on retry.
		return nil, retry.Permanent(fmt.Errorf("parse configuration document: %w", err))
	}
	return &doc, nil
}

func (r *Resolver) countError(rawURL string) {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		r.pool.CountError(u.Host)
	}
}

// Resolve produces the endpoint set for a provider from its issuer and
// optional manual endpoints. The preferred source is tried first; when it
// fails, the other source is tried before giving up. Manual endpoints are
// validated with the same URL rules as discovered ones.
func (r *Resolver) Resolve(ctx context.Context, issuerURL string, manual *EndpointSet, preferAutoDiscovery bool) (*EndpointSet, error) {
	if preferAutoDiscovery {
		set, err := r.Discover(ctx, issuerURL)
		if err == nil {
			return set, nil
		}
		if manual == nil {
			return nil, err
		}
		r.logger.Warn("Discovery failed, falling back to manual endpoints",
			"issuer", issuerURL,
			"error", err)
		return r.resolveManual(issuerURL, manual)
	}

	if manual != nil {
		set, err := r.resolveManual(issuerURL, manual)
		if err == nil {
			return set, nil
		}
		r.logger.Warn("Manual endpoints invalid, falling back to discovery",
			"issuer", issuerURL,
			"error", err)
	}
	return r.Discover(ctx, issuerURL)
}

// resolveManual validates manual endpoints and stamps them with the
// normalized issuer.
func (r *Resolver) resolveManual(issuerURL string, manual *EndpointSet) (*EndpointSet, error) {
	issuer, err := NormalizeIssuer(issuerURL)
	if err != nil {
		return nil, err
	}
	if err := ValidateManual(manual); err != nil {
		return nil, err
	}
	set := *manual
	set.Issuer = issuer
	set.Source = SourceManual
	return &set, nil
}

// Invalidate drops the cached endpoint set for the issuer. Callers use it
// when a provider's configuration is mutated.
func (r *Resolver) Invalidate(issuerURL string) {
	if issuer, err := NormalizeIssuer(issuerURL); err == nil {
		r.cache.Invalidate(cache.NamespaceEndpoint, issuer)
	}
}
