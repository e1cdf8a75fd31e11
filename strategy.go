package fedauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/rivermead/fedauth/cache"
	"github.com/rivermead/fedauth/endpoints"
	"github.com/rivermead/fedauth/storage"
)

// strategy is the per-organization material a login flow needs: the
// provider settings, the resolved endpoint set, and the oauth2 client
// configuration with the decrypted client secret.
type strategy struct {
	settings  *storage.ProviderSettings
	endpoints *endpoints.EndpointSet
	oauth     *oauth2.Config
}

// getStrategy returns the organization's strategy, building and caching it
// on first use. Concurrent first callers for the same organization share a
// single build through the flight group.
func (o *Orchestrator) getStrategy(ctx context.Context, orgID, redirectURI string) (*strategy, *FlowError) {
	if cached, ok := o.cache.Get(cache.NamespaceStrategy, orgID); ok {
		if s, ok := cached.(*strategy); ok {
			o.metrics().RecordCacheAccess(ctx, string(cache.NamespaceStrategy), true)
			return withRedirect(s, redirectURI), nil
		}
	}
	o.metrics().RecordCacheAccess(ctx, string(cache.NamespaceStrategy), false)

	v, err, _ := o.strategyGroup.Do(orgID, func() (any, error) {
		return o.buildStrategy(ctx, orgID)
	})
	if err != nil {
		var flowErr *FlowError
		if errors.As(err, &flowErr) {
			return nil, flowErr
		}
		return nil, errInternal("building provider strategy", err)
	}
	return withRedirect(v.(*strategy), redirectURI), nil
}

// buildStrategy loads the provider settings, resolves the endpoint set,
// and assembles the oauth2 configuration. The result is cached; callers
// get per-request copies with their redirect URI stamped in.
func (o *Orchestrator) buildStrategy(ctx context.Context, orgID string) (*strategy, error) {
	settings, flowErr := o.loadSettings(ctx, orgID)
	if flowErr != nil {
		return nil, flowErr
	}

	if !settings.Enabled {
		return nil, errConfiguration(fmt.Sprintf("provider for org %s is disabled", orgID), nil)
	}

	clientSecret, err := o.encryptor.Decrypt(ctx, settings.ClientSecretEncrypted)
	if err != nil {
		return nil, errConfiguration(fmt.Sprintf("decrypting client secret for org %s", orgID), err)
	}

	set, err := o.resolver.Resolve(ctx, settings.IssuerURL, settings.ManualEndpoints, settings.AutoDiscovery)
	if err != nil {
		return nil, o.classifyResolveError(settings.IssuerURL, err)
	}

	s := &strategy{
		settings:  settings,
		endpoints: set,
		oauth: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: clientSecret,
			Scopes:       settings.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   set.AuthorizationEndpoint,
				TokenURL:  set.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}

	o.cache.Set(cache.NamespaceStrategy, orgID, s)
	o.logger.Debug("Built provider strategy",
		"org_id", orgID,
		"issuer", set.Issuer,
		"source", set.Source)
	return s, nil
}

// loadSettings reads the organization's provider settings through the
// config cache namespace.
func (o *Orchestrator) loadSettings(ctx context.Context, orgID string) (*storage.ProviderSettings, *FlowError) {
	if cached, ok := o.cache.Get(cache.NamespaceConfig, orgID); ok {
		if settings, ok := cached.(*storage.ProviderSettings); ok {
			o.metrics().RecordCacheAccess(ctx, string(cache.NamespaceConfig), true)
			return settings, nil
		}
	}
	o.metrics().RecordCacheAccess(ctx, string(cache.NamespaceConfig), false)

	settings, err := o.providers.GetProviderSettings(ctx, orgID)
	if err != nil {
		return nil, errConfiguration(fmt.Sprintf("loading provider settings for org %s", orgID), err)
	}

	o.cache.Set(cache.NamespaceConfig, orgID, settings)
	return settings, nil
}

// classifyResolveError maps an endpoint resolution failure to the flow
// error taxonomy.
func (o *Orchestrator) classifyResolveError(issuer string, err error) *FlowError {
	var cfgErr *endpoints.ConfigurationError
	if errors.As(err, &cfgErr) {
		return errConfiguration(fmt.Sprintf("endpoint configuration for issuer %s: %s", issuer, cfgErr.Error()), err)
	}
	return errDiscovery(fmt.Sprintf("resolving endpoints for issuer %s", issuer), err)
}

// InvalidateProvider evicts the organization's cached settings, strategy,
// and discovered endpoints. Call it after any provider settings mutation.
func (o *Orchestrator) InvalidateProvider(ctx context.Context, orgID string) {
	var issuer string
	if cached, ok := o.cache.Get(cache.NamespaceConfig, orgID); ok {
		if settings, ok := cached.(*storage.ProviderSettings); ok {
			issuer = settings.IssuerURL
		}
	}

	o.cache.Invalidate(cache.NamespaceConfig, orgID)
	o.cache.Invalidate(cache.NamespaceStrategy, orgID)
	if issuer != "" {
		o.resolver.Invalidate(issuer)
	}
	o.logger.Info("Invalidated provider caches", "org_id", orgID)
}

// withRedirect returns a shallow copy of the strategy whose oauth2 config
// carries the request's redirect URI. The cached strategy itself is shared
// across requests and never mutated.
func withRedirect(s *strategy, redirectURI string) *strategy {
	if redirectURI == "" || s.oauth.RedirectURL == redirectURI {
		return s
	}
	oc := *s.oauth
	oc.RedirectURL = redirectURI
	cp := *s
	cp.oauth = &oc
	return &cp
}
