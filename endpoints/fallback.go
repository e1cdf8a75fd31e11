package endpoints

import "strings"

// FallbackRule maps issuers matching a host pattern to a known-good
// endpoint set used when live discovery is unavailable. Patterns match a
// substring of the issuer host, e.g. "idp.staging" or "localhost".
type FallbackRule struct {
	HostPattern string
	Endpoints   EndpointSet
}

// FallbackResolver holds environment-specific endpoint fallbacks in a
// single table consulted when discovery fails, instead of scattering
// per-provider branches through the discovery path. A nil resolver matches
// nothing.
type FallbackResolver struct {
	rules []FallbackRule
}

// NewFallbackResolver builds a resolver over the given rules. Rules are
// consulted in order; the first match wins.
func NewFallbackResolver(rules []FallbackRule) *FallbackResolver {
	return &FallbackResolver{rules: rules}
}

// Lookup returns the fallback endpoint set for the issuer, if any rule
// matches its host.
func (f *FallbackResolver) Lookup(issuer string) (*EndpointSet, bool) {
	if f == nil {
		return nil, false
	}
	host := issuerHost(issuer)
	if host == "" {
		return nil, false
	}
	for _, rule := range f.rules {
		if rule.HostPattern != "" && strings.Contains(host, rule.HostPattern) {
			set := rule.Endpoints
			set.Issuer = issuer
			set.Source = SourceManual
			return &set, true
		}
	}
	return nil, false
}

func issuerHost(issuer string) string {
	rest := issuer
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
