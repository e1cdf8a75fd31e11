package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProbeResult records the outcome of probing a single endpoint.
type ProbeResult struct {
	Endpoint   string `json:"endpoint"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Healthy    bool   `json:"healthy"`
	Detail     string `json:"detail,omitempty"`
}

// ConnectivityReport aggregates the probe results for an endpoint set.
type ConnectivityReport struct {
	Results   []ProbeResult `json:"results"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Healthy reports whether every probed endpoint responded as expected.
func (r ConnectivityReport) Healthy() bool {
	for _, result := range r.Results {
		if !result.Healthy {
			return false
		}
	}
	return len(r.Results) > 0
}

// TestConnectivity probes each endpoint in the set with the HTTP method and
// parameters it normally receives and classifies the response against the
// status an unauthenticated request should draw. A token endpoint that
// answers 2xx to a request with no credentials is reported unhealthy: it
// means the endpoint is not enforcing client authentication.
func (r *Resolver) TestConnectivity(ctx context.Context, set *EndpointSet) ConnectivityReport {
	report := ConnectivityReport{CheckedAt: time.Now()}

	report.Results = append(report.Results,
		r.probeAuthorization(ctx, set.AuthorizationEndpoint),
		r.probeToken(ctx, set.TokenEndpoint))
	if set.UserinfoEndpoint != "" {
		report.Results = append(report.Results, r.probeUserinfo(ctx, set.UserinfoEndpoint))
	}
	if set.RevocationEndpoint != "" {
		report.Results = append(report.Results, r.probeRevocation(ctx, set.RevocationEndpoint))
	}

	for _, result := range report.Results {
		if !result.Healthy {
			r.logger.Warn("Endpoint probe failed",
				"endpoint", result.Endpoint,
				"status", result.StatusCode,
				"detail", result.Detail)
		}
	}
	return report
}

// probeAuthorization issues the GET an authorization request would, with
// placeholder parameters. Providers answer with the consent page (200), a
// redirect (302), or a parameter rejection (400/401).
func (r *Resolver) probeAuthorization(ctx context.Context, endpoint string) ProbeResult {
	probeURL := endpoint
	if u, err := url.Parse(endpoint); err == nil {
		q := u.Query()
		q.Set("response_type", "code")
		q.Set("client_id", "connectivity-probe")
		u.RawQuery = q.Encode()
		probeURL = u.String()
	}

	result := ProbeResult{Endpoint: "authorization", URL: endpoint}
	resp, err := r.pool.Get(ctx, probeURL)
	if err != nil {
		result.Detail = fmt.Sprintf("request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	switch resp.StatusCode {
	case 200, 302, 400, 401:
		result.Healthy = true
	default:
		result.Detail = "unexpected status for unauthenticated authorization request"
	}
	return result
}

// probeToken POSTs an authorization-code grant with no credentials. A
// healthy endpoint rejects it with 400 or 401. A 2xx answer means the
// endpoint handed out a response to an unauthenticated request, which is a
// misconfiguration, not a pass.
func (r *Resolver) probeToken(ctx context.Context, endpoint string) ProbeResult {
	result := ProbeResult{Endpoint: "token", URL: endpoint}

	form := url.Values{"grant_type": {"authorization_code"}, "code": {"connectivity-probe"}}
	resp, err := r.postForm(ctx, endpoint, form)
	if err != nil {
		result.Detail = fmt.Sprintf("request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode == 400 || resp.StatusCode == 401:
		result.Healthy = true
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Detail = "token endpoint accepted a request without credentials"
	default:
		result.Detail = "unexpected status for unauthenticated token request"
	}
	return result
}

// probeUserinfo issues the GET a userinfo request would, without a bearer
// token. The only healthy answer is 401.
func (r *Resolver) probeUserinfo(ctx context.Context, endpoint string) ProbeResult {
	result := ProbeResult{Endpoint: "userinfo", URL: endpoint}
	resp, err := r.pool.Get(ctx, endpoint)
	if err != nil {
		result.Detail = fmt.Sprintf("request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode == 401 {
		result.Healthy = true
	} else {
		result.Detail = "unexpected status for userinfo request without a bearer token"
	}
	return result
}

// probeRevocation POSTs a revocation request with no client credentials
// and expects a 400 rejection.
func (r *Resolver) probeRevocation(ctx context.Context, endpoint string) ProbeResult {
	result := ProbeResult{Endpoint: "revocation", URL: endpoint}

	resp, err := r.postForm(ctx, endpoint, url.Values{"token": {"connectivity-probe"}})
	if err != nil {
		result.Detail = fmt.Sprintf("request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode == 400 {
		result.Healthy = true
	} else {
		result.Detail = "unexpected status for unauthenticated revocation request"
	}
	return result
}

func (r *Resolver) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r.pool.Do(ctx, req)
}
