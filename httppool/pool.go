// Package httppool maintains one reusable HTTP client per target host so
// repeated calls to the same identity provider avoid renegotiating the
// transport. It applies a fixed request timeout, tracks per-host usage
// counters for health reporting, and optionally throttles outbound requests
// per host. It never retries; that is the retry package's job.
package httppool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 30 * time.Second

// StatusError reports a non-success HTTP status. Callers wrap unexpected
// statuses in it so the retry layer can classify them.
type StatusError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// hostClient is one reusable client with its usage counters.
type hostClient struct {
	client  *http.Client
	limiter *rate.Limiter // nil when throttling is disabled

	totalRequests atomic.Int64
	errorCount    atomic.Int64
}

// Pool manages per-host HTTP clients.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*hostClient

	timeout      time.Duration
	perHostRate  rate.Limit
	perHostBurst int
	logger       *slog.Logger
}

// Options configures a Pool.
type Options struct {
	// RequestTimeout is the fixed timeout applied to every request.
	// Default: 30 seconds.
	RequestTimeout time.Duration

	// PerHostRate throttles outbound requests per host (requests per
	// second). Zero disables throttling.
	PerHostRate float64

	// PerHostBurst is the burst size for the per-host throttle.
	PerHostBurst int

	// Logger for structured logging (nil uses the default logger).
	Logger *slog.Logger
}

// New creates a connection pool.
func New(opts Options) *Pool {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	burst := opts.PerHostBurst
	if opts.PerHostRate > 0 && burst <= 0 {
		burst = 1
	}

	return &Pool{
		clients:      make(map[string]*hostClient),
		timeout:      timeout,
		perHostRate:  rate.Limit(opts.PerHostRate),
		perHostBurst: burst,
		logger:       logger,
	}
}

// clientFor returns the host's client, creating it on first use.
func (p *Pool) clientFor(host string) *hostClient {
	p.mu.RLock()
	hc, ok := p.clients[host]
	p.mu.RUnlock()
	if ok {
		return hc
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if hc, ok := p.clients[host]; ok {
		return hc
	}

	hc = &hostClient{
		client: &http.Client{
			Timeout: p.timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			// Redirects are returned to the caller. IdP API calls never
			// need them followed, and connectivity probes must see the
			// raw 302 from the authorization endpoint.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if p.perHostRate > 0 {
		hc.limiter = rate.NewLimiter(p.perHostRate, p.perHostBurst)
	}
	p.clients[host] = hc

	p.logger.Debug("Created pooled HTTP client", "host", host)
	return hc
}

// HTTPClient returns the reusable *http.Client for the host of the given
// URL. It is used to hand a pooled client to libraries that perform their
// own requests (e.g. the oauth2 token exchange).
func (p *Pool) HTTPClient(rawURL string) (*http.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("httppool: invalid URL %q", rawURL)
	}
	return p.clientFor(u.Host).client, nil
}

// Do executes the request through the host's pooled client, waiting on the
// per-host throttle if one is configured, and increments the host's usage
// counters.
func (p *Pool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	hc := p.clientFor(req.URL.Host)

	if hc.limiter != nil {
		if err := hc.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httppool: throttle wait: %w", err)
		}
	}

	hc.totalRequests.Add(1)
	resp, err := hc.client.Do(req.WithContext(ctx))
	if err != nil {
		hc.errorCount.Add(1)
		return nil, err
	}
	return resp, nil
}

// Get issues a GET request to the URL through the pool.
func (p *Pool) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httppool: create request: %w", err)
	}
	return p.Do(ctx, req)
}

// CountError increments the host's error counter. Callers use it when a
// response arrives but carries a failure status, so the pool's health
// numbers reflect protocol-level errors as well as transport ones.
func (p *Pool) CountError(host string) {
	p.clientFor(host).errorCount.Add(1)
}

// HostStats holds usage counters for one host.
type HostStats struct {
	Host          string
	TotalRequests int64
	ErrorCount    int64
}

// Stats returns a snapshot of per-host usage counters, sorted by host.
func (p *Pool) Stats() []HostStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]HostStats, 0, len(p.clients))
	for host, hc := range p.clients {
		stats = append(stats, HostStats{
			Host:          host,
			TotalRequests: hc.totalRequests.Load(),
			ErrorCount:    hc.errorCount.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Host < stats[j].Host })
	return stats
}

// Close releases idle connections held by every pooled client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hc := range p.clients {
		hc.client.CloseIdleConnections()
	}
}
