package security

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 10
	defaultFailureWindow    = 15 * time.Minute
	defaultCleanupInterval  = 5 * time.Minute
)

// Category labels the kind of suspicious activity being counted. Categories
// are independent: exceeding the threshold for one does not block another.
type Category string

const (
	CategoryFailedAuth    Category = "failed_auth"
	CategoryInvalidConfig Category = "invalid_config"
	CategoryTokenRefresh  Category = "failed_refresh"
)

// windowCounter is a rolling failure counter for one (identifier, category)
// pair.
type windowCounter struct {
	count       int
	windowStart time.Time
}

// FailureLimiter counts failure events per (identifier, category) and blocks
// an identifier once its counter reaches the threshold within the current
// window. Identifiers are typically "org:ip" pairs.
type FailureLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowCounter

	threshold       int
	window          time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
	now             func() time.Time
}

// FailureLimiterOptions configures a FailureLimiter.
type FailureLimiterOptions struct {
	// Threshold is the failure count at which an identifier is blocked.
	// Default: 10.
	Threshold int

	// Window is the rolling window length. Counters reset when the
	// window elapses. Default: 15 minutes.
	Window time.Duration

	// CleanupInterval is how often stale counters are swept. Default: 5
	// minutes.
	CleanupInterval time.Duration

	// Logger for structured logging (nil uses the default logger).
	Logger *slog.Logger
}

// NewFailureLimiter creates a failure limiter with automatic cleanup of
// stale counters.
func NewFailureLimiter(opts FailureLimiterOptions) *FailureLimiter {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	window := opts.Window
	if window <= 0 {
		window = defaultFailureWindow
	}
	cleanupInterval := opts.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &FailureLimiter{
		entries:         make(map[string]*windowCounter),
		threshold:       threshold,
		window:          window,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          logger,
		now:             time.Now,
	}

	go l.cleanupLoop()

	return l
}

// SetTimeFunc overrides the limiter's time source. Intended for tests.
func (l *FailureLimiter) SetTimeFunc(now func() time.Time) {
	if now != nil {
		l.mu.Lock()
		l.now = now
		l.mu.Unlock()
	}
}

func key(identifier string, category Category) string {
	return identifier + "|" + string(category)
}

// Track increments the rolling counter for (identifier, category) and
// returns the count within the current window.
func (l *FailureLimiter) Track(identifier string, category Category) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key(identifier, category)
	c, ok := l.entries[k]
	if !ok || now.Sub(c.windowStart) > l.window {
		c = &windowCounter{windowStart: now}
		l.entries[k] = c
	}
	c.count++

	if c.count == l.threshold {
		l.logger.Warn("Failure threshold reached",
			"identifier", identifier,
			"category", string(category),
			"count", c.count)
	}
	return c.count
}

// IsBlocked reports whether the identifier has reached the failure threshold
// for the category within the current window.
func (l *FailureLimiter) IsBlocked(identifier string, category Category) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.entries[key(identifier, category)]
	if !ok {
		return false
	}
	if l.now().Sub(c.windowStart) > l.window {
		delete(l.entries, key(identifier, category))
		return false
	}
	return c.count >= l.threshold
}

// Reset clears the counter for (identifier, category), e.g. after a
// successful login.
func (l *FailureLimiter) Reset(identifier string, category Category) {
	l.mu.Lock()
	delete(l.entries, key(identifier, category))
	l.mu.Unlock()
}

// cleanupLoop periodically removes counters whose window has elapsed.
func (l *FailureLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *FailureLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, c := range l.entries {
		if now.Sub(c.windowStart) > l.window {
			delete(l.entries, k)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("Failure limiter cleanup completed",
			"removed", removed,
			"remaining", len(l.entries))
	}
}

// Stop gracefully stops the cleanup goroutine.
func (l *FailureLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}
