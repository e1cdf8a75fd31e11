package security

import (
	"testing"
	"time"
)

func TestTrackAndBlock(t *testing.T) {
	l := NewFailureLimiter(FailureLimiterOptions{Threshold: 10, Window: 15 * time.Minute})
	defer l.Stop()

	for i := 1; i <= 9; i++ {
		if count := l.Track("org-1:10.0.0.1", CategoryFailedAuth); count != i {
			t.Fatalf("Track() count = %d, want %d", count, i)
		}
		if l.IsBlocked("org-1:10.0.0.1", CategoryFailedAuth) {
			t.Fatalf("blocked after %d failures, want unblocked below threshold", i)
		}
	}

	// The tenth failure crosses the threshold.
	if count := l.Track("org-1:10.0.0.1", CategoryFailedAuth); count != 10 {
		t.Fatalf("Track() count = %d, want 10", count)
	}
	if !l.IsBlocked("org-1:10.0.0.1", CategoryFailedAuth) {
		t.Error("not blocked after reaching threshold")
	}

	// Other identifiers are unaffected.
	if l.IsBlocked("org-1:10.0.0.2", CategoryFailedAuth) {
		t.Error("unrelated identifier is blocked")
	}
}

func TestCategoryIndependence(t *testing.T) {
	l := NewFailureLimiter(FailureLimiterOptions{Threshold: 3})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		l.Track("org-1:10.0.0.1", CategoryFailedAuth)
	}

	if !l.IsBlocked("org-1:10.0.0.1", CategoryFailedAuth) {
		t.Error("failed_auth not blocked at threshold")
	}
	if l.IsBlocked("org-1:10.0.0.1", CategoryTokenRefresh) {
		t.Error("failed_refresh blocked by failed_auth counter")
	}
	if l.IsBlocked("org-1:10.0.0.1", CategoryInvalidConfig) {
		t.Error("invalid_config blocked by failed_auth counter")
	}
}

func TestWindowExpiry(t *testing.T) {
	l := NewFailureLimiter(FailureLimiterOptions{Threshold: 3, Window: 15 * time.Minute})
	defer l.Stop()

	current := time.Now()
	l.SetTimeFunc(func() time.Time { return current })

	for i := 0; i < 3; i++ {
		l.Track("org-1:10.0.0.1", CategoryFailedAuth)
	}
	if !l.IsBlocked("org-1:10.0.0.1", CategoryFailedAuth) {
		t.Fatal("not blocked at threshold")
	}

	// Once the window elapses the counter resets.
	current = current.Add(15*time.Minute + time.Second)
	if l.IsBlocked("org-1:10.0.0.1", CategoryFailedAuth) {
		t.Error("still blocked after window elapsed")
	}

	// A new failure starts a fresh window at count 1.
	if count := l.Track("org-1:10.0.0.1", CategoryFailedAuth); count != 1 {
		t.Errorf("Track() after window expiry = %d, want 1", count)
	}
}

func TestReset(t *testing.T) {
	l := NewFailureLimiter(FailureLimiterOptions{Threshold: 2})
	defer l.Stop()

	l.Track("org-1:10.0.0.1", CategoryFailedAuth)
	l.Track("org-1:10.0.0.1", CategoryFailedAuth)
	if !l.IsBlocked("org-1:10.0.0.1", CategoryFailedAuth) {
		t.Fatal("not blocked at threshold")
	}

	l.Reset("org-1:10.0.0.1", CategoryFailedAuth)
	if l.IsBlocked("org-1:10.0.0.1", CategoryFailedAuth) {
		t.Error("still blocked after Reset")
	}
}

func TestDefaults(t *testing.T) {
	l := NewFailureLimiter(FailureLimiterOptions{})
	defer l.Stop()

	if l.threshold != defaultFailureThreshold {
		t.Errorf("threshold = %d, want %d", l.threshold, defaultFailureThreshold)
	}
	if l.window != defaultFailureWindow {
		t.Errorf("window = %v, want %v", l.window, defaultFailureWindow)
	}
	if l.cleanupInterval != defaultCleanupInterval {
		t.Errorf("cleanup interval = %v, want %v", l.cleanupInterval, defaultCleanupInterval)
	}
}

func TestCleanupIntervalOption(t *testing.T) {
	l := NewFailureLimiter(FailureLimiterOptions{CleanupInterval: time.Second})
	defer l.Stop()

	if l.cleanupInterval != time.Second {
		t.Errorf("cleanup interval = %v, want %v", l.cleanupInterval, time.Second)
	}
}

func TestStopIdempotent(t *testing.T) {
	l := NewFailureLimiter(FailureLimiterOptions{})
	l.Stop()
	l.Stop() // must not panic
}
