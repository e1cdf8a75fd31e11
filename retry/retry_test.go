package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rivermead/fedauth/httppool"
)

// fastRetryer keeps test backoff delays negligible.
func fastRetryer(maxAttempts int) *Retryer {
	return New(Options{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
}

func TestDo(t *testing.T) {
	t.Run("succeeds first attempt", func(t *testing.T) {
		r := fastRetryer(3)
		result := Do(context.Background(), r, "op", func(ctx context.Context) (string, error) {
			return "ok", nil
		})
		if !result.Success() {
			t.Fatalf("Do() failed: %v", result.Err)
		}
		if result.Value != "ok" || result.Attempts != 1 {
			t.Errorf("result = %+v, want value ok after 1 attempt", result)
		}
	})

	t.Run("fails k times then succeeds with k+1 attempts", func(t *testing.T) {
		r := fastRetryer(5)
		failures := 3
		calls := 0
		result := Do(context.Background(), r, "op", func(ctx context.Context) (int, error) {
			calls++
			if calls <= failures {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
		if !result.Success() {
			t.Fatalf("Do() failed: %v", result.Err)
		}
		if result.Attempts != failures+1 {
			t.Errorf("Attempts = %d, want %d", result.Attempts, failures+1)
		}
		if result.Value != 42 {
			t.Errorf("Value = %d, want 42", result.Value)
		}
	})

	t.Run("always failing stops at max attempts", func(t *testing.T) {
		r := fastRetryer(3)
		calls := 0
		wantErr := errors.New("still broken")
		result := Do(context.Background(), r, "op", func(ctx context.Context) (int, error) {
			calls++
			return 0, wantErr
		})
		if result.Success() {
			t.Fatal("Do() succeeded, want failure")
		}
		if calls != 3 || result.Attempts != 3 {
			t.Errorf("calls/attempts = %d/%d, want 3/3", calls, result.Attempts)
		}
		if !errors.Is(result.Err, wantErr) {
			t.Errorf("Err = %v, want %v", result.Err, wantErr)
		}
	})

	t.Run("permanent error aborts immediately", func(t *testing.T) {
		r := fastRetryer(5)
		calls := 0
		wantErr := errors.New("bad input")
		result := Do(context.Background(), r, "op", func(ctx context.Context) (int, error) {
			calls++
			return 0, Permanent(wantErr)
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if !errors.Is(result.Err, wantErr) {
			t.Errorf("Err = %v, want unwrapped %v", result.Err, wantErr)
		}
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		r := New(Options{MaxAttempts: 10, InitialInterval: time.Hour, MaxInterval: time.Hour})
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan Result[int])
		go func() {
			done <- Do(ctx, r, "op", func(ctx context.Context) (int, error) {
				return 0, errors.New("transient")
			})
		}()
		cancel()

		select {
		case result := <-done:
			if !errors.Is(result.Err, context.Canceled) {
				t.Errorf("Err = %v, want context.Canceled", result.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Do() did not return after cancellation")
		}
	})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain error", errors.New("network down"), true},
		{"server error", &httppool.StatusError{StatusCode: 503, URL: "https://idp.example.com"}, true},
		{"too many requests", &httppool.StatusError{StatusCode: 429, URL: "https://idp.example.com"}, true},
		{"client error", &httppool.StatusError{StatusCode: 400, URL: "https://idp.example.com"}, false},
		{"unauthorized", &httppool.StatusError{StatusCode: 401, URL: "https://idp.example.com"}, false},
		{"permanent", Permanent(errors.New("validation")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusErrorTerminal(t *testing.T) {
	r := fastRetryer(4)
	calls := 0
	result := Do(context.Background(), r, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, &httppool.StatusError{StatusCode: 404, URL: "https://idp.example.com/.well-known/openid-configuration"}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for terminal status", calls)
	}
	var statusErr *httppool.StatusError
	if !errors.As(result.Err, &statusErr) {
		t.Errorf("Err = %v, want StatusError", result.Err)
	}
}
