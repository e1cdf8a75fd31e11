package httppool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientReuse(t *testing.T) {
	p := New(Options{})
	defer p.Close()

	a := p.clientFor("idp-a.example.com")
	b := p.clientFor("idp-b.example.com")
	if a == b {
		t.Error("different hosts share a client")
	}
	if p.clientFor("idp-a.example.com") != a {
		t.Error("same host got a new client on second use")
	}
}

func TestDo(t *testing.T) {
	t.Run("counts requests per host", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		p := New(Options{})
		defer p.Close()

		ctx := context.Background()
		for i := 0; i < 3; i++ {
			resp, err := p.Get(ctx, srv.URL)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			resp.Body.Close()
		}

		stats := p.Stats()
		if len(stats) != 1 {
			t.Fatalf("Stats() returned %d hosts, want 1", len(stats))
		}
		if stats[0].TotalRequests != 3 {
			t.Errorf("TotalRequests = %d, want 3", stats[0].TotalRequests)
		}
		if stats[0].ErrorCount != 0 {
			t.Errorf("ErrorCount = %d, want 0", stats[0].ErrorCount)
		}
	})

	t.Run("counts transport errors", func(t *testing.T) {
		p := New(Options{RequestTimeout: 500 * time.Millisecond})
		defer p.Close()

		// Closed server: the request must fail at the transport.
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		if _, err := p.Get(context.Background(), url); err == nil {
			t.Fatal("Get() against closed server succeeded")
		}

		stats := p.Stats()
		if len(stats) != 1 || stats[0].ErrorCount != 1 {
			t.Errorf("Stats() = %+v, want one host with ErrorCount 1", stats)
		}
	})

	t.Run("does not follow redirects", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://elsewhere.example.com/", http.StatusFound)
		}))
		defer srv.Close()

		p := New(Options{})
		defer p.Close()

		resp, err := p.Get(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusFound {
			t.Errorf("status = %d, want %d (raw redirect)", resp.StatusCode, http.StatusFound)
		}
	})
}

func TestCountError(t *testing.T) {
	p := New(Options{})
	defer p.Close()

	p.CountError("idp.example.com")
	p.CountError("idp.example.com")

	stats := p.Stats()
	if len(stats) != 1 || stats[0].ErrorCount != 2 {
		t.Errorf("Stats() = %+v, want ErrorCount 2 for idp.example.com", stats)
	}
}

func TestHTTPClient(t *testing.T) {
	p := New(Options{})
	defer p.Close()

	client, err := p.HTTPClient("https://idp.example.com/token")
	if err != nil {
		t.Fatalf("HTTPClient() error = %v", err)
	}
	if client != p.clientFor("idp.example.com").client {
		t.Error("HTTPClient() returned a different client than the pool's")
	}

	if _, err := p.HTTPClient("://not-a-url"); err == nil {
		t.Error("HTTPClient() accepted an invalid URL")
	}
}

func TestStatsSorted(t *testing.T) {
	p := New(Options{})
	defer p.Close()

	p.CountError("c.example.com")
	p.CountError("a.example.com")
	p.CountError("b.example.com")

	stats := p.Stats()
	if len(stats) != 3 {
		t.Fatalf("Stats() returned %d hosts, want 3", len(stats))
	}
	for i := 1; i < len(stats); i++ {
		if stats[i-1].Host > stats[i].Host {
			t.Errorf("Stats() not sorted: %s before %s", stats[i-1].Host, stats[i].Host)
		}
	}
}

func TestPerHostThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// 1 request per second with a burst of 1: the second request must wait
	// roughly a full second.
	p := New(Options{PerHostRate: 1, PerHostBurst: 1})
	defer p.Close()

	ctx := context.Background()
	resp, err := p.Get(ctx, srv.URL)
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	resp.Body.Close()

	start := time.Now()
	resp, err = p.Get(ctx, srv.URL)
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	resp.Body.Close()

	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("second request waited %v, want the throttle to delay it", elapsed)
	}
}
