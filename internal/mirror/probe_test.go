package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestHTTPProberSuccess(t *testing.T) {
	var method atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber(quietLogger())
	res := p.Probe(context.Background(), srv.URL, time.Second)

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.URL != srv.URL {
		t.Errorf("expected URL %q, got %q", srv.URL, res.URL)
	}
	if res.Elapsed < 0 {
		t.Errorf("elapsed should be non-negative, got %v", res.Elapsed)
	}
	if method.Load() != http.MethodHead {
		t.Errorf("expected HEAD probe, got %v", method.Load())
	}
}

func TestHTTPProberFallsBackToGet(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gets.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := NewHTTPProber(quietLogger()).Probe(context.Background(), srv.URL, time.Second)

	if !res.Success {
		t.Fatalf("expected success after GET fallback, got %q", res.Error)
	}
	if gets.Load() != 1 {
		t.Errorf("expected 1 GET, got %d", gets.Load())
	}
}

func TestHTTPProberServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := NewHTTPProber(quietLogger()).Probe(context.Background(), srv.URL, time.Second)

	if res.Success {
		t.Fatal("expected failure for 502")
	}
	if res.Error == "" {
		t.Error("expected error description")
	}
}

func TestHTTPProberTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res := NewHTTPProber(quietLogger()).Probe(context.Background(), srv.URL, 100*time.Millisecond)

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("probe did not respect its timeout: %v", time.Since(start))
	}
}

func TestHTTPProberRejectsInvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://cdn.example.com", "not a url", "http://user:pw@cdn.example.com"} {
		res := NewHTTPProber(quietLogger()).Probe(context.Background(), u, time.Second)
		if res.Success {
			t.Errorf("expected failure for %q", u)
		}
	}
}

func TestHTTPProberUnreachable(t *testing.T) {
	// RFC 5737 TEST-NET, guaranteed unreachable
	res := NewHTTPProber(quietLogger()).Probe(context.Background(), "http://192.0.2.1:1", 200*time.Millisecond)
	if res.Success {
		t.Fatal("expected failure for unreachable host")
	}
}

func TestHTTPProberMockClockTie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// A frozen clock reports identical elapsed times, so the race falls
	// back to input order.
	p := NewHTTPProber(quietLogger()).WithClock(clock.NewMock())
	r := NewRacer(p, nil, quietLogger())

	first := srv.URL + "/first"
	second := srv.URL + "/second"
	res := r.SelectFastest(context.Background(), []string{first, second}, 1, time.Second)

	if !res.Success {
		t.Fatal("expected success")
	}
	if res.Elapsed != 0 {
		t.Errorf("expected zero elapsed from frozen clock, got %v", res.Elapsed)
	}
	if res.URL != first {
		t.Errorf("expected first-listed URL %q, got %q", first, res.URL)
	}
}
