package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_PerClient(t *testing.T) {
	rl := newRateLimiter(1, 2)

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.allow("a") {
		t.Error("expected third request to be limited")
	}
	if !rl.allow("b") {
		t.Error("expected another client to have its own budget")
	}
}

func TestRateLimiter_SweepsStaleClients(t *testing.T) {
	rl := newRateLimiter(1, 1)
	rl.allow("old")
	rl.clients["old"].lastSeen = time.Now().Add(-2 * staleLimiter)
	rl.lastSweep = time.Now().Add(-2 * staleLimiter)

	rl.allow("new")
	if _, ok := rl.clients["old"]; ok {
		t.Error("expected stale client to be swept")
	}
	if len(rl.clients) != 1 {
		t.Errorf("expected 1 client, got %d", len(rl.clients))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(Options{RateLimit: 1, RateBurst: 1})
	defer f.close()
	h := f.server.Handler()

	if w := do(t, h, "GET", "/api/summary", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := do(t, h, "GET", "/api/summary", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.7:4321"
	if got := clientAddr(req); got != "192.0.2.7" {
		t.Errorf("expected 192.0.2.7, got %q", got)
	}
	req.RemoteAddr = "pipe"
	if got := clientAddr(req); got != "pipe" {
		t.Errorf("expected pipe, got %q", got)
	}
}

func TestHeaderMiddleware(t *testing.T) {
	f := newFixture(Options{})
	defer f.close()

	w := do(t, f.server.Handler(), "GET", "/api", "")
	want := map[string]string{
		"Cache-Control":          "no-store, must-revalidate",
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
