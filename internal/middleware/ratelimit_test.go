package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	handler := rl.Handler(okHandler())

	for i := range 10 {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	handler := rl.Handler(okHandler())

	for range 5 {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiterCriticalPriorityBypasses(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	handler := rl.Handler(okHandler())

	// Exhaust the bucket.
	first := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	first.RemoteAddr = "192.168.1.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), first)

	// Critical events are never shed, even from the same IP.
	for i := range 20 {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		req.Header.Set("X-Event-Priority", "critical")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("critical request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	// Non-critical requests from the drained bucket are still limited.
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.1:1234"
	req.Header.Set("X-Event-Priority", "high")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("high priority should not bypass, got %d", rec.Code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	if _, _, allowed := rl.allow("10.0.0.1"); !allowed {
		t.Fatal("first request should pass")
	}
	if _, _, allowed := rl.allow("10.0.0.1"); allowed {
		t.Fatal("bucket should be empty")
	}

	now = now.Add(200 * time.Millisecond) // 2 tokens at 10/s
	if _, _, allowed := rl.allow("10.0.0.1"); !allowed {
		t.Error("bucket should have refilled")
	}
}

func TestRateLimiterTracksIPsSeparately(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	handler := rl.Handler(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("addr %s: got %d", addr, rec.Code)
		}
	}
	if rl.Len() != 3 {
		t.Errorf("tracked buckets = %d, want 3", rl.Len())
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	rl.allow("10.0.0.2")

	now = now.Add(time.Hour)
	rl.cleanup(10 * time.Minute)

	if rl.Len() != 0 {
		t.Errorf("stale buckets remain: %d", rl.Len())
	}
}
