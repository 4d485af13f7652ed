package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// With rate.NewLimiter(10, 2), the limiter starts with 2 tokens in the bucket
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be rate limited")
	}

	// Other clients have their own bucket
	if !limiter.Allow("other-key") {
		t.Error("Request from another key should be allowed")
	}

	// Wait for token refill (10 req/s = 100ms per token)
	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("test-key") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestCleanup(t *testing.T) {
	limiter := NewLimiter(10, 2)
	limiter.Allow("old")
	time.Sleep(30 * time.Millisecond)
	limiter.Allow("fresh")

	if removed := limiter.Cleanup(20 * time.Millisecond); removed != 1 {
		t.Errorf("Expected 1 limiter removed, got %d", removed)
	}
	if limiter.Len() != 1 {
		t.Errorf("Expected 1 limiter left, got %d", limiter.Len())
	}
}

func TestKeyFuncs(t *testing.T) {
	req := httptest.NewRequest("POST", "/upload/ns/key", nil)
	req.RemoteAddr = "10.0.0.7:51234"

	if got := IPKeyFunc(req); got != "10.0.0.7" {
		t.Errorf("IPKeyFunc() = %q, want 10.0.0.7", got)
	}
	if got := APIKeyFunc(req); got != "10.0.0.7" {
		t.Errorf("APIKeyFunc() without key = %q, want client IP", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := IPKeyFunc(req); got != "203.0.113.9" {
		t.Errorf("IPKeyFunc() with XFF = %q, want 203.0.113.9", got)
	}

	req.Header.Set("Authorization", "Bearer abc")
	if got := APIKeyFunc(req); got != "Bearer abc" {
		t.Errorf("APIKeyFunc() = %q, want the Authorization header", got)
	}
}
