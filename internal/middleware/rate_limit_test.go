package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest("POST", "/test", nil)
	if userID != "" {
		claims := &models.TokenClaims{UserID: userID}
		req = req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
	}
	return req
}

// TestRateLimitByUserID_EnforcesLimit verifies the per-user limit kicks in
func TestRateLimitByUserID_EnforcesLimit(t *testing.T) {
	handler := RateLimitByUserID(RateLimitConfig{RequestsPerMinute: 5})(okHandler())

	for i := 0; i < 5; i++ {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, requestAs("user-limit-test"))
		if recorder.Code != http.StatusOK {
			t.Errorf("request %d failed with status %d, expected 200", i+1, recorder.Code)
		}
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestAs("user-limit-test"))
	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d, got %d", http.StatusTooManyRequests, recorder.Code)
	}
}

// TestRateLimitByUserID_Returns429JSON verifies the 429 response format
func TestRateLimitByUserID_Returns429JSON(t *testing.T) {
	handler := RateLimitByUserID(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestAs("user-429-test"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("first request failed with status %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestAs("user-429-test"))
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}

	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	if body := recorder.Body.String(); body != `{"error":"rate_limit_exceeded","message":"Too many requests"}` {
		t.Errorf("unexpected response body: %s", body)
	}
}

// TestRateLimitByUserID_IsolatesUserBuckets verifies separate limits per user
func TestRateLimitByUserID_IsolatesUserBuckets(t *testing.T) {
	handler := RateLimitByUserID(RateLimitConfig{RequestsPerMinute: 3})(okHandler())

	for i := 0; i < 3; i++ {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, requestAs("user-a-isolation"))
		if recorder.Code != http.StatusOK {
			t.Errorf("user A request %d failed", i+1)
		}
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestAs("user-b-isolation"))
	if recorder.Code != http.StatusOK {
		t.Errorf("user B should have an independent bucket, got status %d", recorder.Code)
	}
}

// TestRateLimitByUserID_FallbackToIPWhenNoUser verifies IP fallback
func TestRateLimitByUserID_FallbackToIPWhenNoUser(t *testing.T) {
	handler := RateLimitByUserID(RateLimitConfig{RequestsPerMinute: 100})(okHandler())

	req := requestAs("")
	req.RemoteAddr = "192.168.1.1:8080"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", recorder.Code)
	}
}

// TestRateLimitByIP_EnforcesLimit verifies the per-IP limit on public endpoints
func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/test", nil)
		req.RemoteAddr = "10.1.2.3:1234"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Errorf("request %d failed with status %d", i+1, recorder.Code)
		}
	}

	req := httptest.NewRequest("POST", "/test", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", recorder.Code)
	}
}
