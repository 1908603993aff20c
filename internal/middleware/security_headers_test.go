package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func securityHeadersResponse(t *testing.T, env string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	handler := SecurityHeaders(SecurityHeadersConfig{Env: env})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest("GET", "/", nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders_AlwaysSet(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		w := securityHeadersResponse(t, env, nil)

		tests := []struct {
			header   string
			expected string
		}{
			{"X-Frame-Options", "DENY"},
			{"X-Content-Type-Options", "nosniff"},
			{"X-XSS-Protection", "1; mode=block"},
			{"Referrer-Policy", "strict-origin-when-cross-origin"},
			{"Cross-Origin-Opener-Policy", "same-origin"},
		}
		for _, tt := range tests {
			if got := w.Header().Get(tt.header); got != tt.expected {
				t.Errorf("env %s, header %s: got %q, want %q", env, tt.header, got, tt.expected)
			}
		}

		if pp := w.Header().Get("Permissions-Policy"); !strings.Contains(pp, "camera=()") {
			t.Errorf("env %s: Permissions-Policy should disable device access, got %q", env, pp)
		}
	}
}

func TestSecurityHeaders_ProductionCSPIsStrict(t *testing.T) {
	w := securityHeadersResponse(t, "production", nil)

	csp := w.Header().Get("Content-Security-Policy")
	if csp == "" {
		t.Fatal("Content-Security-Policy header missing")
	}

	for _, directive := range []string{
		"default-src 'self'",
		"frame-ancestors 'none'",
		"form-action 'self'",
		"base-uri 'self'",
	} {
		if !strings.Contains(csp, directive) {
			t.Errorf("production CSP missing %q: %s", directive, csp)
		}
	}

	for _, forbidden := range []string{"unsafe-inline", "unsafe-eval", "http:"} {
		if strings.Contains(csp, forbidden) {
			t.Errorf("production CSP must not contain %q: %s", forbidden, csp)
		}
	}
}

func TestSecurityHeaders_DevelopmentCSPIsPermissive(t *testing.T) {
	w := securityHeadersResponse(t, "development", nil)

	csp := w.Header().Get("Content-Security-Policy")
	if csp == "" {
		t.Fatal("Content-Security-Policy header missing")
	}

	for _, directive := range []string{
		"unsafe-inline",
		"unsafe-eval",
		"frame-ancestors 'self'",
		"ws:",
	} {
		if !strings.Contains(csp, directive) {
			t.Errorf("development CSP missing %q: %s", directive, csp)
		}
	}

	if strings.Contains(csp, "form-action") {
		t.Errorf("form-action is a production-only directive: %s", csp)
	}
}

func TestSecurityHeaders_HSTSOnlyOnProductionTLS(t *testing.T) {
	// Production behind a TLS-terminating proxy
	w := securityHeadersResponse(t, "production", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	if hsts := w.Header().Get("Strict-Transport-Security"); !strings.Contains(hsts, "max-age=31536000") {
		t.Errorf("expected HSTS on production TLS, got %q", hsts)
	}

	// Production over plain HTTP: HSTS would be cached uselessly
	w = securityHeadersResponse(t, "production", nil)
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS must not be set without TLS, got %q", hsts)
	}

	// Development never sends HSTS, TLS or not
	w = securityHeadersResponse(t, "development", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS must not be set in development, got %q", hsts)
	}
}
