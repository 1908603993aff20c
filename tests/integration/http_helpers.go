package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/database"
	"github.com/tmcfarland/docsmith/internal/handlers"
	"github.com/tmcfarland/docsmith/internal/middleware"
	"github.com/tmcfarland/docsmith/internal/repositories"
	"github.com/tmcfarland/docsmith/internal/routes"
	"github.com/tmcfarland/docsmith/internal/services"
	pkghttp "github.com/tmcfarland/docsmith/pkg/http"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

// SentEmail is a captured outbound message
type SentEmail struct {
	To    string
	Kind  string // "verification" or "password_reset"
	Token string
}

// CapturingEmailService records emails instead of sending them
type CapturingEmailService struct {
	mu   sync.Mutex
	sent []SentEmail
}

func (s *CapturingEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentEmail{To: email, Kind: "verification", Token: token})
	return nil
}

func (s *CapturingEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentEmail{To: email, Kind: "password_reset", Token: token})
	return nil
}

// LastEmail returns the most recently captured email, or nil
func (s *CapturingEmailService) LastEmail() *SentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	last := s.sent[len(s.sent)-1]
	return &last
}

// Count returns the number of captured emails
func (s *CapturingEmailService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// TestServer wraps httptest.Server with the full service stack wired against
// a real database and a capturing email service.
type TestServer struct {
	Server *httptest.Server
	Email  *CapturingEmailService

	// Exposed for direct state manipulation in tests
	TOTPManager *auth.TOTPManager
}

// testMFAEncryptionKey is a fixed 32-byte AES key for tests only
var testMFAEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// NewTestServer wires repositories, services, handlers, and routes the same
// way cmd/api does, minus the real SES client and with generous rate limits.
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLogger := pkglogger.NewAuditLogger(logger)

	userRepo := repositories.NewUserRepository(db)
	tenantRepo := repositories.NewTenantRepository(db)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	accountLockRepo := repositories.NewAccountLockRepository(db)
	mfaRepo := repositories.NewMFARepository(db)
	trustedDeviceRepo := repositories.NewTrustedDeviceRepository(db)
	passwordResetRepo := repositories.NewPasswordResetRepository(db)
	emailVerificationRepo := repositories.NewEmailVerificationRepository(db)

	tokenManager := auth.NewTokenManager("integration-test-secret-32-chars!", 15*time.Minute)
	totpManager, err := auth.NewTOTPManager(testMFAEncryptionKey, "DocsmithTest")
	if err != nil {
		return nil, fmt.Errorf("failed to create TOTP manager: %w", err)
	}
	// Zero delays keep the suite fast
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})

	email := &CapturingEmailService{}

	emailVerificationService := services.NewEmailVerificationService(
		emailVerificationRepo, userRepo, email, 24*time.Hour, logger, auditLogger)
	lockoutService := services.NewLockoutService(
		accountLockRepo, loginAttemptRepo, 5, 15*time.Minute, logger, auditLogger)
	tokenService := services.NewTokenService(
		refreshTokenRepo, userRepo, tokenManager, 7*24*time.Hour, logger, auditLogger)
	mfaService := services.NewMFAService(mfaRepo, userRepo, totpManager, logger, auditLogger)
	trustedDeviceService := services.NewTrustedDeviceService(
		trustedDeviceRepo, 30*24*time.Hour, logger, auditLogger)
	sessionService := services.NewSessionService(refreshTokenRepo, logger, auditLogger)
	authService := services.NewAuthService(
		userRepo, tenantRepo, passwordResetRepo,
		tokenService, lockoutService, mfaService, trustedDeviceService,
		emailVerificationService, email, timingDelay,
		time.Hour, logger, auditLogger)

	ipConfig := &pkghttp.IPConfig{}
	cookieConfig := auth.CookieConfig{SameSite: "strict"}

	authHandler := handlers.NewAuthHandler(authService, tokenService, emailVerificationService, ipConfig, cookieConfig, 7*24*time.Hour)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	deviceHandler := handlers.NewDeviceHandler(trustedDeviceService, ipConfig)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.Timeout(30 * time.Second))

	// Limits high enough that the whole suite shares one IP comfortably
	relaxed := middleware.RateLimitConfig{RequestsPerMinute: 10000}
	routes.RegisterRoutes(router, authHandler, mfaHandler, sessionHandler, deviceHandler, tokenManager, relaxed, relaxed)

	return &TestServer{
		Server:      httptest.NewServer(router),
		Email:       email,
		TOTPManager: totpManager,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request sends a JSON request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	// No cookie jar: refresh cookies are passed explicitly per request
	return http.DefaultClient.Do(req)
}

// RequestWithAuth sends a request with a Bearer access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
}

// RequestWithCookie sends a request carrying a refresh token cookie
func (ts *TestServer) RequestWithCookie(method, path, refreshToken string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if refreshToken != "" {
		req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: refreshToken})
	}

	return http.DefaultClient.Do(req)
}

// ParseJSONResponse decodes the response body into target and closes it
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// RefreshCookieValue extracts the refresh token cookie from a response.
// Returns the empty string if the cookie is absent or cleared.
func RefreshCookieValue(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == auth.RefreshCookieName {
			return cookie.Value
		}
	}
	return ""
}

// ErrorCode extracts the machine-readable error code from an error response
func ErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp pkghttp.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	return errResp.Error, nil
}
