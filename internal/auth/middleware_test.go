package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
)

func newTokenManager() *auth.TokenManager {
	return auth.NewTokenManager("middleware-test-secret", 15*time.Minute)
}

func protectedHandler(t *testing.T, captured **models.TokenClaims) http.Handler {
	return auth.AuthMiddleware(newTokenManager())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = auth.GetUserFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tm := newTokenManager()
	token, err := tm.GenerateAccessToken("user_1", "ana@example.com")
	require.NoError(t, err)

	var claims *models.TokenClaims
	handler := protectedHandler(t, &claims)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, claims)
	assert.Equal(t, "user_1", claims.UserID)
	assert.Equal(t, "ana@example.com", claims.Email)
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	var claims *models.TokenClaims
	handler := protectedHandler(t, &claims)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, claims)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	tm := newTokenManager()
	token, err := tm.GenerateAccessToken("user_1", "ana@example.com")
	require.NoError(t, err)

	headers := []string{
		token,             // no scheme
		"Basic " + token,  // wrong scheme
		"Bearer",          // no token
		"bearer " + token, // scheme is case-sensitive
	}

	for _, header := range headers {
		var claims *models.TokenClaims
		handler := protectedHandler(t, &claims)

		req := httptest.NewRequest("GET", "/auth/me", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q should be rejected", header)
		assert.Nil(t, claims)
	}
}

func TestAuthMiddleware_TamperedToken(t *testing.T) {
	// Signed with a different secret
	other := auth.NewTokenManager("some-other-secret", 15*time.Minute)
	token, err := other.GenerateAccessToken("user_1", "ana@example.com")
	require.NoError(t, err)

	var claims *models.TokenClaims
	handler := protectedHandler(t, &claims)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, claims)
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	expired := auth.NewTokenManager("middleware-test-secret", -time.Minute)
	token, err := expired.GenerateAccessToken("user_1", "ana@example.com")
	require.NoError(t, err)

	var claims *models.TokenClaims
	handler := protectedHandler(t, &claims)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, claims)
}

func TestValidateToken_RoundTrip(t *testing.T) {
	tm := newTokenManager()

	token, err := tm.GenerateAccessToken("user_1", "ana@example.com")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", claims.UserID)
	assert.NotEmpty(t, claims.ID, "access tokens carry a JTI")
}

func TestGetUserFromContext_WithoutClaims(t *testing.T) {
	req := httptest.NewRequest("GET", "/auth/me", nil)
	assert.Nil(t, auth.GetUserFromContext(req))
}
