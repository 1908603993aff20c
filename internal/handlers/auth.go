package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	"github.com/tmcfarland/docsmith/internal/services"
	pkgauth "github.com/tmcfarland/docsmith/pkg/auth"
	pkghttp "github.com/tmcfarland/docsmith/pkg/http"
)

// AuthServiceInterface defines the interface for the login orchestrator
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string, meta models.DeviceMeta) (*models.LoginResult, error)
	VerifyMFALogin(ctx context.Context, userID, code string, meta models.DeviceMeta) (*models.LoginResult, error)
	Register(ctx context.Context, email, password, name string) (*models.User, error)
	ForgotPassword(ctx context.Context, email string, meta models.DeviceMeta) error
	ResetPassword(ctx context.Context, rawToken, newPassword string, meta models.DeviceMeta) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// TokenServiceInterface defines the interface for refresh/logout operations
type TokenServiceInterface interface {
	Refresh(ctx context.Context, rawToken string, meta models.DeviceMeta) (*services.TokenPair, *models.User, error)
	Logout(ctx context.Context, rawToken string) error
}

// EmailVerificationServiceInterface defines the interface for email verification
type EmailVerificationServiceInterface interface {
	VerifyEmail(ctx context.Context, rawToken string) error
	ResendVerification(ctx context.Context, email string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service       AuthServiceInterface
	tokens        TokenServiceInterface
	verification  EmailVerificationServiceInterface
	ipConfig      *pkghttp.IPConfig
	cookieConfig  auth.CookieConfig
	refreshMaxAge int
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, tokens TokenServiceInterface, verification EmailVerificationServiceInterface, ipConfig *pkghttp.IPConfig, cookieConfig auth.CookieConfig, refreshExpiry time.Duration) *AuthHandler {
	return &AuthHandler{
		service:       service,
		tokens:        tokens,
		verification:  verification,
		ipConfig:      ipConfig,
		cookieConfig:  cookieConfig,
		refreshMaxAge: int(refreshExpiry.Seconds()),
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	DeviceName string `json:"device_name" validate:"max=100"`
}

// VerifyMFALoginRequest completes an AwaitingMfa login
type VerifyMFALoginRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid"`
	Code       string `json:"code" validate:"required,min=6,max=10"`
	DeviceName string `json:"device_name" validate:"max=100"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// ForgotPasswordRequest represents the request body for forgot-password
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for reset-password
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// ResendVerificationRequest represents the request body for resending the verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Response DTOs

// UserResponse represents a user in HTTP responses
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"email_verified"`
	MFAEnabled    bool   `json:"mfa_enabled"`
	CreatedAt     string `json:"created_at"`
}

// LoginResponse is the success body of login and MFA verification
type LoginResponse struct {
	RequiresMFA bool          `json:"requires_mfa,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	AccessToken string        `json:"access_token,omitempty"`
	User        *UserResponse `json:"user,omitempty"`
}

// RefreshResponse is the success body of a token refresh
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

func userToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		EmailVerified: user.EmailVerified,
		MFAEnabled:    user.MFAEnabled,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *AuthHandler) deviceMeta(r *http.Request, deviceName string) models.DeviceMeta {
	return models.DeviceMeta{
		DeviceName: deviceName,
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  r.Header.Get("User-Agent"),
	}
}

// Login handles the credential stage of login. Outcomes: 423 locked,
// 200 with requires_mfa, or 200 with tokens (refresh token in an httpOnly
// cookie, never in the body).
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, h.deviceMeta(r, req.DeviceName))
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	h.writeLoginResult(w, result)
}

// VerifyMFALogin completes an AwaitingMfa login with a TOTP or backup code.
func (h *AuthHandler) VerifyMFALogin(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFALoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.VerifyMFALogin(r.Context(), req.UserID, req.Code, h.deviceMeta(r, req.DeviceName))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidMFA), errors.Is(err, models.ErrMFANotEnabled),
			errors.Is(err, models.ErrUnauthorized):
			// Which factor failed is never distinguished.
			pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_mfa", "Invalid verification code")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.writeLoginResult(w, result)
}

func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, result *models.LoginResult) {
	switch result.Status {
	case models.LoginStatusLocked:
		pkghttp.WriteLocked(w, result.LockedUntil.LockedUntil)
	case models.LoginStatusRequiresMFA:
		writeJSON(w, http.StatusOK, LoginResponse{RequiresMFA: true, UserID: result.UserID})
	case models.LoginStatusAuthenticated:
		auth.SetRefreshTokenCookie(w, result.RefreshToken, h.refreshMaxAge, h.cookieConfig)
		writeJSON(w, http.StatusOK, LoginResponse{
			AccessToken: result.AccessToken,
			User:        userToResponse(result.User),
		})
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteError(w, http.StatusForbidden, "email_not_verified", "Email address not verified")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Register creates an account and triggers the verification email.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.Is(err, models.ErrDuplicateAccount):
			pkghttp.WriteError(w, http.StatusConflict, "duplicate_account", "An account with this email already exists")
		case errors.As(err, &pwErr), errors.Is(err, models.ErrWeakPassword):
			pkghttp.WriteError(w, http.StatusBadRequest, "weak_secret", "Password does not meet requirements")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid registration request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    userToResponse(user),
		"message": "Account created. Check your email to verify your address.",
	})
}

// RefreshToken rotates the refresh token presented in the cookie and returns
// a fresh access token. Reuse of a rotated token fails as plain invalid;
// the containment side effect is not reported to the caller.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	rawToken, err := auth.GetRefreshTokenCookie(r)
	if err != nil || rawToken == "" {
		pkghttp.WriteUnauthorized(w, "Authentication failed")
		return
	}

	pair, _, err := h.tokens.Refresh(r.Context(), rawToken, h.deviceMeta(r, ""))
	if err != nil {
		auth.ClearRefreshTokenCookie(w, h.cookieConfig)
		pkghttp.WriteUnauthorized(w, "Authentication failed")
		return
	}

	auth.SetRefreshTokenCookie(w, pair.RefreshToken, h.refreshMaxAge, h.cookieConfig)
	writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: pair.AccessToken})
}

// Logout revokes the presented refresh token and clears the cookie.
// Idempotent: succeeds even without a valid session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rawToken, err := auth.GetRefreshTokenCookie(r)
	if err == nil && rawToken != "" {
		if err := h.tokens.Logout(r.Context(), rawToken); err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	auth.ClearRefreshTokenCookie(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword always returns 200 so responses cannot be used to probe
// which addresses have accounts.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email, h.deviceMeta(r, "")); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If that email is registered, a reset link has been sent.",
	})
}

// ResetPassword redeems a reset token. Success re-baselines the account:
// all sessions and trusted devices are revoked.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword, h.deviceMeta(r, ""))
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.Is(err, models.ErrInvalidResetToken):
			pkghttp.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired reset token")
		case errors.As(err, &pwErr), errors.Is(err, models.ErrWeakPassword):
			pkghttp.WriteError(w, http.StatusBadRequest, "weak_secret", "Password does not meet requirements")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset. Please log in again."})
}

// VerifyEmail redeems an email verification token.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.verification.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid or expired verification token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified."})
}

// ResendVerification re-sends the verification email. Always 200.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.verification.ResendVerification(r.Context(), req.Email); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If that email is registered and unverified, a new link has been sent.",
	})
}

// Me returns the authenticated caller's account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, userToResponse(user))
}
