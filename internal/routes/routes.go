package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/handlers"
	"github.com/tmcfarland/docsmith/internal/middleware"
)

// RegisterRoutes registers all application routes. The rate limits guard the
// endpoints an attacker can hammer anonymously (authRateLimit, keyed by IP)
// and the authenticated surface (userRateLimit, keyed by user id).
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	sessionHandler *handlers.SessionHandler,
	deviceHandler *handlers.DeviceHandler,
	tokenManager *auth.TokenManager,
	authRateLimit middleware.RateLimitConfig,
	userRateLimit middleware.RateLimitConfig,
) {

	// Public routes - no authentication required
	router.Post("/auth/register", authHandler.Register)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/mfa/verify-login", authHandler.VerifyMFALogin)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/refresh", authHandler.RefreshToken)
	router.Post("/auth/logout", authHandler.Logout)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/forgot-password", authHandler.ForgotPassword)
	router.Post("/auth/reset-password", authHandler.ResetPassword)
	router.Post("/auth/verify-email", authHandler.VerifyEmail)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/resend-verification", authHandler.ResendVerification)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(middleware.RateLimitByUserID(userRateLimit))

		r.Get("/auth/me", authHandler.Me)

		// MFA enrollment and management
		r.Post("/auth/mfa/setup", mfaHandler.Setup)
		r.Post("/auth/mfa/verify", mfaHandler.Verify)
		r.Post("/auth/mfa/disable", mfaHandler.Disable)
		r.Post("/auth/mfa/backup-codes/regenerate", mfaHandler.RegenerateBackupCodes)

		// Trusted devices
		r.Post("/auth/trust-device", deviceHandler.Trust)
		r.Get("/auth/trusted-devices", deviceHandler.List)
		r.Delete("/auth/trusted-devices", deviceHandler.RevokeAll)
		r.Delete("/auth/trusted-devices/{id}", deviceHandler.Revoke)

		// Session management
		r.Get("/auth/sessions", sessionHandler.List)
		r.Delete("/auth/sessions/all", sessionHandler.RevokeAllOthers)
		r.Delete("/auth/sessions/{id}", sessionHandler.Revoke)
	})
}
