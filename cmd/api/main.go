package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/background"
	"github.com/tmcfarland/docsmith/internal/config"
	"github.com/tmcfarland/docsmith/internal/database"
	"github.com/tmcfarland/docsmith/internal/handlers"
	middlewareCustom "github.com/tmcfarland/docsmith/internal/middleware"
	"github.com/tmcfarland/docsmith/internal/repositories"
	"github.com/tmcfarland/docsmith/internal/routes"
	"github.com/tmcfarland/docsmith/internal/services"
	pkghttp "github.com/tmcfarland/docsmith/pkg/http"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Run schema migrations before opening the pool
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := database.Migrate(migrateCtx, cfg.Database.DSN()); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	tenantRepo := repositories.NewTenantRepository(db)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	accountLockRepo := repositories.NewAccountLockRepository(db)
	mfaRepo := repositories.NewMFARepository(db)
	trustedDeviceRepo := repositories.NewTrustedDeviceRepository(db)
	passwordResetRepo := repositories.NewPasswordResetRepository(db)
	emailVerificationRepo := repositories.NewEmailVerificationRepository(db)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(
		refreshTokenRepo,
		loginAttemptRepo,
		accountLockRepo,
		trustedDeviceRepo,
		passwordResetRepo,
		emailVerificationRepo,
		logger,
		cfg.Auth.CleanupInterval,
	)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// TOTP manager holds the AES key for seed encryption at rest
	totpManager, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	auditLogger := pkglogger.NewAuditLogger(logger)

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.VerificationURLBase,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	emailVerificationService := services.NewEmailVerificationService(
		emailVerificationRepo,
		userRepo,
		emailService,
		time.Duration(cfg.Email.TokenExpiryHours)*time.Hour,
		logger,
		auditLogger,
	)
	lockoutService := services.NewLockoutService(
		accountLockRepo,
		loginAttemptRepo,
		cfg.Auth.LockoutThreshold,
		cfg.Auth.LockoutDuration,
		logger,
		auditLogger,
	)
	tokenService := services.NewTokenService(
		refreshTokenRepo,
		userRepo,
		tokenManager,
		cfg.Auth.RefreshTokenExpiry,
		logger,
		auditLogger,
	)
	mfaService := services.NewMFAService(mfaRepo, userRepo, totpManager, logger, auditLogger)
	trustedDeviceService := services.NewTrustedDeviceService(trustedDeviceRepo, cfg.Auth.TrustedDeviceTTL, logger, auditLogger)
	sessionService := services.NewSessionService(refreshTokenRepo, logger, auditLogger)
	authService := services.NewAuthService(
		userRepo,
		tenantRepo,
		passwordResetRepo,
		tokenService,
		lockoutService,
		mfaService,
		trustedDeviceService,
		emailVerificationService,
		emailService,
		timingDelay,
		cfg.Auth.ResetTokenExpiry,
		logger,
		auditLogger,
	)

	// IP extraction and refresh cookie policy
	ipConfig := &pkghttp.IPConfig{}
	cookieConfig := auth.CookieConfig{
		Secure:   cfg.Server.Env == "production",
		SameSite: "strict",
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(
		authService,
		tokenService,
		emailVerificationService,
		ipConfig,
		cookieConfig,
		cfg.Auth.RefreshTokenExpiry,
	)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	deviceHandler := handlers.NewDeviceHandler(trustedDeviceService, ipConfig)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, mfaHandler, sessionHandler, deviceHandler, tokenManager,
		middlewareCustom.DefaultAuthRateLimit(), middlewareCustom.DefaultAuthenticatedRateLimit())

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
