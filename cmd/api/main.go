package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/comptoirhq/identity/internal/api"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/auth"
	"github.com/comptoirhq/identity/internal/config"
	"github.com/comptoirhq/identity/internal/crypto"
	"github.com/comptoirhq/identity/internal/notify"
	"github.com/comptoirhq/identity/internal/storage/postgres"
	"github.com/comptoirhq/identity/internal/storage/redisstore"
	"github.com/comptoirhq/identity/pkg/logger"
)

func main() {
	// Local development loads env files; deployed environments rely on real
	// environment variables and these loads are no-ops.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet; stderr is all we have.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.Setup(cfg.Environment)
	log.Info("starting identity api", "env", cfg.Environment, "port", cfg.Port)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: 0.2,
		}); err != nil {
			log.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("postgres connected")

	// Redis is the volatile layer: revocation fast path, MFA and reset
	// counters. Without it the same checks run against Postgres alone.
	var revocationCache auth.RevocationCache
	var failureLimiter auth.FailureLimiter
	if cfg.RedisURL != "" {
		redisClient, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		revocationCache = redisstore.NewRevocationCache(redisClient)
		failureLimiter = redisstore.NewFailureLimiter(redisClient)
		log.Info("redis connected")
	} else {
		log.Warn("REDIS_URL not set, running without the volatile layer")
	}

	verifier, err := auth.NewCredentialVerifier()
	if err != nil {
		log.Error("credential verifier init failed", "error", err)
		os.Exit(1)
	}
	secretBox, err := crypto.NewSecretBox(cfg.MFASecretKey)
	if err != nil {
		log.Error("mfa secret key invalid", "error", err)
		os.Exit(1)
	}
	captcha, err := auth.NewCaptchaVerifier(cfg)
	if err != nil {
		log.Error("captcha config invalid", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewJWTProvider(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.MFASessionTokenTTL)
	auditor := audit.NewService(store.Audit(), log)

	var mailer notify.Mailer
	if cfg.SMTPHost != "" {
		mailer, err = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:    cfg.SMTPHost,
			Port:    cfg.SMTPPort,
			User:    cfg.SMTPUser,
			Pass:    cfg.SMTPPass,
			From:    cfg.SMTPFrom,
			TLSMode: cfg.SMTPTLSMode,
			BaseURL: cfg.AppBaseURL,
		}, log)
		if err != nil {
			log.Error("smtp config invalid", "error", err)
			os.Exit(1)
		}
	} else {
		if cfg.IsProduction() {
			log.Warn("SMTP_HOST not set in production, emails go to the log")
		}
		mailer = notify.NewLogMailer(cfg.AppBaseURL, log)
	}

	sessions := auth.NewSessionService(store, auth.SessionLimits{
		AbsoluteLifetime: cfg.SessionAbsoluteLifetime,
		MaxActive:        cfg.MaxActiveSessions,
		RejectWhenFull:   cfg.SessionLimitReject,
	}, auth.BruteForceWindows{
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutWindow:    cfg.LockoutWindow,
		CaptchaThreshold: cfg.CaptchaThreshold,
		CaptchaWindow:    cfg.CaptchaWindow,
	}, log)

	tokenSvc := auth.NewTokenService(store, revocationCache, log)

	mfaSvc := auth.NewMFAService(store, secretBox, failureLimiter, auditor, cfg.MFAIssuer, auth.MFALimits{
		FailThreshold: cfg.MFAFailThreshold,
		FailWindow:    cfg.MFAFailWindow,
	}, log)

	authSvc := auth.NewAuthService(auth.AuthConfig{
		AccessTokenTTL:       cfg.AccessTokenTTL,
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
		TestMode:             cfg.TestMode,
	}, store, verifier, tokens, tokenSvc, sessions, mfaSvc, captcha, auditor, log)

	resetSvc := auth.NewPasswordResetService(store, verifier, tokenSvc, sessions, mailer, failureLimiter, auditor, auth.ResetLimits{
		TokenTTL:   cfg.ResetTokenTTL,
		MaxPerHour: int64(cfg.ResetMaxPerHour),
	}, log)

	regSvc := auth.NewRegistrationService(store, verifier, mailer, auditor, cfg.VerifyTokenTTL, log)
	apiKeySvc := auth.NewAPIKeyService(store, auditor, log)

	server := api.NewServer(api.Deps{
		Stores:         store,
		Tokens:         tokens,
		Auth:           authSvc,
		Registration:   regSvc,
		Resets:         resetSvc,
		Sessions:       sessions,
		MFA:            mfaSvc,
		APIKeys:        apiKeySvc,
		AllowedOrigins: cfg.AllowedOrigins,
		ReadyCheck: func(ctx context.Context) error {
			return store.Pool().Ping(ctx)
		},
		Logger: log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server close failed", "error", err)
			}
		}
		log.Info("shutdown complete")
	}
}
