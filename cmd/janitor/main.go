package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/comptoirhq/identity/internal/config"
	"github.com/comptoirhq/identity/internal/storage"
	"github.com/comptoirhq/identity/internal/storage/postgres"
	"github.com/comptoirhq/identity/pkg/logger"
)

const (
	sweepInterval = 1 * time.Hour

	// Expired rows linger for a while before deletion so that incident
	// review can still see them.
	sessionRetention      = 30 * 24 * time.Hour
	loginAttemptRetention = 7 * 24 * time.Hour
	auditRetention        = 90 * 24 * time.Hour
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.Setup(cfg.Environment)

	store, err := postgres.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	log.Info("janitor started", "interval", sweepInterval.String())

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// First sweep runs immediately so a fresh deploy cleans up right away.
	sweep(context.Background(), store, log)

	for {
		select {
		case <-ticker.C:
			sweep(context.Background(), store, log)
		case <-quit:
			log.Info("janitor shutting down")
			return
		}
	}
}

func sweep(ctx context.Context, store storage.Bundle, log *slog.Logger) {
	log.Info("cleanup cycle started")
	now := time.Now().UTC()

	run := func(table string, fn func() (int64, error)) {
		n, err := fn()
		if err != nil {
			log.Error("cleanup failed", "table", table, "error", err)
			return
		}
		if n > 0 {
			log.Info("cleaned", "table", table, "deleted", n)
		}
	}

	run("refresh_tokens", func() (int64, error) {
		return store.RefreshTokens().DeleteExpiredBefore(ctx, now)
	})
	run("revoked_tokens", func() (int64, error) {
		return store.RevokedTokens().PurgeExpired(ctx, now)
	})
	run("password_reset_tokens", func() (int64, error) {
		return store.PasswordResets().DeleteExpiredBefore(ctx, now)
	})
	run("email_verification_tokens", func() (int64, error) {
		return store.EmailVerifications().DeleteExpiredBefore(ctx, now)
	})
	run("sessions", func() (int64, error) {
		return store.Sessions().DeleteExpiredBefore(ctx, now.Add(-sessionRetention))
	})
	run("login_attempts", func() (int64, error) {
		return store.LoginAttempts().DeleteBefore(ctx, now.Add(-loginAttemptRetention))
	})
	run("audit_log", func() (int64, error) {
		return store.Audit().DeleteNonSensitiveBefore(ctx, now.Add(-auditRetention))
	})
}
