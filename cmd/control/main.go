// Command control is the operator CLI: tenant and user bootstrap, emergency
// password resets and token revocation. It talks to the database directly
// with the same stores the API uses, so every write carries the same
// invariants (normalized email, Argon2id hashes, hashed tokens).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/comptoirhq/identity/internal/auth"
	"github.com/comptoirhq/identity/internal/config"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
	"github.com/comptoirhq/identity/internal/storage/postgres"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	switch os.Args[1] {
	case "create-tenant":
		createTenantCmd(os.Args[2:])
	case "create-user":
		createUserCmd(os.Args[2:])
	case "reset-password":
		resetPasswordCmd(os.Args[2:])
	case "revoke-user-tokens":
		revokeUserTokensCmd(os.Args[2:])
	case "purge":
		purgeCmd(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: control <command> [flags]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  create-tenant       Register a new tenant")
	fmt.Fprintln(os.Stderr, "  create-user         Create a user inside a tenant")
	fmt.Fprintln(os.Stderr, "  reset-password      Set a user's password and burn their tokens")
	fmt.Fprintln(os.Stderr, "  revoke-user-tokens  Terminate all sessions and refresh tokens of a user")
	fmt.Fprintln(os.Stderr, "  purge               One-shot cleanup of expired rows")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// connect loads config and opens the store. Every subcommand needs both.
func connect(ctx context.Context) (*config.Config, storage.Bundle) {
	cfg, err := config.Load()
	if err != nil {
		fatal("config: %v", err)
	}
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("postgres connect failed: %v", err)
	}
	return cfg, store
}

func createTenantCmd(args []string) {
	fs := flag.NewFlagSet("create-tenant", flag.ExitOnError)
	name := fs.String("name", "", "tenant display name")
	fs.Parse(args)

	if *name == "" {
		fatal("--name is required")
	}

	ctx := context.Background()
	_, store := connect(ctx)

	tenant := &model.Tenant{Name: *name, IsActive: true}
	if err := store.Tenants().Create(ctx, tenant); err != nil {
		fatal("creating tenant: %v", err)
	}

	fmt.Printf("tenant created\n  id:   %d\n  name: %s\n", tenant.ID, tenant.Name)
	fmt.Printf("clients send this id in the X-Tenant-ID header\n")
}

func createUserCmd(args []string) {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	tenantID := fs.Int64("tenant", 0, "tenant id")
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "initial password")
	superuser := fs.Bool("superuser", false, "grant superuser")
	fs.Parse(args)

	if *tenantID == 0 || *email == "" || *password == "" {
		fatal("--tenant, --email and --password are required")
	}

	ctx := context.Background()
	_, store := connect(ctx)

	if _, err := store.Tenants().GetByID(ctx, *tenantID); err != nil {
		fatal("tenant %d: %v", *tenantID, err)
	}

	hasher := auth.NewArgon2Hasher(auth.DefaultArgon2Params())
	hash, err := hasher.Hash(*password)
	if err != nil {
		fatal("hashing password: %v", err)
	}

	// Operator-created accounts skip the email verification loop.
	user := &model.User{
		Email:        model.NormalizeEmail(*email),
		PasswordHash: hash,
		IsVerified:   true,
		IsActive:     true,
		IsSuperuser:  *superuser,
	}
	if err := store.Users(*tenantID).Create(ctx, user); err != nil {
		fatal("creating user: %v", err)
	}

	fmt.Printf("user created\n  id:     %s\n  email:  %s\n  tenant: %d\n", user.ID, user.Email, *tenantID)
	if *superuser {
		fmt.Println("  superuser: yes")
	}
}

func resetPasswordCmd(args []string) {
	fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
	tenantID := fs.Int64("tenant", 0, "tenant id")
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "new password")
	fs.Parse(args)

	if *tenantID == 0 || *email == "" || *password == "" {
		fatal("--tenant, --email and --password are required")
	}

	ctx := context.Background()
	_, store := connect(ctx)

	user, err := store.Users(*tenantID).GetByEmail(ctx, *email)
	if err != nil {
		fatal("looking up user: %v", err)
	}

	hasher := auth.NewArgon2Hasher(auth.DefaultArgon2Params())
	hash, err := hasher.Hash(*password)
	if err != nil {
		fatal("hashing password: %v", err)
	}

	now := time.Now().UTC()
	if err := store.Users(*tenantID).UpdatePasswordHash(ctx, user.ID, hash, now); err != nil {
		fatal("updating password: %v", err)
	}

	// An operator reset means the old credential is no longer trusted, so
	// everything minted under it dies too.
	sessions, tokens := burnUser(ctx, store, user.ID)
	fmt.Printf("password reset for %s\n  sessions terminated: %d\n  refresh tokens revoked: %d\n",
		user.Email, sessions, tokens)
}

func revokeUserTokensCmd(args []string) {
	fs := flag.NewFlagSet("revoke-user-tokens", flag.ExitOnError)
	tenantID := fs.Int64("tenant", 0, "tenant id")
	email := fs.String("email", "", "user email")
	fs.Parse(args)

	if *tenantID == 0 || *email == "" {
		fatal("--tenant and --email are required")
	}

	ctx := context.Background()
	_, store := connect(ctx)

	user, err := store.Users(*tenantID).GetByEmail(ctx, *email)
	if err != nil {
		fatal("looking up user: %v", err)
	}

	sessions, tokens := burnUser(ctx, store, user.ID)
	fmt.Printf("revoked for %s\n  sessions terminated: %d\n  refresh tokens revoked: %d\n",
		user.Email, sessions, tokens)
}

// burnUser terminates every session and refresh token of the user. The
// token service also writes the jtis to the blacklist so outstanding JWTs
// die before their natural expiry.
func burnUser(ctx context.Context, store storage.Bundle, userID uuid.UUID) (sessions, tokens int64) {
	now := time.Now().UTC()

	sessions, err := store.Sessions().RevokeAllForUser(ctx, userID, nil, now)
	if err != nil {
		fatal("terminating sessions: %v", err)
	}

	tokenSvc := auth.NewTokenService(store, nil, nil)
	tokens, err = tokenSvc.RevokeAllForUser(ctx, userID)
	if err != nil {
		fatal("revoking refresh tokens: %v", err)
	}
	return sessions, tokens
}

func purgeCmd(args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	fs.Parse(args)

	ctx := context.Background()
	_, store := connect(ctx)
	now := time.Now().UTC()

	run := func(table string, fn func() (int64, error)) {
		n, err := fn()
		if err != nil {
			fatal("purging %s: %v", table, err)
		}
		fmt.Printf("  %-26s %d\n", table, n)
	}

	fmt.Println("purged:")
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
		return store.Sessions().DeleteExpiredBefore(ctx, now)
	})
}
