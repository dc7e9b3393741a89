package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// RevocationCache is the volatile fast path in front of the blacklist table.
// Implemented by redisstore; a nil cache means every check goes to Postgres.
// Cache errors never bypass the database truth.
type RevocationCache interface {
	CacheRevocation(ctx context.Context, jti uuid.UUID, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti uuid.UUID) (bool, error)
}

// TokenService owns the persisted side of refresh tokens: issuance,
// verification, rotation and revocation. The JWT material itself comes from
// a TokenProvider; this service never sees signing keys.
type TokenService struct {
	stores storage.Bundle
	cache  RevocationCache
	logger *slog.Logger
}

func NewTokenService(stores storage.Bundle, cache RevocationCache, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{stores: stores, cache: cache, logger: logger}
}

// IssueParams describes a freshly signed refresh token to persist.
type IssueParams struct {
	JTI       uuid.UUID
	SessionID uuid.UUID
	UserID    uuid.UUID
	TenantID  int64
	RawToken  string
	// ExpiresAt is the JWT's own expiry; AbsoluteExpiry is the parent
	// session's ceiling. The stored expiry is the earlier of the two.
	ExpiresAt      time.Time
	AbsoluteExpiry time.Time
}

// Issue persists the hashed form of a new refresh token.
func (s *TokenService) Issue(ctx context.Context, p IssueParams) (*model.RefreshToken, error) {
	if p.SessionID == uuid.Nil || p.RawToken == "" {
		return nil, apperr.Validation("token issuance requires a session and a raw token")
	}
	if !time.Now().Before(p.AbsoluteExpiry) {
		return nil, apperr.SessionAbsolutelyExpired()
	}

	expiresAt := p.ExpiresAt
	if expiresAt.After(p.AbsoluteExpiry) {
		expiresAt = p.AbsoluteExpiry
	}

	token := &model.RefreshToken{
		JTI:       p.JTI,
		SessionID: p.SessionID,
		UserID:    p.UserID,
		TenantID:  p.TenantID,
		TokenHash: HashToken(p.RawToken),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.stores.RefreshTokens().Create(ctx, token); err != nil {
		return nil, apperr.Internal(fmt.Errorf("storing refresh token: %w", err))
	}
	return token, nil
}

// Verify checks a presented raw token against its stored record. An unknown,
// expired or hash-mismatched token is uniformly invalid; a consumed one is
// classified as replay so the caller can escalate.
func (s *TokenService) Verify(ctx context.Context, jti uuid.UUID, raw string) (*model.RefreshToken, error) {
	token, err := s.stores.RefreshTokens().GetByJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.TokenInvalid()
		}
		return nil, apperr.Internal(fmt.Errorf("loading refresh token: %w", err))
	}

	if token.IsUsed() {
		return nil, apperr.TokenReplayDetected()
	}
	if token.IsExpired(time.Now()) {
		return nil, apperr.TokenInvalid()
	}
	if !SecureCompareTokens(HashToken(raw), token.TokenHash) {
		return nil, apperr.TokenInvalid()
	}

	return token, nil
}

// RotateParams carries the consumed token and its signed replacement.
type RotateParams struct {
	Old            *model.RefreshToken
	NewJTI         uuid.UUID
	NewRawToken    string
	NewExpiresAt   time.Time
	AbsoluteExpiry time.Time
}

// Rotate consumes the old token and persists the new one atomically. The
// mark-used transition is a one-shot predicate on used_at, so when two
// requests race on the same token exactly one wins; the loser gets the
// replay classification.
func (s *TokenService) Rotate(ctx context.Context, p RotateParams) (*model.RefreshToken, error) {
	now := time.Now().UTC()

	expiresAt := p.NewExpiresAt
	if expiresAt.After(p.AbsoluteExpiry) {
		expiresAt = p.AbsoluteExpiry
	}
	newToken := &model.RefreshToken{
		JTI:       p.NewJTI,
		SessionID: p.Old.SessionID,
		UserID:    p.Old.UserID,
		TenantID:  p.Old.TenantID,
		TokenHash: HashToken(p.NewRawToken),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}

	err := s.stores.WithTx(ctx, func(b storage.Bundle) error {
		won, err := b.RefreshTokens().MarkUsed(ctx, p.Old.JTI, now, &p.NewJTI)
		if err != nil {
			return fmt.Errorf("consuming refresh token: %w", err)
		}
		if !won {
			return apperr.TokenReplayDetected()
		}
		if err := b.RefreshTokens().Create(ctx, newToken); err != nil {
			return fmt.Errorf("storing rotated token: %w", err)
		}
		return nil
	})
	if err != nil {
		if apperr.IsCode(err, apperr.CodeTokenReplayDetected) {
			return nil, apperr.TokenReplayDetected()
		}
		return nil, apperr.Internal(err)
	}

	return newToken, nil
}

// Revoke blacklists one token and consumes its record so it can neither pass
// verification nor rotate. Revoking an already-revoked token is a no-op.
func (s *TokenService) Revoke(ctx context.Context, jti uuid.UUID) error {
	now := time.Now().UTC()

	token, err := s.stores.RefreshTokens().GetByJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Nothing stored under this jti; blacklisting is still worthwhile
			// in case a signed token with it exists somewhere.
			return s.blacklist(ctx, jti, now.Add(24*time.Hour))
		}
		return apperr.Internal(fmt.Errorf("loading refresh token: %w", err))
	}

	if _, err := s.stores.RefreshTokens().MarkUsed(ctx, jti, now, nil); err != nil {
		return apperr.Internal(fmt.Errorf("consuming refresh token: %w", err))
	}
	return s.blacklist(ctx, jti, token.ExpiresAt)
}

// RevokeAllForUser burns every live refresh token of the user and blacklists
// them. Used on replay detection and password reset.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	now := time.Now().UTC()

	affected, err := s.stores.RefreshTokens().MarkAllUsedForUser(ctx, userID, now)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("consuming refresh tokens: %w", err))
	}
	for i := range affected {
		if err := s.blacklist(ctx, affected[i].JTI, affected[i].ExpiresAt); err != nil {
			return 0, err
		}
	}
	return int64(len(affected)), nil
}

// IsRevoked answers the refresh fast path: volatile cache first, blacklist
// table second, and finally "no stored record means nothing to honor". It
// deliberately does not look at used_at; consumed tokens are classified by
// Verify so replay detection can fire.
func (s *TokenService) IsRevoked(ctx context.Context, jti uuid.UUID) (bool, error) {
	if s.cache != nil {
		hit, err := s.cache.IsRevoked(ctx, jti)
		if err != nil {
			s.logger.WarnContext(ctx, "revocation cache unavailable, using database", "error", err)
		} else if hit {
			return true, nil
		}
	}

	revoked, err := s.stores.RevokedTokens().IsRevoked(ctx, jti)
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("checking blacklist: %w", err))
	}
	if revoked {
		s.cacheRevocation(ctx, jti, time.Hour)
		return true, nil
	}

	_, err = s.stores.RefreshTokens().GetByJTI(ctx, jti)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("loading refresh token: %w", err))
	}
	return false, nil
}

func (s *TokenService) blacklist(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error {
	if err := s.stores.RevokedTokens().Add(ctx, jti, expiresAt); err != nil {
		return apperr.Internal(fmt.Errorf("blacklisting token: %w", err))
	}
	s.cacheRevocation(ctx, jti, time.Until(expiresAt))
	return nil
}

func (s *TokenService) cacheRevocation(ctx context.Context, jti uuid.UUID, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	if err := s.cache.CacheRevocation(ctx, jti, ttl); err != nil {
		s.logger.WarnContext(ctx, "failed to cache revocation", "jti", jti, "error", err)
	}
}
