package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
)

// Token type claim values. A token presented where another type is expected
// is rejected outright, whatever its signature says.
const (
	TokenTypeAccess     = "access"
	TokenTypeRefresh    = "refresh"
	TokenTypeMFASession = "mfa_session"
)

const tokenIssuer = "comptoir-identity"

// Common errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("wrong token type")
)

// TokenProvider defines the contract for generating and validating tokens.
type TokenProvider interface {
	GenerateAccessToken(u *model.User) (string, time.Time, error)
	GenerateRefreshToken(u *model.User, jti uuid.UUID) (string, time.Time, error)
	GenerateMFASessionToken(u *model.User) (string, error)
	// ValidateToken parses, verifies and enforces the expected type claim.
	ValidateToken(tokenString, wantType string) (*Claims, error)
}

// Claims defines the custom JWT claims. UserID shadows the registered "sub"
// claim so it round-trips as a typed UUID.
type Claims struct {
	UserID    uuid.UUID `json:"sub"`
	TenantID  int64     `json:"tenant_id"`
	Email     string    `json:"email,omitempty"`
	TokenType string    `json:"type"`
	jwt.RegisteredClaims
}

// JTI returns the parsed token id, or uuid.Nil when the claim is absent or
// malformed.
func (c *Claims) JTI() uuid.UUID {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// JWTProvider implements TokenProvider using HMAC-SHA256 (HS256). Signing and
// verification share one symmetric secret, which suits a service that is the
// only issuer and only verifier of its tokens.
type JWTProvider struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	mfaTTL     time.Duration
}

// NewJWTProvider creates a new token provider. The secret must be at least 32
// bytes; config.Load enforces that before this runs.
func NewJWTProvider(secret string, accessTTL, refreshTTL, mfaTTL time.Duration) *JWTProvider {
	return &JWTProvider{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		mfaTTL:     mfaTTL,
	}
}

var _ TokenProvider = (*JWTProvider)(nil)

// GenerateAccessToken creates a signed short-lived JWT for the user.
func (p *JWTProvider) GenerateAccessToken(u *model.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(p.accessTTL)

	claims := Claims{
		UserID:    u.ID,
		TenantID:  u.TenantID,
		Email:     u.Email,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now.Add(-1 * time.Minute)), // Fix clock skew
			NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			Issuer:    tokenIssuer,
		},
	}

	signed, err := p.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// GenerateRefreshToken creates the long-lived rotation credential. The jti is
// supplied by the caller because the stored token row is keyed on it.
func (p *JWTProvider) GenerateRefreshToken(u *model.User, jti uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(p.refreshTTL)

	claims := Claims{
		UserID:    u.ID,
		TenantID:  u.TenantID,
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			Issuer:    tokenIssuer,
		},
	}

	signed, err := p.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// GenerateMFASessionToken creates the short-lived intermediate token handed
// out after a correct password when MFA is still pending. It proves nothing
// but the right to attempt the second factor.
func (p *JWTProvider) GenerateMFASessionToken(u *model.User) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:    u.ID,
		TenantID:  u.TenantID,
		TokenType: TokenTypeMFASession,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.mfaTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	return p.sign(claims)
}

func (p *JWTProvider) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies the JWT, then checks the type claim
// against wantType. Expired tokens report ErrExpiredToken; every other
// problem, including a type mismatch, is indistinguishable from garbage.
func (p *JWTProvider) ValidateToken(tokenString, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongTokenType
	}
	if claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
