package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

const (
	apiKeyPrefix    = "ck_"
	apiKeyBytes     = 32
	apiKeyPrefixLen = 12
)

// APIKeyService manages tenant-scoped machine credentials. Raw keys exist
// only in the Create return value; everything else works on the hash.
type APIKeyService struct {
	stores  storage.Bundle
	auditor audit.Recorder
	logger  *slog.Logger
}

func NewAPIKeyService(stores storage.Bundle, auditor audit.Recorder, logger *slog.Logger) *APIKeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyService{stores: stores, auditor: auditor, logger: logger}
}

// CreateAPIKeyInput names a new key. Nil Scopes grants all permissions; a
// non-nil set must stay within the recognized vocabulary.
type CreateAPIKeyInput struct {
	TenantID  int64
	Name      string
	Scopes    []string
	ExpiresAt *time.Time

	ActorID   uuid.UUID
	IP        string
	UserAgent string
}

// CreatedAPIKey pairs the stored record with the raw key. The raw key is
// shown once and cannot be recovered afterwards.
type CreatedAPIKey struct {
	Key    *model.APIKey
	RawKey string
}

// Create mints a key of the form ck_<64 hex chars>, stores its SHA-256 and a
// short prefix for listings, and hands the raw key back exactly once.
func (s *APIKeyService) Create(ctx context.Context, input CreateAPIKeyInput) (*CreatedAPIKey, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperr.Validation("api key name is required")
	}
	for _, scope := range input.Scopes {
		if !knownScope(scope) {
			return nil, apperr.Validation(fmt.Sprintf("unknown scope %q", scope))
		}
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return nil, apperr.Validation("expiry must be in the future")
	}

	secret, err := GenerateHexToken(apiKeyBytes)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	raw := apiKeyPrefix + secret

	key := &model.APIKey{
		ID:        uuid.New(),
		TenantID:  input.TenantID,
		Name:      strings.TrimSpace(input.Name),
		KeyHash:   HashToken(raw),
		Prefix:    raw[:apiKeyPrefixLen],
		Scopes:    input.Scopes,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: input.ExpiresAt,
	}
	if err := s.stores.APIKeys(input.TenantID).Create(ctx, key); err != nil {
		return nil, apperr.Internal(fmt.Errorf("storing api key: %w", err))
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  input.TenantID,
		ActorID:   input.ActorID,
		Action:    audit.ActionAPIKeyCreated,
		Success:   true,
		IP:        input.IP,
		UserAgent: input.UserAgent,
		Details:   map[string]any{"key_id": key.ID.String(), "name": key.Name, "prefix": key.Prefix},
	}); err != nil {
		return nil, apperr.Internal(err)
	}

	return &CreatedAPIKey{Key: key, RawKey: raw}, nil
}

func knownScope(scope string) bool {
	for _, known := range model.KnownScopes() {
		if scope == known {
			return true
		}
	}
	return false
}

// Validate resolves a presented raw key to its record. The lookup crosses
// tenants because the key itself names the tenant; every failure is the
// uniform invalid-token error.
func (s *APIKeyService) Validate(ctx context.Context, rawKey string) (*model.APIKey, error) {
	if !strings.HasPrefix(rawKey, apiKeyPrefix) {
		return nil, apperr.TokenInvalid()
	}

	key, err := s.stores.APIKeyDirectory().GetByHash(ctx, HashToken(rawKey))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.TokenInvalid()
		}
		return nil, apperr.Internal(fmt.Errorf("loading api key: %w", err))
	}
	if !key.IsValid(time.Now()) {
		return nil, apperr.TokenInvalid()
	}

	if err := s.stores.APIKeys(key.TenantID).TouchLastUsed(ctx, key.ID, time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to touch api key", "key_id", key.ID, "error", err)
	}

	return key, nil
}

// Get loads one key within the tenant.
func (s *APIKeyService) Get(ctx context.Context, tenantID int64, id uuid.UUID) (*model.APIKey, error) {
	key, err := s.stores.APIKeys(tenantID).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("api key")
		}
		return nil, apperr.Internal(fmt.Errorf("loading api key: %w", err))
	}
	return key, nil
}

// List returns every key of the tenant, revoked ones included.
func (s *APIKeyService) List(ctx context.Context, tenantID int64) ([]model.APIKey, error) {
	keys, err := s.stores.APIKeys(tenantID).List(ctx)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("listing api keys: %w", err))
	}
	return keys, nil
}

// Paginate returns one page of the tenant's keys.
func (s *APIKeyService) Paginate(ctx context.Context, tenantID int64, page storage.Page) ([]model.APIKey, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	keys, err := s.stores.APIKeys(tenantID).Paginate(ctx, page)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("listing api keys: %w", err))
	}
	return keys, nil
}

// Revoke disables a key. A key outside the tenant is not found; revoking an
// already-revoked key succeeds without writing anything.
func (s *APIKeyService) Revoke(ctx context.Context, tenantID int64, id uuid.UUID, actorID uuid.UUID, ip, userAgent string) error {
	key, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if key.RevokedAt != nil {
		return nil
	}

	if _, err := s.stores.APIKeys(tenantID).Revoke(ctx, id, time.Now().UTC()); err != nil {
		return apperr.Internal(fmt.Errorf("revoking api key: %w", err))
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  tenantID,
		ActorID:   actorID,
		Action:    audit.ActionAPIKeyRevoked,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
		Details:   map[string]any{"key_id": id.String(), "name": key.Name},
	}); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
