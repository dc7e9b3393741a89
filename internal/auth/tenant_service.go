package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// TenantService provisions and inspects tenants. Only the operator CLI and
// internal tooling reach it; tenants are never created through the public API.
type TenantService struct {
	stores storage.Bundle
	logger *slog.Logger
}

func NewTenantService(stores storage.Bundle, logger *slog.Logger) *TenantService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{stores: stores, logger: logger}
}

// Create provisions an active tenant.
func (s *TenantService) Create(ctx context.Context, name string) (*model.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("tenant name is required")
	}
	tenant := &model.Tenant{Name: name, IsActive: true}
	if err := s.stores.Tenants().Create(ctx, tenant); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Validation("tenant name already taken")
		}
		return nil, apperr.Internal(fmt.Errorf("creating tenant: %w", err))
	}
	s.logger.InfoContext(ctx, "tenant created", "tenant_id", tenant.ID, "name", tenant.Name)
	return tenant, nil
}

// Get loads one tenant.
func (s *TenantService) Get(ctx context.Context, id int64) (*model.Tenant, error) {
	tenant, err := s.stores.Tenants().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("tenant")
		}
		return nil, apperr.Internal(fmt.Errorf("loading tenant: %w", err))
	}
	return tenant, nil
}

// List returns all tenants in creation order.
func (s *TenantService) List(ctx context.Context) ([]model.Tenant, error) {
	tenants, err := s.stores.Tenants().List(ctx)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("listing tenants: %w", err))
	}
	return tenants, nil
}
