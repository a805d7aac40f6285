package service

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/api/dto"
	"github.com/flexprice/lifecycle/internal/cache"
	"github.com/flexprice/lifecycle/internal/domain/entitlement"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// EntitlementService answers what a customer may use right now
type EntitlementService interface {
	GetCustomerEntitlements(ctx context.Context, customerID string, now time.Time) (*dto.CustomerEntitlementsResponse, error)
}

type entitlementService struct {
	ServiceParams
	swr *cache.SWR[[]*entitlement.Entitlement]
}

func NewEntitlementService(params ServiceParams) EntitlementService {
	return &entitlementService{
		ServiceParams: params,
		swr:           cache.NewSWR[[]*entitlement.Entitlement](params.Cache, cache.PrefixEntitlement, params.Config.Cache, params.Logger),
	}
}

// GetCustomerEntitlements serves the cached entitlements of the customer and
// keeps the ones active at now. The cache entry is dropped whenever a sync
// changes them.
func (s *entitlementService) GetCustomerEntitlements(ctx context.Context, customerID string, now time.Time) (*dto.CustomerEntitlementsResponse, error) {
	if _, err := s.CustomerRepo.Get(ctx, customerID); err != nil {
		return nil, err
	}

	id := cache.GenerateKey("", types.GetTenantID(ctx), customerID)
	all, err := s.swr.Get(postgres.WithoutTx(ctx), id, func(ctx context.Context) ([]*entitlement.Entitlement, error) {
		return s.EntitlementRepo.ListActiveByCustomer(ctx, customerID, now)
	})
	if err != nil {
		return nil, err
	}

	return &dto.CustomerEntitlementsResponse{
		CustomerID: customerID,
		At:         now,
		Entitlements: lo.Filter(all, func(e *entitlement.Entitlement, _ int) bool {
			return e.ActiveAt(now)
		}),
	}, nil
}
