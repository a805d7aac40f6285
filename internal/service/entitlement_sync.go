package service

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/cache"
	"github.com/flexprice/lifecycle/internal/domain/entitlement"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

type SyncInput struct {
	SubscriptionID string
	CustomerID     string
	Now            time.Time
}

// EntitlementSynchronizer keeps the non custom entitlements of a customer in
// line with the items of the active phase. Entitlements are end dated, never
// deleted.
type EntitlementSynchronizer struct {
	ServiceParams
}

func NewEntitlementSynchronizer(params ServiceParams) *EntitlementSynchronizer {
	return &EntitlementSynchronizer{ServiceParams: params}
}

// Sync creates, updates and end dates entitlements so that exactly the items
// of the phase active at in.Now are granted. Entitlements are matched to
// items by subscription item id, so one that lost its item is ended rather
// than moved to another item.
func (s *EntitlementSynchronizer) Sync(ctx context.Context, in SyncInput) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.activeNonCustom(ctx, in)
		if err != nil {
			return err
		}

		phase, err := s.PhaseRepo.GetActiveAt(ctx, in.SubscriptionID, in.Now)
		if ierr.IsNotFound(err) {
			s.Logger.Debugw("no active phase, ending every subscription entitlement",
				"subscription_id", in.SubscriptionID,
				"customer_id", in.CustomerID,
				"at", in.Now,
				"count", len(current),
			)
			for _, e := range current {
				if err := s.endDate(ctx, e, in.Now); err != nil {
					return err
				}
			}
			s.invalidate(ctx, in.CustomerID)
			return nil
		}
		if err != nil {
			return err
		}

		details, err := s.PlanVersions.Get(ctx, phase.PlanVersionID)
		if err != nil {
			return err
		}
		features := details.FeaturesByID()

		items, err := s.ItemRepo.ListByPhase(ctx, phase.ID)
		if err != nil {
			return err
		}
		byItem := lo.KeyBy(current, func(e *entitlement.Entitlement) string {
			return e.ItemID()
		})

		wanted := make(map[string]struct{}, len(items))
		for _, item := range items {
			feature, ok := features[item.FeaturePlanVersionID]
			if !ok {
				return ierr.NewError("subscription item has no feature").
					WithHintf("Feature %s is not part of the plan version", item.FeaturePlanVersionID).
					Mark(ierr.ErrInvariant)
			}
			wanted[item.ID] = struct{}{}

			existing, ok := byItem[item.ID]
			if !ok {
				e := &entitlement.Entitlement{
					ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT),
					CustomerID:           in.CustomerID,
					SubscriptionItemID:   lo.ToPtr(item.ID),
					FeaturePlanVersionID: feature.ID,
					FeatureSlug:          feature.FeatureSlug,
					FeatureType:          feature.FeatureType,
					Limit:                feature.Limit,
					Units:                item.Units,
					StartAt:              phase.StartAt,
					EndAt:                phase.EndAt,
					BaseModel:            types.GetDefaultBaseModel(ctx, in.Now),
				}
				if err := s.EntitlementRepo.Create(ctx, e); err != nil {
					return err
				}
				continue
			}

			if sameInt64(existing.Units, item.Units) && sameTime(existing.EndAt, phase.EndAt) {
				continue
			}
			existing.Units = item.Units
			existing.EndAt = phase.EndAt
			existing.UpdatedAt = in.Now.UTC()
			if err := s.EntitlementRepo.Update(ctx, existing); err != nil {
				return err
			}
		}

		// the item is gone, its entitlement keeps its usage history and ends now
		for itemID, e := range byItem {
			if _, ok := wanted[itemID]; ok {
				continue
			}
			if err := s.endDate(ctx, e, in.Now); err != nil {
				return err
			}
		}

		s.invalidate(ctx, in.CustomerID)
		return nil
	})
}

// activeNonCustom lists the entitlements of the customer that follow a
// subscription item and are usable at in.Now
func (s *EntitlementSynchronizer) activeNonCustom(ctx context.Context, in SyncInput) ([]*entitlement.Entitlement, error) {
	current, err := s.EntitlementRepo.ListActiveByCustomer(ctx, in.CustomerID, in.Now)
	if err != nil {
		return nil, err
	}
	return lo.Filter(current, func(e *entitlement.Entitlement, _ int) bool {
		return !e.IsCustom && e.ItemID() != ""
	}), nil
}

// EndDateForPhase ends every entitlement granted by the items of phaseID at at
func (s *EntitlementSynchronizer) EndDateForPhase(ctx context.Context, phaseID string, at time.Time) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		items, err := s.ItemRepo.ListByPhase(ctx, phaseID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		entitlements, err := s.EntitlementRepo.ListBySubscriptionItems(ctx, lo.Map(items, func(item *subscription.Item, _ int) string {
			return item.ID
		}))
		if err != nil {
			return err
		}

		customers := make(map[string]struct{})
		for _, e := range entitlements {
			if err := s.endDate(ctx, e, at); err != nil {
				return err
			}
			customers[e.CustomerID] = struct{}{}
		}
		for customerID := range customers {
			s.invalidate(ctx, customerID)
		}
		return nil
	})
}

func (s *EntitlementSynchronizer) endDate(ctx context.Context, e *entitlement.Entitlement, at time.Time) error {
	if e.EndAt != nil && !e.EndAt.After(at) {
		return nil
	}
	e.EndAt = lo.ToPtr(at)
	e.UpdatedAt = at.UTC()
	return s.EntitlementRepo.Update(ctx, e)
}

// invalidate drops the cached entitlements of the customer once the
// transaction commits
func (s *EntitlementSynchronizer) invalidate(ctx context.Context, customerID string) {
	if s.Cache == nil {
		return
	}
	key := cache.GenerateKey(cache.PrefixEntitlement, types.GetTenantID(ctx), customerID)
	s.DB.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.Cache.Delete(ctx, key); err != nil {
			s.Logger.Warnw("failed to invalidate entitlement cache", "key", key, "error", err)
		}
	})
}

func sameInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
