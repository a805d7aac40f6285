package service

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/api/dto"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// SubscriptionService is the command surface of the engine. Time driven
// transitions are left to the SubscriptionProcessor.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest, now time.Time) (*dto.SubscriptionResponse, error)
	GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	CreatePhase(ctx context.Context, req dto.CreatePhaseRequest, now time.Time) (*subscription.Phase, error)
	ListPhases(ctx context.Context, subscriptionID string) ([]*subscription.Phase, error)
	CancelSubscription(ctx context.Context, req dto.CancelSubscriptionRequest, now time.Time) (*dto.SubscriptionResponse, error)
}

type subscriptionService struct {
	ServiceParams
	entitlements *EntitlementSynchronizer
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
		entitlements:  NewEntitlementSynchronizer(params),
	}
}

var closedSubscriptionStatuses = []types.SubscriptionStatus{
	types.SubscriptionStatusPastDued,
	types.SubscriptionStatusCanceled,
	types.SubscriptionStatusExpired,
}

func isClosed(sub *subscription.Subscription) bool {
	return lo.Contains(closedSubscriptionStatuses, sub.Status)
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest, now time.Time) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub := req.ToSubscription(ctx, now)
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.CustomerRepo.Get(ctx, req.CustomerID); err != nil {
			return err
		}

		existing, err := s.SubRepo.GetByCustomerID(ctx, req.CustomerID)
		if err != nil && !ierr.IsNotFound(err) {
			return err
		}
		if existing != nil {
			return ierr.NewError("customer already has a subscription").
				WithHintf("Customer %s is already subscribed", req.CustomerID).
				WithReportableDetails(map[string]any{
					"customer_id":     req.CustomerID,
					"subscription_id": existing.ID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}

		if err := sub.Validate(); err != nil {
			return err
		}
		return s.SubRepo.Create(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription created",
		"subscription_id", sub.ID,
		"customer_id", sub.CustomerID,
	)
	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	phases, err := s.PhaseRepo.ListBySubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.SubscriptionResponse{Subscription: sub, Phases: phases}, nil
}

func (s *subscriptionService) ListPhases(ctx context.Context, subscriptionID string) ([]*subscription.Phase, error) {
	if _, err := s.SubRepo.Get(ctx, subscriptionID); err != nil {
		return nil, err
	}
	return s.PhaseRepo.ListBySubscription(ctx, subscriptionID)
}

// CreatePhase appends a phase to the subscription. The phase has to start
// right after the last active phase ends so that phases never overlap.
func (s *subscriptionService) CreatePhase(ctx context.Context, req dto.CreatePhaseRequest, now time.Time) (*subscription.Phase, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	release, err := s.Locker.TryLock(ctx, postgres.SubscriptionLockKey(req.SubscriptionID))
	if err != nil {
		if ierr.Is(err, ierr.ErrLockHeld) {
			s.Metrics.LockContended()
		}
		return nil, err
	}
	defer release()

	phase := req.ToPhase(ctx, now)
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.Get(ctx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if isClosed(sub) {
			return ierr.NewError("subscription is closed").
				WithHintf("Subscription %s is %s and takes no new phases", sub.ID, sub.Status).
				Mark(ierr.ErrInvalidOperation)
		}
		if sub.CancelAt != nil {
			return ierr.NewError("subscription is scheduled for cancellation").
				WithHint("A subscription scheduled for cancellation takes no new phases").
				MarkAll(ierr.ErrTerminationScheduled, ierr.ErrInvalidOperation)
		}

		phase.BaseModel.TenantID = sub.TenantID
		if err := phase.Validate(); err != nil {
			return err
		}

		details, err := s.PlanVersions.Get(ctx, phase.PlanVersionID)
		if err != nil {
			return err
		}
		items, err := s.buildItems(ctx, phase, details, req.Items, now)
		if err != nil {
			return err
		}

		if phase.EndAt != nil && phase.TrialDays > 0 {
			trialEnd := types.EndOf(phase.StartAt.AddDate(0, 0, phase.TrialDays))
			if !phase.EndAt.After(trialEnd) {
				return ierr.NewError("phase ends during its trial").
					WithHint("The phase end date must be after the end of the trial").
					WithReportableDetails(map[string]any{
						"trial_ends_at": trialEnd,
						"end_at":        *phase.EndAt,
					}).
					Mark(ierr.ErrValidation)
			}
		}

		phases, err := s.PhaseRepo.ListBySubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		last, err := s.checkContiguous(sub, phases, phase)
		if err != nil {
			return err
		}

		if details.Version.PaymentMethodRequired && phase.TrialDays == 0 {
			cust, err := s.CustomerRepo.Get(ctx, sub.CustomerID)
			if err != nil {
				return err
			}
			if _, err := s.resolvePaymentMethod(ctx, phase, cust); err != nil {
				return err
			}
		}

		if err := s.PhaseRepo.Create(ctx, phase); err != nil {
			return err
		}
		if err := s.ItemRepo.CreateBulk(ctx, items); err != nil {
			return err
		}

		// the current phase now hands over instead of expiring
		if last != nil && sub.IsCurrentPhase(last.ID) && sub.ExpireAt != nil {
			sub.ChangeAt, sub.ExpireAt = sub.ExpireAt, nil
			sub.UpdatedAt = now.UTC()
			if err := s.SubRepo.Update(ctx, sub); err != nil {
				return err
			}
		}

		return s.entitlements.Sync(ctx, SyncInput{
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			Now:            now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription phase created",
		"subscription_id", phase.SubscriptionID,
		"phase_id", phase.ID,
		"plan_version_id", phase.PlanVersionID,
		"start_at", phase.StartAt,
	)
	return phase, nil
}

func (s *subscriptionService) buildItems(ctx context.Context, phase *subscription.Phase, details *PlanVersionDetails, reqs []dto.CreatePhaseItemRequest, now time.Time) ([]*subscription.Item, error) {
	items := make([]*subscription.Item, 0, len(reqs))
	for _, r := range reqs {
		feature := details.Feature(r.FeaturePlanVersionID)
		if feature == nil {
			return nil, ierr.NewError("feature is not part of the plan version").
				WithHintf("Feature %s does not belong to plan version %s", r.FeaturePlanVersionID, phase.PlanVersionID).
				WithReportableDetails(map[string]any{
					"feature_plan_version_id": r.FeaturePlanVersionID,
					"plan_version_id":         phase.PlanVersionID,
				}).
				Mark(ierr.ErrValidation)
		}

		units := r.Units
		if feature.IsFlat() {
			if units == nil {
				units = feature.DefaultUnits
			}
			if units == nil {
				return nil, ierr.NewError("units are required").
					WithHintf("Flat feature %s needs a number of units", feature.FeatureSlug).
					Mark(ierr.ErrValidation)
			}
		} else {
			units = nil
		}

		items = append(items, &subscription.Item{
			ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION_ITEM),
			PhaseID:              phase.ID,
			FeaturePlanVersionID: feature.ID,
			Units:                units,
			BaseModel:            types.GetDefaultBaseModel(ctx, now),
		})
	}
	return items, nil
}

// checkContiguous returns the last active phase and fails when phase does
// not start right after it
func (s *subscriptionService) checkContiguous(sub *subscription.Subscription, phases []*subscription.Phase, phase *subscription.Phase) (*subscription.Phase, error) {
	active := lo.Filter(phases, func(p *subscription.Phase, _ int) bool {
		return p.Active
	})
	if len(active) == 0 {
		return nil, nil
	}

	last := active[len(active)-1]
	end := last.EndAt
	if sub.IsCurrentPhase(last.ID) && sub.ChangeAt != nil && (end == nil || sub.ChangeAt.Before(*end)) {
		end = sub.ChangeAt
	}
	if end == nil {
		return nil, ierr.NewError("last phase has no end date").
			WithHintf("Phase %s runs indefinitely, end it before adding another phase", last.ID).
			WithReportableDetails(map[string]any{"phase_id": last.ID}).
			MarkAll(ierr.ErrPhaseOverlap, ierr.ErrValidation)
	}

	if want := types.After(*end); !phase.StartAt.Equal(want) {
		return nil, ierr.NewError("phases must be contiguous").
			WithHintf("The phase has to start at %s, right after phase %s ends", want.Format(time.RFC3339Nano), last.ID).
			WithReportableDetails(map[string]any{
				"phase_id":      last.ID,
				"last_end_at":   *end,
				"start_at":      phase.StartAt,
				"required_from": want,
			}).
			MarkAll(ierr.ErrPhaseOverlap, ierr.ErrValidation)
	}

	for _, p := range active {
		if p.Overlaps(phase) {
			return nil, ierr.NewError("phases overlap").
				WithHintf("The phase overlaps phase %s", p.ID).
				WithReportableDetails(map[string]any{"phase_id": p.ID}).
				MarkAll(ierr.ErrPhaseOverlap, ierr.ErrValidation)
		}
	}
	return last, nil
}

// CancelSubscription cancels the current phase now or at req.EffectiveAt
func (s *subscriptionService) CancelSubscription(ctx context.Context, req dto.CancelSubscriptionRequest, now time.Time) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.SubRepo.Get(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if isClosed(sub) {
		return nil, ierr.NewError("subscription is closed").
			WithHintf("Subscription %s is already %s", sub.ID, sub.Status).
			Mark(ierr.ErrInvalidOperation)
	}

	phaseID, err := s.cancelablePhase(ctx, sub)
	if err != nil {
		return nil, err
	}

	machine, err := NewPhaseMachine(ctx, s.ServiceParams, sub.ID, phaseID)
	if err != nil {
		return nil, err
	}
	defer machine.Close()

	if _, err := machine.Handle(ctx, CancelCmd{
		Now:         now,
		EffectiveAt: lo.FromPtr(req.EffectiveAt),
		Metadata:    req.ToMetadata(),
	}); err != nil {
		return nil, err
	}

	return s.GetSubscription(ctx, sub.ID)
}

// cancelablePhase is the current phase, or the phase a pending subscription
// will start with
func (s *subscriptionService) cancelablePhase(ctx context.Context, sub *subscription.Subscription) (string, error) {
	if id := lo.FromPtr(sub.CurrentPhaseID); id != "" {
		return id, nil
	}

	phases, err := s.PhaseRepo.ListBySubscription(ctx, sub.ID)
	if err != nil {
		return "", err
	}
	first, ok := lo.Find(phases, func(p *subscription.Phase) bool {
		return p.Active && !p.Status.IsTerminal()
	})
	if !ok {
		return "", ierr.NewError("subscription has no phase to cancel").
			WithHintf("Subscription %s has no active phase", sub.ID).
			Mark(ierr.ErrInvalidOperation)
	}
	return first.ID, nil
}
