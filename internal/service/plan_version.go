package service

import (
	"context"

	"github.com/flexprice/lifecycle/internal/cache"
	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// PlanVersionDetails is a plan version together with its priced features
type PlanVersionDetails struct {
	Version  *plan.PlanVersion          `json:"version"`
	Features []*plan.FeaturePlanVersion `json:"features"`
}

// Feature returns the feature with id, nil when the version has none
func (d *PlanVersionDetails) Feature(id string) *plan.FeaturePlanVersion {
	f, _ := lo.Find(d.Features, func(f *plan.FeaturePlanVersion) bool {
		return f.ID == id
	})
	return f
}

// FeaturesByID indexes the features by id
func (d *PlanVersionDetails) FeaturesByID() map[string]*plan.FeaturePlanVersion {
	return lo.KeyBy(d.Features, func(f *plan.FeaturePlanVersion) string {
		return f.ID
	})
}

// PlanVersionReader serves plan versions through the stale-while-revalidate
// cache. Published versions never change so a stale read is always correct.
type PlanVersionReader struct {
	repo plan.Repository
	swr  *cache.SWR[*PlanVersionDetails]
}

func NewPlanVersionReader(repo plan.Repository, c cache.Cache, cfg *config.Configuration, log *logger.Logger) *PlanVersionReader {
	return &PlanVersionReader{
		repo: repo,
		swr:  cache.NewSWR[*PlanVersionDetails](c, cache.PrefixPlanVersion, cfg.Cache, log),
	}
}

// Get reads outside any transaction in ctx since a stale entry may be
// refreshed after that transaction is gone
func (r *PlanVersionReader) Get(ctx context.Context, id string) (*PlanVersionDetails, error) {
	ctx = postgres.WithoutTx(ctx)
	key := cache.GenerateKey("", types.GetTenantID(ctx), id)
	return r.swr.Get(ctx, key, func(ctx context.Context) (*PlanVersionDetails, error) {
		version, err := r.repo.GetVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		features, err := r.repo.ListFeatures(ctx, id)
		if err != nil {
			return nil, err
		}
		return &PlanVersionDetails{Version: version, Features: features}, nil
	})
}
