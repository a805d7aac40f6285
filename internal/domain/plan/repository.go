package plan

import "context"

// Repository reads plan versions and their features
type Repository interface {
	GetVersion(ctx context.Context, id string) (*PlanVersion, error)
	ListFeatures(ctx context.Context, planVersionID string) ([]*FeaturePlanVersion, error)
}
