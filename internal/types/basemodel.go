package types

import (
	"context"
	"time"
)

// BaseModel is embedded by every persisted domain model
// Any changes to this model should be reflected in the migrations
type BaseModel struct {
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// GetDefaultBaseModel stamps the tenant from ctx and the given write time
func GetDefaultBaseModel(ctx context.Context, now time.Time) BaseModel {
	return BaseModel{
		TenantID:  GetTenantID(ctx),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}
