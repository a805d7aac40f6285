package dto

import (
	"time"

	"github.com/flexprice/lifecycle/internal/domain/entitlement"
)

type CustomerEntitlementsResponse struct {
	CustomerID   string                     `json:"customer_id"`
	At           time.Time                  `json:"at"`
	Entitlements []*entitlement.Entitlement `json:"entitlements"`
}
