package publisher

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/types"
)

// EventName identifies a lifecycle event on the wire
type EventName string

const (
	EventPhaseTransitioned EventName = "subscription.phase.transitioned"
	EventInvoicePaid       EventName = "invoice.paid"
	EventInvoiceFailed     EventName = "invoice.failed"
	EventCreditIssued      EventName = "credit.issued"
)

// Event is a lifecycle fact emitted after the transaction that produced it commits
type Event struct {
	ID        string                 `json:"id"`
	Name      EventName              `json:"event_name"`
	TenantID  string                 `json:"tenant_id"`
	EntityID  string                 `json:"entity_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id and the tenant of ctx
func NewEvent(ctx context.Context, name EventName, entityID string, at time.Time, payload map[string]interface{}) *Event {
	return &Event{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT),
		Name:      name,
		TenantID:  types.GetTenantID(ctx),
		EntityID:  entityID,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}
