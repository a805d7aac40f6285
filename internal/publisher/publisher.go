package publisher

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/lifecycle/internal/config"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/pubsub"
	jsoniter "github.com/json-iterator/go"
)

// EventPublisher emits lifecycle events to the configured transport
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

type eventPublisher struct {
	pubsub pubsub.Publisher
	topic  string
	logger *logger.Logger
}

func NewEventPublisher(cfg *config.Configuration, ps pubsub.Publisher, logger *logger.Logger) EventPublisher {
	return &eventPublisher{
		pubsub: ps,
		topic:  cfg.EventPublisher.Topic,
		logger: logger,
	}
}

func (p *eventPublisher) Publish(ctx context.Context, event *Event) error {
	payload, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to marshal lifecycle event").
			WithReportableDetails(map[string]any{"event_id": event.ID, "event_name": event.Name}).
			Mark(ierr.ErrSystem)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("tenant_id", event.TenantID)
	msg.Metadata.Set("event_name", string(event.Name))
	// same entity lands on the same kafka partition
	msg.Metadata.Set("partition_key", event.EntityID)

	p.logger.Debugw("publishing lifecycle event",
		"event_id", event.ID,
		"event_name", event.Name,
		"entity_id", event.EntityID,
		"topic", p.topic,
	)

	if err := p.pubsub.Publish(ctx, p.topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish lifecycle event").
			WithReportableDetails(map[string]any{"event_id": event.ID, "event_name": event.Name}).
			MarkAll(ierr.ErrSystem, ierr.ErrRetryable)
	}
	return nil
}
