package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/pubsub/memory"
	"github.com/flexprice/lifecycle/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPublisher_Publish(t *testing.T) {
	cfg := config.GetDefaultConfig()
	ps := memory.NewPubSub(logger.NewNoopLogger())
	defer ps.Close()

	pub := NewEventPublisher(cfg, ps, logger.NewNoopLogger())

	ctx, cancel := context.WithTimeout(types.SetTenantID(context.Background(), "tenant_1"), 5*time.Second)
	defer cancel()

	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	event := NewEvent(ctx, EventInvoicePaid, "inv_1", at, map[string]interface{}{"total": "10"})
	require.NoError(t, pub.Publish(ctx, event))

	ch, err := ps.Subscribe(ctx, cfg.EventPublisher.Topic)
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, event.ID, msg.UUID)
		assert.Equal(t, "tenant_1", msg.Metadata.Get("tenant_id"))
		assert.Equal(t, string(EventInvoicePaid), msg.Metadata.Get("event_name"))

		var got Event
		require.NoError(t, jsoniter.Unmarshal(msg.Payload, &got))
		assert.Equal(t, "inv_1", got.EntityID)
		assert.True(t, at.Equal(got.Timestamp))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("event was not delivered")
	}
}
