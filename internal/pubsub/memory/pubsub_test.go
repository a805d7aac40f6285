package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSub_PublishSubscribe(t *testing.T) {
	ps := NewPubSub(logger.NewNoopLogger())
	defer ps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "lifecycle", message.NewMessage("msg_1", []byte(`{"ok":true}`))))

	ch, err := ps.Subscribe(ctx, "lifecycle")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "msg_1", msg.UUID)
		assert.JSONEq(t, `{"ok":true}`, string(msg.Payload))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
}
