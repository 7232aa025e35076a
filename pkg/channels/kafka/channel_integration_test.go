//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkatc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestCreateChannel_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := kafkatc.Run(ctx, "confluentinc/confluent-local:7.7.0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	publisher, subscriber, err := CreateChannel(watermill.NopLogger{}, "fileflow-test", brokers)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = publisher.Close()
		_ = subscriber.Close()
	})

	const topic = "fileflow.file_upload"

	messages, err := subscriber.Subscribe(t.Context(), topic)
	require.NoError(t, err)

	// The consumer group starts at the newest offset, so keep publishing until it has joined.
	var received *message.Message

	require.Eventually(t, func() bool {
		if err := publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), []byte(`{"file_id":"f-1"}`))); err != nil {
			return false
		}

		select {
		case msg := <-messages:
			msg.Ack()
			received = msg

			return true
		case <-time.After(2 * time.Second):
			return false
		}
	}, 90*time.Second, 500*time.Millisecond)

	assert.JSONEq(t, `{"file_id":"f-1"}`, string(received.Payload))
}
