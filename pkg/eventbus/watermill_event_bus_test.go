package eventbus_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/fileflow/pkg/channels/gochannel"
	"github.com/dukex/fileflow/pkg/eventbus"
	"github.com/dukex/fileflow/pkg/events"
	"github.com/dukex/fileflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.FileUploaded, 1)

	require.NoError(t, bus.Handle(events.FileUploadedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.FileUploaded)

		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	file := models.FileEvent{FileID: "f-1", Filename: "a.pdf", Size: 2048, MimeType: "application/pdf", Extension: ".pdf"}
	require.NoError(t, bus.Publish(ctx, "f-1", events.NewFileUploaded(file)))

	select {
	case got := <-received:
		assert.Equal(t, events.FileUploadedEvent, got.Type)
		assert.Equal(t, models.TriggerTypeFileUpload, got.File.Kind)
		assert.Equal(t, "a.pdf", got.File.Filename)
		assert.Equal(t, int64(2048), got.File.Size)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_SkipsUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	finished := make(chan *events.ExecutionFinished, 1)

	require.NoError(t, bus.Handle(events.ExecutionFinishedEvent, func(_ context.Context, event any) error {
		finished <- event.(*events.ExecutionFinished)

		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "exec-1", &events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, "wf-1"),
		ExecutionID: "exec-1",
	}))
	require.NoError(t, bus.Publish(ctx, "exec-1", &events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, "wf-1"),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusCompleted,
	}))

	select {
	case got := <-finished:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}
