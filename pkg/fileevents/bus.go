package fileevents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/fileflow/pkg/eventbus"
	"github.com/dukex/fileflow/pkg/events"
	"github.com/dukex/fileflow/pkg/models"
)

// BusSource consumes file.uploaded and file.processed events from the event bus.
type BusSource struct {
	bus    eventbus.EventSubscriber
	logger *slog.Logger
}

func NewBusSource(bus eventbus.EventSubscriber, logger *slog.Logger) *BusSource {
	return &BusSource{bus: bus, logger: logger.With("module", "file_events_bus")}
}

func (s *BusSource) Start(ctx context.Context, handler Handler) error {
	err := s.bus.Handle(events.FileUploadedEvent, func(ctx context.Context, event any) error {
		uploaded, ok := event.(*events.FileUploaded)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		return s.dispatch(ctx, handler, models.TriggerTypeFileUpload, uploaded.File)
	})
	if err != nil {
		return fmt.Errorf("failed to register file upload handler: %w", err)
	}

	err = s.bus.Handle(events.FileProcessedEvent, func(ctx context.Context, event any) error {
		processed, ok := event.(*events.FileProcessed)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		return s.dispatch(ctx, handler, models.TriggerTypeFileProcessed, processed.File)
	})
	if err != nil {
		return fmt.Errorf("failed to register file processed handler: %w", err)
	}

	s.logger.InfoContext(ctx, "Subscribing to file events", "topic", events.Topic)

	return s.bus.Subscribe(ctx)
}

// dispatch drops invalid events instead of failing them back to the bus.
func (s *BusSource) dispatch(ctx context.Context, handler Handler, kind models.TriggerType, file models.FileEvent) error {
	file.Kind = kind

	if err := Validate(file); err != nil {
		s.logger.WarnContext(ctx, "Discarding file event", "file_id", file.FileID, "error", err)

		return nil
	}

	return handler(ctx, file)
}

// Stop is a no-op; the bus owner closes the subscription.
func (s *BusSource) Stop(context.Context) error {
	return nil
}
