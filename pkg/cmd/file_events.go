package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/fileflow/pkg/eventbus"
	"github.com/dukex/fileflow/pkg/fileevents"
)

// NewFileEventSources returns one source per configured transport. bus may be nil
// and redisURL may be empty.
func NewFileEventSources(
	ctx context.Context,
	bus eventbus.EventBus,
	redisURL, redisQueue string,
	logger *slog.Logger,
) ([]fileevents.Source, error) {
	var sources []fileevents.Source

	if bus != nil {
		sources = append(sources, fileevents.NewBusSource(bus, logger))
	}

	if redisURL != "" {
		source, err := fileevents.NewRedisSource(ctx, redisURL, redisQueue, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect file event queue: %w", err)
		}

		sources = append(sources, source)
	}

	if len(sources) == 0 {
		logger.WarnContext(ctx, "No file event source configured; only manual and scheduled runs are possible")
	}

	return sources, nil
}
