// Package fileevents feeds file upload and processing notifications into the scheduler.
package fileevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidEvent wraps every decoding and validation failure.
var ErrInvalidEvent = errors.New("invalid file event")

// Handler receives decoded file events. It must not block on execution.
type Handler func(ctx context.Context, event models.FileEvent) error

// Source is a stream of file events.
type Source interface {
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

var eventSchema = gojsonschema.NewGoLoader(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"event_kind": map[string]any{
			"type": "string",
			"enum": []any{string(models.TriggerTypeFileUpload), string(models.TriggerTypeFileProcessed)},
		},
		"file_id":   map[string]any{"type": "string", "minLength": 1},
		"filename":  map[string]any{"type": "string", "minLength": 1},
		"size":      map[string]any{"type": "integer", "minimum": 0},
		"mime_type": map[string]any{"type": "string"},
		"extension": map[string]any{"type": "string"},
	},
	"required": []any{"event_kind", "file_id", "filename"},
})

// Decode validates a raw JSON file event and decodes it.
func Decode(data []byte) (models.FileEvent, error) {
	result, err := gojsonschema.Validate(eventSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return models.FileEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return models.FileEvent{}, fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(problems, "; "))
	}

	var event models.FileEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return models.FileEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	return event, nil
}

// Validate checks an already decoded event.
func Validate(event models.FileEvent) error {
	switch {
	case !event.Kind.IsValid():
		return fmt.Errorf("%w: unknown event kind %q", ErrInvalidEvent, event.Kind)
	case strings.TrimSpace(event.FileID) == "":
		return fmt.Errorf("%w: file_id is required", ErrInvalidEvent)
	case strings.TrimSpace(event.Filename) == "":
		return fmt.Errorf("%w: filename is required", ErrInvalidEvent)
	case event.Size < 0:
		return fmt.Errorf("%w: size must not be negative", ErrInvalidEvent)
	}

	return nil
}
