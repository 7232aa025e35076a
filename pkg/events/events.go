// Package events defines event types and structures for file ingestion and execution lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topic carrying every fileflow event.
const Topic = "fileflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// File ingestion events, consumed by the scheduler.
	FileUploadedEvent  EventType = "file.uploaded"
	FileProcessedEvent EventType = "file.processed"

	// Execution lifecycle events, published by the runner.
	ExecutionStartedEvent  EventType = "execution.started"
	StepCompletedEvent     EventType = "execution.step.completed"
	ExecutionFinishedEvent EventType = "execution.finished"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// FileUploaded announces a file accepted by the ingestion pipeline.
type FileUploaded struct {
	BaseEvent

	File models.FileEvent `json:"file"`
}

func (f FileUploaded) GetType() EventType {
	return FileUploadedEvent
}

// NewFileUploaded wraps a file event for publication.
func NewFileUploaded(file models.FileEvent) *FileUploaded {
	file.Kind = models.TriggerTypeFileUpload

	return &FileUploaded{BaseEvent: NewBaseEvent(FileUploadedEvent, ""), File: file}
}

// FileProcessed announces a file whose downstream processing finished.
type FileProcessed struct {
	BaseEvent

	File models.FileEvent `json:"file"`
}

func (f FileProcessed) GetType() EventType {
	return FileProcessedEvent
}

// NewFileProcessed wraps a file event for publication.
func NewFileProcessed(file models.FileEvent) *FileProcessed {
	file.Kind = models.TriggerTypeFileProcessed

	return &FileProcessed{BaseEvent: NewBaseEvent(FileProcessedEvent, ""), File: file}
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID   string               `json:"execution_id"`
	WorkflowName  string               `json:"workflow_name"`
	TriggerSource models.TriggerSource `json:"trigger_source"`
	StepCount     int                  `json:"step_count"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type StepCompleted struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	StepIndex   int               `json:"step_index"`
	StepType    models.StepType   `json:"step_type"`
	Status      models.StepStatus `json:"status"`
	ErrorKind   models.ErrorKind  `json:"error_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
}

func (s StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID   string                 `json:"execution_id"`
	Status        models.ExecutionStatus `json:"status"`
	ErrorKind     models.ErrorKind       `json:"error_kind,omitempty"`
	Error         string                 `json:"error,omitempty"`
	StepsExecuted int                    `json:"steps_executed"`
	DurationMs    int64                  `json:"duration_ms"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}
