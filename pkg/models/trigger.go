package models

import (
	"path/filepath"
	"strings"
)

// TriggerType identifies the file event a Trigger listens for.
type TriggerType string

const (
	TriggerTypeFileUpload    TriggerType = "file_upload"
	TriggerTypeFileProcessed TriggerType = "file_processed"
)

// IsValid reports whether t is a known trigger type.
func (t TriggerType) IsValid() bool {
	return t == TriggerTypeFileUpload || t == TriggerTypeFileProcessed
}

// Trigger declares file event filters. All set filters must hold for a match;
// unset filters (empty lists, zero size) accept every event.
type Trigger struct {
	Type           TriggerType `json:"type"                      validate:"required,oneof=file_upload file_processed"`
	FileExtensions []string    `json:"file_extensions,omitempty" validate:"dive,required"`
	MaxFileSize    int64       `json:"max_file_size,omitempty"   validate:"gte=0"`
	MimeTypes      []string    `json:"mime_types,omitempty"      validate:"dive,required"`
}

// TriggerSource records what started an execution.
type TriggerSource string

const (
	TriggerSourceManual        TriggerSource = "manual"
	TriggerSourceFileUpload    TriggerSource = "file_upload"
	TriggerSourceFileProcessed TriggerSource = "file_processed"
	TriggerSourceScheduled     TriggerSource = "scheduled"
)

// FileEvent is emitted by the file ingestion pipeline.
type FileEvent struct {
	Kind      TriggerType `json:"event_kind"`
	FileID    string      `json:"file_id"`
	Filename  string      `json:"filename"`
	Size      int64       `json:"size"`
	MimeType  string      `json:"mime_type"`
	Extension string      `json:"extension"`
}

// NormalizedExtension returns the lower-cased extension with a leading dot,
// falling back to the filename when the event carries none.
func (e FileEvent) NormalizedExtension() string {
	ext := e.Extension
	if ext == "" {
		ext = filepath.Ext(e.Filename)
	}

	return NormalizeExtension(ext)
}

// Source maps the event kind onto the execution trigger source.
func (e FileEvent) Source() TriggerSource {
	if e.Kind == TriggerTypeFileProcessed {
		return TriggerSourceFileProcessed
	}

	return TriggerSourceFileUpload
}

// Payload builds the trigger payload handed to executions started by this event.
func (e FileEvent) Payload() map[string]any {
	return map[string]any{
		"file_id":   e.FileID,
		"filename":  e.Filename,
		"file_size": e.Size,
		"mime_type": e.MimeType,
		"extension": e.NormalizedExtension(),
	}
}

// NormalizeExtension lower-cases ext and guarantees a leading dot. Empty stays empty.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}

	return "." + ext
}
