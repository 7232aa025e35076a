// Package models defines the core domain models for file-driven workflow automation.
package models

import (
	"encoding/json"
	"time"
)

// Workflow is a named automation definition: an ordered step sequence fired manually,
// by a cron schedule, or by file events matching one of its triggers.
type Workflow struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"                      validate:"required,min=1,max=200"`
	Description    string    `json:"description"`
	Steps          []Step    `json:"steps"                     validate:"dive"`
	Triggers       []Trigger `json:"triggers"                  validate:"dive"`
	CronExpression string    `json:"cron_expression,omitempty"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsScheduled reports whether the workflow should own a cron timer.
func (w *Workflow) IsScheduled() bool {
	return w.Enabled && w.CronExpression != ""
}

// HasTriggers reports whether the workflow takes part in file event matching.
func (w *Workflow) HasTriggers() bool {
	return w.Enabled && len(w.Triggers) > 0
}

// Clone returns a deep copy of the workflow. Executions run against a clone so that
// definition updates never leak into an in-flight run.
func (w *Workflow) Clone() *Workflow {
	clone := *w

	clone.Steps = CloneSteps(w.Steps)

	clone.Triggers = make([]Trigger, len(w.Triggers))
	for i, t := range w.Triggers {
		clone.Triggers[i] = Trigger{
			Type:           t.Type,
			FileExtensions: append([]string(nil), t.FileExtensions...),
			MaxFileSize:    t.MaxFileSize,
			MimeTypes:      append([]string(nil), t.MimeTypes...),
		}
	}

	return &clone
}

// CloneSteps deep copies a step sequence, including nested parameter values.
func CloneSteps(steps []Step) []Step {
	cloned := make([]Step, len(steps))
	for i, s := range steps {
		cloned[i] = Step{
			Type:   s.Type,
			Name:   s.Name,
			Params: cloneValue(s.Params).(map[string]any),
		}
	}

	return cloned
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		if typed == nil {
			return map[string]any{}
		}

		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = cloneValue(val)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = cloneValue(val)
		}

		return out
	case json.RawMessage:
		return append(json.RawMessage(nil), typed...)
	case nil:
		return nil
	default:
		return typed
	}
}
