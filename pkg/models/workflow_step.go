package models

// StepType tags the variant of a Step. Each variant carries its own parameter shape,
// decoded by the step interpreter once placeholders are resolved.
type StepType string

const (
	StepTypeLog            StepType = "log"
	StepTypeFileProcess    StepType = "file_process"
	StepTypeAirtableCreate StepType = "airtable_create"
	StepTypeAirtableUpdate StepType = "airtable_update"
	StepTypeDelay          StepType = "delay"
	StepTypeCondition      StepType = "condition"
)

// StepTypes lists every supported step variant.
var StepTypes = []StepType{
	StepTypeLog,
	StepTypeFileProcess,
	StepTypeAirtableCreate,
	StepTypeAirtableUpdate,
	StepTypeDelay,
	StepTypeCondition,
}

// IsValid reports whether t names a supported variant.
func (t StepType) IsValid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}

	return false
}

// Step is one unit of work, identified by its zero-based position in the workflow.
type Step struct {
	Type   StepType       `json:"type"             validate:"required"`
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params"`
}

// StepStatus is the outcome of a single step within an execution.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)
