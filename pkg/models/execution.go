package models

import "time"

// ExecutionStatus is the lifecycle state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsValid reports whether s is a known execution status.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ErrorKind classifies why a step or an execution failed.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindExtraction ErrorKind = "extraction"
	ErrorKindUpstream   ErrorKind = "upstream"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindLiveness   ErrorKind = "liveness"
	ErrorKindCancelled  ErrorKind = "cancelled"
	ErrorKindInternal   ErrorKind = "internal"
)

// WorkflowExecution is one run of a workflow. Steps holds the definition captured when
// the execution was created; later workflow edits do not affect it.
type WorkflowExecution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	WorkflowName   string          `json:"workflow_name,omitempty"`
	TriggerSource  TriggerSource   `json:"trigger_source"`
	TriggerPayload map[string]any  `json:"trigger_payload,omitempty"`
	Status         ExecutionStatus `json:"status"`
	Steps          []Step          `json:"steps"`
	StepResults    []StepResult    `json:"step_results"`
	Error          string          `json:"error,omitempty"`
	ErrorKind      ErrorKind       `json:"error_kind,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the execution reached its final status.
func (e *WorkflowExecution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// CanTransition enforces pending -> running -> terminal, with pending allowed to jump
// straight to a terminal status when it never started.
func (e *WorkflowExecution) CanTransition(to ExecutionStatus) bool {
	switch e.Status {
	case ExecutionStatusPending:
		return to == ExecutionStatusRunning || to.IsTerminal()
	case ExecutionStatusRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

// FailedStep returns the first failed step result, if any.
func (e *WorkflowExecution) FailedStep() *StepResult {
	for i := range e.StepResults {
		if e.StepResults[i].Status == StepStatusFailed {
			return &e.StepResults[i]
		}
	}

	return nil
}

// LastActivity is the most recent moment the execution demonstrably made progress.
func (e *WorkflowExecution) LastActivity() time.Time {
	last := e.CreatedAt
	if e.StartedAt != nil && e.StartedAt.After(last) {
		last = *e.StartedAt
	}

	for _, r := range e.StepResults {
		if r.FinishedAt.After(last) {
			last = r.FinishedAt
		}
	}

	return last
}

// Duration is the wall time between start and finish, zero until both are known.
func (e *WorkflowExecution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}

	return e.FinishedAt.Sub(*e.StartedAt)
}

// StepResult is the immutable outcome of one step. Output is exposed to later steps
// as {step_<index>_result}.
type StepResult struct {
	Index      int        `json:"index"`
	Type       StepType   `json:"type"`
	Status     StepStatus `json:"status"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	DurationMs int64      `json:"duration_ms"`
}
