// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/scheduler"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidStatus  = errors.New("invalid execution status")
	ErrNoSchedule     = errors.New("workflow has no cron expression")

	// Lookup Errors (404 Not Found).
	ErrWorkflowNotFound  = persistence.ErrWorkflowNotFound
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrExecutionFinished = errors.New("execution already finished")
	ErrWorkflowDisabled  = errors.New("workflow is disabled")

	// Capacity Errors (503 Service Unavailable).
	ErrQueueFull = scheduler.ErrQueueFull
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewServiceError creates a new service error with context.
func NewServiceError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FieldError is one rejected field of a workflow definition.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a definition. It is returned before
// anything is persisted.
type ValidationError struct {
	Op     string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	problems := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		problems = append(problems, f.Field+": "+f.Message)
	}

	return fmt.Sprintf("%s: invalid workflow: %s", e.Op, strings.Join(problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrNoSchedule) ||
		errors.Is(err, scheduler.ErrInvalidCron) ||
		errors.Is(err, persistence.ErrInvalidID)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return persistence.IsWorkflowNotFound(err) || persistence.IsExecutionNotFound(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionFinished) || errors.Is(err, ErrWorkflowDisabled)
}

// IsUnavailable checks if an error reflects exhausted capacity (HTTP 503).
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, scheduler.ErrShutdown)
}
