// Package steps interprets workflow steps: one exhaustive dispatch over the step type,
// each variant decoding its own typed parameters.
package steps

import (
	"errors"
	"fmt"

	"github.com/dukex/fileflow/pkg/models"
)

// StepError is a classified step failure. Kind decides how the failure is reported.
type StepError struct {
	Kind     models.ErrorKind
	StepType models.StepType
	Message  string
	Err      error
}

func (e *StepError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s step %s error: %s: %v", e.StepType, e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s step %s error: %s", e.StepType, e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s step %s error: %v", e.StepType, e.Kind, e.Err)
	}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is matches the wrapped error, or another StepError of the same kind.
func (e *StepError) Is(target error) bool {
	var other *StepError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}

	return errors.Is(e.Err, target)
}

// NewValidationError reports malformed step parameters.
func NewValidationError(stepType models.StepType, message string) *StepError {
	return &StepError{Kind: models.ErrorKindValidation, StepType: stepType, Message: message}
}

// NewExtractionError reports a missing or unreadable file.
func NewExtractionError(stepType models.StepType, err error) *StepError {
	return &StepError{Kind: models.ErrorKindExtraction, StepType: stepType, Err: err}
}

// NewUpstreamError reports a failed record-store call.
func NewUpstreamError(stepType models.StepType, err error) *StepError {
	return &StepError{Kind: models.ErrorKindUpstream, StepType: stepType, Err: err}
}

// NewNotFoundError reports a record the upstream store does not know.
func NewNotFoundError(stepType models.StepType, err error) *StepError {
	return &StepError{Kind: models.ErrorKindNotFound, StepType: stepType, Err: err}
}

// NewTimeoutError reports a collaborator call that exceeded its deadline.
func NewTimeoutError(stepType models.StepType, err error) *StepError {
	return &StepError{Kind: models.ErrorKindTimeout, StepType: stepType, Message: "collaborator call timed out", Err: err}
}

// KindOf classifies err; unclassified errors are internal.
func KindOf(err error) models.ErrorKind {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind
	}

	return models.ErrorKindInternal
}

// IsTimeoutError reports whether err is a collaborator timeout.
func IsTimeoutError(err error) bool {
	return KindOf(err) == models.ErrorKindTimeout
}
