package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/fileflow/pkg/workerpool"
)

var (
	// ErrQueueFull is returned when an execution could not be enqueued; the
	// execution is recorded failed.
	ErrQueueFull = workerpool.ErrQueueFull

	// ErrCancelled is the cause attached to executions cancelled on request.
	ErrCancelled = errors.New("execution cancelled")

	// ErrShutdown is returned once the scheduler is stopping and is the cause
	// attached to executions interrupted by shutdown.
	ErrShutdown = errors.New("scheduler is shutting down")
)

// LivenessError describes a running execution that stopped making progress.
type LivenessError struct {
	ExecutionID  string
	LastActivity time.Time
	Timeout      time.Duration
}

func (e *LivenessError) Error() string {
	return fmt.Sprintf("execution %s made no progress since %s (liveness timeout %s)",
		e.ExecutionID, e.LastActivity.Format(time.RFC3339), e.Timeout)
}

func IsLivenessError(err error) bool {
	var livenessErr *LivenessError

	return errors.As(err, &livenessErr)
}
