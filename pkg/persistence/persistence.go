// Package persistence provides data storage abstraction layer for workflows and their executions.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/fileflow/pkg/models"
)

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 50

// MaxListLimit is the largest page a list query returns.
const MaxListLimit = 500

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	// GetByID returns nil without error when the workflow does not exist.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
	// ListScheduled returns enabled workflows carrying a cron expression.
	ListScheduled(ctx context.Context) ([]*models.Workflow, error)
	// ListTriggered returns enabled workflows with at least one file trigger.
	ListTriggered(ctx context.Context) ([]*models.Workflow, error)
}

// ExecutionRepository stores executions and their step results.
type ExecutionRepository interface {
	// Save inserts or replaces the execution header. Step results already
	// appended are kept.
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	// AppendStepResult durably records one step result of an execution.
	AppendStepResult(ctx context.Context, executionID string, result models.StepResult) error
	// GetByID returns ErrExecutionNotFound when the execution does not exist.
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// List returns executions newest first.
	List(ctx context.Context, filter ExecutionFilter) ([]*models.WorkflowExecution, error)
	// CountByStatus counts executions created at or after since.
	CountByStatus(ctx context.Context, since time.Time) (map[models.ExecutionStatus]int, error)
	// Prune deletes the oldest terminal executions of a workflow beyond keep
	// and returns how many were removed.
	Prune(ctx context.Context, workflowID string, keep int) (int, error)
}

// ExecutionFilter narrows an execution listing.
type ExecutionFilter struct {
	WorkflowID string
	Status     []models.ExecutionStatus
	Offset     int
	Limit      int
}

// Normalize applies list defaults and bounds.
func (f ExecutionFilter) Normalize() ExecutionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}

	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}

	if f.Offset < 0 {
		f.Offset = 0
	}

	return f
}

// Matches reports whether the execution passes the filter's workflow and status constraints.
func (f ExecutionFilter) Matches(execution *models.WorkflowExecution) bool {
	if f.WorkflowID != "" && execution.WorkflowID != f.WorkflowID {
		return false
	}

	if len(f.Status) == 0 {
		return true
	}

	for _, status := range f.Status {
		if execution.Status == status {
			return true
		}
	}

	return false
}
