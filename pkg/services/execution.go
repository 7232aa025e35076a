package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
)

// ExecutionScheduler dispatches and cancels executions.
type ExecutionScheduler interface {
	Trigger(ctx context.Context, workflow *models.Workflow, source models.TriggerSource, payload map[string]any) (*models.WorkflowExecution, error)
	Cancel(ctx context.Context, executionID string) (bool, error)
}

type Execution struct {
	persistence persistence.Persistence
	workflows   *Workflow
	scheduler   ExecutionScheduler
	logger      *slog.Logger
}

func NewExecution(persistence persistence.Persistence, workflows *Workflow, scheduler ExecutionScheduler, logger *slog.Logger) *Execution {
	return &Execution{
		persistence: persistence,
		workflows:   workflows,
		scheduler:   scheduler,
		logger:      logger.With("module", "execution_service"),
	}
}

// Trigger starts a manual execution and returns its id without waiting for it to run.
// Manual triggers ignore the declared triggers but not the enabled flag. When the
// worker queue is full the id of the failed execution is returned with ErrQueueFull.
func (e *Execution) Trigger(ctx context.Context, workflowID string, data map[string]any) (string, error) {
	workflow, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return "", err
	}

	if !workflow.Enabled {
		return "", NewServiceError("Trigger", "WORKFLOW_DISABLED", "workflow "+workflowID+" is disabled", ErrWorkflowDisabled)
	}

	if data == nil {
		data = map[string]any{}
	}

	execution, err := e.scheduler.Trigger(ctx, workflow, models.TriggerSourceManual, data)
	if err != nil {
		if execution != nil {
			return execution.ID, err
		}

		return "", fmt.Errorf("failed to trigger workflow: %w", err)
	}

	e.logger.InfoContext(ctx, "Workflow triggered manually", "workflow_id", workflowID, "execution_id", execution.ID)

	return execution.ID, nil
}

func (e *Execution) Get(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, executionID)
}

// ListExecutionsRequest contains options for listing executions.
type ListExecutionsRequest struct {
	WorkflowID string
	Status     []string
	Limit      int
	Offset     int
}

// List returns executions newest first. Filtering by workflow does not require the
// workflow to exist, so the history of a deleted workflow stays readable.
func (e *Execution) List(ctx context.Context, req ListExecutionsRequest) ([]*models.WorkflowExecution, error) {
	filter := persistence.ExecutionFilter{
		WorkflowID: req.WorkflowID,
		Offset:     req.Offset,
		Limit:      req.Limit,
	}

	for _, raw := range req.Status {
		status := models.ExecutionStatus(raw)
		if !status.IsValid() {
			return nil, NewServiceError("List", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", raw), ErrInvalidStatus)
		}

		filter.Status = append(filter.Status, status)
	}

	executions, err := e.persistence.ExecutionRepository().List(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Cancel stops a queued or running execution. Finished executions yield ErrExecutionFinished.
func (e *Execution) Cancel(ctx context.Context, executionID string) error {
	cancelled, err := e.scheduler.Cancel(ctx, executionID)
	if err != nil {
		return err
	}

	if !cancelled {
		return NewServiceError("Cancel", "EXECUTION_FINISHED", "execution "+executionID+" already finished", ErrExecutionFinished)
	}

	return nil
}
