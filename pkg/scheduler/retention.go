package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/fileflow/pkg/persistence"
)

// DefaultMaxExecutions is how many terminal executions are kept per workflow.
const DefaultMaxExecutions = 1000

// Retention bounds the execution history of every workflow.
type Retention struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	keep       int
	logger     *slog.Logger
}

func NewRetention(workflows persistence.WorkflowRepository, executions persistence.ExecutionRepository, keep int, logger *slog.Logger) *Retention {
	if keep <= 0 {
		keep = DefaultMaxExecutions
	}

	return &Retention{
		workflows:  workflows,
		executions: executions,
		keep:       keep,
		logger:     logger.With("module", "execution_retention"),
	}
}

// Prune removes the oldest terminal executions beyond the limit and returns how many
// were deleted. A failure on one workflow does not stop the others.
func (r *Retention) Prune(ctx context.Context) (int, error) {
	workflows, err := r.workflows.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workflows: %w", err)
	}

	total := 0

	var firstErr error

	for _, wf := range workflows {
		removed, err := r.executions.Prune(ctx, wf.ID, r.keep)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to prune executions", "workflow_id", wf.ID, "error", err)

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		if removed > 0 {
			r.logger.InfoContext(ctx, "Pruned executions", "workflow_id", wf.ID, "removed", removed, "kept", r.keep)
		}

		total += removed
	}

	return total, firstErr
}
