package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
)

// DefaultLivenessTimeout is how long a running execution may go without recording
// progress before it is considered abandoned.
const DefaultLivenessTimeout = 15 * time.Minute

// ReconcileReport summarizes one liveness pass.
type ReconcileReport struct {
	// Failed lists running executions marked failed for lack of progress.
	Failed []string
	// Pending lists executions that were created but never picked up by a worker.
	Pending []*models.WorkflowExecution
}

// Reconciler corrects executions left non-terminal by an abnormal process exit.
type Reconciler struct {
	executions persistence.ExecutionRepository
	timeout    time.Duration
	isLive     func(executionID string) bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler creates a reconciler. isLive reports executions owned by this process;
// those are never touched. A nil isLive treats every execution as not live.
func NewReconciler(executions persistence.ExecutionRepository, timeout time.Duration, isLive func(string) bool, logger *slog.Logger) *Reconciler {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}

	if isLive == nil {
		isLive = func(string) bool { return false }
	}

	return &Reconciler{
		executions: executions,
		timeout:    timeout,
		isLive:     isLive,
		logger:     logger.With("module", "liveness_reconciler"),
		now:        time.Now,
	}
}

// Reconcile fails abandoned running executions and reports unowned pending ones
// older than the liveness timeout. Younger pending executions may still be on
// their way to a worker and are left alone.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	return r.reconcile(ctx, r.timeout)
}

// ReconcileAll is Reconcile without the pending age limit, for use before any
// dispatch of the current process can be in flight.
func (r *Reconciler) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	return r.reconcile(ctx, 0)
}

func (r *Reconciler) reconcile(ctx context.Context, pendingAge time.Duration) (ReconcileReport, error) {
	var report ReconcileReport

	running, err := r.listByStatus(ctx, models.ExecutionStatusRunning)
	if err != nil {
		return report, err
	}

	now := r.now().UTC()

	for _, execution := range running {
		if r.isLive(execution.ID) {
			continue
		}

		lastActivity := execution.LastActivity()
		if now.Sub(lastActivity) < r.timeout {
			continue
		}

		livenessErr := &LivenessError{ExecutionID: execution.ID, LastActivity: lastActivity, Timeout: r.timeout}

		execution.Status = models.ExecutionStatusFailed
		execution.ErrorKind = models.ErrorKindLiveness
		execution.Error = livenessErr.Error()
		execution.FinishedAt = &now

		if err := r.executions.Save(ctx, execution); err != nil {
			return report, fmt.Errorf("failed to mark execution %s abandoned: %w", execution.ID, err)
		}

		r.logger.WarnContext(ctx, "Marked abandoned execution failed",
			"execution_id", execution.ID,
			"workflow_id", execution.WorkflowID,
			"last_activity", lastActivity,
			"steps_recorded", len(execution.StepResults))

		report.Failed = append(report.Failed, execution.ID)
	}

	pending, err := r.listByStatus(ctx, models.ExecutionStatusPending)
	if err != nil {
		return report, err
	}

	for _, execution := range pending {
		if r.isLive(execution.ID) || now.Sub(execution.CreatedAt) < pendingAge {
			continue
		}

		report.Pending = append(report.Pending, execution)
	}

	if len(report.Failed) > 0 || len(report.Pending) > 0 {
		r.logger.InfoContext(ctx, "Liveness reconciliation finished",
			"failed", len(report.Failed), "pending", len(report.Pending))
	}

	return report, nil
}

// listByStatus collects every execution in status before any is modified, so that
// updates cannot shift the pages being read.
func (r *Reconciler) listByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	var all []*models.WorkflowExecution

	for offset := 0; ; offset += persistence.MaxListLimit {
		page, err := r.executions.List(ctx, persistence.ExecutionFilter{
			Status: []models.ExecutionStatus{status},
			Offset: offset,
			Limit:  persistence.MaxListLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s executions: %w", status, err)
		}

		all = append(all, page...)

		if len(page) < persistence.MaxListLimit {
			return all, nil
		}
	}
}
