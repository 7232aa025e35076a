package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/fileflow/pkg/eventbus"
	"github.com/dukex/fileflow/pkg/events"
	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/otelhelper"
	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/steps"
	"github.com/dukex/fileflow/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrExecutionTimeout is the cancellation cause of an execution that overran its deadline.
var ErrExecutionTimeout = errors.New("execution timed out")

// StepExecutor runs a single resolved step.
type StepExecutor interface {
	Execute(ctx context.Context, step models.Step, params map[string]any, execCtx map[string]any) (steps.Outcome, error)
}

// Runner drives executions through their step sequence. It never returns an error:
// every outcome, including internal failures, is reflected on the returned execution.
type Runner struct {
	executions persistence.ExecutionRepository
	steps      StepExecutor
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithPublisher publishes lifecycle events for every execution.
func WithPublisher(publisher eventbus.EventPublisher) RunnerOption {
	return func(r *Runner) {
		r.publisher = publisher
	}
}

// WithTracer records one span per execution and per step.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithExecutionTimeout bounds the wall time of one execution. Zero disables the bound.
func WithExecutionTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

func NewRunner(executions persistence.ExecutionRepository, executor StepExecutor, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		executions: executions,
		steps:      executor,
		tracer:     otelhelper.NoopTracer(),
		logger:     logger.With("module", "execution_runner"),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// NewExecution builds a pending execution holding a snapshot of the workflow's steps.
func NewExecution(workflow *models.Workflow, source models.TriggerSource, payload map[string]any, now time.Time) *models.WorkflowExecution {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	if payload == nil {
		payload = map[string]any{}
	}

	return &models.WorkflowExecution{
		ID:             id.String(),
		WorkflowID:     workflow.ID,
		WorkflowName:   workflow.Name,
		TriggerSource:  source,
		TriggerPayload: payload,
		Status:         models.ExecutionStatusPending,
		Steps:          models.CloneSteps(workflow.Steps),
		StepResults:    []models.StepResult{},
		CreatedAt:      now.UTC(),
	}
}

// Run creates an execution for workflow and drives it to a terminal status.
func (r *Runner) Run(ctx context.Context, workflow *models.Workflow, source models.TriggerSource, payload map[string]any) *models.WorkflowExecution {
	execution := NewExecution(workflow, source, payload, r.now())

	if err := r.executions.Save(context.WithoutCancel(ctx), execution); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist new execution",
			"workflow_id", workflow.ID, "execution_id", execution.ID, "error", err)

		r.markFinished(execution, models.ExecutionStatusFailed, models.ErrorKindInternal,
			fmt.Sprintf("failed to persist execution: %v", err))

		return execution
	}

	return r.Execute(ctx, execution)
}

// Execute drives a pending execution. Cancelling ctx stops the execution at the next
// checkpoint (before a step or during a delay) and records it cancelled.
func (r *Runner) Execute(ctx context.Context, execution *models.WorkflowExecution) *models.WorkflowExecution {
	logger := r.logger.With("workflow_id", execution.WorkflowID, "execution_id", execution.ID)

	if !execution.CanTransition(models.ExecutionStatusRunning) {
		logger.WarnContext(ctx, "Execution is not pending, skipping", "status", execution.Status)

		return execution
	}

	runCtx := ctx

	if r.timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeoutCause(ctx, r.timeout, ErrExecutionTimeout)
		defer cancel()
	}

	runCtx, span := otelhelper.StartSpan(runCtx, r.tracer, "workflow.execution", otelhelper.ExecutionAttributes(execution)...)
	defer span.End()

	if runCtx.Err() != nil {
		r.interrupt(runCtx, logger, execution, -1)

		return execution
	}

	started := r.now().UTC()
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &started

	if execution.StepResults == nil {
		execution.StepResults = []models.StepResult{}
	}

	if err := r.executions.Save(context.WithoutCancel(runCtx), execution); err != nil {
		r.finish(runCtx, logger, execution, models.ExecutionStatusFailed, models.ErrorKindInternal,
			fmt.Sprintf("failed to persist execution start: %v", err))

		return execution
	}

	logger.InfoContext(runCtx, "Execution started", "trigger_source", execution.TriggerSource, "steps", len(execution.Steps))

	r.publish(runCtx, logger, execution.ID, &events.ExecutionStarted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionStartedEvent, execution.WorkflowID),
		ExecutionID:   execution.ID,
		WorkflowName:  execution.WorkflowName,
		TriggerSource: execution.TriggerSource,
		StepCount:     len(execution.Steps),
	})

	execCtx := initialContext(execution)

	for index, step := range execution.Steps {
		if runCtx.Err() != nil {
			r.interrupt(runCtx, logger, execution, -1)

			return execution
		}

		result, outcome, err := r.runStep(runCtx, logger, index, step, execCtx)

		if err != nil && isInterruption(runCtx, err) {
			r.interrupt(runCtx, logger, execution, index)

			return execution
		}

		if appendErr := r.appendResult(runCtx, logger, execution, result); appendErr != nil {
			r.finish(runCtx, logger, execution, models.ExecutionStatusFailed, models.ErrorKindInternal,
				fmt.Sprintf("failed to record result of step %d: %v", index, appendErr))

			return execution
		}

		if err != nil {
			r.finish(runCtx, logger, execution, models.ExecutionStatusFailed, result.ErrorKind,
				fmt.Sprintf("step %d (%s) failed: %s", index, step.Type, result.Error))

			return execution
		}

		mergeOutput(execCtx, index, step.Type, outcome.Output)

		if outcome.Halt {
			logger.InfoContext(runCtx, "Condition not met, halting remaining steps", "step_index", index)

			break
		}
	}

	r.finish(runCtx, logger, execution, models.ExecutionStatusCompleted, "", "")

	return execution
}

func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, index int, step models.Step, execCtx map[string]any) (result models.StepResult, outcome steps.Outcome, err error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.step",
		attribute.Int(otelhelper.StepIndexKey, index),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	logger = logger.With("step_index", index, "step_type", step.Type)

	started := r.now().UTC()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("step panicked: %v", recovered)
			outcome = steps.Outcome{}
			result = r.stepResult(index, step.Type, started, outcome, err)
		}

		if err != nil && !isInterruption(ctx, err) {
			otelhelper.RecordFailure(span, err, steps.KindOf(err))
			logger.WarnContext(ctx, "Step failed", "error", err, "error_kind", steps.KindOf(err))
		}
	}()

	params := template.ResolveParams(step.Params, execCtx)

	logger.DebugContext(ctx, "Executing step")

	outcome, err = r.steps.Execute(ctx, step, params, execCtx)

	return r.stepResult(index, step.Type, started, outcome, err), outcome, err
}

func (r *Runner) stepResult(index int, stepType models.StepType, started time.Time, outcome steps.Outcome, err error) models.StepResult {
	finished := r.now().UTC()

	result := models.StepResult{
		Index:      index,
		Type:       stepType,
		Status:     models.StepStatusSucceeded,
		Output:     outcome.Output,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
	}

	switch {
	case err != nil:
		result.Status = models.StepStatusFailed
		result.Output = nil
		result.Error = err.Error()
		result.ErrorKind = steps.KindOf(err)
	case outcome.Halt:
		result.Status = models.StepStatusSkipped
	}

	return result
}

func (r *Runner) appendResult(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, result models.StepResult) error {
	if err := r.executions.AppendStepResult(context.WithoutCancel(ctx), execution.ID, result); err != nil {
		logger.ErrorContext(ctx, "Failed to record step result", "step_index", result.Index, "error", err)

		return err
	}

	execution.StepResults = append(execution.StepResults, result)

	r.publish(ctx, logger, execution.ID, &events.StepCompleted{
		BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepIndex:   result.Index,
		StepType:    result.Type,
		Status:      result.Status,
		ErrorKind:   result.ErrorKind,
		Error:       result.Error,
		DurationMs:  result.DurationMs,
	})

	return nil
}

// interrupt finishes an execution stopped by cancellation or by its deadline. A deadline
// hit during a step records that step as failed with a timeout.
func (r *Runner) interrupt(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, stepIndex int) {
	if !errors.Is(context.Cause(ctx), ErrExecutionTimeout) {
		r.finish(ctx, logger, execution, models.ExecutionStatusCancelled, models.ErrorKindCancelled, "execution cancelled")

		return
	}

	message := fmt.Sprintf("execution exceeded its %s deadline", r.timeout)

	if stepIndex >= 0 {
		now := r.now().UTC()
		step := execution.Steps[stepIndex]

		result := models.StepResult{
			Index:      stepIndex,
			Type:       step.Type,
			Status:     models.StepStatusFailed,
			Error:      message,
			ErrorKind:  models.ErrorKindTimeout,
			StartedAt:  now,
			FinishedAt: now,
		}

		if err := r.appendResult(ctx, logger, execution, result); err != nil {
			message = fmt.Sprintf("%s; failed to record step result: %v", message, err)
		}
	}

	r.finish(ctx, logger, execution, models.ExecutionStatusFailed, models.ErrorKindTimeout, message)
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, status models.ExecutionStatus, kind models.ErrorKind, message string) {
	r.markFinished(execution, status, kind, message)

	otelhelper.RecordOutcome(trace.SpanFromContext(ctx), status, kind, message)

	if err := r.executions.Save(context.WithoutCancel(ctx), execution); err != nil {
		logger.ErrorContext(ctx, "Failed to persist execution outcome", "status", status, "error", err)
	}

	logger.InfoContext(ctx, "Execution finished",
		"status", status,
		"error_kind", kind,
		"error", message,
		"steps_executed", len(execution.StepResults),
		"duration", execution.Duration(),
	)

	r.publish(ctx, logger, execution.ID, &events.ExecutionFinished{
		BaseEvent:     events.NewBaseEvent(events.ExecutionFinishedEvent, execution.WorkflowID),
		ExecutionID:   execution.ID,
		Status:        status,
		ErrorKind:     kind,
		Error:         message,
		StepsExecuted: len(execution.StepResults),
		DurationMs:    execution.Duration().Milliseconds(),
	})
}

func (r *Runner) markFinished(execution *models.WorkflowExecution, status models.ExecutionStatus, kind models.ErrorKind, message string) {
	finished := r.now().UTC()

	execution.Status = status
	execution.ErrorKind = kind
	execution.Error = message
	execution.FinishedAt = &finished
}

func (r *Runner) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(context.WithoutCancel(ctx), key, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish execution event", "event_type", event.GetType(), "error", err)
	}
}

// isInterruption reports whether err is the execution context ending rather than a step failure.
func isInterruption(ctx context.Context, err error) bool {
	var stepErr *steps.StepError
	if errors.As(err, &stepErr) {
		return false
	}

	return ctx.Err() != nil
}

func initialContext(execution *models.WorkflowExecution) map[string]any {
	execCtx := make(map[string]any, len(execution.TriggerPayload)+len(execution.Steps)+6)

	for k, v := range execution.TriggerPayload {
		execCtx[k] = v
	}

	execCtx["trigger_source"] = string(execution.TriggerSource)
	execCtx["workflow_id"] = execution.WorkflowID
	execCtx["workflow_name"] = execution.WorkflowName
	execCtx["execution_id"] = execution.ID
	execCtx["created_at"] = execution.CreatedAt.Format(time.RFC3339)

	return execCtx
}

// StepResultKey is the context key under which a step's output is exposed.
func StepResultKey(index int) string {
	return "step_" + strconv.Itoa(index) + "_result"
}

func mergeOutput(execCtx map[string]any, index int, stepType models.StepType, output any) {
	execCtx[StepResultKey(index)] = output

	if stepType != models.StepTypeFileProcess {
		return
	}

	if extracted, ok := output.(map[string]any); ok {
		execCtx["content"] = extracted["content"]
		execCtx["metadata"] = extracted["metadata"]
	}
}
