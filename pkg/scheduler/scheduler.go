// Package scheduler decides when workflows run: cron timers, file events and manual
// triggers all funnel through one dispatch loop that only enqueues executions onto
// the worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/fileflow/pkg/fileevents"
	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/workerpool"
	"github.com/dukex/fileflow/pkg/workflow"
)

const (
	DefaultWorkers             = 4
	DefaultQueueSize           = 100
	DefaultMaintenanceInterval = time.Hour
)

// Executor drives a pending execution to a terminal status.
type Executor interface {
	Execute(ctx context.Context, execution *models.WorkflowExecution) *models.WorkflowExecution
}

// Config tunes the scheduler. Zero values fall back to the defaults.
type Config struct {
	Workers             int
	QueueSize           int
	LivenessTimeout     time.Duration
	MaxExecutions       int
	MaintenanceInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}

	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}

	if c.MaxExecutions <= 0 {
		c.MaxExecutions = DefaultMaxExecutions
	}

	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}

	return c
}

type dispatchResult struct {
	execution *models.WorkflowExecution
	err       error
}

type dispatchRequest struct {
	workflow *models.Workflow
	source   models.TriggerSource
	payload  map[string]any
	// resume carries a pending execution created by an earlier process.
	resume *models.WorkflowExecution
	reply  chan dispatchResult
}

type Scheduler struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	executor   Executor
	matcher    *workflow.TriggerMatcher
	pool       *workerpool.Pool
	cron       *CronRegistry
	reconciler *Reconciler
	retention  *Retention
	sources    []fileevents.Source
	config     Config
	logger     *slog.Logger
	now        func() time.Time

	requests chan dispatchRequest
	quit     chan struct{}
	// sendMu keeps quit from closing while a request is being enqueued.
	sendMu sync.RWMutex

	mu      sync.Mutex
	live    map[string]context.CancelCauseFunc
	started bool
	stopped bool

	runCtx    context.Context
	cancelRun context.CancelCauseFunc
	wg        sync.WaitGroup
}

func New(p persistence.Persistence, executor Executor, sources []fileevents.Source, config Config, logger *slog.Logger) *Scheduler {
	config = config.withDefaults()
	logger = logger.With("module", "scheduler")

	s := &Scheduler{
		workflows:  p.WorkflowRepository(),
		executions: p.ExecutionRepository(),
		executor:   executor,
		matcher:    workflow.NewTriggerMatcher(logger),
		pool:       workerpool.New(config.Workers, config.QueueSize, logger),
		cron:       NewCronRegistry(logger),
		sources:    sources,
		config:     config,
		logger:     logger,
		now:        time.Now,
		requests:   make(chan dispatchRequest, config.QueueSize),
		quit:       make(chan struct{}),
		live:       make(map[string]context.CancelCauseFunc),
	}

	s.reconciler = NewReconciler(s.executions, config.LivenessTimeout, s.IsLive, logger)
	s.retention = NewRetention(s.workflows, s.executions, config.MaxExecutions, logger)

	return s
}

// Start reconciles executions left by a previous process, registers cron entries,
// subscribes the file event sources and begins dispatching.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()

		return errors.New("scheduler already started")
	}

	s.started = true
	s.runCtx, s.cancelRun = context.WithCancelCause(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Starting scheduler",
		"workers", s.config.Workers,
		"queue_size", s.config.QueueSize,
		"liveness_timeout", s.config.LivenessTimeout)

	s.pool.Start(s.runCtx)

	s.wg.Add(1)

	go s.dispatchLoop()

	report, reconcileErr := s.reconciler.ReconcileAll(ctx)
	if _, err := s.resume(ctx, report, reconcileErr); err != nil {
		s.logger.ErrorContext(ctx, "Startup reconciliation failed", "error", err)
	}

	s.prune(ctx)

	scheduled, err := s.workflows.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduled workflows: %w", err)
	}

	for _, wf := range scheduled {
		if err := s.Sync(wf); err != nil {
			s.logger.ErrorContext(ctx, "Skipping workflow with invalid schedule",
				"workflow_id", wf.ID, "cron", wf.CronExpression, "error", err)
		}
	}

	s.cron.Start()

	for _, source := range s.sources {
		if err := source.Start(s.runCtx, s.HandleFileEvent); err != nil {
			return fmt.Errorf("failed to start file event source: %w", err)
		}
	}

	s.wg.Add(1)

	go s.maintenanceLoop()

	s.logger.InfoContext(ctx, "Scheduler started", "cron_entries", s.cron.Len(), "sources", len(s.sources))

	return nil
}

// Stop stops accepting work, cancels live executions so they record a cancelled
// outcome, and waits for workers to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()

		return nil
	}

	s.stopped = true
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Stopping scheduler")

	s.cron.Stop(ctx)

	var errs []error

	for _, source := range s.sources {
		if err := source.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.sendMu.Lock()
	close(s.quit)
	s.sendMu.Unlock()

	s.wg.Wait()

	s.cancelRun(ErrShutdown)

	s.mu.Lock()
	for _, cancel := range s.live {
		cancel(ErrShutdown)
	}
	s.mu.Unlock()

	s.pool.Stop()

	s.logger.InfoContext(ctx, "Scheduler stopped")

	return errors.Join(errs...)
}

// Sync brings the cron entry of wf in line with its definition.
func (s *Scheduler) Sync(wf *models.Workflow) error {
	if !wf.IsScheduled() {
		s.cron.Remove(wf.ID)

		return nil
	}

	workflowID := wf.ID

	return s.cron.Register(workflowID, wf.CronExpression, func() {
		s.fireScheduled(workflowID)
	})
}

// Remove drops the cron entry of a deleted workflow.
func (s *Scheduler) Remove(workflowID string) {
	s.cron.Remove(workflowID)
}

// NextRun reports the next cron activation of a registered workflow.
func (s *Scheduler) NextRun(workflowID string) (time.Time, bool) {
	return s.cron.Next(workflowID)
}

// Trigger persists a pending execution of wf and enqueues it. The returned execution
// is the pending snapshot; when the queue is full it is already recorded failed and
// ErrQueueFull is returned alongside it.
func (s *Scheduler) Trigger(ctx context.Context, wf *models.Workflow, source models.TriggerSource, payload map[string]any) (*models.WorkflowExecution, error) {
	reply := make(chan dispatchResult, 1)

	if err := s.send(ctx, dispatchRequest{workflow: wf, source: source, payload: payload, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case result := <-reply:
		return result.execution, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleFileEvent dispatches one execution per enabled workflow whose triggers accept
// the event. It never waits for executions to run.
func (s *Scheduler) HandleFileEvent(ctx context.Context, event models.FileEvent) error {
	candidates, err := s.workflows.ListTriggered(ctx)
	if err != nil {
		return fmt.Errorf("failed to load triggered workflows: %w", err)
	}

	matched := s.matcher.MatchWorkflows(event, candidates)

	for _, wf := range matched {
		err := s.send(ctx, dispatchRequest{workflow: wf, source: event.Source(), payload: event.Payload()})
		if err != nil {
			return err
		}
	}

	return nil
}

// Cancel stops an execution. Executions owned by this process are interrupted at their
// next checkpoint; orphaned non-terminal ones are marked cancelled directly. It reports
// false for executions that already finished.
func (s *Scheduler) Cancel(ctx context.Context, executionID string) (bool, error) {
	s.mu.Lock()
	cancel, ok := s.live[executionID]
	s.mu.Unlock()

	if ok {
		s.logger.InfoContext(ctx, "Cancelling execution", "execution_id", executionID)
		cancel(ErrCancelled)

		return true, nil
	}

	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return false, err
	}

	if execution.IsTerminal() {
		return false, nil
	}

	now := s.now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.ErrorKind = models.ErrorKindCancelled
	execution.Error = ErrCancelled.Error()
	execution.FinishedAt = &now

	if err := s.executions.Save(ctx, execution); err != nil {
		return false, fmt.Errorf("failed to cancel execution: %w", err)
	}

	s.logger.InfoContext(ctx, "Cancelled orphaned execution", "execution_id", executionID)

	return true, nil
}

// IsLive reports whether this process owns the execution, queued or running.
func (s *Scheduler) IsLive(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live[executionID]

	return ok
}

// LiveCount returns the number of executions owned by this process.
func (s *Scheduler) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.live)
}

// Reconcile runs one liveness pass and re-enqueues stale pending executions nobody owns.
func (s *Scheduler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report, err := s.reconciler.Reconcile(ctx)

	return s.resume(ctx, report, err)
}

func (s *Scheduler) resume(ctx context.Context, report ReconcileReport, err error) (ReconcileReport, error) {
	for _, execution := range report.Pending {
		if sendErr := s.send(ctx, dispatchRequest{resume: execution}); sendErr != nil {
			return report, sendErr
		}
	}

	return report, err
}

// send hands req to dispatchLoop. A request it accepts is always answered, by
// dispatch or by drain.
func (s *Scheduler) send(ctx context.Context, req dispatchRequest) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	select {
	case <-s.quit:
		return ErrShutdown
	default:
	}

	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case req := <-s.requests:
			execution, err := s.dispatch(req)
			if req.reply != nil {
				req.reply <- dispatchResult{execution: execution, err: err}
			}
		case <-s.quit:
			s.drain()

			return
		}
	}
}

// drain answers requests still buffered at shutdown.
func (s *Scheduler) drain() {
	for {
		select {
		case req := <-s.requests:
			if req.reply != nil {
				req.reply <- dispatchResult{err: ErrShutdown}
			}
		default:
			return
		}
	}
}

func (s *Scheduler) dispatch(req dispatchRequest) (*models.WorkflowExecution, error) {
	ctx := s.runCtx

	execution := req.resume
	if execution != nil {
		if s.IsLive(execution.ID) {
			s.logger.DebugContext(ctx, "Pending execution already owned", "execution_id", execution.ID)

			return execution, nil
		}

		current, err := s.executions.GetByID(ctx, execution.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload pending execution: %w", err)
		}

		if current.Status != models.ExecutionStatusPending {
			return current, nil
		}

		execution = current
	} else {
		execution = workflow.NewExecution(req.workflow, req.source, req.payload, s.now())
	}

	// The entry exists before the pending record does, so a concurrent reconcile
	// never sees an unowned pending execution that is about to be submitted.
	entryCtx, cancelEntry := context.WithCancelCause(context.Background())

	s.mu.Lock()
	s.live[execution.ID] = cancelEntry
	s.mu.Unlock()

	if req.resume == nil {
		if err := s.executions.Save(ctx, execution); err != nil {
			s.release(execution.ID, cancelEntry)
			s.logger.ErrorContext(ctx, "Failed to persist execution",
				"workflow_id", req.workflow.ID, "trigger_source", req.source, "error", err)

			return nil, fmt.Errorf("failed to persist execution: %w", err)
		}
	}

	snapshot := *execution

	err := s.pool.Submit(func(taskCtx context.Context) {
		defer s.release(execution.ID, cancelEntry)

		runCtx, cancel := context.WithCancelCause(taskCtx)
		defer cancel(nil)

		if entryCtx.Err() != nil {
			cancel(context.Cause(entryCtx))
		}

		stop := context.AfterFunc(entryCtx, func() {
			cancel(context.Cause(entryCtx))
		})
		defer stop()

		s.executor.Execute(runCtx, execution)
	})
	if err != nil {
		s.rejectExecution(ctx, execution, err)
		s.release(execution.ID, cancelEntry)

		failed := *execution

		return &failed, ErrQueueFull
	}

	s.logger.DebugContext(ctx, "Execution enqueued",
		"execution_id", execution.ID, "workflow_id", execution.WorkflowID, "trigger_source", execution.TriggerSource)

	return &snapshot, nil
}

func (s *Scheduler) release(executionID string, cancel context.CancelCauseFunc) {
	cancel(nil)

	s.mu.Lock()
	delete(s.live, executionID)
	s.mu.Unlock()
}

func (s *Scheduler) rejectExecution(ctx context.Context, execution *models.WorkflowExecution, cause error) {
	now := s.now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.ErrorKind = models.ErrorKindInternal
	execution.Error = ErrQueueFull.Error()
	execution.FinishedAt = &now

	s.logger.WarnContext(ctx, "Rejected execution",
		"execution_id", execution.ID, "workflow_id", execution.WorkflowID, "error", cause)

	if err := s.executions.Save(ctx, execution); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record rejected execution", "execution_id", execution.ID, "error", err)
	}
}

func (s *Scheduler) fireScheduled(workflowID string) {
	ctx := s.runCtx

	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load scheduled workflow", "workflow_id", workflowID, "error", err)

		return
	}

	if wf == nil || !wf.IsScheduled() {
		s.logger.InfoContext(ctx, "Workflow no longer scheduled, removing cron entry", "workflow_id", workflowID)
		s.cron.Remove(workflowID)

		return
	}

	s.logger.InfoContext(ctx, "Cron fired", "workflow_id", workflowID, "cron", wf.CronExpression)

	payload := map[string]any{"scheduled_at": s.now().UTC().Format(time.RFC3339)}

	if err := s.send(ctx, dispatchRequest{workflow: wf, source: models.TriggerSourceScheduled, payload: payload}); err != nil {
		s.logger.WarnContext(ctx, "Dropped scheduled fire", "workflow_id", workflowID, "error", err)
	}
}

func (s *Scheduler) maintenanceLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.maintain(s.runCtx)
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) maintain(ctx context.Context) {
	if _, err := s.Reconcile(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Liveness reconciliation failed", "error", err)
	}

	s.prune(ctx)
}

func (s *Scheduler) prune(ctx context.Context) {
	if _, err := s.retention.Prune(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Execution retention failed", "error", err)
	}
}
