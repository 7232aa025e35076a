package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/persistence/file"
	"github.com/dukex/fileflow/pkg/scheduler"
	"github.com/dukex/fileflow/pkg/steps"
	"github.com/dukex/fileflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestScheduler(t *testing.T, config scheduler.Config) (*scheduler.Scheduler, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	interpreter := steps.NewInterpreter(nil, nil, testLogger())
	runner := workflow.NewRunner(p.ExecutionRepository(), interpreter, testLogger())

	return scheduler.New(p, runner, nil, config, testLogger()), p
}

func startScheduler(t *testing.T, s *scheduler.Scheduler) {
	t.Helper()

	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
}

func saveWorkflow(t *testing.T, p persistence.Persistence, wf *models.Workflow) *models.Workflow {
	t.Helper()

	require.NoError(t, p.WorkflowRepository().Save(t.Context(), wf))

	return wf
}

func waitForStatus(t *testing.T, p persistence.Persistence, executionID string, status models.ExecutionStatus) *models.WorkflowExecution {
	t.Helper()

	var found *models.WorkflowExecution

	require.Eventually(t, func() bool {
		execution, err := p.ExecutionRepository().GetByID(context.Background(), executionID)
		if err != nil {
			return false
		}

		found = execution

		return execution.Status == status
	}, 5*time.Second, 10*time.Millisecond)

	return found
}

func listExecutions(t *testing.T, p persistence.Persistence) []*models.WorkflowExecution {
	t.Helper()

	list, err := p.ExecutionRepository().List(context.Background(), persistence.ExecutionFilter{})
	require.NoError(t, err)

	return list
}

func uploadWorkflow(id string, extensions ...string) *models.Workflow {
	return &models.Workflow{
		ID:       id,
		Name:     "Workflow " + id,
		Enabled:  true,
		Triggers: []models.Trigger{{Type: models.TriggerTypeFileUpload, FileExtensions: extensions}},
		Steps: []models.Step{
			{Type: models.StepTypeLog, Params: map[string]any{"message": "got {filename} in {workflow_id}"}},
		},
	}
}

func TestScheduler_ManualTrigger(t *testing.T) {
	s, p := newTestScheduler(t, scheduler.Config{})
	startScheduler(t, s)

	wf := saveWorkflow(t, p, &models.Workflow{
		ID:   "manual",
		Name: "Manual",
		Steps: []models.Step{
			{Type: models.StepTypeLog, Params: map[string]any{"message": "hello {filename}"}},
		},
	})

	pending, err := s.Trigger(t.Context(), wf, models.TriggerSourceManual, map[string]any{"filename": "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, pending.Status)
	assert.Equal(t, "manual", pending.WorkflowID)

	done := waitForStatus(t, p, pending.ID, models.ExecutionStatusCompleted)
	require.Len(t, done.StepResults, 1)
	assert.Equal(t, "hello a.pdf", done.StepResults[0].Output)
	assert.Equal(t, models.TriggerSourceManual, done.TriggerSource)
}

func TestScheduler_FileEventFansOut(t *testing.T) {
	s, p := newTestScheduler(t, scheduler.Config{})
	startScheduler(t, s)

	saveWorkflow(t, p, uploadWorkflow("pdf-a", ".pdf"))
	saveWorkflow(t, p, uploadWorkflow("pdf-b", "PDF"))
	saveWorkflow(t, p, uploadWorkflow("csv", ".csv"))

	disabled := uploadWorkflow("disabled", ".pdf")
	disabled.Enabled = false
	saveWorkflow(t, p, disabled)

	event := models.FileEvent{Kind: models.TriggerTypeFileUpload, FileID: "f-1", Filename: "scan.pdf", Size: 10}
	require.NoError(t, s.HandleFileEvent(t.Context(), event))

	require.Eventually(t, func() bool {
		list := listExecutions(t, p)
		if len(list) != 2 {
			return false
		}

		for _, execution := range list {
			if execution.Status != models.ExecutionStatusCompleted {
				return false
			}
		}

		return true
	}, 5*time.Second, 10*time.Millisecond)

	list := listExecutions(t, p)
	assert.NotEqual(t, list[0].ID, list[1].ID)

	byWorkflow := map[string]*models.WorkflowExecution{}
	for _, execution := range list {
		byWorkflow[execution.WorkflowID] = execution
	}

	require.Contains(t, byWorkflow, "pdf-a")
	require.Contains(t, byWorkflow, "pdf-b")
	assert.Equal(t, "got scan.pdf in pdf-a", byWorkflow["pdf-a"].StepResults[0].Output)
	assert.Equal(t, "got scan.pdf in pdf-b", byWorkflow["pdf-b"].StepResults[0].Output)
	assert.Equal(t, models.TriggerSourceFileUpload, byWorkflow["pdf-a"].TriggerSource)
	assert.Equal(t, "f-1", byWorkflow["pdf-a"].TriggerPayload["file_id"])
}

func TestScheduler_FileEventWithoutMatch(t *testing.T) {
	s, p := newTestScheduler(t, scheduler.Config{})
	startScheduler(t, s)

	saveWorkflow(t, p, uploadWorkflow("pdf", ".pdf"))

	event := models.FileEvent{Kind: models.TriggerTypeFileUpload, FileID: "f-2", Filename: "sheet.csv", Extension: ".csv"}
	require.NoError(t, s.HandleFileEvent(t.Context(), event))

	assert.Never(t, func() bool {
		return len(listExecutions(t, p)) > 0
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestScheduler_CancelRunningExecution(t *testing.T) {
	s, p := newTestScheduler(t, scheduler.Config{})
	startScheduler(t, s)

	wf := saveWorkflow(t, p, &models.Workflow{
		ID:   "slow",
		Name: "Slow",
		Steps: []models.Step{
			{Type: models.StepTypeLog, Params: map[string]any{"message": "start"}},
			{Type: models.StepTypeDelay, Params: map[string]any{"delay": 3600}},
			{Type: models.StepTypeLog, Params: map[string]any{"message": "end"}},
		},
	})

	pending, err := s.Trigger(t.Context(), wf, models.TriggerSourceManual, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		execution, err := p.ExecutionRepository().GetByID(context.Background(), pending.ID)

		return err == nil && len(execution.StepResults) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, s.IsLive(pending.ID))

	cancelled, err := s.Cancel(t.Context(), pending.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	done := waitForStatus(t, p, pending.ID, models.ExecutionStatusCancelled)
	assert.Len(t, done.StepResults, 1)
	assert.Equal(t, models.ErrorKindCancelled, done.ErrorKind)

	require.Eventually(t, func() bool { return !s.IsLive(pending.ID) }, 5*time.Second, 10*time.Millisecond)

	again, err := s.Cancel(t.Context(), pending.ID)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestScheduler_CancelOrphanedExecution(t *testing.T) {
	s, p := newTestScheduler(t, scheduler.Config{})
	startScheduler(t, s)

	started := time.Now().UTC()
	orphan := &models.WorkflowExecution{
		ID:            "orphan",
		WorkflowID:    "wf",
		TriggerSource: models.TriggerSourceManual,
		Status:        models.ExecutionStatusRunning,
		CreatedAt:     started,
		StartedAt:     &started,
	}
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), orphan))

	cancelled, err := s.Cancel(t.Context(), "orphan")
	require.NoError(t, err)
	assert.True(t, cancelled)

	stored, err := p.ExecutionRepository().GetByID(t.Context(), "orphan")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.NotNil(t, stored.FinishedAt)

	_, err = s.Cancel(t.Context(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestScheduler_StartReconcilesPreviousRun(t *testing.T) {
	s, p := newTestScheduler(t, scheduler.Config{LivenessTimeout: 15 * time.Minute})

	wf := saveWorkflow(t, p, &models.Workflow{
		ID:    "wf",
		Name:  "Recovered",
		Steps: []models.Step{{Type: models.StepTypeLog, Params: map[string]any{"message": "resumed"}}},
	})

	stale := time.Now().UTC().Add(-time.Hour)
	abandoned := &models.WorkflowExecution{
		ID:            "abandoned",
		WorkflowID:    wf.ID,
		TriggerSource: models.TriggerSourceManual,
		Status:        models.ExecutionStatusRunning,
		Steps:         wf.Steps,
		CreatedAt:     stale,
		StartedAt:     &stale,
	}
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), abandoned))

	queued := workflow.NewExecution(wf, models.TriggerSourceScheduled, nil, time.Now())
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), queued))

	startScheduler(t, s)

	failed, err := p.ExecutionRepository().GetByID(t.Context(), "abandoned")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, models.ErrorKindLiveness, failed.ErrorKind)

	resumed := waitForStatus(t, p, queued.ID, models.ExecutionStatusCompleted)
	require.Len(t, resumed.StepResults, 1)
	assert.Equal(t, "resumed", resumed.StepResults[0].Output)
}

// blockingExecutor holds every execution until released.
type blockingExecutor struct {
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (e *blockingExecutor) Execute(_ context.Context, execution *models.WorkflowExecution) *models.WorkflowExecution {
	e.calls.Add(1)
	<-e.release

	return execution
}

func (e *blockingExecutor) unblock() {
	e.once.Do(func() { close(e.release) })
}

func TestScheduler_QueueFullFailsExecution(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	executor := &blockingExecutor{release: make(chan struct{})}
	s := scheduler.New(p, executor, nil, scheduler.Config{Workers: 1, QueueSize: 1}, testLogger())

	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() {
		executor.unblock()
		_ = s.Stop(context.Background())
	})

	wf := saveWorkflow(t, p, uploadWorkflow("busy"))

	var rejected *models.WorkflowExecution

	for range 20 {
		execution, err := s.Trigger(t.Context(), wf, models.TriggerSourceManual, nil)
		if errors.Is(err, scheduler.ErrQueueFull) {
			rejected = execution

			break
		}

		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	require.NotNil(t, rejected, "queue never filled up")
	assert.Equal(t, models.ExecutionStatusFailed, rejected.Status)

	stored, err := p.ExecutionRepository().GetByID(t.Context(), rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, "worker queue full", stored.Error)
	assert.False(t, s.IsLive(rejected.ID))
}

func TestScheduler_SyncCronEntries(t *testing.T) {
	s, _ := newTestScheduler(t, scheduler.Config{})
	startScheduler(t, s)

	wf := &models.Workflow{ID: "nightly", Name: "Nightly", Enabled: true, CronExpression: "0 2 * * *"}
	require.NoError(t, s.Sync(wf))

	require.Eventually(t, func() bool {
		next, ok := s.NextRun("nightly")

		return ok && next.After(time.Now())
	}, 2*time.Second, 10*time.Millisecond)

	wf.Enabled = false
	require.NoError(t, s.Sync(wf))

	_, ok := s.NextRun("nightly")
	assert.False(t, ok)

	err := s.Sync(&models.Workflow{ID: "broken", Enabled: true, CronExpression: "every day"})
	require.ErrorIs(t, err, scheduler.ErrInvalidCron)

	require.NoError(t, s.Sync(wf))
	s.Remove("nightly")

	_, ok = s.NextRun("nightly")
	assert.False(t, ok)
}

func TestScheduler_StopCancelsInFlight(t *testing.T) {
	s, p := newTestScheduler(t, scheduler.Config{})
	require.NoError(t, s.Start(t.Context()))

	wf := saveWorkflow(t, p, &models.Workflow{
		ID:    "slow",
		Name:  "Slow",
		Steps: []models.Step{{Type: models.StepTypeDelay, Params: map[string]any{"delay": 3600}}},
	})

	pending, err := s.Trigger(t.Context(), wf, models.TriggerSourceManual, nil)
	require.NoError(t, err)

	waitForStatus(t, p, pending.ID, models.ExecutionStatusRunning)

	require.NoError(t, s.Stop(t.Context()))

	stored, err := p.ExecutionRepository().GetByID(t.Context(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)

	_, err = s.Trigger(t.Context(), wf, models.TriggerSourceManual, nil)
	assert.ErrorIs(t, err, scheduler.ErrShutdown)
}

// hookedExecutions calls afterSave once a save has been stored.
type hookedExecutions struct {
	persistence.ExecutionRepository

	afterSave func(ctx context.Context, execution *models.WorkflowExecution)
}

func (r *hookedExecutions) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	if err := r.ExecutionRepository.Save(ctx, execution); err != nil {
		return err
	}

	if r.afterSave != nil {
		r.afterSave(ctx, execution)
	}

	return nil
}

type hookedPersistence struct {
	persistence.Persistence

	executions *hookedExecutions
}

func (p *hookedPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func TestScheduler_ReconcileDuringDispatchRunsOnce(t *testing.T) {
	base := file.NewPersistence(t.TempDir())
	hooked := &hookedPersistence{
		Persistence: base,
		executions:  &hookedExecutions{ExecutionRepository: base.ExecutionRepository()},
	}
	executor := &blockingExecutor{release: make(chan struct{})}

	// Every pending execution counts as stale, so only ownership keeps it from
	// being re-enqueued.
	s := scheduler.New(hooked, executor, nil, scheduler.Config{LivenessTimeout: time.Nanosecond}, testLogger())

	var once sync.Once

	seen := make(chan int, 1)
	hooked.executions.afterSave = func(ctx context.Context, execution *models.WorkflowExecution) {
		if execution.Status != models.ExecutionStatusPending {
			return
		}

		once.Do(func() {
			report, err := s.Reconcile(ctx)
			assert.NoError(t, err)

			seen <- len(report.Pending)
		})
	}

	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() {
		executor.unblock()
		_ = s.Stop(context.Background())
	})

	wf := saveWorkflow(t, base, uploadWorkflow("once"))

	pending, err := s.Trigger(t.Context(), wf, models.TriggerSourceManual, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, <-seen)

	require.Eventually(t, func() bool {
		return executor.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	report, err := s.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Empty(t, report.Pending)
	assert.True(t, s.IsLive(pending.ID))

	assert.Never(t, func() bool {
		return executor.calls.Load() > 1
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestScheduler_TriggerRacingStopReturns(t *testing.T) {
	s, p := newTestScheduler(t, scheduler.Config{})
	require.NoError(t, s.Start(t.Context()))

	wf := saveWorkflow(t, p, uploadWorkflow("late"))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	const callers = 50

	errs := make(chan error, callers)

	var wg sync.WaitGroup

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := s.Trigger(ctx, wf, models.TriggerSourceManual, nil)
			errs <- err
		}()
	}

	require.NoError(t, s.Stop(t.Context()))
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, scheduler.ErrShutdown)
		}
	}
}
