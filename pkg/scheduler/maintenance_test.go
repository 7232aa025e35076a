package scheduler_test

import (
	"testing"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/persistence/file"
	"github.com/dukex/fileflow/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningExecution(id string, started time.Time, stepEnds ...time.Time) *models.WorkflowExecution {
	execution := &models.WorkflowExecution{
		ID:            id,
		WorkflowID:    "wf",
		TriggerSource: models.TriggerSourceManual,
		Status:        models.ExecutionStatusRunning,
		CreatedAt:     started,
		StartedAt:     &started,
	}

	for i, end := range stepEnds {
		execution.StepResults = append(execution.StepResults, models.StepResult{
			Index:      i,
			Type:       models.StepTypeLog,
			Status:     models.StepStatusSucceeded,
			StartedAt:  end,
			FinishedAt: end,
		})
	}

	return execution
}

func TestReconciler(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	executions := p.ExecutionRepository()
	now := time.Now().UTC()

	stale := runningExecution("stale", now.Add(-2*time.Hour))
	progressing := runningExecution("progressing", now.Add(-2*time.Hour), now.Add(-time.Minute))
	live := runningExecution("live", now.Add(-2*time.Hour))
	pending := &models.WorkflowExecution{
		ID: "pending", WorkflowID: "wf", TriggerSource: models.TriggerSourceScheduled,
		Status: models.ExecutionStatusPending, CreatedAt: now.Add(-time.Hour),
	}
	fresh := &models.WorkflowExecution{
		ID: "fresh", WorkflowID: "wf", TriggerSource: models.TriggerSourceManual,
		Status: models.ExecutionStatusPending, CreatedAt: now.Add(-time.Second),
	}

	for _, execution := range []*models.WorkflowExecution{stale, progressing, live, pending, fresh} {
		steps := execution.StepResults
		execution.StepResults = nil

		require.NoError(t, executions.Save(t.Context(), execution))

		for _, result := range steps {
			require.NoError(t, executions.AppendStepResult(t.Context(), execution.ID, result))
		}
	}

	reconciler := scheduler.NewReconciler(executions, 15*time.Minute, func(id string) bool { return id == "live" }, testLogger())

	report, err := reconciler.Reconcile(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []string{"stale"}, report.Failed)
	require.Len(t, report.Pending, 1)
	assert.Equal(t, "pending", report.Pending[0].ID)

	failed, err := executions.GetByID(t.Context(), "stale")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, models.ErrorKindLiveness, failed.ErrorKind)
	assert.Contains(t, failed.Error, "liveness timeout")

	for _, id := range []string{"progressing", "live"} {
		untouched, err := executions.GetByID(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, untouched.Status, id)
	}

	again, err := reconciler.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Empty(t, again.Failed)

	all, err := reconciler.ReconcileAll(t.Context())
	require.NoError(t, err)

	var ids []string
	for _, execution := range all.Pending {
		ids = append(ids, execution.ID)
	}

	assert.ElementsMatch(t, []string{"pending", "fresh"}, ids)
}

func TestLivenessError(t *testing.T) {
	t.Parallel()

	err := error(&scheduler.LivenessError{ExecutionID: "e-1", LastActivity: time.Unix(0, 0).UTC(), Timeout: time.Minute})

	assert.True(t, scheduler.IsLivenessError(err))
	assert.Contains(t, err.Error(), "e-1")
	assert.False(t, scheduler.IsLivenessError(scheduler.ErrCancelled))
}

func TestRetention(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), &models.Workflow{ID: "wf", Name: "Kept"}))

	base := time.Now().UTC().Add(-time.Hour)

	for i := range 5 {
		finished := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, p.ExecutionRepository().Save(t.Context(), &models.WorkflowExecution{
			ID:            "done-" + string(rune('a'+i)),
			WorkflowID:    "wf",
			TriggerSource: models.TriggerSourceManual,
			Status:        models.ExecutionStatusCompleted,
			CreatedAt:     finished,
			FinishedAt:    &finished,
		}))
	}

	require.NoError(t, p.ExecutionRepository().Save(t.Context(), runningExecution("in-flight", base.Add(-time.Hour))))

	retention := scheduler.NewRetention(p.WorkflowRepository(), p.ExecutionRepository(), 2, testLogger())

	removed, err := retention.Prune(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	remaining, err := p.ExecutionRepository().List(t.Context(), persistence.ExecutionFilter{WorkflowID: "wf"})
	require.NoError(t, err)

	ids := make([]string, 0, len(remaining))
	for _, execution := range remaining {
		ids = append(ids, execution.ID)
	}

	assert.ElementsMatch(t, []string{"done-e", "done-d", "in-flight"}, ids)
}
