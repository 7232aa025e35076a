package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExecutor struct {
	calls atomic.Int32
}

func (e *countingExecutor) Execute(_ context.Context, execution *models.WorkflowExecution) *models.WorkflowExecution {
	e.calls.Add(1)

	return execution
}

func TestDispatch_ResumeSkipsOwnedExecution(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	executor := &countingExecutor{}
	s := New(p, executor, nil, Config{}, slog.New(slog.DiscardHandler))

	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	execution := &models.WorkflowExecution{
		ID:            "owned",
		WorkflowID:    "wf",
		TriggerSource: models.TriggerSourceManual,
		Status:        models.ExecutionStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), execution))

	s.mu.Lock()
	s.live[execution.ID] = func(error) {}
	s.mu.Unlock()

	reply := make(chan dispatchResult, 1)
	require.NoError(t, s.send(t.Context(), dispatchRequest{resume: execution, reply: reply}))

	result := <-reply
	require.NoError(t, result.err)
	assert.Never(t, func() bool {
		return executor.calls.Load() > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.True(t, s.IsLive(execution.ID))
}
