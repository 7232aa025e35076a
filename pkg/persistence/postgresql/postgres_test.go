package postgresql_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"step_results", "workflow_executions", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("fileflow_test"),
			postgres.WithUsername("fileflow"),
			postgres.WithPassword("fileflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range []string{"workflows", "workflow_executions", "step_results", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestWorkflowRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		Name:        "Invoice intake",
		Description: "Store invoices",
		Steps: []models.Step{
			{Type: models.StepTypeFileProcess},
			{Type: models.StepTypeAirtableCreate, Params: map[string]any{
				"table":  "Invoices",
				"fields": map[string]any{"Name": "{filename}"},
			}},
		},
		Triggers: []models.Trigger{
			{Type: models.TriggerTypeFileUpload, FileExtensions: []string{".pdf"}, MaxFileSize: 1 << 20},
		},
		Enabled: true,
	}

	require.NoError(t, repo.Save(ctx, workflow))
	assert.NotEmpty(t, workflow.ID)

	got, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Invoice intake", got.Name)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, models.StepTypeAirtableCreate, got.Steps[1].Type)
	assert.Equal(t, "{filename}", got.Steps[1].Params["fields"].(map[string]any)["Name"])
	assert.Equal(t, int64(1<<20), got.Triggers[0].MaxFileSize)

	triggered, err := repo.ListTriggered(ctx)
	require.NoError(t, err)
	assert.Len(t, triggered, 1)

	scheduled, err := repo.ListScheduled(ctx)
	require.NoError(t, err)
	assert.Empty(t, scheduled)

	got.CronExpression = "0 9 * * 1"
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.Save(ctx, got))

	scheduled, err = repo.ListScheduled(ctx)
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)

	missing, err := repo.GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Delete(ctx, workflow.ID))
	assert.True(t, persistence.IsWorkflowNotFound(repo.Delete(ctx, workflow.ID)))
}

func TestWorkflowRepository_RoundTripIsByteIdentical(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		Name: "Round trip",
		Steps: []models.Step{
			{Type: models.StepTypeFileProcess, Name: "extract"},
			{Type: models.StepTypeCondition, Params: map[string]any{
				"condition": map[string]any{"operator": "greater_than", "left": "{file_size}", "right": 1048576},
			}},
			{Type: models.StepTypeAirtableCreate, Name: "store", Params: map[string]any{
				"table": "Invoices",
				"fields": map[string]any{
					"Name":     "{filename}",
					"Paid":     true,
					"Amount":   12.5,
					"Tags":     []any{"inbox", "pdf"},
					"Customer": map[string]any{"id": 42, "vip": false, "note": nil},
				},
			}},
			{Type: models.StepTypeDelay, Params: map[string]any{"delay": 30}},
			{Type: models.StepTypeLog, Params: map[string]any{"message": "stored {filename} ✓"}},
		},
		Triggers: []models.Trigger{
			{Type: models.TriggerTypeFileUpload, FileExtensions: []string{".pdf", "PNG"}, MaxFileSize: 10 << 20, MimeTypes: []string{"application/pdf"}},
			{Type: models.TriggerTypeFileProcessed, FileExtensions: []string{".csv"}},
		},
		Enabled: true,
	}

	wantSteps, err := json.Marshal(workflow.Steps)
	require.NoError(t, err)

	wantTriggers, err := json.Marshal(workflow.Triggers)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, workflow))

	got, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	gotSteps, err := json.Marshal(got.Steps)
	require.NoError(t, err)

	gotTriggers, err := json.Marshal(got.Triggers)
	require.NoError(t, err)

	assert.Equal(t, string(wantSteps), string(gotSteps))
	assert.Equal(t, string(wantTriggers), string(gotTriggers))
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	created := time.Now().UTC().Truncate(time.Millisecond)
	execution := &models.WorkflowExecution{
		ID:             uuid.NewString(),
		WorkflowID:     "wf-1",
		WorkflowName:   "Invoice intake",
		TriggerSource:  models.TriggerSourceFileUpload,
		TriggerPayload: map[string]any{"filename": "a.pdf", "file_size": float64(2048)},
		Status:         models.ExecutionStatusPending,
		Steps:          []models.Step{{Type: models.StepTypeLog, Params: map[string]any{"message": "hi"}}},
		CreatedAt:      created,
	}

	require.NoError(t, repo.Save(ctx, execution))

	started := created.Add(time.Second)
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &started
	require.NoError(t, repo.Save(ctx, execution))

	require.NoError(t, repo.AppendStepResult(ctx, execution.ID, models.StepResult{
		Index:      0,
		Type:       models.StepTypeLog,
		Status:     models.StepStatusSucceeded,
		Output:     "hi",
		StartedAt:  started,
		FinishedAt: started.Add(time.Millisecond),
		DurationMs: 1,
	}))

	got, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.Equal(t, "a.pdf", got.TriggerPayload["filename"])
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	require.Len(t, got.StepResults, 1)
	assert.Equal(t, "hi", got.StepResults[0].Output)

	err = repo.AppendStepResult(ctx, "missing", models.StepResult{Index: 0, Type: models.StepTypeLog, Status: models.StepStatusSucceeded})
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_ListCountPrune(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	statuses := []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusRunning,
		models.ExecutionStatusCompleted,
	}

	ids := make([]string, len(statuses))
	for i, status := range statuses {
		ids[i] = uuid.NewString()
		require.NoError(t, repo.Save(ctx, &models.WorkflowExecution{
			ID:            ids[i],
			WorkflowID:    "wf-a",
			TriggerSource: models.TriggerSourceManual,
			Status:        status,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.List(ctx, persistence.ExecutionFilter{WorkflowID: "wf-a"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID)

	failed, err := repo.List(ctx, persistence.ExecutionFilter{Status: []models.ExecutionStatus{models.ExecutionStatusFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[1], failed[0].ID)

	counts, err := repo.CountByStatus(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.ExecutionStatusCompleted])

	removed, err := repo.Prune(ctx, "wf-a", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	remaining, err := repo.List(ctx, persistence.ExecutionFilter{WorkflowID: "wf-a"})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
