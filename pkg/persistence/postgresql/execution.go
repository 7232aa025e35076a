package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/lib/pq"
)

// foreign_key_violation
const pqForeignKeyViolation = "23503"

const executionColumns = `
	id
  , workflow_id
  , workflow_name
  , trigger_source
  , trigger_payload
  , status
  , steps
  , error_message
  , error_kind
  , created_at
  , started_at
  , finished_at
`

var terminalStatuses = []string{
	string(models.ExecutionStatusCompleted),
	string(models.ExecutionStatusFailed),
	string(models.ExecutionStatusCancelled),
}

// ExecutionRepository handles execution and step result database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Save upserts the execution header. Step results are stored by AppendStepResult.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	payloadJSON, err := json.Marshal(nonNilMap(execution.TriggerPayload))
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal trigger payload: %w", err))
	}

	stepsJSON, err := json.Marshal(nonNil(execution.Steps))
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal steps: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, workflow_name, trigger_source, trigger_payload,
			status, steps, error_message, error_kind, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			error_kind = EXCLUDED.error_kind,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`,
		execution.ID,
		execution.WorkflowID,
		execution.WorkflowName,
		execution.TriggerSource,
		payloadJSON,
		execution.Status,
		stepsJSON,
		execution.Error,
		execution.ErrorKind,
		execution.CreatedAt,
		execution.StartedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// AppendStepResult inserts one step result row.
func (r *ExecutionRepository) AppendStepResult(ctx context.Context, executionID string, result models.StepResult) error {
	var output []byte

	if result.Output != nil {
		var err error

		output, err = json.Marshal(result.Output)
		if err != nil {
			return persistence.NewExecutionError("AppendStepResult", executionID, fmt.Errorf("failed to marshal output: %w", err))
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO step_results (execution_id, step_index, step_type, status, output,
			error_message, error_kind, started_at, finished_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		executionID,
		result.Index,
		result.Type,
		result.Status,
		output,
		result.Error,
		result.ErrorKind,
		result.StartedAt,
		result.FinishedAt,
		result.DurationMs,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return persistence.NewExecutionError("AppendStepResult", executionID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("AppendStepResult", executionID, err)
	}

	return nil
}

// GetByID loads an execution with its step results.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	if err := r.loadStepResults(ctx, []*models.WorkflowExecution{execution}); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// List returns executions matching filter, newest first.
func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	filter = filter.Normalize()

	var (
		conditions []string
		args       []any
	)

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		conditions = append(conditions, "workflow_id = $"+strconv.Itoa(len(args)))
	}

	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}

		args = append(args, pq.Array(statuses))
		conditions = append(conditions, "status = ANY($"+strconv.Itoa(len(args))+")")
	}

	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	if err := r.loadStepResults(ctx, executions); err != nil {
		return nil, err
	}

	return executions, nil
}

// CountByStatus counts executions created at or after since.
func (r *ExecutionRepository) CountByStatus(ctx context.Context, since time.Time) (map[models.ExecutionStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM workflow_executions
		WHERE created_at >= $1
		GROUP BY status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	counts := make(map[models.ExecutionStatus]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution count: %w", err)
		}

		counts[models.ExecutionStatus(status)] = count
	}

	return counts, rows.Err()
}

// Prune deletes the oldest terminal executions of a workflow beyond keep.
func (r *ExecutionRepository) Prune(ctx context.Context, workflowID string, keep int) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM workflow_executions
		WHERE id IN (
			SELECT id FROM workflow_executions
			WHERE workflow_id = $1 AND status = ANY($2)
			ORDER BY created_at DESC, id DESC
			OFFSET $3
		)
	`, workflowID, pq.Array(terminalStatuses), max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions of workflow %s: %w", workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions of workflow %s: %w", workflowID, err)
	}

	return int(affected), nil
}

func (r *ExecutionRepository) loadStepResults(ctx context.Context, executions []*models.WorkflowExecution) error {
	if len(executions) == 0 {
		return nil
	}

	byID := make(map[string]*models.WorkflowExecution, len(executions))
	ids := make([]string, 0, len(executions))

	for _, e := range executions {
		e.StepResults = make([]models.StepResult, 0)
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT execution_id, step_index, step_type, status, output,
			error_message, error_kind, started_at, finished_at, duration_ms
		FROM step_results
		WHERE execution_id = ANY($1)
		ORDER BY execution_id, step_index
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query step results: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			executionID string
			result      models.StepResult
			output      []byte
		)

		err := rows.Scan(
			&executionID,
			&result.Index,
			&result.Type,
			&result.Status,
			&output,
			&result.Error,
			&result.ErrorKind,
			&result.StartedAt,
			&result.FinishedAt,
			&result.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step result: %w", err)
		}

		if output != nil {
			if err := json.Unmarshal(output, &result.Output); err != nil {
				return fmt.Errorf("failed to unmarshal step output: %w", err)
			}
		}

		if e, ok := byID[executionID]; ok {
			e.StepResults = append(e.StepResults, result)
		}
	}

	return rows.Err()
}

func scanExecution(scanner rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		payloadJSON []byte
		stepsJSON   []byte
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.WorkflowName,
		&execution.TriggerSource,
		&payloadJSON,
		&execution.Status,
		&stepsJSON,
		&execution.Error,
		&execution.ErrorKind,
		&execution.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &execution.TriggerPayload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &execution.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	return &execution, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
