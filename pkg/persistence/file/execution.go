package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
)

const (
	headerSuffix = ".json"
	stepsSuffix  = ".steps.jsonl"
)

// ExecutionRepository stores each execution as a JSON header plus an append-only
// JSON Lines log of its step results.
type ExecutionRepository struct {
	root string
	mu   sync.RWMutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

// Save writes the execution header. Step results live in the step log and are not
// rewritten here.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	if err := os.MkdirAll(er.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	header := *execution
	header.StepResults = nil

	return writeJSON(filepath.Join(er.dir(), execution.ID+headerSuffix), &header)
}

// AppendStepResult appends one line to the execution's step log and syncs it to disk.
func (er *ExecutionRepository) AppendStepResult(_ context.Context, executionID string, result models.StepResult) error {
	if err := validateID(executionID); err != nil {
		return persistence.NewExecutionError("AppendStepResult", executionID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	if _, err := os.Stat(filepath.Join(er.dir(), executionID+headerSuffix)); os.IsNotExist(err) {
		return persistence.NewExecutionError("AppendStepResult", executionID, persistence.ErrExecutionNotFound)
	}

	line, err := json.Marshal(result)
	if err != nil {
		return persistence.NewExecutionError("AppendStepResult", executionID, err)
	}

	f, err := os.OpenFile(filepath.Join(er.dir(), executionID+stepsSuffix), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- executionID is validated
	if err != nil {
		return persistence.NewExecutionError("AppendStepResult", executionID, err)
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()

		return persistence.NewExecutionError("AppendStepResult", executionID, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return persistence.NewExecutionError("AppendStepResult", executionID, err)
	}

	return f.Close()
}

// GetByID loads an execution header and replays its step log.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	execution, err := er.read(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) read(id string) (*models.WorkflowExecution, error) {
	body, err := os.ReadFile(filepath.Join(er.dir(), id+headerSuffix)) // #nosec G304 -- id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to read execution: %w", err)
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal(body, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	results, err := er.readSteps(id)
	if err != nil {
		return nil, err
	}

	execution.StepResults = results

	return &execution, nil
}

func (er *ExecutionRepository) readSteps(id string) ([]models.StepResult, error) {
	results := make([]models.StepResult, 0)

	f, err := os.Open(filepath.Join(er.dir(), id+stepsSuffix)) // #nosec G304 -- id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return results, nil
		}

		return nil, fmt.Errorf("failed to open step log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var result models.StepResult
		if err := json.Unmarshal(line, &result); err != nil {
			// a torn trailing line from a crash mid-append is ignored
			break
		}

		results = append(results, result)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read step log: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	return results, nil
}

func (er *ExecutionRepository) all() ([]*models.WorkflowExecution, error) {
	files, err := fs.Glob(os.DirFS(er.dir()), "*"+headerSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(files))

	for _, file := range files {
		execution, err := er.read(strings.TrimSuffix(file, headerSuffix))
		if err != nil {
			if errors.Is(err, persistence.ErrExecutionNotFound) {
				continue
			}

			return nil, err
		}

		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		if executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].ID > executions[j].ID
		}

		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}

// List returns executions matching filter, newest first.
func (er *ExecutionRepository) List(_ context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	filter = filter.Normalize()

	er.mu.RLock()
	defer er.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WorkflowExecution, 0)

	for _, execution := range all {
		if filter.Matches(execution) {
			matched = append(matched, execution)
		}
	}

	if filter.Offset >= len(matched) {
		return []*models.WorkflowExecution{}, nil
	}

	end := min(filter.Offset+filter.Limit, len(matched))

	return matched[filter.Offset:end], nil
}

// CountByStatus counts executions created at or after since.
func (er *ExecutionRepository) CountByStatus(_ context.Context, since time.Time) (map[models.ExecutionStatus]int, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return nil, err
	}

	counts := make(map[models.ExecutionStatus]int)

	for _, execution := range all {
		if execution.CreatedAt.Before(since) {
			continue
		}

		counts[execution.Status]++
	}

	return counts, nil
}

// Prune removes the oldest terminal executions of workflowID beyond keep.
func (er *ExecutionRepository) Prune(_ context.Context, workflowID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	all, err := er.all()
	if err != nil {
		return 0, err
	}

	kept, removed := 0, 0

	for _, execution := range all {
		if execution.WorkflowID != workflowID || !execution.IsTerminal() {
			continue
		}

		if kept < keep {
			kept++

			continue
		}

		for _, suffix := range []string{headerSuffix, stepsSuffix} {
			err := os.Remove(filepath.Join(er.dir(), execution.ID+suffix))
			if err != nil && !os.IsNotExist(err) {
				return removed, persistence.NewExecutionError("Prune", execution.ID, err)
			}
		}

		removed++
	}

	return removed, nil
}
