package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/scheduler"
	"github.com/dukex/fileflow/pkg/steps"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultNextRuns is how many upcoming activations are listed for a schedule.
const DefaultNextRuns = 5

// WorkflowScheduler keeps cron registrations in line with stored definitions.
type WorkflowScheduler interface {
	Sync(workflow *models.Workflow) error
	Remove(workflowID string)
}

type Workflow struct {
	persistence persistence.Persistence
	scheduler   WorkflowScheduler
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// NewWorkflow creates a new workflow service. scheduler may be nil when no cron
// registry runs in this process.
func NewWorkflow(persistence persistence.Persistence, scheduler WorkflowScheduler, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		scheduler:   scheduler,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
		now:         time.Now,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	Limit   int
	Offset  int
	Enabled *bool
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// List retrieves workflows newest first, optionally filtered by enabled state.
func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if req.Limit <= 0 {
		req.Limit = persistence.DefaultListLimit
	}

	if req.Limit > persistence.MaxListLimit {
		req.Limit = persistence.MaxListLimit
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	all, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, wf := range all {
		if req.Enabled != nil && wf.Enabled != *req.Enabled {
			continue
		}

		filtered = append(filtered, wf)
	}

	start := min(req.Offset, len(filtered))
	end := min(start+req.Limit, len(filtered))

	return &ListWorkflowsResponse{
		Workflows:   filtered[start:end],
		TotalCount:  int64(len(filtered)),
		HasNextPage: end < len(filtered),
	}, nil
}

// Get retrieves a workflow by its ID.
func (w *Workflow) Get(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("Get", id, ErrWorkflowNotFound)
	}

	return workflow, nil
}

// Create validates and stores a new workflow, registering its schedule.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if err := w.Validate(workflow); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err := w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "name", workflow.Name)
	w.sync(ctx, workflow)

	return workflow, nil
}

// Update replaces an existing workflow by its ID. Executions already created keep
// the steps they captured.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	existing, err := w.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := w.Validate(workflow); err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = w.now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow updated", "workflow_id", workflowID)
	w.sync(ctx, workflow)

	return workflow, nil
}

// SetEnabled switches a workflow on or off.
func (w *Workflow) SetEnabled(ctx context.Context, workflowID string, enabled bool) (*models.Workflow, error) {
	existing, err := w.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	existing.Enabled = enabled

	return w.Update(ctx, workflowID, existing)
}

// Delete removes a workflow by its ID. Its executions are kept.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if _, err := w.Get(ctx, workflowID); err != nil {
		return err
	}

	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if w.scheduler != nil {
		w.scheduler.Remove(workflowID)
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID)

	return nil
}

// NextRuns lists the next n activations of a scheduled workflow.
func (w *Workflow) NextRuns(ctx context.Context, workflowID string, n int) ([]time.Time, error) {
	workflow, err := w.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.CronExpression == "" {
		return nil, ErrNoSchedule
	}

	return ValidateCron(workflow.CronExpression, n, w.now())
}

// ValidateCron checks a cron expression and lists its next n activations after from.
func ValidateCron(expr string, n int, from time.Time) ([]time.Time, error) {
	if n <= 0 {
		n = DefaultNextRuns
	}

	return scheduler.NextRunTimes(expr, from.UTC(), n)
}

// Stats summarizes workflows and their executions.
type Stats struct {
	TotalWorkflows     int                            `json:"total_workflows"`
	EnabledWorkflows   int                            `json:"enabled_workflows"`
	ScheduledWorkflows int                            `json:"scheduled_workflows"`
	Executions         map[models.ExecutionStatus]int `json:"executions"`
	TotalExecutions    int                            `json:"total_executions"`
	ExecutionsLast24h  int                            `json:"executions_last_24h"`
}

func (w *Workflow) Stats(ctx context.Context) (*Stats, error) {
	workflows, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	stats := &Stats{TotalWorkflows: len(workflows)}

	for _, wf := range workflows {
		if wf.Enabled {
			stats.EnabledWorkflows++
		}

		if wf.IsScheduled() {
			stats.ScheduledWorkflows++
		}
	}

	executions := w.persistence.ExecutionRepository()

	byStatus, err := executions.CountByStatus(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	recent, err := executions.CountByStatus(ctx, w.now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent executions: %w", err)
	}

	stats.Executions = byStatus

	for _, count := range byStatus {
		stats.TotalExecutions += count
	}

	for _, count := range recent {
		stats.ExecutionsLast24h += count
	}

	return stats, nil
}

// Validate checks a definition and reports every problem at once.
func (w *Workflow) Validate(workflow *models.Workflow) error {
	if workflow == nil {
		return &ValidationError{Op: "Validate", Fields: []FieldError{{Field: "workflow", Message: "is required"}}}
	}

	workflow.Name = strings.TrimSpace(workflow.Name)
	workflow.CronExpression = strings.TrimSpace(workflow.CronExpression)

	var fields []FieldError

	if err := w.validate.Struct(workflow); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return fmt.Errorf("failed to validate workflow: %w", err)
		}

		for _, fe := range validationErrors {
			fields = append(fields, FieldError{Field: fieldPath(fe), Message: describeTag(fe)})
		}
	}

	if workflow.Enabled && len(workflow.Steps) == 0 {
		fields = append(fields, FieldError{Field: "steps", Message: "an enabled workflow needs at least one step"})
	}

	for i, step := range workflow.Steps {
		if step.Type == "" {
			continue
		}

		if !step.Type.IsValid() {
			fields = append(fields, FieldError{
				Field:   fmt.Sprintf("steps[%d].type", i),
				Message: fmt.Sprintf("unknown step type %q", step.Type),
			})

			continue
		}

		violations, err := steps.ValidateParams(step.Type, step.Params)
		if err != nil {
			return err
		}

		for _, v := range violations {
			fields = append(fields, FieldError{Field: fmt.Sprintf("steps[%d].params.%s", i, v.Field), Message: v.Message})
		}
	}

	for i, trigger := range workflow.Triggers {
		for j, ext := range trigger.FileExtensions {
			if strings.TrimSpace(ext) == "" {
				fields = append(fields, FieldError{
					Field:   fmt.Sprintf("triggers[%d].file_extensions[%d]", i, j),
					Message: "must not be blank",
				})
			}
		}
	}

	if workflow.CronExpression != "" {
		if err := scheduler.ValidateCron(workflow.CronExpression); err != nil {
			fields = append(fields, FieldError{Field: "cron_expression", Message: err.Error()})
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Op: "Validate", Fields: fields}
	}

	return nil
}

func (w *Workflow) sync(ctx context.Context, workflow *models.Workflow) {
	if w.scheduler == nil {
		return
	}

	if err := w.scheduler.Sync(workflow); err != nil {
		w.logger.ErrorContext(ctx, "Failed to sync workflow schedule", "workflow_id", workflow.ID, "error", err)
	}
}

// fieldPath turns "Workflow.Triggers[0].MaxFileSize" into "triggers[0].max_file_size".
func fieldPath(fe validator.FieldError) string {
	namespace := fe.Namespace()
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		namespace = rest
	}

	parts := strings.Split(namespace, ".")
	for i, part := range parts {
		name, index, _ := strings.Cut(part, "[")
		parts[i] = toSnake(name)

		if index != "" {
			parts[i] += "[" + index
		}
	}

	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder

	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}

			r += 'a' - 'A'
		}

		b.WriteRune(r)
	}

	return b.String()
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
