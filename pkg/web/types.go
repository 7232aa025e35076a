// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/dukex/fileflow/pkg/models"
)

// WorkflowRequest is the body of create and full-replace update requests.
// Deep checks of steps, triggers and cron run in the workflow service.
type WorkflowRequest struct {
	Name           string           `json:"name"                      validate:"required,min=1,max=200"`
	Description    string           `json:"description"`
	Steps          []models.Step    `json:"steps"`
	Triggers       []models.Trigger `json:"triggers"`
	CronExpression string           `json:"cron_expression,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
}

// ToWorkflow converts the request into a workflow definition.
func (r WorkflowRequest) ToWorkflow() *models.Workflow {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	return &models.Workflow{
		Name:           r.Name,
		Description:    r.Description,
		Steps:          r.Steps,
		Triggers:       r.Triggers,
		CronExpression: r.CronExpression,
		Enabled:        enabled,
	}
}

// TriggerWorkflowRequest is the optional body of a manual trigger.
type TriggerWorkflowRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
}

// TriggerWorkflowResponse acknowledges a manual trigger before the execution runs.
type TriggerWorkflowResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
}

// ValidateCronRequest asks for a cron expression check.
type ValidateCronRequest struct {
	CronExpression string `json:"cron_expression" validate:"required"`
	Count          int    `json:"count"           validate:"omitempty,min=1,max=100"`
}

// ValidateCronResponse reports whether an expression parses and when it fires next.
type ValidateCronResponse struct {
	CronExpression string      `json:"cron_expression"`
	IsValid        bool        `json:"is_valid"`
	NextRuns       []time.Time `json:"next_runs,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// ListExecutionsResponse wraps a page of executions.
type ListExecutionsResponse struct {
	Executions []*models.WorkflowExecution `json:"executions"`
	WorkflowID string                      `json:"workflow_id,omitempty"`
	Total      int                         `json:"total"`
	Offset     int                         `json:"offset"`
	Limit      int                         `json:"limit"`
}
