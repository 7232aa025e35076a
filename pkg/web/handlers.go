// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// LiveCounter reports how many executions the scheduler currently holds.
type LiveCounter interface {
	LiveCount() int
}

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	validator        *validator.Validate
	live             LiveCounter
	now              func() time.Time
}

// NewAPIHandlers wires the handlers. live may be nil.
func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	validator *validator.Validate,
	live LiveCounter,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		validator:        validator,
		live:             live,
		now:              time.Now,
	}
}

// RegisterRoutes mounts every endpoint on router.
func RegisterRoutes(router fiber.Router, h *APIHandlers) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/trigger", h.TriggerWorkflow)
	w.Post("/:id/enable", h.EnableWorkflow)
	w.Post("/:id/disable", h.DisableWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)
	w.Get("/:id/next-runs", h.GetNextRuns)

	e := router.Group("/executions")
	e.Get("/", h.GetExecutions)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	router.Get("/stats", h.GetStats)
	router.Post("/cron/validate", h.ValidateCron)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	limit, offset, err := parsePage(c)
	if err != nil {
		return nil, err
	}

	req.Limit = limit
	req.Offset = offset

	if enabledStr := c.Query("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return nil, err
		}

		req.Enabled = &enabled
	}

	return req, nil
}

func parsePage(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if limitStr := c.Query("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = v
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		offset = v
	}

	return limit, offset, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.ToWorkflow())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateWorkflow replaces the whole definition.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), req.ToWorkflow())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, true)
}

func (h *APIHandlers) DisableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, false)
}

func (h *APIHandlers) setEnabled(c fiber.Ctx, enabled bool) error {
	workflow, err := h.workflowService.SetEnabled(c.Context(), c.Params("id"), enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// TriggerWorkflow enqueues a manual execution and answers before it runs.
func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	var req TriggerWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	executionID, err := h.executionService.Trigger(c.Context(), c.Params("id"), req.TriggerData)
	if err != nil {
		if executionID != "" && errors.Is(err, services.ErrQueueFull) {
			c.Set("X-Execution-Id", executionID)
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerWorkflowResponse{
		ExecutionID: executionID,
		Status:      models.ExecutionStatusPending,
	})
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	return h.listExecutions(c, c.Params("id"))
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	return h.listExecutions(c, c.Query("workflow_id"))
}

func (h *APIHandlers) listExecutions(c fiber.Ctx, workflowID string) error {
	limit, offset, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	req := services.ListExecutionsRequest{
		WorkflowID: workflowID,
		Limit:      limit,
		Offset:     offset,
	}

	if statusStr := c.Query("status"); statusStr != "" {
		req.Status = strings.Split(statusStr, ",")
	}

	executions, err := h.executionService.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListExecutionsResponse{
		Executions: executions,
		WorkflowID: workflowID,
		Total:      len(executions),
		Offset:     offset,
		Limit:      limit,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.executionService.Cancel(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": id,
		"cancelled":    true,
	})
}

func (h *APIHandlers) GetNextRuns(c fiber.Ctx) error {
	count := 0

	if countStr := c.Query("count"); countStr != "" {
		v, err := strconv.Atoi(countStr)
		if err != nil || v < 1 || v > 100 {
			return badRequest(c, "count must be between 1 and 100")
		}

		count = v
	}

	runs, err := h.workflowService.NextRuns(c.Context(), c.Params("id"), count)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow_id": c.Params("id"),
		"next_runs":   runs,
	})
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	stats, err := h.workflowService.Stats(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	response := fiber.Map{"statistics": stats}
	if h.live != nil {
		response["live_executions"] = h.live.LiveCount()
	}

	return c.JSON(response)
}

// ValidateCron answers 200 for both outcomes; is_valid carries the verdict.
func (h *APIHandlers) ValidateCron(c fiber.Ctx) error {
	var req ValidateCronRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	response := ValidateCronResponse{CronExpression: req.CronExpression}

	runs, err := services.ValidateCron(req.CronExpression, req.Count, h.now())
	if err != nil {
		response.Error = err.Error()

		return c.JSON(response)
	}

	response.IsValid = true
	response.NextRuns = runs

	return c.JSON(response)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "fileflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "fileflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
