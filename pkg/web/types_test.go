package web_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New()

	tests := []struct {
		name      string
		request   web.WorkflowRequest
		wantErr   bool
		errFields []string
	}{
		{
			name:    "valid request",
			request: web.WorkflowRequest{Name: "Invoices"},
		},
		{
			name:      "missing name",
			request:   web.WorkflowRequest{Description: "no name"},
			wantErr:   true,
			errFields: []string{"Name"},
		},
		{
			name:      "name too long",
			request:   web.WorkflowRequest{Name: strings.Repeat("n", 201)},
			wantErr:   true,
			errFields: []string{"Name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Struct(tt.request)

			if !tt.wantErr {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)

			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors))

			fields := make([]string, 0, len(validationErrors))
			for _, fieldErr := range validationErrors {
				fields = append(fields, fieldErr.Field())
			}

			assert.Equal(t, tt.errFields, fields)
		})
	}
}

func TestWorkflowRequest_ToWorkflow(t *testing.T) {
	t.Parallel()

	request := web.WorkflowRequest{
		Name:           "Nightly",
		Description:    "Exports records",
		CronExpression: "@daily",
		Steps:          []models.Step{{Type: models.StepTypeLog, Params: map[string]any{"message": "run"}}},
		Triggers:       []models.Trigger{{Type: models.TriggerTypeFileProcessed}},
	}

	workflow := request.ToWorkflow()
	assert.True(t, workflow.Enabled)
	assert.Equal(t, "Nightly", workflow.Name)
	assert.Equal(t, "@daily", workflow.CronExpression)
	assert.Equal(t, request.Steps, workflow.Steps)
	assert.Equal(t, request.Triggers, workflow.Triggers)
	assert.Empty(t, workflow.ID)

	disabled := false
	request.Enabled = &disabled

	assert.False(t, request.ToWorkflow().Enabled)
}

func TestValidateCronRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New()

	require.NoError(t, v.Struct(web.ValidateCronRequest{CronExpression: "* * * * *"}))
	require.NoError(t, v.Struct(web.ValidateCronRequest{CronExpression: "* * * * *", Count: 10}))
	require.Error(t, v.Struct(web.ValidateCronRequest{}))
	require.Error(t, v.Struct(web.ValidateCronRequest{CronExpression: "* * * * *", Count: 500}))
}
