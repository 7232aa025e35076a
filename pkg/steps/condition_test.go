package steps

import (
	"testing"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{name: "equals numeric string vs number", cond: Condition{Operator: "equals", Left: "1000000", Right: float64(1000000)}, want: true},
		{name: "equals numeric with different formatting", cond: Condition{Operator: "equals", Left: "10.0", Right: 10}, want: true},
		{name: "equals text", cond: Condition{Operator: "equals", Left: "a.pdf", Right: "a.pdf"}, want: true},
		{name: "equals text mismatch", cond: Condition{Operator: "equals", Left: "a.pdf", Right: "b.pdf"}, want: false},
		{name: "equals bool", cond: Condition{Operator: "equals", Left: "true", Right: true}, want: true},
		{name: "not equals", cond: Condition{Operator: "not_equals", Left: "x", Right: "y"}, want: true},
		{name: "greater than numeric", cond: Condition{Operator: "greater_than", Left: "100", Right: "20"}, want: true},
		{name: "greater than lexicographic", cond: Condition{Operator: "greater_than", Left: "b", Right: "a"}, want: true},
		{name: "less than numeric", cond: Condition{Operator: "less_than", Left: 2048, Right: "1048576"}, want: true},
		{name: "contains", cond: Condition{Operator: "contains", Left: "invoice-2024.pdf", Right: "invoice"}, want: true},
		{name: "not contains", cond: Condition{Operator: "not_contains", Left: "invoice-2024.pdf", Right: "receipt"}, want: true},
		{name: "unresolved placeholder compares as text", cond: Condition{Operator: "equals", Left: "{file_size}", Right: "100"}, want: false},
		{name: "NaN equals itself as text", cond: Condition{Operator: "equals", Left: "NaN", Right: "NaN"}, want: true},
		{name: "NaN not equals itself is false", cond: Condition{Operator: "not_equals", Left: "NaN", Right: "NaN"}, want: false},
		{name: "infinity compares as text", cond: Condition{Operator: "greater_than", Left: "Inf", Right: "1000"}, want: true},
		{name: "infinity word is not a number", cond: Condition{Operator: "equals", Left: "Infinity", Right: "+Inf"}, want: false},
		{name: "hex float is not a number", cond: Condition{Operator: "equals", Left: "0x1p4", Right: "16"}, want: false},
		{name: "signed hex is not a number", cond: Condition{Operator: "equals", Left: "-0x10", Right: "-16"}, want: false},
		{name: "exponent stays numeric", cond: Condition{Operator: "equals", Left: "1e3", Right: 1000}, want: true},
		{name: "negative decimal", cond: Condition{Operator: "less_than", Left: "-2.5", Right: "-1"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Evaluate(tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	t.Parallel()

	_, err := Evaluate(Condition{Operator: "regex", Left: "a", Right: "a"})
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindValidation, KindOf(err))
}

func TestValidateParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stepType models.StepType
		params   map[string]any
		valid    bool
	}{
		{name: "log ok", stepType: models.StepTypeLog, params: map[string]any{"message": "hello {filename}"}, valid: true},
		{name: "log missing message", stepType: models.StepTypeLog, params: map[string]any{}, valid: false},
		{name: "log bad level", stepType: models.StepTypeLog, params: map[string]any{"message": "x", "level": "loud"}, valid: false},
		{name: "file process no params", stepType: models.StepTypeFileProcess, params: nil, valid: true},
		{name: "create ok", stepType: models.StepTypeAirtableCreate, params: map[string]any{"table": "Files", "fields": map[string]any{"Name": "{filename}"}}, valid: true},
		{name: "create missing fields", stepType: models.StepTypeAirtableCreate, params: map[string]any{"table": "Files"}, valid: false},
		{name: "update missing record id", stepType: models.StepTypeAirtableUpdate, params: map[string]any{"table": "Files", "fields": map[string]any{}}, valid: false},
		{name: "delay number", stepType: models.StepTypeDelay, params: map[string]any{"delay": 5}, valid: true},
		{name: "delay placeholder", stepType: models.StepTypeDelay, params: map[string]any{"delay": "{wait}"}, valid: true},
		{name: "delay negative", stepType: models.StepTypeDelay, params: map[string]any{"delay": -1}, valid: false},
		{name: "condition ok", stepType: models.StepTypeCondition, params: map[string]any{"condition": map[string]any{"operator": "contains", "left": "{filename}", "right": ".pdf"}}, valid: true},
		{name: "condition bad operator", stepType: models.StepTypeCondition, params: map[string]any{"condition": map[string]any{"operator": "like", "left": "a", "right": "b"}}, valid: false},
		{name: "condition missing operand", stepType: models.StepTypeCondition, params: map[string]any{"condition": map[string]any{"operator": "equals", "left": "a"}}, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			violations, err := ValidateParams(tt.stepType, tt.params)
			require.NoError(t, err)

			if tt.valid {
				assert.Empty(t, violations)
			} else {
				assert.NotEmpty(t, violations)
			}
		})
	}
}

func TestValidateParams_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := ValidateParams("webhook", map[string]any{})
	require.Error(t, err)
}
