package steps

import (
	"fmt"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Operators supported by condition steps.
var Operators = []string{"equals", "not_equals", "greater_than", "less_than", "contains", "not_contains"}

// placeholderOrNumber accepts a non-negative number or a string that may resolve to one.
var placeholderOrNumber = map[string]any{
	"anyOf": []any{
		map[string]any{"type": "number", "minimum": 0},
		map[string]any{"type": "string", "minLength": 1},
	},
}

var schemas = map[models.StepType]map[string]any{
	models.StepTypeLog: {
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports {placeholder} substitution.",
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []any{"debug", "info", "warn", "error"},
				"default": "info",
			},
		},
		"required": []any{"message"},
	},
	models.StepTypeFileProcess: {
		"type": "object",
		"properties": map[string]any{
			"file_id": map[string]any{
				"type":        "string",
				"description": "File to extract. Defaults to the triggering file.",
			},
		},
	},
	models.StepTypeAirtableCreate: {
		"type": "object",
		"properties": map[string]any{
			"table":  map[string]any{"type": "string", "minLength": 1},
			"fields": map[string]any{"type": "object"},
		},
		"required": []any{"table", "fields"},
	},
	models.StepTypeAirtableUpdate: {
		"type": "object",
		"properties": map[string]any{
			"table":     map[string]any{"type": "string", "minLength": 1},
			"record_id": map[string]any{"type": "string", "minLength": 1},
			"fields":    map[string]any{"type": "object"},
		},
		"required": []any{"table", "record_id", "fields"},
	},
	models.StepTypeDelay: {
		"type": "object",
		"properties": map[string]any{
			"delay": placeholderOrNumber,
		},
		"required": []any{"delay"},
	},
	models.StepTypeCondition: {
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"operator": map[string]any{"type": "string", "enum": toAnySlice(Operators)},
				},
				"required": []any{"operator", "left", "right"},
			},
		},
		"required": []any{"condition"},
	},
}

// SchemaViolation is one failed constraint of a step parameter bag.
type SchemaViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Schema returns the JSON schema describing the parameters of stepType.
func Schema(stepType models.StepType) (map[string]any, bool) {
	schema, ok := schemas[stepType]

	return schema, ok
}

// ValidateParams checks a step's parameters against its variant schema. Placeholders are
// not resolved here; string-typed fields accept them verbatim.
func ValidateParams(stepType models.StepType, params map[string]any) ([]SchemaViolation, error) {
	schema, ok := schemas[stepType]
	if !ok {
		return nil, fmt.Errorf("unknown step type %q", stepType)
	}

	if params == nil {
		params = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(params))
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s parameters: %w", stepType, err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]SchemaViolation, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, SchemaViolation{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}

	return violations, nil
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}
