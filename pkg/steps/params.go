package steps

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/fileflow/pkg/models"
)

// LogParams configures a log step.
type LogParams struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// FileProcessParams configures a file_process step. An empty FileID falls back to
// the file that triggered the execution.
type FileProcessParams struct {
	FileID string `json:"file_id,omitempty"`
}

// RecordCreateParams configures an airtable_create step.
type RecordCreateParams struct {
	Table  string         `json:"table"`
	Fields map[string]any `json:"fields"`
}

// RecordUpdateParams configures an airtable_update step.
type RecordUpdateParams struct {
	Table    string         `json:"table"`
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// DelayParams configures a delay step.
type DelayParams struct {
	Delay Seconds `json:"delay"`
}

// ConditionParams configures a condition step.
type ConditionParams struct {
	Condition Condition `json:"condition"`
}

// Condition compares two template-resolved operands.
type Condition struct {
	Operator string `json:"operator"`
	Left     any    `json:"left"`
	Right    any    `json:"right"`
}

// Seconds accepts a JSON number or a numeric string, since a delay may come from a placeholder.
type Seconds float64

func (s *Seconds) UnmarshalJSON(data []byte) error {
	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		*s = Seconds(number)

		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("delay must be a number of seconds: %w", err)
	}

	number, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return fmt.Errorf("delay %q is not a number of seconds", text)
	}

	*s = Seconds(number)

	return nil
}

// Duration converts to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// decodeParams maps a resolved parameter bag onto the variant's typed struct.
func decodeParams(stepType models.StepType, params map[string]any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return NewValidationError(stepType, "parameters are not serializable: "+err.Error())
	}

	if err := json.Unmarshal(data, out); err != nil {
		return NewValidationError(stepType, "invalid parameters: "+err.Error())
	}

	return nil
}
