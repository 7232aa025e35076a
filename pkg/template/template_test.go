package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveString(t *testing.T) {
	t.Parallel()

	ctx := map[string]any{
		"filename":      "a.pdf",
		"file_size":     float64(1000000),
		"is_new":        true,
		"count":         3,
		"ratio":         2.5,
		"missing_value": nil,
		"step_0_result": map[string]any{"record_id": "rec123"},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple placeholder", input: "hello {filename}", expected: "hello a.pdf"},
		{name: "float without exponent", input: "{file_size}", expected: "1000000"},
		{name: "fractional float", input: "{ratio}", expected: "2.5"},
		{name: "integer", input: "n={count}", expected: "n=3"},
		{name: "boolean", input: "{is_new}", expected: "true"},
		{name: "nil value", input: "[{missing_value}]", expected: "[]"},
		{name: "unknown placeholder kept", input: "hi {unknown}", expected: "hi {unknown}"},
		{name: "empty braces kept", input: "{}", expected: "{}"},
		{name: "unterminated brace kept", input: "open {filename", expected: "open {filename"},
		{name: "doubled braces", input: "{{filename}}", expected: "{a.pdf}"},
		{name: "nested unknown kept", input: "{a {b}", expected: "{a {b}"},
		{name: "dotted lookup", input: "{step_0_result.record_id}", expected: "rec123"},
		{name: "map value encoded", input: "{step_0_result}", expected: `{"record_id":"rec123"}`},
		{name: "repeated placeholder", input: "{filename}/{filename}", expected: "a.pdf/a.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ResolveString(tt.input, ctx))
		})
	}
}

func TestResolveString_IdempotentWithoutPlaceholders(t *testing.T) {
	t.Parallel()

	ctx := map[string]any{"filename": "a.pdf"}

	inputs := []string{"", "plain text", "filename", "no braces at all } here", "ümlaut and emoji 🎉"}
	for _, input := range inputs {
		assert.Equal(t, input, ResolveString(input, ctx))
		assert.Equal(t, input, ResolveString(ResolveString(input, ctx), ctx))
	}
}

func TestResolve_Structures(t *testing.T) {
	t.Parallel()

	ctx := map[string]any{
		"file_id":  "f-1",
		"filename": "report.csv",
	}

	input := map[string]any{
		"table": "Files",
		"fields": map[string]any{
			"Name":  "{filename}",
			"ID":    "{file_id}",
			"Size":  42,
			"Tags":  []any{"{filename}", true, "static"},
			"{key}": "keys are not substituted",
		},
	}

	resolved := Resolve(input, ctx).(map[string]any)
	fields := resolved["fields"].(map[string]any)

	assert.Equal(t, "Files", resolved["table"])
	assert.Equal(t, "report.csv", fields["Name"])
	assert.Equal(t, "f-1", fields["ID"])
	assert.Equal(t, 42, fields["Size"])
	assert.Equal(t, []any{"report.csv", true, "static"}, fields["Tags"])
	assert.Equal(t, "keys are not substituted", fields["{key}"])

	// the input is left untouched
	assert.Equal(t, "{filename}", input["fields"].(map[string]any)["Name"])
}

func TestResolveParams_Nil(t *testing.T) {
	t.Parallel()

	assert.Equal(t, map[string]any{}, ResolveParams(nil, map[string]any{}))
}

func TestStringify(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-01T12:00:00Z", Stringify(ts))
	assert.Equal(t, "false", Stringify(false))
	assert.Equal(t, "123", Stringify(int64(123)))
	assert.Equal(t, `["a","b"]`, Stringify([]string{"a", "b"}))
}
