// Package template resolves {placeholder} tokens against an execution context.
package template

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{"
	endTag   = "}"
)

// Resolve returns v with every string leaf resolved against ctx. Maps and slices are
// walked recursively and copied; keys and non-string leaves are returned unchanged.
func Resolve(v any, ctx map[string]any) any {
	switch typed := v.(type) {
	case string:
		return ResolveString(typed, ctx)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = Resolve(val, ctx)
		}

		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for k, val := range typed {
			out[k] = ResolveString(val, ctx)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = Resolve(val, ctx)
		}

		return out
	case []string:
		out := make([]string, len(typed))
		for i, val := range typed {
			out[i] = ResolveString(val, ctx)
		}

		return out
	default:
		return v
	}
}

// ResolveParams resolves a step parameter bag. A nil bag resolves to an empty one.
func ResolveParams(params map[string]any, ctx map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}

	resolved, _ := Resolve(params, ctx).(map[string]any)

	return resolved
}

// ResolveString substitutes {key} tokens in s. Unknown keys are written back verbatim.
func ResolveString(s string, ctx map[string]any) string {
	if !strings.Contains(s, startTag) {
		return s
	}

	return fasttemplate.ExecuteFuncString(s, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		lead := ""

		// "{{name}}" arrives as tag "{name"; only the innermost token is a placeholder.
		if idx := strings.LastIndex(tag, startTag); idx >= 0 {
			lead = startTag + tag[:idx]
			tag = tag[idx+1:]
		}

		value, ok := Lookup(ctx, tag)
		if !ok {
			return io.WriteString(w, lead+startTag+tag+endTag)
		}

		return io.WriteString(w, lead+Stringify(value))
	})
}

// Lookup finds key in ctx. Dotted keys walk nested maps when no flat key matches.
func Lookup(ctx map[string]any, key string) (any, bool) {
	if key == "" {
		return nil, false
	}

	if value, ok := ctx[key]; ok {
		return value, true
	}

	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		return nil, false
	}

	var current any = ctx

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Stringify renders a context value as placeholder text.
func Stringify(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case int:
		return strconv.Itoa(typed)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case int64:
		return strconv.FormatInt(typed, 10)
	case uint:
		return strconv.FormatUint(uint64(typed), 10)
	case uint64:
		return strconv.FormatUint(typed, 10)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return typed.String()
	case map[string]any, []any, map[string]string, []string:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}

		return string(encoded)
	default:
		return fmt.Sprint(typed)
	}
}
