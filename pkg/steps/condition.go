package steps

import (
	"math"
	"strconv"
	"strings"

	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/template"
)

// Evaluate applies the condition's operator to its operands. Operands are compared as
// numbers when both are finite decimal numbers, as text otherwise.
func Evaluate(cond Condition) (bool, error) {
	left := strings.TrimSpace(template.Stringify(cond.Left))
	right := strings.TrimSpace(template.Stringify(cond.Right))

	leftNum, leftOk := parseNumber(left)
	rightNum, rightOk := parseNumber(right)
	numeric := leftOk && rightOk

	switch cond.Operator {
	case "equals":
		if numeric {
			return leftNum == rightNum, nil
		}

		return left == right, nil
	case "not_equals":
		if numeric {
			return leftNum != rightNum, nil
		}

		return left != right, nil
	case "greater_than":
		if numeric {
			return leftNum > rightNum, nil
		}

		return left > right, nil
	case "less_than":
		if numeric {
			return leftNum < rightNum, nil
		}

		return left < right, nil
	case "contains":
		return strings.Contains(left, right), nil
	case "not_contains":
		return !strings.Contains(left, right), nil
	default:
		return false, NewValidationError(models.StepTypeCondition, "unsupported operator "+strconv.Quote(cond.Operator))
	}
}

// parseNumber accepts decimal numbers only. Hex literals, NaN and infinities are
// left to text comparison.
func parseNumber(s string) (float64, bool) {
	digits := strings.TrimLeft(s, "+-")
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return 0, false
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}

	return n, true
}
