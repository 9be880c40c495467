package domain

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator is one of the closed set of condition operators.
type Operator string

// Condition operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

type evaluator func(actual, expected any) bool

var evaluators = map[Operator]evaluator{
	OpEquals:      evalEquals,
	OpNotEquals:   func(a, e any) bool { return !evalEquals(a, e) },
	OpIn:          evalIn,
	OpNotIn:       func(a, e any) bool { return !evalIn(a, e) },
	OpContains:    evalContains,
	OpGreaterThan: func(a, e any) bool { return compareNumbers(a, e, func(x, y float64) bool { return x > y }) },
	OpLessThan:    func(a, e any) bool { return compareNumbers(a, e, func(x, y float64) bool { return x < y }) },
}

// Condition constrains a permission to evaluation contexts where Field
// satisfies Operator against Value. Construct with NewCondition.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
	eval     evaluator
}

// NewCondition validates the operator and binds its evaluator.
// Unknown operators are rejected.
func NewCondition(field string, op Operator, value any) (Condition, error) {
	if field == "" {
		return Condition{}, ErrValidation("condition field is required")
	}
	ev, ok := evaluators[op]
	if !ok {
		return Condition{}, ErrValidation("unknown condition operator %q", op)
	}
	if op == OpIn || op == OpNotIn {
		if _, ok := asSlice(value); !ok {
			return Condition{}, ErrValidation("operator %q on field %q requires a list value", op, field)
		}
	}
	if op == OpGreaterThan || op == OpLessThan {
		if _, ok := toFloat(value); !ok {
			return Condition{}, ErrValidation("operator %q on field %q requires a numeric value", op, field)
		}
	}
	return Condition{Field: field, Operator: op, Value: value, eval: ev}, nil
}

// Evaluate reports whether the condition holds in evalCtx. A missing field
// never satisfies a condition.
func (c Condition) Evaluate(evalCtx map[string]any) bool {
	if c.eval == nil {
		return false
	}
	actual, ok := evalCtx[c.Field]
	if !ok || actual == nil {
		return false
	}
	return c.eval(actual, c.Value)
}

// String renders the condition for logs and error messages.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
}

// evalEquals compares numerically only when one side is a number, so
// identifiers such as "007" and "7" stay distinct.
func evalEquals(actual, expected any) bool {
	if !isNumber(actual) && !isNumber(expected) {
		return fmt.Sprint(actual) == fmt.Sprint(expected)
	}
	if a, ok := toFloat(actual); ok {
		if e, ok := toFloat(expected); ok {
			return a == e
		}
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func evalIn(actual, expected any) bool {
	items, ok := asSlice(expected)
	if !ok {
		return false
	}
	for _, item := range items {
		if evalEquals(actual, item) {
			return true
		}
	}
	return false
}

// evalContains matches a substring when actual is a string and membership
// when actual is a list.
func evalContains(actual, expected any) bool {
	if s, ok := actual.(string); ok {
		return strings.Contains(s, fmt.Sprint(expected))
	}
	items, ok := asSlice(actual)
	if !ok {
		return false
	}
	for _, item := range items {
		if evalEquals(item, expected) {
			return true
		}
	}
	return false
}

func compareNumbers(actual, expected any, cmp func(x, y float64) bool) bool {
	a, ok := toFloat(actual)
	if !ok {
		return false
	}
	e, ok := toFloat(expected)
	if !ok {
		return false
	}
	return cmp(a, e)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, uint, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
