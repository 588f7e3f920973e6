package rule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformedConditions is returned when a stored condition list cannot be
// decoded. Callers must treat the owning definition as never eligible.
var ErrMalformedConditions = errors.New("malformed condition list")

// Operator is a comparison operator allowed in a condition.
type Operator string

const (
	OpIs      Operator = "is"
	OpIsNot   Operator = "is_not"
	OpGreater Operator = ">"
	OpLess    Operator = "<"
)

func (o Operator) valid() bool {
	switch o {
	case OpIs, OpIsNot, OpGreater, OpLess:
		return true
	}
	return false
}

// Condition is a single {field, operator, value} triple. Field is a dotted
// path into an event context.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Source resolves dotted field paths. ok is false when the path is absent.
type Source interface {
	Lookup(path string) (value any, ok bool)
}

// ParseConditions decodes a JSON condition list. Empty input, "null" and "[]"
// mean no conditions.
func ParseConditions(raw string) ([]Condition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedConditions)
	}

	list := gjson.Parse(raw)
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: expected an array", ErrMalformedConditions)
	}

	var (
		conds    []Condition
		parseErr error
	)
	list.ForEach(func(_, item gjson.Result) bool {
		cond, err := parseCondition(item)
		if err != nil {
			parseErr = fmt.Errorf("%w: condition %d: %v", ErrMalformedConditions, len(conds), err)
			return false
		}
		conds = append(conds, cond)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return conds, nil
}

func parseCondition(item gjson.Result) (Condition, error) {
	if !item.IsObject() {
		return Condition{}, errors.New("not an object")
	}

	field := item.Get("field")
	if field.Type != gjson.String || strings.TrimSpace(field.String()) == "" {
		return Condition{}, errors.New("field must be a non-empty string")
	}

	op := Operator(item.Get("operator").String())
	if !op.valid() {
		return Condition{}, fmt.Errorf("unknown operator %q", op)
	}

	value := item.Get("value")
	if !value.Exists() || value.IsObject() || value.IsArray() {
		return Condition{}, errors.New("value must be a scalar")
	}

	return Condition{
		Field:    strings.TrimSpace(field.String()),
		Operator: op,
		Value:    value.Value(),
	}, nil
}

// Holds evaluates the condition against src. A missing field never holds,
// for any operator.
func (c Condition) Holds(src Source) bool {
	actual, ok := src.Lookup(c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpIs:
		return LooseEqual(actual, c.Value)
	case OpIsNot:
		return !LooseEqual(actual, c.Value)
	case OpGreater:
		a, okA := ToNumber(actual)
		b, okB := ToNumber(c.Value)
		return okA && okB && a > b
	case OpLess:
		a, okA := ToNumber(actual)
		b, okB := ToNumber(c.Value)
		return okA && okB && a < b
	}
	return false
}

// AllHold reports whether every condition holds. An empty list holds.
func AllHold(conds []Condition, src Source) bool {
	for _, c := range conds {
		if !c.Holds(src) {
			return false
		}
	}
	return true
}

// LooseEqual compares numerically when both sides are numeric, otherwise by
// their string forms.
func LooseEqual(a, b any) bool {
	if na, ok := ToNumber(a); ok {
		if nb, ok := ToNumber(b); ok {
			return na == nb
		}
	}
	return toString(a) == toString(b)
}

// ToNumber coerces numeric kinds, numeric strings, booleans and times.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case time.Time:
		return float64(n.Unix()), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case time.Time:
		return s.Format(time.RFC3339)
	}
	if f, ok := ToNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
