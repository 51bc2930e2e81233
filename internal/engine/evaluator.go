package engine

import (
	"fmt"
	"strings"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// Evaluator evaluates condition trees against record snapshots. It is
// deterministic and side-effect free: a malformed rule evaluates to
// false and is logged, never raised, so one bad condition cannot crash
// a run.
type Evaluator struct {
	logger *logger.Logger
}

// NewEvaluator creates a new condition evaluator
func NewEvaluator(log *logger.Logger) *Evaluator {
	return &Evaluator{logger: log}
}

// Evaluate evaluates a condition against context data. A nil condition
// is always true. Missing fields, unknown operators and type mismatches
// evaluate to false (fail closed).
func (e *Evaluator) Evaluate(condition *models.Condition, context map[string]interface{}) bool {
	if condition == nil {
		return true
	}

	if len(condition.And) > 0 {
		for i := range condition.And {
			if !e.Evaluate(&condition.And[i], context) {
				return false
			}
		}
		return true
	}

	if len(condition.Or) > 0 {
		for i := range condition.Or {
			if e.Evaluate(&condition.Or[i], context) {
				return true
			}
		}
		return false
	}

	if condition.Not != nil {
		return !e.Evaluate(condition.Not, context)
	}

	fieldValue, found := lookupField(condition.Field, context)
	if !found {
		e.logger.Debugf("Condition field not found, evaluating false: %s", condition.Field)
		return false
	}

	result, err := compareValues(fieldValue, condition.Op, condition.Value)
	if err != nil {
		e.logger.Warnf("Condition on field %s evaluated false: %v", condition.Field, err)
		return false
	}

	return result
}

// lookupField extracts a field value from context using dot notation.
// Example: "order.total" retrieves context["order"]["total"].
func lookupField(field string, context map[string]interface{}) (interface{}, bool) {
	if field == "" {
		return nil, false
	}

	parts := strings.Split(field, ".")
	current := context

	for i, part := range parts {
		val, exists := current[part]
		if !exists {
			return nil, false
		}

		if i == len(parts)-1 {
			return val, true
		}

		nextMap, ok := val.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = nextMap
	}

	return nil, false
}

// compareValues compares two values using the specified operator
func compareValues(fieldValue interface{}, operator string, conditionValue interface{}) (bool, error) {
	switch operator {
	case models.OpEq:
		return valuesEqual(fieldValue, conditionValue), nil

	case models.OpNe, "neq":
		return !valuesEqual(fieldValue, conditionValue), nil

	case models.OpGt:
		return numericCompare(fieldValue, conditionValue, func(a, b float64) bool { return a > b })

	case models.OpGte:
		return numericCompare(fieldValue, conditionValue, func(a, b float64) bool { return a >= b })

	case models.OpLt:
		return numericCompare(fieldValue, conditionValue, func(a, b float64) bool { return a < b })

	case models.OpLte:
		return numericCompare(fieldValue, conditionValue, func(a, b float64) bool { return a <= b })

	case models.OpIn:
		return valueIn(fieldValue, conditionValue)

	case models.OpContains:
		return valueContains(fieldValue, conditionValue)

	default:
		return false, fmt.Errorf("unsupported operator: %s", operator)
	}
}

// valuesEqual checks loose equality across JSON scalar types
func valuesEqual(a, b interface{}) bool {
	if af, aOK := toFloat64(a); aOK {
		if bf, bOK := toFloat64(b); bOK {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func numericCompare(a, b interface{}, cmp func(a, b float64) bool) (bool, error) {
	aFloat, aOK := toFloat64(a)
	bFloat, bOK := toFloat64(b)

	if !aOK || !bOK {
		return false, fmt.Errorf("cannot compare non-numeric values: %v vs %v", a, b)
	}

	return cmp(aFloat, bFloat), nil
}

// valueIn checks if a value is in a list
func valueIn(value interface{}, list interface{}) (bool, error) {
	switch listVal := list.(type) {
	case []interface{}:
		for _, item := range listVal {
			if valuesEqual(value, item) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		valueStr := fmt.Sprintf("%v", value)
		for _, item := range listVal {
			if valueStr == item {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("'in' operator requires a list, got %T", list)
	}
}

// valueContains checks if a string contains a substring or a list
// contains an item
func valueContains(haystack interface{}, needle interface{}) (bool, error) {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle)), nil
	case []interface{}:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		needleStr := fmt.Sprintf("%v", needle)
		for _, item := range h {
			if item == needleStr {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("'contains' operator requires a string or list, got %T", haystack)
	}
}

// toFloat64 converts various numeric types to float64
func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
