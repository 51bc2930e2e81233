package models

import (
	"database/sql/driver"
	"encoding/json"
)

// Comparison operators accepted in condition leaves
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpIn       = "in"
	OpContains = "contains"
)

// KnownOperators lists every comparison operator the evaluator accepts
var KnownOperators = []string{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains}

// Condition is a boolean expression tree evaluated against a record
// snapshot. A condition is either a comparison leaf (Field/Op/Value) or a
// combinator (exactly one of And, Or, Not populated). A nil condition
// evaluates to true.
type Condition struct {
	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`
	And   []Condition `json:"and,omitempty"`
	Or    []Condition `json:"or,omitempty"`
	Not   *Condition  `json:"not,omitempty"`
}

// IsLeaf reports whether the condition is a comparison leaf
func (c *Condition) IsLeaf() bool {
	return len(c.And) == 0 && len(c.Or) == 0 && c.Not == nil
}

// ConditionColumn binds a model's optional condition to its JSONB
// column. Condition itself cannot implement driver.Valuer because the
// comparison value field already claims the Value name. SQL NULL maps
// to a nil condition in both directions.
type ConditionColumn struct {
	Cond **Condition
}

func (c ConditionColumn) Scan(value interface{}) error {
	if value == nil {
		*c.Cond = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	cond := &Condition{}
	if err := json.Unmarshal(bytes, cond); err != nil {
		return err
	}

	*c.Cond = cond
	return nil
}

func (c ConditionColumn) Value() (driver.Value, error) {
	if c.Cond == nil || *c.Cond == nil {
		return nil, nil
	}
	return json.Marshal(*c.Cond)
}
