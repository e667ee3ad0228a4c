package rules

import (
	"fmt"

	"ensemble/internal/types"
)

// Condition operators.
const (
	OpGreater      = "gt"
	OpGreaterEqual = "gte"
	OpLess         = "lt"
	OpLessEqual    = "lte"
	OpEqual        = "eq"
)

// Condition is a declarative predicate over one layer snapshot: a named
// field on either the source or target layer compared against a threshold.
// Declarative conditions keep rule files data-only; there is no expression
// evaluation anywhere in the hot path.
type Condition struct {
	// On selects which snapshot the field is read from: "source" or "target".
	On    string
	Field string
	Op    string
	Value float64
}

// Evaluate applies the condition to the source and target snapshots.
// Unknown fields, operators, or subjects evaluate to false so a bad rule
// skips instead of firing.
func (c Condition) Evaluate(source, target types.LayerState) bool {
	var snapshot types.LayerState
	switch c.On {
	case "source", "":
		snapshot = source
	case "target":
		snapshot = target
	default:
		return false
	}

	actual, ok := snapshot.Field(c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case OpGreater:
		return actual > c.Value
	case OpGreaterEqual:
		return actual >= c.Value
	case OpLess:
		return actual < c.Value
	case OpLessEqual:
		return actual <= c.Value
	case OpEqual:
		return actual == c.Value
	default:
		return false
	}
}

func (c Condition) String() string {
	on := c.On
	if on == "" {
		on = "source"
	}
	return fmt.Sprintf("%s.%s %s %g", on, c.Field, c.Op, c.Value)
}
