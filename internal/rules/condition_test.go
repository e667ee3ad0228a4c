package rules

import (
	"testing"

	"ensemble/internal/types"
)

func TestConditionEvaluate(t *testing.T) {
	source := types.LayerState{Intensity: 0.9, Speed: 1.0, Opacity: 0.5}
	target := types.LayerState{Intensity: 0.2, Speed: 2.0, Opacity: 0.25}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gt true", Condition{On: "source", Field: "intensity", Op: OpGreater, Value: 0.8}, true},
		{"gt false at boundary", Condition{On: "source", Field: "intensity", Op: OpGreater, Value: 0.9}, false},
		{"gte true at boundary", Condition{On: "source", Field: "intensity", Op: OpGreaterEqual, Value: 0.9}, true},
		{"lt true", Condition{On: "target", Field: "opacity", Op: OpLess, Value: 0.3}, true},
		{"lt false at boundary", Condition{On: "target", Field: "opacity", Op: OpLess, Value: 0.25}, false},
		{"lte true at boundary", Condition{On: "target", Field: "opacity", Op: OpLessEqual, Value: 0.25}, true},
		{"eq true", Condition{On: "source", Field: "speed", Op: OpEqual, Value: 1.0}, true},
		{"eq false", Condition{On: "source", Field: "speed", Op: OpEqual, Value: 1.1}, false},
		{"target subject reads target", Condition{On: "target", Field: "speed", Op: OpGreater, Value: 1.5}, true},
		{"empty subject defaults to source", Condition{Field: "intensity", Op: OpGreater, Value: 0.8}, true},
		{"unknown field skips", Condition{On: "source", Field: "luminance", Op: OpGreater, Value: 0}, false},
		{"unknown op skips", Condition{On: "source", Field: "intensity", Op: "between", Value: 0}, false},
		{"unknown subject skips", Condition{On: "both", Field: "intensity", Op: OpGreater, Value: 0}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.cond.Evaluate(source, target); got != c.want {
				t.Errorf("Evaluate() = %v, want %v (%s)", got, c.want, c.cond)
			}
		})
	}
}
