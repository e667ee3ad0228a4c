// Package rules holds the interaction rulebook: which archetypes respond to
// which triggers, and which layer conditions drive cross-layer effects.
// The engine consumes rules through a Registry; rule files and hot reload
// live here too so the rulebook can change mid-performance.
package rules

import (
	"fmt"
	"time"

	"ensemble/internal/types"
)

// ConversationRule wires a trigger archetype to the archetypes that may
// respond to it. Probability is a per-activation Bernoulli parameter; values
// outside [0,1] are legal and simply clamp the trial to never/always.
type ConversationRule struct {
	Trigger     string
	Responds    []string
	Probability float64
	Delay       time.Duration
	Type        types.InteractionType
	Description string
}

// Clone returns a deep copy. Responds is the only reference field.
func (r ConversationRule) Clone() ConversationRule {
	out := r
	out.Responds = append([]string(nil), r.Responds...)
	return out
}

func (r ConversationRule) String() string {
	return fmt.Sprintf("%s -> %v (p=%.2f, %s)", r.Trigger, r.Responds, r.Probability, r.Type)
}

// LayerRule fires an effect from a source layer onto a target layer whenever
// its condition holds at sweep time. There is no cooldown: a condition that
// stays true emits once per sweep.
type LayerRule struct {
	Source string
	Target string
	When   Condition
	Effect types.Effect
}

func (r LayerRule) String() string {
	return fmt.Sprintf("%s -> %s when %s: %s", r.Source, r.Target, r.When, r.Effect)
}
