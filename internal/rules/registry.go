package rules

import (
	"sync"

	"ensemble/internal/logging"
)

// Registry is the mutable rulebook. All methods are safe for concurrent use;
// reads hand out deep copies so callers can never alias internal state.
//
// Mutations only affect matching performed after they return. Work the
// engine already scheduled from an earlier match is deliberately untouched.
type Registry struct {
	mu           sync.RWMutex
	conversation []ConversationRule
	layer        []LayerRule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewDefaultRegistry returns a registry loaded with the built-in rulebook.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.ReplaceAll(DefaultConversationRules(), DefaultLayerRules())
	return r
}

// ---- conversation rules ----

// AddConversationRule appends a rule. Duplicate triggers are allowed; each
// rule gets its own Bernoulli trial on activation.
func (r *Registry) AddConversationRule(rule ConversationRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversation = append(r.conversation, rule.Clone())
	logging.Rules("added conversation rule: %s", rule)
}

// RemoveConversationRule strips responder from every rule with the given
// trigger. Rules whose responder list empties are deleted; rules with other
// responders remaining are kept. Returns true if anything changed.
func (r *Registry) RemoveConversationRule(trigger, responder string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	kept := r.conversation[:0]
	for _, rule := range r.conversation {
		if rule.Trigger != trigger {
			kept = append(kept, rule)
			continue
		}

		responds := rule.Responds[:0]
		for _, resp := range rule.Responds {
			if resp == responder {
				changed = true
				continue
			}
			responds = append(responds, resp)
		}
		rule.Responds = responds

		if len(rule.Responds) == 0 {
			// Last responder gone, drop the whole rule
			continue
		}
		kept = append(kept, rule)
	}
	r.conversation = kept

	if changed {
		logging.Rules("removed responder %s from trigger %s", responder, trigger)
	}
	return changed
}

// ConversationRules returns deep copies of all conversation rules in
// registration order.
func (r *Registry) ConversationRules() []ConversationRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConversationRule, 0, len(r.conversation))
	for _, rule := range r.conversation {
		out = append(out, rule.Clone())
	}
	return out
}

// RulesFor returns deep copies of every conversation rule whose trigger
// matches exactly.
func (r *Registry) RulesFor(trigger string) []ConversationRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ConversationRule
	for _, rule := range r.conversation {
		if rule.Trigger == trigger {
			out = append(out, rule.Clone())
		}
	}
	return out
}

// ---- layer rules ----

// AddLayerRule appends a cross-layer rule.
func (r *Registry) AddLayerRule(rule LayerRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layer = append(r.layer, rule)
	logging.Rules("added layer rule: %s", rule)
}

// RemoveLayerRule deletes every rule for the source/target pair.
// Returns true if anything was removed.
func (r *Registry) RemoveLayerRule(source, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	kept := r.layer[:0]
	for _, rule := range r.layer {
		if rule.Source == source && rule.Target == target {
			changed = true
			continue
		}
		kept = append(kept, rule)
	}
	r.layer = kept
	return changed
}

// LayerRules returns copies of all layer rules in registration order.
func (r *Registry) LayerRules() []LayerRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LayerRule, len(r.layer))
	copy(out, r.layer)
	return out
}

// ---- bulk operations ----

// ReplaceAll swaps the whole rulebook in one step. Used by hot reload so a
// mid-reload reader never sees a half-applied file.
func (r *Registry) ReplaceAll(conversation []ConversationRule, layer []LayerRule) {
	conv := make([]ConversationRule, 0, len(conversation))
	for _, rule := range conversation {
		conv = append(conv, rule.Clone())
	}
	lay := make([]LayerRule, len(layer))
	copy(lay, layer)

	r.mu.Lock()
	r.conversation = conv
	r.layer = lay
	r.mu.Unlock()

	logging.Rules("rulebook replaced: %d conversation, %d layer", len(conv), len(lay))
}

// Counts returns the number of conversation and layer rules.
func (r *Registry) Counts() (conversation, layer int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversation), len(r.layer)
}
