// Package patterns derives relationship analytics from activation history
// and the live rulebook: named co-occurrence patterns, response chains,
// influence scores, and archetype affinity maps. Everything here is a pure
// function of the snapshots passed in; the engine owns all mutable state.
package patterns

import (
	"fmt"
	"sort"
	"time"

	"ensemble/internal/logging"
	"ensemble/internal/rules"
	"ensemble/internal/types"
)

const (
	// patternWindow is how many recent activations co-occurrence looks at.
	patternWindow = 5

	// chainWindow is how many recent activations chain detection walks.
	chainWindow = 10

	// Influence formula weights and ceiling.
	recentWeight  = 0.3
	mentionWeight = 0.5
	influenceCap  = 2.0

	// topRelationships caps the strongest-relationships list.
	topRelationships = 10
)

// namedPatterns is the closed co-occurrence vocabulary. A label fires when
// all of its members appear in the last patternWindow activations.
var namedPatterns = []struct {
	label   string
	members []string
}{
	{"musical_heritage", []string{"beatles", "leadbelly"}},
	{"electric_mischief", []string{"tesla", "pranksters"}},
	{"acid_test", []string{"kesey", "pranksters"}},
	{"studio_wizardry", []string{"beatles", "tesla"}},
}

// Analyzer holds the tunable parts of pattern detection.
type Analyzer struct {
	// ChainGap is the maximum gap between adjacent activations for them to
	// count as one chain link.
	ChainGap time.Duration
}

// NewAnalyzer returns an analyzer with the given chain gap.
func NewAnalyzer(chainGap time.Duration) *Analyzer {
	if chainGap <= 0 {
		chainGap = 5 * time.Second
	}
	return &Analyzer{ChainGap: chainGap}
}

// Detect returns the named patterns present in the last patternWindow
// activations, in vocabulary order.
func (a *Analyzer) Detect(history []types.Activation) []string {
	window := tail(history, patternWindow)
	if len(window) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(window))
	for _, act := range window {
		seen[act.Archetype] = true
	}

	var found []string
	for _, p := range namedPatterns {
		all := true
		for _, m := range p.members {
			if !seen[m] {
				all = false
				break
			}
		}
		if all {
			found = append(found, p.label)
			logging.PatternsDebug("pattern detected: %s", p.label)
		}
	}
	return found
}

// Chains walks the last chainWindow activations and reports adjacent pairs
// that are close in time and connected by a conversation rule, formatted
// "current→next".
func (a *Analyzer) Chains(history []types.Activation, rulebook []rules.ConversationRule) []string {
	window := tail(history, chainWindow)
	if len(window) < 2 {
		return nil
	}

	var chains []string
	for i := 0; i < len(window)-1; i++ {
		cur, next := window[i], window[i+1]
		if next.At.Sub(cur.At) >= a.ChainGap {
			continue
		}
		if !ruleConnects(rulebook, cur.Archetype, next.Archetype) {
			continue
		}
		chains = append(chains, fmt.Sprintf("%s→%s", cur.Archetype, next.Archetype))
	}

	if len(chains) > 0 {
		logging.PatternsDebug("detected %d chain links", len(chains))
	}
	return chains
}

// Influence scores how present an archetype is right now: recent activations
// plus mentions in active conversations, capped.
func (a *Analyzer) Influence(archetype string, history []types.Activation, active []types.ConversationEvent) float64 {
	recent := 0
	for _, act := range history {
		if act.Archetype == archetype {
			recent++
		}
	}

	mentions := 0
	for _, conv := range active {
		if conv.Trigger == archetype || conv.Response == archetype {
			mentions++
		}
	}

	score := recentWeight*float64(recent) + mentionWeight*float64(mentions)
	if score > influenceCap {
		score = influenceCap
	}
	return score
}

// Affinities sums probability-weighted edge strengths from one archetype to
// each of its responders across the whole rulebook.
func (a *Analyzer) Affinities(archetype string, rulebook []rules.ConversationRule) map[string]float64 {
	out := make(map[string]float64)
	for _, rule := range rulebook {
		if rule.Trigger != archetype {
			continue
		}
		w := rule.Probability * rule.Type.Weight()
		for _, resp := range rule.Responds {
			out[resp] += w
		}
	}
	return out
}

// Relationship is one directed trigger→responder edge with its weight.
type Relationship struct {
	Trigger   string
	Responder string
	Weight    float64
	Type      types.InteractionType
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s→%s %.2f (%s)", r.Trigger, r.Responder, r.Weight, r.Type)
}

// StrongestRelationships flattens every rule edge, sorts by weight
// descending, and returns the top entries. Equal weights keep rulebook
// enumeration order.
func (a *Analyzer) StrongestRelationships(rulebook []rules.ConversationRule) []Relationship {
	var edges []Relationship
	for _, rule := range rulebook {
		w := rule.Probability * rule.Type.Weight()
		for _, resp := range rule.Responds {
			edges = append(edges, Relationship{
				Trigger:   rule.Trigger,
				Responder: resp,
				Weight:    w,
				Type:      rule.Type,
			})
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Weight > edges[j].Weight
	})

	if len(edges) > topRelationships {
		edges = edges[:topRelationships]
	}
	return edges
}

// RelationshipMap returns the affinity map for every trigger in the
// rulebook.
func (a *Analyzer) RelationshipMap(rulebook []rules.ConversationRule) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, rule := range rulebook {
		if _, done := out[rule.Trigger]; done {
			continue
		}
		out[rule.Trigger] = a.Affinities(rule.Trigger, rulebook)
	}
	return out
}

// ruleConnects reports whether any rule routes from trigger to responder.
func ruleConnects(rulebook []rules.ConversationRule, trigger, responder string) bool {
	for _, rule := range rulebook {
		if rule.Trigger != trigger {
			continue
		}
		for _, resp := range rule.Responds {
			if resp == responder {
				return true
			}
		}
	}
	return false
}

// tail returns the last n elements of history (or all of it).
func tail(history []types.Activation, n int) []types.Activation {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
