// Package types provides shared type definitions used across ensemble packages.
// This package exists to break import cycles between rules, engine, and patterns.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// INTERACTION TYPES
// =============================================================================

// InteractionType classifies the character of an archetype conversation.
// The type never changes scheduling behavior; it labels events and weights
// relationship analytics.
type InteractionType string

const (
	InteractionComplement InteractionType = "complement"
	InteractionConflict   InteractionType = "conflict"
	InteractionHarmony    InteractionType = "harmony"
	InteractionChaos      InteractionType = "chaos"
	InteractionTransform  InteractionType = "transform"
)

// Weight returns the affinity weight used by relationship analytics.
// Unknown types weigh 1.0 so hand-edited rule files degrade gracefully.
func (t InteractionType) Weight() float64 {
	switch t {
	case InteractionHarmony:
		return 1.5
	case InteractionComplement:
		return 1.3
	case InteractionTransform:
		return 1.1
	case InteractionChaos:
		return 0.8
	case InteractionConflict:
		return 0.5
	default:
		return 1.0
	}
}

// =============================================================================
// ACTIVATIONS
// =============================================================================

// Activation records a single archetype trigger with its observation time.
type Activation struct {
	Archetype string    `json:"archetype"`
	At        time.Time `json:"at"`
}

// =============================================================================
// LAYER STATE
// =============================================================================

// LayerState is a snapshot of one visual layer's parameters as reported by
// the upstream renderer. Updates replace the whole snapshot; zero values mean
// "reported as zero", not "absent".
type LayerState struct {
	Intensity float64   `json:"intensity"`
	Speed     float64   `json:"speed"`
	Hue       float64   `json:"hue"`
	Opacity   float64   `json:"opacity"`
	Energy    float64   `json:"energy"`
	At        time.Time `json:"at"`
}

// Field resolves a named numeric field for condition evaluation.
// The second return is false for names this snapshot does not carry.
func (s LayerState) Field(name string) (float64, bool) {
	switch name {
	case "intensity":
		return s.Intensity, true
	case "speed":
		return s.Speed, true
	case "hue":
		return s.Hue, true
	case "opacity":
		return s.Opacity, true
	case "energy":
		return s.Energy, true
	default:
		return 0, false
	}
}

// LayerFields lists the field names Field resolves, in display order.
func LayerFields() []string {
	return []string{"intensity", "speed", "hue", "opacity", "energy"}
}

// =============================================================================
// EFFECTS
// =============================================================================

// Effect describes the visual consequence of a layer interaction. The engine
// emits it verbatim; applying Modifier to Property is the renderer's job.
type Effect struct {
	Property string        `json:"property"`
	Modifier float64       `json:"modifier"`
	Duration time.Duration `json:"duration"`
}

func (e Effect) String() string {
	return fmt.Sprintf("%s x%.2f for %s", e.Property, e.Modifier, e.Duration)
}

// =============================================================================
// EVENTS
// =============================================================================

// Event kinds returned by Kind.
const (
	KindConversation     = "conversation"
	KindLayerInteraction = "layer_interaction"
)

// Event is the common surface of everything the engine emits.
type Event interface {
	Kind() string
	EventID() string
	EventTime() time.Time
}

// ConversationEvent announces that one archetype responded to another.
type ConversationEvent struct {
	ID          string          `json:"id"`
	Trigger     string          `json:"trigger"`
	Response    string          `json:"response"`
	Type        InteractionType `json:"type"`
	Description string          `json:"description"`
	At          time.Time       `json:"at"`
}

func (e ConversationEvent) Kind() string         { return KindConversation }
func (e ConversationEvent) EventID() string      { return e.ID }
func (e ConversationEvent) EventTime() time.Time { return e.At }

func (e ConversationEvent) String() string {
	return fmt.Sprintf("[%s] %s -> %s (%s)", e.Type, e.Trigger, e.Response, e.Description)
}

// LayerEvent announces that a cross-layer rule fired.
type LayerEvent struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Target string    `json:"target"`
	Effect Effect    `json:"effect"`
	At     time.Time `json:"at"`
}

func (e LayerEvent) Kind() string         { return KindLayerInteraction }
func (e LayerEvent) EventID() string      { return e.ID }
func (e LayerEvent) EventTime() time.Time { return e.At }

func (e LayerEvent) String() string {
	return fmt.Sprintf("%s -> %s: %s", e.Source, e.Target, e.Effect)
}
