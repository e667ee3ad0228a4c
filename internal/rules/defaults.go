package rules

import (
	"time"

	"ensemble/internal/types"
)

// DefaultArchetypes lists the archetype ids the built-in rulebook connects.
func DefaultArchetypes() []string {
	return []string{
		"beatles", "leadbelly", "tesla", "pranksters",
		"kesey", "cage", "hendrix", "moog",
	}
}

// DefaultLayers lists the layer ids the built-in layer rules reference.
func DefaultLayers() []string {
	return []string{"particles", "lighting", "geometry", "color"}
}

// DefaultConversationRules returns the built-in archetype rulebook.
func DefaultConversationRules() []ConversationRule {
	return []ConversationRule{
		{
			Trigger:     "beatles",
			Responds:    []string{"leadbelly"},
			Probability: 0.7,
			Delay:       2 * time.Second,
			Type:        types.InteractionHarmony,
			Description: "melody reaches back to the delta",
		},
		{
			Trigger:     "leadbelly",
			Responds:    []string{"beatles"},
			Probability: 0.6,
			Delay:       3 * time.Second,
			Type:        types.InteractionHarmony,
			Description: "the root answers the branch",
		},
		{
			Trigger:     "tesla",
			Responds:    []string{"pranksters"},
			Probability: 0.5,
			Delay:       time.Second,
			Type:        types.InteractionChaos,
			Description: "high voltage invites mischief",
		},
		{
			Trigger:     "pranksters",
			Responds:    []string{"kesey"},
			Probability: 0.8,
			Delay:       500 * time.Millisecond,
			Type:        types.InteractionComplement,
			Description: "the bus finds its driver",
		},
		{
			Trigger:     "kesey",
			Responds:    []string{"pranksters", "cage"},
			Probability: 0.6,
			Delay:       1500 * time.Millisecond,
			Type:        types.InteractionTransform,
			Description: "the test spills onto the stage",
		},
		{
			Trigger:     "cage",
			Responds:    []string{"moog"},
			Probability: 0.4,
			Delay:       4 * time.Second,
			Type:        types.InteractionTransform,
			Description: "silence rewired into circuits",
		},
		{
			Trigger:     "moog",
			Responds:    []string{"tesla"},
			Probability: 0.5,
			Delay:       2 * time.Second,
			Type:        types.InteractionComplement,
			Description: "oscillators salute the coil",
		},
		{
			Trigger:     "hendrix",
			Responds:    []string{"beatles", "moog"},
			Probability: 0.65,
			Delay:       time.Second,
			Type:        types.InteractionHarmony,
			Description: "feedback in conversation with melody",
		},
		{
			Trigger:     "beatles",
			Responds:    []string{"hendrix"},
			Probability: 0.45,
			Delay:       2500 * time.Millisecond,
			Type:        types.InteractionComplement,
			Description: "studio craft meets the wall of amps",
		},
		{
			Trigger:     "tesla",
			Responds:    []string{"moog"},
			Probability: 0.7,
			Delay:       3 * time.Second,
			Type:        types.InteractionHarmony,
			Description: "alternating current hums in tune",
		},
		{
			Trigger:     "pranksters",
			Responds:    []string{"cage"},
			Probability: 0.3,
			Delay:       2 * time.Second,
			Type:        types.InteractionChaos,
			Description: "scripted accidents",
		},
		{
			Trigger:     "leadbelly",
			Responds:    []string{"hendrix"},
			Probability: 0.55,
			Delay:       3500 * time.Millisecond,
			Type:        types.InteractionTransform,
			Description: "twelve strings hand down to six",
		},
		{
			Trigger:     "cage",
			Responds:    []string{"kesey"},
			Probability: 0.35,
			Delay:       5 * time.Second,
			Type:        types.InteractionConflict,
			Description: "structure argues with the happening",
		},
	}
}

// DefaultLayerRules returns the built-in cross-layer rulebook.
func DefaultLayerRules() []LayerRule {
	return []LayerRule{
		{
			Source: "particles",
			Target: "lighting",
			When:   Condition{On: "source", Field: "intensity", Op: OpGreater, Value: 0.8},
			Effect: types.Effect{Property: "intensity", Modifier: 1.2, Duration: 2 * time.Second},
		},
		{
			Source: "lighting",
			Target: "color",
			When:   Condition{On: "source", Field: "energy", Op: OpGreater, Value: 0.7},
			Effect: types.Effect{Property: "hue", Modifier: 30, Duration: 3 * time.Second},
		},
		{
			Source: "geometry",
			Target: "particles",
			When:   Condition{On: "source", Field: "speed", Op: OpGreater, Value: 1.5},
			Effect: types.Effect{Property: "speed", Modifier: 1.5, Duration: time.Second},
		},
		{
			Source: "color",
			Target: "geometry",
			When:   Condition{On: "target", Field: "opacity", Op: OpLess, Value: 0.3},
			Effect: types.Effect{Property: "opacity", Modifier: 0.5, Duration: 2 * time.Second},
		},
	}
}
