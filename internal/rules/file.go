package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ensemble/internal/types"

	"gopkg.in/yaml.v3"
)

// Rule files are YAML with string durations so they stay hand-editable
// mid-show. The entry structs below are the file schema; they convert to the
// domain types on load.

type ruleFile struct {
	Conversations []conversationEntry `yaml:"conversations"`
	Layers        []layerEntry        `yaml:"layers"`
}

type conversationEntry struct {
	Trigger     string   `yaml:"trigger"`
	Responds    []string `yaml:"responds"`
	Probability float64  `yaml:"probability"`
	Delay       string   `yaml:"delay"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
}

type layerEntry struct {
	Source string        `yaml:"source"`
	Target string        `yaml:"target"`
	When   conditionEntry `yaml:"when"`
	Effect effectEntry    `yaml:"effect"`
}

type conditionEntry struct {
	On    string  `yaml:"on"`
	Field string  `yaml:"field"`
	Op    string  `yaml:"op"`
	Value float64 `yaml:"value"`
}

type effectEntry struct {
	Property string  `yaml:"property"`
	Modifier float64 `yaml:"modifier"`
	Duration string  `yaml:"duration"`
}

// LoadFile reads a YAML rule file and converts it to domain rules.
// Probabilities outside [0,1] are passed through untouched; the engine
// treats them as never/always.
func LoadFile(path string) ([]ConversationRule, []LayerRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	conversations := make([]ConversationRule, 0, len(rf.Conversations))
	for i, entry := range rf.Conversations {
		if entry.Trigger == "" {
			return nil, nil, fmt.Errorf("conversation rule %d: trigger required", i)
		}

		delay, err := parseDuration(entry.Delay, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("conversation rule %d (%s): %w", i, entry.Trigger, err)
		}

		conversations = append(conversations, ConversationRule{
			Trigger:     entry.Trigger,
			Responds:    append([]string(nil), entry.Responds...),
			Probability: entry.Probability,
			Delay:       delay,
			Type:        types.InteractionType(entry.Type),
			Description: entry.Description,
		})
	}

	layers := make([]LayerRule, 0, len(rf.Layers))
	for i, entry := range rf.Layers {
		if entry.Source == "" || entry.Target == "" {
			return nil, nil, fmt.Errorf("layer rule %d: source and target required", i)
		}

		duration, err := parseDuration(entry.Effect.Duration, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("layer rule %d (%s->%s): %w", i, entry.Source, entry.Target, err)
		}

		layers = append(layers, LayerRule{
			Source: entry.Source,
			Target: entry.Target,
			When: Condition{
				On:    entry.When.On,
				Field: entry.When.Field,
				Op:    entry.When.Op,
				Value: entry.When.Value,
			},
			Effect: types.Effect{
				Property: entry.Effect.Property,
				Modifier: entry.Effect.Modifier,
				Duration: duration,
			},
		})
	}

	return conversations, layers, nil
}

// SaveFile writes rules to a YAML file in the schema LoadFile reads.
func SaveFile(path string, conversations []ConversationRule, layers []LayerRule) error {
	rf := ruleFile{
		Conversations: make([]conversationEntry, 0, len(conversations)),
		Layers:        make([]layerEntry, 0, len(layers)),
	}

	for _, rule := range conversations {
		rf.Conversations = append(rf.Conversations, conversationEntry{
			Trigger:     rule.Trigger,
			Responds:    append([]string(nil), rule.Responds...),
			Probability: rule.Probability,
			Delay:       rule.Delay.String(),
			Type:        string(rule.Type),
			Description: rule.Description,
		})
	}

	for _, rule := range layers {
		rf.Layers = append(rf.Layers, layerEntry{
			Source: rule.Source,
			Target: rule.Target,
			When: conditionEntry{
				On:    rule.When.On,
				Field: rule.When.Field,
				Op:    rule.When.Op,
				Value: rule.When.Value,
			},
			Effect: effectEntry{
				Property: rule.Effect.Property,
				Modifier: rule.Effect.Modifier,
				Duration: rule.Effect.Duration.String(),
			},
		})
	}

	data, err := yaml.Marshal(&rf)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write rule file: %w", err)
	}

	return nil
}

// parseDuration parses a duration string, allowing empty for a default.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad duration %q: %w", s, err)
	}
	return d, nil
}
