package config

import "time"

// EngineConfig configures the reactive engine's timing and history behavior.
// Durations are strings so the YAML stays hand-editable ("500ms", "10s").
type EngineConfig struct {
	// Sliding activation window size
	HistoryLimit int `yaml:"history_limit"`

	// Activations older than this are evicted on sweep
	HistoryMaxAge string `yaml:"history_max_age"`

	// Cadence of the cleanup + layer-rule sweep
	SweepInterval string `yaml:"sweep_interval"`

	// Real-time driver tick resolution
	TickResolution string `yaml:"tick_resolution"`

	// Per-responder scheduling offset within one triggered rule
	ResponderStagger string `yaml:"responder_stagger"`

	// How long an executed conversation stays active
	ConversationTTL string `yaml:"conversation_ttl"`

	// Maximum gap between adjacent activations for chain detection
	ChainGap string `yaml:"chain_gap"`

	// RNG seed. Zero means a crypto-random seed at startup.
	Seed int64 `yaml:"seed"`
}

// DefaultEngineConfig returns the stock engine timing.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistoryLimit:     20,
		HistoryMaxAge:    "30s",
		SweepInterval:    "500ms",
		TickResolution:   "50ms",
		ResponderStagger: "500ms",
		ConversationTTL:  "10s",
		ChainGap:         "5s",
		Seed:             0,
	}
}

// GetHistoryMaxAge returns the activation max age as a duration.
func (c *Config) GetHistoryMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Engine.HistoryMaxAge)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetSweepInterval returns the sweep cadence as a duration.
func (c *Config) GetSweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Engine.SweepInterval)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetTickResolution returns the driver tick resolution as a duration.
func (c *Config) GetTickResolution() time.Duration {
	d, err := time.ParseDuration(c.Engine.TickResolution)
	if err != nil {
		return 50 * time.Millisecond
	}
	return d
}

// GetResponderStagger returns the per-responder offset as a duration.
func (c *Config) GetResponderStagger() time.Duration {
	d, err := time.ParseDuration(c.Engine.ResponderStagger)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetConversationTTL returns the active conversation lifetime as a duration.
func (c *Config) GetConversationTTL() time.Duration {
	d, err := time.ParseDuration(c.Engine.ConversationTTL)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetChainGap returns the chain detection gap as a duration.
func (c *Config) GetChainGap() time.Duration {
	d, err := time.ParseDuration(c.Engine.ChainGap)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetRulesDebounce returns the rule watcher debounce window as a duration.
func (c *Config) GetRulesDebounce() time.Duration {
	d, err := time.ParseDuration(c.Rules.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}
