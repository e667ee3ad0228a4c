// Package engine is the reactive core: it records archetype activations,
// schedules probabilistic conversation responses, sweeps cross-layer rules,
// and emits the resulting events. One mutex serializes all public methods;
// time enters only through Tick so tests and replay can drive the engine
// with a manual clock.
package engine

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"ensemble/internal/logging"
	"ensemble/internal/patterns"
	"ensemble/internal/random"
	"ensemble/internal/rules"
	"ensemble/internal/types"
)

// Config holds the engine's timing and history parameters. Zero values fall
// back to the defaults below.
type Config struct {
	// HistoryLimit is the sliding activation window size.
	HistoryLimit int

	// HistoryMaxAge evicts older activations on sweep.
	HistoryMaxAge time.Duration

	// SweepInterval is the cadence of cleanup and layer rule evaluation.
	SweepInterval time.Duration

	// TickResolution is the real-time driver's pump rate.
	TickResolution time.Duration

	// ResponderStagger offsets each responder within one triggered rule.
	ResponderStagger time.Duration

	// ConversationTTL is how long an executed conversation stays active.
	ConversationTTL time.Duration

	// ChainGap is the maximum spacing for chain detection.
	ChainGap time.Duration

	// Seed seeds the trial RNG. Zero means crypto-random.
	Seed int64

	// Now supplies the clock for RecordActivation, UpdateLayerState and
	// ForceConversation. Defaults to time.Now. Tick takes time explicitly.
	Now func() time.Time
}

// DefaultConfig returns the stock timing.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:     20,
		HistoryMaxAge:    30 * time.Second,
		SweepInterval:    500 * time.Millisecond,
		TickResolution:   50 * time.Millisecond,
		ResponderStagger: 500 * time.Millisecond,
		ConversationTTL:  10 * time.Second,
		ChainGap:         5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.HistoryMaxAge <= 0 {
		c.HistoryMaxAge = def.HistoryMaxAge
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.TickResolution <= 0 {
		c.TickResolution = def.TickResolution
	}
	if c.ResponderStagger <= 0 {
		c.ResponderStagger = def.ResponderStagger
	}
	if c.ConversationTTL <= 0 {
		c.ConversationTTL = def.ConversationTTL
	}
	if c.ChainGap <= 0 {
		c.ChainGap = def.ChainGap
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Engine is the conversation and layer interaction core.
//
// All mutable state lives behind one mutex. Event callbacks registered with
// OnEvent run synchronously while that mutex is held, so they must not call
// back into the engine; hand work to a goroutine or use the Bus instead.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	registry *rules.Registry
	analyzer *patterns.Analyzer
	bus      *Bus

	now func() time.Time
	rng *rand.Rand

	queue taskQueue
	seq   uint64

	activations []types.Activation
	layers      map[string]types.LayerState
	active      map[string]types.ConversationEvent
	activeOrder []string

	callbacks []func(types.Event)

	lastSweep time.Time
	stats     Stats

	// Real-time driver
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an engine over the given registry. A nil registry gets the
// default rulebook.
func New(registry *rules.Registry, cfg Config) *Engine {
	cfg = cfg.withDefaults()

	if registry == nil {
		registry = rules.NewDefaultRegistry()
	}

	seed := cfg.Seed
	if seed == 0 {
		s, err := random.NewSeed()
		if err != nil {
			s = time.Now().UnixNano()
		}
		seed = s
	}

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		analyzer: patterns.NewAnalyzer(cfg.ChainGap),
		bus:      NewBus(),
		now:      cfg.Now,
		rng:      rand.New(rand.NewSource(seed)),
		layers:   make(map[string]types.LayerState),
		active:   make(map[string]types.ConversationEvent),
	}
	heap.Init(&e.queue)

	logging.Engine("engine created (history=%d, sweep=%s, ttl=%s, seed=%d)",
		cfg.HistoryLimit, cfg.SweepInterval, cfg.ConversationTTL, seed)
	return e
}

// Registry returns the engine's rulebook.
func (e *Engine) Registry() *rules.Registry {
	return e.registry
}

// Bus returns the engine's event bus for channel subscriptions.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// OnEvent registers a callback invoked synchronously for every emitted
// event. The callback runs with the engine's mutex held: it must return
// quickly and must not call engine methods.
func (e *Engine) OnEvent(fn func(types.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, fn)
}

// =============================================================================
// ACTIVATION TRACKING AND CONVERSATION SCHEDULING
// =============================================================================

// RecordActivation notes that an archetype was triggered and runs one
// Bernoulli trial per matching rule, scheduling staggered responses for the
// winners. Matching is complete before this returns; execution is deferred
// to the tick the response comes due.
func (e *Engine) RecordActivation(archetype string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.activations = append(e.activations, types.Activation{Archetype: archetype, At: now})
	if len(e.activations) > e.cfg.HistoryLimit {
		e.activations = e.activations[len(e.activations)-e.cfg.HistoryLimit:]
	}
	e.stats.Activations++
	logging.EngineDebug("activation: %s", archetype)

	for _, rule := range e.registry.RulesFor(archetype) {
		e.stats.Trials++
		if !(e.rng.Float64() < rule.Probability) {
			continue
		}

		for i, responder := range rule.Responds {
			due := now.Add(rule.Delay + time.Duration(i)*e.cfg.ResponderStagger)
			trigger, resp, typ, desc := rule.Trigger, responder, rule.Type, rule.Description
			e.scheduleLocked(due, func(runNow time.Time) {
				e.executeLocked(trigger, resp, typ, desc, runNow)
			})
			e.stats.Scheduled++
			logging.ConversationDebug("scheduled %s->%s at %s", trigger, resp, due.Format(time.RFC3339Nano))
		}
	}
}

// ForceConversation executes a conversation immediately, bypassing the
// probability trial. It needs a rule connecting the pair for the type and
// description; without one nothing happens. Returns whether an event was
// emitted.
func (e *Engine) ForceConversation(trigger, responder string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.registry.RulesFor(trigger) {
		for _, resp := range rule.Responds {
			if resp == responder {
				return e.executeLocked(trigger, responder, rule.Type, rule.Description, e.now())
			}
		}
	}
	logging.ConversationDebug("force: no rule connects %s->%s", trigger, responder)
	return false
}

// executeLocked runs one conversation: registers it active, schedules its
// expiry, and emits the event. A conversation whose id is already active is
// dropped silently; two executions of the same pair within one millisecond
// coalesce by construction of the id.
func (e *Engine) executeLocked(trigger, responder string, typ types.InteractionType, desc string, now time.Time) bool {
	id := fmt.Sprintf("%s-%s-%d", trigger, responder, now.UnixMilli())
	if _, exists := e.active[id]; exists {
		e.stats.DuplicatesDropped++
		logging.ConversationDebug("duplicate conversation dropped: %s", id)
		return false
	}

	ev := types.ConversationEvent{
		ID:          id,
		Trigger:     trigger,
		Response:    responder,
		Type:        typ,
		Description: desc,
		At:          now,
	}

	e.active[id] = ev
	e.activeOrder = append(e.activeOrder, id)
	e.stats.Conversations++

	e.scheduleLocked(now.Add(e.cfg.ConversationTTL), func(time.Time) {
		e.expireLocked(id)
	})

	logging.Conversation("%s", ev)
	e.dispatchLocked(ev)
	return true
}

// expireLocked removes a conversation from the active set. Expiry is
// unconditional; nothing extends a conversation's lifetime.
func (e *Engine) expireLocked(id string) {
	if _, exists := e.active[id]; !exists {
		return
	}
	delete(e.active, id)
	for i, other := range e.activeOrder {
		if other == id {
			e.activeOrder = append(e.activeOrder[:i], e.activeOrder[i+1:]...)
			break
		}
	}
	e.stats.Expired++
	logging.ConversationDebug("conversation expired: %s", id)
}

// =============================================================================
// LAYER STATE AND CROSS-LAYER RULES
// =============================================================================

// UpdateLayerState replaces a layer's snapshot wholesale. Updates never
// trigger evaluation; rules are checked only on the sweep.
func (e *Engine) UpdateLayerState(layerID string, state types.LayerState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state.At = e.now()
	e.layers[layerID] = state
	logging.LayersDebug("layer %s updated", layerID)
}

// sweepLocked evicts stale activations and evaluates every layer rule.
// A rule whose condition holds emits once per sweep; there is no cooldown.
func (e *Engine) sweepLocked(now time.Time) {
	e.stats.Sweeps++

	// Age out activations beyond the retention window
	cutoff := 0
	for cutoff < len(e.activations) && now.Sub(e.activations[cutoff].At) > e.cfg.HistoryMaxAge {
		cutoff++
	}
	if cutoff > 0 {
		e.activations = e.activations[cutoff:]
		logging.EngineDebug("evicted %d aged activations", cutoff)
	}

	for _, rule := range e.registry.LayerRules() {
		source, okSource := e.layers[rule.Source]
		target, okTarget := e.layers[rule.Target]
		if !okSource || !okTarget {
			// A layer that has not reported yet cannot drive or receive
			continue
		}
		if !rule.When.Evaluate(source, target) {
			continue
		}

		ev := types.LayerEvent{
			ID:     fmt.Sprintf("%s-%s-%d", rule.Source, rule.Target, now.UnixMilli()),
			Source: rule.Source,
			Target: rule.Target,
			Effect: rule.Effect,
			At:     now,
		}
		e.stats.LayerFires++
		logging.Layers("%s", ev)
		e.dispatchLocked(ev)
	}
}

// =============================================================================
// TIME
// =============================================================================

// Tick advances the engine to now: due scheduled work runs first, then the
// periodic sweep if its interval has elapsed. Ticks must carry monotonically
// non-decreasing times.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queue.runDue(now)

	if now.Sub(e.lastSweep) >= e.cfg.SweepInterval {
		e.lastSweep = now
		e.sweepLocked(now)
	}
}

// Start launches the real-time driver: a ticker pumping Tick at the
// configured resolution. Non-blocking; idempotent while running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil // Already running
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	logging.Engine("real-time driver starting (resolution %s)", e.cfg.TickResolution)
	go e.loop(ctx)

	return nil
}

// Stop halts the real-time driver and waits for it to finish. The engine
// remains usable afterwards; manual Ticks still work.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stopCh)
	<-doneCh
	logging.Engine("real-time driver stopped")
}

// Close shuts down the event bus. Call after Stop at teardown.
func (e *Engine) Close() {
	e.bus.Close()
}

// loop is the driver goroutine.
func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.TickResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.EngineDebug("driver: context cancelled")
			return
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}

// scheduleLocked enqueues a task. Caller holds the mutex.
func (e *Engine) scheduleLocked(due time.Time, run func(time.Time)) {
	e.seq++
	heap.Push(&e.queue, &task{due: due, seq: e.seq, run: run})
}

// dispatchLocked hands an event to every callback and the bus. Caller holds
// the mutex.
func (e *Engine) dispatchLocked(ev types.Event) {
	for _, fn := range e.callbacks {
		fn(ev)
	}
	e.bus.EmitImmediate(ev)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// RecentActivations returns up to n most recent activations in
// chronological order. n <= 0 returns the whole retained window.
func (e *Engine) RecentActivations(n int) []types.Activation {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := e.activations
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]types.Activation, len(history))
	copy(out, history)
	return out
}

// ActiveConversations returns the live conversations in execution order.
func (e *Engine) ActiveConversations() []types.ConversationEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeConversationsLocked()
}

func (e *Engine) activeConversationsLocked() []types.ConversationEvent {
	out := make([]types.ConversationEvent, 0, len(e.activeOrder))
	for _, id := range e.activeOrder {
		out = append(out, e.active[id])
	}
	return out
}

// LayerStates returns a copy of every layer's latest snapshot.
func (e *Engine) LayerStates() map[string]types.LayerState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]types.LayerState, len(e.layers))
	for id, state := range e.layers {
		out[id] = state
	}
	return out
}

// ConversationRules returns the rulebook's conversation rules.
func (e *Engine) ConversationRules() []rules.ConversationRule {
	return e.registry.ConversationRules()
}

// LayerRules returns the rulebook's layer rules.
func (e *Engine) LayerRules() []rules.LayerRule {
	return e.registry.LayerRules()
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.PendingTasks = e.queue.Len()
	s.ActiveConversations = len(e.active)
	s.HistorySize = len(e.activations)
	return s
}

// =============================================================================
// PATTERN DELEGATES
// =============================================================================

// DetectPatterns returns the named co-occurrence patterns in recent history.
func (e *Engine) DetectPatterns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analyzer.Detect(e.activations)
}

// ConversationChains returns rule-connected activation chains in recent
// history.
func (e *Engine) ConversationChains() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analyzer.Chains(e.activations, e.registry.ConversationRules())
}

// Influence scores an archetype's current presence.
func (e *Engine) Influence(archetype string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analyzer.Influence(archetype, e.activations, e.activeConversationsLocked())
}

// Affinities returns the probability-weighted edge strengths from one
// archetype to each of its responders.
func (e *Engine) Affinities(archetype string) map[string]float64 {
	return e.analyzer.Affinities(archetype, e.registry.ConversationRules())
}

// StrongestRelationships returns the top rule edges by weight.
func (e *Engine) StrongestRelationships() []patterns.Relationship {
	return e.analyzer.StrongestRelationships(e.registry.ConversationRules())
}

// RelationshipMap returns the affinity map for every trigger.
func (e *Engine) RelationshipMap() map[string]map[string]float64 {
	return e.analyzer.RelationshipMap(e.registry.ConversationRules())
}
