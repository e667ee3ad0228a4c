package engine

import (
	"strconv"
	"testing"
	"time"

	"ensemble/internal/rules"
	"ensemble/internal/types"

	"github.com/google/go-cmp/cmp"
)

// manualClock drives the engine deterministically in tests.
type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

// testEngine builds an engine on a manual clock with a fixed seed and an
// event recorder.
func testEngine(t *testing.T, registry *rules.Registry) (*Engine, *manualClock, *[]types.Event) {
	t.Helper()
	clock := newManualClock()
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.Seed = 1

	e := New(registry, cfg)

	events := &[]types.Event{}
	e.OnEvent(func(ev types.Event) {
		*events = append(*events, ev)
	})
	return e, clock, events
}

func singleRuleRegistry(rule rules.ConversationRule) *rules.Registry {
	r := rules.NewRegistry()
	r.AddConversationRule(rule)
	return r
}

func TestActivationHistoryCap(t *testing.T) {
	e, _, _ := testEngine(t, rules.NewRegistry())

	for i := 0; i < 25; i++ {
		e.RecordActivation("beatles")
	}

	got := e.RecentActivations(0)
	if len(got) != 20 {
		t.Errorf("history should cap at 20, got %d", len(got))
	}

	if got := e.RecentActivations(5); len(got) != 5 {
		t.Errorf("RecentActivations(5) returned %d", len(got))
	}
}

func TestActivationAgeEviction(t *testing.T) {
	e, clock, _ := testEngine(t, rules.NewRegistry())

	e.RecordActivation("beatles")
	clock.Advance(29 * time.Second)
	e.RecordActivation("tesla")

	e.Tick(clock.Now())
	if got := e.RecentActivations(0); len(got) != 2 {
		t.Fatalf("nothing should be evicted yet, have %d", len(got))
	}

	// beatles is now 31s old, tesla 2s
	e.Tick(clock.Advance(2 * time.Second))

	got := e.RecentActivations(0)
	if len(got) != 1 || got[0].Archetype != "tesla" {
		t.Errorf("expected only tesla to survive, got %v", got)
	}
}

func TestCertainRuleExecutesAtDelay(t *testing.T) {
	e, clock, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger:     "beatles",
		Responds:    []string{"leadbelly"},
		Probability: 1.0,
		Delay:       2 * time.Second,
		Type:        types.InteractionHarmony,
		Description: "call and response",
	}))

	start := clock.Now()
	e.RecordActivation("beatles")

	if len(*events) != 0 {
		t.Fatal("execution must be deferred, not synchronous with the activation")
	}

	e.Tick(clock.Advance(time.Second))
	if len(*events) != 0 {
		t.Fatal("response fired before its delay elapsed")
	}

	e.Tick(clock.Advance(time.Second))
	if len(*events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(*events))
	}

	ev, ok := (*events)[0].(types.ConversationEvent)
	if !ok {
		t.Fatalf("expected ConversationEvent, got %T", (*events)[0])
	}
	if ev.Trigger != "beatles" || ev.Response != "leadbelly" {
		t.Errorf("wrong participants: %s", ev)
	}
	if ev.Type != types.InteractionHarmony || ev.Description != "call and response" {
		t.Errorf("rule metadata not carried: %s", ev)
	}
	wantID := "beatles-leadbelly-" + formatMilli(start.Add(2*time.Second))
	if ev.ID != wantID {
		t.Errorf("ID = %q, want %q", ev.ID, wantID)
	}

	stats := e.Stats()
	if stats.Trials != 1 || stats.Scheduled != 1 || stats.Conversations != 1 {
		t.Errorf("stats off: %s", stats)
	}
}

func formatMilli(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestZeroProbabilityNeverFires(t *testing.T) {
	e, clock, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger: "beatles", Responds: []string{"leadbelly"}, Probability: 0.0,
	}))

	for i := 0; i < 10; i++ {
		e.RecordActivation("beatles")
		e.Tick(clock.Advance(time.Second))
	}

	if len(*events) != 0 {
		t.Errorf("p=0 must never fire, got %d events", len(*events))
	}
	if stats := e.Stats(); stats.Trials != 10 || stats.Scheduled != 0 {
		t.Errorf("stats off: %s", stats)
	}
}

func TestOutOfRangeProbabilities(t *testing.T) {
	t.Run("above one always fires", func(t *testing.T) {
		e, clock, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
			Trigger: "tesla", Responds: []string{"moog"}, Probability: 1.5,
		}))
		for i := 0; i < 5; i++ {
			e.RecordActivation("tesla")
			e.Tick(clock.Advance(time.Second))
		}
		if len(*events) != 5 {
			t.Errorf("p>1 should fire every time, got %d/5", len(*events))
		}
	})

	t.Run("below zero never fires", func(t *testing.T) {
		e, clock, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
			Trigger: "tesla", Responds: []string{"moog"}, Probability: -0.5,
		}))
		for i := 0; i < 5; i++ {
			e.RecordActivation("tesla")
			e.Tick(clock.Advance(time.Second))
		}
		if len(*events) != 0 {
			t.Errorf("p<0 should never fire, got %d", len(*events))
		}
	})
}

func TestResponderStagger(t *testing.T) {
	e, clock, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger:     "kesey",
		Responds:    []string{"pranksters", "cage", "moog"},
		Probability: 1.0,
		Delay:       time.Second,
	}))

	e.RecordActivation("kesey")

	e.Tick(clock.Advance(time.Second)) // +1.0s: first responder due
	if len(*events) != 1 {
		t.Fatalf("expected first responder at delay, got %d events", len(*events))
	}

	e.Tick(clock.Advance(500 * time.Millisecond)) // +1.5s: second
	if len(*events) != 2 {
		t.Fatalf("expected second responder at delay+stagger, got %d events", len(*events))
	}

	e.Tick(clock.Advance(500 * time.Millisecond)) // +2.0s: third
	if len(*events) != 3 {
		t.Fatalf("expected third responder, got %d events", len(*events))
	}

	var responders []string
	for _, ev := range *events {
		responders = append(responders, ev.(types.ConversationEvent).Response)
	}
	if diff := cmp.Diff([]string{"pranksters", "cage", "moog"}, responders); diff != "" {
		t.Errorf("responder order (-want +got):\n%s", diff)
	}
}

func TestDuplicateConversationSuppressed(t *testing.T) {
	e, clock, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger: "beatles", Responds: []string{"leadbelly"}, Probability: 1.0, Delay: 0,
	}))

	// Two activations at the same instant produce two responses due at the
	// same millisecond: identical ids, second one coalesces away.
	e.RecordActivation("beatles")
	e.RecordActivation("beatles")
	e.Tick(clock.Now())

	if len(*events) != 1 {
		t.Errorf("expected exactly one event, got %d", len(*events))
	}
	stats := e.Stats()
	if stats.DuplicatesDropped != 1 {
		t.Errorf("expected 1 duplicate dropped, got %d", stats.DuplicatesDropped)
	}
	if stats.Conversations != 1 {
		t.Errorf("expected 1 conversation, got %d", stats.Conversations)
	}
}

func TestConversationTTL(t *testing.T) {
	e, clock, _ := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger: "beatles", Responds: []string{"leadbelly"}, Probability: 1.0, Delay: 0,
	}))

	e.RecordActivation("beatles")
	e.Tick(clock.Now())

	if got := e.ActiveConversations(); len(got) != 1 {
		t.Fatalf("conversation should be active, got %d", len(got))
	}

	e.Tick(clock.Advance(9 * time.Second))
	if got := e.ActiveConversations(); len(got) != 1 {
		t.Fatalf("conversation should still be active at 9s, got %d", len(got))
	}

	e.Tick(clock.Advance(time.Second)) // 10s: expiry due
	if got := e.ActiveConversations(); len(got) != 0 {
		t.Errorf("conversation should have expired at TTL, got %d", len(got))
	}
	if stats := e.Stats(); stats.Expired != 1 {
		t.Errorf("expected 1 expiry, got %d", stats.Expired)
	}
}

func TestForceConversation(t *testing.T) {
	e, _, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger: "cage", Responds: []string{"moog"}, Probability: 0.0,
		Type: types.InteractionTransform, Description: "prepared circuits",
	}))

	t.Run("bypasses probability and emits synchronously", func(t *testing.T) {
		if !e.ForceConversation("cage", "moog") {
			t.Fatal("force should execute for a known pair")
		}
		if len(*events) != 1 {
			t.Fatalf("force should emit synchronously, got %d events", len(*events))
		}
		ev := (*events)[0].(types.ConversationEvent)
		if ev.Type != types.InteractionTransform || ev.Description != "prepared circuits" {
			t.Errorf("rule metadata missing from forced event: %s", ev)
		}
	})

	t.Run("unknown pair does nothing", func(t *testing.T) {
		before := len(*events)
		if e.ForceConversation("cage", "nobody") {
			t.Error("force should report false without a connecting rule")
		}
		if e.ForceConversation("nobody", "moog") {
			t.Error("force should report false for an unknown trigger")
		}
		if len(*events) != before {
			t.Error("no event should be emitted without a rule")
		}
	})
}

func TestNegativeDelayRunsOnNextTick(t *testing.T) {
	e, clock, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger: "tesla", Responds: []string{"pranksters"}, Probability: 1.0, Delay: -time.Second,
	}))

	e.RecordActivation("tesla")
	if len(*events) != 0 {
		t.Fatal("negative delay must still defer to the tick")
	}

	e.Tick(clock.Now())
	if len(*events) != 1 {
		t.Errorf("overdue response should run on the very next tick, got %d", len(*events))
	}
}

func TestRuleMutationDoesNotAffectScheduled(t *testing.T) {
	registry := singleRuleRegistry(rules.ConversationRule{
		Trigger: "beatles", Responds: []string{"leadbelly"}, Probability: 1.0, Delay: 2 * time.Second,
	})
	e, clock, events := testEngine(t, registry)

	e.RecordActivation("beatles")
	registry.RemoveConversationRule("beatles", "leadbelly")

	// Already-scheduled response still runs with its captured rule data
	e.Tick(clock.Advance(2 * time.Second))
	if len(*events) != 1 {
		t.Fatalf("scheduled response should survive rule removal, got %d", len(*events))
	}

	// New activations no longer match anything
	e.RecordActivation("beatles")
	e.Tick(clock.Advance(5 * time.Second))
	if len(*events) != 1 {
		t.Errorf("removed rule must not schedule new responses, got %d", len(*events))
	}
}

func TestEmptyResponderListSchedulesNothing(t *testing.T) {
	e, clock, events := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger: "beatles", Responds: nil, Probability: 1.0,
	}))

	e.RecordActivation("beatles")
	e.Tick(clock.Advance(time.Second))

	if len(*events) != 0 {
		t.Errorf("no responders means no events, got %d", len(*events))
	}
	stats := e.Stats()
	if stats.Trials != 1 || stats.Scheduled != 0 {
		t.Errorf("trial should run but schedule nothing: %s", stats)
	}
}

func TestLayerRuleFiresEverySweepWhileTrue(t *testing.T) {
	registry := rules.NewRegistry()
	registry.AddLayerRule(rules.LayerRule{
		Source: "particles",
		Target: "lighting",
		When:   rules.Condition{On: "source", Field: "intensity", Op: rules.OpGreater, Value: 0.8},
		Effect: types.Effect{Property: "intensity", Modifier: 1.2, Duration: 2 * time.Second},
	})
	e, clock, events := testEngine(t, registry)

	e.UpdateLayerState("particles", types.LayerState{Intensity: 0.9})
	e.UpdateLayerState("lighting", types.LayerState{Intensity: 0.4})

	e.Tick(clock.Now()) // first sweep
	if len(*events) != 1 {
		t.Fatalf("expected a layer event on first sweep, got %d", len(*events))
	}

	ev := (*events)[0].(types.LayerEvent)
	if ev.Source != "particles" || ev.Target != "lighting" {
		t.Errorf("wrong endpoints: %s", ev)
	}
	if ev.Effect.Property != "intensity" || ev.Effect.Modifier != 1.2 {
		t.Errorf("effect not carried: %s", ev)
	}

	// Still true on the next sweep: fires again, no cooldown
	e.Tick(clock.Advance(500 * time.Millisecond))
	if len(*events) != 2 {
		t.Fatalf("condition still true should re-fire each sweep, got %d", len(*events))
	}

	// Drop below threshold: stops firing
	e.UpdateLayerState("particles", types.LayerState{Intensity: 0.5})
	e.Tick(clock.Advance(500 * time.Millisecond))
	if len(*events) != 2 {
		t.Errorf("condition false should stop firing, got %d", len(*events))
	}
}

func TestLayerRuleSkipsWhenEitherLayerAbsent(t *testing.T) {
	registry := rules.NewRegistry()
	registry.AddLayerRule(rules.LayerRule{
		Source: "particles",
		Target: "lighting",
		When:   rules.Condition{On: "source", Field: "intensity", Op: rules.OpGreater, Value: 0.0},
		Effect: types.Effect{Property: "intensity", Modifier: 2},
	})
	e, clock, events := testEngine(t, registry)

	// Only the source has reported
	e.UpdateLayerState("particles", types.LayerState{Intensity: 0.9})
	e.Tick(clock.Now())

	if len(*events) != 0 {
		t.Errorf("rule must skip while the target is unreported, got %d events", len(*events))
	}

	// Target arrives: next sweep fires
	e.UpdateLayerState("lighting", types.LayerState{})
	e.Tick(clock.Advance(500 * time.Millisecond))
	if len(*events) != 1 {
		t.Errorf("rule should fire once both layers report, got %d", len(*events))
	}
}

func TestSweepCadenceGated(t *testing.T) {
	registry := rules.NewRegistry()
	registry.AddLayerRule(rules.LayerRule{
		Source: "particles",
		Target: "lighting",
		When:   rules.Condition{On: "source", Field: "intensity", Op: rules.OpGreater, Value: 0.0},
		Effect: types.Effect{Property: "intensity", Modifier: 2},
	})
	e, clock, events := testEngine(t, registry)

	e.UpdateLayerState("particles", types.LayerState{Intensity: 1})
	e.UpdateLayerState("lighting", types.LayerState{})

	e.Tick(clock.Now()) // sweep
	e.Tick(clock.Advance(100 * time.Millisecond))
	e.Tick(clock.Advance(100 * time.Millisecond))
	if len(*events) != 1 {
		t.Fatalf("sub-interval ticks must not sweep, got %d events", len(*events))
	}

	e.Tick(clock.Advance(300 * time.Millisecond)) // 500ms since last sweep
	if len(*events) != 2 {
		t.Errorf("sweep should run once the interval elapses, got %d events", len(*events))
	}
}

func TestGettersReturnCopies(t *testing.T) {
	e, clock, _ := testEngine(t, singleRuleRegistry(rules.ConversationRule{
		Trigger: "beatles", Responds: []string{"leadbelly"}, Probability: 1.0,
	}))

	e.RecordActivation("beatles")
	e.Tick(clock.Now())
	e.UpdateLayerState("particles", types.LayerState{Intensity: 0.9})

	acts := e.RecentActivations(0)
	acts[0].Archetype = "mutated"
	if e.RecentActivations(0)[0].Archetype != "beatles" {
		t.Error("RecentActivations leaked internal state")
	}

	convs := e.ActiveConversations()
	convs[0].Trigger = "mutated"
	if e.ActiveConversations()[0].Trigger != "beatles" {
		t.Error("ActiveConversations leaked internal state")
	}

	layers := e.LayerStates()
	layers["particles"] = types.LayerState{Intensity: 0}
	if e.LayerStates()["particles"].Intensity != 0.9 {
		t.Error("LayerStates leaked internal state")
	}
}

func TestPatternDelegates(t *testing.T) {
	e, clock, _ := testEngine(t, rules.NewDefaultRegistry())

	e.RecordActivation("beatles")
	clock.Advance(time.Second)
	e.RecordActivation("leadbelly")

	found := false
	for _, p := range e.DetectPatterns() {
		if p == "musical_heritage" {
			found = true
		}
	}
	if !found {
		t.Error("expected musical_heritage from beatles+leadbelly")
	}

	chains := e.ConversationChains()
	if len(chains) == 0 || chains[0] != "beatles→leadbelly" {
		t.Errorf("expected beatles→leadbelly chain, got %v", chains)
	}

	if inf := e.Influence("beatles"); inf <= 0 {
		t.Errorf("beatles influence should be positive, got %v", inf)
	}

	aff := e.Affinities("beatles")
	if len(aff) == 0 {
		t.Error("beatles should have affinities under the default rulebook")
	}

	if rels := e.StrongestRelationships(); len(rels) == 0 {
		t.Error("default rulebook should yield relationships")
	}
	if m := e.RelationshipMap(); len(m) == 0 {
		t.Error("default rulebook should yield a relationship map")
	}
}

func TestDeterministicWithSameSeed(t *testing.T) {
	script := []string{"beatles", "tesla", "kesey", "pranksters", "beatles", "cage", "moog", "hendrix"}

	run := func(seed int64) []string {
		clock := newManualClock()
		cfg := DefaultConfig()
		cfg.Now = clock.Now
		cfg.Seed = seed

		e := New(rules.NewDefaultRegistry(), cfg)
		var ids []string
		e.OnEvent(func(ev types.Event) {
			ids = append(ids, ev.EventID())
		})

		for i := 0; i < 5; i++ {
			for _, name := range script {
				e.RecordActivation(name)
				e.Tick(clock.Advance(250 * time.Millisecond))
			}
		}
		// Let stragglers run out
		for i := 0; i < 40; i++ {
			e.Tick(clock.Advance(250 * time.Millisecond))
		}
		return ids
	}

	first := run(42)
	second := run(42)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same seed must replay identically (-first +second):\n%s", diff)
	}
	if len(first) == 0 {
		t.Error("expected some events from the default rulebook")
	}
}
