package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRuleFile(t *testing.T, path, trigger string) {
	t.Helper()
	content := "conversations:\n  - trigger: " + trigger + "\n    responds: [echo]\n    probability: 0.5\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
}

// waitForTrigger polls the registry until its single rule has the wanted
// trigger or the deadline passes.
func waitForTrigger(t *testing.T, r *Registry, want string, deadline time.Duration) bool {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		rules := r.ConversationRules()
		if len(rules) == 1 && rules[0].Trigger == want {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRuleFile(t, path, "before")

	registry := NewRegistry()
	conv, layers, err := LoadFile(path)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	registry.ReplaceAll(conv, layers)

	w, err := NewWatcher(path, registry, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if !w.IsWatching() {
		t.Fatal("watcher should report running")
	}

	writeRuleFile(t, path, "after")

	if !waitForTrigger(t, registry, "after", 5*time.Second) {
		t.Fatal("registry never picked up the rewritten rule file")
	}

	stats := w.Stats()
	if stats.Reloads == 0 {
		t.Error("expected at least one reload in stats")
	}
	if stats.FileEvents == 0 {
		t.Error("expected file events in stats")
	}
}

func TestWatcherKeepsRulebookOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRuleFile(t, path, "good")

	registry := NewRegistry()
	conv, layers, err := LoadFile(path)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	registry.ReplaceAll(conv, layers)

	w, err := NewWatcher(path, registry, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("conversations: [broken"), 0644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}

	// Wait until the watcher has seen and rejected the broken file
	end := time.Now().Add(5 * time.Second)
	for time.Now().Before(end) {
		if w.Stats().Errors > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	rules := registry.ConversationRules()
	if len(rules) != 1 || rules[0].Trigger != "good" {
		t.Errorf("broken file should not touch the rulebook, got %v", rules)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRuleFile(t, path, "x")

	w, err := NewWatcher(path, NewRegistry(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w.Stop()
	w.Stop() // Second stop must not panic or block

	if w.IsWatching() {
		t.Error("watcher should report stopped")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRuleFile(t, path, "stable")

	registry := NewRegistry()
	conv, layers, err := LoadFile(path)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	registry.ReplaceAll(conv, layers)

	w, err := NewWatcher(path, registry, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Churn a sibling file; the watcher must not react
	other := filepath.Join(dir, "notes.txt")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(other, []byte("scratch"), 0644); err != nil {
			t.Fatalf("write sibling: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)
	if got := w.Stats().FileEvents; got != 0 {
		t.Errorf("sibling file churn should not count as events, got %d", got)
	}
}
