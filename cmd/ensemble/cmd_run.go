package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ensemble/internal/config"
	"ensemble/internal/engine"
	"ensemble/internal/input"
	"ensemble/internal/journal"
	"ensemble/internal/rules"
	"ensemble/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runCmd starts a live console session
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a live session: type triggers, watch the ensemble respond",
	Long: `Starts the engine's real-time driver and reads triggers from stdin.

Each input line is either a command (prefixed with ':') or whitespace-separated
trigger tokens. A token is a bound key ('q'), a MIDI note number ('24'), or an
archetype id ('beatles').

Commands:
  :help                      show this list
  :stats                     engine, bus and journal counters
  :force <trigger> <resp>    execute a conversation now, skipping the dice
  :layer <id> <f>=<v> ...    report a layer state snapshot (intensity=0.9)
  :rules                     show the loaded rulebook
  :keys                      show key and note bindings
  :patterns                  show detected patterns and relationships
  :quit                      stop the session`,
	RunE: runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(registry, engineConfigFrom(cfg))

	keymap := input.DefaultKeymap()
	keymap.ApplyOverrides(cfg.Input.Keymap)

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer jnl.Close()
		logger.Info("journal enabled",
			zap.String("path", cfg.Journal.DatabasePath),
			zap.String("session", jnl.SessionID()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var watcher *rules.Watcher
	if cfg.Rules.Watch {
		watcher, err = rules.NewWatcher(cfg.Rules.Path, registry, cfg.GetRulesDebounce())
		if err != nil {
			return fmt.Errorf("failed to create rules watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch rules file: %w", err)
		}
		defer watcher.Stop()
		logger.Info("watching rules file", zap.String("path", cfg.Rules.Path))
	}

	sub := eng.Bus().Subscribe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case env, ok := <-sub:
				if !ok {
					return nil
				}
				fmt.Printf("  » %s\n", env.Event)
				if jnl != nil {
					if err := jnl.RecordEvent(env.Event); err != nil {
						logger.Warn("journal write failed", zap.Error(err))
					}
				}
			}
		}
	})

	if err := eng.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("ensemble %s (%d conversation rules, %d layer rules). :help for commands.\n",
		cfg.Version, len(eng.ConversationRules()), len(eng.LayerRules()))

	console := &console{eng: eng, keymap: keymap, jnl: jnl, watcher: watcher}
	console.loop(ctx)

	cancel()
	eng.Stop()
	eng.Close() // Closes the bus; the drain goroutine sees the channel close
	_ = g.Wait()

	fmt.Printf("\n%s\n", eng.Stats())
	return nil
}

// buildRegistry assembles the rulebook: built-in defaults, or the configured
// rules file when one is set.
func buildRegistry(cfg *config.Config) (*rules.Registry, error) {
	if cfg.Rules.Path == "" {
		return rules.NewDefaultRegistry(), nil
	}

	conv, layer, err := rules.LoadFile(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", cfg.Rules.Path, err)
	}

	registry := rules.NewRegistry()
	registry.ReplaceAll(conv, layer)
	return registry, nil
}

// engineConfigFrom maps file configuration onto the engine's Config.
func engineConfigFrom(cfg *config.Config) engine.Config {
	return engine.Config{
		HistoryLimit:     cfg.Engine.HistoryLimit,
		HistoryMaxAge:    cfg.GetHistoryMaxAge(),
		SweepInterval:    cfg.GetSweepInterval(),
		TickResolution:   cfg.GetTickResolution(),
		ResponderStagger: cfg.GetResponderStagger(),
		ConversationTTL:  cfg.GetConversationTTL(),
		ChainGap:         cfg.GetChainGap(),
		Seed:             cfg.Engine.Seed,
	}
}

// console is the interactive command loop.
type console struct {
	eng     *engine.Engine
	keymap  *input.Keymap
	jnl     *journal.Journal
	watcher *rules.Watcher
}

func (c *console) loop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.handle(strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

// handle processes one console line. Returns true to end the session.
func (c *console) handle(line string) bool {
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	if !strings.HasPrefix(fields[0], ":") {
		c.trigger(fields)
		return false
	}

	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":help", ":h":
		c.printHelp()
	case ":stats":
		c.printStats()
	case ":force":
		if len(fields) != 3 {
			fmt.Println("usage: :force <trigger> <responder>")
			break
		}
		if !c.eng.ForceConversation(fields[1], fields[2]) {
			fmt.Printf("no rule connects %s and %s\n", fields[1], fields[2])
		}
	case ":layer":
		if len(fields) < 3 {
			fmt.Println("usage: :layer <id> <field>=<value> ...")
			break
		}
		state, err := parseLayerState(fields[2:])
		if err != nil {
			fmt.Println(err)
			break
		}
		c.eng.UpdateLayerState(fields[1], state)
		fmt.Printf("layer %s updated\n", fields[1])
	case ":rules":
		c.printRules()
	case ":keys":
		c.printKeys()
	case ":patterns":
		c.printPatterns()
	default:
		fmt.Printf("unknown command %s (:help lists commands)\n", fields[0])
	}
	return false
}

// trigger resolves each token through the keymap and records the activation.
// An unresolvable token is taken as a literal archetype id when the rulebook
// knows it, so scripts and live input can bypass the keymap.
func (c *console) trigger(tokens []string) {
	for _, token := range tokens {
		name, ok := c.keymap.Resolve(token)
		if !ok {
			name = token
		}
		c.eng.RecordActivation(name)
		if c.jnl != nil {
			if err := c.jnl.RecordActivation(name, time.Now()); err != nil {
				logger.Warn("journal write failed", zap.Error(err))
			}
		}
		fmt.Printf("  · %s\n", name)
	}
}

func (c *console) printHelp() {
	fmt.Print(`commands:
  :stats                     engine, bus and journal counters
  :force <trigger> <resp>    execute a conversation now, skipping the dice
  :layer <id> <f>=<v> ...    report a layer state (fields: intensity speed hue opacity energy)
  :rules                     show the loaded rulebook
  :keys                      show key and note bindings
  :patterns                  show detected patterns and relationships
  :quit                      stop the session
anything else is trigger tokens: keys, MIDI note numbers, or archetype ids
`)
}

func (c *console) printStats() {
	fmt.Printf("engine: %s\n", c.eng.Stats())

	bs := c.eng.Bus().Stats()
	fmt.Printf("bus: subscribers=%d emitted=%d dropped=%d\n",
		bs.SubscriberCount, bs.TotalEmitted, bs.Dropped)

	if c.jnl != nil {
		if stats, err := c.jnl.Stats(); err == nil {
			fmt.Printf("journal: events=%d activations=%d (session %s)\n",
				stats["events"], stats["activations"], c.jnl.SessionID())
		}
	}
	if c.watcher != nil {
		ws := c.watcher.Stats()
		fmt.Printf("rules watcher: reloads=%d errors=%d\n", ws.Reloads, ws.Errors)
	}
}

func (c *console) printRules() {
	conv := c.eng.ConversationRules()
	fmt.Printf("%d conversation rules:\n", len(conv))
	for _, r := range conv {
		fmt.Printf("  %s\n", r)
	}

	layer := c.eng.LayerRules()
	fmt.Printf("%d layer rules:\n", len(layer))
	for _, r := range layer {
		fmt.Printf("  %s\n", r)
	}
}

func (c *console) printKeys() {
	keys := c.keymap.KeyBindings()
	tokens := make([]string, 0, len(keys))
	for token := range keys {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	for _, token := range tokens {
		fmt.Printf("  %s -> %s\n", token, keys[token])
	}

	notes := c.keymap.NoteBindings()
	for _, note := range c.keymap.BoundNotes() {
		fmt.Printf("  note %d -> %s\n", note, notes[note])
	}
}

func (c *console) printPatterns() {
	if patterns := c.eng.DetectPatterns(); len(patterns) > 0 {
		fmt.Printf("patterns: %s\n", strings.Join(patterns, ", "))
	} else {
		fmt.Println("patterns: none yet")
	}

	if chains := c.eng.ConversationChains(); len(chains) > 0 {
		fmt.Printf("chains: %s\n", strings.Join(chains, ", "))
	}

	rels := c.eng.StrongestRelationships()
	for _, r := range rels {
		fmt.Printf("  %s\n", r)
	}
}

// parseLayerState builds a layer snapshot from field=value tokens.
func parseLayerState(pairs []string) (types.LayerState, error) {
	var state types.LayerState
	for _, pair := range pairs {
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return state, fmt.Errorf("bad field %q (want field=value)", pair)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return state, fmt.Errorf("bad value in %q: %v", pair, err)
		}

		switch name {
		case "intensity":
			state.Intensity = value
		case "speed":
			state.Speed = value
		case "hue":
			state.Hue = value
		case "opacity":
			state.Opacity = value
		case "energy":
			state.Energy = value
		default:
			return state, fmt.Errorf("unknown field %q (fields: %s)",
				name, strings.Join(types.LayerFields(), " "))
		}
	}
	return state, nil
}
