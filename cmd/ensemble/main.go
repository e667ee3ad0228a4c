package main

import (
	"fmt"
	"os"
	"path/filepath"

	"ensemble/internal/config"
	"ensemble/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "ensemble - reactive interaction engine for live audio-visual shows",
	Long: `ensemble turns performer triggers into emergent visual behavior.

Archetype activations (keyboard, MIDI, scripted cues) run probabilistic
conversation rules; layer state snapshots drive cross-layer effect rules on a
fixed sweep. Renderers subscribe to the resulting event stream; ensemble never
draws anything itself.

Run 'ensemble run' to start a live console session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// Category file logging lives under <workspace>/.ensemble/
		if err := logging.Initialize(resolveWorkspace()); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.ensemble/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(journalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the workspace directory: the --workspace flag,
// then ENSEMBLE_WORKSPACE, then the current directory.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	if ws := os.Getenv("ENSEMBLE_WORKSPACE"); ws != "" {
		return ws
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// loadConfig reads the effective configuration for the workspace.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(resolveWorkspace(), ".ensemble", "config.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
