package main

import (
	"fmt"
	"os"
	"path/filepath"

	"ensemble/internal/rules"

	"github.com/spf13/cobra"
)

var (
	rulesFile  string
	rulesForce bool
)

// rulesCmd groups rulebook inspection and scaffolding
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and scaffold rule files",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective rulebook",
	Long: `Prints every conversation and layer rule the engine would load.

Without --file this is the configured rules file, or the built-in rulebook
when none is configured.`,
	RunE: runRulesList,
}

var rulesInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the built-in rulebook as a starter rules file",
	Long: `Writes the default conversation and layer rules to a YAML file you can
edit and point rules.path at. With rules.watch enabled the engine reloads the
file as you save it, mid-show.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesInit,
}

func init() {
	rulesListCmd.Flags().StringVar(&rulesFile, "file", "", "Rules file to list (default: config, then built-ins)")
	rulesInitCmd.Flags().BoolVar(&rulesForce, "force", false, "Overwrite an existing file")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesInitCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if rulesFile != "" {
		cfg.Rules.Path = rulesFile
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	conv := registry.ConversationRules()
	fmt.Printf("%d conversation rules:\n", len(conv))
	for _, r := range conv {
		fmt.Printf("  %s\n", r)
	}

	layer := registry.LayerRules()
	fmt.Printf("%d layer rules:\n", len(layer))
	for _, r := range layer {
		fmt.Printf("  %s\n", r)
	}
	return nil
}

func runRulesInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(resolveWorkspace(), ".ensemble", "rules.yaml")
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !rulesForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := rules.SaveFile(path, rules.DefaultConversationRules(), rules.DefaultLayerRules()); err != nil {
		return err
	}

	fmt.Printf("wrote default rulebook to %s\n", path)
	fmt.Println("point rules.path at it (and set rules.watch: true for live editing)")
	return nil
}
