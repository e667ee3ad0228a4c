package main

import (
	"fmt"
	"os"

	"ensemble/internal/journal"

	"github.com/spf13/cobra"
)

var (
	journalDB      string
	journalRecent  int
	journalSession string
)

// journalCmd inspects past shows
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the performance journal",
	Long: `Reads the append-only performance journal written during runs with
journal.enabled. Shows event counts by kind and the most recent events, or a
full session with --session.`,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().StringVar(&journalDB, "db", "", "Journal database (default: journal.database_path from config)")
	journalCmd.Flags().IntVar(&journalRecent, "recent", 20, "How many recent events to show")
	journalCmd.Flags().StringVar(&journalSession, "session", "", "Show one session id in full")
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := journalDB
	if path == "" {
		path = cfg.Journal.DatabasePath
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no journal at %s (enable journal.enabled and run a show first)", path)
	}

	jnl, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer jnl.Close()

	counts, err := jnl.CountByKind()
	if err != nil {
		return err
	}
	fmt.Printf("events by kind:\n")
	for kind, count := range counts {
		fmt.Printf("  %s: %d\n", kind, count)
	}

	var entries []journal.Entry
	if journalSession != "" {
		entries, err = jnl.SessionEvents(journalSession)
	} else {
		entries, err = jnl.RecentEvents(journalRecent)
	}
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("no events recorded")
		return nil
	}

	fmt.Printf("\n%d events:\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %s  [%s] %s: %s -> %s  %s\n",
			e.At.Format("15:04:05.000"), e.Session, e.Kind, e.Source, e.Target, e.Detail)
	}
	return nil
}
