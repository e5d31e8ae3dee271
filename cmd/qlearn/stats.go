package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats <scope>",
	Short: "Show learning convergence statistics",
	Long: `Show the recorded statistics windows of a scope, newest first.

A scope is individual:<agent-id>, category:<category> or fleet.

Examples:
  qlearn stats individual:test-gen-1
  qlearn stats fleet --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "n", 20, "Number of windows to show (0 for all)")
}

func runStats(cmd *cobra.Command, args []string) error {
	scope, err := models.ParseScope(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	windows, err := db.ListStats(ctx, scope, statsLimit)
	if err != nil {
		return fmt.Errorf("list stats: %w", err)
	}
	if len(windows) == 0 {
		fmt.Printf("No statistics recorded for %s.\n", scope)
		return nil
	}

	t := newTable("WINDOW END", "SAMPLES", "AVG REWARD", "AVG |ΔQ|", "EPSILON")
	for _, w := range windows {
		t.Row(
			w.WindowEnd.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d", w.Samples),
			fmt.Sprintf("%.4f", w.AvgReward),
			fmt.Sprintf("%.5f", w.AvgValueChange),
			fmt.Sprintf("%.4f", w.ExplorationRate),
		)
	}
	fmt.Println(t)
	return nil
}
