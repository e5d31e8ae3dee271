package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/qlearn/internal/tui"
)

var watchRefresh time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of fleet learning",
	Long: `Open a terminal dashboard showing registered agents, their exploration
rates and experience counts, Q-table sizes per scope and recent learning
statistics. The view refreshes on tui.refresh_rate.

Keys:
  r       refresh now
  q, esc  quit`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchRefresh, "refresh", 0, "Refresh interval (default from tui.refresh_rate)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchRefresh > 0 {
		cfg.TUI.RefreshRate = watchRefresh
	}

	db, err := openDB(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	program, _ := tui.NewWatchProgram(tui.NewStoreSource(db), cfg.TUI.RefreshRate)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}
