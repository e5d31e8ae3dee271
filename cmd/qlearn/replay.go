package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var replayBatch int

var replayCmd = &cobra.Command{
	Use:   "replay <agent-id>",
	Short: "Replay stored experiences of an agent",
	Long: `Sample a batch from the agent's experience log and feed it through the
update rule again. Sampling is uniform or prioritized per replay.mode.
Replayed steps do not change the agent's exploration rate.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVarP(&replayBatch, "batch", "b", 0, "Batch size (default from replay.batch_size)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	e, err := openEngine(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer e.Close()

	batch := replayBatch
	if batch == 0 {
		batch = cfg.Replay.BatchSize
	}

	res, err := e.service.Replay(ctx, args[0], batch)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	if res.Sampled == 0 {
		fmt.Printf("No experiences stored for %s.\n", args[0])
		return nil
	}
	printStatus("✓", fmt.Sprintf("Replayed %d of %d sampled experiences (%s)", res.Applied, res.Sampled, e.replay.Mode()), color.FgGreen)
	if res.Dropped > 0 {
		printStatus("⚠", fmt.Sprintf("%d dropped", res.Dropped), color.FgYellow)
	}
	return nil
}
