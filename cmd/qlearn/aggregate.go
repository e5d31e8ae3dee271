package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Run one hierarchical aggregation pass",
	Long: `Fold individual Q-tables into their category tables and category
tables into the fleet table, then write pending learning statistics.

'qlearn serve' runs this in the background on aggregation.interval.`,
	Args: cobra.NoArgs,
	RunE: runAggregate,
}

func runAggregate(cmd *cobra.Command, args []string) error {
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

	rep, err := e.aggregator.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	printField("Categories", "%d", rep.Categories)
	printField("Category writes", "%d", rep.CategoryWrites)
	printField("Fleet writes", "%d", rep.FleetWrites)
	printField("Duration", "%s", rep.Duration.Round(time.Millisecond))
	if rep.Dropped > 0 {
		printStatus("⚠", fmt.Sprintf("%d aggregate writes dropped under contention", rep.Dropped), color.FgYellow)
	}
	printStatus("✓", "Aggregation complete", color.FgGreen)
	return nil
}
