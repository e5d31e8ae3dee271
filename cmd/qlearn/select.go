package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var selectContext []string

var selectCmd = &cobra.Command{
	Use:   "select <agent-id>",
	Short: "Select an action for a task",
	Long: `Encode a task context and select an action with epsilon-greedy
exploration. Exploitation falls back from the agent's own table to its
category and then to the fleet.

Examples:
  qlearn select test-gen-1 -t taskType=unit-test-generation -t complexity=15 -t coverage=0.6`,
	Args: cobra.ExactArgs(1),
	RunE: runSelect,
}

func init() {
	selectCmd.Flags().StringSliceVarP(&selectContext, "context", "t", nil, "Task context as key=value (repeatable)")
}

func runSelect(cmd *cobra.Command, args []string) error {
	task, err := parseTaskContext(selectContext)
	if err != nil {
		return err
	}

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

	sel, err := e.service.SelectForTask(ctx, args[0], task)
	if err != nil {
		return fmt.Errorf("select action: %w", err)
	}

	printField("State", "%s", sel.State)
	printField("Action", "%d of %d", sel.Action, sel.ActionCount)
	printField("Source", "%s", sel.Source)
	if !sel.Explored {
		printField("Q-value", "%.4f", sel.Value)
	}
	printField("Epsilon", "%.4f", sel.Epsilon)
	if sel.Degraded {
		printStatus("⚠", "Store unavailable, fell back to the default action", color.FgYellow)
	}
	return nil
}
