package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/qlearn/internal/learning"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

var (
	learnContext []string
	learnNext    []string
	learnResult  models.ExecutionResult
)

var learnCmd = &cobra.Command{
	Use:   "learn <agent-id>",
	Short: "Learn from a task execution",
	Long: `Compute the reward of an execution result and apply one Q-learning
update to the agent's table. The experience is stored for replay and the
agent's exploration rate advances.

The next state is the task context with coverage set to --coverage-after,
unless --next gives an explicit context. --done marks a terminal step.

Examples:
  qlearn learn test-gen-1 -t taskType=unit-test-generation -t complexity=15 -t coverage=0.6 \
    --action 2 --coverage-before 0.6 --coverage-after 0.8 --bugs 1 --time 40s`,
	Args: cobra.ExactArgs(1),
	RunE: runLearn,
}

func init() {
	f := learnCmd.Flags()
	f.StringSliceVarP(&learnContext, "context", "t", nil, "Task context as key=value (repeatable)")
	f.StringSliceVar(&learnNext, "next", nil, "Explicit next task context as key=value (repeatable)")
	f.IntVarP(&learnResult.Action, "action", "a", 0, "Executed action")
	f.BoolVar(&learnResult.Failed, "failed", false, "Execution failed")
	f.Float64Var(&learnResult.CoverageBefore, "coverage-before", 0, "Coverage before execution (0-1)")
	f.Float64Var(&learnResult.CoverageAfter, "coverage-after", 0, "Coverage after execution (0-1)")
	f.IntVar(&learnResult.BugsFound, "bugs", 0, "Real defects found")
	f.IntVar(&learnResult.FalsePositives, "false-positives", 0, "Reported defects that were not real")
	f.IntVar(&learnResult.EdgeCases, "edge-cases", 0, "Edge cases covered")
	f.DurationVar(&learnResult.ExecutionTime, "time", time.Minute, "Execution time")
	f.IntVar(&learnResult.PatternsReused, "patterns", 0, "Stored patterns reused")
	f.Float64Var(&learnResult.Cost, "cost", 0, "Execution cost")
	f.BoolVar(&learnResult.Done, "done", false, "Terminal step")
}

func runLearn(cmd *cobra.Command, args []string) error {
	task, err := parseTaskContext(learnContext)
	if err != nil {
		return err
	}
	result := learnResult
	if len(learnNext) > 0 {
		if result.NextContext, err = parseTaskContext(learnNext); err != nil {
			return err
		}
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

	res, err := e.service.LearnFromTask(ctx, args[0], task, result)
	switch {
	case errors.Is(err, learning.ErrConcurrencyExceeded):
		printStatus("⚠", "Update dropped after losing every retry to concurrent writers", color.FgYellow)
		return nil
	case errors.Is(err, learning.ErrStoreUnavailable):
		printStatus("✗", "Q-value not updated, experience kept for replay", color.FgRed)
		return err
	case err != nil:
		return fmt.Errorf("learn: %w", err)
	}

	printField("State", "%s", res.State)
	if res.NextState != "" {
		printField("Next state", "%s", res.NextState)
	}
	printField("Reward", "%.4f", res.Reward)
	printField("Q-value", "%.4f -> %.4f (target %.4f)", res.Previous, res.Entry.Value, res.Target)
	printField("Visits", "%d (confidence %.3f)", res.Entry.VisitCount, res.Entry.Confidence)
	printField("Epsilon", "%.4f", res.Epsilon)
	printStatus("✓", fmt.Sprintf("Learned action %d for %s", res.Entry.Action, args[0]), color.FgGreen)
	return nil
}
