package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/qlearn/internal/learning"
)

var agentCategory string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage registered agents",
	Long: `List registered agents or register a new one.

Usage:
  qlearn agents                                  # List agents
  qlearn agents register test-gen-1 -C unit      # Register in a category`,
	Args: cobra.NoArgs,
	RunE: runListAgents,
}

var agentsRegisterCmd = &cobra.Command{
	Use:   "register <agent-id>",
	Short: "Register an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegisterAgent,
}

func init() {
	agentsRegisterCmd.Flags().StringVarP(&agentCategory, "category", "C", "", "Agent category")
	agentsCmd.AddCommand(agentsRegisterCmd)
}

func runListAgents(cmd *cobra.Command, args []string) error {
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

	agents, err := e.service.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered. Run 'qlearn agents register <id>' to add one.")
		return nil
	}

	t := newTable("AGENT", "CATEGORY", "EPSILON", "EXPERIENCES", "REGISTERED")
	for _, a := range agents {
		eps := "-"
		if v, err := e.epsilon.Peek(ctx, a.ID); err == nil {
			eps = fmt.Sprintf("%.4f", v)
		}
		n, _ := e.replay.Len(ctx, a.ID)
		category := a.Category
		if category == "" {
			category = "-"
		}
		t.Row(a.ID, category, eps, fmt.Sprintf("%d", n), a.RegisteredAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Println(t)
	return nil
}

func runRegisterAgent(cmd *cobra.Command, args []string) error {
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

	a, err := e.service.RegisterAgent(ctx, learning.AgentProfile{ID: args[0], Category: agentCategory})
	if err != nil {
		return fmt.Errorf("register %s: %w", args[0], err)
	}

	msg := fmt.Sprintf("Registered %s", a.ID)
	if a.Category != "" {
		msg += fmt.Sprintf(" in category %s", a.Category)
	}
	printStatus("✓", msg, color.FgGreen)
	return nil
}

// newTable returns a bordered table with a bold header row.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(tableBorder).
		BorderStyle(tableBorderStyle).
		StyleFunc(tableStyle).
		Headers(headers...)
}
