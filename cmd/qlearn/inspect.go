package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/qlearn/internal/learning"
	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

var inspectState string

var inspectCmd = &cobra.Command{
	Use:   "inspect [scope]",
	Short: "Inspect Q-tables",
	Long: `Without arguments, summarize every Q-table in the store. With a scope,
list its entries, optionally restricted to one encoded state.

Examples:
  qlearn inspect
  qlearn inspect category:unit
  qlearn inspect individual:test-gen-1 --state unit-test-generation_complexity_medium_coverage_medium_jest`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectState, "state", "s", "", "Encoded state key")
}

func runInspect(cmd *cobra.Command, args []string) error {
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

	if len(args) == 0 {
		return inspectSummaries(ctx, db)
	}

	scope, err := models.ParseScope(args[0])
	if err != nil {
		return err
	}

	qvalues := learning.NewQValueStore(db)
	var entries []models.QValueEntry
	if inspectState != "" {
		entries, err = qvalues.Entries(ctx, scope, models.StateKey(inspectState))
	} else {
		var snap *learning.Snapshot
		snap, err = qvalues.Export(ctx, scope)
		if snap != nil {
			entries = snap.Entries
		}
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", scope, err)
	}
	if len(entries) == 0 {
		fmt.Printf("No Q-values in %s.\n", scope)
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].State != entries[j].State {
			return entries[i].State < entries[j].State
		}
		return entries[i].Action < entries[j].Action
	})

	t := newTable("STATE", "ACTION", "VALUE", "VISITS", "CONFIDENCE", "VERSION")
	for _, e := range entries {
		t.Row(
			string(e.State),
			fmt.Sprintf("%d", e.Action),
			fmt.Sprintf("%.4f", e.Value),
			fmt.Sprintf("%d", e.VisitCount),
			fmt.Sprintf("%.3f", e.Confidence),
			fmt.Sprintf("%d", e.Version),
		)
	}
	fmt.Println(t)
	return nil
}

func inspectSummaries(ctx context.Context, db *store.DB) error {
	summaries, err := db.ScopeSummaries(ctx)
	if err != nil {
		return fmt.Errorf("summarize q-tables: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No Q-values stored yet.")
		return nil
	}

	t := newTable("SCOPE", "STATES", "ENTRIES", "VISITS", "UPDATED")
	for _, s := range summaries {
		t.Row(
			s.Scope.String(),
			fmt.Sprintf("%d", s.States),
			fmt.Sprintf("%d", s.Entries),
			fmt.Sprintf("%d", s.TotalVisits),
			s.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Println(t)
	return nil
}
