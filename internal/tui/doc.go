// Package tui provides the terminal dashboard for qlearn's watch command.
//
// The dashboard is read-only. It polls a Source on an interval and shows:
//   - Registered agents with their category, exploration rate and replay size
//   - Q-table sizes per scope (individual, category, fleet)
//   - The latest learning statistics window per scope
//
// Users can refresh with 'r' and quit with 'q' or Ctrl+C.
//
// Usage:
//
//	program, _ := tui.NewWatchProgram(tui.NewStoreSource(db), 2*time.Second)
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
package tui
