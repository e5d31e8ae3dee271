//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/qlearn/internal/learning"
	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// process is one agent process: its own connection pool and learning
// service over the shared database file.
type process struct {
	db      *store.DB
	qvalues *learning.QValueStore
	epsilon *learning.EpsilonTracker
	service *learning.Service
}

func startProcess(t *testing.T, dbPath string, seed uint64) *process {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	qvalues := learning.NewQValueStore(db, learning.WithRetryPolicy(learning.RetryPolicy{
		MaxAttempts:    50,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}))

	strategy, err := learning.NewEpsilonStrategy(learning.EpsilonConfig{
		Kind:      learning.ExponentialDecay,
		Initial:   0,
		Min:       0,
		Max:       1,
		DecayRate: 0.995,
	})
	if err != nil {
		t.Fatalf("NewEpsilonStrategy() error = %v", err)
	}
	epsilon := learning.NewEpsilonTracker(db, strategy)

	replay, err := learning.NewReplayBuffer(db, 100, learning.UniformReplay)
	if err != nil {
		t.Fatalf("NewReplayBuffer() error = %v", err)
	}

	service, err := learning.NewService(qvalues, epsilon, replay, db, learning.DefaultServiceConfig(),
		learning.WithRand(learning.Seeded(seed)),
		learning.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	return &process{db: db, qvalues: qvalues, epsilon: epsilon, service: service}
}

func tempDBPath(t *testing.T) string {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "qlearn-integration-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })
	return filepath.Join(tmpDir, "fleet.db")
}

// TestFleetKnowledgeSharing tests that knowledge learned by two agents in
// one category reaches a newcomer in that category and, through the fleet
// table, an agent in another category.
func TestFleetKnowledgeSharing(t *testing.T) {
	ctx := context.Background()
	dbPath := tempDBPath(t)

	p1 := startProcess(t, dbPath, 1)
	p2 := startProcess(t, dbPath, 2)

	const state = models.StateKey("unit-test-generation_complexity_medium_coverage_medium_jest")

	register := func(p *process, id, category string) {
		t.Helper()
		if _, err := p.service.RegisterAgent(ctx, learning.AgentProfile{ID: id, Category: category}); err != nil {
			t.Fatalf("RegisterAgent(%s) error = %v", id, err)
		}
	}
	register(p1, "unit-1", "unit")
	register(p2, "unit-2", "unit")
	register(p1, "unit-3", "unit")
	register(p2, "api-1", "api")

	var wg sync.WaitGroup
	for _, tc := range []struct {
		p     *process
		agent string
	}{
		{p1, "unit-1"},
		{p2, "unit-2"},
	} {
		wg.Add(1)
		go func(p *process, agent string) {
			defer wg.Done()
			_, err := p.service.Learn(ctx, agent, learning.Transition{
				State:       state,
				Action:      2,
				ActionCount: 4,
				Reward:      10,
				Done:        true,
			})
			if err != nil {
				t.Errorf("Learn(%s) error = %v", agent, err)
			}
		}(tc.p, tc.agent)
	}
	wg.Wait()

	agg, err := learning.NewAggregator(p1.qvalues, p1.db, p1.db, learning.DefaultAggregatorConfig())
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	report, err := agg.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.CategoryWrites != 1 || report.FleetWrites != 1 {
		t.Errorf("report = %+v, want 1 category write and 1 fleet write", report)
	}

	sel, err := p2.service.SelectAction(ctx, "unit-3", state, 4)
	if err != nil {
		t.Fatalf("SelectAction(unit-3) error = %v", err)
	}
	if sel.Action != 2 || sel.Source != learning.SourceCategory {
		t.Errorf("unit-3 selection = %+v, want action 2 from category", sel)
	}

	sel, err = p1.service.SelectAction(ctx, "api-1", state, 4)
	if err != nil {
		t.Fatalf("SelectAction(api-1) error = %v", err)
	}
	if sel.Action != 2 || sel.Source != learning.SourceFleet {
		t.Errorf("api-1 selection = %+v, want action 2 from fleet", sel)
	}
}

// TestCrossProcessOptimisticUpdates tests that concurrent read-modify-write
// cycles from two processes on one entry lose no update.
func TestCrossProcessOptimisticUpdates(t *testing.T) {
	ctx := context.Background()
	dbPath := tempDBPath(t)

	procs := []*process{startProcess(t, dbPath, 1), startProcess(t, dbPath, 2)}
	scope := models.Category("unit")
	const (
		state    = models.StateKey("api-test_complexity_low_coverage_high_go")
		perProc  = 10
		expected = perProc * 2
	)

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *process) {
			defer wg.Done()
			for i := 0; i < perProc; i++ {
				_, err := p.qvalues.Update(ctx, scope, state, 0, func(cur models.QValueEntry) (float64, error) {
					return cur.Value + 1, nil
				})
				if err != nil {
					t.Errorf("Update() error = %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	e, err := procs[0].qvalues.Entry(ctx, scope, state, 0)
	if err != nil {
		t.Fatalf("Entry() error = %v", err)
	}
	if e.Value != expected || e.Version != expected || e.VisitCount != expected {
		t.Errorf("entry = value %v version %d visits %d, want %d each", e.Value, e.Version, e.VisitCount, expected)
	}
}

// TestRestartResumesLearning tests that exploration rates and Q-values
// survive a process restart.
func TestRestartResumesLearning(t *testing.T) {
	ctx := context.Background()
	dbPath := tempDBPath(t)

	p := startProcess(t, dbPath, 1)
	const state = models.StateKey("e2e-test_complexity_high_coverage_low_playwright")

	res, err := p.service.Learn(ctx, "e2e-1", learning.Transition{
		State:       state,
		Action:      1,
		ActionCount: 3,
		Reward:      -4,
		Done:        true,
	})
	if err != nil {
		t.Fatalf("Learn() error = %v", err)
	}
	if err := p.db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	restarted := startProcess(t, dbPath, 2)
	e, err := restarted.qvalues.Entry(ctx, models.Individual("e2e-1"), state, 1)
	if err != nil {
		t.Fatalf("Entry() error = %v", err)
	}
	if e.Value != res.Entry.Value || e.Version != 1 {
		t.Errorf("entry after restart = value %v version %d, want %v version 1", e.Value, e.Version, res.Entry.Value)
	}

	eps, err := restarted.epsilon.Current(ctx, "e2e-1")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if eps != res.Epsilon {
		t.Errorf("epsilon after restart = %v, want %v", eps, res.Epsilon)
	}

	agents, err := restarted.service.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "e2e-1" {
		t.Errorf("agents after restart = %+v, want e2e-1", agents)
	}
}
