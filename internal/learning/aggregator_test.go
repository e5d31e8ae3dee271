package learning

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

func newTestAggregator(t *testing.T, env *testEnv, mutate ...func(*AggregatorConfig)) *Aggregator {
	t.Helper()
	cfg := DefaultAggregatorConfig()
	cfg.WritesPerSecond = 0
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := NewAggregator(env.qvalues, env.db, env.db, cfg, WithAggregatorStats(env.stats))
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	return a
}

func register(t *testing.T, env *testEnv, id, category string) {
	t.Helper()
	if _, err := env.svc.RegisterAgent(context.Background(), AgentProfile{ID: id, Category: category}); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}
}

func setN(t *testing.T, qv *QValueStore, scope models.Scope, state models.StateKey, action int, value float64, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		if _, err := qv.Set(context.Background(), scope, state, action, value); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
}

func TestNewAggregator_InvalidConfig(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*AggregatorConfig)
	}{
		{"zero interval", func(c *AggregatorConfig) { c.Interval = 0 }},
		{"zero weight", func(c *AggregatorConfig) { c.CategoryWeight = 0 }},
		{"weight above one", func(c *AggregatorConfig) { c.FleetWeight = 1.5 }},
		{"no contributors", func(c *AggregatorConfig) { c.MinContributors = 0 }},
		{"no parallelism", func(c *AggregatorConfig) { c.Parallelism = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAggregatorConfig()
			tt.mutate(&cfg)
			if _, err := NewAggregator(env.qvalues, env.db, env.db, cfg); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("NewAggregator() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAggregator_SeedsCategoryAndFleet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agg := newTestAggregator(t, env)

	register(t, env, "a", "unit")
	register(t, env, "b", "unit")
	register(t, env, "loner", "")

	setN(t, env.qvalues, models.Individual("a"), testState, 0, 10, 1)
	setN(t, env.qvalues, models.Individual("b"), testState, 0, 0, 3)
	setN(t, env.qvalues, models.Individual("loner"), testState, 1, 50, 1)

	report, err := agg.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Categories != 1 || report.CategoryWrites != 1 || report.FleetWrites != 1 {
		t.Errorf("RunOnce() = %+v, want one category write and one fleet write", report)
	}

	ca, cb := 1.0/11.0, 3.0/13.0
	want := (ca*10 + cb*0) / (ca + cb)

	cat, err := env.qvalues.Entry(ctx, models.Category("unit"), testState, 0)
	if err != nil {
		t.Fatalf("Entry() error = %v", err)
	}
	if math.Abs(cat.Value-want) > 1e-9 {
		t.Errorf("category value = %v, want confidence-weighted %v", cat.Value, want)
	}

	fleet, err := env.qvalues.Entry(ctx, models.Fleet(), testState, 0)
	if err != nil {
		t.Fatalf("Entry() error = %v", err)
	}
	if math.Abs(fleet.Value-want) > 1e-9 {
		t.Errorf("fleet value = %v, want %v", fleet.Value, want)
	}

	// Agents without a category do not feed the hierarchy.
	if e, _ := env.qvalues.Entry(ctx, models.Fleet(), testState, 1); e.Exists() {
		t.Errorf("fleet learned from an uncategorized agent: %+v", e)
	}
}

func TestAggregator_MovesExistingValuesByWeight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agg := newTestAggregator(t, env)

	register(t, env, "a", "unit")
	setN(t, env.qvalues, models.Individual("a"), testState, 2, 10, 1)
	setN(t, env.qvalues, models.Category("unit"), testState, 2, 0, 1)
	setN(t, env.qvalues, models.Fleet(), testState, 2, 0, 1)

	if _, err := agg.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	cat, _ := env.qvalues.Entry(ctx, models.Category("unit"), testState, 2)
	if math.Abs(cat.Value-1) > 1e-9 {
		t.Errorf("category value = %v, want 0 + 0.1*(10-0) = 1", cat.Value)
	}
	if cat.Version != 2 {
		t.Errorf("category version = %d, want 2", cat.Version)
	}

	fleet, _ := env.qvalues.Entry(ctx, models.Fleet(), testState, 2)
	if math.Abs(fleet.Value-0.05) > 1e-9 {
		t.Errorf("fleet value = %v, want 0 + 0.05*(1-0) = 0.05", fleet.Value)
	}
}

func TestAggregator_ConfidenceFollowsMemberVisits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agg := newTestAggregator(t, env)

	register(t, env, "a", "unit")
	register(t, env, "b", "unit")
	setN(t, env.qvalues, models.Individual("a"), testState, 0, 10, 1)
	setN(t, env.qvalues, models.Individual("b"), testState, 0, 0, 3)

	for i := 0; i < 3; i++ {
		if _, err := agg.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
	}

	for _, scope := range []models.Scope{models.Category("unit"), models.Fleet()} {
		e, err := env.qvalues.Entry(ctx, scope, testState, 0)
		if err != nil {
			t.Fatalf("Entry(%s) error = %v", scope, err)
		}
		if e.VisitCount != 4 {
			t.Errorf("%s visits = %d after three passes, want the members' 4", scope, e.VisitCount)
		}
		if e.Version != 3 {
			t.Errorf("%s version = %d, want 3", scope, e.Version)
		}
		if want := env.qvalues.Confidence(4); math.Abs(e.Confidence-want) > 1e-12 {
			t.Errorf("%s confidence = %v, want %v", scope, e.Confidence, want)
		}
	}

	setN(t, env.qvalues, models.Individual("a"), testState, 0, 10, 2)
	if _, err := agg.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if e, _ := env.qvalues.Entry(ctx, models.Category("unit"), testState, 0); e.VisitCount != 6 {
		t.Errorf("category visits = %d after new member experience, want 6", e.VisitCount)
	}
}

func TestAggregator_MinContributors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agg := newTestAggregator(t, env, func(c *AggregatorConfig) { c.MinContributors = 2 })

	register(t, env, "a", "unit")
	register(t, env, "b", "unit")
	shared := models.StateKey("shared")
	setN(t, env.qvalues, models.Individual("a"), shared, 0, 4, 1)
	setN(t, env.qvalues, models.Individual("b"), shared, 0, 4, 1)
	setN(t, env.qvalues, models.Individual("a"), testState, 0, 4, 1)

	report, err := agg.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.CategoryWrites != 1 {
		t.Errorf("CategoryWrites = %d, want 1", report.CategoryWrites)
	}
	if e, _ := env.qvalues.Entry(ctx, models.Category("unit"), testState, 0); e.Exists() {
		t.Error("state known to one agent was propagated")
	}
}

func TestAggregator_Dirty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agg := newTestAggregator(t, env)

	if !agg.Dirty() {
		t.Error("Dirty() = false before the first pass")
	}
	if _, err := agg.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if agg.Dirty() {
		t.Error("Dirty() = true right after a pass")
	}

	setN(t, env.qvalues, models.Individual("a"), testState, 0, 1, 1)
	if !agg.Dirty() {
		t.Error("Dirty() = false after an individual write")
	}
}

func TestAggregator_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	agg := newTestAggregator(t, env)

	register(t, env, "a", "unit")
	setN(t, env.qvalues, models.Individual("a"), testState, 0, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := agg.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunOnce() error = %v, want context.Canceled", err)
	}
}

func TestAggregator_StartTriggerStop(t *testing.T) {
	env := newTestEnv(t)
	agg := newTestAggregator(t, env, func(c *AggregatorConfig) { c.Interval = time.Hour })

	register(t, env, "a", "unit")
	setN(t, env.qvalues, models.Individual("a"), testState, 0, 3, 1)

	agg.Start(context.Background())
	defer agg.Stop()
	agg.Trigger()

	deadline := time.Now().Add(5 * time.Second)
	for {
		e, err := env.qvalues.Entry(context.Background(), models.Fleet(), testState, 0)
		if err != nil {
			t.Fatalf("Entry() error = %v", err)
		}
		if e.Exists() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("triggered pass did not reach the fleet table")
		}
		time.Sleep(10 * time.Millisecond)
	}

	agg.Stop()
	// Stopping twice is harmless.
	agg.Stop()
}

func TestAggregator_FlushesStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agg := newTestAggregator(t, env)

	if _, err := env.svc.Learn(ctx, "a", Transition{State: testState, ActionCount: 4, Reward: 1, Done: true}); err != nil {
		t.Fatalf("Learn() error = %v", err)
	}
	if _, err := agg.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	stats, err := env.db.ListStats(ctx, models.Individual("a"), 0)
	if err != nil {
		t.Fatalf("ListStats() error = %v", err)
	}
	if len(stats) != 1 || stats[0].Samples != 1 {
		t.Errorf("ListStats() = %+v, want one window with one sample", stats)
	}
}
