package learning

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

func storeN(t *testing.T, b *ReplayBuffer, agentID string, rewards ...float64) {
	t.Helper()
	for i, r := range rewards {
		_, err := b.Store(context.Background(), models.Experience{
			AgentID:     agentID,
			State:       models.StateKey(fmt.Sprintf("state-%d", i)),
			Action:      i % 4,
			ActionCount: 4,
			Reward:      r,
			Done:        true,
		})
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}
}

func TestReplayBuffer_StoreFillsDefaults(t *testing.T) {
	db := setupTestDB(t)
	b, err := NewReplayBuffer(db, 10, UniformReplay)
	if err != nil {
		t.Fatalf("NewReplayBuffer() error = %v", err)
	}

	exp, err := b.Store(context.Background(), models.Experience{AgentID: "a", State: testState, Reward: -3, ActionCount: 4})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if exp.ID == "" {
		t.Error("Store() did not assign an id")
	}
	if exp.Timestamp.IsZero() {
		t.Error("Store() did not assign a timestamp")
	}
	if exp.Priority != Priority(-3) {
		t.Errorf("Priority = %v, want %v", exp.Priority, Priority(-3))
	}
}

func TestReplayBuffer_RejectsInvalid(t *testing.T) {
	db := setupTestDB(t)

	if _, err := NewReplayBuffer(db, 0, UniformReplay); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NewReplayBuffer(capacity 0) error = %v, want ErrInvalidInput", err)
	}
	if _, err := NewReplayBuffer(db, 10, "lifo"); err == nil {
		t.Error("NewReplayBuffer(unknown mode) succeeded")
	}

	b, _ := NewReplayBuffer(db, 10, UniformReplay)
	if _, err := b.Store(context.Background(), models.Experience{State: testState}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Store(no agent) error = %v, want ErrInvalidInput", err)
	}
	if _, err := b.Sample(context.Background(), "a", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Sample(0) error = %v, want ErrInvalidInput", err)
	}
}

func TestReplayBuffer_CapacityEvictsOldest(t *testing.T) {
	db := setupTestDB(t)
	b, _ := NewReplayBuffer(db, 3, UniformReplay)
	ctx := context.Background()

	storeN(t, b, "a", 1, 2, 3, 4, 5)

	n, err := b.Len(ctx, "a")
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}

	all, err := b.Sample(ctx, "a", 10)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	for _, e := range all {
		if e.Reward < 3 {
			t.Errorf("experience with reward %v survived eviction", e.Reward)
		}
	}
}

func TestReplayBuffer_PrioritizedEvictsLowestPriority(t *testing.T) {
	db := setupTestDB(t)
	b, _ := NewReplayBuffer(db, 3, PrioritizedReplay)
	ctx := context.Background()

	storeN(t, b, "a", 10, 0.1, -8, 0.2, 5)

	all, err := b.Sample(ctx, "a", 3)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Sample() returned %d, want 3", len(all))
	}
	for _, e := range all {
		if e.Reward == 0.1 || e.Reward == 0.2 {
			t.Errorf("low priority experience %v survived eviction", e.Reward)
		}
	}
}

func TestReplayBuffer_AgentsAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	b, _ := NewReplayBuffer(db, 2, UniformReplay)
	ctx := context.Background()

	storeN(t, b, "a", 1, 2, 3)
	storeN(t, b, "b", 1)

	if n, _ := b.Len(ctx, "a"); n != 2 {
		t.Errorf("Len(a) = %d, want 2", n)
	}
	if n, _ := b.Len(ctx, "b"); n != 1 {
		t.Errorf("Len(b) = %d, want 1", n)
	}
}

func TestSampleUniform_WithoutReplacement(t *testing.T) {
	all := make([]models.Experience, 20)
	for i := range all {
		all[i].ID = fmt.Sprintf("e%d", i)
	}

	rng := Seeded(7)
	for trial := 0; trial < 50; trial++ {
		got := sampleUniform(all, 8, rng)
		if len(got) != 8 {
			t.Fatalf("sampleUniform() returned %d, want 8", len(got))
		}
		seen := make(map[string]bool)
		for _, e := range got {
			if seen[e.ID] {
				t.Fatalf("trial %d: %s sampled twice", trial, e.ID)
			}
			seen[e.ID] = true
		}
	}

	if got := sampleUniform(all[:3], 10, rng); len(got) != 3 {
		t.Errorf("sampleUniform(3 of 10) returned %d, want 3", len(got))
	}
}

func TestSamplePrioritized_FavorsHighPriority(t *testing.T) {
	all := []models.Experience{
		{ID: "low", Priority: Priority(0)},
		{ID: "high", Priority: Priority(50)},
	}

	rng := Seeded(3)
	highFirst := 0
	const trials = 1000
	for i := 0; i < trials; i++ {
		got := samplePrioritized(all, 1, rng)
		if len(got) != 1 {
			t.Fatalf("samplePrioritized() returned %d, want 1", len(got))
		}
		if got[0].ID == "high" {
			highFirst++
		}
	}
	if highFirst < trials*9/10 {
		t.Errorf("high priority drawn %d/%d times, want > 90%%", highFirst, trials)
	}

	both := samplePrioritized(all, 2, rng)
	if len(both) != 2 || both[0].ID == both[1].ID {
		t.Errorf("samplePrioritized(2) = %v, want both distinct experiences", both)
	}
}
