package learning

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// ReplayMode selects how experiences are sampled and evicted.
type ReplayMode string

const (
	// UniformReplay samples uniformly and evicts the oldest experience.
	UniformReplay ReplayMode = "uniform"
	// PrioritizedReplay samples proportionally to priority and evicts the
	// lowest-priority experience.
	PrioritizedReplay ReplayMode = "prioritized"
)

// DefaultReplayCapacity bounds each agent's log.
const DefaultReplayCapacity = 10000

// priorityFloor keeps zero-reward experiences sampleable.
const priorityFloor = 0.01

// ParseReplayMode parses a configured mode name.
func ParseReplayMode(s string) (ReplayMode, error) {
	switch ReplayMode(s) {
	case UniformReplay, PrioritizedReplay:
		return ReplayMode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown replay mode %q", ErrInvalidInput, s)
	}
}

// Priority is the default sampling priority of an experience.
func Priority(reward float64) float64 {
	return math.Abs(reward) + priorityFloor
}

// ReplayBuffer is a bounded, durable per-agent experience log. Operations
// on one agent are serialized; different agents never contend.
type ReplayBuffer struct {
	repo     store.ExperienceRepo
	capacity int
	mode     ReplayMode
	rng      Rand
	locks    keyedMutex
	now      func() time.Time
}

// ReplayOption configures a ReplayBuffer.
type ReplayOption func(*ReplayBuffer)

// WithReplayRand sets the sampling randomness.
func WithReplayRand(r Rand) ReplayOption {
	return func(b *ReplayBuffer) {
		if r != nil {
			b.rng = r
		}
	}
}

// NewReplayBuffer creates a buffer holding at most capacity experiences per
// agent.
func NewReplayBuffer(repo store.ExperienceRepo, capacity int, mode ReplayMode, opts ...ReplayOption) (*ReplayBuffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: replay capacity %d", ErrInvalidInput, capacity)
	}
	if _, err := ParseReplayMode(string(mode)); err != nil {
		return nil, err
	}

	b := &ReplayBuffer{
		repo:     repo,
		capacity: capacity,
		mode:     mode,
		rng:      globalRand{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Mode returns the sampling mode.
func (b *ReplayBuffer) Mode() ReplayMode {
	return b.mode
}

// Store appends exp to its agent's log, evicting per the mode when full.
// Missing ID, timestamp and priority are filled in.
func (b *ReplayBuffer) Store(ctx context.Context, exp models.Experience) (models.Experience, error) {
	if exp.AgentID == "" || exp.State == "" {
		return models.Experience{}, fmt.Errorf("%w: experience needs an agent and a state", ErrInvalidInput)
	}
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.Timestamp.IsZero() {
		exp.Timestamp = b.now()
	}
	if exp.Priority <= 0 {
		exp.Priority = Priority(exp.Reward)
	}

	evict := store.EvictOldest
	if b.mode == PrioritizedReplay {
		evict = store.EvictLowestPriority
	}

	unlock := b.locks.lock(exp.AgentID)
	defer unlock()

	if _, err := b.repo.AppendExperience(ctx, exp, b.capacity, evict); err != nil {
		return models.Experience{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return exp, nil
}

// Len returns the number of stored experiences of an agent.
func (b *ReplayBuffer) Len(ctx context.Context, agentID string) (int64, error) {
	n, err := b.repo.CountExperiences(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Sample draws up to batchSize distinct experiences of an agent.
func (b *ReplayBuffer) Sample(ctx context.Context, agentID string, batchSize int) ([]models.Experience, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: batch size %d", ErrInvalidInput, batchSize)
	}

	unlock := b.locks.lock(agentID)
	all, err := b.repo.ListExperiences(ctx, agentID)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if b.mode == PrioritizedReplay {
		return samplePrioritized(all, batchSize, b.rng), nil
	}
	return sampleUniform(all, batchSize, b.rng), nil
}

// sampleUniform is a partial Fisher-Yates shuffle.
func sampleUniform(all []models.Experience, k int, rng Rand) []models.Experience {
	if k >= len(all) {
		k = len(all)
	}
	pool := append([]models.Experience(nil), all...)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

// samplePrioritized draws without replacement with probability
// proportional to priority.
func samplePrioritized(all []models.Experience, k int, rng Rand) []models.Experience {
	if k >= len(all) {
		k = len(all)
	}
	pool := append([]models.Experience(nil), all...)

	total := 0.0
	for i := range pool {
		if pool[i].Priority <= 0 {
			pool[i].Priority = priorityFloor
		}
		total += pool[i].Priority
	}

	out := make([]models.Experience, 0, k)
	for len(out) < k {
		r := rng.Float64() * total
		idx := len(pool) - 1
		acc := 0.0
		for i := range pool {
			acc += pool[i].Priority
			if r < acc {
				idx = i
				break
			}
		}

		out = append(out, pool[idx])
		total -= pool[idx].Priority
		pool[idx] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return out
}
