package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// DecayKind selects how epsilon evolves after each learning step.
type DecayKind string

const (
	// ExponentialDecay multiplies epsilon by a fixed rate down to the minimum.
	ExponentialDecay DecayKind = "exponential"
	// RewardBasedDecay raises epsilon after a negative reward and lowers it
	// otherwise.
	RewardBasedDecay DecayKind = "reward_based"
)

// Reward-based decay factors.
const (
	rbedIncrease = 1.05
	rbedDecrease = 0.95
	// rbedMinStep is the smallest increase after a negative reward, so an
	// epsilon at or near zero can still recover.
	rbedMinStep = 0.001
)

// ParseDecayKind parses a configured strategy name.
func ParseDecayKind(s string) (DecayKind, error) {
	switch DecayKind(s) {
	case ExponentialDecay, RewardBasedDecay:
		return DecayKind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown epsilon strategy %q", ErrInvalidInput, s)
	}
}

// EpsilonConfig configures an EpsilonStrategy.
type EpsilonConfig struct {
	Kind      DecayKind
	Initial   float64
	Min       float64
	Max       float64
	DecayRate float64
}

// DefaultEpsilonConfig returns exponential decay from 0.3 at rate 0.995.
func DefaultEpsilonConfig() EpsilonConfig {
	return EpsilonConfig{
		Kind:      ExponentialDecay,
		Initial:   0.3,
		Min:       0.01,
		Max:       1.0,
		DecayRate: 0.995,
	}
}

// EpsilonStrategy computes the next exploration rate. It is immutable.
type EpsilonStrategy struct {
	cfg EpsilonConfig
}

// NewEpsilonStrategy validates cfg.
func NewEpsilonStrategy(cfg EpsilonConfig) (*EpsilonStrategy, error) {
	if _, err := ParseDecayKind(string(cfg.Kind)); err != nil {
		return nil, err
	}
	for _, v := range []float64{cfg.Initial, cfg.Min, cfg.Max, cfg.DecayRate} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: epsilon parameters must be in [0,1]", ErrInvalidInput)
		}
	}
	if cfg.Min > cfg.Max {
		return nil, fmt.Errorf("%w: epsilon min %v above max %v", ErrInvalidInput, cfg.Min, cfg.Max)
	}
	if cfg.Initial < cfg.Min || cfg.Initial > cfg.Max {
		return nil, fmt.Errorf("%w: initial epsilon %v outside [%v, %v]", ErrInvalidInput, cfg.Initial, cfg.Min, cfg.Max)
	}
	if cfg.Kind == ExponentialDecay && cfg.DecayRate == 0 {
		return nil, fmt.Errorf("%w: decay rate must be positive", ErrInvalidInput)
	}
	return &EpsilonStrategy{cfg: cfg}, nil
}

// Config returns the strategy's configuration.
func (s *EpsilonStrategy) Config() EpsilonConfig {
	return s.cfg
}

// Initial returns the starting epsilon.
func (s *EpsilonStrategy) Initial() float64 {
	return s.cfg.Initial
}

// Next returns the epsilon that follows current after observing reward.
// The result is always within [Min, Max].
func (s *EpsilonStrategy) Next(current, reward float64) float64 {
	current = s.Clamp(current)
	switch s.cfg.Kind {
	case RewardBasedDecay:
		if reward < 0 {
			next := current * rbedIncrease
			if next-current < rbedMinStep {
				next = current + rbedMinStep
			}
			return math.Min(s.cfg.Max, next)
		}
		return math.Max(s.cfg.Min, current*rbedDecrease)
	default:
		return math.Max(s.cfg.Min, current*s.cfg.DecayRate)
	}
}

// Clamp bounds v to [Min, Max].
func (s *EpsilonStrategy) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return s.cfg.Initial
	}
	return math.Max(s.cfg.Min, math.Min(s.cfg.Max, v))
}

// EpsilonTracker owns the per-agent exploration rates. Values are cached in
// memory and written through to the store, so a restarted process resumes
// from the persisted rate.
type EpsilonTracker struct {
	repo     store.EpsilonRepo
	strategy atomic.Pointer[EpsilonStrategy]
	locks    keyedMutex
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]float64
}

// NewEpsilonTracker creates a tracker.
func NewEpsilonTracker(repo store.EpsilonRepo, strategy *EpsilonStrategy) *EpsilonTracker {
	t := &EpsilonTracker{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		cache: make(map[string]float64),
	}
	t.strategy.Store(strategy)
	return t
}

// Strategy returns the active strategy.
func (t *EpsilonTracker) Strategy() *EpsilonStrategy {
	return t.strategy.Load()
}

// SetStrategy swaps the strategy. Cached values are re-clamped to the new
// bounds on their next use.
func (t *EpsilonTracker) SetStrategy(s *EpsilonStrategy) {
	if s != nil {
		t.strategy.Store(s)
	}
}

// Init persists the initial epsilon for an agent that has none. An agent
// with a persisted value keeps it.
func (t *EpsilonTracker) Init(ctx context.Context, agentID string) (float64, error) {
	unlock := t.locks.lock(agentID)
	defer unlock()
	return t.load(ctx, agentID)
}

// Current returns an agent's epsilon, restoring it from the store on first
// access.
func (t *EpsilonTracker) Current(ctx context.Context, agentID string) (float64, error) {
	t.mu.RLock()
	v, ok := t.cache[agentID]
	t.mu.RUnlock()
	if ok {
		return t.Strategy().Clamp(v), nil
	}

	unlock := t.locks.lock(agentID)
	defer unlock()
	return t.load(ctx, agentID)
}

// Peek returns an agent's epsilon without creating state for it. An agent
// with no persisted rate reads as the strategy's initial value.
func (t *EpsilonTracker) Peek(ctx context.Context, agentID string) (float64, error) {
	t.mu.RLock()
	v, ok := t.cache[agentID]
	t.mu.RUnlock()
	if ok {
		return t.Strategy().Clamp(v), nil
	}

	s, err := t.repo.GetEpsilon(ctx, agentID)
	switch {
	case err == nil:
		v = t.Strategy().Clamp(s.Epsilon)
		t.mu.Lock()
		if _, ok := t.cache[agentID]; !ok {
			t.cache[agentID] = v
		}
		t.mu.Unlock()
		return v, nil
	case errors.Is(err, store.ErrNotFound):
		return t.Strategy().Initial(), nil
	default:
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// Advance applies the strategy to an agent's epsilon and persists the
// result.
func (t *EpsilonTracker) Advance(ctx context.Context, agentID string, reward float64) (float64, error) {
	unlock := t.locks.lock(agentID)
	defer unlock()

	cur, err := t.load(ctx, agentID)
	if err != nil {
		return 0, err
	}

	next := t.Strategy().Next(cur, reward)
	if err := t.persist(ctx, agentID, next); err != nil {
		return cur, err
	}
	return next, nil
}

// load must be called with the agent's lock held.
func (t *EpsilonTracker) load(ctx context.Context, agentID string) (float64, error) {
	t.mu.RLock()
	v, ok := t.cache[agentID]
	t.mu.RUnlock()
	if ok {
		return t.Strategy().Clamp(v), nil
	}

	s, err := t.repo.GetEpsilon(ctx, agentID)
	switch {
	case err == nil:
		v = t.Strategy().Clamp(s.Epsilon)
		t.mu.Lock()
		t.cache[agentID] = v
		t.mu.Unlock()
		return v, nil
	case errors.Is(err, store.ErrNotFound):
		v = t.Strategy().Initial()
		if err := t.persist(ctx, agentID, v); err != nil {
			return v, err
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

func (t *EpsilonTracker) persist(ctx context.Context, agentID string, v float64) error {
	err := t.repo.PutEpsilon(ctx, models.EpsilonState{AgentID: agentID, Epsilon: v, UpdatedAt: t.now()})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	t.mu.Lock()
	t.cache[agentID] = v
	t.mu.Unlock()
	return nil
}
