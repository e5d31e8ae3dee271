package learning

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

const testState = models.StateKey("test_gen_complexity_high_coverage_high_pytest")

var errBackendDown = errors.New("backend down")

// setupTestDB creates a new migrated temporary database for testing.
func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

type testEnv struct {
	db      *store.DB
	qvalues *QValueStore
	epsilon *EpsilonTracker
	replay  *ReplayBuffer
	stats   *StatsRecorder
	svc     *Service
}

type envOptions struct {
	qrepo   store.QValueRepo
	retry   RetryPolicy
	epsilon EpsilonConfig
	rng     Rand
	mode    ReplayMode
}

// newTestEnv wires a Service over a temporary SQLite store. opts may
// override the Q-value repository, retry policy and exploration settings.
func newTestEnv(t *testing.T, mutate ...func(*envOptions)) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	o := envOptions{
		qrepo:   db,
		retry:   fastRetry(10),
		epsilon: DefaultEpsilonConfig(),
		rng:     Seeded(1),
		mode:    UniformReplay,
	}
	for _, m := range mutate {
		m(&o)
	}

	strategy, err := NewEpsilonStrategy(o.epsilon)
	if err != nil {
		t.Fatalf("NewEpsilonStrategy() error = %v", err)
	}
	qv := NewQValueStore(o.qrepo, WithRetryPolicy(o.retry))
	eps := NewEpsilonTracker(db, strategy)
	rb, err := NewReplayBuffer(db, 100, o.mode, WithReplayRand(o.rng))
	if err != nil {
		t.Fatalf("NewReplayBuffer() error = %v", err)
	}
	stats := NewStatsRecorder(db)

	svc, err := NewService(qv, eps, rb, db, DefaultServiceConfig(), WithRand(o.rng), WithStats(stats))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return &testEnv{db: db, qvalues: qv, epsilon: eps, replay: rb, stats: stats, svc: svc}
}

func withEpsilon(v float64) func(*envOptions) {
	return func(o *envOptions) {
		o.epsilon = EpsilonConfig{Kind: ExponentialDecay, Initial: v, Min: v, Max: v, DecayRate: 1}
	}
}

// flakyRepo fails every Q-value call while down is set.
type flakyRepo struct {
	store.QValueRepo
	down atomic.Bool
}

func (r *flakyRepo) GetQValue(ctx context.Context, scope models.Scope, hash string, action int) (models.QValueEntry, error) {
	if r.down.Load() {
		return models.QValueEntry{}, errBackendDown
	}
	return r.QValueRepo.GetQValue(ctx, scope, hash, action)
}

func (r *flakyRepo) ListStateQValues(ctx context.Context, scope models.Scope, hash string) ([]models.QValueEntry, error) {
	if r.down.Load() {
		return nil, errBackendDown
	}
	return r.QValueRepo.ListStateQValues(ctx, scope, hash)
}

// contendedRepo loses every conditional write.
type contendedRepo struct {
	store.QValueRepo
	attempts atomic.Int64
}

func (r *contendedRepo) InsertQValue(context.Context, models.QValueEntry) error {
	r.attempts.Add(1)
	return store.ErrVersionConflict
}

func (r *contendedRepo) UpdateQValue(context.Context, models.QValueEntry, int64) error {
	r.attempts.Add(1)
	return store.ErrVersionConflict
}

// racingRepo lets a rival writer win the first conditional update: the
// rival's value is committed and the caller sees a version conflict.
type racingRepo struct {
	store.QValueRepo
	rival float64
	raced atomic.Bool
}

func (r *racingRepo) UpdateQValue(ctx context.Context, e models.QValueEntry, expected int64) error {
	if r.raced.CompareAndSwap(false, true) {
		rival := e
		rival.Value = r.rival
		if err := r.QValueRepo.UpdateQValue(ctx, rival, expected); err != nil {
			return err
		}
		return store.ErrVersionConflict
	}
	return r.QValueRepo.UpdateQValue(ctx, e, expected)
}

// staleAgentRepo misses the first agent lookup, as if the registry was
// read just before another process registered the agent.
type staleAgentRepo struct {
	store.AgentRepo
	missed atomic.Bool
}

func (r *staleAgentRepo) GetAgent(ctx context.Context, agentID string) (models.Agent, error) {
	if r.missed.CompareAndSwap(false, true) {
		return models.Agent{}, store.ErrNotFound
	}
	return r.AgentRepo.GetAgent(ctx, agentID)
}

// sequenceRand returns Float64 values from a fixed list and IntN values
// from another, cycling through both.
type sequenceRand struct {
	floats []float64
	ints   []int
	fi, ii int
}

func (r *sequenceRand) Float64() float64 {
	v := r.floats[r.fi%len(r.floats)]
	r.fi++
	return v
}

func (r *sequenceRand) IntN(n int) int {
	v := r.ints[r.ii%len(r.ints)] % n
	r.ii++
	return v
}
