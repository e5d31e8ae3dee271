package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ShayCichocki/qlearn/internal/encoder"
	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// DefaultConfidenceScale is the visit count at which confidence reaches 0.5.
const DefaultConfidenceScale = 10.0

// RetryPolicy bounds the optimistic write loop.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns 5 attempts with 5ms to 100ms jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
	}
}

// UpdateFunc computes the new value of an entry from its current state.
// The entry is the zero entry (Exists() == false) for a first write.
// It may be called more than once per Update.
type UpdateFunc func(current models.QValueEntry) (float64, error)

// UpdateOption adjusts a single Update call.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	visits int64
}

// WithVisitFloor replaces the visit increment: the written visit count is
// the larger of the stored count and n.
func WithVisitFloor(n int64) UpdateOption {
	return func(o *updateOptions) { o.visits = n }
}

// QValueStore is the only writer of Q-values. It is safe for concurrent use
// by any number of goroutines and processes sharing the backend.
type QValueStore struct {
	repo            store.QValueRepo
	retry           RetryPolicy
	confidenceScale float64
	metrics         *Metrics
	logger          *slog.Logger
	now             func() time.Time

	individualWrites atomic.Int64
}

// QValueOption configures a QValueStore.
type QValueOption func(*QValueStore)

// WithRetryPolicy overrides the retry bounds.
func WithRetryPolicy(p RetryPolicy) QValueOption {
	return func(s *QValueStore) {
		if p.MaxAttempts > 0 {
			s.retry = p
		}
	}
}

// WithConfidenceScale sets the visit count at which confidence reaches 0.5.
func WithConfidenceScale(scale float64) QValueOption {
	return func(s *QValueStore) {
		if scale > 0 {
			s.confidenceScale = scale
		}
	}
}

// WithQValueMetrics records conflicts and exhausted retries.
func WithQValueMetrics(m *Metrics) QValueOption {
	return func(s *QValueStore) { s.metrics = m }
}

// WithQValueLogger sets the logger.
func WithQValueLogger(l *slog.Logger) QValueOption {
	return func(s *QValueStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewQValueStore creates a QValueStore over repo.
func NewQValueStore(repo store.QValueRepo, opts ...QValueOption) *QValueStore {
	s := &QValueStore{
		repo:            repo,
		retry:           DefaultRetryPolicy(),
		confidenceScale: DefaultConfidenceScale,
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Confidence maps a visit count into [0,1).
func (s *QValueStore) Confidence(visits int64) float64 {
	if visits <= 0 {
		return 0
	}
	v := float64(visits)
	return v / (v + s.confidenceScale)
}

// IndividualWrites returns the number of successful writes to individual
// tables since the store was created.
func (s *QValueStore) IndividualWrites() int64 {
	return s.individualWrites.Load()
}

// Get returns the value and version of one entry. A missing entry has
// value 0 and version 0.
func (s *QValueStore) Get(ctx context.Context, scope models.Scope, state models.StateKey, action int) (float64, int64, error) {
	e, err := s.Entry(ctx, scope, state, action)
	if err != nil {
		return 0, 0, err
	}
	return e.Value, e.Version, nil
}

// Entry returns one entry. A missing entry is returned zero-valued apart
// from its key.
func (s *QValueStore) Entry(ctx context.Context, scope models.Scope, state models.StateKey, action int) (models.QValueEntry, error) {
	if err := validateKey(scope, state, action); err != nil {
		return models.QValueEntry{}, err
	}

	hash := encoder.Hash(state)
	e, err := s.repo.GetQValue(ctx, scope, hash, action)
	if errors.Is(err, store.ErrNotFound) {
		return models.QValueEntry{Scope: scope, State: state, StateHash: hash, Action: action}, nil
	}
	if err != nil {
		return models.QValueEntry{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return e, nil
}

// Entries returns every stored action of a state.
func (s *QValueStore) Entries(ctx context.Context, scope models.Scope, state models.StateKey) ([]models.QValueEntry, error) {
	if err := validateKey(scope, state, 0); err != nil {
		return nil, err
	}

	entries, err := s.repo.ListStateQValues(ctx, scope, encoder.Hash(state))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return entries, nil
}

// GetBest returns the greedy action of a state among actions
// [0, actionCount). Actions never written count as value 0 with confidence
// 0. Ties go to the higher confidence, then to the lower index. found is
// false when the scope holds nothing for the state.
func (s *QValueStore) GetBest(ctx context.Context, scope models.Scope, state models.StateKey, actionCount int) (action int, value float64, found bool, err error) {
	if actionCount < 1 {
		return 0, 0, false, fmt.Errorf("%w: action count %d", ErrInvalidInput, actionCount)
	}

	entries, err := s.Entries(ctx, scope, state)
	if err != nil {
		return 0, 0, false, err
	}

	known := make(map[int]models.QValueEntry, len(entries))
	for _, e := range entries {
		if e.Action < actionCount {
			known[e.Action] = e
		}
	}
	if len(known) == 0 {
		return 0, 0, false, nil
	}

	best, bestConf := 0, 0.0
	value = math.Inf(-1)
	for a := 0; a < actionCount; a++ {
		e := known[a]
		if e.Value > value || (e.Value == value && e.Confidence > bestConf) {
			best, value, bestConf = a, e.Value, e.Confidence
		}
	}
	return best, value, true, nil
}

// GetMax returns max_a Q(state, a) over [0, actionCount), counting missing
// actions as 0.
func (s *QValueStore) GetMax(ctx context.Context, scope models.Scope, state models.StateKey, actionCount int) (float64, error) {
	_, v, found, err := s.GetBest(ctx, scope, state, actionCount)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return v, nil
}

// Set writes value to an entry through the optimistic protocol.
func (s *QValueStore) Set(ctx context.Context, scope models.Scope, state models.StateKey, action int, value float64) (models.QValueEntry, error) {
	return s.Update(ctx, scope, state, action, func(models.QValueEntry) (float64, error) {
		return value, nil
	})
}

// Update reads the entry, computes its new value with fn and writes it
// only if no one else wrote in between. Lost races are retried with
// jittered exponential backoff; when attempts run out it returns
// ErrConcurrencyExceeded. Each successful write increments the version by
// exactly one and the visit count by one. With WithVisitFloor the visit
// count becomes the larger of the stored count and the floor instead.
func (s *QValueStore) Update(ctx context.Context, scope models.Scope, state models.StateKey, action int, fn UpdateFunc, opts ...UpdateOption) (models.QValueEntry, error) {
	if err := validateKey(scope, state, action); err != nil {
		return models.QValueEntry{}, err
	}
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}

	hash := encoder.Hash(state)
	attempts := 0

	op := func() (models.QValueEntry, error) {
		attempts++

		cur, err := s.repo.GetQValue(ctx, scope, hash, action)
		if errors.Is(err, store.ErrNotFound) {
			cur = models.QValueEntry{Scope: scope, State: state, StateHash: hash, Action: action}
		} else if err != nil {
			return models.QValueEntry{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}

		v, err := fn(cur)
		if err != nil {
			return models.QValueEntry{}, backoff.Permanent(err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.QValueEntry{}, backoff.Permanent(fmt.Errorf("%w: non-finite value %v for %s %s action %d", ErrInvalidInput, v, scope, state, action))
		}

		next := cur
		next.Value = v
		next.VisitCount = cur.VisitCount + 1
		if o.visits > 0 {
			next.VisitCount = max(cur.VisitCount, o.visits)
		}
		next.Confidence = s.Confidence(next.VisitCount)
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now()

		if cur.Exists() {
			err = s.repo.UpdateQValue(ctx, next, cur.Version)
		} else {
			err = s.repo.InsertQValue(ctx, next)
		}
		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, store.ErrVersionConflict):
			s.metrics.conflict()
			return models.QValueEntry{}, err
		default:
			return models.QValueEntry{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}
	}

	entry, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.retry.MaxAttempts)),
	)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			s.metrics.exhausted()
			s.logger.Warn("optimistic update abandoned",
				"scope", scope.String(), "state", string(state), "action", action, "attempts", attempts)
			return models.QValueEntry{}, fmt.Errorf("%w: %s %s action %d after %d attempts", ErrConcurrencyExceeded, scope, state, action, attempts)
		}
		return models.QValueEntry{}, err
	}

	if scope.Kind == models.ScopeIndividual {
		s.individualWrites.Add(1)
	}
	return entry, nil
}

func (s *QValueStore) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialBackoff
	b.MaxInterval = s.retry.MaxBackoff
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	return b
}

func validateKey(scope models.Scope, state models.StateKey, action int) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: scope %q", ErrInvalidInput, scope.String())
	}
	if state == "" {
		return fmt.Errorf("%w: empty state", ErrInvalidInput)
	}
	if action < 0 {
		return fmt.Errorf("%w: negative action %d", ErrInvalidInput, action)
	}
	return nil
}
