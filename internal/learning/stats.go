package learning

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// StatsRecorder accumulates convergence statistics per scope and writes
// them to the store as windows.
type StatsRecorder struct {
	repo store.StatsRepo
	now  func() time.Time

	mu      sync.Mutex
	windows map[models.Scope]*statsWindow
}

type statsWindow struct {
	start       time.Time
	samples     int64
	rewardSum   float64
	changeSum   float64
	exploration float64
}

// NewStatsRecorder creates a recorder writing to repo.
func NewStatsRecorder(repo store.StatsRepo) *StatsRecorder {
	return &StatsRecorder{
		repo:    repo,
		now:     func() time.Time { return time.Now().UTC() },
		windows: make(map[models.Scope]*statsWindow),
	}
}

// Record adds one learning step to the current window of scope.
func (r *StatsRecorder) Record(scope models.Scope, reward, valueChange, epsilon float64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[scope]
	if !ok {
		w = &statsWindow{start: r.now()}
		r.windows[scope] = w
	}
	w.samples++
	w.rewardSum += reward
	w.changeSum += math.Abs(valueChange)
	w.exploration = epsilon
}

// Pending returns the statistics accumulated for scope since the last flush.
func (r *StatsRecorder) Pending(scope models.Scope) (models.LearningStats, bool) {
	if r == nil {
		return models.LearningStats{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[scope]
	if !ok {
		return models.LearningStats{}, false
	}
	return w.stats(scope, r.now()), true
}

// Flush writes every open window and starts new ones. Windows that fail to
// write are kept for the next flush.
func (r *StatsRecorder) Flush(ctx context.Context) (int, error) {
	if r == nil {
		return 0, nil
	}

	r.mu.Lock()
	pending := r.windows
	r.windows = make(map[models.Scope]*statsWindow)
	r.mu.Unlock()

	end := r.now()
	written := 0
	var firstErr error
	for scope, w := range pending {
		if err := r.repo.InsertStats(ctx, w.stats(scope, end)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
			r.restore(scope, w)
			continue
		}
		written++
	}
	return written, firstErr
}

// restore merges an unwritten window back.
func (r *StatsRecorder) restore(scope models.Scope, w *statsWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.windows[scope]
	if !ok {
		r.windows[scope] = w
		return
	}
	cur.start = w.start
	cur.samples += w.samples
	cur.rewardSum += w.rewardSum
	cur.changeSum += w.changeSum
}

func (w *statsWindow) stats(scope models.Scope, end time.Time) models.LearningStats {
	s := models.LearningStats{
		Scope:           scope,
		WindowStart:     w.start,
		WindowEnd:       end,
		Samples:         w.samples,
		ExplorationRate: w.exploration,
	}
	if w.samples > 0 {
		s.AvgReward = w.rewardSum / float64(w.samples)
		s.AvgValueChange = w.changeSum / float64(w.samples)
	}
	return s
}
