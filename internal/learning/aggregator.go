package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// AggregatorConfig controls how individual knowledge flows upward.
type AggregatorConfig struct {
	// Interval between background passes.
	Interval time.Duration
	// CategoryWeight is the step size toward the member average.
	CategoryWeight float64
	// FleetWeight is the step size toward the category average.
	FleetWeight float64
	// MinContributors is the number of distinct tables that must know a
	// (state, action) pair before it is propagated.
	MinContributors int
	// Parallelism bounds the categories aggregated at once.
	Parallelism int
	// WritesPerSecond paces aggregate writes. Zero means unlimited.
	WritesPerSecond float64
}

// DefaultAggregatorConfig returns the default aggregation settings.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Interval:        5 * time.Minute,
		CategoryWeight:  0.1,
		FleetWeight:     0.05,
		MinContributors: 1,
		Parallelism:     4,
		WritesPerSecond: 500,
	}
}

// Validate checks the weights and bounds.
func (c AggregatorConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: aggregation interval %v", ErrInvalidInput, c.Interval)
	}
	for _, w := range []float64{c.CategoryWeight, c.FleetWeight} {
		if math.IsNaN(w) || w <= 0 || w > 1 {
			return fmt.Errorf("%w: aggregation weight %v outside (0,1]", ErrInvalidInput, w)
		}
	}
	if c.MinContributors < 1 || c.Parallelism < 1 || c.WritesPerSecond < 0 {
		return fmt.Errorf("%w: aggregation bounds", ErrInvalidInput)
	}
	return nil
}

// Report summarizes one aggregation pass.
type Report struct {
	Categories     int
	CategoryWrites int
	FleetWrites    int
	// Dropped counts writes abandoned after losing every optimistic race.
	Dropped  int
	Duration time.Duration
}

// Aggregator propagates individual Q-values into category tables and
// category values into the fleet table. It only ever writes through the
// optimistic Update, so it never blocks selection or learning.
type Aggregator struct {
	qvalues *QValueStore
	repo    store.QValueRepo
	agents  store.AgentRepo
	cfg     AggregatorConfig
	stats   *StatsRecorder
	metrics *Metrics
	logger  *slog.Logger

	limiter *rate.Limiter
	trigger chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastSeen atomic.Int64
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the logger.
func WithAggregatorLogger(l *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAggregatorMetrics records aggregation metrics.
func WithAggregatorMetrics(m *Metrics) AggregatorOption {
	return func(a *Aggregator) { a.metrics = m }
}

// WithAggregatorStats flushes statistics windows after each pass.
func WithAggregatorStats(r *StatsRecorder) AggregatorOption {
	return func(a *Aggregator) { a.stats = r }
}

// NewAggregator creates an aggregator. repo is read directly to scan whole
// scopes; all writes go through qvalues.
func NewAggregator(qvalues *QValueStore, repo store.QValueRepo, agents store.AgentRepo, cfg AggregatorConfig, opts ...AggregatorOption) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	burst := 1
	if cfg.WritesPerSecond > 0 {
		limit = rate.Limit(cfg.WritesPerSecond)
		burst = max(1, int(cfg.WritesPerSecond))
	}

	a := &Aggregator{
		qvalues: qvalues,
		repo:    repo,
		agents:  agents,
		cfg:     cfg,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(limit, burst),
		trigger: make(chan struct{}, 1),
	}
	a.lastSeen.Store(-1)
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// cell accumulates the confidence-weighted contributions to one
// (state, action) pair.
type cell struct {
	state        models.StateKey
	action       int
	weighted     float64
	weights      float64
	sum          float64
	visits       int64
	contributors int
}

func (c *cell) add(e models.QValueEntry) {
	c.weighted += e.Confidence * e.Value
	c.weights += e.Confidence
	c.sum += e.Value
	c.visits += e.VisitCount
	c.contributors++
}

// average is the confidence-weighted mean, or the plain mean when no
// contributor carries any confidence.
func (c *cell) average() float64 {
	if c.weights > 0 {
		return c.weighted / c.weights
	}
	return c.sum / float64(c.contributors)
}

type cellKey struct {
	hash   string
	action int
}

// RunOnce performs one full pass: every category from its members, then
// the fleet from the categories. Categories are processed concurrently.
// Cancellation is honored between categories.
func (a *Aggregator) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	a.lastSeen.Store(a.qvalues.IndividualWrites())

	agents, err := a.agents.ListAgents(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	members := make(map[string][]string)
	for _, ag := range agents {
		if ag.Category != "" {
			members[ag.Category] = append(members[ag.Category], ag.ID)
		}
	}
	categories := make([]string, 0, len(members))
	for c := range members {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var (
		mu     sync.Mutex
		report = Report{Categories: len(categories)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Parallelism)
	for _, category := range categories {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scopes := make([]models.Scope, 0, len(members[category]))
			for _, id := range members[category] {
				scopes = append(scopes, models.Individual(id))
			}
			written, dropped, err := a.propagate(gctx, scopes, models.Category(category), a.cfg.CategoryWeight)

			mu.Lock()
			report.CategoryWrites += written
			report.Dropped += dropped
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		report.Duration = time.Since(start)
		return report, err
	}
	if err := ctx.Err(); err != nil {
		report.Duration = time.Since(start)
		return report, err
	}

	scopes := make([]models.Scope, 0, len(categories))
	for _, c := range categories {
		scopes = append(scopes, models.Category(c))
	}
	written, dropped, err := a.propagate(ctx, scopes, models.Fleet(), a.cfg.FleetWeight)
	report.FleetWrites = written
	report.Dropped += dropped
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}

	if n, err := a.stats.Flush(ctx); err != nil {
		a.logger.Warn("learning stats not flushed", "error", err)
	} else if n > 0 {
		a.logger.Debug("learning stats flushed", "windows", n)
	}

	a.metrics.aggregation(report.Duration.Seconds(), report.CategoryWrites, report.FleetWrites)
	a.logger.Info("aggregation pass complete",
		"categories", report.Categories,
		"category_writes", report.CategoryWrites,
		"fleet_writes", report.FleetWrites,
		"dropped", report.Dropped,
		"duration", report.Duration)
	return report, nil
}

// propagate moves target toward the confidence-weighted average of the
// sources by weight. A target entry that does not exist yet is seeded
// with the average. The target's visit count tracks the summed visits of
// its sources, so its confidence grows with member experience rather than
// with the number of passes.
func (a *Aggregator) propagate(ctx context.Context, sources []models.Scope, target models.Scope, weight float64) (written, dropped int, err error) {
	cells := make(map[cellKey]*cell)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return written, dropped, err
		}
		entries, err := a.repo.ListScopeQValues(ctx, src)
		if err != nil {
			return written, dropped, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		for _, e := range entries {
			k := cellKey{e.StateHash, e.Action}
			c, ok := cells[k]
			if !ok {
				c = &cell{state: e.State, action: e.Action}
				cells[k] = c
			}
			c.add(e)
		}
	}

	keys := make([]cellKey, 0, len(cells))
	for k, c := range cells {
		if c.contributors >= a.cfg.MinContributors {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].hash != keys[j].hash {
			return keys[i].hash < keys[j].hash
		}
		return keys[i].action < keys[j].action
	})

	for _, k := range keys {
		c := cells[k]
		if err := a.limiter.Wait(ctx); err != nil {
			return written, dropped, err
		}

		avg := c.average()
		_, err := a.qvalues.Update(ctx, target, c.state, c.action, func(cur models.QValueEntry) (float64, error) {
			if !cur.Exists() {
				return avg, nil
			}
			return cur.Value + weight*(avg-cur.Value), nil
		}, WithVisitFloor(max(c.visits, 1)))
		switch {
		case err == nil:
			written++
		case errors.Is(err, ErrConcurrencyExceeded):
			dropped++
		default:
			return written, dropped, err
		}
	}
	return written, dropped, nil
}

// Dirty reports whether any individual table changed since the last pass.
func (a *Aggregator) Dirty() bool {
	return a.qvalues.IndividualWrites() != a.lastSeen.Load()
}

// Trigger requests a pass regardless of the schedule.
func (a *Aggregator) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Start runs passes in the background every Interval until ctx is
// cancelled or Stop is called. Scheduled passes are skipped when nothing
// changed since the previous one.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.loop(ctx, a.done)
}

// Stop cancels the background loop and waits for it to exit.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Aggregator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.Dirty() {
				a.logger.Debug("aggregation skipped, no updates since last pass")
				continue
			}
		case <-a.trigger:
		}

		if _, err := a.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("aggregation pass failed", "error", err)
		}
	}
}
