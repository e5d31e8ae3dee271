package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ShayCichocki/qlearn/internal/config"
	"github.com/ShayCichocki/qlearn/internal/encoder"
	"github.com/ShayCichocki/qlearn/internal/learning"
	"github.com/ShayCichocki/qlearn/internal/reward"
	"github.com/ShayCichocki/qlearn/internal/store"
)

// engine is the learning core wired over the configured store.
type engine struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *store.DB
	registry *prometheus.Registry
	metrics  *learning.Metrics
	stats    *learning.StatsRecorder
	reward   *reward.Reloadable

	qvalues    *learning.QValueStore
	epsilon    *learning.EpsilonTracker
	replay     *learning.ReplayBuffer
	service    *learning.Service
	aggregator *learning.Aggregator
}

// openDB opens and migrates the configured store.
func openDB(ctx context.Context, cfg *config.Config) (*store.DB, error) {
	dsn, err := config.ResolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, store.Options{
		Driver:       cfg.Store.Driver,
		DSN:          dsn,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return db, nil
}

func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e, err := newEngine(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func newEngine(db *store.DB, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := learning.NewMetrics(reg)
	stats := learning.NewStatsRecorder(db)

	qvalues := learning.NewQValueStore(db,
		learning.WithRetryPolicy(learning.RetryPolicy{
			MaxAttempts:    cfg.Learning.Retry.MaxAttempts,
			InitialBackoff: cfg.Learning.Retry.InitialBackoff,
			MaxBackoff:     cfg.Learning.Retry.MaxBackoff,
		}),
		learning.WithConfidenceScale(cfg.Learning.ConfidenceScale),
		learning.WithQValueMetrics(metrics),
		learning.WithQValueLogger(logger),
	)

	strategy, err := epsilonStrategy(cfg)
	if err != nil {
		return nil, err
	}
	epsilon := learning.NewEpsilonTracker(db, strategy)

	mode, err := learning.ParseReplayMode(cfg.Replay.Mode)
	if err != nil {
		return nil, err
	}
	replay, err := learning.NewReplayBuffer(db, cfg.Replay.Capacity, mode)
	if err != nil {
		return nil, err
	}

	enc, err := encoder.New(cfg.Encoder.ComplexityThresholds, cfg.Encoder.CoverageThresholds)
	if err != nil {
		return nil, fmt.Errorf("build encoder: %w", err)
	}
	calc, err := reward.New(cfg.RewardParams())
	if err != nil {
		return nil, fmt.Errorf("build reward function: %w", err)
	}
	rw := reward.NewReloadable(calc)

	service, err := learning.NewService(qvalues, epsilon, replay, db,
		learning.ServiceConfig{Alpha: cfg.Learning.Alpha, Gamma: cfg.Learning.Gamma},
		learning.WithLogger(logger),
		learning.WithMetrics(metrics),
		learning.WithStats(stats),
		learning.WithDefaultEncoder(enc),
		learning.WithDefaultReward(rw),
		learning.WithDefaultActionSpace(learning.ActionSpaceMap{
			Default:    cfg.Learning.DefaultActionCount,
			ByTaskType: cfg.Learning.ActionSpaces,
		}),
	)
	if err != nil {
		return nil, err
	}

	aggregator, err := learning.NewAggregator(qvalues, db, db, aggregatorConfig(cfg),
		learning.WithAggregatorLogger(logger),
		learning.WithAggregatorMetrics(metrics),
		learning.WithAggregatorStats(stats),
	)
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		registry:   reg,
		metrics:    metrics,
		stats:      stats,
		reward:     rw,
		qvalues:    qvalues,
		epsilon:    epsilon,
		replay:     replay,
		service:    service,
		aggregator: aggregator,
	}, nil
}

func epsilonStrategy(cfg *config.Config) (*learning.EpsilonStrategy, error) {
	return learning.NewEpsilonStrategy(learning.EpsilonConfig{
		Kind:      learning.DecayKind(cfg.Epsilon.Strategy),
		Initial:   cfg.Epsilon.Initial,
		Min:       cfg.Epsilon.Min,
		Max:       cfg.Epsilon.Max,
		DecayRate: cfg.Epsilon.DecayRate,
	})
}

func aggregatorConfig(cfg *config.Config) learning.AggregatorConfig {
	return learning.AggregatorConfig{
		Interval:        cfg.Aggregation.Interval,
		CategoryWeight:  cfg.Aggregation.CategoryWeight,
		FleetWeight:     cfg.Aggregation.FleetWeight,
		MinContributors: cfg.Aggregation.MinContributors,
		Parallelism:     cfg.Aggregation.Parallelism,
		WritesPerSecond: cfg.Aggregation.WritesPerSecond,
	}
}

// reload applies the parts of a changed configuration that can change
// while running: reward parameters and the epsilon schedule. Everything
// else needs a restart.
func (e *engine) reload(next *config.Config) {
	calc, err := reward.New(next.RewardParams())
	if err != nil {
		e.logger.Warn("reward reload rejected", "error", err)
	} else {
		e.reward.Swap(calc)
	}

	strategy, err := epsilonStrategy(next)
	if err != nil {
		e.logger.Warn("epsilon reload rejected", "error", err)
	} else {
		e.epsilon.SetStrategy(strategy)
	}

	if next.Learning.Alpha != e.cfg.Learning.Alpha || next.Learning.Gamma != e.cfg.Learning.Gamma {
		e.logger.Warn("learning rate changes apply after restart")
	}
	e.logger.Info("configuration reloaded")
}

// Close writes pending statistics and closes the store.
func (e *engine) Close() error {
	if _, err := e.stats.Flush(context.Background()); err != nil {
		e.logger.Warn("flush learning stats", "error", err)
	}
	return e.db.Close()
}
