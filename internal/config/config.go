// Package config handles configuration loading and management for qlearn.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/qlearn/internal/reward"
)

// Config holds all configuration for qlearn.
type Config struct {
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Learning    LearningConfig    `mapstructure:"learning" yaml:"learning"`
	Epsilon     EpsilonConfig     `mapstructure:"epsilon" yaml:"epsilon"`
	Encoder     EncoderConfig     `mapstructure:"encoder" yaml:"encoder"`
	Reward      RewardConfig      `mapstructure:"reward" yaml:"reward"`
	Replay      ReplayConfig      `mapstructure:"replay" yaml:"replay"`
	Aggregation AggregationConfig `mapstructure:"aggregation" yaml:"aggregation"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	TUI         TUIConfig         `mapstructure:"tui" yaml:"tui"`
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
}

// LearningConfig holds the Q-learning hyperparameters.
type LearningConfig struct {
	Alpha              float64        `mapstructure:"alpha" yaml:"alpha" validate:"gte=0,lte=1"`
	Gamma              float64        `mapstructure:"gamma" yaml:"gamma" validate:"gte=0,lte=1"`
	DefaultActionCount int            `mapstructure:"default_action_count" yaml:"default_action_count" validate:"gte=1"`
	ActionSpaces       map[string]int `mapstructure:"action_spaces" yaml:"action_spaces" validate:"dive,gte=1"`
	ConfidenceScale    float64        `mapstructure:"confidence_scale" yaml:"confidence_scale" validate:"gt=0"`
	Retry              RetryConfig    `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig bounds the optimistic write retry loop.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
}

// EpsilonConfig configures the exploration schedule.
type EpsilonConfig struct {
	Strategy  string  `mapstructure:"strategy" yaml:"strategy" validate:"oneof=exponential reward_based"`
	Initial   float64 `mapstructure:"initial" yaml:"initial" validate:"gte=0,lte=1"`
	Min       float64 `mapstructure:"min" yaml:"min" validate:"gte=0,lte=1"`
	Max       float64 `mapstructure:"max" yaml:"max" validate:"gte=0,lte=1,gtefield=Min"`
	DecayRate float64 `mapstructure:"decay_rate" yaml:"decay_rate" validate:"gt=0,lte=1"`
}

// EncoderConfig holds the state bucket thresholds.
type EncoderConfig struct {
	ComplexityThresholds []float64 `mapstructure:"complexity_thresholds" yaml:"complexity_thresholds" validate:"len=3,ascending"`
	CoverageThresholds   []float64 `mapstructure:"coverage_thresholds" yaml:"coverage_thresholds" validate:"len=3,ascending"`
}

// RewardConfig holds reward weights and component constants.
type RewardConfig struct {
	Weights           reward.Weights `mapstructure:"weights" yaml:"weights"`
	FailurePenalty    float64        `mapstructure:"failure_penalty" yaml:"failure_penalty" validate:"lte=0"`
	FullCoverageBonus float64        `mapstructure:"full_coverage_bonus" yaml:"full_coverage_bonus" validate:"gte=0"`
	TimeCeiling       time.Duration  `mapstructure:"time_ceiling" yaml:"time_ceiling" validate:"gt=1s"`
	CostThreshold     float64        `mapstructure:"cost_threshold" yaml:"cost_threshold" validate:"gt=0"`
}

// ReplayConfig configures the experience replay buffer.
type ReplayConfig struct {
	Capacity  int    `mapstructure:"capacity" yaml:"capacity" validate:"gte=1"`
	Mode      string `mapstructure:"mode" yaml:"mode" validate:"oneof=uniform prioritized"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=1"`
}

// AggregationConfig configures the hierarchical aggregator.
type AggregationConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
	CategoryWeight  float64       `mapstructure:"category_weight" yaml:"category_weight" validate:"gt=0,lte=1"`
	FleetWeight     float64       `mapstructure:"fleet_weight" yaml:"fleet_weight" validate:"gt=0,lte=1"`
	Parallelism     int           `mapstructure:"parallelism" yaml:"parallelism" validate:"gte=1"`
	WritesPerSecond float64       `mapstructure:"writes_per_second" yaml:"writes_per_second" validate:"gte=0"`
	MinContributors int           `mapstructure:"min_contributors" yaml:"min_contributors" validate:"gte=1"`
}

// ServerConfig holds HTTP boundary settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate" yaml:"refresh_rate" validate:"gt=0"`
}

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (QLEARN_*, QLEARN_DATABASE_URL)
// 2. Project config (.qlearn.yaml in current directory or parent)
// 3. User config (~/.config/qlearn/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

// newViper assembles the layered configuration sources.
func newViper() (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("QLEARN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("store.dsn", "QLEARN_STORE_DSN", DatabaseURLEnv)

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Store.DSN = expandEnv(cfg.Store.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch reloads the layered configuration whenever the highest-precedence
// config file changes on disk and passes every valid result to onChange.
// Invalid edits are logged and ignored. It returns false when there is no
// config file to watch.
func Watch(logger *slog.Logger, onChange func(*Config)) bool {
	path := findProjectConfig()
	if path == "" {
		path = GetUserConfigPath()
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	watch(path, Load, logger, onChange)
	return true
}

// WatchPath is Watch for an explicit config file.
func WatchPath(path string, logger *slog.Logger, onChange func(*Config)) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watching config %s: %w", path, err)
	}
	watch(path, func() (*Config, error) { return LoadFromPath(path) }, logger, onChange)
	return nil
}

func watch(path string, reload func() (*Config, error), logger *slog.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := reload()
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultDatabasePath returns the embedded database location under the XDG
// data directory.
func DefaultDatabasePath() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "qlearn", "qlearn.db")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "qlearn", "qlearn.db")
	}
	return filepath.Join(home, ".local", "share", "qlearn", "qlearn.db")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)

	v.SetDefault("learning.alpha", d.Learning.Alpha)
	v.SetDefault("learning.gamma", d.Learning.Gamma)
	v.SetDefault("learning.default_action_count", d.Learning.DefaultActionCount)
	v.SetDefault("learning.action_spaces", map[string]int{})
	v.SetDefault("learning.confidence_scale", d.Learning.ConfidenceScale)
	v.SetDefault("learning.retry.max_attempts", d.Learning.Retry.MaxAttempts)
	v.SetDefault("learning.retry.initial_backoff", "5ms")
	v.SetDefault("learning.retry.max_backoff", "100ms")

	v.SetDefault("epsilon.strategy", d.Epsilon.Strategy)
	v.SetDefault("epsilon.initial", d.Epsilon.Initial)
	v.SetDefault("epsilon.min", d.Epsilon.Min)
	v.SetDefault("epsilon.max", d.Epsilon.Max)
	v.SetDefault("epsilon.decay_rate", d.Epsilon.DecayRate)

	v.SetDefault("encoder.complexity_thresholds", d.Encoder.ComplexityThresholds)
	v.SetDefault("encoder.coverage_thresholds", d.Encoder.CoverageThresholds)

	v.SetDefault("reward.weights.coverage", d.Reward.Weights.Coverage)
	v.SetDefault("reward.weights.quality", d.Reward.Weights.Quality)
	v.SetDefault("reward.weights.time", d.Reward.Weights.Time)
	v.SetDefault("reward.weights.cost", d.Reward.Weights.Cost)
	v.SetDefault("reward.weights.pattern", d.Reward.Weights.Pattern)
	v.SetDefault("reward.weights.improvement", d.Reward.Weights.Improvement)
	v.SetDefault("reward.failure_penalty", d.Reward.FailurePenalty)
	v.SetDefault("reward.full_coverage_bonus", d.Reward.FullCoverageBonus)
	v.SetDefault("reward.time_ceiling", "5m")
	v.SetDefault("reward.cost_threshold", d.Reward.CostThreshold)

	v.SetDefault("replay.capacity", d.Replay.Capacity)
	v.SetDefault("replay.mode", d.Replay.Mode)
	v.SetDefault("replay.batch_size", d.Replay.BatchSize)

	v.SetDefault("aggregation.interval", "5m")
	v.SetDefault("aggregation.category_weight", d.Aggregation.CategoryWeight)
	v.SetDefault("aggregation.fleet_weight", d.Aggregation.FleetWeight)
	v.SetDefault("aggregation.parallelism", d.Aggregation.Parallelism)
	v.SetDefault("aggregation.writes_per_second", d.Aggregation.WritesPerSecond)
	v.SetDefault("aggregation.min_contributors", d.Aggregation.MinContributors)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("tui.refresh_rate", "2s")
}

// getUserConfigDir returns the XDG config directory for qlearn.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "qlearn")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "qlearn")
	}
	return filepath.Join(home, ".config", "qlearn")
}

// findProjectConfig searches for .qlearn.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".qlearn.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	rp := reward.DefaultParams()
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Learning: LearningConfig{
			Alpha:              0.1,
			Gamma:              0.95,
			DefaultActionCount: 4,
			ActionSpaces:       map[string]int{},
			ConfidenceScale:    10,
			Retry: RetryConfig{
				MaxAttempts:    5,
				InitialBackoff: 5 * time.Millisecond,
				MaxBackoff:     100 * time.Millisecond,
			},
		},
		Epsilon: EpsilonConfig{
			Strategy:  "exponential",
			Initial:   0.3,
			Min:       0.01,
			Max:       1.0,
			DecayRate: 0.995,
		},
		Encoder: EncoderConfig{
			ComplexityThresholds: []float64{10, 20, 40},
			CoverageThresholds:   []float64{0.5, 0.7, 0.9},
		},
		Reward: RewardConfig{
			Weights:           rp.Weights,
			FailurePenalty:    rp.FailurePenalty,
			FullCoverageBonus: rp.FullCoverageBonus,
			TimeCeiling:       rp.TimeCeiling,
			CostThreshold:     rp.CostThreshold,
		},
		Replay: ReplayConfig{
			Capacity:  10000,
			Mode:      "uniform",
			BatchSize: 32,
		},
		Aggregation: AggregationConfig{
			Interval:        5 * time.Minute,
			CategoryWeight:  0.1,
			FleetWeight:     0.05,
			Parallelism:     4,
			WritesPerSecond: 500,
			MinContributors: 1,
		},
		Server: ServerConfig{
			Addr: ":8089",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		TUI: TUIConfig{
			RefreshRate: 2 * time.Second,
		},
	}
}

// ActionCount returns the configured action space size for a task type.
func (c *Config) ActionCount(taskType string) int {
	if n, ok := c.Learning.ActionSpaces[taskType]; ok && n > 0 {
		return n
	}
	return c.Learning.DefaultActionCount
}

// RewardParams converts the reward section into calculator parameters.
func (c *Config) RewardParams() reward.Params {
	p := reward.DefaultParams()
	p.Weights = c.Reward.Weights
	p.FailurePenalty = c.Reward.FailurePenalty
	p.FullCoverageBonus = c.Reward.FullCoverageBonus
	p.TimeCeiling = c.Reward.TimeCeiling
	p.CostThreshold = c.Reward.CostThreshold
	if p.LowCost >= p.CostThreshold {
		p.LowCost = p.CostThreshold / 100
	}
	return p
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
