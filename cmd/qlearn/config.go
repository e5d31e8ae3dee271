package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/qlearn/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show configuration",
	Long: `Show the effective qlearn configuration.

Without arguments, displays every setting. With a key, displays that value.

Configuration is read from ~/.config/qlearn/config.yaml
Project-specific overrides can be placed in .qlearn.yaml
Environment variables QLEARN_* override both, and QLEARN_DATABASE_URL
overrides the store DSN.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			displayAllConfig(cfg)
			return nil
		}
		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

// configKeys lists the displayed keys in order.
var configKeys = []string{
	"store.driver",
	"store.dsn",
	"store.max_open_conns",
	"learning.alpha",
	"learning.gamma",
	"learning.default_action_count",
	"learning.action_spaces",
	"learning.confidence_scale",
	"learning.retry.max_attempts",
	"learning.retry.initial_backoff",
	"learning.retry.max_backoff",
	"epsilon.strategy",
	"epsilon.initial",
	"epsilon.min",
	"epsilon.max",
	"epsilon.decay_rate",
	"encoder.complexity_thresholds",
	"encoder.coverage_thresholds",
	"reward.weights",
	"reward.failure_penalty",
	"reward.full_coverage_bonus",
	"reward.time_ceiling",
	"reward.cost_threshold",
	"replay.capacity",
	"replay.mode",
	"replay.batch_size",
	"aggregation.interval",
	"aggregation.category_weight",
	"aggregation.fleet_weight",
	"aggregation.parallelism",
	"aggregation.writes_per_second",
	"aggregation.min_contributors",
	"server.addr",
	"log.level",
	"log.format",
	"tui.refresh_rate",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}
	fmt.Printf("store.dsn_source: %s\n", config.GetDSNSource(cfg))
}

// getConfigValue returns a configuration value by key. The DSN is masked.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

	switch key {
	case "store.driver":
		return cfg.Store.Driver, nil
	case "store.dsn":
		dsn, err := config.ResolveDSN(cfg)
		if err != nil {
			return "(not set)", nil
		}
		return config.MaskDSN(dsn), nil
	case "store.max_open_conns":
		return strconv.Itoa(cfg.Store.MaxOpenConns), nil
	case "learning.alpha":
		return f(cfg.Learning.Alpha), nil
	case "learning.gamma":
		return f(cfg.Learning.Gamma), nil
	case "learning.default_action_count":
		return strconv.Itoa(cfg.Learning.DefaultActionCount), nil
	case "learning.action_spaces":
		return formatActionSpaces(cfg.Learning.ActionSpaces), nil
	case "learning.confidence_scale":
		return f(cfg.Learning.ConfidenceScale), nil
	case "learning.retry.max_attempts":
		return strconv.Itoa(cfg.Learning.Retry.MaxAttempts), nil
	case "learning.retry.initial_backoff":
		return cfg.Learning.Retry.InitialBackoff.String(), nil
	case "learning.retry.max_backoff":
		return cfg.Learning.Retry.MaxBackoff.String(), nil
	case "epsilon.strategy":
		return cfg.Epsilon.Strategy, nil
	case "epsilon.initial":
		return f(cfg.Epsilon.Initial), nil
	case "epsilon.min":
		return f(cfg.Epsilon.Min), nil
	case "epsilon.max":
		return f(cfg.Epsilon.Max), nil
	case "epsilon.decay_rate":
		return f(cfg.Epsilon.DecayRate), nil
	case "encoder.complexity_thresholds":
		return fmt.Sprint(cfg.Encoder.ComplexityThresholds), nil
	case "encoder.coverage_thresholds":
		return fmt.Sprint(cfg.Encoder.CoverageThresholds), nil
	case "reward.weights":
		w := cfg.Reward.Weights
		return fmt.Sprintf("coverage=%s quality=%s time=%s cost=%s pattern=%s improvement=%s",
			f(w.Coverage), f(w.Quality), f(w.Time), f(w.Cost), f(w.Pattern), f(w.Improvement)), nil
	case "reward.failure_penalty":
		return f(cfg.Reward.FailurePenalty), nil
	case "reward.full_coverage_bonus":
		return f(cfg.Reward.FullCoverageBonus), nil
	case "reward.time_ceiling":
		return cfg.Reward.TimeCeiling.String(), nil
	case "reward.cost_threshold":
		return f(cfg.Reward.CostThreshold), nil
	case "replay.capacity":
		return strconv.Itoa(cfg.Replay.Capacity), nil
	case "replay.mode":
		return cfg.Replay.Mode, nil
	case "replay.batch_size":
		return strconv.Itoa(cfg.Replay.BatchSize), nil
	case "aggregation.interval":
		return cfg.Aggregation.Interval.String(), nil
	case "aggregation.category_weight":
		return f(cfg.Aggregation.CategoryWeight), nil
	case "aggregation.fleet_weight":
		return f(cfg.Aggregation.FleetWeight), nil
	case "aggregation.parallelism":
		return strconv.Itoa(cfg.Aggregation.Parallelism), nil
	case "aggregation.writes_per_second":
		return f(cfg.Aggregation.WritesPerSecond), nil
	case "aggregation.min_contributors":
		return strconv.Itoa(cfg.Aggregation.MinContributors), nil
	case "server.addr":
		return cfg.Server.Addr, nil
	case "log.level":
		return cfg.Log.Level, nil
	case "log.format":
		return cfg.Log.Format, nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func formatActionSpaces(m map[string]int) string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
