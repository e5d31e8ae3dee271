// Package reward converts execution results into scalar rewards.
//
// The total reward is a weighted sum of independent components:
//
//	coverage     change in coverage, with a bonus for reaching full coverage
//	quality      bugs found, false positives, edge cases and precision
//	time         inverted execution time
//	cost         tiered monetary cost
//	pattern      diminishing-returns bonus for reused patterns
//	improvement  caller-computed improvement score
//
// A failed execution short-circuits to a fixed penalty.
package reward

import (
	"errors"
	"math"
	"time"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// Bounds of the total reward.
const (
	MinReward = -100.0
	MaxReward = 100.0
)

// RewardFunction turns an execution result into a reward. Agents with a
// specialised notion of success inject their own implementation.
type RewardFunction interface {
	Calculate(result models.ExecutionResult) float64
}

// Weights are the relative weights of the reward components.
type Weights struct {
	Coverage    float64 `mapstructure:"coverage" yaml:"coverage"`
	Quality     float64 `mapstructure:"quality" yaml:"quality"`
	Time        float64 `mapstructure:"time" yaml:"time"`
	Cost        float64 `mapstructure:"cost" yaml:"cost"`
	Pattern     float64 `mapstructure:"pattern" yaml:"pattern"`
	Improvement float64 `mapstructure:"improvement" yaml:"improvement"`
}

// DefaultWeights returns the default component weights.
func DefaultWeights() Weights {
	return Weights{
		Coverage:    0.30,
		Quality:     0.25,
		Time:        0.15,
		Cost:        0.10,
		Pattern:     0.10,
		Improvement: 0.10,
	}
}

// Params holds the tunable constants of each component.
type Params struct {
	Weights Weights

	FailurePenalty float64

	CoverageScale     float64
	FullCoverageBonus float64

	BugCredit            float64
	FalsePositivePenalty float64
	EdgeCaseCredit       float64
	PrecisionScale       float64

	FastReward      float64
	TimeCeiling     time.Duration
	OvertimePenalty float64

	PatternScale float64

	LowCost       float64
	LowCostReward float64
	CostThreshold float64
}

// DefaultParams returns the default reward parameters.
func DefaultParams() Params {
	return Params{
		Weights:              DefaultWeights(),
		FailurePenalty:       -10,
		CoverageScale:        10,
		FullCoverageBonus:    5,
		BugCredit:            2,
		FalsePositivePenalty: 1,
		EdgeCaseCredit:       0.5,
		PrecisionScale:       1,
		FastReward:           10,
		TimeCeiling:          5 * time.Minute,
		OvertimePenalty:      -5,
		PatternScale:         2,
		LowCost:              0.01,
		LowCostReward:        10,
		CostThreshold:        1.0,
	}
}

// ErrInvalidParams is returned when reward parameters cannot produce a
// well-defined reward.
var ErrInvalidParams = errors.New("invalid reward parameters")

// Validate checks the parameters for values that break the components.
func (p Params) Validate() error {
	if p.TimeCeiling <= time.Second {
		return errors.Join(ErrInvalidParams, errors.New("time ceiling must exceed one second"))
	}
	if p.CostThreshold <= 0 || p.LowCost < 0 || p.LowCost >= p.CostThreshold {
		return errors.Join(ErrInvalidParams, errors.New("cost tiers must satisfy 0 <= low cost < threshold"))
	}
	for _, w := range []float64{p.Weights.Coverage, p.Weights.Quality, p.Weights.Time, p.Weights.Cost, p.Weights.Pattern, p.Weights.Improvement} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.Join(ErrInvalidParams, errors.New("weights must be finite and non-negative"))
		}
	}
	return nil
}

// Calculator is the default RewardFunction.
type Calculator struct {
	p Params
}

// New creates a Calculator from validated parameters.
func New(p Params) (*Calculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{p: p}, nil
}

// Default returns a Calculator with the default parameters.
func Default() *Calculator {
	return &Calculator{p: DefaultParams()}
}

// Params returns the calculator's parameters.
func (c *Calculator) Params() Params {
	return c.p
}

// Calculate implements RewardFunction.
func (c *Calculator) Calculate(r models.ExecutionResult) float64 {
	if r.Failed {
		return c.p.FailurePenalty
	}

	w := c.p.Weights
	total := w.Coverage*c.CoverageReward(r.CoverageAfter, r.CoverageBefore) +
		w.Quality*c.QualityReward(r.BugsFound, r.FalsePositives, r.EdgeCases) +
		w.Time*c.TimeReward(r.ExecutionTime) +
		w.Cost*c.CostReward(r.Cost) +
		w.Pattern*c.PatternBonus(r.PatternsReused) +
		w.Improvement*finiteOrZero(r.Improvement)

	return clamp(total)
}

// CoverageReward rewards coverage gained and penalises coverage lost,
// proportionally. Reaching full coverage earns a fixed bonus.
func (c *Calculator) CoverageReward(current, previous float64) float64 {
	current = finiteOrZero(current)
	previous = finiteOrZero(previous)

	r := (current - previous) * c.p.CoverageScale
	if current >= 1 && previous < 1 {
		r += c.p.FullCoverageBonus
	}
	return r
}

// QualityReward credits bugs and edge cases, penalises false positives and
// adds a precision bonus when any findings were reported.
func (c *Calculator) QualityReward(bugsFound, falsePositives, edgeCases int) float64 {
	bugs := float64(max(bugsFound, 0))
	fps := float64(max(falsePositives, 0))
	edges := float64(max(edgeCases, 0))

	r := bugs*c.p.BugCredit - fps*c.p.FalsePositivePenalty + edges*c.p.EdgeCaseCredit
	if bugs+fps > 0 {
		r += c.p.PrecisionScale * bugs / (bugs + fps)
	}
	return r
}

// TimeReward is high for sub-second executions, decreases logarithmically
// up to the ceiling and is negative beyond it.
func (c *Calculator) TimeReward(d time.Duration) float64 {
	if d < time.Second {
		return c.p.FastReward
	}
	if d > c.p.TimeCeiling {
		return c.p.OvertimePenalty
	}
	secs := d.Seconds()
	return c.p.FastReward * (1 - math.Log(secs)/math.Log(c.p.TimeCeiling.Seconds()))
}

// PatternBonus is a diminishing-returns bonus for reused patterns.
func (c *Calculator) PatternBonus(patternsReused int) float64 {
	return c.p.PatternScale * math.Log1p(float64(max(patternsReused, 0)))
}

// CostReward is fixed and high for very cheap executions, decreases
// linearly up to the threshold and equals -cost above it.
func (c *Calculator) CostReward(cost float64) float64 {
	cost = math.Max(finiteOrZero(cost), 0)
	switch {
	case cost < c.p.LowCost:
		return c.p.LowCostReward
	case cost <= c.p.CostThreshold:
		return c.p.LowCostReward * (1 - cost/c.p.CostThreshold)
	default:
		return -cost
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(MinReward, math.Min(MaxReward, v))
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
