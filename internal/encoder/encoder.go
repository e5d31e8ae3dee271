// Package encoder turns a task context into a compact, deterministic state key.
package encoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// Separator joins the fields of a state key.
const Separator = "_"

// Unknown is substituted for missing string features.
const Unknown = "unknown"

var (
	complexityLabels = [4]string{"low", "medium", "high", "very_high"}
	coverageLabels   = [4]string{"low", "medium", "high", "full"}
)

// DefaultComplexityThresholds bucket complexity into low/medium/high/very_high.
var DefaultComplexityThresholds = []float64{10, 20, 40}

// DefaultCoverageThresholds bucket coverage into low/medium/high/full.
var DefaultCoverageThresholds = []float64{0.5, 0.7, 0.9}

// ErrInvalidThresholds is returned when bucket thresholds are malformed.
var ErrInvalidThresholds = errors.New("thresholds must be three strictly ascending finite values")

// Features are the raw values a state key is built from.
type Features struct {
	TaskType   string
	Complexity int
	Coverage   float64
	Framework  string
}

// StateFeatureExtractor pulls features out of a task context. Agents with a
// specialised notion of state inject their own implementation.
type StateFeatureExtractor interface {
	Extract(task models.TaskContext) Features
}

// StateEncoder produces state keys from task contexts.
type StateEncoder interface {
	Encode(task models.TaskContext) models.StateKey
}

// Encoder is the default StateEncoder. It is safe for concurrent use.
type Encoder struct {
	extractor            StateFeatureExtractor
	complexityThresholds [3]float64
	coverageThresholds   [3]float64
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithExtractor replaces the default feature extractor.
func WithExtractor(x StateFeatureExtractor) Option {
	return func(e *Encoder) {
		if x != nil {
			e.extractor = x
		}
	}
}

// New creates an Encoder with the given thresholds. Nil thresholds select
// the defaults. Malformed thresholds are rejected.
func New(complexity, coverage []float64, opts ...Option) (*Encoder, error) {
	if complexity == nil {
		complexity = DefaultComplexityThresholds
	}
	if coverage == nil {
		coverage = DefaultCoverageThresholds
	}

	cx, err := toThresholds(complexity)
	if err != nil {
		return nil, fmt.Errorf("complexity: %w", err)
	}
	cv, err := toThresholds(coverage)
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}

	e := &Encoder{
		extractor:            MapExtractor{},
		complexityThresholds: cx,
		coverageThresholds:   cv,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Default returns an Encoder with the default thresholds.
func Default() *Encoder {
	e, _ := New(nil, nil)
	return e
}

// Encode returns the state key for a task. It never fails: missing or
// malformed features degrade to their defaults.
func (e *Encoder) Encode(task models.TaskContext) models.StateKey {
	return e.EncodeFeatures(e.extractor.Extract(task))
}

// EncodeFeatures buckets already-extracted features into a state key.
func (e *Encoder) EncodeFeatures(f Features) models.StateKey {
	taskType := sanitize(f.TaskType)
	framework := sanitize(f.Framework)

	coverage := f.Coverage
	if math.IsNaN(coverage) || coverage < 0 {
		coverage = 0
	}
	if coverage > 1 {
		coverage = 1
	}

	parts := []string{
		taskType,
		"complexity",
		complexityLabels[bucket(float64(f.Complexity), e.complexityThresholds)],
		"coverage",
		coverageLabels[bucket(coverage, e.coverageThresholds)],
		framework,
	}
	return models.StateKey(strings.Join(parts, Separator))
}

// Hash returns the hex-encoded SHA-256 of a state key.
func Hash(key models.StateKey) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ComplexityBucket returns the complexity label for a raw value.
func (e *Encoder) ComplexityBucket(v int) string {
	return complexityLabels[bucket(float64(v), e.complexityThresholds)]
}

// CoverageBucket returns the coverage label for a raw value.
func (e *Encoder) CoverageBucket(v float64) string {
	return coverageLabels[bucket(v, e.coverageThresholds)]
}

func bucket(v float64, thresholds [3]float64) int {
	for i, t := range thresholds {
		if v < t {
			return i
		}
	}
	return len(thresholds)
}

func toThresholds(in []float64) ([3]float64, error) {
	var out [3]float64
	if len(in) != len(out) {
		return out, ErrInvalidThresholds
	}
	for i, v := range in {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return out, ErrInvalidThresholds
		}
		if i > 0 && v <= in[i-1] {
			return out, ErrInvalidThresholds
		}
		out[i] = v
	}
	return out, nil
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown
	}
	return strings.Join(strings.Fields(s), "-")
}

// MapExtractor reads the well-known keys of a TaskContext.
type MapExtractor struct{}

// Extract implements StateFeatureExtractor.
func (MapExtractor) Extract(task models.TaskContext) Features {
	f := Features{
		TaskType:  Unknown,
		Framework: Unknown,
	}
	if task == nil {
		return f
	}

	if s, ok := task[models.ContextTaskType].(string); ok && strings.TrimSpace(s) != "" {
		f.TaskType = s
	}
	if s, ok := task[models.ContextFramework].(string); ok && strings.TrimSpace(s) != "" {
		f.Framework = s
	}
	if v, ok := toFloat(task[models.ContextComplexity]); ok {
		f.Complexity = int(math.Max(math.MinInt32, math.Min(math.MaxInt32, v)))
	}
	if v, ok := toFloat(task[models.ContextCoverage]); ok {
		f.Coverage = math.Max(0, math.Min(1, v))
	}
	return f
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
