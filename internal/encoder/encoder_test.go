package encoder

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

func TestEncode_Scenario(t *testing.T) {
	e := Default()

	got := e.Encode(models.TaskContext{
		"taskType":   "test_gen",
		"complexity": 25,
		"coverage":   0.82,
		"framework":  "pytest",
	})

	want := models.StateKey("test_gen_complexity_high_coverage_high_pytest")
	if got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	e := Default()

	// Different raw values, same buckets.
	t1 := models.TaskContext{"taskType": "test_gen", "complexity": 21, "coverage": 0.71, "framework": "jest"}
	t2 := models.TaskContext{"taskType": "test_gen", "complexity": 39, "coverage": 0.89, "framework": "jest", "extra": "ignored"}

	if e.Encode(t1) != e.Encode(t2) {
		t.Errorf("Encode(t1) = %q, Encode(t2) = %q, want equal", e.Encode(t1), e.Encode(t2))
	}

	for i := 0; i < 100; i++ {
		if e.Encode(t1) != e.Encode(t1) {
			t.Fatal("Encode() is not stable across calls")
		}
	}
}

func TestEncode_Buckets(t *testing.T) {
	e := Default()

	tests := []struct {
		name       string
		complexity any
		coverage   any
		want       models.StateKey
	}{
		{"low/low", 0, 0.0, "t_complexity_low_coverage_low_f"},
		{"boundary 10 is medium", 10, 0.5, "t_complexity_medium_coverage_medium_f"},
		{"boundary 20 is high", 20, 0.7, "t_complexity_high_coverage_high_f"},
		{"boundary 40 is very_high", 40, 0.9, "t_complexity_very_high_coverage_full_f"},
		{"coverage above 1 clamps to full", 5, 1.7, "t_complexity_low_coverage_full_f"},
		{"negative coverage clamps to low", 5, -0.3, "t_complexity_low_coverage_low_f"},
		{"float complexity truncates", 19.9, 0.1, "t_complexity_medium_coverage_low_f"},
		{"numeric string complexity", "45", "0.95", "t_complexity_very_high_coverage_full_f"},
		{"json number", json.Number("12"), json.Number("0.6"), "t_complexity_medium_coverage_medium_f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Encode(models.TaskContext{
				"taskType":   "t",
				"complexity": tt.complexity,
				"coverage":   tt.coverage,
				"framework":  "f",
			})
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncode_MalformedInputDegrades(t *testing.T) {
	e := Default()

	tests := []struct {
		name string
		task models.TaskContext
		want models.StateKey
	}{
		{"nil context", nil, "unknown_complexity_low_coverage_low_unknown"},
		{"empty context", models.TaskContext{}, "unknown_complexity_low_coverage_low_unknown"},
		{"non-numeric complexity", models.TaskContext{"taskType": "x", "complexity": "lots"}, "x_complexity_low_coverage_low_unknown"},
		{"NaN coverage", models.TaskContext{"taskType": "x", "coverage": math.NaN()}, "x_complexity_low_coverage_low_unknown"},
		{"wrong types", models.TaskContext{"taskType": 7, "framework": []string{"a"}}, "unknown_complexity_low_coverage_low_unknown"},
		{"whitespace in names", models.TaskContext{"taskType": " unit test ", "framework": "go test"}, "unit-test_complexity_low_coverage_low_go-test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Encode(tt.task); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_InvalidThresholds(t *testing.T) {
	tests := []struct {
		name       string
		complexity []float64
		coverage   []float64
	}{
		{"too few", []float64{1, 2}, nil},
		{"too many", nil, []float64{0.1, 0.2, 0.3, 0.4}},
		{"not ascending", []float64{10, 10, 40}, nil},
		{"descending", nil, []float64{0.9, 0.7, 0.5}},
		{"NaN", []float64{1, math.NaN(), 3}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.complexity, tt.coverage)
			if !errors.Is(err, ErrInvalidThresholds) {
				t.Errorf("New() error = %v, want ErrInvalidThresholds", err)
			}
		})
	}
}

func TestNew_CustomThresholds(t *testing.T) {
	e, err := New([]float64{5, 50, 500}, []float64{0.2, 0.4, 0.6})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := e.ComplexityBucket(60); got != "high" {
		t.Errorf("ComplexityBucket(60) = %q, want high", got)
	}
	if got := e.CoverageBucket(0.6); got != "full" {
		t.Errorf("CoverageBucket(0.6) = %q, want full", got)
	}
}

type fixedExtractor struct{ f Features }

func (x fixedExtractor) Extract(models.TaskContext) Features { return x.f }

func TestWithExtractor(t *testing.T) {
	e, err := New(nil, nil, WithExtractor(fixedExtractor{Features{TaskType: "security_scan", Complexity: 100, Coverage: 1, Framework: "zap"}}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := e.Encode(models.TaskContext{"taskType": "ignored"})
	want := models.StateKey("security_scan_complexity_very_high_coverage_full_zap")
	if got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestHash(t *testing.T) {
	a := Hash("test_gen_complexity_high_coverage_high_pytest")
	b := Hash("test_gen_complexity_high_coverage_high_pytest")
	c := Hash("test_gen_complexity_low_coverage_high_pytest")

	if a != b {
		t.Error("Hash() differs for equal keys")
	}
	if a == c {
		t.Error("Hash() collides for different keys")
	}
	if len(a) != 64 {
		t.Errorf("len(Hash()) = %d, want 64", len(a))
	}
}
