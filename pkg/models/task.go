package models

import "time"

// Well-known TaskContext keys read by the default feature extractor.
const (
	ContextTaskType   = "taskType"
	ContextComplexity = "complexity"
	ContextCoverage   = "coverage"
	ContextFramework  = "framework"
)

// TaskContext is the free-form description of a task handed over by the
// orchestration layer. Unknown keys are ignored.
type TaskContext map[string]any

// TaskType returns the task type or "" when missing or not a string.
func (c TaskContext) TaskType() string {
	s, _ := c[ContextTaskType].(string)
	return s
}

// With returns a shallow copy of the context with key set to value.
func (c TaskContext) With(key string, value any) TaskContext {
	out := make(TaskContext, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[key] = value
	return out
}

// ExecutionResult is what an agent reports after executing a selected action.
type ExecutionResult struct {
	// Action is the action index that was executed.
	Action int `json:"action"`
	// Failed marks a failed execution. All other reward terms are skipped.
	Failed bool `json:"failed"`
	// CoverageBefore is the coverage ratio before execution, in [0,1].
	CoverageBefore float64 `json:"coverage_before"`
	// CoverageAfter is the coverage ratio after execution, in [0,1].
	CoverageAfter float64 `json:"coverage_after"`
	// BugsFound is the number of real defects found.
	BugsFound int `json:"bugs_found"`
	// FalsePositives is the number of reported defects that were not real.
	FalsePositives int `json:"false_positives"`
	// EdgeCases is the number of edge cases covered.
	EdgeCases int `json:"edge_cases"`
	// ExecutionTime is the wall-clock time of the execution.
	ExecutionTime time.Duration `json:"execution_time"`
	// PatternsReused is the number of stored patterns the agent reused.
	PatternsReused int `json:"patterns_reused"`
	// Cost is the monetary cost of the execution.
	Cost float64 `json:"cost"`
	// Improvement is a caller-computed improvement score.
	Improvement float64 `json:"improvement"`
	// Done marks the execution as terminal for the episode.
	Done bool `json:"done"`
	// NextContext optionally describes the task after execution.
	NextContext TaskContext `json:"next_context,omitempty"`
}
