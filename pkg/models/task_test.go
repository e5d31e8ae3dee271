package models

import "testing"

func TestTaskContext_TaskType(t *testing.T) {
	tests := []struct {
		name string
		ctx  TaskContext
		want string
	}{
		{"string value", TaskContext{ContextTaskType: "test_gen"}, "test_gen"},
		{"missing", TaskContext{}, ""},
		{"nil context", nil, ""},
		{"non-string", TaskContext{ContextTaskType: 42}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.TaskType(); got != tt.want {
				t.Errorf("TaskType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskContext_With_DoesNotMutate(t *testing.T) {
	orig := TaskContext{ContextCoverage: 0.4}
	next := orig.With(ContextCoverage, 0.8)

	if orig[ContextCoverage] != 0.4 {
		t.Errorf("original mutated: coverage = %v", orig[ContextCoverage])
	}
	if next[ContextCoverage] != 0.8 {
		t.Errorf("With() coverage = %v, want 0.8", next[ContextCoverage])
	}
}

func TestTaskContext_With_NilReceiver(t *testing.T) {
	var c TaskContext
	next := c.With(ContextFramework, "jest")
	if next[ContextFramework] != "jest" {
		t.Errorf("With() on nil context = %v", next)
	}
}
