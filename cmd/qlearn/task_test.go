package main

import (
	"testing"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

func TestParseTaskContext(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    models.TaskContext
		wantErr bool
	}{
		{
			name:  "typed values",
			pairs: []string{"taskType=unit-test-generation", "complexity=15", "coverage=0.62", "flaky=true"},
			want: models.TaskContext{
				"taskType":   "unit-test-generation",
				"complexity": 15,
				"coverage":   0.62,
				"flaky":      true,
			},
		},
		{
			name:  "value containing equals",
			pairs: []string{"filter=a=b"},
			want:  models.TaskContext{"filter": "a=b"},
		},
		{
			name:  "empty",
			pairs: nil,
			want:  models.TaskContext{},
		},
		{
			name:    "missing separator",
			pairs:   []string{"coverage"},
			wantErr: true,
		},
		{
			name:    "empty key",
			pairs:   []string{"=1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTaskContext(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTaskContext() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseTaskContext() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("context[%q] = %#v, want %#v", k, got[k], v)
				}
			}
		})
	}
}
