package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// parseTaskContext turns key=value pairs into a task context. Numeric and
// boolean values are typed; everything else stays a string.
func parseTaskContext(pairs []string) (models.TaskContext, error) {
	task := make(models.TaskContext, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context %q: expected key=value", pair)
		}
		task[key] = parseValue(strings.TrimSpace(raw))
	}
	return task, nil
}

func parseValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
