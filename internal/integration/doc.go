// Package integration provides cross-package integration tests for qlearn.
// These tests run several learning services against one shared store, the
// way a fleet of agent processes does in production.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
