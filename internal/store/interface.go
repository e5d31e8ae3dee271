// Package store persists Q-values, experiences, exploration rates, agents and
// learning statistics. It runs on an embedded SQLite database or a shared
// PostgreSQL server through database/sql.
package store

import (
	"context"
	"errors"
	"io"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a conditional write finds a
	// different version than expected, or a first write finds an existing row.
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnsupportedDriver is returned by Open for unknown drivers.
	ErrUnsupportedDriver = errors.New("unsupported store driver")
)

// QValueRepo handles Q-value persistence. Writes are conditional on the
// row version; there is no unconditional write.
type QValueRepo interface {
	// GetQValue returns one entry or ErrNotFound.
	GetQValue(ctx context.Context, scope models.Scope, stateHash string, action int) (models.QValueEntry, error)
	// ListStateQValues returns every action stored for a state, by action.
	ListStateQValues(ctx context.Context, scope models.Scope, stateHash string) ([]models.QValueEntry, error)
	// ListScopeQValues returns every entry of a scope.
	ListScopeQValues(ctx context.Context, scope models.Scope) ([]models.QValueEntry, error)
	// InsertQValue creates an entry at version 1. It returns
	// ErrVersionConflict if the entry already exists.
	InsertQValue(ctx context.Context, e models.QValueEntry) error
	// UpdateQValue writes e at expectedVersion+1 if the stored version is
	// still expectedVersion, and returns ErrVersionConflict otherwise.
	UpdateQValue(ctx context.Context, e models.QValueEntry, expectedVersion int64) error
	// ScopeSummaries aggregates entry counts per scope.
	ScopeSummaries(ctx context.Context) ([]ScopeSummary, error)
}

// ExperienceRepo handles the bounded per-agent experience log.
type ExperienceRepo interface {
	// AppendExperience stores exp and trims the agent's log to capacity.
	// It returns the number of evicted experiences.
	AppendExperience(ctx context.Context, exp models.Experience, capacity int, evict Eviction) (int64, error)
	// ListExperiences returns an agent's experiences, oldest first.
	ListExperiences(ctx context.Context, agentID string) ([]models.Experience, error)
	// CountExperiences returns the size of an agent's log.
	CountExperiences(ctx context.Context, agentID string) (int64, error)
}

// EpsilonRepo handles per-agent exploration rates.
type EpsilonRepo interface {
	GetEpsilon(ctx context.Context, agentID string) (models.EpsilonState, error)
	PutEpsilon(ctx context.Context, s models.EpsilonState) error
	ListEpsilon(ctx context.Context) ([]models.EpsilonState, error)
}

// AgentRepo handles the agent registry.
type AgentRepo interface {
	// PutAgent registers an agent or updates its category. The original
	// registration time is kept.
	PutAgent(ctx context.Context, a models.Agent) error
	// PutAgentIfAbsent registers an agent only if it is not registered yet.
	PutAgentIfAbsent(ctx context.Context, a models.Agent) error
	GetAgent(ctx context.Context, agentID string) (models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
}

// StatsRepo handles learning statistics windows.
type StatsRepo interface {
	InsertStats(ctx context.Context, s models.LearningStats) error
	// ListStats returns the newest windows of a scope first. A zero limit
	// returns all of them.
	ListStats(ctx context.Context, scope models.Scope, limit int) ([]models.LearningStats, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate(ctx context.Context) error
}

// Backend is the full persistence surface. It composes the focused
// repositories so that components depend only on what they use.
type Backend interface {
	io.Closer
	Migrator
	QValueRepo
	ExperienceRepo
	EpsilonRepo
	AgentRepo
	StatsRepo
	Ping(ctx context.Context) error
	Driver() string
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Backend        = (*DB)(nil)
	_ Migrator       = (*DB)(nil)
	_ QValueRepo     = (*DB)(nil)
	_ ExperienceRepo = (*DB)(nil)
	_ EpsilonRepo    = (*DB)(nil)
	_ AgentRepo      = (*DB)(nil)
	_ StatsRepo      = (*DB)(nil)
)
