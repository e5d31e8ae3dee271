package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// AgentRow is one line of the agents table.
type AgentRow struct {
	ID          string
	Category    string
	Epsilon     float64
	HasEpsilon  bool
	Experiences int64
}

// Snapshot is everything the dashboard shows at one point in time.
type Snapshot struct {
	Agents    []AgentRow
	Scopes    []store.ScopeSummary
	Stats     []models.LearningStats
	FetchedAt time.Time
}

// Source produces dashboard snapshots.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// Backend is the part of the store the dashboard reads.
type Backend interface {
	store.AgentRepo
	store.EpsilonRepo
	store.StatsRepo
	CountExperiences(ctx context.Context, agentID string) (int64, error)
	ScopeSummaries(ctx context.Context) ([]store.ScopeSummary, error)
}

// StoreSource reads snapshots straight from the store.
type StoreSource struct {
	backend Backend
}

// NewStoreSource creates a Source over a store backend.
func NewStoreSource(b Backend) *StoreSource {
	return &StoreSource{backend: b}
}

// Fetch implements Source.
func (s *StoreSource) Fetch(ctx context.Context) (Snapshot, error) {
	agents, err := s.backend.ListAgents(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list agents: %w", err)
	}
	eps, err := s.backend.ListEpsilon(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list epsilon: %w", err)
	}
	byAgent := make(map[string]float64, len(eps))
	for _, e := range eps {
		byAgent[e.AgentID] = e.Epsilon
	}

	snap := Snapshot{FetchedAt: time.Now()}
	for _, a := range agents {
		n, err := s.backend.CountExperiences(ctx, a.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("count experiences of %s: %w", a.ID, err)
		}
		v, ok := byAgent[a.ID]
		snap.Agents = append(snap.Agents, AgentRow{
			ID:          a.ID,
			Category:    a.Category,
			Epsilon:     v,
			HasEpsilon:  ok,
			Experiences: n,
		})
	}

	if snap.Scopes, err = s.backend.ScopeSummaries(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("scope summaries: %w", err)
	}
	for _, sc := range snap.Scopes {
		latest, err := s.backend.ListStats(ctx, sc.Scope, 1)
		if err != nil {
			return Snapshot{}, fmt.Errorf("stats of %s: %w", sc.Scope, err)
		}
		snap.Stats = append(snap.Stats, latest...)
	}
	sort.Slice(snap.Stats, func(i, j int) bool {
		return snap.Stats[i].Scope.String() < snap.Stats[j].Scope.String()
	})
	return snap, nil
}
