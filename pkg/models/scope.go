package models

import (
	"fmt"
	"strings"
)

// ScopeKind identifies the level of the knowledge hierarchy a Q-table belongs to.
type ScopeKind string

const (
	// ScopeIndividual is a table owned by a single agent.
	ScopeIndividual ScopeKind = "individual"
	// ScopeCategory is a table shared by all agents of one category.
	ScopeCategory ScopeKind = "category"
	// ScopeFleet is the single fleet-wide table.
	ScopeFleet ScopeKind = "fleet"
)

// Valid returns true if the kind is a known value.
func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeIndividual, ScopeCategory, ScopeFleet:
		return true
	default:
		return false
	}
}

// Scope names one Q-table: individual(agent), category(id) or fleet.
type Scope struct {
	// Kind is the hierarchy level.
	Kind ScopeKind `json:"kind"`
	// ID is the agent or category identifier. Empty for the fleet scope.
	ID string `json:"id,omitempty"`
}

// Individual returns the scope of a single agent's table.
func Individual(agentID string) Scope {
	return Scope{Kind: ScopeIndividual, ID: agentID}
}

// Category returns the scope of a category table.
func Category(categoryID string) Scope {
	return Scope{Kind: ScopeCategory, ID: categoryID}
}

// Fleet returns the fleet-wide scope.
func Fleet() Scope {
	return Scope{Kind: ScopeFleet}
}

// Valid returns true if the scope is well formed.
func (s Scope) Valid() bool {
	switch s.Kind {
	case ScopeIndividual, ScopeCategory:
		return s.ID != "" && !strings.Contains(s.ID, ":")
	case ScopeFleet:
		return s.ID == ""
	default:
		return false
	}
}

// String returns the canonical storage form, e.g. "individual:agent-1" or "fleet".
func (s Scope) String() string {
	if s.Kind == ScopeFleet {
		return string(ScopeFleet)
	}
	return string(s.Kind) + ":" + s.ID
}

// ParseScope parses the canonical form produced by Scope.String.
func ParseScope(raw string) (Scope, error) {
	if raw == string(ScopeFleet) {
		return Fleet(), nil
	}

	kind, id, ok := strings.Cut(raw, ":")
	if !ok {
		return Scope{}, fmt.Errorf("invalid scope %q: expected kind:id or fleet", raw)
	}

	s := Scope{Kind: ScopeKind(kind), ID: id}
	if !s.Valid() {
		return Scope{}, fmt.Errorf("invalid scope %q", raw)
	}
	return s, nil
}
