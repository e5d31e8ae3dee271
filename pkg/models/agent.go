package models

import "time"

// Agent is a registered learner. Category membership drives hierarchical
// aggregation and the cold-start fallback chain.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Category is the category the agent belongs to. Empty means none.
	Category string `json:"category,omitempty"`
	// RegisteredAt is when the agent was first registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// Scope returns the agent's individual scope.
func (a Agent) Scope() Scope {
	return Individual(a.ID)
}

// CategoryScope returns the agent's category scope and whether it has one.
func (a Agent) CategoryScope() (Scope, bool) {
	if a.Category == "" {
		return Scope{}, false
	}
	return Category(a.Category), true
}
