package models

import "time"

// StateKey is the deterministic identifier of an encoded task state.
type StateKey string

// QValueEntry is one learned value for a (scope, state, action) tuple.
type QValueEntry struct {
	// Scope is the table the entry belongs to.
	Scope Scope `json:"scope" yaml:"-"`
	// State is the encoded state.
	State StateKey `json:"state" yaml:"state"`
	// StateHash is the SHA-256 of State used for indexing.
	StateHash string `json:"state_hash" yaml:"-"`
	// Action is the index into the action space.
	Action int `json:"action" yaml:"action"`
	// Value is the Q-value. Always finite.
	Value float64 `json:"value" yaml:"value"`
	// VisitCount is incremented on every successful write.
	VisitCount int64 `json:"visit_count" yaml:"visit_count"`
	// Confidence is derived from VisitCount, in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`
	// Version is incremented by exactly one on every successful write.
	Version int64 `json:"version" yaml:"-"`
	// UpdatedAt is the time of the last successful write.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Exists reports whether the entry has ever been written.
func (e QValueEntry) Exists() bool {
	return e.Version > 0
}

// Experience is one immutable learning transition.
type Experience struct {
	// ID is the unique identifier of the experience.
	ID string `json:"id"`
	// AgentID is the agent that produced the transition.
	AgentID string `json:"agent_id"`
	// State is the state the action was taken in.
	State StateKey `json:"state"`
	// Action is the action taken.
	Action int `json:"action"`
	// ActionCount is the size of the action space at the time of the step.
	ActionCount int `json:"action_count"`
	// Reward is the scalar reward observed.
	Reward float64 `json:"reward"`
	// NextState is the resulting state. Empty when absent.
	NextState StateKey `json:"next_state,omitempty"`
	// Done marks a terminal transition.
	Done bool `json:"done"`
	// Priority drives prioritized replay and eviction.
	Priority float64 `json:"priority"`
	// Timestamp is when the experience was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// EpsilonState is the persisted exploration rate of one agent.
type EpsilonState struct {
	AgentID   string    `json:"agent_id"`
	Epsilon   float64   `json:"epsilon"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LearningStats is a convergence snapshot for one scope over a time window.
type LearningStats struct {
	Scope           Scope     `json:"scope"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	Samples         int64     `json:"samples"`
	AvgReward       float64   `json:"avg_reward"`
	AvgValueChange  float64   `json:"avg_value_change"`
	ExplorationRate float64   `json:"exploration_rate"`
}
