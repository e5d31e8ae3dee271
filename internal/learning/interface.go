package learning

import (
	"context"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// Learner defines the interface agents and the HTTP boundary use to talk
// to the learning core. It allows callers to work with any learning
// backend without depending on the concrete implementation.
type Learner interface {
	// RegisterAgent records an agent and initializes its exploration rate.
	RegisterAgent(ctx context.Context, p AgentProfile) (models.Agent, error)

	// ListAgents returns every registered agent.
	ListAgents(ctx context.Context) ([]models.Agent, error)

	// SelectForTask encodes a task and picks an action for it.
	SelectForTask(ctx context.Context, agentID string, task models.TaskContext) (TaskSelection, error)

	// LearnFromTask turns an execution result into a learning step.
	LearnFromTask(ctx context.Context, agentID string, task models.TaskContext, result models.ExecutionResult) (TaskLearnResult, error)

	// Replay re-feeds sampled experiences through the update rule.
	Replay(ctx context.Context, agentID string, batchSize int) (ReplayResult, error)
}

// Verify Service implements Learner at compile time.
var _ Learner = (*Service)(nil)
