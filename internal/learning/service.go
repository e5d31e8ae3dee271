package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ShayCichocki/qlearn/internal/encoder"
	"github.com/ShayCichocki/qlearn/internal/reward"
	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// DefaultAction is chosen when no table knows the state.
const DefaultAction = 0

// ActionSpaceProvider reports how many actions an agent has for a task type.
type ActionSpaceProvider interface {
	ActionCount(taskType string) int
}

// FixedActionSpace has the same size for every task type.
type FixedActionSpace int

// ActionCount implements ActionSpaceProvider.
func (n FixedActionSpace) ActionCount(string) int { return int(n) }

// ActionSpaceMap sizes action spaces per task type with a default.
type ActionSpaceMap struct {
	Default    int
	ByTaskType map[string]int
}

// ActionCount implements ActionSpaceProvider.
func (m ActionSpaceMap) ActionCount(taskType string) int {
	if n, ok := m.ByTaskType[taskType]; ok && n > 0 {
		return n
	}
	return m.Default
}

// AgentProfile registers an agent with its injected strategies. Nil
// strategies fall back to the service defaults.
type AgentProfile struct {
	ID       string
	Category string
	Encoder  encoder.StateEncoder
	Reward   reward.RewardFunction
	Actions  ActionSpaceProvider
}

// Source names where a selected action came from.
type Source string

const (
	SourceExploration Source = "exploration"
	SourceIndividual  Source = "individual"
	SourceCategory    Source = "category"
	SourceFleet       Source = "fleet"
	SourceDefault     Source = "default"
)

// Selection is the outcome of SelectAction.
type Selection struct {
	Action   int
	Explored bool
	Source   Source
	// Value is the Q-value behind an exploited action.
	Value   float64
	Epsilon float64
	// Degraded is set when a backend failure forced a fallback.
	Degraded bool
}

// Transition is one observed step.
type Transition struct {
	State       models.StateKey
	Action      int
	ActionCount int
	Reward      float64
	// NextState is empty when there is no successor.
	NextState models.StateKey
	Done      bool
}

// LearnResult describes an applied learning step.
type LearnResult struct {
	Entry    models.QValueEntry
	Previous float64
	Target   float64
	Reward   float64
	Epsilon  float64
	// ExperienceID is empty when the experience could not be stored.
	ExperienceID string
}

// ReplayResult summarizes a replay batch.
type ReplayResult struct {
	Sampled int
	Applied int
	Dropped int
}

// ServiceConfig holds the learning hyperparameters.
type ServiceConfig struct {
	Alpha float64
	Gamma float64
}

// DefaultServiceConfig returns alpha 0.1 and gamma 0.95.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Alpha: 0.1, Gamma: 0.95}
}

// Validate checks that alpha and gamma are in [0,1].
func (c ServiceConfig) Validate() error {
	if math.IsNaN(c.Alpha) || c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha %v outside [0,1]", ErrInvalidInput, c.Alpha)
	}
	if math.IsNaN(c.Gamma) || c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("%w: gamma %v outside [0,1]", ErrInvalidInput, c.Gamma)
	}
	return nil
}

// Service is the Q-learning entry point for agents.
type Service struct {
	qvalues *QValueStore
	epsilon *EpsilonTracker
	replay  *ReplayBuffer
	agents  store.AgentRepo
	cfg     ServiceConfig

	encoder encoder.StateEncoder
	reward  reward.RewardFunction
	actions ActionSpaceProvider

	stats   *StatsRecorder
	metrics *Metrics
	logger  *slog.Logger
	rng     Rand
	now     func() time.Time

	mu       sync.RWMutex
	profiles map[string]AgentProfile
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRand sets the exploration randomness.
func WithRand(r Rand) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithMetrics records learning metrics.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithStats records convergence statistics.
func WithStats(r *StatsRecorder) ServiceOption {
	return func(s *Service) { s.stats = r }
}

// WithDefaultEncoder sets the encoder of agents registered without one.
func WithDefaultEncoder(e encoder.StateEncoder) ServiceOption {
	return func(s *Service) {
		if e != nil {
			s.encoder = e
		}
	}
}

// WithDefaultReward sets the reward function of agents registered without one.
func WithDefaultReward(r reward.RewardFunction) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.reward = r
		}
	}
}

// WithDefaultActionSpace sets the action space of agents registered without one.
func WithDefaultActionSpace(p ActionSpaceProvider) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.actions = p
		}
	}
}

// NewService wires the learning components. Invalid hyperparameters are
// rejected here and nowhere else.
func NewService(qvalues *QValueStore, epsilon *EpsilonTracker, replay *ReplayBuffer, agents store.AgentRepo, cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if qvalues == nil || epsilon == nil || replay == nil || agents == nil {
		return nil, fmt.Errorf("%w: missing learning component", ErrInvalidInput)
	}

	s := &Service{
		qvalues:  qvalues,
		epsilon:  epsilon,
		replay:   replay,
		agents:   agents,
		cfg:      cfg,
		encoder:  encoder.Default(),
		reward:   reward.Default(),
		actions:  FixedActionSpace(4),
		logger:   slog.Default(),
		rng:      globalRand{},
		now:      func() time.Time { return time.Now().UTC() },
		profiles: make(map[string]AgentProfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the hyperparameters.
func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// QValues returns the Q-value store.
func (s *Service) QValues() *QValueStore {
	return s.qvalues
}

// Epsilon returns the exploration tracker.
func (s *Service) Epsilon() *EpsilonTracker {
	return s.epsilon
}

// RegisterAgent records an agent and its strategies and initializes its
// exploration rate. Registering again replaces the strategies and category
// but keeps learned values and epsilon.
func (s *Service) RegisterAgent(ctx context.Context, p AgentProfile) (models.Agent, error) {
	if p.ID == "" {
		return models.Agent{}, fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}
	a := models.Agent{ID: p.ID, Category: p.Category, RegisteredAt: s.now()}
	if !a.Scope().Valid() {
		return models.Agent{}, fmt.Errorf("%w: agent id %q", ErrInvalidInput, p.ID)
	}
	if cs, ok := a.CategoryScope(); ok && !cs.Valid() {
		return models.Agent{}, fmt.Errorf("%w: category %q", ErrInvalidInput, p.Category)
	}

	if err := s.agents.PutAgent(ctx, a); err != nil {
		return models.Agent{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	eps, err := s.epsilon.Init(ctx, p.ID)
	if err != nil {
		return models.Agent{}, err
	}
	s.metrics.setEpsilon(p.ID, eps)

	s.mu.Lock()
	s.profiles[p.ID] = s.withDefaults(p)
	s.mu.Unlock()

	s.logger.Info("agent registered", "agent", p.ID, "category", p.Category, "epsilon", eps)
	return a, nil
}

// Agent returns a registered agent.
func (s *Service) Agent(ctx context.Context, agentID string) (models.Agent, error) {
	a, err := s.agents.GetAgent(ctx, agentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return models.Agent{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return a, err
}

// ListAgents returns every registered agent.
func (s *Service) ListAgents(ctx context.Context) ([]models.Agent, error) {
	agents, err := s.agents.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return agents, nil
}

func (s *Service) withDefaults(p AgentProfile) AgentProfile {
	if p.Encoder == nil {
		p.Encoder = s.encoder
	}
	if p.Reward == nil {
		p.Reward = s.reward
	}
	if p.Actions == nil {
		p.Actions = s.actions
	}
	return p
}

// profile returns an agent's strategies. Agents registered by another
// process are loaded from the registry with default strategies; unknown
// agents are registered without a category when create is set.
func (s *Service) profile(ctx context.Context, agentID string, create bool) (AgentProfile, error) {
	s.mu.RLock()
	p, ok := s.profiles[agentID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	a, err := s.agents.GetAgent(ctx, agentID)
	switch {
	case err == nil:
		p = s.withDefaults(AgentProfile{ID: a.ID, Category: a.Category})
	case errors.Is(err, store.ErrNotFound):
		if !create {
			return s.withDefaults(AgentProfile{ID: agentID}), nil
		}
		a, err := s.registerImplicit(ctx, agentID)
		if err != nil {
			return AgentProfile{}, err
		}
		p = s.withDefaults(AgentProfile{ID: a.ID, Category: a.Category})
	default:
		return AgentProfile{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	if cached, ok := s.profiles[agentID]; ok {
		p = cached
	} else {
		s.profiles[agentID] = p
	}
	s.mu.Unlock()
	return p, nil
}

// registerImplicit registers an agent first seen through Learn. It never
// overwrites a registration made concurrently elsewhere and returns the
// agent as stored.
func (s *Service) registerImplicit(ctx context.Context, agentID string) (models.Agent, error) {
	a := models.Agent{ID: agentID, RegisteredAt: s.now()}
	if !a.Scope().Valid() {
		return models.Agent{}, fmt.Errorf("%w: agent id %q", ErrInvalidInput, agentID)
	}
	if err := s.agents.PutAgentIfAbsent(ctx, a); err != nil {
		return models.Agent{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	stored, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		return models.Agent{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	eps, err := s.epsilon.Init(ctx, agentID)
	if err != nil {
		return models.Agent{}, err
	}
	s.metrics.setEpsilon(agentID, eps)

	s.logger.Info("agent registered", "agent", agentID, "category", stored.Category, "epsilon", eps, "implicit", true)
	return stored, nil
}

// SelectAction picks an action with epsilon-greedy exploration. Exploitation
// consults the agent's own table, then its category, then the fleet, and
// returns DefaultAction when none knows the state. Backend failures degrade
// to the default action instead of failing.
func (s *Service) SelectAction(ctx context.Context, agentID string, state models.StateKey, actionCount int) (Selection, error) {
	if agentID == "" || state == "" {
		return Selection{}, fmt.Errorf("%w: agent and state are required", ErrInvalidInput)
	}
	if actionCount < 1 {
		return Selection{}, fmt.Errorf("%w: action count %d", ErrInvalidInput, actionCount)
	}

	sel := Selection{Action: DefaultAction, Source: SourceDefault}

	p, err := s.profile(ctx, agentID, false)
	if err != nil {
		s.logger.Warn("agent lookup failed, selecting default action", "agent", agentID, "error", err)
		sel.Degraded = true
		s.metrics.selection(sel.Source)
		return sel, nil
	}

	eps, err := s.epsilon.Peek(ctx, agentID)
	if err != nil {
		s.logger.Warn("epsilon unavailable, using initial value", "agent", agentID, "error", err)
		eps = s.epsilon.Strategy().Initial()
		sel.Degraded = true
	}
	sel.Epsilon = eps

	if s.rng.Float64() < eps {
		sel.Action = s.rng.IntN(actionCount)
		sel.Explored = true
		sel.Source = SourceExploration
		s.metrics.selection(sel.Source)
		return sel, nil
	}

	for _, link := range fallbackChain(p) {
		action, value, found, err := s.qvalues.GetBest(ctx, link.scope, state, actionCount)
		if err != nil {
			s.logger.Warn("q-value lookup failed, selecting default action",
				"agent", agentID, "scope", link.scope.String(), "state", string(state), "error", err)
			sel.Degraded = true
			break
		}
		if found {
			sel.Action, sel.Value, sel.Source = action, value, link.source
			break
		}
	}

	s.metrics.selection(sel.Source)
	return sel, nil
}

type scopeLink struct {
	scope  models.Scope
	source Source
}

// fallbackChain lists the tables consulted on exploitation, most specific
// first.
func fallbackChain(p AgentProfile) []scopeLink {
	chain := []scopeLink{{models.Individual(p.ID), SourceIndividual}}
	if p.Category != "" {
		chain = append(chain, scopeLink{models.Category(p.Category), SourceCategory})
	}
	return append(chain, scopeLink{models.Fleet(), SourceFleet})
}

// Learn applies one transition to the agent's table, stores it for replay
// and advances the agent's epsilon.
//
// A step that loses every optimistic race is dropped entirely: nothing is
// stored, epsilon does not move and ErrConcurrencyExceeded is returned.
// When the backend fails on the Q-value write the experience is still
// stored if possible and ErrStoreUnavailable is returned.
func (s *Service) Learn(ctx context.Context, agentID string, tr Transition) (*LearnResult, error) {
	if err := validateTransition(agentID, tr); err != nil {
		return nil, err
	}
	if _, err := s.profile(ctx, agentID, true); err != nil {
		return nil, err
	}

	exp := models.Experience{
		AgentID:     agentID,
		State:       tr.State,
		Action:      tr.Action,
		ActionCount: tr.ActionCount,
		Reward:      tr.Reward,
		NextState:   tr.NextState,
		Done:        tr.Done,
	}

	res, err := s.apply(ctx, agentID, tr)
	switch {
	case err == nil:
	case errors.Is(err, ErrConcurrencyExceeded):
		s.metrics.learnStep("dropped")
		s.logger.Warn("learning step dropped",
			"agent", agentID, "state", string(tr.State), "action", tr.Action, "error", err)
		return nil, err
	case errors.Is(err, ErrStoreUnavailable):
		s.metrics.learnStep("store_unavailable")
		if _, serr := s.replay.Store(ctx, exp); serr != nil {
			s.logger.Warn("learning step dropped, experience not stored",
				"agent", agentID, "state", string(tr.State), "action", tr.Action, "error", serr)
		} else {
			s.logger.Warn("q-value update failed, experience kept for replay",
				"agent", agentID, "state", string(tr.State), "action", tr.Action, "error", err)
		}
		return nil, err
	default:
		s.metrics.learnStep("rejected")
		return nil, err
	}

	stored, err := s.replay.Store(ctx, exp)
	if err != nil {
		s.logger.Warn("experience not stored", "agent", agentID, "error", err)
	} else {
		res.ExperienceID = stored.ID
	}

	eps, err := s.epsilon.Advance(ctx, agentID, tr.Reward)
	if err != nil {
		s.logger.Warn("epsilon not advanced", "agent", agentID, "error", err)
		eps = s.currentEpsilon(ctx, agentID)
	}
	res.Epsilon = eps
	s.metrics.setEpsilon(agentID, eps)

	s.stats.Record(models.Individual(agentID), tr.Reward, res.Entry.Value-res.Previous, eps)
	s.metrics.learnStep("applied")

	s.logger.Debug("learned",
		"agent", agentID, "state", string(tr.State), "action", tr.Action,
		"reward", tr.Reward, "value", res.Entry.Value, "version", res.Entry.Version)
	return res, nil
}

// apply runs the Bellman update for one transition against the agent's
// individual table. The target is recomputed on every attempt so a retry
// after a lost race sees the successor state as it is now.
func (s *Service) apply(ctx context.Context, agentID string, tr Transition) (*LearnResult, error) {
	scope := models.Individual(agentID)

	var previous, target float64
	entry, err := s.qvalues.Update(ctx, scope, tr.State, tr.Action, func(cur models.QValueEntry) (float64, error) {
		target = tr.Reward
		if !tr.Done && tr.NextState != "" {
			maxNext, err := s.qvalues.GetMax(ctx, scope, tr.NextState, tr.ActionCount)
			if err != nil {
				return 0, err
			}
			target += s.cfg.Gamma * maxNext
		}
		previous = cur.Value
		return cur.Value + s.cfg.Alpha*(target-cur.Value), nil
	})
	if err != nil {
		return nil, err
	}

	return &LearnResult{
		Entry:    entry,
		Previous: previous,
		Target:   target,
		Reward:   tr.Reward,
	}, nil
}

// Replay samples past experiences of an agent and feeds them through the
// update rule again. Replayed steps are not stored again and do not move
// epsilon. Steps that lose every optimistic race are counted as dropped.
func (s *Service) Replay(ctx context.Context, agentID string, batchSize int) (ReplayResult, error) {
	if agentID == "" {
		return ReplayResult{}, fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}

	batch, err := s.replay.Sample(ctx, agentID, batchSize)
	if err != nil {
		return ReplayResult{}, err
	}

	res := ReplayResult{Sampled: len(batch)}
	for _, exp := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		tr := Transition{
			State:       exp.State,
			Action:      exp.Action,
			ActionCount: exp.ActionCount,
			Reward:      exp.Reward,
			NextState:   exp.NextState,
			Done:        exp.Done,
		}
		if err := validateTransition(agentID, tr); err != nil {
			res.Dropped++
			continue
		}

		r, err := s.apply(ctx, agentID, tr)
		switch {
		case err == nil:
			res.Applied++
			s.stats.Record(models.Individual(agentID), exp.Reward, r.Entry.Value-r.Previous, s.currentEpsilon(ctx, agentID))
		case errors.Is(err, ErrConcurrencyExceeded):
			res.Dropped++
			s.logger.Warn("replayed step dropped", "agent", agentID, "experience", exp.ID, "error", err)
		default:
			return res, err
		}
	}

	s.metrics.replay(res.Applied)
	return res, nil
}

func (s *Service) currentEpsilon(ctx context.Context, agentID string) float64 {
	eps, err := s.epsilon.Peek(ctx, agentID)
	if err != nil {
		return s.epsilon.Strategy().Initial()
	}
	return eps
}

func validateTransition(agentID string, tr Transition) error {
	if agentID == "" {
		return fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}
	if tr.State == "" {
		return fmt.Errorf("%w: empty state", ErrInvalidInput)
	}
	if tr.ActionCount < 1 {
		return fmt.Errorf("%w: action count %d", ErrInvalidInput, tr.ActionCount)
	}
	if tr.Action < 0 || tr.Action >= tr.ActionCount {
		return fmt.Errorf("%w: action %d outside [0,%d)", ErrInvalidInput, tr.Action, tr.ActionCount)
	}
	if math.IsNaN(tr.Reward) || math.IsInf(tr.Reward, 0) {
		return fmt.Errorf("%w: non-finite reward", ErrInvalidInput)
	}
	return nil
}

// TaskSelection is a Selection made for a task context.
type TaskSelection struct {
	Selection
	State       models.StateKey
	ActionCount int
}

// SelectForTask encodes the task with the agent's encoder and selects an
// action from the agent's action space for the task type.
func (s *Service) SelectForTask(ctx context.Context, agentID string, task models.TaskContext) (TaskSelection, error) {
	if agentID == "" {
		return TaskSelection{}, fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}
	p, err := s.profile(ctx, agentID, false)
	if err != nil {
		p = s.withDefaults(AgentProfile{ID: agentID})
	}

	state := p.Encoder.Encode(task)
	n := p.Actions.ActionCount(task.TaskType())
	sel, err := s.SelectAction(ctx, agentID, state, n)
	if err != nil {
		return TaskSelection{}, err
	}
	return TaskSelection{Selection: sel, State: state, ActionCount: n}, nil
}

// TaskLearnResult is a LearnResult for a task execution.
type TaskLearnResult struct {
	*LearnResult
	State     models.StateKey
	NextState models.StateKey
}

// LearnFromTask computes the reward of an execution with the agent's reward
// function and learns from the resulting transition. The next state is the
// encoded result.NextContext when given, otherwise the task context with
// its coverage replaced by the coverage after execution. A done result has
// no next state.
func (s *Service) LearnFromTask(ctx context.Context, agentID string, task models.TaskContext, result models.ExecutionResult) (TaskLearnResult, error) {
	if agentID == "" {
		return TaskLearnResult{}, fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}
	p, err := s.profile(ctx, agentID, true)
	if err != nil {
		return TaskLearnResult{}, err
	}

	state := p.Encoder.Encode(task)
	tr := Transition{
		State:       state,
		Action:      result.Action,
		ActionCount: p.Actions.ActionCount(task.TaskType()),
		Reward:      p.Reward.Calculate(result),
		Done:        result.Done,
	}
	if !result.Done {
		tr.NextState = p.Encoder.Encode(nextContext(task, result))
	}

	res, err := s.Learn(ctx, agentID, tr)
	if err != nil {
		return TaskLearnResult{State: state, NextState: tr.NextState}, err
	}
	return TaskLearnResult{LearnResult: res, State: state, NextState: tr.NextState}, nil
}

func nextContext(task models.TaskContext, result models.ExecutionResult) models.TaskContext {
	if result.NextContext != nil {
		return result.NextContext
	}
	return task.With(models.ContextCoverage, result.CoverageAfter)
}
