package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ShayCichocki/qlearn/internal/learning"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// RegisterRequest registers an agent.
type RegisterRequest struct {
	AgentID  string `json:"agent_id" binding:"required"`
	Category string `json:"category"`
}

// SelectRequest asks for an action for a task.
type SelectRequest struct {
	AgentID string             `json:"agent_id" binding:"required"`
	Task    models.TaskContext `json:"task" binding:"required"`
}

// SelectResponse is the chosen action.
type SelectResponse struct {
	Action   int             `json:"action"`
	Explored bool            `json:"explored"`
	Source   learning.Source `json:"source"`
	State    models.StateKey `json:"state"`
	Epsilon  float64         `json:"epsilon"`
	Degraded bool            `json:"degraded,omitempty"`
}

// ExecutionResult is the wire form of models.ExecutionResult with the
// execution time in milliseconds.
type ExecutionResult struct {
	Action          int                `json:"action" binding:"gte=0"`
	Failed          bool               `json:"failed"`
	CoverageBefore  float64            `json:"coverage_before"`
	CoverageAfter   float64            `json:"coverage_after"`
	BugsFound       int                `json:"bugs_found"`
	FalsePositives  int                `json:"false_positives"`
	EdgeCases       int                `json:"edge_cases"`
	ExecutionTimeMS float64            `json:"execution_time_ms"`
	PatternsReused  int                `json:"patterns_reused"`
	Cost            float64            `json:"cost"`
	Improvement     float64            `json:"improvement"`
	Done            bool               `json:"done"`
	NextContext     models.TaskContext `json:"next_context,omitempty"`
}

func (r ExecutionResult) model() models.ExecutionResult {
	return models.ExecutionResult{
		Action:         r.Action,
		Failed:         r.Failed,
		CoverageBefore: r.CoverageBefore,
		CoverageAfter:  r.CoverageAfter,
		BugsFound:      r.BugsFound,
		FalsePositives: r.FalsePositives,
		EdgeCases:      r.EdgeCases,
		ExecutionTime:  time.Duration(r.ExecutionTimeMS * float64(time.Millisecond)),
		PatternsReused: r.PatternsReused,
		Cost:           r.Cost,
		Improvement:    r.Improvement,
		Done:           r.Done,
		NextContext:    r.NextContext,
	}
}

// LearnRequest reports the outcome of an executed action.
type LearnRequest struct {
	AgentID string             `json:"agent_id" binding:"required"`
	Task    models.TaskContext `json:"task" binding:"required"`
	Result  ExecutionResult    `json:"result"`
}

// LearnResponse describes the applied update.
type LearnResponse struct {
	Applied   bool            `json:"applied"`
	Reward    float64         `json:"reward"`
	Value     float64         `json:"value"`
	Version   int64           `json:"version"`
	Epsilon   float64         `json:"epsilon"`
	State     models.StateKey `json:"state"`
	NextState models.StateKey `json:"next_state,omitempty"`
}

// ReplayRequest asks for a replay batch.
type ReplayRequest struct {
	BatchSize int `json:"batch_size" binding:"required,gte=1,lte=10000"`
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) registerAgent(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	a, err := s.deps.Learner.RegisterAgent(c.Request.Context(), learning.AgentProfile{ID: req.AgentID, Category: req.Category})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.deps.Learner.ListAgents(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) selectAction(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sel, err := s.deps.Learner.SelectForTask(c.Request.Context(), req.AgentID, req.Task)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SelectResponse{
		Action:   sel.Action,
		Explored: sel.Explored,
		Source:   sel.Source,
		State:    sel.State,
		Epsilon:  sel.Epsilon,
		Degraded: sel.Degraded,
	})
}

func (s *Server) learn(c *gin.Context) {
	var req LearnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.deps.Learner.LearnFromTask(c.Request.Context(), req.AgentID, req.Task, req.Result.model())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, LearnResponse{
		Applied:   true,
		Reward:    res.Reward,
		Value:     res.Entry.Value,
		Version:   res.Entry.Version,
		Epsilon:   res.Epsilon,
		State:     res.State,
		NextState: res.NextState,
	})
}

func (s *Server) replay(c *gin.Context) {
	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.deps.Learner.Replay(c.Request.Context(), c.Param("id"), req.BatchSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sampled": res.Sampled, "applied": res.Applied, "dropped": res.Dropped})
}

func (s *Server) epsilon(c *gin.Context) {
	id := c.Param("id")
	eps, err := s.deps.Epsilon.Peek(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "epsilon": eps})
}

func (s *Server) qvalues(c *gin.Context) {
	scope, err := models.ParseScope(c.DefaultQuery("scope", "fleet"))
	if err != nil {
		badRequest(c, err)
		return
	}
	state := c.Query("state")
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
		return
	}

	entries, err := s.deps.QValues.Entries(c.Request.Context(), scope, models.StateKey(state))
	if err != nil {
		s.fail(c, err)
		return
	}
	if entries == nil {
		entries = []models.QValueEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"scope": scope.String(), "state": state, "entries": entries})
}

func (s *Server) aggregate(c *gin.Context) {
	report, err := s.deps.Aggregator.RunOnce(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"categories":      report.Categories,
		"category_writes": report.CategoryWrites,
		"fleet_writes":    report.FleetWrites,
		"dropped":         report.Dropped,
		"duration_ms":     report.Duration.Milliseconds(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// fail maps learning errors onto status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, learning.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, learning.ErrConcurrencyExceeded):
		status = http.StatusConflict
	case errors.Is(err, learning.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
