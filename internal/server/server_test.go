package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/qlearn/internal/learning"
	"github.com/ShayCichocki/qlearn/internal/store"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	srv     *Server
	svc     *learning.Service
	qvalues *learning.QValueStore
	db      *store.DB
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	db, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	metrics := learning.NewMetrics(reg)

	strategy, err := learning.NewEpsilonStrategy(learning.DefaultEpsilonConfig())
	require.NoError(t, err)
	qv := learning.NewQValueStore(db, learning.WithQValueMetrics(metrics))
	eps := learning.NewEpsilonTracker(db, strategy)
	rb, err := learning.NewReplayBuffer(db, 100, learning.UniformReplay)
	require.NoError(t, err)

	svc, err := learning.NewService(qv, eps, rb, db, learning.DefaultServiceConfig(),
		learning.WithMetrics(metrics), learning.WithRand(learning.Seeded(1)))
	require.NoError(t, err)

	agg, err := learning.NewAggregator(qv, db, db, learning.DefaultAggregatorConfig(), learning.WithAggregatorMetrics(metrics))
	require.NoError(t, err)

	srv := New(Deps{
		Learner:    svc,
		QValues:    qv,
		Epsilon:    eps,
		Aggregator: agg,
		Store:      db,
		Gatherer:   reg,
	})
	return &testServer{srv: srv, svc: svc, qvalues: qv, db: db}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

var sampleTask = map[string]any{
	"taskType":   "test_gen",
	"complexity": 25,
	"coverage":   0.82,
	"framework":  "pytest",
}

func TestHealthz(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestRegisterAndListAgents(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodPost, "/v1/agents", RegisterRequest{AgentID: "agent-1", Category: "unit"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	a := decode[models.Agent](t, w)
	assert.Equal(t, "agent-1", a.ID)
	assert.Equal(t, "unit", a.Category)

	w = ts.do(t, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Agents []models.Agent `json:"agents"`
	}](t, w)
	require.Len(t, list.Agents, 1)
	assert.Equal(t, "agent-1", list.Agents[0].ID)
}

func TestRegisterAgent_Validation(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodPost, "/v1/agents", map[string]string{"category": "unit"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/agents", RegisterRequest{AgentID: "bad:id"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelect(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodPost, "/v1/select", map[string]any{"agent_id": "agent-1", "task": sampleTask})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[SelectResponse](t, w)
	assert.Equal(t, models.StateKey("test_gen_complexity_high_coverage_high_pytest"), resp.State)
	assert.GreaterOrEqual(t, resp.Action, 0)
	assert.Less(t, resp.Action, 4)
	assert.InDelta(t, 0.3, resp.Epsilon, 1e-12)
}

func TestSelect_MissingTask(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodPost, "/v1/select", map[string]any{"agent_id": "agent-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLearn(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodPost, "/v1/learn", map[string]any{
		"agent_id": "agent-1",
		"task":     sampleTask,
		"result": map[string]any{
			"action":            1,
			"coverage_before":   0.82,
			"coverage_after":    0.95,
			"execution_time_ms": 500,
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[LearnResponse](t, w)
	assert.True(t, resp.Applied)
	assert.Equal(t, int64(1), resp.Version)
	assert.Equal(t, models.StateKey("test_gen_complexity_high_coverage_full_pytest"), resp.NextState)
	assert.InDelta(t, 0.1*resp.Reward, resp.Value, 1e-9)
	assert.InDelta(t, 0.2985, resp.Epsilon, 1e-12)

	w = ts.do(t, http.MethodGet, "/v1/qvalues?scope=individual:agent-1&state=test_gen_complexity_high_coverage_high_pytest", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := decode[struct {
		Entries []models.QValueEntry `json:"entries"`
	}](t, w)
	require.Len(t, q.Entries, 1)
	assert.Equal(t, 1, q.Entries[0].Action)
}

func TestLearn_InvalidAction(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodPost, "/v1/learn", map[string]any{
		"agent_id": "agent-1",
		"task":     sampleTask,
		"result":   map[string]any{"action": 9},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplayAndEpsilon(t *testing.T) {
	ts := setupServer(t)

	for i := 0; i < 3; i++ {
		w := ts.do(t, http.MethodPost, "/v1/learn", map[string]any{
			"agent_id": "agent-1",
			"task":     sampleTask,
			"result":   map[string]any{"action": 0, "done": true, "execution_time_ms": 100},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := ts.do(t, http.MethodGet, "/v1/agents/agent-1/epsilon", nil)
	require.Equal(t, http.StatusOK, w.Code)
	before := decode[map[string]any](t, w)["epsilon"]

	w = ts.do(t, http.MethodPost, "/v1/agents/agent-1/replay", ReplayRequest{BatchSize: 8})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[map[string]int](t, w)
	assert.Equal(t, 3, res["sampled"])
	assert.Equal(t, 3, res["applied"])

	w = ts.do(t, http.MethodGet, "/v1/agents/agent-1/epsilon", nil)
	assert.Equal(t, before, decode[map[string]any](t, w)["epsilon"])

	w = ts.do(t, http.MethodPost, "/v1/agents/agent-1/replay", ReplayRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEpsilon_UnknownAgentIsReadOnly(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodGet, "/v1/agents/ghost/epsilon", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.3, decode[map[string]any](t, w)["epsilon"], 1e-12)

	_, err := ts.db.GetEpsilon(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQValues_Validation(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodGet, "/v1/qvalues?scope=galaxy:x&state=s", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/qvalues?scope=fleet", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/qvalues?state=unknown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entries":[]`)
}

func TestAggregate(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()

	_, err := ts.svc.RegisterAgent(ctx, learning.AgentProfile{ID: "agent-1", Category: "unit"})
	require.NoError(t, err)
	_, err = ts.qvalues.Set(ctx, models.Individual("agent-1"), "s", 0, 4)
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/v1/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	report := decode[map[string]float64](t, w)
	assert.Equal(t, 1.0, report["category_writes"])
	assert.Equal(t, 1.0, report["fleet_writes"])

	v, _, err := ts.qvalues.Get(ctx, models.Fleet(), "s", 0)
	require.NoError(t, err)
	assert.InDelta(t, 4, v, 1e-9)
}

func TestMetrics(t *testing.T) {
	ts := setupServer(t)

	ts.do(t, http.MethodPost, "/v1/select", map[string]any{"agent_id": "agent-1", "task": sampleTask})

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "qlearn_selections_total")
}
