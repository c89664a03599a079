package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/arbiter/internal/analyzer"
	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/evaluation"
	"github.com/signalnine/arbiter/internal/orchestrator"
	"github.com/signalnine/arbiter/internal/server"
	"github.com/signalnine/arbiter/internal/task"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T) (http.Handler, *orchestrator.Orchestrator) {
	t.Helper()
	tk := &task.Task{
		ID:   "landmarks",
		Name: "Landmarks",
		Categories: []task.Category{
			{ID: "structure", Weight: 10, Scorer: config.ScorerRule, Rule: config.RuleRequiredPatterns, Patterns: []string{"<main>"}},
		},
		Participants: []task.Participant{{ID: "a"}, {ID: "b"}},
		Rules:        artifact.Rules{AllowedExtensions: []string{"html"}},
	}
	o := orchestrator.New(context.Background(),
		config.Engine{MaxConcurrentEvaluations: 2, Deadline: time.Minute, ScoringWorkers: 1},
		task.NewCatalog(tk), analyzer.New())
	t.Cleanup(func() { o.Close() })
	return server.New(o).Handler(), o
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) *evaluation.Snapshot {
	t.Helper()
	var s evaluation.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s), w.Body.String())
	return &s
}

func TestEvaluationFlow(t *testing.T) {
	h, o := setup(t)

	w := do(h, http.MethodPost, "/evaluations", `{"task_id":"landmarks"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w).ID

	w = do(h, http.MethodGet, "/evaluations/"+id+"/report", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	for _, a := range []string{"a", "b"} {
		w = do(h, http.MethodPost, "/evaluations/"+id+"/results",
			`{"agent_id":"`+a+`","artifacts":[{"name":"index.html","content":"<main>`+a+`</main>"}]}`)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := o.Wait(ctx, id)
	require.NoError(t, err)

	w = do(h, http.MethodGet, "/evaluations/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, evaluation.StatusCompleted, decode(t, w).Status)

	w = do(h, http.MethodGet, "/evaluations/"+id+"/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, w.Body.String(), "🥇")

	w = do(h, http.MethodGet, "/evaluations/"+id+"/report?format=json", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rankings"`)

	w = do(h, http.MethodGet, "/evaluations/"+id+"/report?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, http.MethodPost, "/evaluations/"+id+"/reset", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEqual(t, id, decode(t, w).ID)

	w = do(h, http.MethodGet, "/evaluations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []evaluation.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)
}

func TestErrorMapping(t *testing.T) {
	h, _ := setup(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing task id", http.MethodPost, "/evaluations", `{}`, http.StatusBadRequest},
		{"unknown task", http.MethodPost, "/evaluations", `{"task_id":"nope"}`, http.StatusNotFound},
		{"unknown agent", http.MethodPost, "/evaluations", `{"task_id":"landmarks","agent_ids":["z"]}`, http.StatusBadRequest},
		{"unknown evaluation", http.MethodGet, "/evaluations/eval-x", "", http.StatusNotFound},
		{"submit to unknown evaluation", http.MethodPost, "/evaluations/eval-x/results", `{"agent_id":"a","artifacts":[{"name":"a.html","content":"x"}]}`, http.StatusNotFound},
		{"cancel unknown", http.MethodPost, "/evaluations/eval-x/cancel", "", http.StatusNotFound},
		{"unknown task lookup", http.MethodGet, "/tasks/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestSubmitRejected(t *testing.T) {
	h, _ := setup(t)
	w := do(h, http.MethodPost, "/evaluations", `{"task_id":"landmarks","agent_ids":["a"]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w).ID

	w = do(h, http.MethodPost, "/evaluations/"+id+"/results", `{"agent_id":"a","artifacts":[{"name":"run.sh","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "artifacts[0]", resp["field"])

	w = do(h, http.MethodPost, "/evaluations/"+id+"/results", `{"agent_id":"b","artifacts":[{"name":"a.html","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "b is not part of this evaluation")

	w = do(h, http.MethodPost, "/evaluations/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, evaluation.StatusFailed, decode(t, w).Status)
	w = do(h, http.MethodPost, "/evaluations/"+id+"/cancel", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTasksAndHealth(t *testing.T) {
	h, _ := setup(t)
	w := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(h, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "landmarks", tasks[0]["id"])

	w = do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arbiter_evaluations_started_total")
}

func TestCreateTask(t *testing.T) {
	h, _ := setup(t)
	body := `{
		"id": "footer",
		"name": "Footer",
		"categories": [{"id": "semantic", "weight": 100, "rule": "required_patterns", "patterns": ["<footer>"]}],
		"participants": [{"id": "a"}],
		"artifacts": {"allowed_extensions": ["html"]}
	}`
	w := do(h, http.MethodPost, "/tasks", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(h, http.MethodGet, "/tasks/footer", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scorer":"rule"`)

	w = do(h, http.MethodPost, "/evaluations", `{"task_id":"footer"}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	tests := []struct {
		name string
		body string
	}{
		{"duplicate id", body},
		{"zero weight", `{"id":"z","categories":[{"id":"c","weight":0,"rule":"code_organization"}]}`},
		{"unknown rule", `{"id":"r","categories":[{"id":"c","weight":1,"rule":"vibes"}]}`},
		{"unreadable baseline", `{"id":"b","baseline":{"dir":"/does/not/exist"},"categories":[{"id":"c","weight":1,"scorer":"judge"}]}`},
		{"malformed", `{"id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodPost, "/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}
