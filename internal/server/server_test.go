package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/ciencia/internal/config"
	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/server/ratelimit"
	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/structure"
	"github.com/jonathan/ciencia/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssistant struct {
	mu          sync.Mutex
	generated   *types.GeneratedScript
	reply       string
	review      *types.ScriptReview
	err         error
	description string
	history     []types.Turn
}

func (f *fakeAssistant) Generate(_ context.Context, description string, history []types.Turn) (*types.GeneratedScript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.description, f.history = description, history
	if strings.TrimSpace(description) == "" {
		return nil, gateway.ErrInputRejected
	}
	return f.generated, f.err
}

func (f *fakeAssistant) Reply(_ context.Context, message string, history []types.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = history
	return f.reply, f.err
}

func (f *fakeAssistant) Review(_ context.Context, _ string) (*types.ScriptReview, error) {
	return f.review, f.err
}

type fakeExecutor struct {
	st     store.Store
	err    error
	params map[string]any
}

func (f *fakeExecutor) Execute(ctx context.Context, id uuid.UUID, params map[string]any) (*types.RunAccepted, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	run, err := f.st.RecordRun(ctx, types.Run{ID: "run-1", PipelineID: id, Status: types.RunStatusRunning})
	if err != nil {
		return nil, err
	}
	return &types.RunAccepted{RunID: run.ID, Status: run.Status, StatusMessage: "started"}, nil
}

type fakeStructures struct{}

func (fakeStructures) SearchGene(_ context.Context, gene string) ([]types.ProteinHit, error) {
	if gene == "NOPE" {
		return nil, structure.ErrGeneNotFound
	}
	if gene == "DOWN" {
		return nil, &structure.StatusError{Code: 500}
	}
	return []types.ProteinHit{{UniprotID: "P04637", GeneName: gene}}, nil
}

func (fakeStructures) Prediction(_ context.Context, id string) (*types.StructurePrediction, error) {
	if id == "MISSING" {
		return nil, structure.ErrNoPrediction
	}
	return &types.StructurePrediction{UniprotID: id, PDBData: "ATOM"}, nil
}

type testEnv struct {
	handler   http.Handler
	store     *store.Memory
	assistant *fakeAssistant
	executor  *fakeExecutor
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	st := store.NewMemory()
	env := &testEnv{
		store:     st,
		assistant: &fakeAssistant{},
		executor:  &fakeExecutor{st: st},
	}
	cfg := Config{Port: 0, RateLimit: &ratelimit.Config{Enabled: false}}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := New(cfg, Deps{Store: st, Assistant: env.assistant, Executor: env.executor, Structures: fakeStructures{}})
	require.NoError(t, err)
	t.Cleanup(srv.rateLimiter.Stop)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) seedPipeline(t *testing.T) (*types.Project, *types.Pipeline) {
	t.Helper()
	ctx := context.Background()
	project, err := e.store.CreateProject(ctx, "RNA-seq", "")
	require.NoError(t, err)
	pipeline, err := e.store.CreatePipeline(ctx, project.ID, "align", "workflow {}")
	require.NoError(t, err)
	return project, pipeline
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodOptions, "/pipelines/x", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestProjects(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = env.do(t, http.MethodPost, "/projects", types.CreateProjectRequest{Name: "Proteomics", Description: "LC-MS"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeJSON[types.Project](t, w)
	assert.Equal(t, "Proteomics", created.Name)

	w = env.do(t, http.MethodGet, "/projects/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decodeJSON[types.Project](t, w).ID)

	w = env.do(t, http.MethodDelete, "/projects/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/projects/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(store.NotFound), decodeJSON[ErrorBody](t, w).Kind)
}

func TestCreateProject_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", types.CreateProjectRequest{}},
		{"invalid json", `{"name":`},
		{"empty body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/projects", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decodeJSON[ErrorBody](t, w).Error)
		})
	}
}

func TestInvalidID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/pipelines/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPipelines(t *testing.T) {
	env := newTestEnv(t)
	project, _ := env.seedPipeline(t)
	base := "/projects/" + project.ID.String() + "/pipelines"

	w := env.do(t, http.MethodPost, base, types.CreatePipelineRequest{Name: "variant-calling"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeJSON[types.Pipeline](t, w)
	assert.Equal(t, store.TemplateScript, created.Script)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, types.PipelineStatusDraft, created.Status)

	w = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeJSON[[]types.Pipeline](t, w), 2)

	w = env.do(t, http.MethodGet, "/projects/"+uuid.NewString()+"/pipelines", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSavePipeline(t *testing.T) {
	env := newTestEnv(t)
	_, pipeline := env.seedPipeline(t)
	path := "/pipelines/" + pipeline.ID.String()

	w := env.do(t, http.MethodPut, path, types.SavePipelineRequest{Script: script("workflow { A() }"), Version: 1})
	require.Equal(t, http.StatusOK, w.Code)
	saved := decodeJSON[types.Pipeline](t, w)
	assert.Equal(t, int64(2), saved.Version)
	assert.Equal(t, "workflow { A() }", saved.Script)

	w = env.do(t, http.MethodPut, path, types.SavePipelineRequest{Script: script("workflow { B() }"), Version: 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(store.Conflict), decodeJSON[ErrorBody](t, w).Kind)

	w = env.do(t, http.MethodPut, path, types.SavePipelineRequest{Script: script("workflow { C() }")})
	require.Equal(t, http.StatusOK, w.Code, "version omitted saves unconditionally")
	assert.Equal(t, int64(3), decodeJSON[types.Pipeline](t, w).Version)

	w = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "workflow { C() }", decodeJSON[types.Pipeline](t, w).Script)

	w = env.do(t, http.MethodPut, "/pipelines/"+uuid.NewString(), types.SavePipelineRequest{Script: script("x")})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPut, path, types.SavePipelineRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "neither script nor name")
}

func script(s string) *string { return &s }

func TestSavePipeline_EmptyScript(t *testing.T) {
	env := newTestEnv(t)
	_, pipeline := env.seedPipeline(t)
	path := "/pipelines/" + pipeline.ID.String()

	w := env.do(t, http.MethodPut, path, types.SavePipelineRequest{Script: script(""), Version: pipeline.Version})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decodeJSON[types.Pipeline](t, w)
	assert.Empty(t, saved.Script)
	assert.Equal(t, pipeline.Version+1, saved.Version)
}

func TestSavePipeline_Rename(t *testing.T) {
	env := newTestEnv(t)
	_, pipeline := env.seedPipeline(t)
	path := "/pipelines/" + pipeline.ID.String()

	w := env.do(t, http.MethodPut, path, types.SavePipelineRequest{Name: "align-v2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	renamed := decodeJSON[types.Pipeline](t, w)
	assert.Equal(t, "align-v2", renamed.Name)
	assert.Equal(t, pipeline.Script, renamed.Script, "rename leaves the script alone")
	assert.Equal(t, pipeline.Version, renamed.Version)

	w = env.do(t, http.MethodPut, path, types.SavePipelineRequest{Script: script("workflow { R() }"), Name: "align-v3"})
	require.Equal(t, http.StatusOK, w.Code)
	both := decodeJSON[types.Pipeline](t, w)
	assert.Equal(t, "align-v3", both.Name)
	assert.Equal(t, "workflow { R() }", both.Script)

	w = env.do(t, http.MethodPut, path, types.SavePipelineRequest{Script: script("x"), Name: "stale", Version: 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "align-v3", decodeJSON[types.Pipeline](t, w).Name, "a conflicting save does not rename")
}

func TestExecutePipeline(t *testing.T) {
	env := newTestEnv(t)
	_, pipeline := env.seedPipeline(t)
	path := "/pipelines/" + pipeline.ID.String()

	w := env.do(t, http.MethodPost, path+"/execute", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	accepted := decodeJSON[types.RunAccepted](t, w)
	assert.Equal(t, "run-1", accepted.RunID)
	assert.Nil(t, env.executor.params)

	w = env.do(t, http.MethodPost, path+"/execute", types.ExecuteRequest{Params: map[string]any{"reads": "*.fq"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "*.fq", env.executor.params["reads"])

	w = env.do(t, http.MethodGet, path+"/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeJSON[[]types.Run](t, w), 1, "the same run ID is recorded once")

	w = env.do(t, http.MethodGet, "/runs/run-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.RunStatusRunning, decodeJSON[types.Run](t, w).Status)
}

func TestExecutePipeline_Failures(t *testing.T) {
	env := newTestEnv(t)
	_, pipeline := env.seedPipeline(t)
	path := "/pipelines/" + pipeline.ID.String() + "/execute"

	failure := gateway.Unavailable("execute", assert.AnError)
	failure.RunID = "run-9"
	env.executor.err = failure
	w := env.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeJSON[ErrorBody](t, w)
	assert.Equal(t, "run-9", body.RunID)
	assert.Equal(t, string(gateway.BackendUnavailable), body.Kind)

	env.executor.err = gateway.Rejected("execute", http.StatusNotFound, "pipeline not found")
	w = env.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, path, `{"params": 3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordRun_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	_, pipeline := env.seedPipeline(t)
	path := "/pipelines/" + pipeline.ID.String() + "/runs"

	w := env.do(t, http.MethodPost, path, types.RecordRunRequest{RunID: "ext-1", Status: types.RunStatusCompleted})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, path, types.RecordRunRequest{RunID: "ext-1", Status: types.RunStatusFailed})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, types.RunStatusCompleted, decodeJSON[types.Run](t, w).Status)

	w = env.do(t, http.MethodPost, path, types.RecordRunRequest{RunID: "ext-2", Status: "exploded"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.assistant.reply = "Use fastp for trimming."
	env.assistant.generated = &types.GeneratedScript{Script: "workflow {}", Explanation: "minimal"}
	env.assistant.review = &types.ScriptReview{Valid: true, Issues: []string{}, Suggestions: []string{}}

	w := env.do(t, http.MethodPost, "/chat/message", types.ChatRequest{
		Message: "How do I trim reads?",
		Context: []types.Turn{{Role: types.RoleUser, Content: "hi"}, {Role: types.RoleAssistant, Content: "hello"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.ChatResponse{Response: "Use fastp for trimming.", Success: true}, decodeJSON[types.ChatResponse](t, w))
	assert.Len(t, env.assistant.history, 2)

	w = env.do(t, http.MethodPost, "/chat/generate-pipeline", types.GenerateRequest{Description: "align reads", ExperimentType: "RNA-seq"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "workflow {}", decodeJSON[types.GenerateResponse](t, w).Script)
	assert.Contains(t, env.assistant.description, "Experiment type: RNA-seq")

	w = env.do(t, http.MethodPost, "/chat/validate-script", types.ValidateScriptRequest{Script: "workflow {}"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeJSON[types.ScriptReview](t, w).Valid)
}

func TestChatRoutes_Failures(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/chat/generate-pipeline", types.GenerateRequest{Description: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "input_rejected", decodeJSON[ErrorBody](t, w).Kind)

	w = env.do(t, http.MethodPost, "/chat/message", types.ChatRequest{
		Message: "hi", Context: []types.Turn{{Role: "system", Content: "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown roles are rejected")

	env.assistant.err = gateway.Malformed("generate", "response has no script")
	w = env.do(t, http.MethodPost, "/chat/generate-pipeline", types.GenerateRequest{Description: "align"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(gateway.MalformedResponse), decodeJSON[ErrorBody](t, w).Kind)

	env.assistant.err = gateway.Unavailable("chat", context.DeadlineExceeded)
	w = env.do(t, http.MethodPost, "/chat/message", types.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUnconfiguredBackends(t *testing.T) {
	srv, err := New(Config{RateLimit: &ratelimit.Config{}}, Deps{Store: store.NewMemory()})
	require.NoError(t, err)
	defer srv.rateLimiter.Stop()

	for _, path := range []string{"/chat/message", "/alphafold/search", "/pipelines/" + uuid.NewString() + "/execute"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestStructureRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/alphafold/search", types.StructureSearchRequest{GeneName: "TP53"})
	require.Equal(t, http.StatusOK, w.Code)
	search := decodeJSON[types.StructureSearchResponse](t, w)
	assert.True(t, search.Success)
	assert.Len(t, search.Results, 1)

	w = env.do(t, http.MethodPost, "/alphafold/search", types.StructureSearchRequest{GeneName: "NOPE"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeJSON[types.StructureSearchResponse](t, w).Success)

	w = env.do(t, http.MethodPost, "/alphafold/search", types.StructureSearchRequest{GeneName: "DOWN"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = env.do(t, http.MethodPost, "/alphafold/prediction", types.StructurePredictionRequest{UniprotID: "Q5VSL9"})
	require.Equal(t, http.StatusOK, w.Code)
	pred := decodeJSON[types.StructurePredictionResponse](t, w)
	assert.True(t, pred.Success)
	assert.Equal(t, "ATOM", pred.PDBData)

	w = env.do(t, http.MethodPost, "/alphafold/prediction", types.StructurePredictionRequest{UniprotID: "MISSING"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeJSON[types.StructurePredictionResponse](t, w).Success)

	w = env.do(t, http.MethodPost, "/alphafold/prediction", types.StructurePredictionRequest{UniprotID: "../etc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth(t *testing.T) {
	jwtService := NewJWTService(&config.JWTConfig{Secret: testSecret, ExpirationHours: 1})
	env := newTestEnv(t, func(c *Config) { c.JWT = jwtService })

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health stays public")

	w = env.do(t, http.MethodGet, "/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jwtService.GenerateToken("bench")
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/projects", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = &ratelimit.Config{
			Enabled: true, DefaultLimit: 2, DefaultWindow: time.Hour,
		}
	})

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodGet, "/projects", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := env.do(t, http.MethodGet, "/projects", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	body := decodeJSON[map[string]any](t, w)
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServe_GracefulShutdown(t *testing.T) {
	srv, err := New(Config{ShutdownTimeout: time.Second}, Deps{Store: store.NewMemory()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
