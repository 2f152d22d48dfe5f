package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/embedding"
	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/internal/llm"
	"github.com/intelliquery/intent-agent/internal/mapper"
	"github.com/intelliquery/intent-agent/internal/middleware/validation"
	"github.com/intelliquery/intent-agent/internal/pipeline"
	"github.com/intelliquery/intent-agent/internal/registry"
	"github.com/intelliquery/intent-agent/internal/storage/models"
	"github.com/intelliquery/intent-agent/pkg/apperror"
)

type fakeIndex struct {
	gen *registry.Generation
}

func (f *fakeIndex) Current() *registry.Generation { return f.gen }
func (f *fakeIndex) Embedder() embedding.Embedder  { return embedding.NewHashEmbedder(32) }
func (f *fakeIndex) BackendName() string           { return "memory" }

type fakeReloader struct {
	gen *registry.Generation
	err error
}

func (f fakeReloader) Reload(context.Context) (*registry.Generation, error) { return f.gen, f.err }

type fakeStore struct {
	records  []models.IntentRequest
	feedback []models.Feedback
}

func (s *fakeStore) GetRecentRequests(_ context.Context, limit int) ([]models.IntentRequest, error) {
	if limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

func (s *fakeStore) GetRequest(_ context.Context, id string) (*models.IntentRequest, []models.StageResult, error) {
	for _, r := range s.records {
		if r.ID == id {
			return &r, []models.StageResult{{RequestID: id, Stage: pipeline.StageNormalize, Success: true}}, nil
		}
	}
	return nil, nil, apperror.New(apperror.CodeNotFound, "request "+id+" not found")
}

func (s *fakeStore) StoreFeedback(_ context.Context, f *models.Feedback) error {
	s.feedback = append(s.feedback, *f)
	return nil
}

func (s *fakeStore) GetStats(context.Context) (*models.RequestStats, error) {
	return &models.RequestStats{Total: len(s.records)}, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func generation(t *testing.T) *registry.Generation {
	t.Helper()
	snap, err := index.Build(32, nil)
	require.NoError(t, err)
	return &registry.Generation{Version: 4, Catalog: catalog.Default(), Index: snap, Embedder: "hash-32", BuiltAt: time.Now()}
}

func newPipeline(t *testing.T, src pipeline.GenerationSource) *pipeline.Orchestrator {
	t.Helper()
	ex, err := entities.NewPatternExtractor(entities.Config{})
	require.NoError(t, err)
	prompts, err := mapper.LoadPrompts("")
	require.NoError(t, err)
	orch, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Source:    src,
		Extractor: ex,
		Mapper:    mapper.New(nil, prompts, mapper.DefaultConfig()),
	})
	require.NoError(t, err)
	return orch
}

type fixture struct {
	app   *fiber.App
	index *fakeIndex
	store *fakeStore
}

func newFixture(t *testing.T, reloader Reloader) *fixture {
	t.Helper()
	idx := &fakeIndex{gen: generation(t)}
	store := &fakeStore{records: []models.IntentRequest{
		{ID: "req-1", QueryText: "list unpaid invoices", Success: true, IntentType: "read", Workspaces: []string{"finance"}, Confidence: 0.5},
		{ID: "req-2", QueryText: "", ErrorCode: "INVALID_INPUT", Workspaces: []string{}},
	}}

	orch := newPipeline(t, idx)

	app := fiber.New()
	Register(app, Handlers{
		Intent:    NewIntentHandler(orch),
		WebSocket: NewWebSocketHandler(orch),
		System:    NewSystemHandler(idx, reloader, llm.Disabled{}, store),
		History:   NewHistoryHandler(store),
	})
	return &fixture{app: app, index: idx, store: store}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHandleIntent(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, "POST", "/api/intent", `{"query":"Show me sales data from Mumbai for last month","locale":"en-IN"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])

	analysis := body["intent_analysis"].(map[string]any)
	assert.Equal(t, "read", analysis["intent_type"])
	assert.Equal(t, []any{"sales"}, analysis["workspaces"])
	assert.LessOrEqual(t, analysis["confidence"].(float64), 0.5)

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, true, meta["fallback_used"])
	assert.Equal(t, "en-IN", meta["locale"])
	assert.Contains(t, body, "validation")

	status, body = f.do(t, "POST", "/api/v1/intent", `{"query":"list unpaid invoices","include_metadata":false}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.NotContains(t, body, "metadata")
	assert.Contains(t, body, "intent_analysis")
}

func TestHandleIntentAcceptsMarkupInQuery(t *testing.T) {
	orch := newPipeline(t, &fakeIndex{gen: generation(t)})
	app := fiber.New()
	app.Use(validation.Middleware(validation.Config{}))
	Register(app, Handlers{Intent: NewIntentHandler(orch)})
	f := &fixture{app: app}

	queries := []string{
		"list customers whose notes mention onclick= handlers",
		"count tickets containing <script> tags",
		"show leads with javascript: links in the bio",
	}
	for _, q := range queries {
		raw, err := json.Marshal(map[string]string{"query": q})
		require.NoError(t, err)

		status, body := f.do(t, "POST", "/api/intent", string(raw))
		require.Equal(t, fiber.StatusOK, status, q)
		assert.Equal(t, true, body["success"], q)
		assert.Equal(t, q, body["query"], q)
		assert.Contains(t, body, "intent_analysis", q)
	}
}

func TestHandleIntentRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, "POST", "/api/intent", `{"query":"   "}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "INVALID_INPUT", body["error"].(map[string]any)["code"])
	assert.Contains(t, body, "partial")

	status, body = f.do(t, "POST", "/api/intent", `{"query":`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", body["error"].(map[string]any)["code"])
}

func TestHandleValidate(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, "POST", "/api/validate", `{"query":"tell me a joke please"}`)
	require.Equal(t, fiber.StatusOK, status)
	report := body["validation"].(map[string]any)
	assert.Equal(t, false, report["is_valid"])
	assert.NotEmpty(t, report["issues"])
}

func TestHandleValidateIntent(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, "POST", "/api/validate_intent", `{"intent_type":"SELECT","workspaces":["Sales","ghost"],"confidence":"85%"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["violations"])
	assert.NotEmpty(t, body["schema_violations"])
	assert.Equal(t, true, body["repaired_valid"])
	assert.Contains(t, body["repaired_fields"], "workspaces")

	analysis := body["intent_analysis"].(map[string]any)
	assert.Equal(t, "read", analysis["intent_type"])
	assert.Equal(t, []any{"sales"}, analysis["workspaces"])
	assert.InDelta(t, 0.85, analysis["confidence"].(float64), 1e-9)

	status, body = f.do(t, "POST", "/api/validate_intent", `{"intent_type":"read","workspaces":["sales"],"confidence":0.4}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["valid"])
	assert.Empty(t, body["violations"])

	status, _ = f.do(t, "POST", "/api/validate_intent", `["read"]`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandleSchema(t *testing.T) {
	f := newFixture(t, nil)
	status, body := f.do(t, "GET", "/api/schema", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "IntentAnalysis", body["title"])
}

func TestSystemEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, "GET", "/api/status", "")
	require.Equal(t, fiber.StatusOK, status)
	idx := body["index"].(map[string]any)
	assert.Equal(t, true, idx["built"])
	assert.EqualValues(t, 4, idx["version"])
	assert.EqualValues(t, 7, body["catalog"].(map[string]any)["workspace_count"])
	assert.Equal(t, "none", body["provider"].(map[string]any)["name"])
	assert.Equal(t, false, body["provider"].(map[string]any)["enabled"])
	assert.EqualValues(t, 2, body["requests"].(map[string]any)["total"])

	status, _ = f.do(t, "GET", "/api/health", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = f.do(t, "GET", "/api/ready", "")
	assert.Equal(t, fiber.StatusOK, status)

	f.index.gen = nil
	status, body = f.do(t, "GET", "/api/ready", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "not_ready", body["status"])

	status, body = f.do(t, "GET", "/api/status", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["index"].(map[string]any)["built"])
}

func TestHandleReload(t *testing.T) {
	f := newFixture(t, nil)
	status, _ := f.do(t, "POST", "/api/catalog/reload", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	f = newFixture(t, fakeReloader{gen: generation(t)})
	status, body := f.do(t, "POST", "/api/catalog/reload", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 4, body["version"])

	f = newFixture(t, fakeReloader{err: errors.New("bad yaml")})
	status, body = f.do(t, "POST", "/api/catalog/reload", "")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Contains(t, body["error"].(map[string]any)["message"], "bad yaml")
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, "GET", "/api/history?limit=1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, _ = f.do(t, "GET", "/api/history?limit=0", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = f.do(t, "GET", "/api/history/req-1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "req-1", body["request"].(map[string]any)["id"])

	status, _ = f.do(t, "GET", "/api/history/nope", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = f.do(t, "POST", "/api/history/req-1/feedback", `{"correct":false,"expected_intent":"Analyze","expected_workspaces":["finance"]}`)
	assert.Equal(t, fiber.StatusCreated, status)
	require.Len(t, f.store.feedback, 1)
	assert.Equal(t, "analyze", f.store.feedback[0].ExpectedIntent)

	status, _ = f.do(t, "POST", "/api/history/req-1/feedback", `{"expected_intent":"browse"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, "POST", "/api/history/nope/feedback", `{"correct":true}`)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestHistoryDisabled(t *testing.T) {
	app := fiber.New()
	h := NewHistoryHandler(nil)
	app.Get("/api/history", h.GetHistory)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/history", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t, nil)
	status, _ := f.do(t, "GET", "/ws/intent", "")
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	status, _ := f.do(t, "GET", "/metrics", "")
	assert.Equal(t, fiber.StatusOK, status)
}

type recordingWriter struct {
	messages []map[string]any
}

func (w *recordingWriter) WriteJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	w.messages = append(w.messages, m)
	return nil
}

func TestWebSocketStreamsStages(t *testing.T) {
	h := NewWebSocketHandler(newPipeline(t, &fakeIndex{gen: generation(t)}))

	w := &recordingWriter{}
	require.NoError(t, h.handleMessage(context.Background(), w, wsMessage{Type: "query", Query: "list unpaid invoices", RequestID: "ws-1"}))

	require.Len(t, w.messages, len(pipeline.Stages)+1)
	for i, stage := range pipeline.Stages {
		assert.Equal(t, "stage", w.messages[i]["type"])
		assert.Equal(t, "ws-1", w.messages[i]["request_id"])
		assert.Equal(t, stage, w.messages[i]["report"].(map[string]any)["stage"])
	}
	last := w.messages[len(w.messages)-1]
	assert.Equal(t, "result", last["type"])
	assert.Equal(t, true, last["envelope"].(map[string]any)["success"])

	w = &recordingWriter{}
	require.NoError(t, h.handleMessage(context.Background(), w, wsMessage{Type: "ping"}))
	require.NoError(t, h.handleMessage(context.Background(), w, wsMessage{Type: "subscribe"}))
	assert.Equal(t, "pong", w.messages[0]["type"])
	assert.Equal(t, "error", w.messages[1]["type"])
}
