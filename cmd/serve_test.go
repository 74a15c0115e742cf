package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/proethica/ontextract/internal/config"
	"github.com/proethica/ontextract/internal/extraction"
	"github.com/proethica/ontextract/internal/graph"
	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/pipeline"
	"github.com/proethica/ontextract/internal/provenance"
	"github.com/proethica/ontextract/internal/schema"
	"github.com/proethica/ontextract/internal/store"
	"github.com/proethica/ontextract/pkg/graphstore"
	"github.com/proethica/ontextract/pkg/llm"
	llmmocks "github.com/proethica/ontextract/pkg/llm/mocks"
	ontmocks "github.com/proethica/ontextract/pkg/ontology/mocks"
)

func testServerConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			HaikuModel:  "claude-haiku-test",
			SonnetModel: "claude-sonnet-test",
			OpusModel:   "claude-opus-test",
		},
		Extraction: config.ExtractionConfig{
			MaxExistingEntities: 20,
			DefinitionTruncate:  150,
			RetryAttempts:       1,
			AgentID:             "ontextract-test",
		},
		Versioning: config.VersioningConfig{
			Workflow:             "concept_extraction",
			Environment:          "development",
			MinRunsForProduction: 3,
			MinTrialVersions:     2,
			DevExpiryHours:       168,
		},
		Server: config.ServerConfig{Port: 8080},
	}
}

func newTestEnv(t *testing.T) (*appEnv, *llmmocks.MockClient) {
	t.Helper()

	cfg = testServerConfig()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	templates, err := extraction.NewTemplateStore()
	require.NoError(t, err)

	llmMock := llmmocks.NewMockClient(t)
	ontMock := ontmocks.NewMockClient(t)
	ontMock.On("GetEntitiesByCategory", mock.Anything, mock.AnythingOfType("string")).
		Return(nil, nil).Maybe()

	registry := schema.NewRegistry()
	tracker := provenance.NewTracker(st, cfg.Extraction.AgentID)
	versions := provenance.NewManager(st, cfg.Versioning)
	sink := graphstore.NewLogSink()

	env := &appEnv{
		Store:     st,
		LLM:       llmMock,
		Catalogue: ontMock,
		Registry:  registry,
		Templates: templates,
		Tracker:   tracker,
		Versions:  versions,
		Sink:      sink,
	}
	env.Pipeline = pipeline.New(pipeline.Deps{
		Config:    cfg,
		Store:     st,
		LLM:       llmMock,
		Catalogue: ontMock,
		Registry:  registry,
		Templates: templates,
		Tracker:   tracker,
		Versions:  versions,
		Converter: graph.NewConverter(registry, cfg.Extraction.AgentID),
		Sink:      sink,
	})
	return env, llmMock
}

// answerEveryConcept replies to any prompt with one class for whichever
// concept's response fields the prompt names.
func answerEveryConcept(t *testing.T) func(context.Context, llm.MessageRequest) (*llm.MessageResponse, error) {
	t.Helper()
	registry := schema.NewRegistry()

	return func(_ context.Context, req llm.MessageRequest) (*llm.MessageResponse, error) {
		prompt := req.Messages[0].Content
		for _, concept := range model.AllConceptTypes() {
			spec, err := registry.Spec(concept)
			require.NoError(t, err)
			if !strings.Contains(prompt, spec.ClassesField) {
				continue
			}
			body := fmt.Sprintf(
				`{"%s": [{"label": "Sample %s", "definition": "A sample %s definition.", "confidence": 0.9}], "%s": []}`,
				spec.ClassesField, concept, concept, spec.IndividualsField,
			)
			return &llm.MessageResponse{
				Content:    []llm.ContentBlock{{Type: "text", Text: body}},
				StopReason: "end_turn",
				Usage:      llm.TokenUsage{InputTokens: 100, OutputTokens: 50},
			}, nil
		}
		t.Fatalf("prompt does not name a known response field")
		return nil, nil
	}
}

func TestHealthEndpoint(t *testing.T) {
	env, _ := newTestEnv(t)
	router := newRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestExtractEndpointValidation(t *testing.T) {
	env, _ := newTestEnv(t)
	router := newRouter(env)

	tests := []struct {
		name string
		body string
	}{
		{"malformed body", `{not json`},
		{"unknown concept", `{"concept": "widgets", "text": "some text"}`},
		{"missing text", `{"concept": "roles"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(tt.body))
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestExtractEndpoint(t *testing.T) {
	env, llmMock := newTestEnv(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(answerEveryConcept(t))
	router := newRouter(env)

	body := `{"concept": "roles", "case_id": 252, "text": "The engineer disclosed a conflict of interest."}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"label":"Sample roles"`)
	assert.Contains(t, rec.Body.String(), `"section":"facts"`, "section defaults to the concept's pass section")
}

func TestPipelineEndpointRequiresSections(t *testing.T) {
	env, _ := newTestEnv(t)
	router := newRouter(env)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pipeline", strings.NewReader(`{"case_id": 1}`))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sections are required")
}

func TestPipelineEndpoint(t *testing.T) {
	env, llmMock := newTestEnv(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(answerEveryConcept(t))
	router := newRouter(env)

	body := `{"case_id": 252, "sections": {"facts": "The engineer disclosed.", "discussion": "Disclosure is required."}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pipeline", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_classes":9`)
}

func TestPipelineStreamEmitsProgressEvents(t *testing.T) {
	env, llmMock := newTestEnv(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(answerEveryConcept(t))
	router := newRouter(env)

	body := `{"case_id": 7, "sections": {"facts": "The engineer disclosed.", "discussion": "Disclosure is required."}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pipeline/stream", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 9, strings.Count(rec.Body.String(), "event: progress"))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: result"))
}

func TestListActivitiesEndpoint(t *testing.T) {
	env, llmMock := newTestEnv(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(answerEveryConcept(t))
	router := newRouter(env)

	body := `{"case_id": 42, "sections": {"facts": "The engineer disclosed.", "discussion": "Disclosure is required."}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pipeline", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/provenance/activities?case_id=42&status=completed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 9, strings.Count(rec.Body.String(), `"status":"completed"`))
}

func TestListVersionsEndpoint(t *testing.T) {
	env, _ := newTestEnv(t)
	_, err := env.Versions.EnsureVersion(context.Background())
	require.NoError(t, err)
	router := newRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/provenance/versions?env=development", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version_number":"0.1.0"`)
}

func TestPromoteEndpointEnforcesMinRuns(t *testing.T) {
	env, _ := newTestEnv(t)
	vc, err := env.Versions.EnsureVersion(context.Background())
	require.NoError(t, err)
	router := newRouter(env)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/provenance/versions/"+vc.VersionID+"/promote", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "need 3 for production")
}
