package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/proethica/ontextract/internal/config"
	"github.com/proethica/ontextract/internal/cost"
	"github.com/proethica/ontextract/internal/extraction"
	"github.com/proethica/ontextract/internal/graph"
	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/provenance"
	"github.com/proethica/ontextract/internal/schema"
	"github.com/proethica/ontextract/internal/store"
	"github.com/proethica/ontextract/pkg/llm"
	llmmocks "github.com/proethica/ontextract/pkg/llm/mocks"
	ontmocks "github.com/proethica/ontextract/pkg/ontology/mocks"
)

// captureSink records published graph results in memory.
type captureSink struct {
	mu      sync.Mutex
	results []*graph.Result
}

func (s *captureSink) Publish(_ context.Context, res *graph.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func testConfig() *config.Config {
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
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *llmmocks.MockClient, store.Store, *captureSink) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	templates, err := extraction.NewTemplateStore()
	require.NoError(t, err)

	llmMock := llmmocks.NewMockClient(t)
	ontMock := ontmocks.NewMockClient(t)
	ontMock.On("GetEntitiesByCategory", mock.Anything, mock.AnythingOfType("string")).
		Return(nil, nil).Maybe()

	cfg := testConfig()
	registry := schema.NewRegistry()
	sink := &captureSink{}

	p := New(Deps{
		Config:    cfg,
		Store:     st,
		LLM:       llmMock,
		Catalogue: ontMock,
		Registry:  registry,
		Templates: templates,
		Tracker:   provenance.NewTracker(st, cfg.Extraction.AgentID),
		Versions:  provenance.NewManager(st, cfg.Versioning),
		Converter: graph.NewConverter(registry, cfg.Extraction.AgentID),
		Sink:      sink,
		Costs: cost.NewCalculator(cost.Rates{
			"claude-haiku-test":  {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-test": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-opus-test":   {Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		}),
	})
	return p, llmMock, st, sink
}

// respondByConcept answers each prompt with one class for the concept whose
// response fields the prompt names, or the configured error for that concept.
func respondByConcept(t *testing.T, failing map[model.ConceptType]error) func(context.Context, llm.MessageRequest) (*llm.MessageResponse, error) {
	t.Helper()
	registry := schema.NewRegistry()

	return func(_ context.Context, req llm.MessageRequest) (*llm.MessageResponse, error) {
		require.Len(t, req.Messages, 1)
		prompt := req.Messages[0].Content

		for _, concept := range model.AllConceptTypes() {
			spec, err := registry.Spec(concept)
			require.NoError(t, err)
			if !strings.Contains(prompt, spec.ClassesField) {
				continue
			}
			if err := failing[concept]; err != nil {
				return nil, err
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
		t.Fatalf("prompt does not name a known response field:\n%s", prompt)
		return nil, nil
	}
}

func testSections() map[model.SectionType]string {
	return map[model.SectionType]string{
		model.SectionFacts:      "The engineer disclosed a conflict of interest to the client.",
		model.SectionDiscussion: "Engineers must disclose conflicts that could influence their judgment.",
	}
}

func TestRunExtractsAllNineConcepts(t *testing.T) {
	t.Parallel()

	p, llmMock, st, sink := newTestPipeline(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(respondByConcept(t, nil))

	var events []model.ProgressEvent
	result, err := p.Run(context.Background(), RunInput{
		CaseID:    252,
		SessionID: "sess-1",
		Sections:  testSections(),
		Progress:  func(ev model.ProgressEvent) { events = append(events, ev) },
	})
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 9)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 9, result.TotalClasses)
	assert.Equal(t, 0, result.TotalIndividuals)
	assert.Equal(t, 900, result.TokenUsage.InputTokens)
	assert.Equal(t, 450, result.TokenUsage.OutputTokens)
	assert.Greater(t, result.EstimatedCost, 0.0)

	// Pass 1 reads facts, passes 2 and 3 read discussion.
	wantPasses := []int{1, 1, 1, 2, 2, 2, 2, 3, 3}
	for i, outcome := range result.Outcomes {
		assert.Equal(t, wantPasses[i], outcome.Pass, string(outcome.Concept))
		if outcome.Pass == 1 {
			assert.Equal(t, model.SectionFacts, outcome.Section)
		} else {
			assert.Equal(t, model.SectionDiscussion, outcome.Section)
		}
		assert.Equal(t, 1, outcome.Classes)
		assert.Empty(t, outcome.Error)
	}

	require.Len(t, events, 9)
	assert.Equal(t, 1, events[0].Completed)
	assert.Equal(t, 9, events[8].Completed)
	assert.Equal(t, 9, events[8].Total)
	assert.Equal(t, model.ConceptEvents, events[8].Concept)

	// Every concept left a completed activity and a persisted record.
	activities, err := st.ListActivities(context.Background(), store.ActivityFilter{CaseID: 252})
	require.NoError(t, err)
	require.Len(t, activities, 9)
	for _, a := range activities {
		assert.Equal(t, model.ActivityCompleted, a.Status)
		assert.Equal(t, model.EnvDevelopment, a.Environment)
		assert.NotEmpty(t, a.VersionID)
	}

	records, err := st.ListExtractions(context.Background(), store.ExtractionFilter{CaseID: 252})
	require.NoError(t, err)
	assert.Len(t, records, 9)

	// Prompt, response, and result set entities hang off each activity.
	entities, err := st.ListEntitiesByActivity(context.Background(), activities[0].ID)
	require.NoError(t, err)
	assert.Len(t, entities, 3)

	assert.Len(t, sink.results, 9)
}

func TestRunCreatesInitialVersion(t *testing.T) {
	t.Parallel()

	p, llmMock, st, _ := newTestPipeline(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(respondByConcept(t, nil))

	_, err := p.Run(context.Background(), RunInput{CaseID: 1, Sections: testSections()})
	require.NoError(t, err)

	v, err := st.LatestVersion(context.Background(), "concept_extraction", model.EnvDevelopment)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "0.1.0", v.Number)
	assert.NotNil(t, v.ExpiresAt)
}

func TestRunOneConceptFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	p, llmMock, st, sink := newTestPipeline(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(respondByConcept(t, map[model.ConceptType]error{
			model.ConceptObligations: assert.AnError,
		}))

	result, err := p.Run(context.Background(), RunInput{
		CaseID:    252,
		SessionID: "sess-2",
		Sections:  testSections(),
	})
	require.NoError(t, err, "a concept failure never fails the run")

	require.Len(t, result.Outcomes, 9)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "obligations extraction failed")
	assert.Equal(t, 8, result.TotalClasses)
	assert.Len(t, sink.results, 8)

	var failed *model.ConceptOutcome
	for i := range result.Outcomes {
		if result.Outcomes[i].Concept == model.ConceptObligations {
			failed = &result.Outcomes[i]
		}
	}
	require.NotNil(t, failed)
	assert.NotEmpty(t, failed.Error)
	assert.Zero(t, failed.Classes)

	// The failure is recorded as a failed provenance activity.
	activities, err := st.ListActivities(context.Background(), store.ActivityFilter{
		CaseID: 252,
		Status: model.ActivityFailed,
	})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "obligations", activities[0].Name)
	assert.NotEmpty(t, activities[0].ErrorMessage)
}

func TestRunThreadsContextIntoLaterPrompts(t *testing.T) {
	t.Parallel()

	p, llmMock, _, _ := newTestPipeline(t)

	var mu sync.Mutex
	prompts := make(map[model.ConceptType]string)
	registry := schema.NewRegistry()
	responder := respondByConcept(t, nil)

	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(llm.MessageRequest)
			prompt := req.Messages[0].Content
			for _, concept := range model.AllConceptTypes() {
				spec, _ := registry.Spec(concept)
				if strings.Contains(prompt, spec.ClassesField) {
					mu.Lock()
					prompts[concept] = prompt
					mu.Unlock()
					return
				}
			}
		}).
		Return(responder)

	_, err := p.Run(context.Background(), RunInput{CaseID: 7, Sections: testSections()})
	require.NoError(t, err)

	// The first concept sees no context; later concepts see earlier labels.
	assert.NotContains(t, prompts[model.ConceptRoles], "Sample")
	assert.Contains(t, prompts[model.ConceptObligations], "roles: Sample roles")
	assert.Contains(t, prompts[model.ConceptEvents], "roles: Sample roles")
	assert.Contains(t, prompts[model.ConceptEvents], "obligations: Sample obligations")
	assert.Contains(t, prompts[model.ConceptEvents], "actions: Sample actions")
}

func TestRunFallsBackWhenDefaultSectionMissing(t *testing.T) {
	t.Parallel()

	p, llmMock, _, _ := newTestPipeline(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(respondByConcept(t, nil))

	result, err := p.Run(context.Background(), RunInput{
		CaseID: 9,
		Sections: map[model.SectionType]string{
			model.SectionFacts: "Only a facts section exists for this case.",
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 9)
	assert.Empty(t, result.Errors)
	for _, outcome := range result.Outcomes {
		assert.Equal(t, model.SectionFacts, outcome.Section)
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	p, _, _, _ := newTestPipeline(t)

	_, err := p.Run(context.Background(), RunInput{CaseID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sections")
}

func TestRunAssignsSessionID(t *testing.T) {
	t.Parallel()

	p, llmMock, _, _ := newTestPipeline(t)
	llmMock.On("CreateMessage", mock.Anything, mock.Anything).
		Return(respondByConcept(t, nil))

	result, err := p.Run(context.Background(), RunInput{CaseID: 3, Sections: testSections()})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
}
