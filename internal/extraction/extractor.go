// Package extraction implements the per-concept extractor: it renders the
// concept's prompt against the source text and the existing-entity catalogue,
// invokes the LLM, repairs and normalizes the response, validates it against
// the concept schema, and reconciles the results against the ontology.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/config"
	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/schema"
	"github.com/proethica/ontextract/pkg/llm"
	"github.com/proethica/ontextract/pkg/ontology"
)

// ErrEmptySource is returned when the extraction input has no source text.
var ErrEmptySource = eris.New("extraction: source_text must be non-empty")

const systemPrompt = "You are an ontology engineer extracting structured concepts from professional ethics cases. Return a single valid JSON object with the two requested arrays and nothing else. Propose new classes only when no existing ontology entity covers the concept."

// Deps are the collaborators a concept extractor is constructed from.
// Clients are injected, never cached globally, so concurrent requests cannot
// share accidental mutable state.
type Deps struct {
	LLM       llm.Client
	Catalogue ontology.Client
	Registry  *schema.Registry
	Templates *TemplateStore
	Anthropic config.AnthropicConfig
	Settings  config.ExtractionConfig
}

// Extractor is the unit of work for one concept type. A fresh extractor must
// be constructed per extraction call; its catalogue snapshot is read-only
// after construction.
type Extractor struct {
	spec      schema.ConceptSpec
	llm       llm.Client
	templates *TemplateStore
	anthropic config.AnthropicConfig
	settings  config.ExtractionConfig
	existing  []ontology.EntitySummary
}

// New constructs an extractor for the given concept type, snapshotting the
// existing-entity catalogue for that concept. An unknown concept type is a
// configuration error; a catalogue read failure propagates so the retry
// wrapper can classify it.
func New(ctx context.Context, deps Deps, concept model.ConceptType) (*Extractor, error) {
	spec, err := deps.Registry.Spec(concept)
	if err != nil {
		return nil, err
	}

	existing, err := deps.Catalogue.GetEntitiesByCategory(ctx, string(concept))
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: load catalogue for %s", concept)
	}

	return &Extractor{
		spec:      spec,
		llm:       deps.LLM,
		templates: deps.Templates,
		anthropic: deps.Anthropic,
		settings:  deps.Settings,
		existing:  existing,
	}, nil
}

// Existing returns the catalogue snapshot taken at construction.
func (e *Extractor) Existing() []ontology.EntitySummary {
	return e.existing
}

// Extract runs one concept extraction over one section of text. An empty or
// unparsable LLM response yields an empty result, not an error; LLM transport
// failures propagate to the caller's retry wrapper. Persistence is the
// orchestrator's responsibility, not the extractor's.
func (e *Extractor) Extract(ctx context.Context, in model.ExtractionInput) (*model.ExtractionResult, error) {
	if strings.TrimSpace(in.SourceText) == "" {
		return nil, ErrEmptySource
	}

	start := time.Now()
	log := zap.L().With(
		zap.String("concept", string(e.spec.Concept)),
		zap.Int64("case_id", in.CaseID),
		zap.String("session_id", in.SessionID),
	)

	prompt, err := e.buildPrompt(in)
	if err != nil {
		return nil, err
	}

	temp := e.spec.Temperature
	resp, err := e.llm.CreateMessage(ctx, llm.MessageRequest{
		Model:       e.modelFor(e.spec.ModelTier),
		MaxTokens:   e.spec.MaxTokens,
		System:      llm.BuildCachedSystemBlocks(systemPrompt),
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		// Transport failures propagate; the retry wrapper decides whether
		// they are transient.
		return nil, err
	}

	result := &model.ExtractionResult{
		Concept:     e.spec.Concept,
		CaseID:      in.CaseID,
		Section:     in.Section,
		SessionID:   in.SessionID,
		Classes:     []model.CandidateClass{},
		Individuals: []model.Individual{},
		Prompt:      prompt,
		RawResponse: resp.Text(),
		TokenUsage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		},
	}

	text := cleanJSON(resp.Text())
	if text == "" {
		log.Warn("extraction: empty LLM response")
		result.Duration = time.Since(start).Milliseconds()
		return result, nil
	}

	if resp.Truncated() {
		repaired, discarded, ok := repairTruncatedJSON(text)
		if !ok {
			log.Warn("extraction: response truncated beyond repair, returning empty result",
				zap.Int("response_len", len(text)),
			)
			result.Duration = time.Since(start).Milliseconds()
			return result, nil
		}
		if discarded > 0 {
			log.Warn("extraction: repaired truncated response",
				zap.Int("discarded_bytes", discarded),
			)
		}
		text = repaired
	}

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		log.Warn("extraction: unparsable LLM response, returning empty result",
			zap.Error(err),
		)
		result.Duration = time.Since(start).Milliseconds()
		return result, nil
	}

	rawClasses, rawIndividuals := schema.NormalizeResponse(e.spec, raw)
	classes, individuals, dc, di := schema.ParseResult(e.spec, rawClasses, rawIndividuals)

	matchClasses(classes, e.existing)
	linkIndividuals(individuals, classes, e.existing)

	result.Classes = classes
	result.Individuals = individuals
	result.DiscardedClasses = dc
	result.DiscardedIndividuals = di
	result.Duration = time.Since(start).Milliseconds()

	log.Info("extraction: concept complete",
		zap.Int("classes", len(classes)),
		zap.Int("individuals", len(individuals)),
		zap.Int("discarded_classes", dc),
		zap.Int("discarded_individuals", di),
		zap.Int64("duration_ms", result.Duration),
	)
	return result, nil
}

// buildPrompt renders the concept template with the source text, up to the
// configured number of existing-entity summaries, and any cross-concept
// context accumulated by earlier pipeline steps.
func (e *Extractor) buildPrompt(in model.ExtractionInput) (string, error) {
	pass := model.PassFor(e.spec.Concept)

	return e.templates.Render(pass.Number, e.spec.Concept, TemplateVars{
		Concept:          string(e.spec.Concept),
		Section:          string(in.Section),
		SourceText:       in.SourceText,
		ExistingEntities: e.formatExistingEntities(),
		Context:          formatContext(in.Context),
		ClassesField:     e.spec.ClassesField,
		IndividualsField: e.spec.IndividualsField,
	})
}

func (e *Extractor) formatExistingEntities() string {
	if len(e.existing) == 0 {
		return "(none)"
	}

	maxEntities := e.settings.MaxExistingEntities
	if maxEntities <= 0 {
		maxEntities = 20
	}
	truncate := e.settings.DefinitionTruncate
	if truncate <= 0 {
		truncate = 150
	}

	entities := e.existing
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}

	var b strings.Builder
	for _, entity := range entities {
		def := schema.TruncateRunes(entity.Definition, truncate)
		if def != entity.Definition {
			def += "..."
		}
		fmt.Fprintf(&b, "- %s: %s\n", entity.Label, def)
	}
	return b.String()
}

// formatContext renders previously extracted concept labels as a prompt
// context block, in stable concept order.
func formatContext(ctx map[model.ConceptType][]string) string {
	if len(ctx) == 0 {
		return ""
	}

	concepts := make([]string, 0, len(ctx))
	for c := range ctx {
		concepts = append(concepts, string(c))
	}
	sort.Strings(concepts)

	var b strings.Builder
	for _, c := range concepts {
		labels := ctx[model.ConceptType(c)]
		if len(labels) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", c, strings.Join(labels, ", "))
	}
	return b.String()
}

func (e *Extractor) modelFor(tier schema.Tier) string {
	switch tier {
	case schema.TierSonnet:
		return e.anthropic.SonnetModel
	case schema.TierOpus:
		return e.anthropic.OpusModel
	default:
		return e.anthropic.HaikuModel
	}
}
