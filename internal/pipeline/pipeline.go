// Package pipeline orchestrates a full extraction run: three passes over the
// case sections, nine concepts in fixed order, each wrapped in a provenance
// activity, persisted, converted to graph nodes, and published. One concept
// failing never aborts the run; its error is recorded and the pipeline moves
// on.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/config"
	"github.com/proethica/ontextract/internal/cost"
	"github.com/proethica/ontextract/internal/extraction"
	"github.com/proethica/ontextract/internal/graph"
	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/provenance"
	"github.com/proethica/ontextract/internal/resilience"
	"github.com/proethica/ontextract/internal/schema"
	"github.com/proethica/ontextract/internal/store"
	"github.com/proethica/ontextract/pkg/graphstore"
	"github.com/proethica/ontextract/pkg/llm"
	"github.com/proethica/ontextract/pkg/ontology"
)

// Deps are the collaborators the pipeline is constructed from.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	LLM       llm.Client
	Catalogue ontology.Client
	Registry  *schema.Registry
	Templates *extraction.TemplateStore
	Tracker   *provenance.Tracker
	Versions  *provenance.Manager
	Converter *graph.Converter
	Sink      graphstore.Sink
	Costs     *cost.Calculator
}

// Pipeline runs the 3-pass extraction schedule over one case.
type Pipeline struct {
	deps Deps
}

// New constructs a pipeline from its collaborators.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// RunInput is one pipeline invocation. Sections maps section names to their
// text; each pass reads its default section. Progress, when set, is called
// after every concept completes or fails.
type RunInput struct {
	CaseID    int64
	SessionID string
	Sections  map[model.SectionType]string
	Progress  func(model.ProgressEvent)
}

// Run executes all three passes. It returns an error only when the run cannot
// start at all (no sections, no workflow version); per-concept failures are
// reported through PipelineResult.Errors alongside the outcomes that did
// succeed.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (*model.PipelineResult, error) {
	if len(in.Sections) == 0 {
		return nil, eris.New("pipeline: no sections provided")
	}
	if in.SessionID == "" {
		in.SessionID = uuid.New().String()
	}

	vc, err := p.deps.Versions.EnsureVersion(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &model.PipelineResult{
		CaseID:    in.CaseID,
		SessionID: in.SessionID,
		StartedAt: start.UTC(),
	}

	log := zap.L().With(
		zap.Int64("case_id", in.CaseID),
		zap.String("session_id", in.SessionID),
		zap.String("version", vc.VersionNumber),
	)
	log.Info("pipeline: run started")

	passes := model.Passes()
	total := 0
	for _, pass := range passes {
		total += len(pass.Concepts)
	}

	// Labels extracted by earlier concepts feed later prompts.
	promptContext := make(map[model.ConceptType][]string)

	completed := 0
	for _, pass := range passes {
		section, text := p.sectionFor(pass, in.Sections)
		passLog := log.With(zap.Int("pass", pass.Number), zap.String("section", string(section)))
		passLog.Info("pipeline: pass started", zap.String("name", pass.Name))

		for _, concept := range pass.Concepts {
			outcome, res := p.runConcept(ctx, in, vc, concept, pass, section, text, promptContext)

			completed++
			if res != nil {
				result.TotalClasses += len(res.Classes)
				result.TotalIndividuals += len(res.Individuals)
				result.TokenUsage.Add(res.TokenUsage)
				if p.deps.Costs != nil {
					outcome.CostUSD = p.deps.Costs.Estimate(p.modelFor(concept), res.TokenUsage)
					result.EstimatedCost += outcome.CostUSD
				}
				for _, class := range res.Classes {
					promptContext[concept] = append(promptContext[concept], class.Label)
				}
			}
			result.Outcomes = append(result.Outcomes, outcome)
			if outcome.Error != "" {
				result.Errors = append(result.Errors, string(concept)+" extraction failed: "+outcome.Error)
			}

			if in.Progress != nil {
				in.Progress(model.ProgressEvent{
					Pass:      pass.Number,
					PassName:  pass.Name,
					Concept:   concept,
					Outcome:   outcome,
					Completed: completed,
					Total:     total,
				})
			}
		}
	}

	result.Duration = time.Since(start).Milliseconds()
	log.Info("pipeline: run finished",
		zap.Int("classes", result.TotalClasses),
		zap.Int("individuals", result.TotalIndividuals),
		zap.Int("errors", len(result.Errors)),
		zap.Int64("duration_ms", result.Duration),
	)
	return result, nil
}

// sectionFor picks the text a pass reads: its default section when present,
// otherwise the first non-empty section in schedule order so a case missing
// a discussion section still yields extractions.
func (p *Pipeline) sectionFor(pass model.Pass, sections map[model.SectionType]string) (model.SectionType, string) {
	if text := sections[pass.DefaultSection]; text != "" {
		return pass.DefaultSection, text
	}
	for _, s := range []model.SectionType{model.SectionFacts, model.SectionDiscussion, model.SectionQuestions, model.SectionConclusion} {
		if text := sections[s]; text != "" {
			return s, text
		}
	}
	return pass.DefaultSection, ""
}

// runConcept extracts one concept under a provenance activity, then records
// the exchange, persists the result, and publishes its graph form. Extraction
// failure is the outcome's error; downstream bookkeeping failures are logged
// and do not fail the concept.
func (p *Pipeline) runConcept(
	ctx context.Context,
	in RunInput,
	vc model.VersioningContext,
	concept model.ConceptType,
	pass model.Pass,
	section model.SectionType,
	text string,
	promptContext map[model.ConceptType][]string,
) (model.ConceptOutcome, *model.ExtractionResult) {
	outcome := model.ConceptOutcome{
		Concept: concept,
		Pass:    pass.Number,
		Section: section,
	}

	retryCfg := resilience.DefaultRetryConfig()
	if n := p.deps.Config.Extraction.RetryAttempts; n > 0 {
		retryCfg.MaxAttempts = n
	}
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", string(concept))

	var res *model.ExtractionResult
	activity, err := p.deps.Tracker.Track(ctx, provenance.ActivitySpec{
		Type:       "extraction",
		Name:       string(concept),
		CaseID:     in.CaseID,
		SessionID:  in.SessionID,
		Versioning: vc,
	}, func(ctx context.Context) error {
		var extractErr error
		res, extractErr = resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.ExtractionResult, error) {
			// A fresh extractor per attempt re-snapshots the catalogue, so a
			// transient catalogue failure is retried too.
			ex, err := extraction.New(ctx, p.extractionDeps(), concept)
			if err != nil {
				return nil, err
			}
			return ex.Extract(ctx, model.ExtractionInput{
				Concept:    concept,
				SourceText: text,
				CaseID:     in.CaseID,
				Section:    section,
				SessionID:  in.SessionID,
				Context:    promptContext,
			})
		})
		return extractErr
	})
	if err != nil {
		outcome.Error = err.Error()
		if activity != nil {
			outcome.Duration = activity.Duration
		}
		return outcome, nil
	}

	outcome.Classes = len(res.Classes)
	outcome.Individuals = len(res.Individuals)
	outcome.Duration = res.Duration

	p.recordProvenance(ctx, activity.ID, res, vc)
	p.persist(ctx, in, activity.ID, section, res, vc)
	p.publish(ctx, res)

	return outcome, res
}

// modelFor resolves the configured model name for a concept's tier, for cost
// estimation.
func (p *Pipeline) modelFor(concept model.ConceptType) string {
	spec, err := p.deps.Registry.Spec(concept)
	if err != nil {
		return ""
	}
	switch spec.ModelTier {
	case schema.TierSonnet:
		return p.deps.Config.Anthropic.SonnetModel
	case schema.TierOpus:
		return p.deps.Config.Anthropic.OpusModel
	default:
		return p.deps.Config.Anthropic.HaikuModel
	}
}

func (p *Pipeline) extractionDeps() extraction.Deps {
	return extraction.Deps{
		LLM:       p.deps.LLM,
		Catalogue: p.deps.Catalogue,
		Registry:  p.deps.Registry,
		Templates: p.deps.Templates,
		Anthropic: p.deps.Config.Anthropic,
		Settings:  p.deps.Config.Extraction,
	}
}

// recordProvenance stores the prompt/response exchange and a result-set
// entity derived from the response.
func (p *Pipeline) recordProvenance(ctx context.Context, activityID string, res *model.ExtractionResult, vc model.VersioningContext) {
	log := zap.L().With(
		zap.String("concept", string(res.Concept)),
		zap.String("activity_id", activityID),
	)

	_, responseEntity, err := p.deps.Tracker.RecordExchange(ctx, activityID, res.Prompt, res.RawResponse, vc)
	if err != nil {
		log.Warn("pipeline: record prompt/response exchange", zap.Error(err))
		return
	}

	payload, err := json.Marshal(res)
	if err != nil {
		log.Warn("pipeline: marshal result set", zap.Error(err))
		return
	}
	resultEntity, err := p.deps.Tracker.RecordEntity(ctx, model.EntityResultSet, string(payload), activityID, vc)
	if err != nil {
		log.Warn("pipeline: record result set", zap.Error(err))
		return
	}
	if err := p.deps.Tracker.Derive(ctx, resultEntity.ID, responseEntity.ID, model.RelationDerivation); err != nil {
		log.Warn("pipeline: derive result set from response", zap.Error(err))
	}
}

// persist saves the extraction record. Failure here loses a queryable record
// but not the provenance activity, so it is logged rather than fatal.
func (p *Pipeline) persist(ctx context.Context, in RunInput, activityID string, section model.SectionType, res *model.ExtractionResult, vc model.VersioningContext) {
	rec := &model.ExtractionRecord{
		CaseID:      in.CaseID,
		SessionID:   in.SessionID,
		Concept:     res.Concept,
		Section:     section,
		Result:      res,
		ActivityID:  activityID,
		VersionID:   vc.VersionID,
		Environment: vc.Environment,
		AutoCleanup: vc.Environment == model.EnvDevelopment,
	}
	if err := p.deps.Store.SaveExtraction(ctx, rec); err != nil {
		zap.L().Error("pipeline: save extraction record",
			zap.String("concept", string(res.Concept)),
			zap.Error(err),
		)
	}
}

// publish converts the result to graph nodes and hands them to the sink.
func (p *Pipeline) publish(ctx context.Context, res *model.ExtractionResult) {
	if len(res.Classes) == 0 && len(res.Individuals) == 0 {
		return
	}

	log := zap.L().With(zap.String("concept", string(res.Concept)))

	converted, err := p.deps.Converter.Convert(res, time.Now())
	if err != nil {
		log.Error("pipeline: convert result to graph nodes", zap.Error(err))
		return
	}
	if err := graph.Validate(converted); err != nil {
		log.Warn("pipeline: graph validation", zap.Error(err))
	}
	if err := p.deps.Sink.Publish(ctx, converted); err != nil {
		log.Error("pipeline: publish graph nodes", zap.Error(err))
	}
}
