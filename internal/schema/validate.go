package schema

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/model"
)

// maxSourceTextLen caps the derived source_text quote.
const maxSourceTextLen = 500

// ParseResult validates normalized items against the concept's combined
// schema. The whole batch is decoded first; if every item is valid the full
// result is returned. On any failure it falls back to per-item validation,
// keeping exactly the valid items and logging each discarded item's label and
// error count, so partial LLM malformedness never zeroes out a good batch.
func ParseResult(spec ConceptSpec, rawClasses, rawIndividuals []map[string]any) ([]model.CandidateClass, []model.Individual, int, int) {
	classes := make([]model.CandidateClass, 0, len(rawClasses))
	var discardedClasses int
	for _, raw := range rawClasses {
		c, errs := decodeClass(spec, raw)
		if len(errs) > 0 {
			discardedClasses++
			zap.L().Warn("schema: discarding invalid candidate class",
				zap.String("concept", string(spec.Concept)),
				zap.String("label", stringify(raw["label"])),
				zap.Int("error_count", len(errs)),
			)
			continue
		}
		classes = append(classes, c)
	}

	individuals := make([]model.Individual, 0, len(rawIndividuals))
	var discardedIndividuals int
	for _, raw := range rawIndividuals {
		ind, errs := decodeIndividual(spec, raw)
		if len(errs) > 0 {
			discardedIndividuals++
			zap.L().Warn("schema: discarding invalid individual",
				zap.String("concept", string(spec.Concept)),
				zap.String("identifier", stringify(raw["identifier"])),
				zap.Int("error_count", len(errs)),
			)
			continue
		}
		individuals = append(individuals, ind)
	}

	return classes, individuals, discardedClasses, discardedIndividuals
}

// decodeClass validates one normalized class item.
func decodeClass(spec ConceptSpec, raw map[string]any) (model.CandidateClass, []error) {
	var errs []error

	label := strings.TrimSpace(stringify(raw["label"]))
	if label == "" {
		errs = append(errs, eris.New("schema: class label is required"))
	}
	definition := strings.TrimSpace(stringify(raw["definition"]))
	if definition == "" {
		errs = append(errs, eris.New("schema: class definition is required"))
	}

	category := stringify(raw["category"])
	if category != "" && !contains(spec.Categories, category) {
		errs = append(errs, eris.Errorf("schema: invalid category %q", category))
	}

	refs := toStringList(raw["text_references"])
	sourceText := strings.TrimSpace(stringify(raw["source_text"]))
	// source_text is derived from text_references, not authoritative: it must
	// be non-empty whenever references exist.
	if sourceText == "" && len(refs) > 0 {
		sourceText = refs[0]
	}
	sourceText = TruncateRunes(sourceText, maxSourceTextLen)

	if len(errs) > 0 {
		return model.CandidateClass{}, errs
	}

	c := model.CandidateClass{
		Concept:        spec.Concept,
		Label:          label,
		Definition:     definition,
		TextReferences: refs,
		SourceText:     sourceText,
		Confidence:     clampConfidence(raw["confidence"]),
		Importance:     stringify(raw["importance"]),
		Category:       category,
		Match:          decodeMatch(raw),
	}
	for _, key := range spec.ClassFields {
		if v, ok := raw[key]; ok && v != nil {
			if c.Fields == nil {
				c.Fields = make(map[string]any)
			}
			c.Fields[key] = v
		}
	}
	return c, nil
}

// decodeIndividual validates one normalized individual item.
func decodeIndividual(spec ConceptSpec, raw map[string]any) (model.Individual, []error) {
	var errs []error

	identifier := strings.TrimSpace(stringify(raw["identifier"]))
	if identifier == "" {
		errs = append(errs, eris.New("schema: individual identifier is required"))
	}
	if len(errs) > 0 {
		return model.Individual{}, errs
	}

	ind := model.Individual{
		Concept:        spec.Concept,
		Identifier:     identifier,
		ClassReference: strings.TrimSpace(stringify(raw[spec.ReferenceField])),
		Confidence:     clampConfidence(raw["confidence"]),
		Match:          decodeMatch(raw),
	}
	for _, key := range spec.IndividualFields {
		if v, ok := raw[key]; ok && v != nil {
			if ind.Fields == nil {
				ind.Fields = make(map[string]any)
			}
			ind.Fields[key] = v
		}
	}
	return ind, nil
}

// decodeMatch honors an LLM-asserted match if present. The ontology matcher
// will only override it when it is still unset.
func decodeMatch(raw map[string]any) model.MatchDecision {
	matches, _ := raw["matches_existing"].(bool)
	if !matches {
		return model.MatchDecision{}
	}
	return model.MatchDecision{
		MatchesExisting: true,
		MatchedURI:      stringify(raw["matched_uri"]),
		MatchedLabel:    stringify(raw["matched_label"]),
		Confidence:      clampConfidence(raw["confidence"]),
		Reasoning:       stringify(raw["match_reasoning"]),
	}
}

func clampConfidence(v any) float64 {
	f := toFloat(v)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return 0
}

func toStringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s := strings.TrimSpace(stringify(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
