package extraction

import (
	"strings"

	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/pkg/ontology"
)

// matchConfidence is recorded for a normalized exact label match.
const matchConfidence = 0.9

// matchReasoning is the fixed reasoning string for catalogue matches.
const matchReasoning = "exact label match against existing ontology entity"

// labelsMatch compares two labels under normalization: lowercase, with
// underscores and hyphens collapsed to spaces and whitespace runs squeezed.
// Exact match only — substring containment is deliberately excluded so
// specializations like "Design Engineer Role" never collapse into
// "Engineer Role".
func labelsMatch(a, b string) bool {
	return normalizeLabel(a) == normalizeLabel(b)
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}

// matchClasses compares each candidate class's label against the existing
// catalogue and records a match decision in place. Candidates already
// flagged as matching are left untouched. First exact match wins; no match
// leaves the decision at its default.
func matchClasses(classes []model.CandidateClass, existing []ontology.EntitySummary) {
	for i := range classes {
		if classes[i].Match.MatchesExisting {
			continue
		}
		for _, entity := range existing {
			if !labelsMatch(classes[i].Label, entity.Label) {
				continue
			}
			classes[i].Match = model.MatchDecision{
				MatchesExisting: true,
				MatchedURI:      entity.URI,
				MatchedLabel:    entity.Label,
				Confidence:      matchConfidence,
				Reasoning:       matchReasoning,
			}
			zap.L().Debug("extraction: candidate matched existing entity",
				zap.String("label", classes[i].Label),
				zap.String("uri", entity.URI),
			)
			break
		}
	}
}
