package extraction

import (
	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/pkg/ontology"
)

// directTypeConfidence is recorded when an individual references an existing
// ontology class directly by label.
const directTypeConfidence = 0.95

// linkIndividuals resolves each individual's class reference against the
// candidate classes extracted in the same call, then against the existing
// catalogue. An individual whose class matched an existing entity inherits
// that match; one typed directly as an existing class is marked matching with
// its own confidence and reasoning. An unresolved reference is a silent
// no-op: it may simply name a brand-new class absent from both lists.
func linkIndividuals(individuals []model.Individual, classes []model.CandidateClass, existing []ontology.EntitySummary) {
	for i := range individuals {
		ind := &individuals[i]
		if ind.Match.MatchesExisting || ind.ClassReference == "" {
			continue
		}

		if class := findClass(classes, ind.ClassReference); class != nil {
			if class.Match.MatchesExisting {
				ind.Match = model.MatchDecision{
					MatchesExisting: true,
					MatchedURI:      class.Match.MatchedURI,
					MatchedLabel:    class.Match.MatchedLabel,
					Confidence:      class.Match.Confidence,
					Reasoning:       class.Label + ": " + class.Match.Reasoning,
				}
			}
			continue
		}

		for _, entity := range existing {
			if labelsMatch(ind.ClassReference, entity.Label) {
				ind.Match = model.MatchDecision{
					MatchesExisting: true,
					MatchedURI:      entity.URI,
					MatchedLabel:    entity.Label,
					Confidence:      directTypeConfidence,
					Reasoning:       "typed as existing ontology class",
				}
				break
			}
		}
	}
}

func findClass(classes []model.CandidateClass, label string) *model.CandidateClass {
	for i := range classes {
		if labelsMatch(classes[i].Label, label) {
			return &classes[i]
		}
	}
	return nil
}
