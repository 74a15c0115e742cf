package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/pkg/ontology"
)

func TestLabelsMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{"Design Engineer", "design_engineer", true},
		{"Design Engineer", "design-engineer", true},
		{"Design  Engineer", "design engineer", true},
		{"Engineer", "ENGINEER", true},
		// Substring containment is deliberately not a match.
		{"Design Engineer Role", "Engineer Role", false},
		{"Engineer", "Engineer Role", false},
		{"", "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, labelsMatch(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestLabelsMatchIdempotent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, normalizeLabel("Design Engineer"), normalizeLabel(normalizeLabel("Design_Engineer")))
}

func TestMatchClassesFirstExactMatchWins(t *testing.T) {
	t.Parallel()

	existing := []ontology.EntitySummary{
		{URI: "http://proethica.org/ontology#EngineerRole", Label: "Engineer Role"},
		{URI: "http://proethica.org/ontology#Engineer", Label: "Engineer"},
	}
	classes := []model.CandidateClass{
		{Label: "engineer_role"},
		{Label: "Brand New Role"},
	}

	matchClasses(classes, existing)

	require.True(t, classes[0].Match.MatchesExisting)
	assert.Equal(t, "http://proethica.org/ontology#EngineerRole", classes[0].Match.MatchedURI)
	assert.Equal(t, matchConfidence, classes[0].Match.Confidence)
	assert.Equal(t, matchReasoning, classes[0].Match.Reasoning)

	assert.False(t, classes[1].Match.MatchesExisting, "no match leaves the decision at its default")
}

func TestMatchClassesDoesNotOverrideAssertedMatch(t *testing.T) {
	t.Parallel()

	existing := []ontology.EntitySummary{
		{URI: "http://proethica.org/ontology#Engineer", Label: "Engineer"},
	}
	classes := []model.CandidateClass{
		{
			Label: "Engineer",
			Match: model.MatchDecision{
				MatchesExisting: true,
				MatchedURI:      "http://proethica.org/ontology#LLMAsserted",
				Confidence:      0.6,
			},
		},
	}

	matchClasses(classes, existing)

	assert.Equal(t, "http://proethica.org/ontology#LLMAsserted", classes[0].Match.MatchedURI)
}

func TestLinkIndividualInheritsClassMatch(t *testing.T) {
	t.Parallel()

	classes := []model.CandidateClass{
		{
			Label: "Engineer",
			Match: model.MatchDecision{
				MatchesExisting: true,
				MatchedURI:      "http://proethica.org/ontology#Engineer",
				MatchedLabel:    "Engineer",
				Confidence:      matchConfidence,
				Reasoning:       matchReasoning,
			},
		},
	}
	individuals := []model.Individual{
		{Identifier: "Engineer A", ClassReference: "engineer"},
	}

	linkIndividuals(individuals, classes, nil)

	require.True(t, individuals[0].Match.MatchesExisting)
	assert.Equal(t, "http://proethica.org/ontology#Engineer", individuals[0].Match.MatchedURI)
	assert.Equal(t, matchConfidence, individuals[0].Match.Confidence)
	assert.Contains(t, individuals[0].Match.Reasoning, "Engineer: ")
}

func TestLinkIndividualTypedAsExistingClass(t *testing.T) {
	t.Parallel()

	existing := []ontology.EntitySummary{
		{URI: "http://proethica.org/ontology#ClientRole", Label: "Client Role"},
	}
	individuals := []model.Individual{
		{Identifier: "Client B", ClassReference: "client_role"},
	}

	linkIndividuals(individuals, nil, existing)

	require.True(t, individuals[0].Match.MatchesExisting)
	assert.Equal(t, directTypeConfidence, individuals[0].Match.Confidence)
	assert.Equal(t, "typed as existing ontology class", individuals[0].Match.Reasoning)
}

func TestLinkIndividualUnresolvedReferenceIsNoOp(t *testing.T) {
	t.Parallel()

	individuals := []model.Individual{
		{Identifier: "Someone", ClassReference: "Brand New Class"},
	}

	linkIndividuals(individuals, nil, nil)

	assert.False(t, individuals[0].Match.MatchesExisting)
}

func TestLinkIndividualUnmatchedCandidateClassIsNoOp(t *testing.T) {
	t.Parallel()

	classes := []model.CandidateClass{{Label: "Brand New Role"}}
	individuals := []model.Individual{
		{Identifier: "Someone", ClassReference: "Brand New Role"},
	}

	linkIndividuals(individuals, classes, nil)

	assert.False(t, individuals[0].Match.MatchesExisting,
		"a resolved but unmatched candidate class confers no match")
}
