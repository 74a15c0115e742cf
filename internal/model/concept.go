package model

// ConceptType identifies one of the nine extraction targets. Each concept
// type has its own schema, prompt template, and model configuration.
type ConceptType string

const (
	ConceptRoles        ConceptType = "roles"
	ConceptStates       ConceptType = "states"
	ConceptResources    ConceptType = "resources"
	ConceptPrinciples   ConceptType = "principles"
	ConceptObligations  ConceptType = "obligations"
	ConceptConstraints  ConceptType = "constraints"
	ConceptCapabilities ConceptType = "capabilities"
	ConceptActions      ConceptType = "actions"
	ConceptEvents       ConceptType = "events"
)

// AllConceptTypes lists every registered concept type in pipeline order.
func AllConceptTypes() []ConceptType {
	return []ConceptType{
		ConceptRoles, ConceptStates, ConceptResources,
		ConceptPrinciples, ConceptObligations, ConceptConstraints, ConceptCapabilities,
		ConceptActions, ConceptEvents,
	}
}

// Valid reports whether t is one of the nine registered concept types.
func (t ConceptType) Valid() bool {
	switch t {
	case ConceptRoles, ConceptStates, ConceptResources,
		ConceptPrinciples, ConceptObligations, ConceptConstraints, ConceptCapabilities,
		ConceptActions, ConceptEvents:
		return true
	}
	return false
}

// SectionType names a case section used as extraction input.
type SectionType string

const (
	SectionFacts      SectionType = "facts"
	SectionDiscussion SectionType = "discussion"
	SectionQuestions  SectionType = "questions"
	SectionConclusion SectionType = "conclusion"
)

// Pass is one of the three top-level extraction phases. Concepts within a
// pass run strictly in sequence so earlier outputs can feed later prompts.
type Pass struct {
	Number         int           `json:"number"`
	Name           string        `json:"name"`
	DefaultSection SectionType   `json:"default_section"`
	Concepts       []ConceptType `json:"concepts"`
}

// Passes returns the fixed 3-pass schedule: contextual (3 concepts over the
// facts section), normative (4 over discussion), temporal (2 over discussion).
func Passes() []Pass {
	return []Pass{
		{
			Number:         1,
			Name:           "contextual",
			DefaultSection: SectionFacts,
			Concepts:       []ConceptType{ConceptRoles, ConceptStates, ConceptResources},
		},
		{
			Number:         2,
			Name:           "normative",
			DefaultSection: SectionDiscussion,
			Concepts:       []ConceptType{ConceptPrinciples, ConceptObligations, ConceptConstraints, ConceptCapabilities},
		},
		{
			Number:         3,
			Name:           "temporal",
			DefaultSection: SectionDiscussion,
			Concepts:       []ConceptType{ConceptActions, ConceptEvents},
		},
	}
}

// PassFor returns the pass containing the given concept type, or a zero Pass
// if the concept is unknown.
func PassFor(t ConceptType) Pass {
	for _, p := range Passes() {
		for _, c := range p.Concepts {
			if c == t {
				return p
			}
		}
	}
	return Pass{}
}
