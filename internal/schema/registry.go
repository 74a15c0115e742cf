package schema

import (
	"github.com/rotisserie/eris"

	"github.com/proethica/ontextract/internal/model"
)

// ErrUnknownConcept is returned when a concept type has no registered spec.
// This is a configuration error: it is never retried.
var ErrUnknownConcept = eris.New("schema: unknown concept type")

// Tier selects which model class handles a concept's extraction.
type Tier string

const (
	TierHaiku  Tier = "haiku"
	TierSonnet Tier = "sonnet"
	TierOpus   Tier = "opus"
)

// ConceptSpec is the frozen per-concept configuration: response field names,
// model settings, category enum, and the closed set of concept-specific
// fields the normalizer admits. Built once at startup, never mutated.
type ConceptSpec struct {
	Concept model.ConceptType

	// ClassesField and IndividualsField name the two arrays the LLM is
	// instructed to return.
	ClassesField     string
	IndividualsField string

	// ReferenceField is the individual field naming its owning candidate
	// class or an existing ontology class (e.g. "role_class").
	ReferenceField string

	// DescriptorField is the individual field used as its definition by the
	// graph converter (e.g. "obligation_statement").
	DescriptorField string

	// Categories enumerates valid category values after normalization.
	Categories []string

	// ClassFields and IndividualFields are the closed sets of
	// concept-specific keys kept by the normalizer beyond the common ones.
	ClassFields      []string
	IndividualFields []string

	ModelTier   Tier
	Temperature float64
	MaxTokens   int64
}

// Registry holds the frozen concept spec table.
type Registry struct {
	specs map[model.ConceptType]ConceptSpec
}

// NewRegistry builds the static spec table for the nine concept types.
func NewRegistry() *Registry {
	specs := map[model.ConceptType]ConceptSpec{
		model.ConceptRoles: {
			Concept:          model.ConceptRoles,
			ClassesField:     "new_role_classes",
			IndividualsField: "role_individuals",
			ReferenceField:   "role_class",
			DescriptorField:  "role_description",
			Categories:       []string{"professional", "participant", "stakeholder"},
			IndividualFields: []string{"role_description", "attributes"},
			ModelTier:        TierHaiku,
			Temperature:      0.2,
			MaxTokens:        2048,
		},
		model.ConceptStates: {
			Concept:          model.ConceptStates,
			ClassesField:     "new_state_classes",
			IndividualsField: "state_individuals",
			ReferenceField:   "state_class",
			DescriptorField:  "state_description",
			Categories:       []string{"physical", "informational", "relational", "legal"},
			ClassFields:      []string{"activation_conditions", "termination_conditions"},
			IndividualFields: []string{"state_description", "holds_during"},
			ModelTier:        TierHaiku,
			Temperature:      0.2,
			MaxTokens:        2048,
		},
		model.ConceptResources: {
			Concept:          model.ConceptResources,
			ClassesField:     "new_resource_classes",
			IndividualsField: "resource_individuals",
			ReferenceField:   "resource_class",
			DescriptorField:  "resource_description",
			Categories:       []string{"document", "artifact", "information", "standard"},
			IndividualFields: []string{"resource_description"},
			ModelTier:        TierHaiku,
			Temperature:      0.2,
			MaxTokens:        2048,
		},
		model.ConceptPrinciples: {
			Concept:          model.ConceptPrinciples,
			ClassesField:     "new_principle_classes",
			IndividualsField: "principle_individuals",
			ReferenceField:   "principle_class",
			DescriptorField:  "concrete_expression",
			Categories:       []string{"integrity", "honesty", "safety", "welfare", "fairness", "confidentiality"},
			IndividualFields: []string{"concrete_expression", "invoked_by"},
			ModelTier:        TierSonnet,
			Temperature:      0.3,
			MaxTokens:        4096,
		},
		model.ConceptObligations: {
			Concept:          model.ConceptObligations,
			ClassesField:     "new_obligation_classes",
			IndividualsField: "obligation_individuals",
			ReferenceField:   "obligation_class",
			DescriptorField:  "obligation_statement",
			Categories:       []string{"professional", "legal", "contractual", "ethical"},
			ClassFields:      []string{"derived_from_principle"},
			IndividualFields: []string{"obligation_statement", "obligated_party"},
			ModelTier:        TierSonnet,
			Temperature:      0.3,
			MaxTokens:        4096,
		},
		model.ConceptConstraints: {
			Concept:          model.ConceptConstraints,
			ClassesField:     "new_constraint_classes",
			IndividualsField: "constraint_individuals",
			ReferenceField:   "constraint_class",
			DescriptorField:  "constraint_statement",
			Categories:       []string{"legal", "physical", "temporal", "resource"},
			IndividualFields: []string{"constraint_statement", "constrains"},
			ModelTier:        TierSonnet,
			Temperature:      0.3,
			MaxTokens:        2048,
		},
		model.ConceptCapabilities: {
			Concept:          model.ConceptCapabilities,
			ClassesField:     "new_capability_classes",
			IndividualsField: "capability_individuals",
			ReferenceField:   "capability_class",
			DescriptorField:  "capability_description",
			Categories:       []string{"technical", "professional", "cognitive"},
			IndividualFields: []string{"capability_description", "possessed_by"},
			ModelTier:        TierSonnet,
			Temperature:      0.3,
			MaxTokens:        2048,
		},
		model.ConceptActions: {
			Concept:          model.ConceptActions,
			ClassesField:     "new_action_classes",
			IndividualsField: "action_individuals",
			ReferenceField:   "action_class",
			DescriptorField:  "action_description",
			Categories:       []string{"communication", "decision", "technical", "administrative"},
			ClassFields:      []string{"volitional_requirement"},
			IndividualFields: []string{"action_description", "performed_by", "temporal_order"},
			ModelTier:        TierSonnet,
			Temperature:      0.4,
			MaxTokens:        4096,
		},
		model.ConceptEvents: {
			Concept:          model.ConceptEvents,
			ClassesField:     "new_event_classes",
			IndividualsField: "event_individuals",
			ReferenceField:   "event_class",
			DescriptorField:  "event_description",
			Categories:       []string{"disclosure", "incident", "milestone", "decision_point"},
			ClassFields:      []string{"temporal_aspects"},
			IndividualFields: []string{"event_description", "occurred_during", "temporal_order"},
			ModelTier:        TierSonnet,
			Temperature:      0.4,
			MaxTokens:        4096,
		},
	}
	return &Registry{specs: specs}
}

// Spec returns the frozen spec for a concept type.
func (r *Registry) Spec(t model.ConceptType) (ConceptSpec, error) {
	spec, ok := r.specs[t]
	if !ok {
		return ConceptSpec{}, eris.Wrapf(ErrUnknownConcept, "schema: %q", t)
	}
	return spec, nil
}

// Concepts returns all registered concept types in pipeline order.
func (r *Registry) Concepts() []model.ConceptType {
	return model.AllConceptTypes()
}
