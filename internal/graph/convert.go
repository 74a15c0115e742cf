// Package graph converts validated extraction results into ontology graph
// nodes with deterministic URIs and PROV-O annotation properties, ready for a
// graph sink.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/schema"
)

// Namespace for classes and individuals minted by extraction. Matched
// entities keep their original ontology URI.
const namespace = "http://proethica.org/ontology/"

// Node is one ontology node produced by conversion.
type Node struct {
	URI        string         `json:"uri"`
	Label      string         `json:"label"`
	Types      []string       `json:"types"`
	Definition string         `json:"definition,omitempty"`
	Individual bool           `json:"individual"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Result is the graph form of one extraction result.
type Result struct {
	CaseID  int64             `json:"case_id"`
	Concept model.ConceptType `json:"concept"`
	Nodes   []Node            `json:"nodes"`
}

// conceptBase maps each concept type to its ontology base class, the typing
// fallback when no category parent applies.
var conceptBase = map[model.ConceptType]string{
	model.ConceptRoles:        namespace + "Role",
	model.ConceptStates:       namespace + "State",
	model.ConceptResources:    namespace + "Resource",
	model.ConceptPrinciples:   namespace + "Principle",
	model.ConceptObligations:  namespace + "Obligation",
	model.ConceptConstraints:  namespace + "Constraint",
	model.ConceptCapabilities: namespace + "Capability",
	model.ConceptActions:      namespace + "Action",
	model.ConceptEvents:       namespace + "Event",
}

// categoryParents maps normalized category values to intermediate parent
// classes. Categories absent here type directly under the concept base.
var categoryParents = map[model.ConceptType]map[string]string{
	model.ConceptRoles: {
		"professional": namespace + "ProfessionalRole",
		"participant":  namespace + "ParticipantRole",
		"stakeholder":  namespace + "StakeholderRole",
	},
	model.ConceptStates: {
		"physical":      namespace + "PhysicalState",
		"informational": namespace + "InformationalState",
		"relational":    namespace + "RelationalState",
		"legal":         namespace + "LegalState",
	},
	model.ConceptResources: {
		"document":    namespace + "DocumentResource",
		"artifact":    namespace + "ArtifactResource",
		"information": namespace + "InformationResource",
		"standard":    namespace + "StandardResource",
	},
	model.ConceptObligations: {
		"professional": namespace + "ProfessionalObligation",
		"legal":        namespace + "LegalObligation",
		"contractual":  namespace + "ContractualObligation",
		"ethical":      namespace + "EthicalObligation",
	},
	model.ConceptConstraints: {
		"legal":    namespace + "LegalConstraint",
		"physical": namespace + "PhysicalConstraint",
		"temporal": namespace + "TemporalConstraint",
		"resource": namespace + "ResourceConstraint",
	},
	model.ConceptActions: {
		"communication":  namespace + "CommunicationAction",
		"decision":       namespace + "DecisionAction",
		"technical":      namespace + "TechnicalAction",
		"administrative": namespace + "AdministrativeAction",
	},
	model.ConceptEvents: {
		"disclosure":     namespace + "DisclosureEvent",
		"incident":       namespace + "IncidentEvent",
		"milestone":      namespace + "MilestoneEvent",
		"decision_point": namespace + "DecisionPointEvent",
	},
}

var titleCaser = cases.Title(language.English)

// Converter turns extraction results into graph nodes.
type Converter struct {
	registry *schema.Registry
	agentID  string
}

// NewConverter creates a converter attributing nodes to agentID.
func NewConverter(registry *schema.Registry, agentID string) *Converter {
	return &Converter{registry: registry, agentID: agentID}
}

// Convert maps an extraction result to graph nodes. Matched classes keep
// their existing ontology URI; new classes and individuals get deterministic
// URIs derived from their labels, so re-running a case converges on the same
// nodes.
func (c *Converter) Convert(res *model.ExtractionResult, generatedAt time.Time) (*Result, error) {
	spec, err := c.registry.Spec(res.Concept)
	if err != nil {
		return nil, err
	}

	out := &Result{
		CaseID:  res.CaseID,
		Concept: res.Concept,
		Nodes:   make([]Node, 0, len(res.Classes)+len(res.Individuals)),
	}

	classURIs := make(map[string]string, len(res.Classes))
	for _, class := range res.Classes {
		uri := ClassURI(class.Label)
		if class.Match.MatchesExisting && class.Match.MatchedURI != "" {
			uri = class.Match.MatchedURI
		}
		classURIs[strings.ToLower(class.Label)] = uri

		props := propertyBag(class.Fields)
		props["confidence"] = class.Confidence
		if class.Importance != "" {
			props["importance"] = class.Importance
		}
		if len(class.TextReferences) > 0 {
			props["textReferences"] = class.TextReferences
		}
		if class.SourceText != "" {
			props["sourceText"] = class.SourceText
		}
		c.stampProvenance(props, res, generatedAt)

		out.Nodes = append(out.Nodes, Node{
			URI:        uri,
			Label:      class.Label,
			Types:      []string{parentURI(res.Concept, class.Category)},
			Definition: class.Definition,
			Properties: props,
		})
	}

	for _, ind := range res.Individuals {
		props := propertyBag(ind.Fields)
		props["confidence"] = ind.Confidence
		c.stampProvenance(props, res, generatedAt)

		out.Nodes = append(out.Nodes, Node{
			URI:        IndividualURI(res.CaseID, ind.Identifier),
			Label:      ind.Identifier,
			Types:      []string{individualType(ind, classURIs, res.Concept)},
			Definition: individualDefinition(ind, spec),
			Individual: true,
			Properties: props,
		})
	}

	return out, nil
}

func (c *Converter) stampProvenance(props map[string]any, res *model.ExtractionResult, generatedAt time.Time) {
	pass := model.PassFor(res.Concept)
	props["generatedAtTime"] = generatedAt.UTC().Format(time.RFC3339)
	props["wasAttributedTo"] = c.agentID
	props["firstDiscoveredInCase"] = res.CaseID
	props["discoveredInSection"] = string(res.Section)
	props["discoveredInPass"] = pass.Number
}

// individualType resolves an individual's rdf:type URI: its authoritative
// match, then the candidate class it references, then the concept base class.
func individualType(ind model.Individual, classURIs map[string]string, concept model.ConceptType) string {
	if ind.Match.MatchesExisting && ind.Match.MatchedURI != "" {
		return ind.Match.MatchedURI
	}
	if uri, ok := classURIs[strings.ToLower(ind.ClassReference)]; ok {
		return uri
	}
	return conceptBase[concept]
}

// individualDefinition pulls the individual's definition from its concept's
// descriptor field, falling back to generic description keys.
func individualDefinition(ind model.Individual, spec schema.ConceptSpec) string {
	for _, key := range []string{spec.DescriptorField, "description", "definition"} {
		if v, ok := ind.Fields[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// parentURI picks the typing parent for a class: the category's intermediate
// parent when one is defined, otherwise the concept base class.
func parentURI(concept model.ConceptType, category string) string {
	if parents, ok := categoryParents[concept]; ok {
		if uri, ok := parents[category]; ok {
			return uri
		}
	}
	return conceptBase[concept]
}

// ClassURI derives the deterministic URI for a newly-minted class.
func ClassURI(label string) string {
	return namespace + sanitizeLabel(label)
}

// IndividualURI derives the deterministic URI for a case-scoped individual.
func IndividualURI(caseID int64, identifier string) string {
	return fmt.Sprintf("%scase/%d/%s", namespace, caseID, sanitizeLabel(identifier))
}

// sanitizeLabel turns a human label into a URI-safe PascalCase fragment,
// dropping characters that break URIs or SPARQL literals.
func sanitizeLabel(label string) string {
	cleaned := strings.NewReplacer(
		"(", "", ")", "", `"`, "", "'", "",
		"<", "", ">", "", "&", "", ",", "",
		"_", " ", "-", " ",
	).Replace(label)
	return strings.ReplaceAll(titleCaser.String(cleaned), " ", "")
}

// propertyBag camelCases a normalized snake_case field map. Values are
// flattened to sink-safe properties: lists become string lists, nested maps
// are marshaled to JSON, empty values are dropped. Graph backends reject map
// properties, so nothing structured may pass through raw.
func propertyBag(fields map[string]any) map[string]any {
	props := make(map[string]any, len(fields)+8)
	for k, v := range fields {
		if val, ok := propertyValue(v); ok {
			props[camelCase(k)] = val
		}
	}
	return props
}

func propertyValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return t, t != ""
	case []string:
		return t, len(t) > 0
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := stringifyProperty(item); ok {
				out = append(out, s)
			}
		}
		return out, len(out) > 0
	case map[string]any:
		s, ok := stringifyProperty(t)
		return s, ok
	default:
		// Numeric and bool scalars are sink-safe as-is.
		return v, true
	}
}

func stringifyProperty(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case map[string]any:
		if len(t) == 0 {
			return "", false
		}
		data, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(data), true
	default:
		return fmt.Sprint(t), true
	}
}

func camelCase(key string) string {
	parts := strings.Split(key, "_")
	if len(parts) == 1 {
		return key
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(titleCaser.String(p))
	}
	return b.String()
}

// Validate reports nodes whose URIs collide within one result set. Distinct
// labels that sanitize to the same fragment would silently merge in the graph.
func Validate(res *Result) error {
	seen := make(map[string]string, len(res.Nodes))
	for _, n := range res.Nodes {
		if prev, ok := seen[n.URI]; ok && prev != n.Label {
			return eris.Errorf("graph: URI collision %s between %q and %q", n.URI, prev, n.Label)
		}
		seen[n.URI] = n.Label
	}
	return nil
}
