package extraction

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/proethica/ontextract/internal/model"
)

// ErrNoTemplate is returned when a concept has no active prompt template.
// This is a fatal configuration error: no default template is synthesized.
var ErrNoTemplate = eris.New("extraction: no active prompt template")

// TemplateVars are the variables a concept template renders against.
type TemplateVars struct {
	Concept          string
	Section          string
	SourceText       string
	ExistingEntities string
	Context          string
	ClassesField     string
	IndividualsField string
	Instructions     string
}

// conceptInstructions carries the per-concept extraction guidance injected
// into the shared template body.
var conceptInstructions = map[model.ConceptType]string{
	model.ConceptRoles:        "Identify professional roles, participants, and stakeholders. A role is a capacity in which a person or organization acts (e.g. Engineer, Client, Regulator), not a named person.",
	model.ConceptStates:       "Identify states of affairs that hold during the case: conditions, situations, or statuses that activate or terminate (e.g. Conflict Of Interest Exists). Record activation and termination conditions when stated.",
	model.ConceptResources:    "Identify resources referenced by the case: documents, artifacts, information assets, and standards that participants create, use, or exchange.",
	model.ConceptPrinciples:   "Identify ethical principles invoked or implicated: fundamental values such as honesty, integrity, public safety, and fairness. Record the concrete expression of each principle in this case.",
	model.ConceptObligations:  "Identify obligations: duties a role bears under professional codes, law, or contract. State each obligation as a requirement on a specific party, referencing principles already extracted where relevant.",
	model.ConceptConstraints:  "Identify constraints: legal, physical, temporal, or resource limits that restrict what participants may do.",
	model.ConceptCapabilities: "Identify capabilities: technical, professional, or cognitive capacities that roles possess or lack and that bear on the case.",
	model.ConceptActions:      "Identify actions: volitional acts performed by participants (decisions, communications, technical work). Record who performed each action and its temporal order where stated.",
	model.ConceptEvents:       "Identify events: occurrences that happen to participants or change the situation (disclosures, incidents, milestones). Record temporal ordering where stated.",
}

// templateBody is the shared prompt skeleton. Each concept registers a copy
// with its own instructions; overrides replace whole templates, never parts.
const templateBody = `You are an ontology engineer extracting {{.Concept}} concepts from a professional ethics case.

{{.Instructions}}

Existing ontology entities for this concept (match against these before proposing new classes):
{{.ExistingEntities}}
{{if .Context}}
Previously extracted concepts from this case:
{{.Context}}
{{end}}
Case section ({{.Section}}):
{{.SourceText}}

Return a single JSON object with exactly two arrays:
{"{{.ClassesField}}": [{"label": "...", "definition": "...", "category": "...", "text_references": ["..."], "confidence": 0.0, "importance": "...", "matches_existing": false}], "{{.IndividualsField}}": []}

Propose a new class only when no existing entity covers the concept. For each individual, set its class field to the label of its class. If no individuals apply, return an empty {{.IndividualsField}} array.`

// TemplateStore holds the active prompt template per (step, concept) key.
type TemplateStore struct {
	templates map[string]*template.Template
}

// NewTemplateStore builds the store with the built-in templates registered
// for every concept at its pass's step number.
func NewTemplateStore() (*TemplateStore, error) {
	s := &TemplateStore{templates: make(map[string]*template.Template)}
	for _, pass := range model.Passes() {
		for _, concept := range pass.Concepts {
			instructions, ok := conceptInstructions[concept]
			if !ok {
				return nil, eris.Wrapf(ErrNoTemplate, "extraction: no instructions for %q", concept)
			}
			body := strings.Replace(templateBody, "{{.Instructions}}", instructions, 1)
			tmpl, err := template.New(templateKey(pass.Number, concept)).Parse(body)
			if err != nil {
				return nil, eris.Wrapf(err, "extraction: parse template for %q", concept)
			}
			s.templates[templateKey(pass.Number, concept)] = tmpl
		}
	}
	return s, nil
}

// LoadOverrides replaces built-in templates with ones from a YAML file keyed
// "<step>.<concept>". Unknown keys are rejected so typos surface at startup.
func (s *TemplateStore) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "extraction: read template overrides %s", path)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return eris.Wrap(err, "extraction: parse template overrides")
	}

	for key, body := range overrides {
		if _, ok := s.templates[key]; !ok {
			return eris.Errorf("extraction: override for unknown template key %q", key)
		}
		tmpl, err := template.New(key).Parse(body)
		if err != nil {
			return eris.Wrapf(err, "extraction: parse override template %q", key)
		}
		s.templates[key] = tmpl
	}
	return nil
}

// Render renders the active template for (step, concept). A missing template
// is a fatal configuration error.
func (s *TemplateStore) Render(step int, concept model.ConceptType, vars TemplateVars) (string, error) {
	tmpl, ok := s.templates[templateKey(step, concept)]
	if !ok {
		return "", eris.Wrapf(ErrNoTemplate, "extraction: step %d concept %q", step, concept)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", eris.Wrapf(err, "extraction: render template for %q", concept)
	}
	return b.String(), nil
}

func templateKey(step int, concept model.ConceptType) string {
	return fmt.Sprintf("%d.%s", step, concept)
}
