package model

import "time"

// MatchDecision records whether and how a candidate maps onto a pre-existing
// ontology entity. The zero value means "no match". Only the ontology matcher
// and the individual linker mutate it once an authoritative match is found;
// an LLM-asserted match already present is honored, never overridden.
type MatchDecision struct {
	MatchesExisting bool    `json:"matches_existing"`
	MatchedURI      string  `json:"matched_uri,omitempty"`
	MatchedLabel    string  `json:"matched_label,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// CandidateClass is a newly-proposed ontology class discovered in source
// text, pending reconciliation against the existing ontology.
type CandidateClass struct {
	Concept        ConceptType    `json:"concept"`
	Label          string         `json:"label"`
	Definition     string         `json:"definition"`
	TextReferences []string       `json:"text_references,omitempty"`
	SourceText     string         `json:"source_text,omitempty"` // one quote, <=500 chars, derived from TextReferences
	Confidence     float64        `json:"confidence"`
	Importance     string         `json:"importance,omitempty"`
	Category       string         `json:"category,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"` // closed per-concept field set, normalized
	Match          MatchDecision  `json:"match"`
}

// Individual is a case-level instance of a concept class. Created only by
// extraction; immutable once stored.
type Individual struct {
	Concept        ConceptType    `json:"concept"`
	Identifier     string         `json:"identifier"`
	ClassReference string         `json:"class_reference,omitempty"` // label of owning candidate or existing class
	Confidence     float64        `json:"confidence"`
	Fields         map[string]any `json:"fields,omitempty"`
	Match          MatchDecision  `json:"match"`
}

// ExtractionInput is the unit-of-work input for one concept extraction.
type ExtractionInput struct {
	Concept    ConceptType `json:"concept"`
	SourceText string      `json:"source_text"`
	CaseID     int64       `json:"case_id"`
	Section    SectionType `json:"section"`
	SessionID  string      `json:"session_id"`
	// Context carries cross-concept prompt context from earlier pipeline
	// steps, keyed by concept type.
	Context map[ConceptType][]string `json:"context,omitempty"`
}

// ExtractionResult is the validated outcome of one concept extraction.
type ExtractionResult struct {
	Concept     ConceptType      `json:"concept"`
	CaseID      int64            `json:"case_id"`
	Section     SectionType      `json:"section"`
	SessionID   string           `json:"session_id"`
	Classes     []CandidateClass `json:"classes"`
	Individuals []Individual     `json:"individuals"`
	// Discarded counts items dropped by per-item fallback validation.
	DiscardedClasses     int        `json:"discarded_classes,omitempty"`
	DiscardedIndividuals int        `json:"discarded_individuals,omitempty"`
	Prompt               string     `json:"-"`
	RawResponse          string     `json:"-"`
	TokenUsage           TokenUsage `json:"token_usage"`
	Duration             int64      `json:"duration_ms"`
}

// TokenUsage tracks LLM token consumption across calls.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
}

// OntologyEntity is the minimal existing-catalogue summary shape the core
// depends on.
type OntologyEntity struct {
	URI        string `json:"uri"`
	Label      string `json:"label"`
	Definition string `json:"definition"`
}

// ConceptOutcome summarizes one concept's run inside a pipeline execution.
type ConceptOutcome struct {
	Concept     ConceptType `json:"concept"`
	Pass        int         `json:"pass"`
	Section     SectionType `json:"section"`
	Classes     int         `json:"classes"`
	Individuals int         `json:"individuals"`
	Duration    int64       `json:"duration_ms"`
	CostUSD     float64     `json:"cost_usd,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// PipelineResult is the orchestrator's report for one full 9-concept run.
// A pipeline run never fails outright because one concept failed; per-concept
// errors accumulate in Errors.
type PipelineResult struct {
	CaseID           int64            `json:"case_id"`
	SessionID        string           `json:"session_id"`
	Outcomes         []ConceptOutcome `json:"outcomes"`
	Errors           []string         `json:"errors,omitempty"`
	TotalClasses     int              `json:"total_classes"`
	TotalIndividuals int              `json:"total_individuals"`
	TokenUsage       TokenUsage       `json:"token_usage"`
	EstimatedCost    float64          `json:"estimated_cost_usd"`
	StartedAt        time.Time        `json:"started_at"`
	Duration         int64            `json:"duration_ms"`
}

// ProgressEvent is emitted as each concept in a pass completes. Partial
// results already emitted are not retracted if a later concept fails.
type ProgressEvent struct {
	Pass      int            `json:"pass"`
	PassName  string         `json:"pass_name"`
	Concept   ConceptType    `json:"concept"`
	Outcome   ConceptOutcome `json:"outcome"`
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
}
