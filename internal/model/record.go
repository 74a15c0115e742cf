package model

import "time"

// ExtractionRecord is the persisted form of one concept extraction, tied to
// the provenance activity that produced it and the workflow version it ran
// under.
type ExtractionRecord struct {
	ID          string            `json:"id"`
	CaseID      int64             `json:"case_id"`
	SessionID   string            `json:"session_id"`
	Concept     ConceptType       `json:"concept"`
	Section     SectionType       `json:"section"`
	Result      *ExtractionResult `json:"result"`
	ActivityID  string            `json:"activity_id,omitempty"`
	VersionID   string            `json:"version_id,omitempty"`
	Environment Environment       `json:"environment,omitempty"`
	AutoCleanup bool              `json:"auto_cleanup"`
	CreatedAt   time.Time         `json:"created_at"`
}
