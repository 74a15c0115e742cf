package model

import "time"

// Environment scopes provenance records to a deployment stage.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvTest, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// ActivityStatus is the lifecycle state of a provenance activity.
type ActivityStatus string

const (
	ActivityStarted   ActivityStatus = "started"
	ActivityCompleted ActivityStatus = "completed"
	ActivityFailed    ActivityStatus = "failed"
)

// Activity is a timed unit of work in the W3C PROV-O sense. Created at
// invocation start, mutated once at completion or failure, never deleted
// except by explicit development-environment cleanup.
type Activity struct {
	ID            string         `json:"id"`
	Type          string         `json:"activity_type"`
	Name          string         `json:"activity_name"`
	CaseID        int64          `json:"case_id"`
	SessionID     string         `json:"session_id"`
	AgentID       string         `json:"agent_id"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Duration      int64          `json:"duration_ms"`
	Status        ActivityStatus `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	VersionID     string         `json:"version_id,omitempty"`
	VersionNumber string         `json:"version_number,omitempty"`
	Environment   Environment    `json:"environment,omitempty"`
	AutoCleanup   bool           `json:"auto_cleanup"`
}

// EntityKind classifies the artifact an entity records.
type EntityKind string

const (
	EntityPrompt    EntityKind = "prompt"
	EntityResponse  EntityKind = "response"
	EntityResultSet EntityKind = "result_set"
)

// Entity is a content-addressed artifact produced by exactly one activity.
type Entity struct {
	ID                   string      `json:"id"`
	Kind                 EntityKind  `json:"kind"`
	ContentHash          string      `json:"content_hash"` // SHA-256 of content
	Content              string      `json:"content,omitempty"`
	GeneratingActivityID string      `json:"generating_activity_id"`
	CreatedAt            time.Time   `json:"created_at"`
	VersionID            string      `json:"version_id,omitempty"`
	Environment          Environment `json:"environment,omitempty"`
	AutoCleanup          bool        `json:"auto_cleanup"`
}

// DerivationRelation names the PROV-O relation between two entities.
type DerivationRelation string

const (
	RelationDerivation    DerivationRelation = "derivation"
	RelationUsage         DerivationRelation = "usage"
	RelationCommunication DerivationRelation = "communication"
)

// Derivation is an outgoing edge from one entity to the entity it was
// derived from.
type Derivation struct {
	ID             string             `json:"id"`
	EntityID       string             `json:"entity_id"`
	SourceEntityID string             `json:"source_entity_id"`
	Relation       DerivationRelation `json:"relation"`
}

// VersionStatus is the lifecycle state of a workflow version.
type VersionStatus string

const (
	VersionDraft      VersionStatus = "draft"
	VersionCandidate  VersionStatus = "candidate"
	VersionReleased   VersionStatus = "released"
	VersionSuperseded VersionStatus = "superseded"
	VersionArchived   VersionStatus = "archived"
)

// Version is a semantically-numbered, environment-scoped snapshot of a
// workflow's behavior, separating trial runs from released behavior.
type Version struct {
	ID               string        `json:"id"`
	WorkflowName     string        `json:"workflow_name"`
	Number           string        `json:"version_number"` // major.minor.patch
	Environment      Environment   `json:"environment"`
	Status           VersionStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"` // development only
	ConsolidatedFrom []string      `json:"consolidated_from,omitempty"`
	Strategy         string        `json:"consolidation_strategy,omitempty"`
	// Accuracy is an optional recorded quality metric used by the
	// latest_best consolidation strategy.
	Accuracy float64 `json:"accuracy,omitempty"`
}

// VersioningContext carries the active workflow version through the call
// chain. It is an explicit value, never stored on a long-lived service.
type VersioningContext struct {
	WorkflowName  string      `json:"workflow_name"`
	Environment   Environment `json:"environment"`
	VersionID     string      `json:"version_id"`
	VersionNumber string      `json:"version_number"`
}
