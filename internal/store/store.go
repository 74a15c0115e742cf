// Package store persists provenance records, workflow versions, and
// extraction results behind a single interface with Postgres and SQLite
// implementations.
package store

import (
	"context"

	"github.com/proethica/ontextract/internal/model"
)

// ActivityFilter specifies criteria for listing provenance activities.
type ActivityFilter struct {
	CaseID    int64                `json:"case_id,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
	Status    model.ActivityStatus `json:"status,omitempty"`
	Type      string               `json:"activity_type,omitempty"`
	VersionID string               `json:"version_id,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
	Offset    int                  `json:"offset,omitempty"`
}

// VersionFilter specifies criteria for listing workflow versions.
type VersionFilter struct {
	Workflow    string              `json:"workflow,omitempty"`
	Environment model.Environment   `json:"environment,omitempty"`
	Status      model.VersionStatus `json:"status,omitempty"`
	Limit       int                 `json:"limit,omitempty"`
}

// ExtractionFilter specifies criteria for listing extraction records.
type ExtractionFilter struct {
	CaseID    int64             `json:"case_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Concept   model.ConceptType `json:"concept,omitempty"`
	Limit     int               `json:"limit,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
// Create methods assign IDs and timestamps when the caller leaves them zero.
type Store interface {
	// Activities
	CreateActivity(ctx context.Context, a *model.Activity) error
	CompleteActivity(ctx context.Context, id string, durationMs int64) error
	FailActivity(ctx context.Context, id string, errMsg string, durationMs int64) error
	GetActivity(ctx context.Context, id string) (*model.Activity, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]model.Activity, error)
	CountCompletedActivities(ctx context.Context, versionID string) (int, error)

	// Entities
	CreateEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	ListEntitiesByActivity(ctx context.Context, activityID string) ([]model.Entity, error)

	// Derivations
	CreateDerivation(ctx context.Context, d *model.Derivation) error
	ListDerivations(ctx context.Context, entityID string) ([]model.Derivation, error)

	// Versions
	CreateVersion(ctx context.Context, v *model.Version) error
	GetVersion(ctx context.Context, id string) (*model.Version, error)
	LatestVersion(ctx context.Context, workflow string, env model.Environment) (*model.Version, error)
	UpdateVersion(ctx context.Context, v *model.Version) error
	ListVersions(ctx context.Context, filter VersionFilter) ([]model.Version, error)
	// RelabelVersionRecords moves every activity, entity, and extraction
	// record under a version to a new environment and cleanup policy.
	RelabelVersionRecords(ctx context.Context, versionID string, env model.Environment, autoCleanup bool) error
	// ReassignVersionRecords re-parents every activity, entity, and
	// extraction record from one version to another.
	ReassignVersionRecords(ctx context.Context, fromVersionID, toVersionID string) error

	// Extraction records
	SaveExtraction(ctx context.Context, rec *model.ExtractionRecord) error
	ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.ExtractionRecord, error)

	// DeleteExpired removes development versions past their expiry along
	// with their auto-cleanup provenance and extraction rows. Returns the
	// number of rows removed.
	DeleteExpired(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
