// Package provenance records extraction runs as PROV-O style activities with
// content-addressed entities and derivation edges, and manages the versioned
// lifecycle those records live under.
package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/store"
)

// Tracker wraps units of work in provenance activities.
type Tracker struct {
	store   store.Store
	agentID string
}

// NewTracker creates a tracker that attributes activities to agentID.
func NewTracker(s store.Store, agentID string) *Tracker {
	return &Tracker{store: s, agentID: agentID}
}

// ActivitySpec describes the activity a tracked function runs under.
type ActivitySpec struct {
	Type       string
	Name       string
	CaseID     int64
	SessionID  string
	Versioning model.VersioningContext
}

// Track runs fn inside an activity lifecycle: the activity is created in
// started state before fn runs, and stamped completed or failed afterwards.
// fn's error is always returned; a storage failure while stamping is logged
// and never masks it. Development-environment activities are marked for
// auto cleanup.
func (t *Tracker) Track(ctx context.Context, spec ActivitySpec, fn func(ctx context.Context) error) (*model.Activity, error) {
	activity := &model.Activity{
		Type:          spec.Type,
		Name:          spec.Name,
		CaseID:        spec.CaseID,
		SessionID:     spec.SessionID,
		AgentID:       t.agentID,
		Status:        model.ActivityStarted,
		VersionID:     spec.Versioning.VersionID,
		VersionNumber: spec.Versioning.VersionNumber,
		Environment:   spec.Versioning.Environment,
		AutoCleanup:   spec.Versioning.Environment == model.EnvDevelopment,
	}
	if err := t.store.CreateActivity(ctx, activity); err != nil {
		return nil, eris.Wrap(err, "provenance: create activity")
	}

	start := time.Now()
	fnErr := fn(ctx)
	duration := time.Since(start).Milliseconds()

	if fnErr != nil {
		if err := t.store.FailActivity(ctx, activity.ID, fnErr.Error(), duration); err != nil {
			zap.L().Error("provenance: record activity failure",
				zap.String("activity_id", activity.ID),
				zap.Error(err),
			)
		}
		activity.Status = model.ActivityFailed
		activity.ErrorMessage = fnErr.Error()
		activity.Duration = duration
		return activity, fnErr
	}

	if err := t.store.CompleteActivity(ctx, activity.ID, duration); err != nil {
		zap.L().Error("provenance: record activity completion",
			zap.String("activity_id", activity.ID),
			zap.Error(err),
		)
	}
	activity.Status = model.ActivityCompleted
	activity.Duration = duration
	return activity, nil
}

// RecordEntity stores a content-addressed artifact generated by an activity.
func (t *Tracker) RecordEntity(ctx context.Context, kind model.EntityKind, content string, activityID string, vc model.VersioningContext) (*model.Entity, error) {
	entity := &model.Entity{
		Kind:                 kind,
		ContentHash:          HashContent(content),
		Content:              content,
		GeneratingActivityID: activityID,
		VersionID:            vc.VersionID,
		Environment:          vc.Environment,
		AutoCleanup:          vc.Environment == model.EnvDevelopment,
	}
	if err := t.store.CreateEntity(ctx, entity); err != nil {
		return nil, eris.Wrapf(err, "provenance: create %s entity", kind)
	}
	return entity, nil
}

// Derive records that entityID was derived from sourceEntityID.
func (t *Tracker) Derive(ctx context.Context, entityID, sourceEntityID string, relation model.DerivationRelation) error {
	d := &model.Derivation{
		EntityID:       entityID,
		SourceEntityID: sourceEntityID,
		Relation:       relation,
	}
	if err := t.store.CreateDerivation(ctx, d); err != nil {
		return eris.Wrap(err, "provenance: create derivation")
	}
	return nil
}

// RecordExchange stores a prompt/response entity pair for an activity and
// links the response to the prompt it was derived from.
func (t *Tracker) RecordExchange(ctx context.Context, activityID, prompt, response string, vc model.VersioningContext) (*model.Entity, *model.Entity, error) {
	promptEntity, err := t.RecordEntity(ctx, model.EntityPrompt, prompt, activityID, vc)
	if err != nil {
		return nil, nil, err
	}
	responseEntity, err := t.RecordEntity(ctx, model.EntityResponse, response, activityID, vc)
	if err != nil {
		return promptEntity, nil, err
	}
	if err := t.Derive(ctx, responseEntity.ID, promptEntity.ID, model.RelationDerivation); err != nil {
		return promptEntity, responseEntity, err
	}
	return promptEntity, responseEntity, nil
}

// HashContent returns the hex SHA-256 digest of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
