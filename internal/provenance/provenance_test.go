package provenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proethica/ontextract/internal/config"
	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testVersioningConfig() config.VersioningConfig {
	return config.VersioningConfig{
		Workflow:             "concept_extraction",
		Environment:          "development",
		MinRunsForProduction: 3,
		RequireApproval:      false,
		MinTrialVersions:     2,
		DevExpiryHours:       168,
	}
}

func TestTrackCompletesActivity(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s, "ontextract")

	activity, err := tracker.Track(context.Background(), ActivitySpec{
		Type:      "extraction",
		Name:      "roles",
		CaseID:    252,
		SessionID: "sess-1",
	}, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.ActivityCompleted, activity.Status)

	stored, err := s.GetActivity(context.Background(), activity.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityCompleted, stored.Status)
	assert.Equal(t, "ontextract", stored.AgentID)
	assert.NotNil(t, stored.EndedAt)
}

func TestTrackFailurePropagatesError(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s, "ontextract")

	fnErr := eris.New("obligations extraction failed")
	activity, err := tracker.Track(context.Background(), ActivitySpec{
		Type: "extraction",
		Name: "obligations",
	}, func(ctx context.Context) error {
		return fnErr
	})
	require.ErrorIs(t, err, fnErr)

	stored, getErr := s.GetActivity(context.Background(), activity.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.ActivityFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "obligations extraction failed")
}

func TestTrackDevelopmentActivityGetsAutoCleanup(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s, "ontextract")

	activity, err := tracker.Track(context.Background(), ActivitySpec{
		Type: "extraction",
		Name: "roles",
		Versioning: model.VersioningContext{
			WorkflowName: "concept_extraction",
			Environment:  model.EnvDevelopment,
			VersionID:    "v1",
		},
	}, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	stored, err := s.GetActivity(context.Background(), activity.ID)
	require.NoError(t, err)
	assert.True(t, stored.AutoCleanup)
	assert.Equal(t, model.EnvDevelopment, stored.Environment)
}

func TestRecordExchangeLinksResponseToPrompt(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s, "ontextract")

	activity, err := tracker.Track(context.Background(), ActivitySpec{
		Type: "extraction", Name: "roles",
	}, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	promptEnt, respEnt, err := tracker.RecordExchange(context.Background(),
		activity.ID, "the prompt", "the response", model.VersioningContext{})
	require.NoError(t, err)

	assert.Equal(t, HashContent("the prompt"), promptEnt.ContentHash)
	assert.Equal(t, HashContent("the response"), respEnt.ContentHash)
	assert.Len(t, promptEnt.ContentHash, 64)

	derivations, err := s.ListDerivations(context.Background(), respEnt.ID)
	require.NoError(t, err)
	require.Len(t, derivations, 1)
	assert.Equal(t, promptEnt.ID, derivations[0].SourceEntityID)
	assert.Equal(t, model.RelationDerivation, derivations[0].Relation)

	entities, err := s.ListEntitiesByActivity(context.Background(), activity.ID)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
}

func TestHashContentIsStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, HashContent("abc"), HashContent("abc"))
	assert.NotEqual(t, HashContent("abc"), HashContent("abd"))
}

func TestEnsureVersionCreatesInitialDraft(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, testVersioningConfig())

	vc, err := m.EnsureVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", vc.VersionNumber)
	assert.Equal(t, model.EnvDevelopment, vc.Environment)

	v, err := s.GetVersion(context.Background(), vc.VersionID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionDraft, v.Status)
	require.NotNil(t, v.ExpiresAt, "development versions expire")

	again, err := m.EnsureVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vc.VersionID, again.VersionID, "second call reuses the existing version")
}

func TestNextNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current string
		env     model.Environment
		want    string
	}{
		{"0.1.0", model.EnvDevelopment, "0.1.1"},
		{"0.1.7", model.EnvTest, "0.1.8"},
		{"1.2.3", model.EnvProduction, "1.3.0"},
		{"0.1.5", model.EnvProduction, "0.2.0"},
	}
	for _, tt := range tests {
		got, err := nextNumber(tt.current, tt.env)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s in %s", tt.current, tt.env)
	}

	_, err := nextNumber("1.2", model.EnvDevelopment)
	require.Error(t, err)
	_, err = nextNumber("a.b.c", model.EnvDevelopment)
	require.Error(t, err)
}

func completedRun(t *testing.T, s store.Store, versionID string) {
	t.Helper()

	a := &model.Activity{Type: "extraction", Name: "roles", VersionID: versionID, Environment: model.EnvDevelopment, AutoCleanup: true}
	require.NoError(t, s.CreateActivity(context.Background(), a))
	require.NoError(t, s.CompleteActivity(context.Background(), a.ID, 10))
}

func TestMarkAsProductionRequiresMinRuns(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, testVersioningConfig())

	vc, err := m.EnsureVersion(context.Background())
	require.NoError(t, err)
	completedRun(t, s, vc.VersionID)
	completedRun(t, s, vc.VersionID)

	_, err = m.MarkAsProduction(context.Background(), vc.VersionID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need 3 for production")

	// The failed promotion left the version untouched.
	v, err := s.GetVersion(context.Background(), vc.VersionID)
	require.NoError(t, err)
	assert.Equal(t, model.EnvDevelopment, v.Environment)
	assert.Equal(t, "0.1.0", v.Number)
}

func TestMarkAsProductionRequiresApprover(t *testing.T) {
	cfg := testVersioningConfig()
	cfg.RequireApproval = true

	s := newTestStore(t)
	m := NewManager(s, cfg)

	vc, err := m.EnsureVersion(context.Background())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		completedRun(t, s, vc.VersionID)
	}

	_, err = m.MarkAsProduction(context.Background(), vc.VersionID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an approver")

	v, err := m.MarkAsProduction(context.Background(), vc.VersionID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, model.EnvProduction, v.Environment)
}

func TestMarkAsProductionPromotesAndRelabels(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, testVersioningConfig())

	vc, err := m.EnsureVersion(context.Background())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		completedRun(t, s, vc.VersionID)
	}

	promoted, err := m.MarkAsProduction(context.Background(), vc.VersionID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", promoted.Number, "promotion bumps minor and resets patch")
	assert.Equal(t, model.EnvProduction, promoted.Environment)
	assert.Equal(t, model.VersionReleased, promoted.Status)
	assert.Nil(t, promoted.ExpiresAt)

	activities, err := s.ListActivities(context.Background(), store.ActivityFilter{VersionID: vc.VersionID})
	require.NoError(t, err)
	require.NotEmpty(t, activities)
	for _, a := range activities {
		assert.Equal(t, model.EnvProduction, a.Environment)
		assert.False(t, a.AutoCleanup, "production records are never auto-cleaned")
	}

	_, err = m.MarkAsProduction(context.Background(), vc.VersionID, "reviewer")
	require.Error(t, err, "re-promoting a production version is rejected")
}

func TestConsolidateLatestBest(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, testVersioningConfig())

	v1 := &model.Version{WorkflowName: "concept_extraction", Number: "0.1.1", Environment: model.EnvDevelopment, Accuracy: 0.7, CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	v2 := &model.Version{WorkflowName: "concept_extraction", Number: "0.1.2", Environment: model.EnvDevelopment, Accuracy: 0.9, CreatedAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, s.CreateVersion(context.Background(), v1))
	require.NoError(t, s.CreateVersion(context.Background(), v2))

	consolidated, err := m.Consolidate(context.Background(), []string{v1.ID, v2.ID}, StrategyLatestBest)
	require.NoError(t, err)
	assert.Equal(t, "0.1.3", consolidated.Number, "consolidation bumps the best source's patch")
	assert.Equal(t, model.VersionCandidate, consolidated.Status)
	assert.Equal(t, 0.9, consolidated.Accuracy)
	assert.ElementsMatch(t, []string{v1.ID, v2.ID}, consolidated.ConsolidatedFrom)

	for _, id := range []string{v1.ID, v2.ID} {
		v, err := s.GetVersion(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.VersionSuperseded, v.Status)
	}
}

func TestConsolidateCarriesBestSourceActivities(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, testVersioningConfig())

	worse := &model.Version{WorkflowName: "concept_extraction", Number: "0.1.1", Environment: model.EnvDevelopment, Accuracy: 0.6, CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	best := &model.Version{WorkflowName: "concept_extraction", Number: "0.1.2", Environment: model.EnvDevelopment, Accuracy: 0.9, CreatedAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, s.CreateVersion(context.Background(), worse))
	require.NoError(t, s.CreateVersion(context.Background(), best))
	completedRun(t, s, worse.ID)
	for i := 0; i < 3; i++ {
		completedRun(t, s, best.ID)
	}

	consolidated, err := m.Consolidate(context.Background(), []string{worse.ID, best.ID}, StrategyLatestBest)
	require.NoError(t, err)

	runs, err := s.CountCompletedActivities(context.Background(), consolidated.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, runs, "consolidated version carries the chosen source's completed runs")

	remaining, err := s.CountCompletedActivities(context.Background(), best.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining, "records moved off the superseded source")

	// The carried runs satisfy the promotion guard.
	promoted, err := m.MarkAsProduction(context.Background(), consolidated.ID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, model.EnvProduction, promoted.Environment)
}

func TestConsolidateUnimplementedStrategies(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, testVersioningConfig())

	for _, strategy := range []string{StrategyAverage, StrategyUnion} {
		_, err := m.Consolidate(context.Background(), []string{"a", "b"}, strategy)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not implemented")
	}

	_, err := m.Consolidate(context.Background(), []string{"a", "b"}, "median")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown consolidation strategy")

	_, err = m.Consolidate(context.Background(), []string{"a"}, StrategyLatestBest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 versions")
}

func TestCleanupExpiredRemovesDevelopmentRecords(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, testVersioningConfig())

	expired := time.Now().UTC().Add(-48 * time.Hour)
	v := &model.Version{
		WorkflowName: "concept_extraction",
		Number:       "0.1.0",
		Environment:  model.EnvDevelopment,
		ExpiresAt:    &expired,
	}
	require.NoError(t, s.CreateVersion(context.Background(), v))
	completedRun(t, s, v.ID)

	n, err := m.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2, "version and activity rows removed")

	_, err = s.GetVersion(context.Background(), v.ID)
	require.Error(t, err)
}
