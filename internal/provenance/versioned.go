package provenance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/config"
	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/store"
)

// Consolidation strategies. Only latest_best is implemented; the others are
// recognized but rejected until a use case demands them.
const (
	StrategyLatestBest = "latest_best"
	StrategyAverage    = "average"
	StrategyUnion      = "union"
)

const initialVersion = "0.1.0"

// Manager owns the versioned lifecycle of workflow provenance: version
// numbering, promotion to production, consolidation, and expiry.
type Manager struct {
	store store.Store
	cfg   config.VersioningConfig
}

// NewManager creates a version manager for the configured workflow.
func NewManager(s store.Store, cfg config.VersioningConfig) *Manager {
	return &Manager{store: s, cfg: cfg}
}

// EnsureVersion returns the versioning context for the configured workflow
// and environment, creating an initial draft version when none exists.
func (m *Manager) EnsureVersion(ctx context.Context) (model.VersioningContext, error) {
	env := model.Environment(m.cfg.Environment)
	if !env.Valid() {
		return model.VersioningContext{}, eris.Errorf("provenance: unknown environment %q", m.cfg.Environment)
	}

	latest, err := m.store.LatestVersion(ctx, m.cfg.Workflow, env)
	if err != nil {
		return model.VersioningContext{}, eris.Wrap(err, "provenance: latest version")
	}
	if latest == nil {
		latest = &model.Version{
			WorkflowName: m.cfg.Workflow,
			Number:       initialVersion,
			Environment:  env,
			Status:       model.VersionDraft,
			ExpiresAt:    m.expiry(env),
		}
		if err := m.store.CreateVersion(ctx, latest); err != nil {
			return model.VersioningContext{}, eris.Wrap(err, "provenance: create initial version")
		}
		zap.L().Info("provenance: created initial workflow version",
			zap.String("workflow", m.cfg.Workflow),
			zap.String("version", latest.Number),
			zap.String("environment", string(env)),
		)
	}

	return model.VersioningContext{
		WorkflowName:  latest.WorkflowName,
		Environment:   latest.Environment,
		VersionID:     latest.ID,
		VersionNumber: latest.Number,
	}, nil
}

// NewVersion creates the next version after the latest one in the configured
// environment. Production bumps the minor component and resets patch; every
// other environment bumps patch.
func (m *Manager) NewVersion(ctx context.Context) (*model.Version, error) {
	env := model.Environment(m.cfg.Environment)
	if !env.Valid() {
		return nil, eris.Errorf("provenance: unknown environment %q", m.cfg.Environment)
	}

	number := initialVersion
	latest, err := m.store.LatestVersion(ctx, m.cfg.Workflow, env)
	if err != nil {
		return nil, eris.Wrap(err, "provenance: latest version")
	}
	if latest != nil {
		number, err = nextNumber(latest.Number, env)
		if err != nil {
			return nil, err
		}
	}

	v := &model.Version{
		WorkflowName: m.cfg.Workflow,
		Number:       number,
		Environment:  env,
		Status:       model.VersionDraft,
		ExpiresAt:    m.expiry(env),
	}
	if err := m.store.CreateVersion(ctx, v); err != nil {
		return nil, eris.Wrap(err, "provenance: create version")
	}
	return v, nil
}

// MarkAsProduction promotes a version to the production environment. The
// version must have at least the configured number of completed runs, and an
// approver when approval is required. All guards are checked before any
// mutation; a failed promotion leaves the version untouched. On success the
// version's activities, entities, and extraction records are relabeled to
// production and excluded from automatic cleanup.
func (m *Manager) MarkAsProduction(ctx context.Context, versionID, approvedBy string) (*model.Version, error) {
	v, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, eris.Wrapf(err, "provenance: get version %s", versionID)
	}
	if v.Environment == model.EnvProduction {
		return nil, eris.Errorf("provenance: version %s is already production", v.Number)
	}

	runs, err := m.store.CountCompletedActivities(ctx, versionID)
	if err != nil {
		return nil, eris.Wrap(err, "provenance: count completed runs")
	}
	if runs < m.cfg.MinRunsForProduction {
		return nil, eris.Errorf("provenance: version %s has %d completed runs, need %d for production",
			v.Number, runs, m.cfg.MinRunsForProduction)
	}
	if m.cfg.RequireApproval && approvedBy == "" {
		return nil, eris.Errorf("provenance: promotion of version %s requires an approver", v.Number)
	}

	number, err := nextNumber(v.Number, model.EnvProduction)
	if err != nil {
		return nil, err
	}

	v.Number = number
	v.Environment = model.EnvProduction
	v.Status = model.VersionReleased
	v.ExpiresAt = nil
	if err := m.store.UpdateVersion(ctx, v); err != nil {
		return nil, eris.Wrap(err, "provenance: promote version")
	}
	if err := m.store.RelabelVersionRecords(ctx, versionID, model.EnvProduction, false); err != nil {
		return nil, eris.Wrap(err, "provenance: relabel version records")
	}

	zap.L().Info("provenance: promoted version to production",
		zap.String("version_id", versionID),
		zap.String("version", v.Number),
		zap.String("approved_by", approvedBy),
		zap.Int("completed_runs", runs),
	)
	return v, nil
}

// Consolidate merges trial versions into a single candidate version. The
// latest_best strategy picks the source with the highest recorded accuracy,
// breaking ties by recency, and carries its activities, entities, and
// extraction records into the new version so the candidate's completed-run
// count survives for promotion. Source versions are marked superseded.
func (m *Manager) Consolidate(ctx context.Context, versionIDs []string, strategy string) (*model.Version, error) {
	switch strategy {
	case StrategyLatestBest:
	case StrategyAverage, StrategyUnion:
		return nil, eris.Errorf("provenance: consolidation strategy %q not implemented", strategy)
	default:
		return nil, eris.Errorf("provenance: unknown consolidation strategy %q", strategy)
	}

	if len(versionIDs) < m.cfg.MinTrialVersions {
		return nil, eris.Errorf("provenance: consolidation needs at least %d versions, got %d",
			m.cfg.MinTrialVersions, len(versionIDs))
	}

	sources := make([]*model.Version, 0, len(versionIDs))
	for _, id := range versionIDs {
		v, err := m.store.GetVersion(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "provenance: get version %s", id)
		}
		sources = append(sources, v)
	}

	best := sources[0]
	for _, v := range sources[1:] {
		if v.Accuracy > best.Accuracy ||
			(v.Accuracy == best.Accuracy && v.CreatedAt.After(best.CreatedAt)) {
			best = v
		}
	}

	number, err := nextNumber(best.Number, best.Environment)
	if err != nil {
		return nil, err
	}

	consolidated := &model.Version{
		WorkflowName:     best.WorkflowName,
		Number:           number,
		Environment:      best.Environment,
		Status:           model.VersionCandidate,
		ExpiresAt:        m.expiry(best.Environment),
		ConsolidatedFrom: versionIDs,
		Strategy:         strategy,
		Accuracy:         best.Accuracy,
	}
	if err := m.store.CreateVersion(ctx, consolidated); err != nil {
		return nil, eris.Wrap(err, "provenance: create consolidated version")
	}
	if err := m.store.ReassignVersionRecords(ctx, best.ID, consolidated.ID); err != nil {
		return nil, eris.Wrapf(err, "provenance: carry records from version %s", best.ID)
	}

	for _, v := range sources {
		v.Status = model.VersionSuperseded
		if err := m.store.UpdateVersion(ctx, v); err != nil {
			return nil, eris.Wrapf(err, "provenance: supersede version %s", v.ID)
		}
	}

	zap.L().Info("provenance: consolidated versions",
		zap.Strings("sources", versionIDs),
		zap.String("strategy", strategy),
		zap.String("carried_from", best.ID),
		zap.String("version", consolidated.Number),
	)
	return consolidated, nil
}

// CleanupExpired removes expired development versions and their auto-cleanup
// provenance rows.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "provenance: cleanup expired")
	}
	if n > 0 {
		zap.L().Info("provenance: removed expired development records", zap.Int("rows", n))
	}
	return n, nil
}

// expiry returns the expiration timestamp for a new version, set only in the
// development environment.
func (m *Manager) expiry(env model.Environment) *time.Time {
	if env != model.EnvDevelopment {
		return nil
	}
	hours := m.cfg.DevExpiryHours
	if hours <= 0 {
		hours = 168
	}
	t := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
	return &t
}

// nextNumber bumps a major.minor.patch version for the target environment:
// production bumps minor and resets patch, everything else bumps patch.
func nextNumber(current string, env model.Environment) (string, error) {
	parts := strings.Split(current, ".")
	if len(parts) != 3 {
		return "", eris.Errorf("provenance: malformed version number %q", current)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", eris.Wrapf(err, "provenance: malformed version number %q", current)
		}
		nums[i] = n
	}

	if env == model.EnvProduction {
		return fmt.Sprintf("%d.%d.0", nums[0], nums[1]+1), nil
	}
	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2]+1), nil
}
