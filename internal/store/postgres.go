package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/proethica/ontextract/internal/db"
	"github.com/proethica/ontextract/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_activity":   `INSERT INTO prov_activities (id, activity_type, activity_name, case_id, session_id, agent_id, started_at, status, version_id, version_number, environment, auto_cleanup) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"complete_activity": `UPDATE prov_activities SET status = $1, ended_at = $2, duration_ms = $3 WHERE id = $4`,
	"fail_activity":     `UPDATE prov_activities SET status = $1, ended_at = $2, duration_ms = $3, error_message = $4 WHERE id = $5`,
	"get_activity":      `SELECT id, activity_type, activity_name, case_id, session_id, agent_id, started_at, ended_at, duration_ms, status, error_message, version_id, version_number, environment, auto_cleanup FROM prov_activities WHERE id = $1`,
	"insert_entity":     `INSERT INTO prov_entities (id, kind, content_hash, content, generating_activity_id, created_at, version_id, environment, auto_cleanup) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"insert_derivation": `INSERT INTO prov_derivations (id, entity_id, source_entity_id, relation) VALUES ($1, $2, $3, $4)`,
	"insert_version":    `INSERT INTO workflow_versions (id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"get_version":       `SELECT id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy FROM workflow_versions WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS prov_activities (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	activity_type  TEXT NOT NULL,
	activity_name  TEXT NOT NULL,
	case_id        BIGINT NOT NULL DEFAULT 0,
	session_id     TEXT NOT NULL DEFAULT '',
	agent_id       TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at       TIMESTAMPTZ,
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'started',
	error_message  TEXT,
	version_id     TEXT,
	version_number TEXT,
	environment    TEXT,
	auto_cleanup   BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS prov_entities (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind                   TEXT NOT NULL,
	content_hash           TEXT NOT NULL,
	content                TEXT,
	generating_activity_id TEXT NOT NULL REFERENCES prov_activities(id),
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	version_id             TEXT,
	environment            TEXT,
	auto_cleanup           BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS prov_derivations (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	entity_id        TEXT NOT NULL REFERENCES prov_entities(id),
	source_entity_id TEXT NOT NULL REFERENCES prov_entities(id),
	relation         TEXT NOT NULL DEFAULT 'derivation'
);

CREATE TABLE IF NOT EXISTS workflow_versions (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workflow_name          TEXT NOT NULL,
	version_number         TEXT NOT NULL,
	environment            TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'draft',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at             TIMESTAMPTZ,
	consolidated_from      JSONB,
	consolidation_strategy TEXT,
	accuracy               DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS extraction_records (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	case_id      BIGINT NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	concept      TEXT NOT NULL,
	section      TEXT NOT NULL,
	result       JSONB NOT NULL,
	activity_id  TEXT,
	version_id   TEXT,
	environment  TEXT,
	auto_cleanup BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extraction_classes (
	case_id    BIGINT NOT NULL,
	concept    TEXT NOT NULL,
	label      TEXT NOT NULL,
	definition TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	matched_uri TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (case_id, concept, label)
);

CREATE INDEX IF NOT EXISTS idx_activities_session ON prov_activities(session_id);
CREATE INDEX IF NOT EXISTS idx_activities_case ON prov_activities(case_id);
CREATE INDEX IF NOT EXISTS idx_activities_version ON prov_activities(version_id);
CREATE INDEX IF NOT EXISTS idx_entities_activity ON prov_entities(generating_activity_id);
CREATE INDEX IF NOT EXISTS idx_entities_hash ON prov_entities(content_hash);
CREATE INDEX IF NOT EXISTS idx_derivations_entity ON prov_derivations(entity_id);
CREATE INDEX IF NOT EXISTS idx_versions_workflow ON workflow_versions(workflow_name, environment);
CREATE INDEX IF NOT EXISTS idx_versions_expires ON workflow_versions(expires_at);
CREATE INDEX IF NOT EXISTS idx_records_case ON extraction_records(case_id);
CREATE INDEX IF NOT EXISTS idx_records_session ON extraction_records(session_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateActivity(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.ActivityStarted
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO prov_activities (id, activity_type, activity_name, case_id, session_id, agent_id, started_at, status, version_id, version_number, environment, auto_cleanup)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Type, a.Name, a.CaseID, a.SessionID, a.AgentID, a.StartedAt,
		string(a.Status), a.VersionID, a.VersionNumber, string(a.Environment), a.AutoCleanup,
	)
	return eris.Wrap(err, "postgres: insert activity")
}

func (s *PostgresStore) CompleteActivity(ctx context.Context, id string, durationMs int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prov_activities SET status = $1, ended_at = $2, duration_ms = $3 WHERE id = $4`,
		string(model.ActivityCompleted), time.Now().UTC(), durationMs, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete activity %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("activity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailActivity(ctx context.Context, id string, errMsg string, durationMs int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prov_activities SET status = $1, ended_at = $2, duration_ms = $3, error_message = $4 WHERE id = $5`,
		string(model.ActivityFailed), time.Now().UTC(), durationMs, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail activity %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("activity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetActivity(ctx context.Context, id string) (*model.Activity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, activity_type, activity_name, case_id, session_id, agent_id, started_at, ended_at, duration_ms, status, error_message, version_id, version_number, environment, auto_cleanup
		 FROM prov_activities WHERE id = $1`,
		id,
	)
	a, err := scanActivity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get activity %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]model.Activity, error) {
	query := `SELECT id, activity_type, activity_name, case_id, session_id, agent_id, started_at, ended_at, duration_ms, status, error_message, version_id, version_number, environment, auto_cleanup
	          FROM prov_activities WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CaseID != 0 {
		query += fmt.Sprintf(` AND case_id = $%d`, argIdx)
		args = append(args, filter.CaseID)
		argIdx++
	}
	if filter.SessionID != "" {
		query += fmt.Sprintf(` AND session_id = $%d`, argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(` AND activity_type = $%d`, argIdx)
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.VersionID != "" {
		query += fmt.Sprintf(` AND version_id = $%d`, argIdx)
		args = append(args, filter.VersionID)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list activities")
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity")
		}
		activities = append(activities, *a)
	}
	return activities, eris.Wrap(rows.Err(), "postgres: list activities iterate")
}

func (s *PostgresStore) CountCompletedActivities(ctx context.Context, versionID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM prov_activities WHERE version_id = $1 AND status = $2`,
		versionID, string(model.ActivityCompleted),
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count completed activities")
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO prov_entities (id, kind, content_hash, content, generating_activity_id, created_at, version_id, environment, auto_cleanup)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Kind), e.ContentHash, e.Content, e.GeneratingActivityID,
		e.CreatedAt, e.VersionID, string(e.Environment), e.AutoCleanup,
	)
	return eris.Wrap(err, "postgres: insert entity")
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	var e model.Entity
	var content *string
	var versionID, environment *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, content_hash, content, generating_activity_id, created_at, version_id, environment, auto_cleanup
		 FROM prov_entities WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Kind, &e.ContentHash, &content, &e.GeneratingActivityID, &e.CreatedAt, &versionID, &environment, &e.AutoCleanup)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}
	if content != nil {
		e.Content = *content
	}
	if versionID != nil {
		e.VersionID = *versionID
	}
	if environment != nil {
		e.Environment = model.Environment(*environment)
	}
	return &e, nil
}

func (s *PostgresStore) ListEntitiesByActivity(ctx context.Context, activityID string) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, content_hash, content, generating_activity_id, created_at, version_id, environment, auto_cleanup
		 FROM prov_entities WHERE generating_activity_id = $1 ORDER BY created_at ASC`,
		activityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		var e model.Entity
		var content, versionID, environment *string
		if err := rows.Scan(&e.ID, &e.Kind, &e.ContentHash, &content, &e.GeneratingActivityID, &e.CreatedAt, &versionID, &environment, &e.AutoCleanup); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		if content != nil {
			e.Content = *content
		}
		if versionID != nil {
			e.VersionID = *versionID
		}
		if environment != nil {
			e.Environment = model.Environment(*environment)
		}
		entities = append(entities, e)
	}
	return entities, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) CreateDerivation(ctx context.Context, d *model.Derivation) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Relation == "" {
		d.Relation = model.RelationDerivation
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO prov_derivations (id, entity_id, source_entity_id, relation) VALUES ($1, $2, $3, $4)`,
		d.ID, d.EntityID, d.SourceEntityID, string(d.Relation),
	)
	return eris.Wrap(err, "postgres: insert derivation")
}

func (s *PostgresStore) ListDerivations(ctx context.Context, entityID string) ([]model.Derivation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, source_entity_id, relation FROM prov_derivations WHERE entity_id = $1`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list derivations")
	}
	defer rows.Close()

	var derivations []model.Derivation
	for rows.Next() {
		var d model.Derivation
		if err := rows.Scan(&d.ID, &d.EntityID, &d.SourceEntityID, &d.Relation); err != nil {
			return nil, eris.Wrap(err, "postgres: scan derivation")
		}
		derivations = append(derivations, d)
	}
	return derivations, eris.Wrap(rows.Err(), "postgres: list derivations iterate")
}

func (s *PostgresStore) CreateVersion(ctx context.Context, v *model.Version) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if v.Status == "" {
		v.Status = model.VersionDraft
	}

	consolidatedJSON, err := json.Marshal(v.ConsolidatedFrom)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal consolidated_from")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_versions (id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.WorkflowName, v.Number, string(v.Environment), string(v.Status),
		v.CreatedAt, v.ExpiresAt, consolidatedJSON, v.Strategy, v.Accuracy,
	)
	return eris.Wrap(err, "postgres: insert version")
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (*model.Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy
		 FROM workflow_versions WHERE id = $1`,
		id,
	)
	v, err := scanVersion(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get version %s", id)
	}
	return v, nil
}

func (s *PostgresStore) LatestVersion(ctx context.Context, workflow string, env model.Environment) (*model.Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy
		 FROM workflow_versions WHERE workflow_name = $1 AND environment = $2
		 ORDER BY created_at DESC LIMIT 1`,
		workflow, string(env),
	)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest version")
	}
	return v, nil
}

func (s *PostgresStore) UpdateVersion(ctx context.Context, v *model.Version) error {
	consolidatedJSON, err := json.Marshal(v.ConsolidatedFrom)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal consolidated_from")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_versions SET version_number = $1, environment = $2, status = $3, expires_at = $4, consolidated_from = $5, consolidation_strategy = $6, accuracy = $7 WHERE id = $8`,
		v.Number, string(v.Environment), string(v.Status), v.ExpiresAt,
		consolidatedJSON, v.Strategy, v.Accuracy, v.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update version %s", v.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("version not found: %s", v.ID)
	}
	return nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, filter VersionFilter) ([]model.Version, error) {
	query := `SELECT id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy
	          FROM workflow_versions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Workflow != "" {
		query += fmt.Sprintf(` AND workflow_name = $%d`, argIdx)
		args = append(args, filter.Workflow)
		argIdx++
	}
	if filter.Environment != "" {
		query += fmt.Sprintf(` AND environment = $%d`, argIdx)
		args = append(args, string(filter.Environment))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list versions")
	}
	defer rows.Close()

	var versions []model.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan version")
		}
		versions = append(versions, *v)
	}
	return versions, eris.Wrap(rows.Err(), "postgres: list versions iterate")
}

func (s *PostgresStore) RelabelVersionRecords(ctx context.Context, versionID string, env model.Environment, autoCleanup bool) error {
	for _, table := range []string{"prov_activities", "prov_entities", "extraction_records"} {
		_, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET environment = $1, auto_cleanup = $2 WHERE version_id = $3`, table),
			string(env), autoCleanup, versionID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: relabel %s for version %s", table, versionID)
		}
	}
	return nil
}

func (s *PostgresStore) ReassignVersionRecords(ctx context.Context, fromVersionID, toVersionID string) error {
	for _, table := range []string{"prov_activities", "prov_entities", "extraction_records"} {
		_, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET version_id = $1 WHERE version_id = $2`, table),
			toVersionID, fromVersionID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: reassign %s from version %s", table, fromVersionID)
		}
	}
	return nil
}

func (s *PostgresStore) SaveExtraction(ctx context.Context, rec *model.ExtractionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_records (id, case_id, session_id, concept, section, result, activity_id, version_id, environment, auto_cleanup, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.CaseID, rec.SessionID, string(rec.Concept), string(rec.Section),
		resultJSON, rec.ActivityID, rec.VersionID, string(rec.Environment), rec.AutoCleanup, rec.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert extraction record")
	}

	// Maintain the reconciled per-case class table; repeated runs over the
	// same case update in place.
	if rec.Result != nil && len(rec.Result.Classes) > 0 {
		now := time.Now().UTC()
		rows := make([][]any, 0, len(rec.Result.Classes))
		for _, c := range rec.Result.Classes {
			rows = append(rows, []any{
				rec.CaseID, string(rec.Concept), c.Label, c.Definition,
				c.Category, c.Confidence, c.Match.MatchedURI, now,
			})
		}
		_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "extraction_classes",
			Columns:      []string{"case_id", "concept", "label", "definition", "category", "confidence", "matched_uri", "updated_at"},
			ConflictKeys: []string{"case_id", "concept", "label"},
		}, rows)
		if err != nil {
			return eris.Wrap(err, "postgres: upsert extraction classes")
		}
	}
	return nil
}

func (s *PostgresStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.ExtractionRecord, error) {
	query := `SELECT id, case_id, session_id, concept, section, result, activity_id, version_id, environment, auto_cleanup, created_at
	          FROM extraction_records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CaseID != 0 {
		query += fmt.Sprintf(` AND case_id = $%d`, argIdx)
		args = append(args, filter.CaseID)
		argIdx++
	}
	if filter.SessionID != "" {
		query += fmt.Sprintf(` AND session_id = $%d`, argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.Concept != "" {
		query += fmt.Sprintf(` AND concept = $%d`, argIdx)
		args = append(args, string(filter.Concept))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extractions")
	}
	defer rows.Close()

	var records []model.ExtractionRecord
	for rows.Next() {
		var rec model.ExtractionRecord
		var resultJSON []byte
		var activityID, versionID, environment *string
		if err := rows.Scan(&rec.ID, &rec.CaseID, &rec.SessionID, &rec.Concept, &rec.Section,
			&resultJSON, &activityID, &versionID, &environment, &rec.AutoCleanup, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction record")
		}
		rec.Result = &model.ExtractionResult{}
		if err := json.Unmarshal(resultJSON, rec.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extraction result")
		}
		if activityID != nil {
			rec.ActivityID = *activityID
		}
		if versionID != nil {
			rec.VersionID = *versionID
		}
		if environment != nil {
			rec.Environment = model.Environment(*environment)
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list extractions iterate")
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	total := 0
	statements := []string{
		`DELETE FROM prov_derivations WHERE entity_id IN (
			SELECT id FROM prov_entities WHERE auto_cleanup AND version_id IN (
				SELECT id FROM workflow_versions WHERE environment = 'development' AND expires_at <= now()))`,
		`DELETE FROM prov_entities WHERE auto_cleanup AND version_id IN (
			SELECT id FROM workflow_versions WHERE environment = 'development' AND expires_at <= now())`,
		`DELETE FROM extraction_records WHERE auto_cleanup AND version_id IN (
			SELECT id FROM workflow_versions WHERE environment = 'development' AND expires_at <= now())`,
		`DELETE FROM prov_activities WHERE auto_cleanup AND version_id IN (
			SELECT id FROM workflow_versions WHERE environment = 'development' AND expires_at <= now())`,
		`DELETE FROM workflow_versions WHERE environment = 'development' AND expires_at <= now()`,
	}
	for _, stmt := range statements {
		tag, err := s.pool.Exec(ctx, stmt)
		if err != nil {
			return total, eris.Wrap(err, "postgres: delete expired")
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

// scanners

type scannable interface {
	Scan(dest ...any) error
}

func scanActivity(row scannable) (*model.Activity, error) {
	var a model.Activity
	var endedAt *time.Time
	var errMsg, versionID, versionNumber, environment *string

	err := row.Scan(&a.ID, &a.Type, &a.Name, &a.CaseID, &a.SessionID, &a.AgentID,
		&a.StartedAt, &endedAt, &a.Duration, &a.Status, &errMsg,
		&versionID, &versionNumber, &environment, &a.AutoCleanup)
	if err != nil {
		return nil, err
	}
	a.EndedAt = endedAt
	if errMsg != nil {
		a.ErrorMessage = *errMsg
	}
	if versionID != nil {
		a.VersionID = *versionID
	}
	if versionNumber != nil {
		a.VersionNumber = *versionNumber
	}
	if environment != nil {
		a.Environment = model.Environment(*environment)
	}
	return &a, nil
}

func scanVersion(row scannable) (*model.Version, error) {
	var v model.Version
	var expiresAt *time.Time
	var consolidatedJSON []byte
	var strategy *string

	err := row.Scan(&v.ID, &v.WorkflowName, &v.Number, &v.Environment, &v.Status,
		&v.CreatedAt, &expiresAt, &consolidatedJSON, &strategy, &v.Accuracy)
	if err != nil {
		return nil, err
	}
	v.ExpiresAt = expiresAt
	if strategy != nil {
		v.Strategy = *strategy
	}
	if len(consolidatedJSON) > 0 {
		if err := json.Unmarshal(consolidatedJSON, &v.ConsolidatedFrom); err != nil {
			return nil, eris.Wrap(err, "unmarshal consolidated_from")
		}
	}
	return &v, nil
}
