package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/proethica/ontextract/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prov_activities (
	id             TEXT PRIMARY KEY,
	activity_type  TEXT NOT NULL,
	activity_name  TEXT NOT NULL,
	case_id        INTEGER NOT NULL DEFAULT 0,
	session_id     TEXT NOT NULL DEFAULT '',
	agent_id       TEXT NOT NULL DEFAULT '',
	started_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	ended_at       DATETIME,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'started',
	error_message  TEXT,
	version_id     TEXT,
	version_number TEXT,
	environment    TEXT,
	auto_cleanup   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prov_entities (
	id                     TEXT PRIMARY KEY,
	kind                   TEXT NOT NULL,
	content_hash           TEXT NOT NULL,
	content                TEXT,
	generating_activity_id TEXT NOT NULL REFERENCES prov_activities(id),
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	version_id             TEXT,
	environment            TEXT,
	auto_cleanup           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prov_derivations (
	id               TEXT PRIMARY KEY,
	entity_id        TEXT NOT NULL REFERENCES prov_entities(id),
	source_entity_id TEXT NOT NULL REFERENCES prov_entities(id),
	relation         TEXT NOT NULL DEFAULT 'derivation'
);

CREATE TABLE IF NOT EXISTS workflow_versions (
	id                     TEXT PRIMARY KEY,
	workflow_name          TEXT NOT NULL,
	version_number         TEXT NOT NULL,
	environment            TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'draft',
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at             DATETIME,
	consolidated_from      TEXT,
	consolidation_strategy TEXT,
	accuracy               REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS extraction_records (
	id           TEXT PRIMARY KEY,
	case_id      INTEGER NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	concept      TEXT NOT NULL,
	section      TEXT NOT NULL,
	result       TEXT NOT NULL,
	activity_id  TEXT,
	version_id   TEXT,
	environment  TEXT,
	auto_cleanup INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extraction_classes (
	case_id     INTEGER NOT NULL,
	concept     TEXT NOT NULL,
	label       TEXT NOT NULL,
	definition  TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL DEFAULT 0,
	matched_uri TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (case_id, concept, label)
);

CREATE INDEX IF NOT EXISTS idx_activities_session ON prov_activities(session_id);
CREATE INDEX IF NOT EXISTS idx_activities_case ON prov_activities(case_id);
CREATE INDEX IF NOT EXISTS idx_activities_version ON prov_activities(version_id);
CREATE INDEX IF NOT EXISTS idx_entities_activity ON prov_entities(generating_activity_id);
CREATE INDEX IF NOT EXISTS idx_derivations_entity ON prov_derivations(entity_id);
CREATE INDEX IF NOT EXISTS idx_versions_workflow ON workflow_versions(workflow_name, environment);
CREATE INDEX IF NOT EXISTS idx_records_case ON extraction_records(case_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateActivity(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.ActivityStarted
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prov_activities (id, activity_type, activity_name, case_id, session_id, agent_id, started_at, status, version_id, version_number, environment, auto_cleanup)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Name, a.CaseID, a.SessionID, a.AgentID, a.StartedAt,
		string(a.Status), a.VersionID, a.VersionNumber, string(a.Environment), a.AutoCleanup,
	)
	return eris.Wrap(err, "sqlite: insert activity")
}

func (s *SQLiteStore) CompleteActivity(ctx context.Context, id string, durationMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prov_activities SET status = ?, ended_at = ?, duration_ms = ? WHERE id = ?`,
		string(model.ActivityCompleted), time.Now().UTC(), durationMs, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete activity %s", id)
	}
	return checkRowsAffected(res, "activity", id)
}

func (s *SQLiteStore) FailActivity(ctx context.Context, id string, errMsg string, durationMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prov_activities SET status = ?, ended_at = ?, duration_ms = ?, error_message = ? WHERE id = ?`,
		string(model.ActivityFailed), time.Now().UTC(), durationMs, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail activity %s", id)
	}
	return checkRowsAffected(res, "activity", id)
}

func (s *SQLiteStore) GetActivity(ctx context.Context, id string) (*model.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, activity_type, activity_name, case_id, session_id, agent_id, started_at, ended_at, duration_ms, status, error_message, version_id, version_number, environment, auto_cleanup
		 FROM prov_activities WHERE id = ?`,
		id,
	)
	a, err := scanSQLiteActivity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get activity %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]model.Activity, error) {
	query := `SELECT id, activity_type, activity_name, case_id, session_id, agent_id, started_at, ended_at, duration_ms, status, error_message, version_id, version_number, environment, auto_cleanup
	          FROM prov_activities WHERE 1=1`
	var args []any

	if filter.CaseID != 0 {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND activity_type = ?`
		args = append(args, filter.Type)
	}
	if filter.VersionID != "" {
		query += ` AND version_id = ?`
		args = append(args, filter.VersionID)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list activities")
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		a, err := scanSQLiteActivity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan activity")
		}
		activities = append(activities, *a)
	}
	return activities, eris.Wrap(rows.Err(), "sqlite: list activities iterate")
}

func (s *SQLiteStore) CountCompletedActivities(ctx context.Context, versionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prov_activities WHERE version_id = ? AND status = ?`,
		versionID, string(model.ActivityCompleted),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count completed activities")
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prov_entities (id, kind, content_hash, content, generating_activity_id, created_at, version_id, environment, auto_cleanup)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.ContentHash, e.Content, e.GeneratingActivityID,
		e.CreatedAt, e.VersionID, string(e.Environment), e.AutoCleanup,
	)
	return eris.Wrap(err, "sqlite: insert entity")
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, content_hash, content, generating_activity_id, created_at, version_id, environment, auto_cleanup
		 FROM prov_entities WHERE id = ?`,
		id,
	)
	e, err := scanSQLiteEntity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntitiesByActivity(ctx context.Context, activityID string) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, content_hash, content, generating_activity_id, created_at, version_id, environment, auto_cleanup
		 FROM prov_entities WHERE generating_activity_id = ? ORDER BY created_at ASC`,
		activityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanSQLiteEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		entities = append(entities, *e)
	}
	return entities, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) CreateDerivation(ctx context.Context, d *model.Derivation) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Relation == "" {
		d.Relation = model.RelationDerivation
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prov_derivations (id, entity_id, source_entity_id, relation) VALUES (?, ?, ?, ?)`,
		d.ID, d.EntityID, d.SourceEntityID, string(d.Relation),
	)
	return eris.Wrap(err, "sqlite: insert derivation")
}

func (s *SQLiteStore) ListDerivations(ctx context.Context, entityID string) ([]model.Derivation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, source_entity_id, relation FROM prov_derivations WHERE entity_id = ?`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list derivations")
	}
	defer rows.Close()

	var derivations []model.Derivation
	for rows.Next() {
		var d model.Derivation
		if err := rows.Scan(&d.ID, &d.EntityID, &d.SourceEntityID, &d.Relation); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan derivation")
		}
		derivations = append(derivations, d)
	}
	return derivations, eris.Wrap(rows.Err(), "sqlite: list derivations iterate")
}

func (s *SQLiteStore) CreateVersion(ctx context.Context, v *model.Version) error {
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
		return eris.Wrap(err, "sqlite: marshal consolidated_from")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_versions (id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.WorkflowName, v.Number, string(v.Environment), string(v.Status),
		v.CreatedAt, v.ExpiresAt, string(consolidatedJSON), v.Strategy, v.Accuracy,
	)
	return eris.Wrap(err, "sqlite: insert version")
}

func (s *SQLiteStore) GetVersion(ctx context.Context, id string) (*model.Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy
		 FROM workflow_versions WHERE id = ?`,
		id,
	)
	v, err := scanSQLiteVersion(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get version %s", id)
	}
	return v, nil
}

func (s *SQLiteStore) LatestVersion(ctx context.Context, workflow string, env model.Environment) (*model.Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy
		 FROM workflow_versions WHERE workflow_name = ? AND environment = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		workflow, string(env),
	)
	v, err := scanSQLiteVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: latest version")
	}
	return v, nil
}

func (s *SQLiteStore) UpdateVersion(ctx context.Context, v *model.Version) error {
	consolidatedJSON, err := json.Marshal(v.ConsolidatedFrom)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal consolidated_from")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_versions SET version_number = ?, environment = ?, status = ?, expires_at = ?, consolidated_from = ?, consolidation_strategy = ?, accuracy = ? WHERE id = ?`,
		v.Number, string(v.Environment), string(v.Status), v.ExpiresAt,
		string(consolidatedJSON), v.Strategy, v.Accuracy, v.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update version %s", v.ID)
	}
	return checkRowsAffected(res, "version", v.ID)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, filter VersionFilter) ([]model.Version, error) {
	query := `SELECT id, workflow_name, version_number, environment, status, created_at, expires_at, consolidated_from, consolidation_strategy, accuracy
	          FROM workflow_versions WHERE 1=1`
	var args []any

	if filter.Workflow != "" {
		query += ` AND workflow_name = ?`
		args = append(args, filter.Workflow)
	}
	if filter.Environment != "" {
		query += ` AND environment = ?`
		args = append(args, string(filter.Environment))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list versions")
	}
	defer rows.Close()

	var versions []model.Version
	for rows.Next() {
		v, err := scanSQLiteVersion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan version")
		}
		versions = append(versions, *v)
	}
	return versions, eris.Wrap(rows.Err(), "sqlite: list versions iterate")
}

func (s *SQLiteStore) RelabelVersionRecords(ctx context.Context, versionID string, env model.Environment, autoCleanup bool) error {
	for _, table := range []string{"prov_activities", "prov_entities", "extraction_records"} {
		_, err := s.db.ExecContext(ctx,
			`UPDATE `+table+` SET environment = ?, auto_cleanup = ? WHERE version_id = ?`,
			string(env), autoCleanup, versionID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: relabel %s for version %s", table, versionID)
		}
	}
	return nil
}

func (s *SQLiteStore) ReassignVersionRecords(ctx context.Context, fromVersionID, toVersionID string) error {
	for _, table := range []string{"prov_activities", "prov_entities", "extraction_records"} {
		_, err := s.db.ExecContext(ctx,
			`UPDATE `+table+` SET version_id = ? WHERE version_id = ?`,
			toVersionID, fromVersionID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: reassign %s from version %s", table, fromVersionID)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveExtraction(ctx context.Context, rec *model.ExtractionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extraction result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_records (id, case_id, session_id, concept, section, result, activity_id, version_id, environment, auto_cleanup, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CaseID, rec.SessionID, string(rec.Concept), string(rec.Section),
		string(resultJSON), rec.ActivityID, rec.VersionID, string(rec.Environment), rec.AutoCleanup, rec.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert extraction record")
	}

	if rec.Result != nil {
		now := time.Now().UTC()
		for _, c := range rec.Result.Classes {
			_, err := s.db.ExecContext(ctx,
				`INSERT INTO extraction_classes (case_id, concept, label, definition, category, confidence, matched_uri, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (case_id, concept, label) DO UPDATE SET
				   definition = excluded.definition, category = excluded.category,
				   confidence = excluded.confidence, matched_uri = excluded.matched_uri,
				   updated_at = excluded.updated_at`,
				rec.CaseID, string(rec.Concept), c.Label, c.Definition,
				c.Category, c.Confidence, c.Match.MatchedURI, now,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert extraction class %s", c.Label)
			}
		}
	}
	return nil
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.ExtractionRecord, error) {
	query := `SELECT id, case_id, session_id, concept, section, result, activity_id, version_id, environment, auto_cleanup, created_at
	          FROM extraction_records WHERE 1=1`
	var args []any

	if filter.CaseID != 0 {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Concept != "" {
		query += ` AND concept = ?`
		args = append(args, string(filter.Concept))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extractions")
	}
	defer rows.Close()

	var records []model.ExtractionRecord
	for rows.Next() {
		var rec model.ExtractionRecord
		var resultJSON string
		var activityID, versionID, environment sql.NullString
		if err := rows.Scan(&rec.ID, &rec.CaseID, &rec.SessionID, &rec.Concept, &rec.Section,
			&resultJSON, &activityID, &versionID, &environment, &rec.AutoCleanup, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction record")
		}
		rec.Result = &model.ExtractionResult{}
		if err := json.Unmarshal([]byte(resultJSON), rec.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal extraction result")
		}
		rec.ActivityID = activityID.String
		rec.VersionID = versionID.String
		rec.Environment = model.Environment(environment.String)
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list extractions iterate")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	total := 0
	statements := []string{
		`DELETE FROM prov_derivations WHERE entity_id IN (
			SELECT id FROM prov_entities WHERE auto_cleanup AND version_id IN (
				SELECT id FROM workflow_versions WHERE environment = 'development' AND expires_at <= datetime('now')))`,
		`DELETE FROM prov_entities WHERE auto_cleanup AND version_id IN (
			SELECT id FROM workflow_versions WHERE environment = 'development' AND expires_at <= datetime('now'))`,
		`DELETE FROM extraction_records WHERE auto_cleanup AND version_id IN (
			SELECT id FROM workflow_versions WHERE environment = 'development' AND expires_at <= datetime('now'))`,
		`DELETE FROM prov_activities WHERE auto_cleanup AND version_id IN (
			SELECT id FROM workflow_versions WHERE environment = 'development' AND expires_at <= datetime('now'))`,
		`DELETE FROM workflow_versions WHERE environment = 'development' AND expires_at <= datetime('now')`,
	}
	for _, stmt := range statements {
		res, err := s.db.ExecContext(ctx, stmt)
		if err != nil {
			return total, eris.Wrap(err, "sqlite: delete expired")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "sqlite: rows affected")
		}
		total += int(n)
	}
	return total, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanSQLiteActivity(row scannable) (*model.Activity, error) {
	var a model.Activity
	var endedAt sql.NullTime
	var errMsg, versionID, versionNumber, environment sql.NullString

	err := row.Scan(&a.ID, &a.Type, &a.Name, &a.CaseID, &a.SessionID, &a.AgentID,
		&a.StartedAt, &endedAt, &a.Duration, &a.Status, &errMsg,
		&versionID, &versionNumber, &environment, &a.AutoCleanup)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	a.ErrorMessage = errMsg.String
	a.VersionID = versionID.String
	a.VersionNumber = versionNumber.String
	a.Environment = model.Environment(environment.String)
	return &a, nil
}

func scanSQLiteEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var content, versionID, environment sql.NullString

	err := row.Scan(&e.ID, &e.Kind, &e.ContentHash, &content, &e.GeneratingActivityID,
		&e.CreatedAt, &versionID, &environment, &e.AutoCleanup)
	if err != nil {
		return nil, err
	}
	e.Content = content.String
	e.VersionID = versionID.String
	e.Environment = model.Environment(environment.String)
	return &e, nil
}

func scanSQLiteVersion(row scannable) (*model.Version, error) {
	var v model.Version
	var expiresAt sql.NullTime
	var consolidatedJSON, strategy sql.NullString

	err := row.Scan(&v.ID, &v.WorkflowName, &v.Number, &v.Environment, &v.Status,
		&v.CreatedAt, &expiresAt, &consolidatedJSON, &strategy, &v.Accuracy)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		v.ExpiresAt = &t
	}
	v.Strategy = strategy.String
	if consolidatedJSON.Valid && consolidatedJSON.String != "" {
		if err := json.Unmarshal([]byte(consolidatedJSON.String), &v.ConsolidatedFrom); err != nil {
			return nil, eris.Wrap(err, "unmarshal consolidated_from")
		}
	}
	return &v, nil
}
