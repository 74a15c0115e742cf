package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proethica/ontextract/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateActivity_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO prov_activities`).
		WithArgs(pgxmock.AnyArg(), "extraction", "roles", int64(252), "sess-1", "ontextract",
			pgxmock.AnyArg(), "started", "", "", "", false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	a := &model.Activity{Type: "extraction", Name: "roles", CaseID: 252, SessionID: "sess-1", AgentID: "ontextract"}
	err := s.CreateActivity(context.Background(), a)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.StartedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteActivity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE prov_activities SET status`).
		WithArgs("completed", pgxmock.AnyArg(), int64(10), "missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteActivity(context.Background(), "missing-id", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activity not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActivity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM prov_activities WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetActivity(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get activity")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestVersion_NoneIsNil(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM workflow_versions WHERE workflow_name = \$1`).
		WithArgs("concept_extraction", "development").
		WillReturnError(pgx.ErrNoRows)

	v, err := s.LatestVersion(context.Background(), "concept_extraction", model.EnvDevelopment)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountCompletedActivities(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM prov_activities`).
		WithArgs("v-1", "completed").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountCompletedActivities(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReassignVersionRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	for range 3 {
		mock.ExpectExec(`UPDATE \w+ SET version_id = \$1 WHERE version_id = \$2`).
			WithArgs("v-2", "v-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 5))
	}

	err := s.ReassignVersionRecords(context.Background(), "v-1", "v-2")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RelabelVersionRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	for range 3 {
		mock.ExpectExec(`UPDATE \w+ SET environment = \$1, auto_cleanup = \$2 WHERE version_id = \$3`).
			WithArgs("production", false, "v-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	}

	err := s.RelabelVersionRecords(context.Background(), "v-1", model.EnvProduction, false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
