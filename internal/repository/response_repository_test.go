package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func responseRows(status models.ResponseStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "crisis_id", "volunteer_id", "civilian_requester_id", "status", "accepted_at", "completed_at", "failed_reason", "created_at"}).
		AddRow("resp-1", "crisis-1", "vol-1", nil, status, nil, nil, nil, time.Now())
}

func TestResponseRepositoryFindOrCreateInsertsWhenMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	mock.ExpectQuery("(?s)INSERT INTO responses.*ON CONFLICT \\(crisis_id, volunteer_id\\) DO NOTHING").
		WillReturnRows(responseRows(models.ResponseStatusNotified))

	resp, created, err := repo.FindOrCreate(context.Background(), "crisis-1", "vol-1", nil)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.ResponseStatusNotified, resp.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryFindOrCreateReusesExistingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	// Conflict: the insert returns nothing, then the existing row is read
	// back unchanged.
	mock.ExpectQuery("INSERT INTO responses").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, crisis_id, volunteer_id, civilian_requester_id, status, accepted_at, completed_at, failed_reason, created_at FROM responses WHERE crisis_id = $1 AND volunteer_id = $2")).
		WithArgs("crisis-1", "vol-1").
		WillReturnRows(responseRows(models.ResponseStatusAccepted))

	resp, created, err := repo.FindOrCreate(context.Background(), "crisis-1", "vol-1", nil)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, models.ResponseStatusAccepted, resp.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryMarkAcceptedGuardsExpectedStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	at := time.Now().UTC()
	mock.ExpectQuery("(?s)UPDATE responses SET status = .* WHERE id = .* AND status = ").
		WithArgs("resp-1", models.ResponseStatusNotified, models.ResponseStatusAccepted, at).
		WillReturnRows(responseRows(models.ResponseStatusAccepted))

	resp, err := repo.MarkAccepted(context.Background(), "resp-1", models.ResponseStatusNotified, at)
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusAccepted, resp.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryMarkAcceptedLosesRace(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	at := time.Now().UTC()
	mock.ExpectQuery("UPDATE responses SET status = ").
		WithArgs("resp-1", models.ResponseStatusNotified, models.ResponseStatusAccepted, at).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.MarkAccepted(context.Background(), "resp-1", models.ResponseStatusNotified, at)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryMarkFailedClearsStamps(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	mock.ExpectQuery("(?s)UPDATE responses SET status = .*failed_reason = .*accepted_at = NULL, completed_at = NULL").
		WithArgs("resp-1", models.ResponseStatusAccepted, models.ResponseStatusFailed, "car broke down").
		WillReturnRows(responseRows(models.ResponseStatusFailed))

	resp, err := repo.MarkFailed(context.Background(), "resp-1", models.ResponseStatusAccepted, "car broke down")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusFailed, resp.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryUpsertAcceptedWipesFailureResidue(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	at := time.Now().UTC()
	mock.ExpectQuery("(?s)INSERT INTO responses.*DO UPDATE SET status = EXCLUDED.status,.*completed_at = NULL, failed_reason = NULL").
		WillReturnRows(responseRows(models.ResponseStatusAccepted))

	resp, err := repo.UpsertAccepted(context.Background(), "crisis-1", "vol-1", at)
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusAccepted, resp.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryListByVolunteer(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "crisis_id", "volunteer_id", "civilian_requester_id", "status", "accepted_at", "completed_at", "failed_reason", "created_at", "disaster_type", "crisis_severity", "crisis_status", "crisis_address"}).
		AddRow("resp-1", "crisis-1", "vol-1", nil, models.ResponseStatusNotified, nil, nil, nil, time.Now(), "flood", 4, models.CrisisStatusNew, nil)
	mock.ExpectQuery("(?s)SELECT r.id, .*FROM responses r.*JOIN crises c ON c.id = r.crisis_id.*WHERE r.volunteer_id = ").
		WithArgs("vol-1").
		WillReturnRows(rows)

	details, err := repo.ListByVolunteer(context.Background(), "vol-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.Equal(t, "flood", details[0].DisasterType)
	require.NoError(t, mock.ExpectationsWereMet())
}
