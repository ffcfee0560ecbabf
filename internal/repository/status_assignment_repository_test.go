package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-status-api/internal/models"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

func newAssignmentRepoMock(t *testing.T) (*StatusAssignmentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
	}
	return NewStatusAssignmentRepository(sqlxDB), mock, cleanup
}

func assignmentRow(id string, active bool) []driver.Value {
	now := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	return []driver.Value{id, "s1", "def-regular", nil, "promo-1", "AY2024", "SEM3", "semester:SEM3", active, nil, nil, "u1", now, now}
}

func strPtr(s string) *string { return &s }

func TestStatusAssignmentRepositoryFindActiveBuildsFilter(t *testing.T) {
	repo, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows(assignmentColumns).AddRow(assignmentRow("a1", true)...)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM status_assignments a JOIN status_definitions d ON d.id = a.status_definition_id WHERE a.is_active = $1 AND a.subject_id = $2 AND a.semester_key = $3 AND a.id <> $4 AND d.category IN ($5) ORDER BY a.created_at ASC, a.id ASC LIMIT 1`)).
		WithArgs(true, "s1", "SEM3", "a9", "REGULAR").
		WillReturnRows(rows)

	items, err := repo.FindActive(context.Background(), models.AssignmentFilter{
		SubjectID:           "s1",
		SemesterKey:         "SEM3",
		ExcludeAssignmentID: "a9",
		Categories:          []models.StatusCategory{models.StatusCategoryRegular},
		Limit:               1,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].ID)
	require.NotNil(t, items[0].AcademicYearKey)
	assert.Equal(t, "AY2024", *items[0].AcademicYearKey)
	assert.Nil(t, items[0].SessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusAssignmentRepositoryFindByIDNotFound(t *testing.T) {
	repo, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM status_assignments WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	item, err := repo.FindByID(context.Background(), "missing")
	assert.Nil(t, item)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStatusAssignmentRepositoryRunInSubjectTxLocksAndCommits(t *testing.T) {
	repo, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM status_assignments WHERE id = $1 FOR UPDATE`)).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(assignmentColumns).AddRow(assignmentRow("a1", true)...))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE status_assignments SET is_active = $1, suppressed_by_id = $2, updated_at = $3 WHERE id = $4`)).
		WithArgs(false, "a2", sqlmock.AnyArg(), "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RunInSubjectTx(context.Background(), "s1", func(store AssignmentStore) error {
		current, err := store.FindByID(context.Background(), "a1")
		if err != nil {
			return err
		}
		return store.SetActive(context.Background(), current.ID, false, strPtr("a2"))
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusAssignmentRepositoryInsertMapsUniqueViolation(t *testing.T) {
	repo, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()

	args := make([]driver.Value, len(assignmentColumns))
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO status_assignments`)).
		WithArgs(args...).
		WillReturnError(&pq.Error{Code: "23505", Constraint: ActiveBucketConstraint})
	mock.ExpectRollback()

	err := repo.RunInSubjectTx(context.Background(), "s1", func(store AssignmentStore) error {
		return store.Insert(context.Background(), &models.StatusAssignment{
			SubjectID:          "s1",
			StatusDefinitionID: "def-regular",
			ScopeBucket:        "semester:SEM3",
			IsActive:           true,
		})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStorageRaceLost))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusAssignmentRepositoryListInAcademicYear(t *testing.T) {
	repo, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()

	columns := append(append([]string{}, assignmentColumns...), "definition_category", "definition_terminal")
	row := append(assignmentRow("a1", false), "REGULAR", false)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE a.subject_id = $1 AND a.academic_year_key = $2`)).
		WithArgs("s1", "AY2024").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row...))
	mock.ExpectCommit()

	var got []models.ClassifiedAssignment
	err := repo.RunInSubjectTx(context.Background(), "s1", func(store AssignmentStore) error {
		var err error
		got, err = store.ListInAcademicYear(context.Background(), "s1", "AY2024")
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StatusCategoryRegular, got[0].Category)
	assert.False(t, got[0].DefinitionTerminal)
	assert.False(t, got[0].IsActive)
}

func TestStatusAssignmentRepositoryDeleteMissing(t *testing.T) {
	repo, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM status_assignments WHERE id = $1`)).
		WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.RunInSubjectTx(context.Background(), "s1", func(store AssignmentStore) error {
		return store.Delete(context.Background(), "a1")
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusAssignmentRepositoryListBySubject(t *testing.T) {
	repo, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM status_assignments WHERE subject_id = $1 ORDER BY created_at DESC`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(assignmentColumns).
			AddRow(assignmentRow("a2", true)...).
			AddRow(assignmentRow("a1", false)...))

	items, err := repo.ListBySubject(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a2", items[0].ID)
}
