// internal/repository/admission_test.go
package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-pipeline/internal/common/database"
	"admission-pipeline/internal/common/logger"
)

func newAdmissionRepo(t *testing.T) (*AdmissionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	client := &database.PostgresClient{DB: db}
	return NewAdmissionRepository(client, logger.NewNoOpLogger()), mock
}

func TestKnownAdmissionIDs_FiltersUnknownReferences(t *testing.T) {
	repo, mock := newAdmissionRepo(t)
	known, unknown := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM admissions WHERE id = ANY($1)`)).
		WithArgs(pq.Array([]uuid.UUID{known, unknown})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(known))

	tx, err := repo.db.BeginTx(context.Background())
	require.NoError(t, err)

	ids, err := repo.KnownAdmissionIDs(context.Background(), tx, []uuid.UUID{known, unknown})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{known}, ids)
}

func TestKnownAdmissionIDs_EmptyCandidatesSkipsQuery(t *testing.T) {
	repo, mock := newAdmissionRepo(t)
	mock.ExpectBegin()

	tx, err := repo.db.BeginTx(context.Background())
	require.NoError(t, err)

	ids, err := repo.KnownAdmissionIDs(context.Background(), tx, nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLinkages_ReportsInsertedCount(t *testing.T) {
	repo, mock := newAdmissionRepo(t)
	studentID := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO student_admissions`)).
		WithArgs(studentID, pq.Array(ids)).
		WillReturnResult(sqlmock.NewResult(0, 1)) // one already existed

	tx, err := repo.db.BeginTx(context.Background())
	require.NoError(t, err)

	inserted, err := repo.InsertLinkages(context.Background(), tx, studentID, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)
}

func TestLinkedAdmissionIDs_ReadsCurrentLinks(t *testing.T) {
	repo, mock := newAdmissionRepo(t)
	studentID := uuid.New()
	linked := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT admission_id FROM student_admissions WHERE student_id = $1`)).
		WithArgs(studentID).
		WillReturnRows(sqlmock.NewRows([]string{"admission_id"}).AddRow(linked))

	tx, err := repo.db.BeginTx(context.Background())
	require.NoError(t, err)

	ids, err := repo.LinkedAdmissionIDs(context.Background(), tx, studentID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{linked}, ids)
}
