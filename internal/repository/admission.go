// internal/repository/admission.go
package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"admission-pipeline/internal/common/database"
	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
)

// AdmissionRepository reads admission reference data and maintains the
// student/admission linkage table the reconciler converges.
type AdmissionRepository struct {
	db     *database.PostgresClient
	logger logger.Logger
}

func NewAdmissionRepository(db *database.PostgresClient, log logger.Logger) *AdmissionRepository {
	return &AdmissionRepository{db: db, logger: log}
}

// LinkedAdmissionIDs returns the admission ids currently linked to the
// student, read inside the reconcile transaction.
func (r *AdmissionRepository) LinkedAdmissionIDs(ctx context.Context, tx *sql.Tx, studentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT admission_id FROM student_admissions WHERE student_id = $1`,
		studentID)
	if err != nil {
		return nil, errors.NewPersistenceFailedError(err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// KnownAdmissionIDs filters candidates down to ids that exist in the
// admissions reference table. Unknown references must never be linked.
func (r *AdmissionRepository) KnownAdmissionIDs(ctx context.Context, tx *sql.Tx, candidates []uuid.UUID) ([]uuid.UUID, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM admissions WHERE id = ANY($1)`,
		pq.Array(candidates))
	if err != nil {
		return nil, errors.NewPersistenceFailedError(err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// InsertLinkages bulk-inserts the missing linkage rows. ON CONFLICT DO
// NOTHING keeps the insert idempotent against concurrent reconcilers.
func (r *AdmissionRepository) InsertLinkages(ctx context.Context, tx *sql.Tx, studentID uuid.UUID, admissionIDs []uuid.UUID) (int64, error) {
	if len(admissionIDs) == 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO student_admissions (student_id, admission_id, created_at)
		SELECT $1, unnest($2::uuid[]), NOW()
		ON CONFLICT (student_id, admission_id) DO NOTHING`,
		studentID, pq.Array(admissionIDs))
	if err != nil {
		return 0, errors.NewPersistenceFailedError(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewPersistenceFailedError(err)
	}
	return inserted, nil
}

func collectIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewPersistenceFailedError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceFailedError(err)
	}
	return ids, nil
}
