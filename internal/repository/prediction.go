// internal/repository/prediction.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"admission-pipeline/internal/common/database"
	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/common/metrics"
	"admission-pipeline/internal/models"
)

// querier abstracts *sql.DB / *sql.Tx so the save path can run standalone or
// inside the reconcile transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PredictionRepository persists the per-student prediction aggregate. One
// row per student; stage results live in JSONB columns and every write bumps
// the version column that backs optimistic locking.
type PredictionRepository struct {
	db     *database.PostgresClient
	logger logger.Logger
}

func NewPredictionRepository(db *database.PostgresClient, log logger.Logger) *PredictionRepository {
	return &PredictionRepository{db: db, logger: log}
}

const predictionColumns = `student_id, user_id, l1_results, l2_results, l3_results, status, created_by, updated_by, created_at, updated_at, version`

// Get loads the aggregate for a student. A missing row returns (nil, nil);
// callers decide whether absence is an error.
func (r *PredictionRepository) Get(ctx context.Context, studentID uuid.UUID) (*models.PredictionResult, error) {
	return scanPrediction(r.db.QueryRow(ctx,
		`SELECT `+predictionColumns+` FROM prediction_results WHERE student_id = $1`,
		studentID))
}

// GetTx is Get inside an open transaction, with FOR UPDATE so the reconcile
// step reads a stable row.
func (r *PredictionRepository) GetTx(ctx context.Context, tx *sql.Tx, studentID uuid.UUID) (*models.PredictionResult, error) {
	return scanPrediction(tx.QueryRowContext(ctx,
		`SELECT `+predictionColumns+` FROM prediction_results WHERE student_id = $1 FOR UPDATE`,
		studentID))
}

func scanPrediction(row *sql.Row) (*models.PredictionResult, error) {
	var (
		result     models.PredictionResult
		userID     sql.NullString
		l1, l2, l3 []byte
	)
	err := row.Scan(&result.StudentID, &userID, &l1, &l2, &l3,
		&result.Status, &result.CreatedBy, &result.UpdatedBy,
		&result.CreatedAt, &result.UpdatedAt, &result.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistenceFailedError(err)
	}
	if userID.Valid {
		id, err := uuid.Parse(userID.String)
		if err != nil {
			return nil, errors.NewPersistenceFailedError(err)
		}
		result.UserID = &id
	}
	if err := unmarshalStage(l1, &result.L1Results); err != nil {
		return nil, err
	}
	if err := unmarshalStage(l2, &result.L2Results); err != nil {
		return nil, err
	}
	if err := unmarshalStage(l3, &result.L3Results); err != nil {
		return nil, err
	}
	return &result, nil
}

func unmarshalStage(raw []byte, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.NewPersistenceFailedError(err)
	}
	return nil
}

// CreateProcessing upserts the aggregate into PROCESSING at the start of an
// orchestration run. Existing stage results are preserved; only status,
// audit fields and version move. Returns the row as stored, so the caller
// holds the version the subsequent Save must match.
func (r *PredictionRepository) CreateProcessing(ctx context.Context, studentID uuid.UUID, userID *uuid.UUID, actor string) (*models.PredictionResult, error) {
	now := time.Now().UTC()
	result, err := scanPrediction(r.db.QueryRow(ctx, `
		INSERT INTO prediction_results (student_id, user_id, status, created_by, updated_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $4, $5, $5, 1)
		ON CONFLICT (student_id) DO UPDATE SET
			status = $3,
			updated_by = $4,
			updated_at = $5,
			version = prediction_results.version + 1
		RETURNING `+predictionColumns,
		studentID, nullUUID(userID), models.StatusProcessing, actor, now))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.NewPersistenceFailedError(sql.ErrNoRows)
	}
	return result, nil
}

// Save writes the aggregate guarded by its version: the update applies only
// when the stored version still matches result.Version. Zero rows affected
// means a concurrent writer won; the caller re-reads and re-merges. On
// success result.Version reflects the stored row.
func (r *PredictionRepository) Save(ctx context.Context, result *models.PredictionResult) error {
	return r.save(ctx, r.db.DB, result)
}

// SaveTx is Save inside an open transaction.
func (r *PredictionRepository) SaveTx(ctx context.Context, tx *sql.Tx, result *models.PredictionResult) error {
	return r.save(ctx, tx, result)
}

func (r *PredictionRepository) save(ctx context.Context, q querier, result *models.PredictionResult) error {
	l1, err := marshalStage(result.L1Results)
	if err != nil {
		return err
	}
	l2, err := marshalStage(result.L2Results)
	if err != nil {
		return err
	}
	l3, err := marshalStage(result.L3Results)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `
		UPDATE prediction_results SET
			l1_results = $1,
			l2_results = $2,
			l3_results = $3,
			status = $4,
			updated_by = $5,
			updated_at = $6,
			version = version + 1
		WHERE student_id = $7 AND version = $8`,
		l1, l2, l3, result.Status, result.UpdatedBy, time.Now().UTC(),
		result.StudentID, result.Version)
	if err != nil {
		return errors.NewPersistenceFailedError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewPersistenceFailedError(err)
	}
	if affected == 0 {
		return errors.NewVersionConflictError(result.StudentID.String(), result.Version)
	}
	result.Version++
	metrics.ResultsSaved.WithLabelValues(string(result.Status)).Inc()
	return nil
}

func marshalStage(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewPersistenceFailedError(err)
	}
	return raw, nil
}

// ForceStatus is the best-effort terminal write used when orchestration
// fails: it sets status unconditionally without touching stage results or
// the version guard. Errors are logged, never returned.
func (r *PredictionRepository) ForceStatus(ctx context.Context, studentID uuid.UUID, status models.PredictionStatus, actor string) {
	_, err := r.db.Exec(ctx, `
		UPDATE prediction_results SET
			status = $1,
			updated_by = $2,
			updated_at = $3,
			version = version + 1
		WHERE student_id = $4`,
		status, actor, time.Now().UTC(), studentID)
	if err != nil {
		r.logger.Error("Best-effort status write failed", map[string]interface{}{
			"studentId": studentID,
			"status":    status,
			"error":     err.Error(),
		})
		return
	}
	metrics.ResultsSaved.WithLabelValues(string(status)).Inc()
}

func nullUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
