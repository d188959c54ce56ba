// internal/repository/student.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"admission-pipeline/internal/common/database"
	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/models"
)

// StudentRepository reads student profiles. The rows are owned by the CRUD
// service; this pipeline only projects them into scoring inputs.
type StudentRepository struct {
	db     *database.PostgresClient
	logger logger.Logger
}

func NewStudentRepository(db *database.PostgresClient, log logger.Logger) *StudentRepository {
	return &StudentRepository{db: db, logger: log}
}

// GetProfile loads the profile projection for one student. The expansion
// axes and score sources live in the JSONB profile column; identity fields
// are first-class columns and win over anything inside the blob.
func (r *StudentRepository) GetProfile(ctx context.Context, studentID uuid.UUID) (*models.StudentProfile, error) {
	var (
		profile models.StudentProfile
		userID  sql.NullString
		email   sql.NullString
		blob    []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, email, profile FROM students WHERE id = $1`,
		studentID).Scan(&profile.ID, &userID, &email, &blob)
	if err == sql.ErrNoRows {
		return nil, errors.NewProfileLoadFailedError(sql.ErrNoRows)
	}
	if err != nil {
		return nil, errors.NewProfileLoadFailedError(err)
	}

	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &profile); err != nil {
			return nil, errors.NewProfileLoadFailedError(err)
		}
	}
	profile.ID = studentID
	if userID.Valid {
		id, err := uuid.Parse(userID.String)
		if err != nil {
			return nil, errors.NewProfileLoadFailedError(err)
		}
		profile.UserID = &id
	}
	if email.Valid {
		profile.Email = email.String
	}
	return &profile, nil
}
