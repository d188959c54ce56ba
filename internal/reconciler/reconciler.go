// internal/reconciler/reconciler.go
package reconciler

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"admission-pipeline/internal/common/logger"
)

// AdmissionStore is the slice of the admission repository the reconciler
// needs. All three calls run inside the caller's transaction.
type AdmissionStore interface {
	LinkedAdmissionIDs(ctx context.Context, tx *sql.Tx, studentID uuid.UUID) ([]uuid.UUID, error)
	KnownAdmissionIDs(ctx context.Context, tx *sql.Tx, candidates []uuid.UUID) ([]uuid.UUID, error)
	InsertLinkages(ctx context.Context, tx *sql.Tx, studentID uuid.UUID, admissionIDs []uuid.UUID) (int64, error)
}

// Reconciler converges the student/admission linkage table toward the
// admission ids referenced by the latest L3 results. It only ever adds
// links; existing links are never removed, so reconciliation is monotone
// and replaying the same results is a no-op.
type Reconciler struct {
	admissions AdmissionStore
	logger     logger.Logger
}

func New(admissions AdmissionStore, log logger.Logger) *Reconciler {
	return &Reconciler{admissions: admissions, logger: log}
}

// Reconcile diffs latestIDs against the current links, drops references that
// do not exist in the admissions table with a warning, and inserts the rest.
// Runs inside tx so the linkage delta commits atomically with the aggregate
// write. Returns the number of links inserted.
func (r *Reconciler) Reconcile(ctx context.Context, tx *sql.Tx, studentID uuid.UUID, latestIDs []uuid.UUID) (int64, error) {
	if len(latestIDs) == 0 {
		return 0, nil
	}

	linked, err := r.admissions.LinkedAdmissionIDs(ctx, tx, studentID)
	if err != nil {
		return 0, err
	}
	existing := make(map[uuid.UUID]bool, len(linked))
	for _, id := range linked {
		existing[id] = true
	}

	var candidates []uuid.UUID
	seen := make(map[uuid.UUID]bool, len(latestIDs))
	for _, id := range latestIDs {
		if id == uuid.Nil || seen[id] || existing[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	known, err := r.admissions.KnownAdmissionIDs(ctx, tx, candidates)
	if err != nil {
		return 0, err
	}
	if len(known) < len(candidates) {
		knownSet := make(map[uuid.UUID]bool, len(known))
		for _, id := range known {
			knownSet[id] = true
		}
		for _, id := range candidates {
			if !knownSet[id] {
				r.logger.Warn("Skipping unknown admission reference from scoring results", map[string]interface{}{
					"studentId":   studentID,
					"admissionId": id,
				})
			}
		}
	}
	if len(known) == 0 {
		return 0, nil
	}

	inserted, err := r.admissions.InsertLinkages(ctx, tx, studentID, known)
	if err != nil {
		return 0, err
	}
	if inserted > 0 {
		r.logger.Info("Linked new admissions to student", map[string]interface{}{
			"studentId": studentID,
			"inserted":  inserted,
		})
	}
	return inserted, nil
}
