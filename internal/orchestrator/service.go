// internal/orchestrator/service.go
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/models"
)

// saveAttempts bounds the CAS re-read loop when concurrent runs race on the
// aggregate row.
const saveAttempts = 3

// Stage interfaces, one per prediction pass. Implemented by the stage
// services; narrowed here for mocking.
type L1Stage interface {
	Execute(ctx context.Context, profile *models.StudentProfile) ([]models.L1CategoryResult, error)
}

type L2Stage interface {
	Execute(ctx context.Context, profile *models.StudentProfile) ([]models.L2Result, error)
}

type L3Stage interface {
	Execute(ctx context.Context, profile *models.StudentProfile) ([]models.L3ScenarioResult, error)
}

type PredictionStore interface {
	Get(ctx context.Context, studentID uuid.UUID) (*models.PredictionResult, error)
	CreateProcessing(ctx context.Context, studentID uuid.UUID, userID *uuid.UUID, actor string) (*models.PredictionResult, error)
	Save(ctx context.Context, result *models.PredictionResult) error
	SaveTx(ctx context.Context, tx *sql.Tx, result *models.PredictionResult) error
	ForceStatus(ctx context.Context, studentID uuid.UUID, status models.PredictionStatus, actor string)
}

type StudentStore interface {
	GetProfile(ctx context.Context, studentID uuid.UUID) (*models.StudentProfile, error)
}

type TxBeginner interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
}

type LinkReconciler interface {
	Reconcile(ctx context.Context, tx *sql.Tx, studentID uuid.UUID, latestIDs []uuid.UUID) (int64, error)
}

// CompletionNotifier and ResultIndexer are optional post-commit hooks; nil
// disables them.
type CompletionNotifier interface {
	NotifyCompleted(ctx context.Context, result *models.PredictionResult) error
}

type ResultIndexer interface {
	Index(ctx context.Context, result *models.PredictionResult) error
}

type ServiceDependencies struct {
	Logger      logger.Logger
	L1          L1Stage
	L2          L2Stage
	L3          L3Stage
	Predictions PredictionStore
	Students    StudentStore
	Tx          TxBeginner
	Reconciler  LinkReconciler
	Notifier    CompletionNotifier
	Indexer     ResultIndexer
}

// Service coordinates one prediction run per inbound event: it moves the
// aggregate to PROCESSING, fans out to the stage services, merges whatever
// they produced and persists the recomputed status. Stage failures degrade
// the aggregate to PARTIAL rather than failing the run; only a run that
// produced nothing at all, or an orchestration fault, ends in FAILED.
type Service struct {
	logger      logger.Logger
	l1          L1Stage
	l2          L2Stage
	l3          L3Stage
	predictions PredictionStore
	students    StudentStore
	tx          TxBeginner
	reconciler  LinkReconciler
	notifier    CompletionNotifier
	indexer     ResultIndexer
}

func NewService(deps ServiceDependencies) *Service {
	return &Service{
		logger:      deps.Logger,
		l1:          deps.L1,
		l2:          deps.L2,
		l3:          deps.L3,
		predictions: deps.Predictions,
		students:    deps.Students,
		tx:          deps.Tx,
		reconciler:  deps.Reconciler,
		notifier:    deps.Notifier,
		indexer:     deps.Indexer,
	}
}

// HandleStudentCreated runs the creation pass: L1 and L2 concurrently,
// settle-all. A stage that errors is logged and leaves its field empty; the
// other stage's results still merge and persist.
func (s *Service) HandleStudentCreated(ctx context.Context, evt models.StudentCreatedEvent) (err error) {
	defer s.recoverToFailed(ctx, evt.StudentID, &err)

	aggregate, err := s.predictions.CreateProcessing(ctx, evt.StudentID, evt.UserID, models.AnonymousActor)
	if err != nil {
		return err
	}

	profile, err := s.students.GetProfile(ctx, evt.StudentID)
	if err != nil {
		s.logger.Error("Profile load failed, marking prediction FAILED", map[string]interface{}{
			"studentId": evt.StudentID,
			"error":     err.Error(),
		})
		s.predictions.ForceStatus(ctx, evt.StudentID, models.StatusFailed, models.AnonymousActor)
		return err
	}
	actor := profile.Actor()

	var (
		wg        sync.WaitGroup
		l1Results []models.L1CategoryResult
		l2Results []models.L2Result
		l1Err     error
		l2Err     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		l1Results, l1Err = s.l1.Execute(ctx, profile)
	}()
	go func() {
		defer wg.Done()
		l2Results, l2Err = s.l2.Execute(ctx, profile)
	}()
	wg.Wait()

	if l1Err != nil {
		s.logStageRejected("l1", evt.StudentID, l1Err)
	}
	if l2Err != nil {
		s.logStageRejected("l2", evt.StudentID, l2Err)
	}

	docStageExpected := profile.HasDocumentData()
	merge := func(agg *models.PredictionResult) {
		if len(l1Results) > 0 {
			agg.L1Results = l1Results
		}
		if len(l2Results) > 0 {
			agg.L2Results = l2Results
		}
		agg.UpdatedBy = actor
		agg.RecomputeStatus(docStageExpected)
	}
	merge(aggregate)

	if err := s.saveWithRetry(ctx, aggregate, merge); err != nil {
		s.predictions.ForceStatus(ctx, evt.StudentID, models.StatusFailed, actor)
		return err
	}

	s.logger.Info("Creation pass finished", map[string]interface{}{
		"studentId": evt.StudentID,
		"status":    aggregate.Status,
	})
	s.afterCommit(ctx, aggregate)
	return nil
}

// HandleOcrCompleted runs the document pass. An event for a student with no
// aggregate is a warning no-op: OCR completion without a prior creation run
// means the event arrived out of order, and the creation run will pick up
// the extracted fields itself.
func (s *Service) HandleOcrCompleted(ctx context.Context, evt models.OcrCompletedEvent) (err error) {
	existing, err := s.predictions.Get(ctx, evt.StudentID)
	if err != nil {
		return err
	}
	if existing == nil {
		s.logger.Warn("OCR completed for student without prediction aggregate, ignoring", map[string]interface{}{
			"studentId":  evt.StudentID,
			"ocrResults": len(evt.OcrResultIDs),
		})
		return nil
	}

	defer s.recoverToFailed(ctx, evt.StudentID, &err)

	aggregate, err := s.predictions.CreateProcessing(ctx, evt.StudentID, evt.UserID, models.AnonymousActor)
	if err != nil {
		return err
	}

	profile, err := s.students.GetProfile(ctx, evt.StudentID)
	if err != nil {
		s.logger.Error("Profile load failed, marking prediction FAILED", map[string]interface{}{
			"studentId": evt.StudentID,
			"error":     err.Error(),
		})
		s.predictions.ForceStatus(ctx, evt.StudentID, models.StatusFailed, models.AnonymousActor)
		return err
	}
	actor := profile.Actor()

	l3Results, l3Err := s.l3.Execute(ctx, profile)
	if l3Err != nil {
		s.logStageRejected("l3", evt.StudentID, l3Err)
	}

	merge := func(agg *models.PredictionResult) {
		if len(l3Results) > 0 {
			agg.L3Results = l3Results
		}
		agg.UpdatedBy = actor
		agg.RecomputeStatus(true)
	}
	merge(aggregate)

	if err := s.commitWithLinkages(ctx, aggregate, merge); err != nil {
		s.predictions.ForceStatus(ctx, evt.StudentID, models.StatusFailed, actor)
		return err
	}

	s.logger.Info("Document pass finished", map[string]interface{}{
		"studentId": evt.StudentID,
		"status":    aggregate.Status,
	})
	s.afterCommit(ctx, aggregate)
	return nil
}

// logStageRejected records a stage that settled with an error. The run
// continues with that stage's field left empty.
func (s *Service) logStageRejected(stage string, studentID uuid.UUID, err error) {
	s.logger.Warn("Stage produced no results", map[string]interface{}{
		"stage":     stage,
		"studentId": studentID,
		"category":  errors.GetErrorCategory(errors.CodeOf(err)),
		"error":     err.Error(),
	})
}

// saveWithRetry saves under optimistic locking. On a version conflict it
// re-reads the row, re-applies this run's merge on top of the fresh state
// and tries again, so concurrent runs interleave without losing fields.
func (s *Service) saveWithRetry(ctx context.Context, aggregate *models.PredictionResult, merge func(*models.PredictionResult)) error {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		if attempt > 0 {
			fresh, err := s.predictions.Get(ctx, aggregate.StudentID)
			if err != nil {
				return err
			}
			if fresh == nil {
				return errors.NewAggregateNotFoundError(aggregate.StudentID.String())
			}
			merge(fresh)
			*aggregate = *fresh
		}
		lastErr = s.predictions.Save(ctx, aggregate)
		if lastErr == nil {
			return nil
		}
		if !errors.HasCode(lastErr, errors.ErrCodeVersionConflict) {
			return lastErr
		}
		s.logger.Warn("Aggregate version conflict, re-reading", map[string]interface{}{
			"studentId": aggregate.StudentID,
			"attempt":   attempt,
		})
	}
	return lastErr
}

// commitWithLinkages writes the aggregate and reconciles the admission
// linkage table in one transaction, retrying CAS conflicts like saveWithRetry.
func (s *Service) commitWithLinkages(ctx context.Context, aggregate *models.PredictionResult, merge func(*models.PredictionResult)) error {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		if attempt > 0 {
			fresh, err := s.predictions.Get(ctx, aggregate.StudentID)
			if err != nil {
				return err
			}
			if fresh == nil {
				return errors.NewAggregateNotFoundError(aggregate.StudentID.String())
			}
			merge(fresh)
			*aggregate = *fresh
		}

		lastErr = s.runLinkageTx(ctx, aggregate)
		if lastErr == nil {
			return nil
		}
		if !errors.HasCode(lastErr, errors.ErrCodeVersionConflict) {
			return lastErr
		}
		s.logger.Warn("Aggregate version conflict during linkage commit, re-reading", map[string]interface{}{
			"studentId": aggregate.StudentID,
			"attempt":   attempt,
		})
	}
	return lastErr
}

func (s *Service) runLinkageTx(ctx context.Context, aggregate *models.PredictionResult) error {
	tx, err := s.tx.BeginTx(ctx)
	if err != nil {
		return errors.NewPersistenceFailedError(err)
	}
	committed := false
	defer func() {
		if !committed && tx != nil {
			_ = tx.Rollback()
		}
	}()

	if err := s.predictions.SaveTx(ctx, tx, aggregate); err != nil {
		return err
	}
	if _, err := s.reconciler.Reconcile(ctx, tx, aggregate.StudentID, aggregate.AdmissionIDs()); err != nil {
		return err
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return errors.NewPersistenceFailedError(err)
		}
	}
	committed = true
	return nil
}

// afterCommit runs the optional post-commit hooks. Both are best-effort:
// failures are logged, the already-committed aggregate is untouched. The
// notifier fires only on COMPLETED; the analytics index also tracks PARTIAL
// results so a degraded run still shows up in reporting.
func (s *Service) afterCommit(ctx context.Context, aggregate *models.PredictionResult) {
	if s.notifier != nil && aggregate.Status == models.StatusCompleted {
		if err := s.notifier.NotifyCompleted(ctx, aggregate); err != nil {
			s.logger.Error("Completion notification failed", map[string]interface{}{
				"studentId": aggregate.StudentID,
				"error":     err.Error(),
			})
		}
	}
	if s.indexer != nil && (aggregate.Status == models.StatusCompleted || aggregate.Status == models.StatusPartial) {
		if err := s.indexer.Index(ctx, aggregate); err != nil {
			s.logger.Error("Analytics indexing failed", map[string]interface{}{
				"studentId": aggregate.StudentID,
				"error":     err.Error(),
			})
		}
	}
}

// recoverToFailed converts an orchestration panic into a FAILED aggregate
// and a returned error, so the listener can log and drop the event instead
// of crashing the consumer.
func (s *Service) recoverToFailed(ctx context.Context, studentID uuid.UUID, err *error) {
	if r := recover(); r != nil {
		s.logger.Error("Orchestration panicked", map[string]interface{}{
			"studentId": studentID,
			"panic":     fmt.Sprintf("%v", r),
		})
		s.predictions.ForceStatus(ctx, studentID, models.StatusFailed, models.AnonymousActor)
		*err = fmt.Errorf("orchestration panic: %v", r)
	}
}
