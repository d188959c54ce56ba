// internal/orchestrator/service_test.go
package orchestrator

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/models"
)

// ==========================
// Fakes
// ==========================

type fakeL1 struct {
	results []models.L1CategoryResult
	err     error
}

func (f *fakeL1) Execute(context.Context, *models.StudentProfile) ([]models.L1CategoryResult, error) {
	return f.results, f.err
}

type fakeL2 struct {
	results []models.L2Result
	err     error
}

func (f *fakeL2) Execute(context.Context, *models.StudentProfile) ([]models.L2Result, error) {
	return f.results, f.err
}

type fakeL3 struct {
	results []models.L3ScenarioResult
	err     error
	called  bool
}

func (f *fakeL3) Execute(context.Context, *models.StudentProfile) ([]models.L3ScenarioResult, error) {
	f.called = true
	return f.results, f.err
}

// fakeStore keeps one aggregate in memory and enforces the version guard
// the way the SQL repository does.
type fakeStore struct {
	row          *models.PredictionResult
	saveErrs     []error // popped per Save call before the CAS check
	forcedStatus []models.PredictionStatus
	savedTx      bool
}

func (f *fakeStore) Get(context.Context, uuid.UUID) (*models.PredictionResult, error) {
	if f.row == nil {
		return nil, nil
	}
	copied := *f.row
	return &copied, nil
}

func (f *fakeStore) CreateProcessing(_ context.Context, studentID uuid.UUID, userID *uuid.UUID, actor string) (*models.PredictionResult, error) {
	if f.row == nil {
		f.row = &models.PredictionResult{
			StudentID: studentID,
			UserID:    userID,
			Status:    models.StatusProcessing,
			CreatedBy: actor,
			UpdatedBy: actor,
			Version:   1,
		}
	} else {
		f.row.Status = models.StatusProcessing
		f.row.Version++
	}
	copied := *f.row
	return &copied, nil
}

func (f *fakeStore) Save(_ context.Context, result *models.PredictionResult) error {
	if len(f.saveErrs) > 0 {
		err := f.saveErrs[0]
		f.saveErrs = f.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	if f.row == nil || f.row.Version != result.Version {
		return errors.NewVersionConflictError(result.StudentID.String(), result.Version)
	}
	result.Version++
	copied := *result
	f.row = &copied
	return nil
}

func (f *fakeStore) SaveTx(ctx context.Context, _ *sql.Tx, result *models.PredictionResult) error {
	f.savedTx = true
	return f.Save(ctx, result)
}

func (f *fakeStore) ForceStatus(_ context.Context, _ uuid.UUID, status models.PredictionStatus, _ string) {
	f.forcedStatus = append(f.forcedStatus, status)
	if f.row != nil {
		f.row.Status = status
	}
}

type fakeStudents struct {
	profile *models.StudentProfile
	err     error
}

func (f *fakeStudents) GetProfile(context.Context, uuid.UUID) (*models.StudentProfile, error) {
	return f.profile, f.err
}

type fakeTx struct{ began int }

func (f *fakeTx) BeginTx(context.Context) (*sql.Tx, error) {
	f.began++
	return nil, nil
}

type fakeReconciler struct {
	gotIDs   [][]uuid.UUID
	inserted int64
	err      error
}

func (f *fakeReconciler) Reconcile(_ context.Context, _ *sql.Tx, _ uuid.UUID, ids []uuid.UUID) (int64, error) {
	f.gotIDs = append(f.gotIDs, ids)
	return f.inserted, f.err
}

type fakeNotifier struct{ notified int }

func (f *fakeNotifier) NotifyCompleted(context.Context, *models.PredictionResult) error {
	f.notified++
	return nil
}

type fakeIndexer struct{ indexed int }

func (f *fakeIndexer) Index(context.Context, *models.PredictionResult) error {
	f.indexed++
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

type fixture struct {
	svc        *Service
	store      *fakeStore
	l1         *fakeL1
	l2         *fakeL2
	l3         *fakeL3
	tx         *fakeTx
	reconciler *fakeReconciler
	notifier   *fakeNotifier
	indexer    *fakeIndexer
}

func newFixture(profile *models.StudentProfile) *fixture {
	f := &fixture{
		store:      &fakeStore{},
		l1:         &fakeL1{},
		l2:         &fakeL2{},
		l3:         &fakeL3{},
		tx:         &fakeTx{},
		reconciler: &fakeReconciler{},
		notifier:   &fakeNotifier{},
		indexer:    &fakeIndexer{},
	}
	f.svc = NewService(ServiceDependencies{
		Logger:      logger.NewNoOpLogger(),
		L1:          f.l1,
		L2:          f.l2,
		L3:          f.l3,
		Predictions: f.store,
		Students:    &fakeStudents{profile: profile},
		Tx:          f.tx,
		Reconciler:  f.reconciler,
		Notifier:    f.notifier,
		Indexer:     f.indexer,
	})
	return f
}

func plainProfile(id uuid.UUID) *models.StudentProfile {
	return &models.StudentProfile{
		ID:          id,
		Email:       "student@example.com",
		MajorGroups: []string{"A00"},
	}
}

func l1Fixture() []models.L1CategoryResult {
	return []models.L1CategoryResult{{Category: "standard", Scores: map[string]float64{"A00": 0.7}}}
}

func l2Fixture() []models.L2Result {
	return []models.L2Result{{AdmissionCode: "UNI-101", Score: 0.8}}
}

func l3Fixture(admissionID uuid.UUID) []models.L3ScenarioResult {
	return []models.L3ScenarioResult{{
		ScenarioKey: "transcript",
		Entries:     []models.L3Entry{{AdmissionID: admissionID, AdmissionCode: "UNI-101", Score: 0.9}},
	}}
}

// ==========================
// Creation pass
// ==========================

func TestHandleStudentCreated_BothStagesSucceedCompletes(t *testing.T) {
	studentID := uuid.New()
	f := newFixture(plainProfile(studentID))
	f.l1.results = l1Fixture()
	f.l2.results = l2Fixture()

	err := f.svc.HandleStudentCreated(context.Background(), models.StudentCreatedEvent{StudentID: studentID})
	require.NoError(t, err)

	require.NotNil(t, f.store.row)
	assert.Equal(t, models.StatusCompleted, f.store.row.Status)
	assert.NotEmpty(t, f.store.row.L1Results)
	assert.NotEmpty(t, f.store.row.L2Results)
	assert.Empty(t, f.store.row.L3Results)
	assert.Equal(t, "student@example.com", f.store.row.UpdatedBy)
	assert.Equal(t, 1, f.notifier.notified)
	assert.Equal(t, 1, f.indexer.indexed)
	assert.False(t, f.l3.called, "creation pass must not run the document stage")
}

func TestHandleStudentCreated_OneStageExhaustedDegradesToPartial(t *testing.T) {
	studentID := uuid.New()
	f := newFixture(plainProfile(studentID))
	f.l1.results = l1Fixture()
	f.l2.err = errors.NewStageExhaustedError("l2")

	err := f.svc.HandleStudentCreated(context.Background(), models.StudentCreatedEvent{StudentID: studentID})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, f.store.row.Status)
	assert.NotEmpty(t, f.store.row.L1Results)
	assert.Empty(t, f.store.row.L2Results)
	assert.Zero(t, f.notifier.notified)
	assert.Equal(t, 1, f.indexer.indexed, "partial results still reach the analytics index")
}

func TestHandleStudentCreated_BothStagesFailEndsFailed(t *testing.T) {
	studentID := uuid.New()
	f := newFixture(plainProfile(studentID))
	f.l1.err = errors.NewStageExhaustedError("l1")
	f.l2.err = errors.NewStageExhaustedError("l2")

	err := f.svc.HandleStudentCreated(context.Background(), models.StudentCreatedEvent{StudentID: studentID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, f.store.row.Status)
}

func TestHandleStudentCreated_DocumentProfileStaysPartial(t *testing.T) {
	studentID := uuid.New()
	profile := plainProfile(studentID)
	profile.Transcript = map[string]float64{"math": 8.0}
	f := newFixture(profile)
	f.l1.results = l1Fixture()
	f.l2.results = l2Fixture()

	err := f.svc.HandleStudentCreated(context.Background(), models.StudentCreatedEvent{StudentID: studentID})
	require.NoError(t, err)

	// The document pass is still owed for this profile.
	assert.Equal(t, models.StatusPartial, f.store.row.Status)
}

func TestHandleStudentCreated_ProfileLoadFailureForcesFailed(t *testing.T) {
	studentID := uuid.New()
	f := newFixture(nil)
	f.svc.students = &fakeStudents{err: errors.NewProfileLoadFailedError(assert.AnError)}

	err := f.svc.HandleStudentCreated(context.Background(), models.StudentCreatedEvent{StudentID: studentID})
	require.Error(t, err)
	assert.Contains(t, f.store.forcedStatus, models.StatusFailed)
}

func TestHandleStudentCreated_VersionConflictRereadsAndRetries(t *testing.T) {
	studentID := uuid.New()
	f := newFixture(plainProfile(studentID))
	f.l1.results = l1Fixture()
	f.l2.results = l2Fixture()
	f.store.saveErrs = []error{errors.NewVersionConflictError(studentID.String(), 1)}

	err := f.svc.HandleStudentCreated(context.Background(), models.StudentCreatedEvent{StudentID: studentID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, f.store.row.Status)
	assert.Empty(t, f.store.forcedStatus)
}

func TestHandleStudentCreated_PanicIsContained(t *testing.T) {
	studentID := uuid.New()
	f := newFixture(plainProfile(studentID))
	f.svc.students = panickyStudents{}

	err := f.svc.HandleStudentCreated(context.Background(), models.StudentCreatedEvent{StudentID: studentID})
	require.Error(t, err)
	assert.Contains(t, f.store.forcedStatus, models.StatusFailed)
}

type panickyStudents struct{}

func (panickyStudents) GetProfile(context.Context, uuid.UUID) (*models.StudentProfile, error) {
	panic("boom")
}

// ==========================
// Document pass
// ==========================

func TestHandleOcrCompleted_NoAggregateIsWarnedNoOp(t *testing.T) {
	studentID := uuid.New()
	f := newFixture(plainProfile(studentID))

	err := f.svc.HandleOcrCompleted(context.Background(), models.OcrCompletedEvent{
		StudentID:    studentID,
		OcrResultIDs: []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)
	assert.Nil(t, f.store.row, "no aggregate may be created")
	assert.False(t, f.l3.called)
}

func TestHandleOcrCompleted_RunsL3AndReconcilesInOneTx(t *testing.T) {
	studentID := uuid.New()
	admissionID := uuid.New()
	profile := plainProfile(studentID)
	profile.Transcript = map[string]float64{"math": 8.0}
	f := newFixture(profile)

	// Creation pass already populated L1 and L2.
	f.store.row = &models.PredictionResult{
		StudentID: studentID,
		L1Results: l1Fixture(),
		L2Results: l2Fixture(),
		Status:    models.StatusPartial,
		Version:   2,
	}
	f.l3.results = l3Fixture(admissionID)

	err := f.svc.HandleOcrCompleted(context.Background(), models.OcrCompletedEvent{StudentID: studentID})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, f.store.row.Status)
	assert.NotEmpty(t, f.store.row.L3Results)
	assert.True(t, f.store.savedTx, "aggregate write must go through the transaction")
	assert.Equal(t, 1, f.tx.began)
	require.Len(t, f.reconciler.gotIDs, 1)
	assert.Equal(t, []uuid.UUID{admissionID}, f.reconciler.gotIDs[0])
	assert.Equal(t, 1, f.notifier.notified)
}

func TestHandleOcrCompleted_L3FailureKeepsEarlierStages(t *testing.T) {
	studentID := uuid.New()
	profile := plainProfile(studentID)
	profile.Transcript = map[string]float64{"math": 8.0}
	f := newFixture(profile)

	f.store.row = &models.PredictionResult{
		StudentID: studentID,
		L1Results: l1Fixture(),
		L2Results: l2Fixture(),
		Status:    models.StatusPartial,
		Version:   2,
	}
	f.l3.err = errors.NewStageExhaustedError("l3")

	err := f.svc.HandleOcrCompleted(context.Background(), models.OcrCompletedEvent{StudentID: studentID})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, f.store.row.Status)
	assert.NotEmpty(t, f.store.row.L1Results)
	assert.Empty(t, f.store.row.L3Results)
}

func TestHandleOcrCompleted_ReconcilerErrorForcesFailed(t *testing.T) {
	studentID := uuid.New()
	admissionID := uuid.New()
	profile := plainProfile(studentID)
	profile.Transcript = map[string]float64{"math": 8.0}
	f := newFixture(profile)

	f.store.row = &models.PredictionResult{
		StudentID: studentID,
		L1Results: l1Fixture(),
		L2Results: l2Fixture(),
		Status:    models.StatusPartial,
		Version:   2,
	}
	f.l3.results = l3Fixture(admissionID)
	f.reconciler.err = errors.NewPersistenceFailedError(assert.AnError)

	err := f.svc.HandleOcrCompleted(context.Background(), models.OcrCompletedEvent{StudentID: studentID})
	require.Error(t, err)
	assert.Contains(t, f.store.forcedStatus, models.StatusFailed)
}
