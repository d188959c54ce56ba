// internal/stages/l3/service_test.go
package l3

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-pipeline/internal/batching"
	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/models"
)

type fakeScoring struct {
	calls [][]models.L3ScoringRequest
	score func(chunk []models.L3ScoringRequest) ([]models.L3ScoredItem, error)
}

func (f *fakeScoring) ScoreL3(_ context.Context, requests []models.L3ScoringRequest) ([]models.L3ScoredItem, error) {
	f.calls = append(f.calls, requests)
	return f.score(requests)
}

func testSettings() batching.Settings {
	return batching.Settings{
		Chunk: batching.ChunkConfig{
			MaxChunkSize:      30,
			MemoryLimitMB:     512,
			NetworkLatencyMs:  200,
			Complexity:        batching.ComplexityHigh,
			ServerConcurrency: 2,
		},
		Concurrency: batching.ConcurrencyConfig{
			InputsPerWorker: 10,
			MinConcurrency:  2,
			MaxConcurrency:  4,
		},
		Retry: batching.RetryConfig{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			SweepDelay: time.Millisecond,
		},
	}
}

func TestExecute_OneRequestPerSupportedScenario(t *testing.T) {
	admissionID := uuid.New()
	scoring := &fakeScoring{
		score: func(chunk []models.L3ScoringRequest) ([]models.L3ScoredItem, error) {
			items := make([]models.L3ScoredItem, 0, len(chunk))
			for _, req := range chunk {
				items = append(items, models.L3ScoredItem{
					ScenarioKey:   req.ScenarioKey,
					AdmissionID:   admissionID,
					AdmissionCode: "UNI-101",
					Score:         0.5,
				})
			}
			return items, nil
		},
	}
	svc := NewService(ServiceDependencies{Logger: logger.NewNoOpLogger(), Scoring: scoring}, testSettings())

	profile := &models.StudentProfile{
		ID:             uuid.New(),
		Transcript:     map[string]float64{"math": 8.2},
		PriorityRegion: "KV1",
	}

	results, err := svc.Execute(context.Background(), profile)
	require.NoError(t, err)

	// transcript + priority; no certificates held.
	require.Len(t, results, 2)
	assert.Equal(t, ScenarioPriority, results[0].ScenarioKey)
	assert.Equal(t, ScenarioTranscript, results[1].ScenarioKey)

	total := 0
	for _, chunk := range scoring.calls {
		total += len(chunk)
		for _, req := range chunk {
			assert.NotEqual(t, ScenarioCertificate, req.ScenarioKey)
		}
	}
	assert.Equal(t, 2, total)
}

func TestExecute_DuplicateAdmissionKeepsHigherScore(t *testing.T) {
	admissionID := uuid.New()
	scoring := &fakeScoring{
		score: func(chunk []models.L3ScoringRequest) ([]models.L3ScoredItem, error) {
			var items []models.L3ScoredItem
			for range chunk {
				items = append(items,
					models.L3ScoredItem{ScenarioKey: ScenarioTranscript, AdmissionID: admissionID, AdmissionCode: "UNI-101", Score: 0.4},
					models.L3ScoredItem{ScenarioKey: ScenarioTranscript, AdmissionID: admissionID, AdmissionCode: "UNI-101", Score: 0.9},
				)
			}
			return items, nil
		},
	}
	svc := NewService(ServiceDependencies{Logger: logger.NewNoOpLogger(), Scoring: scoring}, testSettings())

	profile := &models.StudentProfile{
		ID:         uuid.New(),
		Transcript: map[string]float64{"math": 8.2},
	}

	results, err := svc.Execute(context.Background(), profile)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Entries, 1)
	assert.Equal(t, 0.9, results[0].Entries[0].Score)
}

func TestExecute_NoDocumentFieldsIsNoOp(t *testing.T) {
	scoring := &fakeScoring{
		score: func([]models.L3ScoringRequest) ([]models.L3ScoredItem, error) {
			t.Fatal("scoring must not be called without document-derived fields")
			return nil, nil
		},
	}
	svc := NewService(ServiceDependencies{Logger: logger.NewNoOpLogger(), Scoring: scoring}, testSettings())

	results, err := svc.Execute(context.Background(), &models.StudentProfile{ID: uuid.New()})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestExecute_ExhaustedChunksSurfaceStageError(t *testing.T) {
	scoring := &fakeScoring{
		score: func([]models.L3ScoringRequest) ([]models.L3ScoredItem, error) {
			return nil, errors.NewScoringUnavailableError(context.DeadlineExceeded)
		},
	}
	svc := NewService(ServiceDependencies{Logger: logger.NewNoOpLogger(), Scoring: scoring}, testSettings())

	profile := &models.StudentProfile{
		ID:           uuid.New(),
		Certificates: []string{"IELTS-7.0"},
	}

	_, err := svc.Execute(context.Background(), profile)
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeStageExhausted, stdErr.Code)
}

func TestGroup_SortsEntriesByScoreThenCode(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	results := group([]models.L3ScoredItem{
		{ScenarioKey: ScenarioTranscript, AdmissionID: a, AdmissionCode: "UNI-2", Score: 0.5},
		{ScenarioKey: ScenarioTranscript, AdmissionID: b, AdmissionCode: "UNI-1", Score: 0.5},
	})
	require.Len(t, results, 1)
	require.Len(t, results[0].Entries, 2)
	assert.Equal(t, "UNI-1", results[0].Entries[0].AdmissionCode)
	assert.Equal(t, "UNI-2", results[0].Entries[1].AdmissionCode)
}
