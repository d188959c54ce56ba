// internal/stages/l2/service.go
package l2

import (
	"context"
	"time"

	"admission-pipeline/internal/batching"
	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/common/metrics"
	"admission-pipeline/internal/models"
)

const StageName = "l2"

// Exam scenarios scored by this stage. Each maps to one score source on the
// profile; scenarios the student has no scores for are skipped.
const (
	ScenarioNationalExam = "national-exam"
	ScenarioVsat         = "vsat"
	ScenarioAptitude     = "aptitude"
	ScenarioCertificate  = "certificate"
	ScenarioTalent       = "talent"
)

type ScoringClient interface {
	ScoreL2(ctx context.Context, requests []models.L2ScoringRequest) ([]models.L2ScoredItem, error)
}

type ServiceDependencies struct {
	Logger  logger.Logger
	Scoring ScoringClient
}

// Service runs the second prediction pass: one scoring request per exam
// scenario the student holds scores for, crossed with the student's major
// groups, yielding a flat admission-code score list.
type Service struct {
	logger   logger.Logger
	scoring  ScoringClient
	executor *batching.Executor[models.L2ScoringRequest, models.L2ScoredItem]
}

func NewService(deps ServiceDependencies, settings batching.Settings) *Service {
	return &Service{
		logger:   deps.Logger,
		scoring:  deps.Scoring,
		executor: batching.NewExecutor[models.L2ScoringRequest, models.L2ScoredItem](StageName, settings, deps.Logger),
	}
}

func (s *Service) Execute(ctx context.Context, profile *models.StudentProfile) ([]models.L2Result, error) {
	start := time.Now()
	defer metrics.StageDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())

	requests := s.buildRequests(profile)
	if len(requests) == 0 {
		s.logger.Warn("Profile holds no scorable exam scenarios", map[string]interface{}{
			"studentId": profile.ID,
		})
		return nil, nil
	}

	s.logger.Info("Scoring L2 scenarios", map[string]interface{}{
		"studentId": profile.ID,
		"requests":  len(requests),
	})

	raw := s.executor.Execute(ctx, requests, s.scoring.ScoreL2)
	if len(raw) == 0 {
		metrics.StageRunsFailed.WithLabelValues(StageName, string(errors.ErrCodeStageExhausted)).Inc()
		return nil, errors.NewStageExhaustedError(StageName)
	}

	metrics.StageRunsCompleted.WithLabelValues(StageName).Inc()
	return dedupe(raw), nil
}

func (s *Service) buildRequests(profile *models.StudentProfile) []models.L2ScoringRequest {
	scenarios := []struct {
		name   string
		scores map[string]float64
	}{
		{ScenarioNationalExam, profile.NationalExamScores},
		{ScenarioVsat, profile.VsatScores},
		{ScenarioAptitude, profile.AptitudeScores},
		{ScenarioCertificate, profile.CertificateScores},
		{ScenarioTalent, profile.TalentScores},
	}

	subjectGroups := profile.MajorGroups
	if len(subjectGroups) == 0 {
		subjectGroups = []string{""}
	}

	var requests []models.L2ScoringRequest
	for _, scenario := range scenarios {
		if len(scenario.scores) == 0 {
			continue
		}
		for _, group := range subjectGroups {
			requests = append(requests, models.L2ScoringRequest{
				StudentID:    profile.ID,
				Scenario:     scenario.name,
				SubjectGroup: group,
				Scores:       scenario.scores,
			})
		}
	}
	return requests
}

// dedupe collapses duplicate admission codes across scenarios keeping the
// best score; first-seen order is preserved so output is stable for equal
// inputs.
func dedupe(items []models.L2ScoredItem) []models.L2Result {
	index := make(map[string]int, len(items))
	var results []models.L2Result
	for _, item := range items {
		if i, ok := index[item.AdmissionCode]; ok {
			if item.Score > results[i].Score {
				results[i].Score = item.Score
			}
			continue
		}
		index[item.AdmissionCode] = len(results)
		results = append(results, models.L2Result{
			AdmissionCode: item.AdmissionCode,
			Score:         item.Score,
		})
	}
	return results
}
