// internal/stages/l1/service.go
package l1

import (
	"context"
	"sort"
	"time"

	"admission-pipeline/internal/batching"
	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/common/metrics"
	"admission-pipeline/internal/models"
)

const StageName = "l1"

// ScoringClient is the slice of the scoring service this stage uses.
type ScoringClient interface {
	ScoreL1(ctx context.Context, requests []models.L1ScoringRequest) ([]models.L1ScoredItem, error)
}

type ServiceDependencies struct {
	Logger  logger.Logger
	Scoring ScoringClient
}

// Service runs the first prediction pass: it expands a student profile into
// one scoring request per eligible exam-scenario / priority-category
// combination, scores them all in batches and combines the raw results into
// one list grouped by priority category.
type Service struct {
	logger   logger.Logger
	scoring  ScoringClient
	executor *batching.Executor[models.L1ScoringRequest, models.L1ScoredItem]
}

func NewService(deps ServiceDependencies, settings batching.Settings) *Service {
	return &Service{
		logger:   deps.Logger,
		scoring:  deps.Scoring,
		executor: batching.NewExecutor[models.L1ScoringRequest, models.L1ScoredItem](StageName, settings, deps.Logger),
	}
}

// Execute is idempotent and never mutates the aggregate; it returns the
// combined results to the orchestration listener.
func (s *Service) Execute(ctx context.Context, profile *models.StudentProfile) ([]models.L1CategoryResult, error) {
	start := time.Now()
	defer metrics.StageDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())

	requests := s.buildRequests(profile)
	if len(requests) == 0 {
		s.logger.Warn("Profile yields no L1 combinations", map[string]interface{}{
			"studentId": profile.ID,
		})
		return nil, nil
	}

	s.logger.Info("Scoring L1 combinations", map[string]interface{}{
		"studentId":    profile.ID,
		"combinations": len(requests),
	})

	raw := s.executor.Execute(ctx, requests, s.scoring.ScoreL1)
	if len(raw) == 0 {
		metrics.StageRunsFailed.WithLabelValues(StageName, string(errors.ErrCodeStageExhausted)).Inc()
		return nil, errors.NewStageExhaustedError(StageName)
	}

	metrics.StageRunsCompleted.WithLabelValues(StageName).Inc()
	return combine(raw), nil
}

// buildRequests expands the profile into the cross product of school type,
// province, major group and optional award subject, repeated per priority
// category the student competes under.
func (s *Service) buildRequests(profile *models.StudentProfile) []models.L1ScoringRequest {
	categories := profile.PriorityCategories
	if len(categories) == 0 {
		categories = []string{"standard"}
	}

	features := l1Features(profile)
	if len(features) == 0 {
		return nil
	}

	// The empty award subject is always a valid slot.
	awardSubjects := append([]string{""}, profile.AwardSubjects...)

	var requests []models.L1ScoringRequest
	for _, category := range categories {
		for _, schoolType := range profile.SchoolTypes {
			for _, province := range profile.Provinces {
				for _, majorGroup := range profile.MajorGroups {
					for _, award := range awardSubjects {
						requests = append(requests, models.L1ScoringRequest{
							StudentID:    profile.ID,
							Category:     category,
							SchoolType:   schoolType,
							Province:     province,
							MajorGroup:   majorGroup,
							AwardSubject: award,
							Features:     features,
						})
					}
				}
			}
		}
	}
	return requests
}

func l1Features(profile *models.StudentProfile) map[string]float64 {
	features := make(map[string]float64)
	for subject, score := range profile.NationalExamScores {
		features["exam."+subject] = score
	}
	for subject, score := range profile.Transcript {
		features["transcript."+subject] = score
	}
	if len(features) == 0 {
		return nil
	}
	return features
}

// combine merges the raw per-combination items into one result per priority
// category. Within a category, colliding ma_xet_tuyen codes keep the higher
// score; the merge is therefore deterministic and order-independent.
func combine(items []models.L1ScoredItem) []models.L1CategoryResult {
	byCategory := make(map[string]map[string]float64)
	for _, item := range items {
		scores, ok := byCategory[item.Category]
		if !ok {
			scores = make(map[string]float64)
			byCategory[item.Category] = scores
		}
		if existing, ok := scores[item.AdmissionGroupCode]; !ok || item.Score > existing {
			scores[item.AdmissionGroupCode] = item.Score
		}
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	results := make([]models.L1CategoryResult, 0, len(categories))
	for _, category := range categories {
		results = append(results, models.L1CategoryResult{
			Category: category,
			Scores:   byCategory[category],
		})
	}
	return results
}
