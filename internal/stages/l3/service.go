// internal/stages/l3/service.go
package l3

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

const StageName = "l3"

// Scenario keys for the document-derived pass.
const (
	ScenarioTranscript  = "transcript"
	ScenarioPriority    = "priority"
	ScenarioCertificate = "certificate"
)

type ScoringClient interface {
	ScoreL3(ctx context.Context, requests []models.L3ScoringRequest) ([]models.L3ScoredItem, error)
}

type ServiceDependencies struct {
	Logger  logger.Logger
	Scoring ScoringClient
}

// Service runs the document-derived pass. It depends on OCR-extracted
// profile fields (transcript averages, priority object/region, held
// certificates), so it usually runs from the ocr.completed listener rather
// than at student creation. Results carry admission ids and feed the
// linkage reconciler.
type Service struct {
	logger   logger.Logger
	scoring  ScoringClient
	executor *batching.Executor[models.L3ScoringRequest, models.L3ScoredItem]
}

func NewService(deps ServiceDependencies, settings batching.Settings) *Service {
	return &Service{
		logger:   deps.Logger,
		scoring:  deps.Scoring,
		executor: batching.NewExecutor[models.L3ScoringRequest, models.L3ScoredItem](StageName, settings, deps.Logger),
	}
}

func (s *Service) Execute(ctx context.Context, profile *models.StudentProfile) ([]models.L3ScenarioResult, error) {
	start := time.Now()
	defer metrics.StageDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())

	requests := s.buildRequests(profile)
	if len(requests) == 0 {
		s.logger.Warn("Profile has no document-derived fields to score", map[string]interface{}{
			"studentId": profile.ID,
		})
		return nil, nil
	}

	s.logger.Info("Scoring L3 scenarios", map[string]interface{}{
		"studentId": profile.ID,
		"requests":  len(requests),
	})

	raw := s.executor.Execute(ctx, requests, s.scoring.ScoreL3)
	if len(raw) == 0 {
		metrics.StageRunsFailed.WithLabelValues(StageName, string(errors.ErrCodeStageExhausted)).Inc()
		return nil, errors.NewStageExhaustedError(StageName)
	}

	metrics.StageRunsCompleted.WithLabelValues(StageName).Inc()
	return group(raw), nil
}

// buildRequests emits one request per document-derived scenario the profile
// can support. Every request carries the full feature vector; the scenario
// key tells the scoring service which view to apply.
func (s *Service) buildRequests(profile *models.StudentProfile) []models.L3ScoringRequest {
	var keys []string
	if len(profile.Transcript) > 0 {
		keys = append(keys, ScenarioTranscript)
	}
	if profile.PriorityObject != "" || profile.PriorityRegion != "" {
		keys = append(keys, ScenarioPriority)
	}
	if len(profile.Certificates) > 0 {
		keys = append(keys, ScenarioCertificate)
	}

	requests := make([]models.L3ScoringRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, models.L3ScoringRequest{
			StudentID:      profile.ID,
			ScenarioKey:    key,
			Transcript:     profile.Transcript,
			PriorityObject: profile.PriorityObject,
			PriorityRegion: profile.PriorityRegion,
			Certificates:   profile.Certificates,
		})
	}
	return requests
}

// group buckets raw items by scenario key, deduplicating admission ids
// within a scenario keeping the higher score. Scenario order is sorted for
// deterministic persistence.
func group(items []models.L3ScoredItem) []models.L3ScenarioResult {
	byScenario := make(map[string]map[string]models.L3Entry)
	for _, item := range items {
		entries, ok := byScenario[item.ScenarioKey]
		if !ok {
			entries = make(map[string]models.L3Entry)
			byScenario[item.ScenarioKey] = entries
		}
		key := item.AdmissionID.String()
		if existing, ok := entries[key]; ok && existing.Score >= item.Score {
			continue
		}
		entries[key] = models.L3Entry{
			AdmissionID:   item.AdmissionID,
			AdmissionCode: item.AdmissionCode,
			Score:         item.Score,
		}
	}

	scenarios := make([]string, 0, len(byScenario))
	for scenario := range byScenario {
		scenarios = append(scenarios, scenario)
	}
	sort.Strings(scenarios)

	results := make([]models.L3ScenarioResult, 0, len(scenarios))
	for _, scenario := range scenarios {
		entryMap := byScenario[scenario]
		entries := make([]models.L3Entry, 0, len(entryMap))
		for _, entry := range entryMap {
			entries = append(entries, entry)
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Score != entries[j].Score {
				return entries[i].Score > entries[j].Score
			}
			return entries[i].AdmissionCode < entries[j].AdmissionCode
		})
		results = append(results, models.L3ScenarioResult{
			ScenarioKey: scenario,
			Entries:     entries,
		})
	}
	return results
}
