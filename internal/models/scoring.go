// internal/models/scoring.go
package models

import "github.com/google/uuid"

// Stage request/response shapes sent to the external ML scoring service.
// These are ephemeral wire objects; only the normalized results in
// PredictionResult are persisted.

// L1ScoringRequest is one candidate combination expanded from a profile:
// school type x province x major group x optional award subject, tagged
// with the priority category it competes under.
type L1ScoringRequest struct {
	StudentID    uuid.UUID          `json:"studentId"`
	Category     string             `json:"category"`
	SchoolType   string             `json:"schoolType"`
	Province     string             `json:"province"`
	MajorGroup   string             `json:"majorGroup"`
	AwardSubject string             `json:"awardSubject,omitempty"`
	Features     map[string]float64 `json:"features"`
}

// L1ScoredItem is the raw per-combination score keyed by admission group.
type L1ScoredItem struct {
	Category           string  `json:"category"`
	AdmissionGroupCode string  `json:"ma_xet_tuyen"`
	Score              float64 `json:"score"`
}

// L2ScoringRequest is one exam-scenario request derived from national-exam,
// VSAT, aptitude, certificate and talent scores.
type L2ScoringRequest struct {
	StudentID    uuid.UUID          `json:"studentId"`
	Scenario     string             `json:"scenario"`
	SubjectGroup string             `json:"subjectGroup"`
	Scores       map[string]float64 `json:"scores"`
}

// L2ScoredItem is a flat admission-code score.
type L2ScoredItem struct {
	AdmissionCode string  `json:"admissionCode"`
	Score         float64 `json:"score"`
}

// L3ScoringRequest carries the richer feature vector: transcript averages,
// priority object/region and held certificates.
type L3ScoringRequest struct {
	StudentID      uuid.UUID          `json:"studentId"`
	ScenarioKey    string             `json:"scenarioKey"`
	Transcript     map[string]float64 `json:"transcript"`
	PriorityObject string             `json:"priorityObject,omitempty"`
	PriorityRegion string             `json:"priorityRegion,omitempty"`
	Certificates   []string           `json:"certificates,omitempty"`
}

// L3ScoredItem references an admission record directly; these feed the
// linkage reconciler after normalization.
type L3ScoredItem struct {
	ScenarioKey   string    `json:"scenarioKey"`
	AdmissionID   uuid.UUID `json:"admissionId"`
	AdmissionCode string    `json:"admissionCode"`
	Score         float64   `json:"score"`
}
