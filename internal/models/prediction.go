// internal/models/prediction.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// PredictionStatus reflects how many prediction stages have produced results.
type PredictionStatus string

const (
	StatusProcessing PredictionStatus = "PROCESSING"
	StatusPartial    PredictionStatus = "PARTIAL"
	StatusCompleted  PredictionStatus = "COMPLETED"
	StatusFailed     PredictionStatus = "FAILED"
)

// AnonymousActor marks writes performed on behalf of a guest profile.
const AnonymousActor = "anonymous"

// L1CategoryResult groups admission-group scores by priority category.
// Scores maps ma_xet_tuyen codes to the best predicted score for that code.
type L1CategoryResult struct {
	Category string             `json:"category"`
	Scores   map[string]float64 `json:"scores"`
}

// L2Result is one scored admission code from the flat L2 pass.
type L2Result struct {
	AdmissionCode string  `json:"admissionCode"`
	Score         float64 `json:"score"`
}

// L3Entry is a single scored admission reference within a scenario.
type L3Entry struct {
	AdmissionID   uuid.UUID `json:"admissionId"`
	AdmissionCode string    `json:"admissionCode"`
	Score         float64   `json:"score"`
}

// L3ScenarioResult groups L3 entries by exam-scenario key.
type L3ScenarioResult struct {
	ScenarioKey string    `json:"scenarioKey"`
	Entries     []L3Entry `json:"entries"`
}

// PredictionResult is the per-student aggregate unifying the three stage
// result sets and the derived status. There is exactly one row per student.
type PredictionResult struct {
	StudentID uuid.UUID          `json:"studentId"`
	UserID    *uuid.UUID         `json:"userId,omitempty"`
	L1Results []L1CategoryResult `json:"l1Results,omitempty"`
	L2Results []L2Result         `json:"l2Results,omitempty"`
	L3Results []L3ScenarioResult `json:"l3Results,omitempty"`
	Status    PredictionStatus   `json:"status"`
	CreatedBy string             `json:"createdBy"`
	UpdatedBy string             `json:"updatedBy"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`

	// Version backs the optimistic-locking guard on saves. Incremented on
	// every write; a save against a stale version is rejected.
	Version int64 `json:"-"`
}

// ComputeStatus derives the aggregate status from stage-result presence:
// all three present -> COMPLETED, at least one -> PARTIAL, none -> FAILED.
func ComputeStatus(l1, l2, l3 bool) PredictionStatus {
	present := 0
	for _, p := range []bool{l1, l2, l3} {
		if p {
			present++
		}
	}
	switch present {
	case 3:
		return StatusCompleted
	case 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// RecomputeStatus re-derives Status from the current stage fields. The
// recomputation is commutative: it depends only on row state and whether
// the document pass applies, never on which trigger caused the write, so
// late or out-of-order stage merges always converge.
//
// docStageExpected marks the L3 pass as part of the expectation: profiles
// with no scorable documents complete on the first two passes alone, while
// an OCR-triggered run always counts L3.
func (p *PredictionResult) RecomputeStatus(docStageExpected bool) {
	l1 := len(p.L1Results) > 0
	l2 := len(p.L2Results) > 0
	l3 := len(p.L3Results) > 0

	if !docStageExpected && !l3 {
		switch {
		case l1 && l2:
			p.Status = StatusCompleted
		case l1 || l2:
			p.Status = StatusPartial
		default:
			p.Status = StatusFailed
		}
		return
	}
	p.Status = ComputeStatus(l1, l2, l3)
}

// AdmissionIDs collects the distinct admission ids referenced by the L3
// results, in first-seen order. Input to the linkage reconciler.
func (p *PredictionResult) AdmissionIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, scenario := range p.L3Results {
		for _, entry := range scenario.Entries {
			if entry.AdmissionID == uuid.Nil || seen[entry.AdmissionID] {
				continue
			}
			seen[entry.AdmissionID] = true
			ids = append(ids, entry.AdmissionID)
		}
	}
	return ids
}
