// internal/models/prediction_test.go
package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestComputeStatus_AllPresenceCombinations(t *testing.T) {
	cases := []struct {
		l1, l2, l3 bool
		want       PredictionStatus
	}{
		{false, false, false, StatusFailed},
		{true, false, false, StatusPartial},
		{false, true, false, StatusPartial},
		{false, false, true, StatusPartial},
		{true, true, false, StatusPartial},
		{true, false, true, StatusPartial},
		{false, true, true, StatusPartial},
		{true, true, true, StatusCompleted},
	}
	for _, tc := range cases {
		got := ComputeStatus(tc.l1, tc.l2, tc.l3)
		assert.Equal(t, tc.want, got, "l1=%v l2=%v l3=%v", tc.l1, tc.l2, tc.l3)
	}
}

func TestRecomputeStatus_DocumentlessProfileCompletesOnTwoStages(t *testing.T) {
	p := &PredictionResult{
		L1Results: []L1CategoryResult{{Category: "standard"}},
		L2Results: []L2Result{{AdmissionCode: "UNI-101"}},
	}
	p.RecomputeStatus(false)
	assert.Equal(t, StatusCompleted, p.Status)

	p.L2Results = nil
	p.RecomputeStatus(false)
	assert.Equal(t, StatusPartial, p.Status)

	p.L1Results = nil
	p.RecomputeStatus(false)
	assert.Equal(t, StatusFailed, p.Status)
}

func TestRecomputeStatus_DocumentStageExpectedCountsL3(t *testing.T) {
	p := &PredictionResult{
		L1Results: []L1CategoryResult{{Category: "standard"}},
		L2Results: []L2Result{{AdmissionCode: "UNI-101"}},
	}
	p.RecomputeStatus(true)
	assert.Equal(t, StatusPartial, p.Status)

	p.L3Results = []L3ScenarioResult{{ScenarioKey: "transcript"}}
	p.RecomputeStatus(true)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestRecomputeStatus_PresentL3AlwaysCounts(t *testing.T) {
	// A stale creation-pass recompute after an OCR merge must not regress
	// the status: present L3 results are counted even when unexpected.
	p := &PredictionResult{
		L1Results: []L1CategoryResult{{Category: "standard"}},
		L3Results: []L3ScenarioResult{{ScenarioKey: "transcript"}},
	}
	p.RecomputeStatus(false)
	assert.Equal(t, StatusPartial, p.Status)
}

func TestAdmissionIDs_DistinctFirstSeenOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	p := &PredictionResult{
		L3Results: []L3ScenarioResult{
			{ScenarioKey: "transcript", Entries: []L3Entry{
				{AdmissionID: a}, {AdmissionID: uuid.Nil}, {AdmissionID: b},
			}},
			{ScenarioKey: "priority", Entries: []L3Entry{
				{AdmissionID: b}, {AdmissionID: a},
			}},
		},
	}
	assert.Equal(t, []uuid.UUID{a, b}, p.AdmissionIDs())
}
