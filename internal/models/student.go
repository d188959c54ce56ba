// internal/models/student.go
package models

import "github.com/google/uuid"

// StudentProfile is the read-only projection of a student row that the
// prediction stages expand into scoring requests. Owned by the CRUD service;
// this pipeline never writes it.
type StudentProfile struct {
	ID     uuid.UUID  `json:"id"`
	UserID *uuid.UUID `json:"userId,omitempty"`
	Email  string     `json:"email,omitempty"`

	// L1 expansion axes.
	SchoolTypes        []string `json:"schoolTypes,omitempty"` // public / private
	Provinces          []string `json:"provinces,omitempty"`
	MajorGroups        []string `json:"majorGroups,omitempty"`
	AwardSubjects      []string `json:"awardSubjects,omitempty"`
	PriorityCategories []string `json:"priorityCategories,omitempty"`

	// L2 score sources, keyed by subject.
	NationalExamScores map[string]float64 `json:"nationalExamScores,omitempty"`
	VsatScores         map[string]float64 `json:"vsatScores,omitempty"`
	AptitudeScores     map[string]float64 `json:"aptitudeScores,omitempty"`
	CertificateScores  map[string]float64 `json:"certificateScores,omitempty"`
	TalentScores       map[string]float64 `json:"talentScores,omitempty"`

	// L3 feature sources, typically populated by OCR extraction.
	Transcript     map[string]float64 `json:"transcript,omitempty"`
	PriorityObject string             `json:"priorityObject,omitempty"`
	PriorityRegion string             `json:"priorityRegion,omitempty"`
	Certificates   []string           `json:"certificates,omitempty"`
}

// HasDocumentData reports whether any OCR-extracted field is populated;
// only then is the document-derived prediction pass applicable.
func (p *StudentProfile) HasDocumentData() bool {
	return len(p.Transcript) > 0 || p.PriorityObject != "" || p.PriorityRegion != "" || len(p.Certificates) > 0
}

// Actor returns the audit marker for writes triggered by this profile.
func (p *StudentProfile) Actor() string {
	if p.Email != "" {
		return p.Email
	}
	return AnonymousActor
}
