// internal/models/events.go
package models

import "github.com/google/uuid"

// StudentCreatedEvent is published when a student profile has been created
// or materially updated by the CRUD service.
type StudentCreatedEvent struct {
	StudentID uuid.UUID  `json:"studentId"`
	UserID    *uuid.UUID `json:"userId,omitempty"`
}

// OcrCompletedEvent is published when an OCR batch for a student's uploaded
// documents has finished and its extracted scores were written to the profile.
type OcrCompletedEvent struct {
	StudentID    uuid.UUID   `json:"studentId"`
	OcrResultIDs []uuid.UUID `json:"ocrResultIds"`
	UserID       *uuid.UUID  `json:"userId,omitempty"`
}
