package models

import "time"

// BatchStatus is the lifecycle of a transcription batch. Exactly one
// accumulating batch exists per user at any time.
type BatchStatus string

const (
	BatchStatusAccumulating BatchStatus = "accumulating"
	BatchStatusProcessing   BatchStatus = "processing"
	BatchStatusCompleted    BatchStatus = "completed"
	BatchStatusFailed       BatchStatus = "failed"
)

// Batch groups temporally adjacent speechful segments for one transcription
// pass. A batch closes when the gap to the next segment exceeds the batch
// gap, or when the monitor times it out.
type Batch struct {
	ID       string
	Username string

	// FirstSegmentTime and LastSegmentTime bound the batch on the capture
	// timeline, not the upload timeline.
	FirstSegmentTime time.Time
	LastSegmentTime  time.Time

	SegmentCount   int
	SpeechDuration float64

	Status      BatchStatus
	ProcessedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
