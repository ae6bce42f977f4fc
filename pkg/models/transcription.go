package models

import (
	"encoding/json"
	"time"
)

// AnalysisStatus tracks a transcript through the event analyzer.
type AnalysisStatus string

const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

// TranscriptionResult is one batch's merged, diarized transcript. Text holds
// timestamped speaker lines:
//
//	[HH:MM:SS-HH:MM:SS] {speaker}: {text}
type TranscriptionResult struct {
	ID       string `json:"transcription_id"`
	Username string `json:"-"`
	BatchID  string `json:"batch_id"`

	// StartTime and EndTime are the capture-timeline bounds of the batch.
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Text       string  `json:"transcription_text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`

	// Vendor analysis payloads, stored verbatim.
	Sentiments  json.RawMessage `json:"sentiments,omitempty"`
	Topics      json.RawMessage `json:"topics,omitempty"`
	Intents     json.RawMessage `json:"intents,omitempty"`
	RawResponse json.RawMessage `json:"-"`

	SegmentCount int `json:"segment_count"`

	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	AnalyzedAt     *time.Time     `json:"analyzed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
