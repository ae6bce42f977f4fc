// Package models contains the domain records shared by the storage layer,
// the pipeline workers, and the API surface.
package models

import "time"

// AudioFileStatus tracks an uploaded segment through the ingest pipeline.
// Transitions are monotonic: uploaded → (vad_complete | no_speech | vad_failed) → transcribed.
type AudioFileStatus string

const (
	AudioStatusUploaded    AudioFileStatus = "uploaded"
	AudioStatusVADComplete AudioFileStatus = "vad_complete"
	AudioStatusNoSpeech    AudioFileStatus = "no_speech"
	AudioStatusVADFailed   AudioFileStatus = "vad_failed"
	AudioStatusTranscribed AudioFileStatus = "transcribed"
)

// Span is one speech interval inside a segment, in seconds relative to the
// start of the file.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the span length in seconds.
func (s Span) Duration() float64 { return s.End - s.Start }

// AudioFile is one uploaded audio segment. The object-store coordinates
// (bucket, key) are the idempotence key for at-least-once ingest: a row is
// never inserted twice for the same object.
type AudioFile struct {
	ID       string
	Username string

	Bucket    string
	Key       string
	Format    string
	SizeBytes int64

	// CapturedAt is when the audio was recorded (from upload metadata when
	// present), UploadedAt when it landed in object storage. CapturedAt is
	// authoritative for transcript timelines.
	CapturedAt time.Time
	UploadedAt time.Time

	Status AudioFileStatus

	// VAD results, set once by the ingest worker.
	SpeechSegments []Span
	SegmentCount   int
	SpeechDuration float64
	SpeechRatio    float64
	TotalDuration  float64
	VADProcessedAt *time.Time
	VADError       string

	// BatchID links the file to its transcription batch. Nil until VAD finds
	// at least one speech segment.
	BatchID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
