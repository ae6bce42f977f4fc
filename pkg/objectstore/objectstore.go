// Package objectstore abstracts the audio object tier. Audio segments live
// under native-audio/{username}/{filename}; temporary concatenated waveforms
// under temp-diarization/{batch_id}.wav.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	// Metadata holds user metadata (lower-cased keys), e.g. "capturedat".
	Metadata map[string]string
}

// Store is the object-tier interface used by the ingest and transcription
// workers.
type Store interface {
	// Get downloads an object and its metadata.
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)
	// Head fetches object metadata without the body.
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// Put uploads an object.
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Delete removes an object; deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// List returns objects under prefix modified at or after since.
	List(ctx context.Context, prefix string, since time.Time) ([]ObjectInfo, error)
	// PresignGet returns a time-limited signed GET URL for the object.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// CapturedAt derives the recording time from object metadata: a "capturedat"
// Unix-millisecond field wins, then an ISO-8601 "capture-time", then the
// fallback (upload time).
func CapturedAt(meta map[string]string, fallback time.Time) time.Time {
	if raw, ok := meta["capturedat"]; ok && raw != "" {
		if ms, err := parseInt64(raw); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	if raw, ok := meta["capture-time"]; ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

// TimezoneOffset reads an optional "timezone" IANA name from object metadata
// and returns its offset from UTC at the given instant. Missing or invalid
// metadata means UTC.
func TimezoneOffset(meta map[string]string, at time.Time) time.Duration {
	name, ok := meta["timezone"]
	if !ok || name == "" {
		return 0
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return 0
	}
	_, offset := at.In(loc).Zone()
	return time.Duration(offset) * time.Second
}

func parseInt64(s string) (int64, error) {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int64(c-'0')
	}
	if s == "" {
		return 0, errors.New("empty")
	}
	return n, nil
}
