// Package notify consumes S3 object-created notifications from an SQS queue
// and hands them to the ingest pipeline.
package notify

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Upload is one decoded object-created notification.
type Upload struct {
	Bucket   string
	Key      string
	Username string
	Filename string
	Size     int64
}

// s3Event is the notification envelope S3 posts to SQS.
type s3Event struct {
	Records []s3Record `json:"Records"`
}

type s3Record struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseEvent decodes an S3 notification body into uploads. Records that are
// not ObjectCreated events are skipped. Keys that do not match
// native-audio/{username}/{filename} produce an error entry so the caller
// can drop the message rather than retry it forever.
func ParseEvent(body []byte) ([]Upload, []error) {
	var event s3Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, []error{fmt.Errorf("decode s3 event: %w", err)}
	}
	if len(event.Records) == 0 {
		return nil, []error{fmt.Errorf("s3 event has no records")}
	}

	var (
		uploads []Upload
		errs    []error
	)
	for _, rec := range event.Records {
		if !strings.HasPrefix(rec.EventName, "ObjectCreated") {
			continue
		}
		key, err := decodeKey(rec.S3.Object.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		username, filename, err := SplitAudioKey(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		uploads = append(uploads, Upload{
			Bucket:   rec.S3.Bucket.Name,
			Key:      key,
			Username: username,
			Filename: filename,
			Size:     rec.S3.Object.Size,
		})
	}
	return uploads, errs
}

// SplitAudioKey validates an object key against the expected
// native-audio/{username}/{filename} shape.
func SplitAudioKey(key string) (username, filename string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "native-audio" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("unexpected object key shape %q", key)
	}
	return parts[1], parts[2], nil
}

// decodeKey undoes the URL encoding S3 applies to keys in notifications.
func decodeKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("decode object key %q: %w", raw, err)
	}
	return key, nil
}
