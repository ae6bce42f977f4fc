// Package kvstore is the fast key/value tier: per-user session context with
// a rolling TTL, short-lived upload-transcript staging, and a display-name
// cache. Keys are human-readable:
//
//	context:{user}
//	upload_transcript:{user}:{unix_ts}:{n}
//	display_name:{user}
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kvstore: not found")

// Store wraps a redis client with the TTL policy for each key family.
type Store struct {
	client              *redis.Client
	contextTTL          time.Duration
	uploadTranscriptTTL time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithContextTTL overrides the rolling expiration on user context entries.
// Default is 7 days.
func WithContextTTL(ttl time.Duration) Option {
	return func(s *Store) { s.contextTTL = ttl }
}

// WithUploadTranscriptTTL overrides the staging-key expiration. Default is
// 60 seconds.
func WithUploadTranscriptTTL(ttl time.Duration) Option {
	return func(s *Store) { s.uploadTranscriptTTL = ttl }
}

// New creates a Store over an existing redis client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:              client,
		contextTTL:          7 * 24 * time.Hour,
		uploadTranscriptTTL: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func contextKey(username string) string { return "context:" + username }

// SetUserContext stores the user's session context and restarts its rolling
// TTL.
func (s *Store) SetUserContext(ctx context.Context, uc *models.UserContext) error {
	uc.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(uc)
	if err != nil {
		return fmt.Errorf("marshal user context: %w", err)
	}
	if err := s.client.Set(ctx, contextKey(uc.Username), data, s.contextTTL).Err(); err != nil {
		return fmt.Errorf("set user context: %w", err)
	}
	return nil
}

// GetUserContext loads the user's session context, refreshing the rolling
// TTL on read.
func (s *Store) GetUserContext(ctx context.Context, username string) (*models.UserContext, error) {
	key := contextKey(username)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user context: %w", err)
	}
	var uc models.UserContext
	if err := json.Unmarshal(data, &uc); err != nil {
		return nil, fmt.Errorf("unmarshal user context: %w", err)
	}
	// Rolling expiration: touching the context keeps it alive.
	_ = s.client.Expire(ctx, key, s.contextTTL).Err()
	return &uc, nil
}

// StageUploadTranscript stages a transcript-shaped payload under a
// short-lived key so a following incremental-analyze call can pick it up.
func (s *Store) StageUploadTranscript(ctx context.Context, username string, ts time.Time, n int, payload string) error {
	key := fmt.Sprintf("upload_transcript:%s:%d:%d", username, ts.Unix(), n)
	if err := s.client.Set(ctx, key, payload, s.uploadTranscriptTTL).Err(); err != nil {
		return fmt.Errorf("stage upload transcript: %w", err)
	}
	return nil
}

// ConsumeUploadTranscripts returns and deletes the user's staged payloads in
// key order. Each payload is delivered at most once.
func (s *Store) ConsumeUploadTranscripts(ctx context.Context, username string) ([]string, error) {
	pattern := fmt.Sprintf("upload_transcript:%s:*", username)
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan upload transcripts: %w", err)
	}
	sort.Strings(keys)

	payloads := make([]string, 0, len(keys))
	for _, key := range keys {
		val, err := s.client.GetDel(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired or consumed between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("consume staged transcript: %w", err)
		}
		payloads = append(payloads, val)
	}
	return payloads, nil
}

// SetDisplayName caches a user's display name alongside the context TTL.
func (s *Store) SetDisplayName(ctx context.Context, username, displayName string) error {
	if err := s.client.Set(ctx, "display_name:"+username, displayName, s.contextTTL).Err(); err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	return nil
}

// GetDisplayName returns the cached display name, or ErrNotFound.
func (s *Store) GetDisplayName(ctx context.Context, username string) (string, error) {
	val, err := s.client.Get(ctx, "display_name:"+username).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get display name: %w", err)
	}
	return val, nil
}
