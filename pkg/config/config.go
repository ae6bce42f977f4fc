// Package config loads process configuration from the environment.
// A .env file (loaded by the entrypoint via godotenv) feeds the same
// variables in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server     ServerConfig
	Ingest     IngestConfig
	Transcribe TranscribeConfig
	Analyzer   AnalyzerConfig
	Queue      QueueConfig
	Object     ObjectConfig
	Redis      RedisConfig
	Vendors    VendorConfig
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// IngestConfig controls the ingest & VAD worker.
type IngestConfig struct {
	// BatchGap is the maximum silence between segments before a new batch is
	// opened. BatchTimeout is how long a batch may accumulate before the
	// monitor closes it. Both default to five minutes.
	BatchGap     time.Duration
	BatchTimeout time.Duration

	// ReconcileInterval is how often the object store is listed to catch
	// dropped queue notifications; ReconcileLookback bounds the listing.
	ReconcileInterval time.Duration
	ReconcileLookback time.Duration

	// VADWorkers bounds concurrent VAD tasks.
	VADWorkers int

	// ScratchDir holds per-task temporary downloads.
	ScratchDir string
}

// TranscribeConfig controls the batch transcription worker.
type TranscribeConfig struct {
	MonitorInterval time.Duration
	SignedURLTTL    time.Duration
}

// AnalyzerConfig controls the incremental event analyzer.
type AnalyzerConfig struct {
	Interval time.Duration
	// MaxTranscriptsPerCycle bounds per-cycle work; unprocessed transcripts
	// wait for the next cycle.
	MaxTranscriptsPerCycle int
	// EventGap is the silence threshold that splits raw event groups and
	// decides continue-vs-complete for ongoing events.
	EventGap time.Duration
	// StuckProcessingThreshold returns transcripts abandoned in "processing"
	// (crashed worker) back to "pending".
	StuckProcessingThreshold time.Duration
}

// QueueConfig configures the upload-notification queue consumer.
type QueueConfig struct {
	QueueURL          string
	MaxMessages       int32
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// ObjectConfig configures the object-store tier.
type ObjectConfig struct {
	Bucket      string
	AudioPrefix string
	TempPrefix  string
	Region      string
	// Endpoint overrides the S3 endpoint for MinIO-style deployments.
	Endpoint string
}

// RedisConfig configures the key/value tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// ContextTTL is the rolling expiration on user context entries.
	ContextTTL time.Duration
	// UploadTranscriptTTL bounds pending upload-transcript staging keys.
	UploadTranscriptTTL time.Duration
}

// VendorConfig holds external vendor endpoints and credentials.
type VendorConfig struct {
	DeepgramAPIKey     string
	DeepgramTimeout    time.Duration
	DiarizationBaseURL string
	DiarizationAPIKey  string
	DiarizationSubmitTimeout time.Duration
	DiarizationPollInterval  time.Duration
	DiarizationPollCap       time.Duration
	OpenAIAPIKey       string
	OpenAIModel        string
}

// Load builds the configuration from the environment, applying defaults for
// everything but credentials and the queue URL.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Ingest: IngestConfig{
			BatchGap:          getDuration("BATCH_GAP", 300*time.Second),
			BatchTimeout:      getDuration("BATCH_TIMEOUT", 300*time.Second),
			ReconcileInterval: getDuration("RECONCILE_INTERVAL", 5*time.Minute),
			ReconcileLookback: getDuration("RECONCILE_LOOKBACK", 24*time.Hour),
			VADWorkers:        getInt("VAD_WORKERS", 4),
			ScratchDir:        getEnv("SCRATCH_DIR", os.TempDir()),
		},
		Transcribe: TranscribeConfig{
			MonitorInterval: getDuration("BATCH_MONITOR_INTERVAL", 10*time.Second),
			SignedURLTTL:    getDuration("SIGNED_URL_TTL", time.Hour),
		},
		Analyzer: AnalyzerConfig{
			Interval:                 getDuration("ANALYZE_INTERVAL", 120*time.Second),
			MaxTranscriptsPerCycle:   getInt("ANALYZE_BATCH_SIZE", 1000),
			EventGap:                 getDuration("EVENT_GAP", 600*time.Second),
			StuckProcessingThreshold: getDuration("ANALYZE_STUCK_THRESHOLD", 30*time.Minute),
		},
		Queue: QueueConfig{
			QueueURL:          os.Getenv("UPLOAD_QUEUE_URL"),
			MaxMessages:       int32(getInt("QUEUE_MAX_MESSAGES", 10)),
			WaitTime:          getDuration("QUEUE_WAIT_TIME", 20*time.Second),
			VisibilityTimeout: getDuration("QUEUE_VISIBILITY_TIMEOUT", 120*time.Second),
		},
		Object: ObjectConfig{
			Bucket:      getEnv("AUDIO_BUCKET", "lifetrace-audio"),
			AudioPrefix: getEnv("AUDIO_PREFIX", "native-audio/"),
			TempPrefix:  getEnv("TEMP_PREFIX", "temp-diarization/"),
			Region:      getEnv("AWS_REGION", "us-east-1"),
			Endpoint:    os.Getenv("S3_ENDPOINT"),
		},
		Redis: RedisConfig{
			Addr:                getEnv("REDIS_ADDR", "localhost:6379"),
			Password:            os.Getenv("REDIS_PASSWORD"),
			DB:                  getInt("REDIS_DB", 0),
			ContextTTL:          getDuration("CONTEXT_TTL", 7*24*time.Hour),
			UploadTranscriptTTL: getDuration("UPLOAD_TRANSCRIPT_TTL", 60*time.Second),
		},
		Vendors: VendorConfig{
			DeepgramAPIKey:           os.Getenv("DEEPGRAM_API_KEY"),
			DeepgramTimeout:          getDuration("DEEPGRAM_TIMEOUT", 300*time.Second),
			DiarizationBaseURL:       getEnv("DIARIZATION_BASE_URL", "https://api.pyannote.ai/v1"),
			DiarizationAPIKey:        os.Getenv("DIARIZATION_API_KEY"),
			DiarizationSubmitTimeout: getDuration("DIARIZATION_SUBMIT_TIMEOUT", 60*time.Second),
			DiarizationPollInterval:  getDuration("DIARIZATION_POLL_INTERVAL", 10*time.Second),
			DiarizationPollCap:       getDuration("DIARIZATION_POLL_CAP", 10*time.Minute),
			OpenAIAPIKey:             os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:              getEnv("OPENAI_MODEL", "gpt-4.1"),
		},
	}

	if cfg.Ingest.BatchGap <= 0 || cfg.Ingest.BatchTimeout <= 0 {
		return nil, fmt.Errorf("batch gap and timeout must be positive")
	}
	if cfg.Analyzer.EventGap <= 0 {
		return nil, fmt.Errorf("event gap must be positive")
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare numbers are seconds, matching the deployment env files.
		if n, err := strconv.Atoi(val); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultVal
}
