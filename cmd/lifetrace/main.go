// lifetrace server: ingests uploaded audio, runs the VAD, transcription, and
// event pipeline, and serves the events, insights, and transcript APIs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lifetrace-ai/lifetrace/pkg/analyzer"
	"github.com/lifetrace-ai/lifetrace/pkg/api"
	"github.com/lifetrace-ai/lifetrace/pkg/config"
	"github.com/lifetrace-ai/lifetrace/pkg/database"
	"github.com/lifetrace-ai/lifetrace/pkg/ingest"
	"github.com/lifetrace-ai/lifetrace/pkg/kvstore"
	"github.com/lifetrace-ai/lifetrace/pkg/llm"
	"github.com/lifetrace-ai/lifetrace/pkg/mentalstate"
	"github.com/lifetrace-ai/lifetrace/pkg/notify"
	"github.com/lifetrace-ai/lifetrace/pkg/objectstore"
	"github.com/lifetrace-ai/lifetrace/pkg/services"
	"github.com/lifetrace-ai/lifetrace/pkg/storage"
	"github.com/lifetrace-ai/lifetrace/pkg/transcribe"
	"github.com/lifetrace-ai/lifetrace/pkg/vad"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file, continuing with existing environment", "error", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Relational tier.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return err
	}
	defer dbClient.Close()
	store := storage.New(dbClient.Pool())
	logger.Info("connected to postgres", "host", dbConfig.Host, "database", dbConfig.Database)

	// Key/value tier.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()
	kv := kvstore.New(redisClient,
		kvstore.WithContextTTL(cfg.Redis.ContextTTL),
		kvstore.WithUploadTranscriptTTL(cfg.Redis.UploadTranscriptTTL))
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	// Object tier.
	objects, err := objectstore.NewS3Store(ctx, cfg.Object.Bucket, cfg.Object.Region, cfg.Object.Endpoint)
	if err != nil {
		return err
	}

	// Vendors.
	recognizer := transcribe.NewDeepgramClient(cfg.Vendors.DeepgramAPIKey, cfg.Vendors.DeepgramTimeout)
	diarizer := transcribe.NewDiarizationClient(cfg.Vendors.DiarizationBaseURL, cfg.Vendors.DiarizationAPIKey,
		cfg.Vendors.DiarizationSubmitTimeout, cfg.Vendors.DiarizationPollInterval, cfg.Vendors.DiarizationPollCap)
	model := llm.NewClient(cfg.Vendors.OpenAIAPIKey, cfg.Vendors.OpenAIModel)

	// Pipeline workers. The transcription worker doubles as the dispatcher
	// for batches the ingest side stale-closes.
	transcriber := transcribe.NewWorker(store.Batches, store.AudioFiles, store.Transcriptions,
		objects, recognizer, diarizer, kv, transcribe.Config{
			MonitorInterval:    cfg.Transcribe.MonitorInterval,
			BatchTimeout:       cfg.Ingest.BatchTimeout,
			SignedURLTTL:       cfg.Transcribe.SignedURLTTL,
			RecognitionTimeout: cfg.Vendors.DeepgramTimeout,
			TempPrefix:         cfg.Object.TempPrefix,
		}, logger)

	ingester := ingest.NewWorker(store.AudioFiles, store.Batches, store.Users,
		objects, transcriber, ingest.Config{
			BatchGap:          cfg.Ingest.BatchGap,
			Workers:           cfg.Ingest.VADWorkers,
			ReconcileLookback: cfg.Ingest.ReconcileLookback,
			VAD:               vad.DefaultConfig(),
		}, logger)

	eventAnalyzer := analyzer.NewWorker(store.Transcriptions, store.Events, model,
		analyzer.Config{
			Interval:                 cfg.Analyzer.Interval,
			MaxTranscriptsPerCycle:   cfg.Analyzer.MaxTranscriptsPerCycle,
			EventGap:                 cfg.Analyzer.EventGap,
			StuckProcessingThreshold: cfg.Analyzer.StuckProcessingThreshold,
		}, logger)

	reflector := analyzer.NewReflector(store.Events, store.Reflections, model, kv, store.Users, logger)
	calculator := mentalstate.NewCalculator(store.Events, store.Scores, logger)

	// Upload-notification consumer.
	sqsClient, err := notify.NewSQSClient(ctx, cfg.Object.Region)
	if err != nil {
		return err
	}
	consumer := notify.NewConsumer(sqsClient, cfg.Queue.QueueURL, ingester.HandleUpload, logger,
		notify.WithMaxMessages(cfg.Queue.MaxMessages),
		notify.WithWaitTime(cfg.Queue.WaitTime),
		notify.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout))

	// API services.
	server := api.NewServer(api.Services{
		Events:         services.NewEventService(store.Events, eventAnalyzer, kv, kv, logger),
		Transcriptions: services.NewTranscriptionService(store.Transcriptions),
		Insights:       services.NewInsightsService(calculator, kv),
		Batches:        services.NewBatchService(store.Batches, store.AudioFiles, logger),
		Reflections:    services.NewReflectionService(store.Reflections, reflector),
	}, []api.HealthCheck{
		{Name: "database", Check: dbClient.Health},
		{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}, logger)

	// Start order: pipeline first so the API never accepts work nothing
	// will process.
	ingester.Start(ctx)
	transcriber.Start(ctx)
	eventAnalyzer.Start(ctx)
	consumer.Start(ctx)
	go ingester.RunReconcileLoop(ctx, cfg.Object.Bucket, cfg.Object.AudioPrefix, cfg.Ingest.ReconcileInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil {
			errCh <- err
		}
	}()
	logger.Info("lifetrace started", "addr", cfg.Server.Addr, "vad_workers", cfg.Ingest.VADWorkers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server failed, shutting down", "error", err)
	}

	// Shutdown order: stop intake, drain the pipeline, then the API.
	cancel()
	consumer.Stop()
	ingester.Stop()
	transcriber.Stop()
	eventAnalyzer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
