package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/pipeline"
	"server/internal/provider"
	"server/internal/queue"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	store, err := buildObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise object store")
	}

	registry, err := provider.NewRegistry(provider.RegistryConfig{
		AnalysisProvider: cfg.AnalysisProvider,
		EditingProvider:  cfg.EditingProvider,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GeminiBaseURL:    cfg.GeminiBaseURL,
		GeminiModel:      cfg.GeminiModel,
		QwenAPIKey:       cfg.QwenAPIKey,
		QwenBaseURL:      cfg.QwenBaseURL,
		QwenModel:        cfg.QwenModel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider registry")
	}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build notifier")
	}

	orch, err := pipeline.NewOrchestrator(pipeline.Options{
		Jobs:     repo.NewJobRepository(runner),
		Batches:  repo.NewBatchRepository(runner),
		Objects:  store,
		Notifier: notifier,
		Registry: registry,
		AnalysisGateway: provider.NewGateway(provider.GatewayConfig{
			Name:     cfg.AnalysisProvider,
			Timeout:  cfg.ProviderTimeout,
			Retries:  cfg.ProviderRetries,
			Disabled: cfg.ProvidersDisabled,
		}, nil, nil),
		EditingGateway: provider.NewGateway(provider.GatewayConfig{
			Name:     cfg.EditingProvider,
			Timeout:  cfg.ProviderTimeout,
			Retries:  cfg.ProviderRetries,
			Disabled: cfg.ProvidersDisabled,
		}, nil, nil),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	consumer := queue.NewConsumer(redisClient, queue.Config{
		QueueKey:      cfg.QueueKey,
		DeadLetterKey: cfg.QueueDeadLetterKey,
		PollTimeout:   cfg.QueuePollTimeout,
		MaxAttempts:   cfg.QueueMaxAttempts,
	}, orch, logger)

	logger.Info().Str("queue", cfg.QueueKey).Msg("worker started")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker stopped")
}

func buildObjectStore(ctx context.Context, cfg *infra.Config) (domain.ObjectStore, error) {
	if cfg.StorageBackend == "filesystem" {
		return storage.NewFileStore(cfg.StorageBasePath, cfg.StorageBaseURL)
	}
	return storage.NewMinioStore(ctx, storage.MinioOptions{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,
		Bucket:    cfg.UploadBucket,
	})
}

func buildNotifier(cfg *infra.Config, logger infra.Logger) (domain.NotificationDispatcher, error) {
	if cfg.WebhookURL == "" {
		return notify.NopDispatcher{Logger: logger}, nil
	}
	return notify.NewWebhookDispatcher(cfg.WebhookURL, nil, logger)
}
