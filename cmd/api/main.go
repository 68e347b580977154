package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/provider"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

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

	app := &handlers.App{
		Jobs:      repo.NewJobRepository(runner),
		Batches:   repo.NewBatchRepository(runner),
		Objects:   store,
		Registry:  registry,
		IDs:       infra.UUIDGenerator{},
		Clock:     infra.SystemClock{},
		Logger:    logger,
		UploadTTL: cfg.UploadTTL,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		DefaultLocale:   "en",
		RateLimitPerMin: 60,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != os.ErrClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
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
