// Package bootstrap provides dependency initialization for the advert remover.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maxharrison/podcast-adblocker/internal/audio"
	"github.com/maxharrison/podcast-adblocker/internal/cache"
	"github.com/maxharrison/podcast-adblocker/internal/config"
	"github.com/maxharrison/podcast-adblocker/internal/detect"
	"github.com/maxharrison/podcast-adblocker/internal/feed"
	"github.com/maxharrison/podcast-adblocker/internal/pipeline"
	"github.com/maxharrison/podcast-adblocker/internal/runpod"
	"github.com/maxharrison/podcast-adblocker/internal/storage"
	"github.com/maxharrison/podcast-adblocker/internal/transcribe"
)

// Dependencies holds all initialized dependencies for the CLI and server.
type Dependencies struct {
	Service *pipeline.Service
	Cache   *cache.Store
}

// NewDependencies creates every collaborator a feed run needs.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Bucket storage stages audio for the transcription worker.
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	runpodClient, err := runpod.NewClient(cfg.ProjectID, runpod.WithAPIKey(cfg.RunPodAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create RunPod client: %w", err)
	}

	whisperOpts := transcribe.DefaultWhisperOptions()
	whisperOpts.Submit.Model = cfg.WhisperModel
	whisperOpts.Submit.Language = cfg.WhisperLanguage
	whisperOpts.PollInterval = cfg.WhisperPollInterval
	whisperOpts.MaxWait = cfg.WhisperMaxWait
	transcriber := transcribe.NewRunPodWhisper(runpodClient, store, whisperOpts, logger)

	detector, err := detect.NewGeminiDetector(detect.NewGenAIFactory(), cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}

	cacheStore := cache.NewStore(cfg.CacheDir, logger)

	deps := pipeline.Deps{
		Repo:        pipeline.NewMemoryRepository(),
		Resolver:    feed.NewResolver(nil, logger),
		Downloader:  feed.NewDownloader(feed.WithLogger(logger)),
		Transcriber: transcriber,
		Detector:    detector,
		Editor:      audio.NewFFmpegEditor(cfg.FFmpegPath, cfg.FFprobePath),
		Cache:       cacheStore,
		Storage:     store,
	}
	if cfg.PublishEnabled() {
		deps.Publisher = pipeline.NewPublisher(store, logger)
		logger.Info("publishing enabled", slog.String("public_url", cfg.PublicURL))
	}

	svc := pipeline.NewService(deps, serviceOptions(cfg), logger)

	return &Dependencies{
		Service: svc,
		Cache:   cacheStore,
	}, nil
}

// NewLocalDependencies creates the collaborators for commands that only
// work on local files: stripping known intervals and cache maintenance.
func NewLocalDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	cacheStore := cache.NewStore(cfg.CacheDir, logger)
	svc := pipeline.NewService(pipeline.Deps{
		Repo:    pipeline.NewMemoryRepository(),
		Editor:  audio.NewFFmpegEditor(cfg.FFmpegPath, cfg.FFprobePath),
		Cache:   cacheStore,
		Storage: store,
	}, serviceOptions(cfg), logger)

	return &Dependencies{
		Service: svc,
		Cache:   cacheStore,
	}, nil
}

func serviceOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		FeedURL:   cfg.RSSFeed,
		OutputDir: cfg.OutputDir,
		LockPath:  cfg.LockPath(),
		MaxRuns:   cfg.RunHistory,
	}
}

// initStorage creates the bucket-backed storage.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	s3Cfg := storage.S3Config{
		Bucket:          cfg.BucketName,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		PublicURL:       cfg.PublicURL,
	}
	s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("create S3 storage: %w", err)
	}
	logger.Info("bucket storage configured",
		slog.String("bucket", cfg.BucketName),
		slog.String("region", cfg.S3Region),
		slog.String("temp_dir", cfg.TempDir),
	)
	return s3Store, nil
}
