package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/adverant/nexus/binwatch-worker/internal/classifier"
	"github.com/adverant/nexus/binwatch-worker/internal/clients"
	"github.com/adverant/nexus/binwatch-worker/internal/extractor"
	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/processor"
	"github.com/adverant/nexus/binwatch-worker/internal/registry"
	"github.com/adverant/nexus/binwatch-worker/internal/storage"
	"github.com/adverant/nexus/binwatch-worker/internal/utils"
)

// pipeline is the in-process job machinery shared by serve and analyze
type pipeline struct {
	registry  *registry.JobRegistry
	processor *processor.VideoProcessor
	archive   *storage.StorageManager          // nil without POSTGRES_URL
	notifier  *processor.RedisProgressNotifier // nil without REDIS_URL
}

func newPipeline(ctx context.Context, config models.Config) (*pipeline, error) {
	if err := os.MkdirAll(config.FramesDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	// 1. Decoder
	ffmpeg, err := utils.NewFFmpegHelper(config.FFmpegPath, config.FFprobePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize FFmpeg: %w", err)
	}
	slog.Info("✓ FFmpeg initialized")

	// 2. Vision client
	vision := clients.NewVisionClient(clients.VisionClientConfig{
		APIKey:            config.OpenAIAPIKey,
		BaseURL:           config.OpenAIBaseURL,
		Timeout:           config.VisionTimeout,
		RetryCount:        config.VisionRetries,
		RequestsPerSecond: config.VisionRequestsPerSec,
	})
	if config.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, vision requests will fail and frames will be reported as not flagged")
	} else if err := checkVision(ctx, vision); err != nil {
		slog.Warn("vision health check failed", "err", err)
	} else {
		slog.Info("✓ Vision client connected", "baseURL", config.OpenAIBaseURL, "model", config.VisionModel)
	}

	// 3. Processor
	batchDelay := config.BatchDelay
	if batchDelay == 0 {
		batchDelay = -1
	}
	reg := registry.New()
	vp := processor.NewVideoProcessor(
		extractor.NewFrameExtractor(ffmpeg, config.FramesDir(), config.SampleIntervalSeconds),
		classifier.NewFrameClassifier(vision, config.VisionModel),
		reg,
		processor.Config{
			Concurrency:  config.BatchConcurrency,
			BatchDelay:   batchDelay,
			UploadDir:    config.UploadDir,
			DefaultModel: config.VisionModel,
		},
	)

	p := &pipeline{registry: reg, processor: vp}

	// 4. Optional progress pub/sub
	if config.RedisURL != "" {
		notifier, err := processor.NewRedisProgressNotifier(ctx, config.RedisURL)
		if err != nil {
			slog.Warn("progress pub/sub disabled", "err", err)
		} else {
			p.notifier = notifier
			vp.AddNotifier(notifier)
			slog.Info("✓ Redis progress notifier initialized")
		}
	}

	// 5. Optional result archive
	if config.PostgresURL != "" {
		archive, err := storage.NewStorageManager(ctx, config.PostgresURL)
		if err != nil {
			slog.Warn("result archive disabled", "err", err)
		} else {
			p.archive = archive
			vp.SetArchive(archive)
			slog.Info("✓ Storage manager initialized (PostgreSQL)")
		}
	}

	slog.Info("✓ Video processor initialized",
		"concurrency", config.BatchConcurrency,
		"batchDelay", config.BatchDelay,
		"interval", config.SampleIntervalSeconds)
	return p, nil
}

func (p *pipeline) Close() {
	if p.notifier != nil {
		p.notifier.Close()
		if published, failed := p.notifier.Stats(); failed > 0 {
			slog.Warn("progress updates lost", "published", published, "failed", failed)
		}
	}
	if p.archive != nil {
		p.archive.Close()
	}
}

const visionHealthTimeout = 5 * time.Second

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// checkVision bounds the startup probe independently of VISION_TIMEOUT_SECONDS
func checkVision(ctx context.Context, vision healthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, visionHealthTimeout)
	defer cancel()
	return vision.HealthCheck(ctx)
}
