package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/processor"
	"github.com/adverant/nexus/binwatch-worker/internal/queue"
	"github.com/adverant/nexus/binwatch-worker/internal/utils"
	"github.com/adverant/nexus/binwatch-worker/internal/web/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and process uploaded videos",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	serveCmd.Flags().StringVar(&cfg.DispatchMode, "dispatch", cfg.DispatchMode, "job dispatch mode (inline, queue)")
	serveCmd.Flags().IntVar(&cfg.WorkerConcurrency, "workers", cfg.WorkerConcurrency, "concurrent jobs in queue mode")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, config models.Config) error {
	slog.Info("BinWatch worker starting...", "version", Version)

	p, err := newPipeline(ctx, config)
	if err != nil {
		return err
	}
	defer p.Close()

	dispatcher, stopDispatch, err := newDispatcher(ctx, config, p)
	if err != nil {
		return err
	}
	defer stopDispatch()

	uc := &api.Usecase{
		Conf: api.Config{
			UploadDir:    config.UploadDir,
			MaxVideoSize: config.MaxVideoSize,
			DispatchMode: config.DispatchMode,
			Debug:        config.HTTPDebug,
		},
		Registry:   p.registry,
		Dispatcher: dispatcher,
		Downloader: utils.NewHTTPDownloader(&utils.HTTPDownloaderConfig{
			MaxFileSize: config.MaxVideoSize,
			DestDir:     config.UploadDir,
		}),
	}
	if p.archive != nil {
		uc.Archive = p.archive
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           api.NewHTTPHandler(uc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	slog.Info("✓ BinWatch worker ready", "port", config.Port, "dispatch", config.DispatchMode, "uploadDir", config.UploadDir)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping gracefully...")
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "err", err)
	}

	slog.Info("BinWatch worker stopped")
	return nil
}

// newDispatcher returns the configured dispatcher and a stop function that
// waits for in-flight jobs
func newDispatcher(ctx context.Context, config models.Config, p *pipeline) (api.Dispatcher, func(), error) {
	switch config.DispatchMode {
	case models.DispatchInline:
		d := processor.NewInlineDispatcher(ctx, p.processor)
		return d, d.Wait, nil

	case models.DispatchQueue:
		if config.RedisURL == "" {
			return nil, nil, errors.New("queue dispatch requires REDIS_URL")
		}
		producer, err := queue.NewRedisProducer(config.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize queue producer: %w", err)
		}
		consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:    config.RedisURL,
			Concurrency: config.WorkerConcurrency,
			Runner:      p.processor,
		})
		if err != nil {
			producer.Close()
			return nil, nil, fmt.Errorf("failed to initialize queue consumer: %w", err)
		}
		if err := consumer.Start(); err != nil {
			producer.Close()
			return nil, nil, err
		}
		slog.Info("✓ Queue consumer initialized", "workers", config.WorkerConcurrency)
		return producer, func() {
			consumer.Stop()
			producer.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown dispatch mode %q", config.DispatchMode)
	}
}
