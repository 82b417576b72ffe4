package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// Version is the worker version
const Version = "0.1.0"

// cfg starts from the environment; flags registered in init override it
var cfg = loadConfig()

var rootCmd = &cobra.Command{
	Use:     "worker",
	Short:   "Bin condition analysis for garbage truck footage",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger(cfg.LogLevel))
		return nil
	},
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "directory for uploaded videos and extracted frames")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.VisionModel, "vision-model", cfg.VisionModel, "default vision model")
	flags.IntVar(&cfg.BatchConcurrency, "concurrency", cfg.BatchConcurrency, "frames analyzed concurrently per batch")
	flags.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for progress updates and the job queue")
	flags.StringVar(&cfg.PostgresURL, "db", cfg.PostgresURL, "PostgreSQL connection string for the result archive")
}

func newLogger(level string) *slog.Logger {
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      parseLevel(level),
			TimeFormat: "15:04:05",
		}),
	)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig loads configuration from environment variables
func loadConfig() models.Config {
	config := models.Config{
		Port:                  getEnvInt("PORT", 3000),
		UploadDir:             getEnv("UPLOAD_DIR", "uploads"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		VisionModel:           getEnv("VISION_MODEL", models.DefaultVisionModel),
		VisionTimeout:         time.Duration(getEnvInt("VISION_TIMEOUT_SECONDS", 120)) * time.Second,
		VisionRetries:         getEnvInt("VISION_RETRIES", 0),
		VisionRequestsPerSec:  getEnvFloat("VISION_RPS", 0),
		BatchConcurrency:      getEnvInt("BATCH_CONCURRENCY", 5),
		BatchDelay:            time.Duration(getEnvInt("BATCH_DELAY_MS", 700)) * time.Millisecond,
		SampleIntervalSeconds: getEnvInt("SAMPLE_INTERVAL_SECONDS", 5),
		MaxVideoSize:          getEnvInt64("MAX_VIDEO_SIZE", 2*1024*1024*1024), // 2GB default
		DispatchMode:          getEnv("DISPATCH_MODE", models.DispatchInline),
		WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 2),
		RedisURL:              getEnv("REDIS_URL", ""),
		PostgresURL:           getEnv("POSTGRES_URL", ""),
		FFmpegPath:            getEnv("FFMPEG_PATH", ""),
		FFprobePath:           getEnv("FFPROBE_PATH", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		HTTPDebug:             getEnvBool("HTTP_DEBUG", false),
	}

	return config
}

// getEnv gets environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer environment variable with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 gets int64 environment variable with default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var intValue int64
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets float environment variable with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool gets boolean environment variable with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
