package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// JobRunner executes one job to a terminal state
type JobRunner interface {
	Process(ctx context.Context, job models.JobPayload) error
}

// RedisConsumer consumes video analysis jobs from the Redis queue
type RedisConsumer struct {
	server *asynq.Server
	runner JobRunner
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL        string
	Concurrency     int           // Default: 2
	ShutdownTimeout time.Duration // Default: 30s
	Runner          JobRunner
}

// NewRedisConsumer creates a new Redis queue consumer
func NewRedisConsumer(config *RedisConsumerConfig) (*RedisConsumer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     config.Concurrency,
			Queues:          map[string]int{QueueName: 1},
			ShutdownTimeout: config.ShutdownTimeout,
			Logger:          slogAdapter{},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				slog.ErrorContext(ctx, "task failed", "type", task.Type(), "err", err)
			}),
		},
	)

	return &RedisConsumer{
		server: server,
		runner: config.Runner,
	}, nil
}

// Start begins consuming in the background
func (rc *RedisConsumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAnalyze, rc.handleAnalyzeTask)

	slog.Info("starting queue consumer", "queue", QueueName)

	if err := rc.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

// Stop waits for in-flight tasks up to the shutdown timeout, then stops
func (rc *RedisConsumer) Stop() {
	slog.Info("shutting down queue consumer")
	rc.server.Shutdown()
}

// handleAnalyzeTask runs one job. The processor records failures in the
// registry itself, so failed tasks are never retried.
func (rc *RedisConsumer) handleAnalyzeTask(ctx context.Context, task *asynq.Task) error {
	job, err := DecodeAnalyzeTask(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := slog.With("jobId", job.JobID)
	if job.EnqueuedAt != nil {
		log = log.With("queued", time.Since(*job.EnqueuedAt))
	}
	log.InfoContext(ctx, "processing job", "video", job.VideoPath)

	if err := rc.runner.Process(ctx, job); err != nil {
		log.WarnContext(ctx, "job failed", "err", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.InfoContext(ctx, "job completed")
	return nil
}

// slogAdapter routes asynq's internal logging through slog
type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Fatal(args ...interface{}) {
	slog.Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}

func encodeAnalyzeTask(job models.JobPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TypeAnalyze, payload, asynq.Queue(QueueName), asynq.MaxRetry(0)), nil
}

// DecodeAnalyzeTask parses the job carried by an analyze task
func DecodeAnalyzeTask(task *asynq.Task) (models.JobPayload, error) {
	var job models.JobPayload
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return job, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if job.JobID == "" || job.VideoPath == "" {
		return job, errors.New("job payload missing jobId or videoPath")
	}
	return job, nil
}
