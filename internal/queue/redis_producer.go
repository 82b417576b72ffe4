package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// Task routing
const (
	TypeAnalyze = "binwatch:analyze"
	QueueName   = "binwatch:default"
)

// RedisProducer hands jobs to the queue consumer
type RedisProducer struct {
	client *asynq.Client
}

// NewRedisProducer creates a producer for the given Redis URL
func NewRedisProducer(redisURL string) (*RedisProducer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &RedisProducer{client: asynq.NewClient(redisOpt)}, nil
}

// Dispatch enqueues job and returns once Redis has accepted it
func (p *RedisProducer) Dispatch(ctx context.Context, job models.JobPayload) error {
	now := time.Now()
	job.EnqueuedAt = &now

	task, err := encodeAnalyzeTask(job)
	if err != nil {
		return err
	}

	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}

	slog.InfoContext(ctx, "job enqueued", "jobId", job.JobID, "taskId", info.ID, "queue", info.Queue)
	return nil
}

// Close releases the Redis connection
func (p *RedisProducer) Close() error {
	return p.client.Close()
}
