package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// Redis key layout for progress delivery
const (
	ProgressChannelPrefix = "binwatch:progress:"
	ResultsStream         = "binwatch:results"
	resultsStreamMaxLen   = 10000
	notifyQueueSize       = 256
)

// ProgressNotifier receives a progress update after every published snapshot.
// Implementations must not block for long: they run under the job's lock.
type ProgressNotifier interface {
	Notify(ctx context.Context, update models.ProgressUpdate)
}

// NotifierFunc adapts a plain function to ProgressNotifier
type NotifierFunc func(ctx context.Context, update models.ProgressUpdate)

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, update models.ProgressUpdate) {
	f(ctx, update)
}

// ProgressChannel is the pub/sub channel carrying updates for one job
func ProgressChannel(jobID string) string {
	return ProgressChannelPrefix + jobID
}

// RedisProgressNotifier fans progress out over Redis pub/sub and records
// terminal outcomes on a capped stream. Updates are queued and sent in order
// by a single goroutine, so Notify never waits on Redis.
type RedisProgressNotifier struct {
	redisClient *redis.Client
	timeout     time.Duration
	queue       chan models.ProgressUpdate
	done        chan struct{}

	mu     sync.RWMutex
	closed bool

	published atomic.Int64
	failures  atomic.Int64
}

// NewRedisProgressNotifier connects to Redis and verifies the connection
func NewRedisProgressNotifier(ctx context.Context, redisURL string) (*RedisProgressNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisProgressNotifier(client), nil
}

func newRedisProgressNotifier(client *redis.Client) *RedisProgressNotifier {
	n := &RedisProgressNotifier{
		redisClient: client,
		timeout:     2 * time.Second,
		queue:       make(chan models.ProgressUpdate, notifyQueueSize),
		done:        make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify queues the update. A full queue or a closed notifier drops it; drops
// and send failures are counted, never returned.
func (n *RedisProgressNotifier) Notify(ctx context.Context, update models.ProgressUpdate) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.failures.Add(1)
		return
	}

	select {
	case n.queue <- update:
	default:
		n.failures.Add(1)
		slog.WarnContext(ctx, "progress queue full, dropping update", "jobId", update.JobID, "processed", update.ProcessedFrames)
	}
}

func (n *RedisProgressNotifier) run() {
	defer close(n.done)
	for update := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := n.publish(ctx, update)
		cancel()

		if err != nil {
			n.failures.Add(1)
			slog.Warn("failed to publish progress", "jobId", update.JobID, "err", err)
			continue
		}
		n.published.Add(1)
	}
}

func (n *RedisProgressNotifier) publish(ctx context.Context, update models.ProgressUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	if err := n.redisClient.Publish(ctx, ProgressChannel(update.JobID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}

	if !update.Status.IsTerminal() {
		return nil
	}

	_, err = n.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: ResultsStream,
		MaxLen: resultsStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"jobId":           update.JobID,
			"status":          string(update.Status),
			"totalFrames":     fmt.Sprintf("%d", update.TotalFrames),
			"processedFrames": fmt.Sprintf("%d", update.ProcessedFrames),
			"eventCount":      fmt.Sprintf("%d", update.EventCount),
			"errorKind":       string(update.ErrorKind),
			"timestamp":       fmt.Sprintf("%d", update.Timestamp.UnixMilli()),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

// Stats returns counts of delivered and failed updates
func (n *RedisProgressNotifier) Stats() (published, failed int64) {
	return n.published.Load(), n.failures.Load()
}

// Close sends any queued updates and releases the Redis connection
func (n *RedisProgressNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
	return n.redisClient.Close()
}
