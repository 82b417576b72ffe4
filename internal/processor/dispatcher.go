package processor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// JobRunner executes one job to a terminal state
type JobRunner interface {
	Process(ctx context.Context, job models.JobPayload) error
}

// InlineDispatcher runs jobs on goroutines inside the HTTP process. Jobs never
// block the caller; their outcome is only visible through the registry.
type InlineDispatcher struct {
	baseCtx context.Context
	runner  JobRunner
	wg      sync.WaitGroup
}

// NewInlineDispatcher binds job lifetimes to baseCtx, so cancelling it
// cancels every running job
func NewInlineDispatcher(baseCtx context.Context, runner JobRunner) *InlineDispatcher {
	return &InlineDispatcher{baseCtx: baseCtx, runner: runner}
}

// Dispatch starts job in the background
func (d *InlineDispatcher) Dispatch(_ context.Context, job models.JobPayload) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.Process(d.baseCtx, job); err != nil {
			slog.Warn("job finished with error", "jobId", job.JobID, "err", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has returned
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
