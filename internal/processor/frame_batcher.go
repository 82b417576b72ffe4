package processor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// runBatches classifies frames in consecutive batches of config.Concurrency.
// Frames inside a batch run concurrently; the next batch starts only after the
// whole batch has finished and the inter-batch pause has elapsed.
func (vp *VideoProcessor) runBatches(ctx context.Context, jobID string, frames []models.Frame, model string, progress *jobProgress) error {
	size := vp.config.Concurrency

	for start := 0; start < len(frames); start += size {
		end := min(start+size, len(frames))
		batchNum := start/size + 1
		batchStart := time.Now()
		slog.DebugContext(ctx, "starting batch", "jobId", jobID, "batch", batchNum, "from", start, "to", end-1)

		var g errgroup.Group
		g.SetLimit(size)
		for _, frame := range frames[start:end] {
			g.Go(func() error {
				result := vp.classifier.Classify(ctx, frame, model)
				return vp.recordFrame(ctx, progress, frame, result)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		slog.DebugContext(ctx, "finished batch", "jobId", jobID, "batch", batchNum, "elapsed", time.Since(batchStart))

		if err := ctx.Err(); err != nil {
			return err
		}
		if end < len(frames) {
			if err := pause(ctx, vp.config.BatchDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordFrame folds one classification into the job and publishes a snapshot
func (vp *VideoProcessor) recordFrame(ctx context.Context, progress *jobProgress, frame models.Frame, result *models.ClassificationResult) error {
	progress.mu.Lock()
	defer progress.mu.Unlock()

	progress.addLocked(frame, result)
	return vp.publishLocked(ctx, progress.processingJobLocked())
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
