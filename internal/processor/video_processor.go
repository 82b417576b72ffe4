package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/registry"
	"github.com/adverant/nexus/binwatch-worker/internal/utils"
)

// Defaults for batch pacing against the vision service
const (
	DefaultConcurrency = 5
	DefaultBatchDelay  = 700 * time.Millisecond
)

// ErrJobDropped means the registry no longer accepts updates for the job,
// usually because it was cleared mid-run.
var ErrJobDropped = errors.New("job no longer tracked")

// FrameSource samples a video into frames
type FrameSource interface {
	ExtractFrames(ctx context.Context, videoPath string) ([]models.Frame, error)
}

// Classifier labels a single frame. A nil result means no event.
type Classifier interface {
	Classify(ctx context.Context, frame models.Frame, model string) *models.ClassificationResult
}

// Publisher receives full job snapshots and serves the current one back
type Publisher interface {
	Publish(jobID string, job models.Job) error
	Snapshot(jobID string) (models.Job, error)
}

// JobArchive persists finished jobs
type JobArchive interface {
	ArchiveJob(ctx context.Context, job models.Job) error
}

// Config controls batching
type Config struct {
	Concurrency  int           // Default: 5
	BatchDelay   time.Duration // Default: 700ms; negative disables the pause
	UploadDir    string        // Root that thumbnail URLs are made relative to
	DefaultModel string        // Default: o4-mini
}

// VideoProcessor orchestrates the frame analysis pipeline for one job at a time
type VideoProcessor struct {
	source     FrameSource
	classifier Classifier
	publisher  Publisher
	archive    JobArchive
	notifiers  []ProgressNotifier
	config     Config
}

// NewVideoProcessor creates a new video processor
func NewVideoProcessor(source FrameSource, classifier Classifier, publisher Publisher, config Config) *VideoProcessor {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.BatchDelay == 0 {
		config.BatchDelay = DefaultBatchDelay
	}
	if config.DefaultModel == "" {
		config.DefaultModel = models.DefaultVisionModel
	}
	return &VideoProcessor{
		source:     source,
		classifier: classifier,
		publisher:  publisher,
		config:     config,
	}
}

// SetArchive enables persistence of completed jobs
func (vp *VideoProcessor) SetArchive(archive JobArchive) {
	vp.archive = archive
}

// AddNotifier registers a progress subscriber
func (vp *VideoProcessor) AddNotifier(n ProgressNotifier) {
	vp.notifiers = append(vp.notifiers, n)
}

// Process runs a job to a terminal state. The job must already exist in the registry.
func (vp *VideoProcessor) Process(ctx context.Context, job models.JobPayload) error {
	startTime := time.Now()
	model := job.ModelOrDefault(vp.config.DefaultModel)
	log := slog.With("jobId", job.JobID)
	log.InfoContext(ctx, "starting frame extraction", "video", job.VideoPath, "model", model)

	frames, err := vp.source.ExtractFrames(ctx, job.VideoPath)
	if err != nil {
		return vp.fail(ctx, job.JobID, err)
	}

	progress := newJobProgress(job.JobID, vp.config.UploadDir, len(frames))
	progress.mu.Lock()
	err = vp.publishLocked(ctx, progress.processingJobLocked())
	progress.mu.Unlock()
	if err != nil {
		return err
	}

	if err := vp.runBatches(ctx, job.JobID, frames, model, progress); err != nil {
		if errors.Is(err, ErrJobDropped) {
			log.InfoContext(ctx, "job dropped from registry, stopping", "err", err)
			return err
		}
		return vp.fail(ctx, job.JobID, err)
	}

	final := progress.completedJob()
	if err := vp.publisher.Publish(job.JobID, final); err != nil {
		return fmt.Errorf("%w: %v", ErrJobDropped, err)
	}
	vp.notify(context.WithoutCancel(ctx), final)

	elapsed := time.Since(startTime)
	perFrame := time.Duration(0)
	if len(frames) > 0 {
		perFrame = elapsed / time.Duration(len(frames))
	}
	log.InfoContext(ctx, "✓ video processing complete",
		"frames", len(frames), "events", len(final.Events), "elapsed", elapsed, "perFrame", perFrame)

	if vp.archive != nil {
		vp.archiveJob(context.WithoutCancel(ctx), final)
	}
	return nil
}

// archiveJob stores the registry's current copy of a finished job, so feedback
// saved after the final publish is archived with it.
func (vp *VideoProcessor) archiveJob(ctx context.Context, final models.Job) {
	job, err := vp.publisher.Snapshot(final.ID)
	if err != nil {
		job = final
	}
	if err := vp.archive.ArchiveJob(ctx, job); err != nil {
		slog.WarnContext(ctx, "failed to archive job", "jobId", final.ID, "err", err)
	}
}

// publishLocked pushes a snapshot to the registry and subscribers. Caller holds
// the job's progress lock.
func (vp *VideoProcessor) publishLocked(ctx context.Context, job models.Job) error {
	if err := vp.publisher.Publish(job.ID, job); err != nil {
		if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrTerminal) {
			return fmt.Errorf("%w: %v", ErrJobDropped, err)
		}
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	vp.notify(ctx, job)
	return nil
}

// fail discards partial progress and moves the job to failed
func (vp *VideoProcessor) fail(ctx context.Context, jobID string, cause error) error {
	kind := errorKind(ctx, cause)
	slog.ErrorContext(ctx, "video processing failed", "jobId", jobID, "errorKind", kind, "err", cause)

	job := models.NewJob(jobID)
	job.Status = models.JobStatusFailed
	job.Message = models.FailedMessage
	job.ErrorKind = kind

	if err := vp.publisher.Publish(jobID, job); err != nil {
		slog.WarnContext(ctx, "could not record failure", "jobId", jobID, "err", err)
	} else {
		vp.notify(context.WithoutCancel(ctx), job)
	}
	return fmt.Errorf("job %s failed: %w", jobID, cause)
}

func (vp *VideoProcessor) notify(ctx context.Context, job models.Job) {
	if len(vp.notifiers) == 0 {
		return
	}
	update := models.ProgressFromJob(job)
	for _, n := range vp.notifiers {
		n.Notify(ctx, update)
	}
}

// errorKind maps a job-fatal error to the kind reported to clients
func errorKind(ctx context.Context, err error) models.ErrorKind {
	var (
		probeErr  *utils.DecodeProbeError
		decodeErr *utils.DecodeError
		spawnErr  *utils.DecodeSpawnError
	)
	switch {
	case errors.As(err, &probeErr):
		return models.ErrorKindDecodeProbe
	case errors.As(err, &decodeErr):
		return models.ErrorKindDecode
	case errors.As(err, &spawnErr):
		return models.ErrorKindDecodeSpawn
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return models.ErrorKindCancelled
	default:
		return models.ErrorKindInternal
	}
}
