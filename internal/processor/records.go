package processor

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// jobProgress accumulates frame records and events for one run. Every mutation
// happens under mu together with the registry publish, so snapshots leave in
// the same order their processedFrames counters were taken.
type jobProgress struct {
	mu        sync.Mutex
	jobID     string
	uploadDir string
	frames    []*models.FrameRecord
	events    []models.Event
	total     int
	processed int
}

func newJobProgress(jobID, uploadDir string, total int) *jobProgress {
	return &jobProgress{
		jobID:     jobID,
		uploadDir: uploadDir,
		frames:    make([]*models.FrameRecord, total),
		events:    []models.Event{},
		total:     total,
	}
}

// addLocked stores the record for frame and appends an event when result is set.
// Caller holds p.mu.
func (p *jobProgress) addLocked(frame models.Frame, result *models.ClassificationResult) {
	rec := newFrameRecord(p.jobID, frame, result, thumbnailURL(p.uploadDir, frame.ImagePath))
	if frame.Index >= 0 && frame.Index < len(p.frames) {
		p.frames[frame.Index] = &rec
	}
	if result != nil {
		p.events = append(p.events, newEvent(rec))
	}
	p.processed++
}

// jobLocked renders the current state as a publishable snapshot. Caller holds p.mu.
func (p *jobProgress) jobLocked(status models.JobStatus, message string) models.Job {
	job := models.Job{
		ID:              p.jobID,
		Status:          status,
		Events:          p.events,
		Frames:          p.frames,
		Message:         message,
		TotalFrames:     p.total,
		ProcessedFrames: p.processed,
		UpdatedAt:       time.Now(),
	}
	return job.Clone()
}

func (p *jobProgress) processingJobLocked() models.Job {
	return p.jobLocked(models.JobStatusProcessing, progressMessage(p.processed, p.total))
}

func (p *jobProgress) completedJob() models.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = p.total
	return p.jobLocked(models.JobStatusCompleted, completionMessage(len(p.events), p.total))
}

func newFrameRecord(jobID string, frame models.Frame, result *models.ClassificationResult, thumb string) models.FrameRecord {
	rec := models.FrameRecord{
		ID:           models.FrameRecordID(jobID, frame.Index),
		Timestamp:    frame.Timestamp,
		ThumbnailURL: thumb,
		EventType:    models.NotFlagged,
		Reason:       models.NotFlagged,
		Location:     models.LocationPlaceholder,
	}
	if result == nil {
		return rec
	}

	if result.EventType != "" {
		rec.EventType = string(result.EventType)
	}
	rec.Reason = models.FlaggedByModel
	if result.Reason != "" {
		rec.Reason = result.Reason
	}
	if result.Location != "" {
		rec.Location = result.Location
	}
	return rec
}

func newEvent(rec models.FrameRecord) models.Event {
	return models.Event{
		ID:           models.NewEventID(),
		FrameID:      rec.ID,
		Timestamp:    rec.Timestamp,
		EventType:    rec.EventType,
		Reason:       rec.Reason,
		Location:     rec.Location,
		Driver:       models.DriverPlaceholder,
		ThumbnailURL: rec.ThumbnailURL,
	}
}

// thumbnailURL maps a still on disk to its path under the static /uploads route
func thumbnailURL(uploadDir, imagePath string) string {
	rel, err := filepath.Rel(uploadDir, imagePath)
	if err != nil {
		rel = filepath.Base(imagePath)
	}
	return "uploads/" + filepath.ToSlash(rel)
}

func progressMessage(processed, total int) string {
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(processed) / float64(total) * 100))
	}
	return fmt.Sprintf("Processing frame %d/%d (%d%%)", processed, total, pct)
}

func completionMessage(events, frames int) string {
	return fmt.Sprintf("Processing complete. Found %d events in %d frames.", events, frames)
}
