package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

var (
	// ErrNotFound is returned for unknown job, frame or event ids
	ErrNotFound = errors.New("not found")
	// ErrJobExists is returned when creating a job id twice
	ErrJobExists = errors.New("job already exists")
	// ErrTerminal is returned when publishing over a completed or failed job
	ErrTerminal = errors.New("job already finished")
)

// JobRegistry is the process-wide store of job snapshots.
//
// A single RWMutex serializes every operation, so a feedback write can never
// interleave with a publish. Jobs are deep-copied on the way in and out; callers
// never share memory with the stored state.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// New creates an empty registry
func New() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]*models.Job)}
}

// Create inserts a new job in the processing state
func (r *JobRegistry) Create(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}
	job := models.NewJob(jobID)
	r.jobs[jobID] = &job
	return nil
}

// Snapshot returns a copy of the current job state
func (r *JobRegistry) Snapshot(jobID string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return job.Clone(), nil
}

// Publish replaces the stored job wholesale. Fields are not merged: whatever the
// caller sends, including frame feedback, becomes the new state. Terminal jobs
// reject further publishes.
func (r *JobRegistry) Publish(jobID string, job models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrTerminal, jobID, current.Status)
	}

	next := job.Clone()
	next.ID = jobID
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now()
	}
	r.jobs[jobID] = &next
	return nil
}

// SetFrameFeedback stores an operator correction on one frame record
func (r *JobRegistry) SetFrameFeedback(jobID, frameID, feedback string) (models.FrameRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return models.FrameRecord{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	for _, frame := range job.Frames {
		if frame != nil && frame.ID == frameID {
			fb := feedback
			frame.HumanFeedback = &fb
			out := *frame
			v := fb
			out.HumanFeedback = &v
			return out, nil
		}
	}
	return models.FrameRecord{}, fmt.Errorf("%w: frame %s", ErrNotFound, frameID)
}

// SetEventFeedback stores an operator correction on one event
func (r *JobRegistry) SetEventFeedback(jobID, eventID, feedback string) (models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return models.Event{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	for i := range job.Events {
		if job.Events[i].ID == eventID {
			fb := feedback
			job.Events[i].HumanFeedback = &fb
			out := job.Events[i]
			v := fb
			out.HumanFeedback = &v
			return out, nil
		}
	}
	return models.Event{}, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
}

// Clear drops every job
func (r *JobRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = make(map[string]*models.Job)
}

// Len returns the number of tracked jobs
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
