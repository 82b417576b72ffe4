package models

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job. Completed and failed are terminal.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// EventType is the closed set of labels the issue check may report
type EventType string

const (
	EventTypeInaccessible EventType = "inaccessible"
	EventTypeOverflowing  EventType = "overflowing"
	EventTypeSafety       EventType = "safety"
	EventTypeOther        EventType = "other"
)

// Valid reports whether t belongs to the closed label set
func (t EventType) Valid() bool {
	switch t {
	case EventTypeInaccessible, EventTypeOverflowing, EventTypeSafety, EventTypeOther:
		return true
	}
	return false
}

// ErrorKind tells operators why a job failed
type ErrorKind string

const (
	ErrorKindDecodeProbe ErrorKind = "decode_probe"
	ErrorKindDecode      ErrorKind = "decode"
	ErrorKindDecodeSpawn ErrorKind = "decode_spawn"
	ErrorKindCancelled   ErrorKind = "cancelled"
	ErrorKindDispatch    ErrorKind = "dispatch"
	ErrorKindInternal    ErrorKind = "internal"
)

// Placeholder values surfaced for frames and events
const (
	NotFlagged          = "not flagged"
	LocationPlaceholder = "[gps location here]"
	DriverPlaceholder   = "[driver name here]"
	FlaggedByModel      = "flagged by model"
	DefaultVisionModel  = "o4-mini"
)

// User-visible progress messages
const (
	FailedMessage = "Processing failed. Please try again."
)

// Frame is one sampled still image of the source video
type Frame struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"` // HH:MM:SS
	ImagePath string `json:"imagePath"`
}

// ClassificationResult is the outcome of the two-stage protocol on a frame.
// A nil *ClassificationResult means no event.
type ClassificationResult struct {
	EventType EventType `json:"eventType"`
	Reason    string    `json:"reason"`
	Location  string    `json:"location"`
}

// FrameRecord is the per-frame status entry surfaced to pollers
type FrameRecord struct {
	ID            string  `json:"id"`
	Timestamp     string  `json:"timestamp"`
	ThumbnailURL  string  `json:"thumbnailUrl"`
	EventType     string  `json:"eventType"`
	Reason        string  `json:"reason"`
	Location      string  `json:"location"`
	HumanFeedback *string `json:"humanFeedback,omitempty"`
}

// Event is a frame that produced a label
type Event struct {
	ID            string  `json:"id"`
	FrameID       string  `json:"frameId"`
	Timestamp     string  `json:"timestamp"`
	EventType     string  `json:"eventType"`
	Reason        string  `json:"reason"`
	Location      string  `json:"location"`
	Driver        string  `json:"driver"`
	ThumbnailURL  string  `json:"thumbnailUrl"`
	HumanFeedback *string `json:"humanFeedback,omitempty"`
}

// Job is the full state of one video's processing, as stored in the registry.
// Frames is indexed by frame index; nil slots are frames still in flight.
type Job struct {
	ID              string         `json:"id"`
	Status          JobStatus      `json:"status"`
	Events          []Event        `json:"events"`
	Frames          []*FrameRecord `json:"frames"`
	Message         string         `json:"message,omitempty"`
	TotalFrames     int            `json:"totalFrames"`
	ProcessedFrames int            `json:"processedFrames"`
	ErrorKind       ErrorKind      `json:"errorKind,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// NewJob returns a job in its initial processing state
func NewJob(id string) Job {
	return Job{
		ID:        id,
		Status:    JobStatusProcessing,
		Events:    []Event{},
		Frames:    []*FrameRecord{},
		UpdatedAt: time.Now(),
	}
}

// Clone returns a deep copy that shares no mutable state with j
func (j Job) Clone() Job {
	out := j
	out.Events = make([]Event, len(j.Events))
	for i, ev := range j.Events {
		out.Events[i] = ev
		out.Events[i].HumanFeedback = cloneString(ev.HumanFeedback)
	}
	out.Frames = make([]*FrameRecord, len(j.Frames))
	for i, fr := range j.Frames {
		if fr == nil {
			continue
		}
		cp := *fr
		cp.HumanFeedback = cloneString(fr.HumanFeedback)
		out.Frames[i] = &cp
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ProgressUpdate is published to progress subscribers after every snapshot
type ProgressUpdate struct {
	JobID           string    `json:"jobId"`
	Status          JobStatus `json:"status"`
	Message         string    `json:"message"`
	TotalFrames     int       `json:"totalFrames"`
	ProcessedFrames int       `json:"processedFrames"`
	EventCount      int       `json:"eventCount"`
	ErrorKind       ErrorKind `json:"errorKind,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// ProgressFromJob derives the pub/sub update for a snapshot
func ProgressFromJob(j Job) ProgressUpdate {
	return ProgressUpdate{
		JobID:           j.ID,
		Status:          j.Status,
		Message:         j.Message,
		TotalFrames:     j.TotalFrames,
		ProcessedFrames: j.ProcessedFrames,
		EventCount:      len(j.Events),
		ErrorKind:       j.ErrorKind,
		Timestamp:       j.UpdatedAt,
	}
}

// JobPayload is the dispatch unit handed from the upload path to the processor
type JobPayload struct {
	JobID      string     `json:"jobId"`
	VideoPath  string     `json:"videoPath"`
	Model      string     `json:"model,omitempty"`
	EnqueuedAt *time.Time `json:"enqueuedAt,omitempty"`
}

// ModelOrDefault returns the requested vision model, falling back to def
func (p JobPayload) ModelOrDefault(def string) string {
	if p.Model != "" {
		return p.Model
	}
	if def != "" {
		return def
	}
	return DefaultVisionModel
}

// Config holds worker configuration
type Config struct {
	Port                  int
	UploadDir             string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	VisionModel           string
	VisionTimeout         time.Duration
	VisionRetries         int
	VisionRequestsPerSec  float64
	BatchConcurrency      int
	BatchDelay            time.Duration
	SampleIntervalSeconds int
	MaxVideoSize          int64 // Bytes
	DispatchMode          string
	WorkerConcurrency     int
	RedisURL              string
	PostgresURL           string
	FFmpegPath            string
	FFprobePath           string
	LogLevel              string
	HTTPDebug             bool
}

// Dispatch modes
const (
	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

// FramesDir is where extracted stills for all jobs live
func (c Config) FramesDir() string {
	return filepath.Join(c.UploadDir, "frames")
}

// NewJobID builds the stored file name of an upload, which doubles as its job id
func NewJobID(originalName string) string {
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), uuid.New().String()[:8], filepath.Base(originalName))
}

// NewEventID generates a unique event ID
func NewEventID() string {
	return uuid.New().String()
}

// FrameRecordID is the stable per-job id of a frame record
func FrameRecordID(jobID string, index int) string {
	return fmt.Sprintf("%s-frame-%d", jobID, index)
}

// FormatTimestamp renders seconds as HH:MM:SS
func FormatTimestamp(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
