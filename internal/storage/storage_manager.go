package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// ErrNotArchived is returned when a job has no archived row
var ErrNotArchived = errors.New("job not archived")

// StorageManager archives finished jobs in PostgreSQL
type StorageManager struct {
	db *sql.DB
}

// NewStorageManager creates a new storage manager
func NewStorageManager(ctx context.Context, postgresURL string) (*StorageManager, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	sm := newStorageManager(db)
	if err := sm.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return sm, nil
}

func newStorageManager(db *sql.DB) *StorageManager {
	return &StorageManager{db: db}
}

// initSchema creates tables and indexes if they don't exist
func (sm *StorageManager) initSchema(ctx context.Context) error {
	tableSchema := `
	CREATE SCHEMA IF NOT EXISTS binwatch;

	CREATE TABLE IF NOT EXISTS binwatch.jobs (
		job_id VARCHAR(255) PRIMARY KEY,
		status VARCHAR(50) NOT NULL,
		message TEXT,
		total_frames INT NOT NULL,
		processed_frames INT NOT NULL,
		error_kind VARCHAR(50),
		snapshot JSONB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS binwatch.frames (
		frame_id VARCHAR(512) PRIMARY KEY,
		job_id VARCHAR(255) NOT NULL REFERENCES binwatch.jobs(job_id) ON DELETE CASCADE,
		frame_index INT NOT NULL,
		timestamp VARCHAR(16) NOT NULL,
		thumbnail_url TEXT,
		event_type VARCHAR(50) NOT NULL,
		reason TEXT,
		location TEXT,
		human_feedback TEXT
	);

	CREATE TABLE IF NOT EXISTS binwatch.events (
		event_id VARCHAR(64) PRIMARY KEY,
		job_id VARCHAR(255) NOT NULL REFERENCES binwatch.jobs(job_id) ON DELETE CASCADE,
		frame_id VARCHAR(512),
		timestamp VARCHAR(16) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		reason TEXT,
		location TEXT,
		driver TEXT,
		thumbnail_url TEXT,
		human_feedback TEXT
	);
	`

	if _, err := sm.db.ExecContext(ctx, tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON binwatch.jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_job_id ON binwatch.frames(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_job_id ON binwatch.events(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON binwatch.events(event_type)`,
	}

	for _, stmt := range indexStatements {
		if _, err := sm.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}

	return nil
}

// ArchiveJob writes a job with its frame records and events, replacing any
// earlier archive of the same job
func (sm *StorageManager) ArchiveJob(ctx context.Context, job models.Job) error {
	snapshot, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO binwatch.jobs (job_id, status, message, total_frames, processed_frames, error_kind, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			total_frames = EXCLUDED.total_frames,
			processed_frames = EXCLUDED.processed_frames,
			error_kind = EXCLUDED.error_kind,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`,
		job.ID,
		string(job.Status),
		job.Message,
		job.TotalFrames,
		job.ProcessedFrames,
		string(job.ErrorKind),
		snapshot,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM binwatch.frames WHERE job_id = $1`, job.ID); err != nil {
		return fmt.Errorf("failed to reset frames: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM binwatch.events WHERE job_id = $1`, job.ID); err != nil {
		return fmt.Errorf("failed to reset events: %w", err)
	}

	for i, f := range job.Frames {
		if f == nil {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO binwatch.frames (frame_id, job_id, frame_index, timestamp, thumbnail_url, event_type, reason, location, human_feedback)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, f.ID, job.ID, i, f.Timestamp, f.ThumbnailURL, f.EventType, f.Reason, f.Location, nullString(f.HumanFeedback))
		if err != nil {
			return fmt.Errorf("failed to store frame %s: %w", f.ID, err)
		}
	}

	for _, ev := range job.Events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO binwatch.events (event_id, job_id, frame_id, timestamp, event_type, reason, location, driver, thumbnail_url, human_feedback)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, ev.ID, job.ID, ev.FrameID, ev.Timestamp, ev.EventType, ev.Reason, ev.Location, ev.Driver, ev.ThumbnailURL, nullString(ev.HumanFeedback))
		if err != nil {
			return fmt.Errorf("failed to store event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

// UpdateFrameFeedback records reviewer feedback on an archived frame.
// It returns ErrNotArchived when no matching row exists.
func (sm *StorageManager) UpdateFrameFeedback(ctx context.Context, jobID, frameID, feedback string) error {
	res, err := sm.db.ExecContext(ctx,
		`UPDATE binwatch.frames SET human_feedback = $1 WHERE job_id = $2 AND frame_id = $3`,
		feedback, jobID, frameID)
	if err != nil {
		return fmt.Errorf("failed to update frame feedback: %w", err)
	}
	return requireRow(res)
}

// UpdateEventFeedback records reviewer feedback on an archived event
func (sm *StorageManager) UpdateEventFeedback(ctx context.Context, jobID, eventID, feedback string) error {
	res, err := sm.db.ExecContext(ctx,
		`UPDATE binwatch.events SET human_feedback = $1 WHERE job_id = $2 AND event_id = $3`,
		feedback, jobID, eventID)
	if err != nil {
		return fmt.Errorf("failed to update event feedback: %w", err)
	}
	return requireRow(res)
}

// LoadJob reads back an archived job with its current feedback
func (sm *StorageManager) LoadJob(ctx context.Context, jobID string) (models.Job, error) {
	var snapshot []byte
	err := sm.db.QueryRowContext(ctx, `SELECT snapshot FROM binwatch.jobs WHERE job_id = $1`, jobID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotArchived, jobID)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("failed to load job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(snapshot, &job); err != nil {
		return models.Job{}, fmt.Errorf("failed to decode job snapshot: %w", err)
	}

	frameFeedback, err := sm.feedbackByID(ctx, `SELECT frame_id, human_feedback FROM binwatch.frames WHERE job_id = $1 AND human_feedback IS NOT NULL`, jobID)
	if err != nil {
		return models.Job{}, err
	}
	for _, f := range job.Frames {
		if f == nil {
			continue
		}
		if fb, ok := frameFeedback[f.ID]; ok {
			f.HumanFeedback = &fb
		}
	}

	eventFeedback, err := sm.feedbackByID(ctx, `SELECT event_id, human_feedback FROM binwatch.events WHERE job_id = $1 AND human_feedback IS NOT NULL`, jobID)
	if err != nil {
		return models.Job{}, err
	}
	for i := range job.Events {
		if fb, ok := eventFeedback[job.Events[i].ID]; ok {
			job.Events[i].HumanFeedback = &fb
		}
	}

	return job, nil
}

func (sm *StorageManager) feedbackByID(ctx context.Context, query, jobID string) (map[string]string, error) {
	rows, err := sm.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, fb string
		if err := rows.Scan(&id, &fb); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out[id] = fb
	}
	return out, rows.Err()
}

// Close closes the database connection
func (sm *StorageManager) Close() error {
	return sm.db.Close()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotArchived
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
