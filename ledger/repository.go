package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"comfyclient/logging"
)

// Job status values.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// timeLayout is how timestamps are stored.
const timeLayout = "2006-01-02 15:04:05"

// ErrJobNotFound is returned when no job has the requested prompt id.
var ErrJobNotFound = errors.New("ledger: job not found")

// Job represents a record in the jobs table.
type Job struct {
	PromptID     string    // Server-assigned job id
	ClientID     string    // Event channel scope the job was submitted under
	Number       int       // Queue number assigned by the server
	Status       string    // queued, completed or failed
	ErrorMessage string    // Set when Status is failed
	SubmittedAt  time.Time // When the prompt was accepted
	CompletedAt  time.Time // Zero until the job completes or fails
}

// ArtifactRecord represents a record in the artifacts table.
type ArtifactRecord struct {
	ID        int64
	PromptID  string
	NodeID    string
	Filename  string
	Subfolder string
	Type      string
	Path      string // Local path the artifact was saved to
	SizeBytes int64
	Digest    string // "blake3:<hex>"
	Width     int
	Height    int
	Format    string
	CreatedAt time.Time
}

// RecordSubmitted inserts a queued job. Re-recording an existing prompt id
// resets it to queued.
func (l *Ledger) RecordSubmitted(ctx context.Context, job Job) error {
	db, err := l.conn()
	if err != nil {
		return err
	}
	if job.PromptID == "" {
		return fmt.Errorf("ledger: prompt id is required")
	}

	submittedAt := job.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = l.now()
	}

	query := `
		INSERT INTO jobs (prompt_id, client_id, number, status, submitted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (prompt_id) DO UPDATE SET
			client_id = excluded.client_id,
			number = excluded.number,
			status = excluded.status,
			error_message = NULL,
			submitted_at = excluded.submitted_at,
			completed_at = NULL`

	_, err = db.ExecContext(ctx, query,
		job.PromptID,
		job.ClientID,
		job.Number,
		StatusQueued,
		submittedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	l.logger.Debug("job recorded", logging.PromptID(job.PromptID), zap.Int("number", job.Number))
	return nil
}

// RecordCompleted marks a job completed.
func (l *Ledger) RecordCompleted(ctx context.Context, promptID string) error {
	return l.finish(ctx, promptID, StatusCompleted, "")
}

// RecordFailed marks a job failed with a reason.
func (l *Ledger) RecordFailed(ctx context.Context, promptID string, reason string) error {
	return l.finish(ctx, promptID, StatusFailed, reason)
}

func (l *Ledger) finish(ctx context.Context, promptID, status, reason string) error {
	db, err := l.conn()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE prompt_id = ?`,
		status,
		nullString(reason),
		l.now().Format(timeLayout),
		promptID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, promptID)
	}

	l.logger.Debug("job finished", logging.PromptID(promptID), zap.String("status", status))
	return nil
}

// RecordArtifact records an artifact row and returns its id. The job must
// already be recorded. An artifact is identified by its job, node and
// server-side descriptor; recording the same one again updates the row in
// place.
func (l *Ledger) RecordArtifact(ctx context.Context, artifact ArtifactRecord) (int64, error) {
	db, err := l.conn()
	if err != nil {
		return 0, err
	}

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = l.now()
	}

	query := `
		INSERT INTO artifacts (
			prompt_id, node_id, filename, subfolder, type, path,
			size_bytes, digest, width, height, format, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (prompt_id, node_id, subfolder, type, filename) DO UPDATE SET
			path = excluded.path,
			size_bytes = excluded.size_bytes,
			digest = excluded.digest,
			width = excluded.width,
			height = excluded.height,
			format = excluded.format
		RETURNING id`

	var id int64
	err = db.QueryRowContext(ctx, query,
		artifact.PromptID,
		artifact.NodeID,
		artifact.Filename,
		artifact.Subfolder,
		artifact.Type,
		artifact.Path,
		artifact.SizeBytes,
		artifact.Digest,
		artifact.Width,
		artifact.Height,
		artifact.Format,
		createdAt.UTC().Format(timeLayout),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record artifact: %w", err)
	}
	return id, nil
}

// GetJob returns the job with the given prompt id or ErrJobNotFound.
func (l *Ledger) GetJob(ctx context.Context, promptID string) (*Job, error) {
	db, err := l.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, jobColumns+` WHERE prompt_id = ?`, promptID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, promptID)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns the most recently submitted jobs, newest first.
func (l *Ledger) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	db, err := l.conn()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}

	rows, err := db.QueryContext(ctx, jobColumns+` ORDER BY submitted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

// ListArtifacts returns the artifacts recorded for a job in insertion order.
func (l *Ledger) ListArtifacts(ctx context.Context, promptID string) ([]ArtifactRecord, error) {
	db, err := l.conn()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, prompt_id, node_id, filename, subfolder, type, path,
			   size_bytes, digest, width, height, format, created_at
		FROM artifacts
		WHERE prompt_id = ?
		ORDER BY id`

	rows, err := db.QueryContext(ctx, query, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var records []ArtifactRecord
	for rows.Next() {
		var rec ArtifactRecord
		var createdAt string

		err := rows.Scan(
			&rec.ID,
			&rec.PromptID,
			&rec.NodeID,
			&rec.Filename,
			&rec.Subfolder,
			&rec.Type,
			&rec.Path,
			&rec.SizeBytes,
			&rec.Digest,
			&rec.Width,
			&rec.Height,
			&rec.Format,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact rows: %w", err)
	}
	return records, nil
}

// CountJobs returns the number of recorded jobs with the given status, or
// of all jobs when status is empty.
func (l *Ledger) CountJobs(ctx context.Context, status string) (int64, error) {
	db, err := l.conn()
	if err != nil {
		return 0, err
	}

	var count int64
	if status == "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&count)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

const jobColumns = `
		SELECT prompt_id, client_id, number, status, COALESCE(error_message, ''),
			   submitted_at, COALESCE(completed_at, '')
		FROM jobs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var submittedAt, completedAt string

	err := row.Scan(
		&job.PromptID,
		&job.ClientID,
		&job.Number,
		&job.Status,
		&job.ErrorMessage,
		&submittedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}

	job.SubmittedAt, _ = time.Parse(timeLayout, submittedAt)
	if completedAt != "" {
		job.CompletedAt, _ = time.Parse(timeLayout, completedAt)
	}
	return &job, nil
}

// nullString converts an empty string to NULL.
func nullString(s string) interface{} {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
