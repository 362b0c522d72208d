package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PruneResult contains statistics about a prune run.
type PruneResult struct {
	JobsDeleted      int64
	ArtifactsDeleted int64
	Duration         time.Duration
}

// Prune deletes finished jobs submitted more than olderThan ago, together
// with their artifact rows, then runs VACUUM. Queued jobs are kept whatever
// their age. Files on disk are not touched.
//
// Example:
//
//	result, err := l.Prune(ctx, 30*24*time.Hour)
func (l *Ledger) Prune(ctx context.Context, olderThan time.Duration) (PruneResult, error) {
	start := time.Now()
	result := PruneResult{}

	if olderThan < 0 {
		return result, fmt.Errorf("ledger: prune age must be non-negative, got %v", olderThan)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	db, err := l.conn()
	if err != nil {
		return result, err
	}
	cutoff := l.now().Add(-olderThan).Format(timeLayout)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	const finished = `status != 'queued' AND submitted_at < ?`

	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE prompt_id IN (SELECT prompt_id FROM jobs WHERE `+finished+`)`,
		cutoff,
	).Scan(&result.ArtifactsDeleted)
	if err != nil {
		return result, fmt.Errorf("failed to count artifacts: %w", err)
	}

	// Artifact rows go with their job through ON DELETE CASCADE.
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE `+finished, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to delete jobs: %w", err)
	}
	if result.JobsDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	if ctx.Err() != nil {
		// Rows are gone; only VACUUM was skipped.
		result.Duration = time.Since(start)
		return result, ctx.Err()
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("prune succeeded but VACUUM failed: %w", err)
	}

	result.Duration = time.Since(start)
	l.logger.Info("ledger pruned",
		zap.Int64("jobs", result.JobsDeleted),
		zap.Int64("artifacts", result.ArtifactsDeleted),
		zap.Duration("duration", result.Duration))
	return result, nil
}
