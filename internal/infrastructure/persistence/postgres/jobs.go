package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rezkam/mono/internal/domain"
)

// CreateJob inserts a new job row, assigning a UUIDv7 ID if one is not
// already set.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = newUUID()
	}
	id, err := uuidParam(job.ID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO jobs (id, username, status, num_input_granules, progress, message,
			ignore_errors, is_async, completed_batches, expected_batches, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`, id, job.Username, string(job.Status), job.NumInputGranules, job.Progress, job.Message,
		job.IgnoreErrors, job.IsAsync, job.CompletedBatches, job.ExpectedBatches)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID, taking a row lock so callers inside a
// transaction hold it for the rest of the transaction's lifetime (spec
// §5's lock-ordering rule: Job row first, then WorkItem row).
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT id, username, status, num_input_granules, progress, message,
			ignore_errors, is_async, completed_batches, expected_batches, created_at, updated_at
		FROM jobs WHERE id = $1
		FOR UPDATE
	`, id)

	return scanJob(row)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		dbID    pgtype.UUID
		status  string
		job     domain.Job
		created pgtype.Timestamptz
		updated pgtype.Timestamptz
	)

	err := row.Scan(&dbID, &job.Username, &status, &job.NumInputGranules, &job.Progress, &job.Message,
		&job.IgnoreErrors, &job.IsAsync, &job.CompletedBatches, &job.ExpectedBatches, &created, &updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.ID = uuidToString(dbID)
	job.Status = domain.JobStatus(status)
	job.CreatedAt = timestamptzToTime(created)
	job.UpdatedAt = timestamptzToTime(updated)
	return &job, nil
}

// UpdateJob persists every mutable field of job.
func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	id, err := uuidParam(job.ID)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = $2, num_input_granules = $3, progress = $4, message = $5,
			ignore_errors = $6, is_async = $7, completed_batches = $8, expected_batches = $9,
			updated_at = now()
		WHERE id = $1
	`, id, string(job.Status), job.NumInputGranules, job.Progress, job.Message,
		job.IgnoreErrors, job.IsAsync, job.CompletedBatches, job.ExpectedBatches)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ListActiveJobIDs returns the IDs of every job not yet in a terminal
// status. No application service in this module calls it.
func (s *Store) ListActiveJobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM jobs
		WHERE status NOT IN ($1, $2, $3, $4)
	`, string(domain.JobSuccessful), string(domain.JobCompleteWithErrors),
		string(domain.JobFailed), string(domain.JobCanceled))
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var dbID pgtype.UUID
		if err := rows.Scan(&dbID); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, uuidToString(dbID))
	}
	return ids, rows.Err()
}
