package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rezkam/mono/internal/domain"
)

// AddJobLink appends a result link to a job, per spec §4.6's leaf-success
// handling.
func (s *Store) AddJobLink(ctx context.Context, link *domain.JobLink) error {
	jobID, err := uuidParam(link.JobID)
	if err != nil {
		return err
	}

	var start, end *string
	if link.Temporal != nil {
		start, end = link.Temporal.Start, link.Temporal.End
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO job_links (id, job_id, href, rel, type, title, bbox, temporal_start, temporal_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`, mustUUIDParam(newUUID()), jobID, link.Href, link.Rel, link.Type, link.Title, link.BBox, start, end)
	if err != nil {
		return fmt.Errorf("failed to add job link for %s: %w", link.JobID, err)
	}
	return nil
}

func mustUUIDParam(id string) pgtype.UUID {
	p, err := uuidParam(id)
	if err != nil {
		panic(err)
	}
	return p
}

// ListJobLinks returns every link recorded for a job.
func (s *Store) ListJobLinks(ctx context.Context, jobID string) ([]*domain.JobLink, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT job_id, href, rel, type, title, bbox, temporal_start, temporal_end
		FROM job_links WHERE job_id = $1 ORDER BY created_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list job links for %s: %w", jobID, err)
	}
	defer rows.Close()

	var links []*domain.JobLink
	for rows.Next() {
		link, err := scanJobLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func scanJobLink(row pgx.Row) (*domain.JobLink, error) {
	var (
		dbJobID    pgtype.UUID
		link       domain.JobLink
		start, end *string
	)
	if err := row.Scan(&dbJobID, &link.Href, &link.Rel, &link.Type, &link.Title, &link.BBox, &start, &end); err != nil {
		return nil, fmt.Errorf("failed to scan job link: %w", err)
	}
	link.JobID = uuidToString(dbJobID)
	if start != nil || end != nil {
		link.Temporal = &domain.TemporalExtent{Start: start, End: end}
	}
	return &link, nil
}

// CountJobLinks counts the links recorded for a job, used by job
// finalization to decide between SUCCESSFUL, COMPLETE_WITH_ERRORS, and
// FAILED (spec §4.6).
func (s *Store) CountJobLinks(ctx context.Context, jobID string) (int, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM job_links WHERE job_id = $1`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count job links for %s: %w", jobID, err)
	}
	return count, nil
}

// AddJobError appends a failure record to a job.
func (s *Store) AddJobError(ctx context.Context, jobErr *domain.JobError) error {
	jobID, err := uuidParam(jobErr.JobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO job_errors (id, job_id, url, message, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, mustUUIDParam(newUUID()), jobID, jobErr.URL, jobErr.Message)
	if err != nil {
		return fmt.Errorf("failed to add job error for %s: %w", jobErr.JobID, err)
	}
	return nil
}

// CountJobErrors counts the errors recorded for a job, compared against
// maxErrorsForJob by the ingest loop (spec §3, §7).
func (s *Store) CountJobErrors(ctx context.Context, jobID string) (int, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM job_errors WHERE job_id = $1`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count job errors for %s: %w", jobID, err)
	}
	return count, nil
}
