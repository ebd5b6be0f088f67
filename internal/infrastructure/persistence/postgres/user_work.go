package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rezkam/mono/internal/domain"
)

// GetUserWork retrieves one (job, service) ledger row.
func (s *Store) GetUserWork(ctx context.Context, jobID, serviceID string) (*domain.UserWork, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT job_id, service_id, username, ready_count, running_count, is_async, last_worked
		FROM user_work WHERE job_id = $1 AND service_id = $2
	`, id, serviceID)

	return scanUserWork(row)
}

func scanUserWork(row pgx.Row) (*domain.UserWork, error) {
	var (
		dbJobID    pgtype.UUID
		uw         domain.UserWork
		lastWorked pgtype.Timestamptz
	)
	err := row.Scan(&dbJobID, &uw.ServiceID, &uw.Username, &uw.ReadyCount, &uw.RunningCount, &uw.IsAsync, &lastWorked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user work: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan user work: %w", err)
	}
	uw.JobID = uuidToString(dbJobID)
	uw.LastWorked = timestamptzToTime(lastWorked)
	return &uw, nil
}

// UpsertUserWork inserts or overwrites one ledger row, matching the
// "always reconstructible, always a full write" nature of UserWork
// (spec §3).
func (s *Store) UpsertUserWork(ctx context.Context, uw *domain.UserWork) error {
	jobID, err := uuidParam(uw.JobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO user_work (job_id, service_id, username, ready_count, running_count, is_async, last_worked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, service_id) DO UPDATE SET
			username = EXCLUDED.username,
			ready_count = EXCLUDED.ready_count,
			running_count = EXCLUDED.running_count,
			is_async = EXCLUDED.is_async,
			last_worked = EXCLUDED.last_worked
	`, jobID, uw.ServiceID, uw.Username, uw.ReadyCount, uw.RunningCount, uw.IsAsync, timeParam(uw.LastWorked))
	if err != nil {
		return fmt.Errorf("failed to upsert user work %s/%s: %w", uw.JobID, uw.ServiceID, err)
	}
	return nil
}

// DeleteUserWork removes a ledger row once it has gone Empty (spec §3).
func (s *Store) DeleteUserWork(ctx context.Context, jobID, serviceID string) error {
	id, err := uuidParam(jobID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `DELETE FROM user_work WHERE job_id = $1 AND service_id = $2`, id, serviceID)
	if err != nil {
		return fmt.Errorf("failed to delete user work %s/%s: %w", jobID, serviceID, err)
	}
	return nil
}

// DeleteUserWorkForJob removes every ledger row for jobID, the other half
// of job cancellation (spec §5).
func (s *Store) DeleteUserWorkForJob(ctx context.Context, jobID string) error {
	id, err := uuidParam(jobID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `DELETE FROM user_work WHERE job_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user work for job %s: %w", jobID, err)
	}
	return nil
}

// NextReadyUser implements spec §4.2/§8's fairness rule: among usernames
// with ready work for serviceID, pick the one with the lowest total
// RunningCount summed across ALL of that user's (job, service) rows - not
// just their running count for serviceID - breaking ties by whichever has
// gone longest without being dispatched to (the smallest per-user maximum
// LastWorked, again across all services).
func (s *Store) NextReadyUser(ctx context.Context, serviceID string) (string, error) {
	var username string
	err := s.db.QueryRow(ctx, `
		SELECT uw.username
		FROM user_work uw
		WHERE uw.username IN (
			SELECT username FROM user_work WHERE service_id = $1 AND ready_count > 0
		)
		GROUP BY uw.username
		ORDER BY sum(uw.running_count) ASC, max(uw.last_worked) ASC
		LIMIT 1
	`, serviceID).Scan(&username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNoWorkAvailable
		}
		return "", fmt.Errorf("failed to select next ready user for %s: %w", serviceID, err)
	}
	return username, nil
}

// RebuildUserWork replaces every UserWork row for jobID with counts
// aggregated fresh from work_items, the "rebuild discipline" of spec §4.2.
func (s *Store) RebuildUserWork(ctx context.Context, jobID string) error {
	id, err := uuidParam(jobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `DELETE FROM user_work WHERE job_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear user work for rebuild %s: %w", jobID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO user_work (job_id, service_id, username, ready_count, running_count, is_async, last_worked)
		SELECT
			wi.job_id,
			wi.service_id,
			j.username,
			count(*) FILTER (WHERE wi.status = 'READY'),
			count(*) FILTER (WHERE wi.status = 'RUNNING'),
			j.is_async,
			now()
		FROM work_items wi
		JOIN jobs j ON j.id = wi.job_id
		WHERE wi.job_id = $1 AND wi.status IN ('READY', 'RUNNING')
		GROUP BY wi.job_id, wi.service_id, j.username, j.is_async
	`, id)
	if err != nil {
		return fmt.Errorf("failed to rebuild user work for %s: %w", jobID, err)
	}
	return nil
}
