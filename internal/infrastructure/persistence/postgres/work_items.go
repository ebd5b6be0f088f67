package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rezkam/mono/internal/domain"
)

// CreateWorkItem inserts a new work item, assigning a UUIDv7 ID if one is
// not already set.
func (s *Store) CreateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	if item.ID == "" {
		item.ID = newUUID()
	}
	id, err := uuidParam(item.ID)
	if err != nil {
		return err
	}
	jobID, err := uuidParam(item.JobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO work_items (id, job_id, step_index, service_id, status, catalog_location,
			scroll_token, sort_index, parent_sort_index, retry_count, started_at, duration_ms,
			total_items_size, output_item_sizes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
	`, id, jobID, item.StepIndex, item.ServiceID, string(item.Status), item.CatalogLocation,
		item.ScrollToken, item.SortIndex, item.ParentSortIndex, item.RetryCount,
		startedAtParam(item.StartedAt), item.Duration.Milliseconds(), item.TotalItemsSize, item.OutputItemSizes)
	if err != nil {
		return fmt.Errorf("failed to create work item %s: %w", item.ID, err)
	}
	return nil
}

func startedAtParam(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

const workItemColumns = `id, job_id, step_index, service_id, status, catalog_location,
	scroll_token, sort_index, parent_sort_index, retry_count, started_at, duration_ms,
	total_items_size, output_item_sizes`

func scanWorkItem(row pgx.Row) (*domain.WorkItem, error) {
	var (
		dbID, dbJobID pgtype.UUID
		status        string
		startedAt     pgtype.Timestamptz
		durationMs    int64
		item          domain.WorkItem
	)

	err := row.Scan(&dbID, &dbJobID, &item.StepIndex, &item.ServiceID, &status, &item.CatalogLocation,
		&item.ScrollToken, &item.SortIndex, &item.ParentSortIndex, &item.RetryCount, &startedAt,
		&durationMs, &item.TotalItemsSize, &item.OutputItemSizes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkItemNotFound
		}
		return nil, fmt.Errorf("failed to scan work item: %w", err)
	}

	item.ID = uuidToString(dbID)
	item.JobID = uuidToString(dbJobID)
	item.Status = domain.WorkItemStatus(status)
	item.Duration = time.Duration(durationMs) * time.Millisecond
	if startedAt.Valid {
		t := startedAt.Time
		item.StartedAt = &t
	}
	return &item, nil
}

// GetWorkItem retrieves a work item by ID, taking a row lock so callers
// inside a transaction hold it for the rest of the transaction's
// lifetime (spec §5's lock-ordering rule: Job row first, then WorkItem
// row - callers that don't yet know the item's JobID should resolve it
// via WorkItemJobID and lock the Job before calling this).
func (s *Store) GetWorkItem(ctx context.Context, itemID string) (*domain.WorkItem, error) {
	id, err := uuidParam(itemID)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1 FOR UPDATE`, id)
	return scanWorkItem(row)
}

// WorkItemJobID resolves the owning JobID of a work item without taking
// any row lock, letting a caller acquire the Job lock before it locks
// the WorkItem itself (spec §5's lock-ordering rule).
func (s *Store) WorkItemJobID(ctx context.Context, itemID string) (string, error) {
	id, err := uuidParam(itemID)
	if err != nil {
		return "", err
	}
	var dbJobID pgtype.UUID
	err = s.db.QueryRow(ctx, `SELECT job_id FROM work_items WHERE id = $1`, id).Scan(&dbJobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrWorkItemNotFound
		}
		return "", fmt.Errorf("failed to resolve job id for work item %s: %w", itemID, err)
	}
	return uuidToString(dbJobID), nil
}

// UpdateWorkItem persists every mutable field of item.
func (s *Store) UpdateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	id, err := uuidParam(item.ID)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE work_items SET status = $2, catalog_location = $3, scroll_token = $4,
			retry_count = $5, started_at = $6, duration_ms = $7, total_items_size = $8,
			output_item_sizes = $9, updated_at = now()
		WHERE id = $1
	`, id, string(item.Status), item.CatalogLocation, item.ScrollToken, item.RetryCount,
		startedAtParam(item.StartedAt), item.Duration.Milliseconds(), item.TotalItemsSize, item.OutputItemSizes)
	if err != nil {
		return fmt.Errorf("failed to update work item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkItemNotFound
	}
	return nil
}

// ListWorkItemsByStep returns every item of one job step ordered by
// SortIndex.
func (s *Store) ListWorkItemsByStep(ctx context.Context, jobID string, stepIndex int) ([]*domain.WorkItem, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+workItemColumns+` FROM work_items
		WHERE job_id = $1 AND step_index = $2 ORDER BY sort_index
	`, id, stepIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items for %s[%d]: %w", jobID, stepIndex, err)
	}
	defer rows.Close()

	var items []*domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountWorkItemsByStatus counts the items of one job step in a given
// status, used by leaf-completion and gate checks (spec §4.6).
func (s *Store) CountWorkItemsByStatus(ctx context.Context, jobID string, stepIndex int, status domain.WorkItemStatus) (int, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRow(ctx, `
		SELECT count(*) FROM work_items WHERE job_id = $1 AND step_index = $2 AND status = $3
	`, id, stepIndex, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count work items for %s[%d]: %w", jobID, stepIndex, err)
	}
	return count, nil
}

// ClaimReadyWorkItem locks and returns one READY item for serviceID
// belonging to username, using SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent scheduler replicas never double-claim the same item (spec
// §4.2's popReady step, §5's lock-ordering rule).
func (s *Store) ClaimReadyWorkItem(ctx context.Context, serviceID, username string) (*domain.WorkItem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+workItemColumns+` FROM work_items wi
		JOIN jobs j ON j.id = wi.job_id
		WHERE wi.service_id = $1 AND wi.status = $2 AND j.username = $3
		ORDER BY wi.sort_index
		FOR UPDATE OF wi SKIP LOCKED
		LIMIT 1
	`, serviceID, string(domain.ItemReady), username)

	item, err := scanWorkItem(row)
	if err != nil {
		if errors.Is(err, domain.ErrWorkItemNotFound) {
			return nil, domain.ErrNoWorkAvailable
		}
		return nil, err
	}
	return item, nil
}

// CancelJobWorkItems bulk-transitions every non-completed WorkItem of
// jobID to CANCELED in one statement (spec §5: "all its non-completed
// WorkItems are transitioned to CANCELED as a bulk update").
func (s *Store) CancelJobWorkItems(ctx context.Context, jobID string) error {
	id, err := uuidParam(jobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		UPDATE work_items SET status = $2, updated_at = now()
		WHERE job_id = $1 AND status IN ($3, $4)
	`, id, string(domain.ItemCanceled), string(domain.ItemReady), string(domain.ItemRunning))
	if err != nil {
		return fmt.Errorf("failed to cancel work items for job %s: %w", jobID, err)
	}
	return nil
}

// ListExpiredRunningItems returns RUNNING items started before threshold,
// oldest first, for the failer's adaptive sweep (spec §4.8).
func (s *Store) ListExpiredRunningItems(ctx context.Context, threshold time.Time, limit int) ([]*domain.WorkItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+workItemColumns+` FROM work_items
		WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2
		ORDER BY started_at
		LIMIT $3
	`, string(domain.ItemRunning), timeParam(threshold), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired running items: %w", err)
	}
	defer rows.Close()

	var items []*domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
