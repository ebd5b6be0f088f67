package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/mono/internal/domain"
)

// GetAggregationBatch returns the pending batched-aggregation buffer for
// (jobID, stepIndex), or domain.ErrNotFound if none exists yet (spec
// §4.4).
func (s *Store) GetAggregationBatch(ctx context.Context, jobID string, stepIndex int) (*domain.AggregationBatch, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return nil, err
	}

	var (
		b            domain.AggregationBatch
		minSortIndex *int64
	)
	err = s.db.QueryRow(ctx, `
		SELECT pending_urls, pending_sizes, pending_size_bytes, min_sort_index,
			all_upstream_complete, next_batch_index
		FROM aggregation_batches WHERE job_id = $1 AND step_index = $2
	`, id, stepIndex).Scan(&b.PendingURLs, &b.PendingSizes, &b.PendingSizeBytes, &minSortIndex,
		&b.AllUpstreamComplete, &b.NextBatchIndex)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("aggregation batch %s[%d]: %w", jobID, stepIndex, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load aggregation batch %s[%d]: %w", jobID, stepIndex, err)
	}
	b.JobID = jobID
	b.StepIndex = stepIndex
	b.MinSortIndex = minSortIndex
	return &b, nil
}

// SaveAggregationBatch upserts the pending buffer for (jobID, StepIndex).
func (s *Store) SaveAggregationBatch(ctx context.Context, b *domain.AggregationBatch) error {
	id, err := uuidParam(b.JobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO aggregation_batches (job_id, step_index, pending_urls, pending_sizes,
			pending_size_bytes, min_sort_index, all_upstream_complete, next_batch_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id, step_index) DO UPDATE SET
			pending_urls = EXCLUDED.pending_urls,
			pending_sizes = EXCLUDED.pending_sizes,
			pending_size_bytes = EXCLUDED.pending_size_bytes,
			min_sort_index = EXCLUDED.min_sort_index,
			all_upstream_complete = EXCLUDED.all_upstream_complete,
			next_batch_index = EXCLUDED.next_batch_index
	`, id, b.StepIndex, b.PendingURLs, b.PendingSizes, b.PendingSizeBytes, b.MinSortIndex,
		b.AllUpstreamComplete, b.NextBatchIndex)
	if err != nil {
		return fmt.Errorf("failed to save aggregation batch %s[%d]: %w", b.JobID, b.StepIndex, err)
	}
	return nil
}
