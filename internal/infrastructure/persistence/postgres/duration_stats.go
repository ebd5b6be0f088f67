package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
)

// PercentileDuration implements ports.DurationStats using Postgres's
// percentile_cont over the most recent successful completions of
// (jobID, serviceID), feeding the failer's adaptive-expiry threshold
// (spec §4.8).
func (s *Store) PercentileDuration(ctx context.Context, jobID, serviceID string, percentile float64, limit int) (time.Duration, bool, error) {
	jid, err := uuidParam(jobID)
	if err != nil {
		return 0, false, err
	}

	var ms *float64
	err = s.db.QueryRow(ctx, `
		SELECT percentile_cont($1) WITHIN GROUP (ORDER BY duration_ms)
		FROM (
			SELECT duration_ms FROM work_items
			WHERE job_id = $2 AND service_id = $3 AND status = $4
			ORDER BY updated_at DESC
			LIMIT $5
		) recent
	`, percentile, jid, serviceID, string(domain.ItemSuccessful), limit).Scan(&ms)
	if err != nil {
		return 0, false, fmt.Errorf("failed to compute percentile duration for %s/%s: %w", jobID, serviceID, err)
	}
	if ms == nil {
		return 0, false, nil
	}
	return time.Duration(*ms) * time.Millisecond, true, nil
}

var _ ports.DurationStats = (*Store)(nil)
