package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rezkam/mono/internal/application/ports"
)

// TryAcquireExclusiveRun implements ports.Coordinator, adapted from the
// teacher's GenerationCoordinator.TryAcquireExclusiveRun
// (internal/application/worker/coordinator.go): a single row per runType
// in exclusive_runs acts as the lease, claimed via an upsert that only
// takes effect when no unexpired lease exists.
func (s *Store) TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (func(), bool, error) {
	expiresAt := time.Now().UTC().Add(leaseDuration)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO exclusive_runs (run_type, holder_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_type) DO UPDATE SET holder_id = EXCLUDED.holder_id, expires_at = EXCLUDED.expires_at
		WHERE exclusive_runs.expires_at < now()
	`, runType, holderID, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", runType, err)
	}
	if tag.RowsAffected() == 0 {
		return func() {}, false, nil
	}

	release := func() {
		_, _ = s.pool.Exec(context.Background(), `
			DELETE FROM exclusive_runs WHERE run_type = $1 AND holder_id = $2
		`, runType, holderID)
	}
	return release, true, nil
}

var _ ports.Coordinator = (*Store)(nil)
