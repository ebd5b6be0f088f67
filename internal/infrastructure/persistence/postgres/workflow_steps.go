package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rezkam/mono/internal/domain"
)

// CreateWorkflowStep inserts a new workflow step row.
func (s *Store) CreateWorkflowStep(ctx context.Context, step *domain.WorkflowStep) error {
	jobID, err := uuidParam(step.JobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_steps (job_id, step_index, service_id, work_item_count,
			completed_count, has_aggregated_output, is_batched, is_sequential)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, jobID, step.StepIndex, step.ServiceID, step.WorkItemCount, step.CompletedCount,
		step.HasAggregatedOutput, step.IsBatched, step.IsSequential)
	if err != nil {
		return fmt.Errorf("failed to create workflow step %s[%d]: %w", step.JobID, step.StepIndex, err)
	}
	return nil
}

// GetWorkflowStep retrieves one step of a job.
func (s *Store) GetWorkflowStep(ctx context.Context, jobID string, stepIndex int) (*domain.WorkflowStep, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT job_id, step_index, service_id, work_item_count, completed_count,
			has_aggregated_output, is_batched, is_sequential
		FROM workflow_steps WHERE job_id = $1 AND step_index = $2
	`, id, stepIndex)

	return scanWorkflowStep(row)
}

func scanWorkflowStep(row pgx.Row) (*domain.WorkflowStep, error) {
	var (
		dbJobID pgtype.UUID
		step    domain.WorkflowStep
	)
	err := row.Scan(&dbJobID, &step.StepIndex, &step.ServiceID, &step.WorkItemCount, &step.CompletedCount,
		&step.HasAggregatedOutput, &step.IsBatched, &step.IsSequential)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("workflow step: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan workflow step: %w", err)
	}
	step.JobID = uuidToString(dbJobID)
	return &step, nil
}

// ListWorkflowSteps returns every step of a job ordered by step index.
func (s *Store) ListWorkflowSteps(ctx context.Context, jobID string) ([]*domain.WorkflowStep, error) {
	id, err := uuidParam(jobID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT job_id, step_index, service_id, work_item_count, completed_count,
			has_aggregated_output, is_batched, is_sequential
		FROM workflow_steps WHERE job_id = $1 ORDER BY step_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow steps for %s: %w", jobID, err)
	}
	defer rows.Close()

	var steps []*domain.WorkflowStep
	for rows.Next() {
		step, err := scanWorkflowStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// UpdateWorkflowStep persists the mutable fields of step (WorkItemCount
// and CompletedCount; the rest are set once at creation).
func (s *Store) UpdateWorkflowStep(ctx context.Context, step *domain.WorkflowStep) error {
	jobID, err := uuidParam(step.JobID)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE workflow_steps SET work_item_count = $3, completed_count = $4
		WHERE job_id = $1 AND step_index = $2
	`, jobID, step.StepIndex, step.WorkItemCount, step.CompletedCount)
	if err != nil {
		return fmt.Errorf("failed to update workflow step %s[%d]: %w", step.JobID, step.StepIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow step %s[%d]: %w", step.JobID, step.StepIndex, domain.ErrNotFound)
	}
	return nil
}
