package downstream

import (
	"context"
	"fmt"

	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
)

// Finalize implements spec §4.6's leaf handling: append JobLinks, advance
// job progress, and finalize or preview-pause the job when appropriate.
// Called by Generate when the completed item's step has no next step.
func Finalize(ctx context.Context, tx ports.Repository, c Completion) error {
	if c.Item.Status == domain.ItemSuccessful {
		for _, href := range c.Results {
			link := &domain.JobLink{JobID: c.Job.ID, Href: href, Rel: "data"}
			if err := tx.AddJobLink(ctx, link); err != nil {
				return fmt.Errorf("failed to append job link for %s: %w", c.Item.ID, err)
			}
		}
	}

	c.Job.CompleteBatch(c.Step.WorkItemCount)

	if c.Job.PauseForPreview() {
		return tx.UpdateJob(ctx, c.Job)
	}

	if c.Step.GateReached() && c.NextStep == nil {
		hasError, err := jobHasError(ctx, tx, c.Job.ID)
		if err != nil {
			return err
		}
		hasLink, err := jobHasLink(ctx, tx, c.Job.ID)
		if err != nil {
			return err
		}
		c.Job.Finalize(hasError, hasLink)
	}

	return tx.UpdateJob(ctx, c.Job)
}

func jobHasError(ctx context.Context, tx ports.Repository, jobID string) (bool, error) {
	n, err := tx.CountJobErrors(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to count job errors for %s: %w", jobID, err)
	}
	return n > 0, nil
}

func jobHasLink(ctx context.Context, tx ports.Repository, jobID string) (bool, error) {
	n, err := tx.CountJobLinks(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to count job links for %s: %w", jobID, err)
	}
	return n > 0, nil
}
