// Package downstream implements fan-out, aggregation, batched aggregation,
// and leaf handling (spec §4.3, §4.4, §4.6): what happens to the rest of
// the pipeline when one upstream WorkItem finishes. There is no direct
// teacher analog for this component; it is grounded on the teacher's
// transactional-store-callback pattern (Store.Atomic in
// internal/infrastructure/persistence/postgres/store.go) for the
// "exactly-once, transactional" emission requirement every branch below
// needs.
package downstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/rezkam/mono/internal/apperrors"
	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
)

// Config bounds the catalog-pagination and batching behavior, sourced
// from internal/config.OrchestratorConfig.
type Config struct {
	AggregateMaxPageSize int
	MaxBatchInputs       int
	MaxBatchSizeBytes    int64
}

// Completion describes one upstream WorkItem that just reached a terminal
// status, the input to every branch of spec §4.3/§4.4/§4.6.
type Completion struct {
	Item     *domain.WorkItem
	Job      *domain.Job
	Step     *domain.WorkflowStep
	NextStep *domain.WorkflowStep // nil if Item's step is the last one
	Results  []string
	Sizes    []int64
}

// Generate runs the appropriate downstream branch for one completed
// upstream item, inside the caller's transaction. It never starts its own
// transaction: callers (internal/application/ingest) own the Job->WorkItem
// lock ordering of spec §5.
func Generate(ctx context.Context, tx ports.Repository, bs domain.BlobStore, cfg Config, c Completion) error {
	if c.Item.Status == domain.ItemSuccessful && len(c.Results) > 0 {
		if _, err := writeItemCatalog(ctx, bs, c.Job.ID, c.Item.ID, c.Results); err != nil {
			return apperrors.Transient(fmt.Errorf("failed to record results for %s: %w", c.Item.ID, err))
		}
	}

	if c.NextStep == nil {
		return Finalize(ctx, tx, c)
	}

	switch {
	case !c.NextStep.HasAggregatedOutput:
		return fanOut(ctx, tx, c)
	case !c.NextStep.IsBatched:
		return aggregateUnbatched(ctx, tx, bs, cfg, c)
	default:
		return aggregateBatched(ctx, tx, bs, cfg, c)
	}
}

// fanOut implements spec §4.3's hasAggregatedOutput=false branch: one
// READY WorkItem per result, sharing jobID and the next step's index.
func fanOut(ctx context.Context, tx ports.Repository, c Completion) error {
	if c.Item.Status != domain.ItemSuccessful || len(c.Results) == 0 {
		return nil
	}

	baseSort := c.Item.SortIndex
	if len(c.Results) > 1 {
		maxSort, err := maxSortIndex(ctx, tx, c.Job.ID, c.NextStep.StepIndex)
		if err != nil {
			return err
		}
		baseSort = maxSort + 1
	}

	for i, href := range c.Results {
		item := &domain.WorkItem{
			JobID:           c.Job.ID,
			StepIndex:       c.NextStep.StepIndex,
			ServiceID:       c.NextStep.ServiceID,
			Status:          domain.ItemReady,
			CatalogLocation: href,
			SortIndex:       baseSort + int64(i),
			ParentSortIndex: c.Item.SortIndex,
		}
		if err := tx.CreateWorkItem(ctx, item); err != nil {
			return fmt.Errorf("failed to fan out result %d for %s: %w", i, c.Item.ID, err)
		}
	}

	return adjustUserWorkOnReady(ctx, tx, c.Job.ID, c.NextStep.ServiceID, c.Job.Username, c.Job.IsAsync, len(c.Results))
}

func maxSortIndex(ctx context.Context, tx ports.Repository, jobID string, stepIndex int) (int64, error) {
	items, err := tx.ListWorkItemsByStep(ctx, jobID, stepIndex)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing items for %s[%d]: %w", jobID, stepIndex, err)
	}
	var max int64 = -1
	for _, it := range items {
		if it.SortIndex > max {
			max = it.SortIndex
		}
	}
	return max, nil
}

// aggregateUnbatched implements spec §4.3's hasAggregatedOutput=true,
// isBatched=false branch: wait for the gate, then concatenate every
// result catalog produced at the current step into one aggregating item.
func aggregateUnbatched(ctx context.Context, tx ports.Repository, bs domain.BlobStore, cfg Config, c Completion) error {
	if !c.Step.GateReached() {
		return nil
	}

	items, err := tx.ListWorkItemsByStep(ctx, c.Job.ID, c.Step.StepIndex)
	if err != nil {
		return fmt.Errorf("failed to list completed items for %s[%d]: %w", c.Job.ID, c.Step.StepIndex, err)
	}

	var hrefs []string
	for _, it := range items {
		if it.Status != domain.ItemSuccessful {
			continue
		}
		itemHrefs, err := readItemHrefs(ctx, bs, c.Job.ID, it.ID)
		if err != nil {
			return apperrors.Transient(fmt.Errorf("failed to read result catalog for %s: %w", it.ID, err))
		}
		hrefs = append(hrefs, itemHrefs...)
	}

	aggItem := &domain.WorkItem{
		JobID:     c.Job.ID,
		StepIndex: c.NextStep.StepIndex,
		ServiceID: c.NextStep.ServiceID,
		Status:    domain.ItemReady,
		SortIndex: 0,
	}
	if err := tx.CreateWorkItem(ctx, aggItem); err != nil {
		return fmt.Errorf("failed to create aggregating item for %s[%d]: %w", c.Job.ID, c.NextStep.StepIndex, err)
	}

	catalogURL, err := writePaginatedCatalogs(ctx, bs, aggregateOutputPrefix(c.Job.ID, aggItem.ID), aggItem.ID, hrefs, cfg.AggregateMaxPageSize)
	if err != nil {
		return apperrors.Transient(fmt.Errorf("failed to write aggregate catalog for %s: %w", aggItem.ID, err))
	}
	aggItem.CatalogLocation = catalogURL
	if err := tx.UpdateWorkItem(ctx, aggItem); err != nil {
		return fmt.Errorf("failed to attach aggregate catalog to %s: %w", aggItem.ID, err)
	}

	return adjustUserWorkOnReady(ctx, tx, c.Job.ID, c.NextStep.ServiceID, c.Job.Username, c.Job.IsAsync, 1)
}

// aggregateBatched implements spec §4.4: accumulate results into a
// per-(job,nextStep) buffer, greedily flushing batches that cross either
// bound, with a final flush once every upstream item has completed.
func aggregateBatched(ctx context.Context, tx ports.Repository, bs domain.BlobStore, cfg Config, c Completion) error {
	batch, err := tx.GetAggregationBatch(ctx, c.Job.ID, c.NextStep.StepIndex)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to load aggregation batch for %s[%d]: %w", c.Job.ID, c.NextStep.StepIndex, err)
		}
		batch = &domain.AggregationBatch{JobID: c.Job.ID, StepIndex: c.NextStep.StepIndex}
	}

	if c.Item.Status == domain.ItemSuccessful {
		for i, href := range c.Results {
			size := int64(0)
			if i < len(c.Sizes) {
				size = c.Sizes[i]
			}
			if batch.WouldOverflow(size, cfg.MaxBatchInputs, cfg.MaxBatchSizeBytes) {
				if err := flushBatch(ctx, tx, bs, cfg, c, batch); err != nil {
					return err
				}
			}
			batch.Append(href, size, c.Item.SortIndex)
		}
	}

	batch.AllUpstreamComplete = c.Step.GateReached()
	if batch.ReadyToFlush() {
		if err := flushBatch(ctx, tx, bs, cfg, c, batch); err != nil {
			return err
		}
	}

	if err := tx.SaveAggregationBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to persist aggregation batch for %s[%d]: %w", c.Job.ID, c.NextStep.StepIndex, err)
	}
	return nil
}

func flushBatch(ctx context.Context, tx ports.Repository, bs domain.BlobStore, cfg Config, c Completion, batch *domain.AggregationBatch) error {
	urls, _, sortIndex, batchIndex := batch.Flush()
	if len(urls) == 0 {
		return nil
	}

	item := &domain.WorkItem{
		JobID:     c.Job.ID,
		StepIndex: c.NextStep.StepIndex,
		ServiceID: c.NextStep.ServiceID,
		Status:    domain.ItemReady,
		SortIndex: sortIndex,
	}
	if err := tx.CreateWorkItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create batch item for %s[%d]: %w", c.Job.ID, c.NextStep.StepIndex, err)
	}

	prefix := fmt.Sprintf("%s/batch-%d-%d/outputs/", c.Job.ID, c.NextStep.StepIndex, batchIndex)
	catalogURL, err := writePaginatedCatalogs(ctx, bs, prefix, item.ID, urls, cfg.AggregateMaxPageSize)
	if err != nil {
		return apperrors.Transient(fmt.Errorf("failed to write batch catalog for %s: %w", item.ID, err))
	}
	item.CatalogLocation = catalogURL
	if err := tx.UpdateWorkItem(ctx, item); err != nil {
		return fmt.Errorf("failed to attach batch catalog to %s: %w", item.ID, err)
	}

	return adjustUserWorkOnReady(ctx, tx, c.Job.ID, c.NextStep.ServiceID, c.Job.Username, c.Job.IsAsync, 1)
}

// adjustUserWorkOnReady applies the UserWork readyCount += n delta for
// newly-created items, creating the ledger row if it does not already
// exist (spec §4.3: "UserWork readyCount += |R|").
func adjustUserWorkOnReady(ctx context.Context, tx ports.Repository, jobID, serviceID, username string, isAsync bool, n int) error {
	uw, err := tx.GetUserWork(ctx, jobID, serviceID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to load user work for %s/%s: %w", jobID, serviceID, err)
		}
		uw = &domain.UserWork{JobID: jobID, ServiceID: serviceID, Username: username, IsAsync: isAsync}
	}
	uw.OnReady(n)
	if err := tx.UpsertUserWork(ctx, uw); err != nil {
		return fmt.Errorf("failed to update user work for %s/%s: %w", jobID, serviceID, err)
	}
	return nil
}
