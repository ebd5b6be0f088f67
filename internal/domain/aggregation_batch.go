package domain

// AggregationBatch is the per-(job, nextStep) pending buffer that batched
// aggregation (spec §4.4) accumulates upstream result URLs into before
// flushing a downstream WorkItem. It is durable store state, not derived:
// unlike UserWork it cannot be rebuilt from WorkItems alone, since flushed
// batches leave no trace on the upstream rows.
type AggregationBatch struct {
	JobID               string
	StepIndex           int
	PendingURLs         []string
	PendingSizes        []int64
	PendingSizeBytes    int64
	MinSortIndex        *int64
	AllUpstreamComplete bool
	NextBatchIndex      int
}

// Append adds one upstream result to the pending buffer, tracking the
// smallest contributing sortIndex so a flushed batch can carry it forward
// (spec §4.4: "sortIndex equal to the smallest upstream sortIndex in the
// batch").
func (b *AggregationBatch) Append(url string, size int64, upstreamSortIndex int64) {
	b.PendingURLs = append(b.PendingURLs, url)
	b.PendingSizes = append(b.PendingSizes, size)
	b.PendingSizeBytes += size
	if b.MinSortIndex == nil || upstreamSortIndex < *b.MinSortIndex {
		v := upstreamSortIndex
		b.MinSortIndex = &v
	}
}

// WouldOverflow reports whether adding one more result of addedSize bytes
// would push the buffer past either bound, meaning the current buffer must
// be flushed first (spec §4.4: "greedily emit batches while the buffer
// exceeds either bound"). Checking before the add, rather than after, is
// what makes the byte bound bind ahead of the count bound in the boundary
// scenario of a fixed per-item size (spec §8 scenario 3).
func (b *AggregationBatch) WouldOverflow(addedSize int64, maxInputs int, maxSizeBytes int64) bool {
	if len(b.PendingURLs) == 0 {
		return false
	}
	if maxInputs > 0 && len(b.PendingURLs)+1 > maxInputs {
		return true
	}
	if maxSizeBytes > 0 && b.PendingSizeBytes+addedSize > maxSizeBytes {
		return true
	}
	return false
}

// ReadyToFlush reports whether the buffer should flush as a final
// under-full batch because upstream is complete (spec §4.4 step 3).
func (b *AggregationBatch) ReadyToFlush() bool {
	return len(b.PendingURLs) > 0 && b.AllUpstreamComplete
}

// Flush drains the buffer, returning the batch contents and its assigned
// sortIndex, and resets the buffer for the next batch.
func (b *AggregationBatch) Flush() (urls []string, sizes []int64, sortIndex int64, batchIndex int) {
	urls, sizes = b.PendingURLs, b.PendingSizes
	if b.MinSortIndex != nil {
		sortIndex = *b.MinSortIndex
	}
	batchIndex = b.NextBatchIndex

	b.PendingURLs = nil
	b.PendingSizes = nil
	b.PendingSizeBytes = 0
	b.MinSortIndex = nil
	b.NextBatchIndex++

	return urls, sizes, sortIndex, batchIndex
}
