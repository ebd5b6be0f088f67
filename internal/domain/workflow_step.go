package domain

// WorkflowStep is one stage of a job's linear service chain. StepIndex 1 is
// always the paginator step (spec §4.5).
type WorkflowStep struct {
	JobID               string
	StepIndex           int
	ServiceID           string
	WorkItemCount       int // expected total; recomputed as NumInputGranules changes
	HasAggregatedOutput bool
	IsBatched           bool
	IsSequential        bool

	// CompletedCount tracks items in a completed status at this step; used
	// as the gate for non-batched aggregation (spec §4.3) and for leaf
	// finalization (spec §4.6). Not part of the spec's literal column list
	// but required to evaluate `completedCount == step.workItemCount`
	// without a live COUNT query on every transition.
	CompletedCount int
}

// RecomputeWorkItemCount applies the per-step formula from spec §4.5.
func RecomputeWorkItemCount(step *WorkflowStep, numInputGranules, cmrMaxPageSize int) {
	switch {
	case step.StepIndex == 1:
		step.WorkItemCount = ceilDiv(numInputGranules, cmrMaxPageSize)
	case step.HasAggregatedOutput && !step.IsBatched:
		step.WorkItemCount = 1
	default:
		step.WorkItemCount = numInputGranules
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// GateReached reports whether every expected item at this step has reached
// a completed status - the authoritative condition for non-batched
// aggregation and leaf finalization (spec §4.3, §4.4).
func (s *WorkflowStep) GateReached() bool {
	return s.CompletedCount >= s.WorkItemCount
}
