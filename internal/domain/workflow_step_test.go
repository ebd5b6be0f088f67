package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecomputeWorkItemCount(t *testing.T) {
	tests := []struct {
		name             string
		step             WorkflowStep
		numInputGranules int
		cmrMaxPageSize   int
		want             int
	}{
		{"paginator step divides by page size", WorkflowStep{StepIndex: 1}, 10, 4, 3},
		{"paginator step exact multiple", WorkflowStep{StepIndex: 1}, 8, 4, 2},
		{"paginator step zero granules", WorkflowStep{StepIndex: 1}, 0, 4, 0},
		{"non-batched aggregator collapses to one item", WorkflowStep{StepIndex: 2, HasAggregatedOutput: true, IsBatched: false}, 10, 4, 1},
		{"fan-out step mirrors granule count", WorkflowStep{StepIndex: 2, HasAggregatedOutput: false}, 10, 4, 10},
		{"batched aggregator mirrors granule count", WorkflowStep{StepIndex: 2, HasAggregatedOutput: true, IsBatched: true}, 10, 4, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			step := tc.step
			RecomputeWorkItemCount(&step, tc.numInputGranules, tc.cmrMaxPageSize)
			assert.Equal(t, tc.want, step.WorkItemCount)
		})
	}
}

func TestWorkflowStep_GateReached(t *testing.T) {
	tests := []struct {
		name           string
		completedCount int
		workItemCount  int
		want           bool
	}{
		{"below expected", 2, 4, false},
		{"exactly expected", 4, 4, true},
		{"above expected", 5, 4, true},
		{"zero expected always reached", 0, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &WorkflowStep{CompletedCount: tc.completedCount, WorkItemCount: tc.workItemCount}
			assert.Equal(t, tc.want, s.GateReached())
		})
	}
}
