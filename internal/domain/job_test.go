package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_ShrinkGranules(t *testing.T) {
	tests := []struct {
		name      string
		current   int
		hits      int
		wantOK    bool
		wantFinal int
	}{
		{"shrink accepted", 10, 6, true, 6},
		{"equal is not a shrink", 10, 10, false, 10},
		{"growth ignored", 10, 20, false, 10},
		{"shrink to zero", 10, 0, true, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := &Job{NumInputGranules: tc.current}
			got := j.ShrinkGranules(tc.hits)
			assert.Equal(t, tc.wantOK, got)
			assert.Equal(t, tc.wantFinal, j.NumInputGranules)
		})
	}
}

func TestJob_CompleteBatch_ProgressTracksLeafStepWorkItemCount(t *testing.T) {
	// A paginator step and a leaf step can both have WorkItemCount>0 at the
	// same time; only the completing leaf step's own WorkItemCount is the
	// correct progress denominator (spec §4.6: "job.completeBatch(step.
	// workItemCount)"), not the number of steps with WorkItemCount>0.
	j := &Job{}

	j.CompleteBatch(4)
	require.Equal(t, 1, j.CompletedBatches)
	require.Equal(t, 4, j.ExpectedBatches)
	require.Equal(t, 25, j.Progress)

	j.CompleteBatch(4)
	require.Equal(t, 2, j.CompletedBatches)
	require.Equal(t, 50, j.Progress, "only half of the leaf items have completed")

	j.CompleteBatch(4)
	j.CompleteBatch(4)
	require.Equal(t, 4, j.CompletedBatches)
	require.Equal(t, 100, j.Progress)
}

func TestJob_CompleteBatch_ZeroExpectedYieldsZeroProgress(t *testing.T) {
	j := &Job{}
	j.CompleteBatch(0)
	assert.Equal(t, 0, j.Progress)
}

func TestJob_CompleteBatch_NeverExceedsOneHundred(t *testing.T) {
	j := &Job{}
	j.CompleteBatch(1)
	j.CompleteBatch(1)
	j.CompleteBatch(1)
	assert.Equal(t, 100, j.Progress)
}

func TestJob_Finalize(t *testing.T) {
	tests := []struct {
		name     string
		hasError bool
		hasLink  bool
		want     JobStatus
	}{
		{"error and link", true, true, JobCompleteWithErrors},
		{"error only", true, false, JobFailed},
		{"link only", false, true, JobSuccessful},
		{"neither", false, false, JobSuccessful},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := &Job{}
			j.Finalize(tc.hasError, tc.hasLink)
			assert.Equal(t, tc.want, j.Status)
			assert.Equal(t, 100, j.Progress)
		})
	}
}

func TestJob_PauseForPreview(t *testing.T) {
	j := &Job{Status: JobPreviewing}
	require.True(t, j.PauseForPreview())
	require.Equal(t, JobPaused, j.Status)

	// Not previewing: no-op.
	j2 := &Job{Status: JobRunning}
	require.False(t, j2.PauseForPreview())
	require.Equal(t, JobRunning, j2.Status)
}

func TestJob_Fail(t *testing.T) {
	j := &Job{Status: JobRunning}
	j.Fail("catalog unreachable")
	assert.Equal(t, JobFailed, j.Status)
	assert.Equal(t, "catalog unreachable", j.Message)
}

func TestJob_Cancel(t *testing.T) {
	j := &Job{Status: JobRunning}
	j.Cancel()
	assert.Equal(t, JobCanceled, j.Status)
}
